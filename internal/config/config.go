package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                 string   `yaml:"port"`
	LogLevel             string   `yaml:"logLevel"`
	DatabaseURL          string   `yaml:"databaseURL"`
	MinioEndpoint        string   `yaml:"minioEndpoint"`
	MinioAccessKey       string   `yaml:"minioAccessKey"`
	MinioSecretKey       string   `yaml:"minioSecretKey"`
	MinioBucket          string   `yaml:"minioBucket"`
	MinioUseSSL          bool     `yaml:"minioUseSSL"`
	RedisAddr            string   `yaml:"redisAddr"`
	RedisPassword        string   `yaml:"redisPassword"`
	ClassifierURL        string   `yaml:"classifierURL"`
	ActorTokenSecret     string   `yaml:"actorTokenSecret"`
	VoteRateLimit        int      `yaml:"voteRateLimit"`
	VoteRateWindowSec    int      `yaml:"voteRateWindowSec"`
	PredictRateLimit     int      `yaml:"predictRateLimit"`
	PredictRateWindowSec int      `yaml:"predictRateWindowSec"`
	MinVotesPopular      int      `yaml:"minVotesPopular"`
	MaxUploadBytes       int64    `yaml:"maxUploadBytes"`
	AllowedExtensions    []string `yaml:"allowedExtensions"`
	TrustedProxies       []string `yaml:"trustedProxies"`
}

// VoteRateWindow returns the vote rate-limit window as a duration.
func (c FileConfig) VoteRateWindow() time.Duration {
	return time.Duration(c.VoteRateWindowSec) * time.Second
}

// PredictRateWindow returns the predict rate-limit window as a duration.
func (c FileConfig) PredictRateWindow() time.Duration {
	return time.Duration(c.PredictRateWindowSec) * time.Second
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("CLASSIFIER_URL"); v != "" {
		cfg.ClassifierURL = v
	}
	if v := os.Getenv("FLAVORSNAP_ACTOR_TOKEN_SECRET"); v != "" {
		cfg.ActorTokenSecret = v
	}
	if v := os.Getenv("FLAVORSNAP_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("FLAVORSNAP_ALLOWED_EXTENSIONS"); v != "" {
		cfg.AllowedExtensions = splitCSV(v)
	}
	if v := os.Getenv("FLAVORSNAP_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.VoteRateLimit <= 0 {
		cfg.VoteRateLimit = 30
	}
	if cfg.VoteRateWindowSec <= 0 {
		cfg.VoteRateWindowSec = 60
	}
	if cfg.PredictRateLimit <= 0 {
		cfg.PredictRateLimit = 60
	}
	if cfg.PredictRateWindowSec <= 0 {
		cfg.PredictRateWindowSec = 60
	}
	if cfg.MinVotesPopular <= 0 {
		cfg.MinVotesPopular = 5
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp"}
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml)")
	}
	if cfg.MinioEndpoint == "" {
		return errors.New("config: minioEndpoint is required (set in config.yaml)")
	}
	if cfg.MinioAccessKey == "" {
		return errors.New("config: minioAccessKey is required (set in config.yaml)")
	}
	if cfg.MinioSecretKey == "" {
		return errors.New("config: minioSecretKey is required (set in config.yaml)")
	}
	if cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required (set in config.yaml)")
	}
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml)")
	}
	if cfg.ClassifierURL == "" {
		return errors.New("config: classifierURL is required (set in config.yaml)")
	}
	if cfg.ActorTokenSecret == "" {
		return errors.New("config: actorTokenSecret is required (set in config.yaml or FLAVORSNAP_ACTOR_TOKEN_SECRET)")
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
