package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"flavorsnap/internal/actortoken"
	"flavorsnap/internal/app"
	"flavorsnap/internal/config"
	"flavorsnap/internal/ratelimit"
	"flavorsnap/internal/server"
	"flavorsnap/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	tokens, err := actortoken.NewManager(actortoken.Options{Secret: cfg.ActorTokenSecret})
	if err != nil {
		log.Fatalf("failed to init actor tokens: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	voteLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "flavorsnap:ratelimit:vote", cfg.VoteRateLimit, cfg.VoteRateWindow())
	if err != nil {
		log.Fatalf("failed to init vote rate limiter: %v", err)
	}
	predictLimiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "flavorsnap:ratelimit:predict", cfg.PredictRateLimit, cfg.PredictRateWindow())
	if err != nil {
		log.Fatalf("failed to init predict rate limiter: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:    cfg.DatabaseURL,
		MinioEndpoint:  cfg.MinioEndpoint,
		MinioAccessKey: cfg.MinioAccessKey,
		MinioSecretKey: cfg.MinioSecretKey,
		MinioBucket:    cfg.MinioBucket,
		MinioUseSSL:    cfg.MinioUseSSL,
		ClassifierURL:  cfg.ClassifierURL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:               appCore,
		Tokens:            tokens,
		VoteLimiter:       voteLimiter,
		PredictLimiter:    predictLimiter,
		TrustedProxies:    trusted,
		MinVotesPopular:   cfg.MinVotesPopular,
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AllowedExtensions: cfg.AllowedExtensions,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("flavorsnap server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
