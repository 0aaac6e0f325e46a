package app

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"flavorsnap/internal/classifier"
	"flavorsnap/internal/util"
	"flavorsnap/pkg/domain"
	"flavorsnap/pkg/query"
	"flavorsnap/pkg/storage"
	"flavorsnap/pkg/store"
)

const (
	maxNameLen        = 100
	maxDescriptionLen = 1000
	maxModeratorNotes = 1000

	// DefaultPopularLimit caps the popular listing when the caller does not
	// ask for a size.
	DefaultPopularLimit = 20
	// MaxPopularLimit is the hard cap on the popular listing.
	MaxPopularLimit = 50
	// DefaultListLimit is the page size of the plain categories listing.
	DefaultListLimit = 50

	// presignExpiry bounds how long image links handed to clients and
	// training workers stay valid.
	presignExpiry = 15 * time.Minute
)

// Classifier is the external model service collaborator.
type Classifier interface {
	Classify(ctx context.Context, filename string, image io.Reader) (classifier.Result, error)
	Healthy(ctx context.Context) bool
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	Objects        storage.ObjectStore
	Classifier     Classifier
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	ClassifierURL  string
}

// App is the core application service wiring together storage, the vote
// ledger, moderation, the training queue and the prediction history.
type App struct {
	store      store.Store
	objects    storage.ObjectStore
	classifier Classifier
}

// ImageUpload is one uploaded image file.
type ImageUpload struct {
	Filename string
	Reader   io.Reader
	Size     int64
}

// New constructs the application. The store, object store and classifier may
// be injected (tests); missing pieces are built from config.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, err
		}
	}
	model := cfg.Classifier
	if model == nil {
		if cfg.ClassifierURL == "" {
			return nil, fmt.Errorf("classifier URL required")
		}
		model = classifier.NewClient(cfg.ClassifierURL)
	}
	return &App{
		store:      dataStore,
		objects:    objects,
		classifier: model,
	}, nil
}

// SubmitCategory validates and stores a new category submission together
// with its example images.
func (a *App) SubmitCategory(ctx context.Context, name, description, submittedBy string, images []ImageUpload) (domain.CategorySubmission, error) {
	name = strings.TrimSpace(name)
	description = strings.TrimSpace(description)
	submittedBy = strings.TrimSpace(submittedBy)
	switch {
	case name == "":
		return domain.CategorySubmission{}, domain.Validationf("name is required")
	case len(name) > maxNameLen:
		return domain.CategorySubmission{}, domain.Validationf("name exceeds %d characters", maxNameLen)
	case description == "":
		return domain.CategorySubmission{}, domain.Validationf("description is required")
	case len(description) > maxDescriptionLen:
		return domain.CategorySubmission{}, domain.Validationf("description exceeds %d characters", maxDescriptionLen)
	case submittedBy == "":
		return domain.CategorySubmission{}, domain.Validationf("submitted_by is required")
	case len(images) == 0:
		return domain.CategorySubmission{}, domain.Validationf("at least one example image is required")
	}

	id := util.NewID()
	keys := make([]string, 0, len(images))
	for i, img := range images {
		key := buildImageKey(id, i, img.Filename)
		if err := a.objects.Put(ctx, key, img.Reader, img.Size, contentTypeFor(img.Filename)); err != nil {
			a.removeObjects(ctx, keys)
			return domain.CategorySubmission{}, domain.StorageError(err)
		}
		keys = append(keys, key)
	}

	submission := domain.CategorySubmission{
		ID:          id,
		Name:        name,
		Description: description,
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC(),
		Status:      domain.CategoryPending,
		Images:      keys,
	}
	if err := a.store.SaveCategory(submission); err != nil {
		a.removeObjects(ctx, keys)
		return domain.CategorySubmission{}, err
	}
	return submission, nil
}

// GetCategory retrieves a submission by id.
func (a *App) GetCategory(id string) (domain.CategorySubmission, error) {
	c, ok, err := a.store.GetCategory(id)
	if err != nil {
		return domain.CategorySubmission{}, err
	}
	if !ok {
		return domain.CategorySubmission{}, domain.NotFoundf("category %s not found", id)
	}
	return c, nil
}

// ImageURLs resolves stored image keys into short-lived download URLs.
// The records keep only opaque keys; links are minted on the way out.
func (a *App) ImageURLs(ctx context.Context, keys []string) ([]string, error) {
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		url, err := a.objects.PresignGet(ctx, key, presignExpiry)
		if err != nil {
			return nil, domain.StorageError(err)
		}
		urls = append(urls, url)
	}
	return urls, nil
}

// ListCategories lists submissions newest first, optionally restricted to
// one status, with limit/offset paging.
func (a *App) ListCategories(statusRaw string, limit, offset int) (query.Page[domain.CategorySubmission], error) {
	var status domain.CategoryStatus
	if strings.TrimSpace(statusRaw) != "" {
		parsed, ok := domain.ParseCategoryStatus(statusRaw)
		if !ok {
			return query.Page[domain.CategorySubmission]{}, domain.Validationf("unknown status %q", statusRaw)
		}
		status = parsed
	}
	items, err := a.store.ListCategories(status)
	if err != nil {
		return query.Page[domain.CategorySubmission]{}, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return query.List(items, categorySchema, query.Params{
		Limit:  limit,
		Offset: offset,
	}), nil
}

// CastVote records or changes a user's vote on a pending submission.
func (a *App) CastVote(categoryID, voterID, voteRaw string) (domain.CategorySubmission, error) {
	if strings.TrimSpace(voterID) == "" {
		return domain.CategorySubmission{}, domain.Validationf("user_id is required")
	}
	vote, ok := domain.ParseVoteType(voteRaw)
	if !ok {
		return domain.CategorySubmission{}, domain.Validationf("vote_type must be upvote or downvote")
	}
	if err := a.store.CastVote(categoryID, voterID, vote, time.Now().UTC()); err != nil {
		return domain.CategorySubmission{}, err
	}
	return a.GetCategory(categoryID)
}

// Moderate applies a moderator decision to a pending submission.
func (a *App) Moderate(categoryID, moderatorID, actionRaw, notes string) (domain.CategorySubmission, error) {
	if strings.TrimSpace(moderatorID) == "" {
		return domain.CategorySubmission{}, domain.Validationf("moderator_id is required")
	}
	action, ok := domain.ParseModerationAction(actionRaw)
	if !ok {
		return domain.CategorySubmission{}, domain.Validationf("action must be approve or reject")
	}
	notes = strings.TrimSpace(notes)
	if len(notes) > maxModeratorNotes {
		return domain.CategorySubmission{}, domain.Validationf("notes exceed %d characters", maxModeratorNotes)
	}
	return a.store.Moderate(categoryID, moderatorID, action, notes, time.Now().UTC())
}

// ListPopular returns pending submissions with at least minVotes total votes,
// ordered by net votes descending, upvotes breaking ties.
func (a *App) ListPopular(minVotes, limit int) ([]domain.CategorySubmission, error) {
	if minVotes < 1 {
		minVotes = 1
	}
	if limit <= 0 {
		limit = DefaultPopularLimit
	}
	if limit > MaxPopularLimit {
		limit = MaxPopularLimit
	}
	pending, err := a.store.ListCategories(domain.CategoryPending)
	if err != nil {
		return nil, err
	}
	popular := pending[:0:0]
	for _, c := range pending {
		if c.VotesUp+c.VotesDown >= minVotes {
			popular = append(popular, c)
		}
	}
	sort.SliceStable(popular, func(i, j int) bool {
		ni := popular[i].VotesUp - popular[i].VotesDown
		nj := popular[j].VotesUp - popular[j].VotesDown
		if ni != nj {
			return ni > nj
		}
		if popular[i].VotesUp != popular[j].VotesUp {
			return popular[i].VotesUp > popular[j].VotesUp
		}
		return popular[i].ID < popular[j].ID
	})
	if len(popular) > limit {
		popular = popular[:limit]
	}
	return popular, nil
}

// Stats aggregates submission, vote and queue counts.
func (a *App) Stats() (domain.CategoryStats, error) {
	all, err := a.store.ListCategories("")
	if err != nil {
		return domain.CategoryStats{}, err
	}
	stats := domain.CategoryStats{TotalSubmissions: len(all)}
	for _, c := range all {
		switch c.Status {
		case domain.CategoryPending:
			stats.Pending++
		case domain.CategoryApproved:
			stats.Approved++
		case domain.CategoryRejected:
			stats.Rejected++
		case domain.CategoryInTraining:
			stats.InTraining++
		}
		stats.TotalVotesUp += c.VotesUp
		stats.TotalVotesDown += c.VotesDown
	}
	queue, err := a.store.ListTrainingQueue()
	if err != nil {
		return domain.CategoryStats{}, err
	}
	stats.TrainingQueueSize = len(queue)
	return stats, nil
}

// ListTrainingQueue returns jobs awaiting or undergoing training, oldest
// first, joined with the category fields workers need.
func (a *App) ListTrainingQueue() ([]domain.TrainingQueueItem, error) {
	return a.store.ListTrainingQueue()
}

// UpdateTrainingStatus applies a worker status report to a job.
func (a *App) UpdateTrainingStatus(jobID, statusRaw, errorMessage string) (domain.TrainingJob, error) {
	status, ok := domain.ParseTrainingStatus(statusRaw)
	if !ok {
		return domain.TrainingJob{}, domain.Validationf("unknown training status %q", statusRaw)
	}
	return a.store.UpdateTrainingStatus(jobID, status, strings.TrimSpace(errorMessage), time.Now().UTC())
}

// Classify stores the uploaded image, asks the model service for a
// prediction and appends it to the history.
func (a *App) Classify(ctx context.Context, filename string, image io.Reader, size int64, requestID string) (domain.Prediction, error) {
	id := util.NewID()
	key := buildPredictionKey(id, filename)
	if err := a.objects.Put(ctx, key, image, size, contentTypeFor(filename)); err != nil {
		return domain.Prediction{}, domain.StorageError(err)
	}
	obj, err := a.objects.Get(ctx, key)
	if err != nil {
		return domain.Prediction{}, domain.StorageError(err)
	}
	defer obj.Close()
	result, err := a.classifier.Classify(ctx, filepath.Base(filename), obj)
	if err != nil {
		_ = a.objects.Delete(ctx, key)
		return domain.Prediction{}, fmt.Errorf("classify image: %w", err)
	}
	prediction := domain.Prediction{
		ID:               id,
		Label:            result.Label,
		Confidence:       result.Confidence,
		AllPredictions:   result.AllPredictions,
		ImageKey:         key,
		RequestID:        requestID,
		ProcessingTimeMs: result.ProcessingTimeMs,
		CreatedAt:        time.Now().UTC(),
	}
	if err := a.store.SavePrediction(prediction); err != nil {
		return domain.Prediction{}, err
	}
	return prediction, nil
}

// ClassifierHealthy reports whether the model service answers its
// health probe.
func (a *App) ClassifierHealthy(ctx context.Context) bool {
	return a.classifier.Healthy(ctx)
}

// ListPredictions filters, sorts and pages the prediction history.
func (a *App) ListPredictions(p query.Params) (query.Page[domain.Prediction], error) {
	items, err := a.store.ListPredictions()
	if err != nil {
		return query.Page[domain.Prediction]{}, err
	}
	return query.List(items, predictionSchema, p), nil
}

func (a *App) removeObjects(ctx context.Context, keys []string) {
	for _, key := range keys {
		_ = a.objects.Delete(ctx, key)
	}
}

func contentTypeFor(filename string) string {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return contentType
}

func buildImageKey(categoryID string, index int, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "image"
	}
	return path.Join("categories", categoryID, fmt.Sprintf("%d_%s", index, name))
}

func buildPredictionKey(predictionID, filename string) string {
	name := sanitizeFilename(filepath.Base(filename))
	if name == "" {
		name = "image"
	}
	return path.Join("predictions", predictionID, name)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
