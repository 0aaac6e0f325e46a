package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"flavorsnap/pkg/domain"
)

const migrateLockID int64 = 52905290

var queueStatuses = []string{string(domain.TrainingQueued), string(domain.TrainingRunning)}

// GormStore implements Store using GORM + Postgres. Composite operations
// run inside transactions with the submission/job row locked, so votes and
// moderation on the same record serialize on the database while different
// records proceed on independent rows.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory
// lock so multiple replicas can start concurrently.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		return tx.AutoMigrate(&CategoryModel{}, &VoteModel{}, &TrainingJobModel{}, &PredictionModel{})
	}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveCategory stores or updates a submission.
func (s *GormStore) SaveCategory(c domain.CategorySubmission) error {
	model := categoryToModel(c)
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "status", "images", "votes_up", "votes_down", "moderator_notes", "approved_by", "approved_at"}),
	}).Create(&model).Error
	if err != nil {
		return domain.StorageError(err)
	}
	return nil
}

// GetCategory retrieves one submission.
func (s *GormStore) GetCategory(id string) (domain.CategorySubmission, bool, error) {
	var model CategoryModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CategorySubmission{}, false, nil
		}
		return domain.CategorySubmission{}, false, domain.StorageError(err)
	}
	return categoryFromModel(model), true, nil
}

// ListCategories scans submissions, optionally by status. Order is left to
// the caller.
func (s *GormStore) ListCategories(status domain.CategoryStatus) ([]domain.CategorySubmission, error) {
	tx := s.db
	if status != "" {
		tx = tx.Where("status = ?", string(status))
	}
	var models []CategoryModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, domain.StorageError(err)
	}
	res := make([]domain.CategorySubmission, 0, len(models))
	for _, m := range models {
		res = append(res, categoryFromModel(m))
	}
	return res, nil
}

// CastVote applies one voter's vote with the submission row locked, so the
// counter swap and the vote overwrite commit as one step.
func (s *GormStore) CastVote(categoryID, voterID string, vote domain.VoteType, at time.Time) error {
	return wrapTx(s.db.Transaction(func(tx *gorm.DB) error {
		var cat CategoryModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cat, "id = ?", categoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundf("category not found")
			}
			return err
		}
		if cat.Status != string(domain.CategoryPending) {
			return domain.VotingClosed("category is not open for voting")
		}

		var existing VoteModel
		err := tx.First(&existing, "category_id = ? AND voter_id = ?", categoryID, voterID).Error
		switch {
		case err == nil:
			if existing.VoteType == string(vote) {
				return nil
			}
			if err := tx.Model(&VoteModel{}).Where("id = ?", existing.ID).
				Updates(map[string]any{"vote_type": string(vote), "voted_at": at.UTC()}).Error; err != nil {
				return err
			}
			return tx.Model(&CategoryModel{}).Where("id = ?", categoryID).Updates(map[string]any{
				counterColumn(domain.VoteType(existing.VoteType)): gorm.Expr(counterColumn(domain.VoteType(existing.VoteType)) + " - 1"),
				counterColumn(vote):                               gorm.Expr(counterColumn(vote) + " + 1"),
			}).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			record := VoteModel{
				ID:         uuid.NewString(),
				CategoryID: categoryID,
				VoterID:    voterID,
				VoteType:   string(vote),
				VotedAt:    at.UTC(),
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			col := counterColumn(vote)
			return tx.Model(&CategoryModel{}).Where("id = ?", categoryID).
				Update(col, gorm.Expr(col+" + 1")).Error
		default:
			return err
		}
	}))
}

func counterColumn(vote domain.VoteType) string {
	if vote == domain.Upvote {
		return "votes_up"
	}
	return "votes_down"
}

// ListVotes returns all live votes for a submission.
func (s *GormStore) ListVotes(categoryID string) ([]domain.Vote, error) {
	var models []VoteModel
	if err := s.db.Where("category_id = ?", categoryID).Find(&models).Error; err != nil {
		return nil, domain.StorageError(err)
	}
	votes := make([]domain.Vote, 0, len(models))
	for _, m := range models {
		votes = append(votes, domain.Vote{
			ID:         m.ID,
			CategoryID: m.CategoryID,
			VoterID:    m.VoterID,
			Type:       domain.VoteType(m.VoteType),
			VotedAt:    m.VotedAt,
		})
	}
	return votes, nil
}

// Moderate moves a pending submission to approved/rejected; approval also
// enqueues the training job inside the same transaction.
func (s *GormStore) Moderate(categoryID, moderatorID string, action domain.ModerationAction, notes string, at time.Time) (domain.CategorySubmission, error) {
	var out domain.CategorySubmission
	err := wrapTx(s.db.Transaction(func(tx *gorm.DB) error {
		var cat CategoryModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cat, "id = ?", categoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundf("category not found")
			}
			return err
		}
		if cat.Status != string(domain.CategoryPending) {
			return domain.InvalidTransition("category has already been moderated")
		}

		status := domain.CategoryApproved
		if action == domain.ActionReject {
			status = domain.CategoryRejected
		}
		when := at.UTC()
		if err := tx.Model(&CategoryModel{}).Where("id = ?", categoryID).Updates(map[string]any{
			"status":          string(status),
			"moderator_notes": notes,
			"approved_by":     moderatorID,
			"approved_at":     when,
		}).Error; err != nil {
			return err
		}
		if action == domain.ActionApprove {
			job := TrainingJobModel{
				ID:         uuid.NewString(),
				CategoryID: categoryID,
				Status:     string(domain.TrainingQueued),
				CreatedAt:  when,
			}
			if err := tx.Create(&job).Error; err != nil {
				return err
			}
		}

		cat.Status = string(status)
		cat.ModeratorNotes = notes
		cat.ApprovedBy = moderatorID
		cat.ApprovedAt = &when
		out = categoryFromModel(cat)
		return nil
	}))
	if err != nil {
		return domain.CategorySubmission{}, err
	}
	return out, nil
}

type queueRow struct {
	TrainingJobModel
	CategoryName        string
	CategoryDescription string
	CategoryImages      datatypes.JSON
}

// ListTrainingQueue returns queued/training jobs joined with their
// categories, oldest first.
func (s *GormStore) ListTrainingQueue() ([]domain.TrainingQueueItem, error) {
	var rows []queueRow
	err := s.db.Model(&TrainingJobModel{}).
		Select("training_job_models.*, category_models.name AS category_name, category_models.description AS category_description, category_models.images AS category_images").
		Joins("JOIN category_models ON category_models.id = training_job_models.category_id").
		Where("training_job_models.status IN ?", queueStatuses).
		Order("training_job_models.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, domain.StorageError(err)
	}
	items := make([]domain.TrainingQueueItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, domain.TrainingQueueItem{
			TrainingJob:         jobFromModel(row.TrainingJobModel),
			CategoryName:        row.CategoryName,
			CategoryDescription: row.CategoryDescription,
			Images:              decodeImages(row.CategoryImages),
		})
	}
	return items, nil
}

// GetTrainingJob retrieves one job.
func (s *GormStore) GetTrainingJob(id string) (domain.TrainingJob, bool, error) {
	var model TrainingJobModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.TrainingJob{}, false, nil
		}
		return domain.TrainingJob{}, false, domain.StorageError(err)
	}
	return jobFromModel(model), true, nil
}

// UpdateTrainingStatus applies a worker report with the job row locked.
// startedAt/completedAt are set at most once so duplicate reports do not
// shift observability timestamps.
func (s *GormStore) UpdateTrainingStatus(jobID string, status domain.TrainingStatus, errorMessage string, at time.Time) (domain.TrainingJob, error) {
	var out domain.TrainingJob
	err := wrapTx(s.db.Transaction(func(tx *gorm.DB) error {
		var job TrainingJobModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.NotFoundf("training job not found")
			}
			return err
		}
		when := at.UTC()
		job.Status = string(status)
		switch status {
		case domain.TrainingRunning:
			if job.StartedAt == nil {
				job.StartedAt = &when
			}
		case domain.TrainingCompleted, domain.TrainingFailed:
			if job.CompletedAt == nil {
				job.CompletedAt = &when
			}
		}
		if status == domain.TrainingFailed {
			job.ErrorMessage = errorMessage
		} else {
			job.ErrorMessage = ""
		}
		if err := tx.Save(&job).Error; err != nil {
			return err
		}
		out = jobFromModel(job)
		return nil
	}))
	if err != nil {
		return domain.TrainingJob{}, err
	}
	return out, nil
}

// SavePrediction appends one classification-history record.
func (s *GormStore) SavePrediction(p domain.Prediction) error {
	model := predictionToModel(p)
	if err := s.db.Create(&model).Error; err != nil {
		return domain.StorageError(err)
	}
	return nil
}

// ListPredictions scans the full prediction history.
func (s *GormStore) ListPredictions() ([]domain.Prediction, error) {
	var models []PredictionModel
	if err := s.db.Find(&models).Error; err != nil {
		return nil, domain.StorageError(err)
	}
	res := make([]domain.Prediction, 0, len(models))
	for _, m := range models {
		res = append(res, predictionFromModel(m))
	}
	return res, nil
}

// wrapTx keeps domain errors intact and classifies everything else as a
// storage failure.
func wrapTx(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	return domain.StorageError(err)
}

func categoryToModel(c domain.CategorySubmission) CategoryModel {
	images, _ := json.Marshal(c.Images)
	return CategoryModel{
		ID:             c.ID,
		Name:           c.Name,
		Description:    c.Description,
		SubmittedBy:    c.SubmittedBy,
		SubmittedAt:    c.SubmittedAt,
		Status:         string(c.Status),
		Images:         datatypes.JSON(images),
		VotesUp:        c.VotesUp,
		VotesDown:      c.VotesDown,
		ModeratorNotes: c.ModeratorNotes,
		ApprovedBy:     c.ApprovedBy,
		ApprovedAt:     c.ApprovedAt,
	}
}

func categoryFromModel(m CategoryModel) domain.CategorySubmission {
	return domain.CategorySubmission{
		ID:             m.ID,
		Name:           m.Name,
		Description:    m.Description,
		SubmittedBy:    m.SubmittedBy,
		SubmittedAt:    m.SubmittedAt,
		Status:         domain.CategoryStatus(m.Status),
		Images:         decodeImages(m.Images),
		VotesUp:        m.VotesUp,
		VotesDown:      m.VotesDown,
		ModeratorNotes: m.ModeratorNotes,
		ApprovedBy:     m.ApprovedBy,
		ApprovedAt:     m.ApprovedAt,
	}
}

func jobFromModel(m TrainingJobModel) domain.TrainingJob {
	return domain.TrainingJob{
		ID:           m.ID,
		CategoryID:   m.CategoryID,
		Status:       domain.TrainingStatus(m.Status),
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		CompletedAt:  m.CompletedAt,
		ErrorMessage: m.ErrorMessage,
	}
}

func predictionToModel(p domain.Prediction) PredictionModel {
	all, _ := json.Marshal(p.AllPredictions)
	return PredictionModel{
		ID:               p.ID,
		Label:            p.Label,
		Confidence:       p.Confidence,
		AllPredictions:   datatypes.JSON(all),
		ImageKey:         p.ImageKey,
		RequestID:        p.RequestID,
		ProcessingTimeMs: p.ProcessingTimeMs,
		CreatedAt:        p.CreatedAt,
	}
}

func predictionFromModel(m PredictionModel) domain.Prediction {
	var all map[string]float64
	if len(m.AllPredictions) > 0 {
		_ = json.Unmarshal(m.AllPredictions, &all)
	}
	return domain.Prediction{
		ID:               m.ID,
		Label:            m.Label,
		Confidence:       m.Confidence,
		AllPredictions:   all,
		ImageKey:         m.ImageKey,
		RequestID:        m.RequestID,
		ProcessingTimeMs: m.ProcessingTimeMs,
		CreatedAt:        m.CreatedAt,
	}
}

func decodeImages(raw []byte) []string {
	var images []string
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &images)
	}
	return images
}
