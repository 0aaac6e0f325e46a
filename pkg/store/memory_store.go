package store

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"flavorsnap/pkg/domain"
)

// MemoryStore keeps pipeline records in-process. It backs tests and local
// runs behind the same Store interface as GormStore.
//
// mu guards the maps; per-submission mutexes serialize the composite vote
// and moderation operations on one submission without blocking operations
// on other submissions.
type MemoryStore struct {
	mu          sync.RWMutex
	categories  map[string]domain.CategorySubmission
	votes       map[string]map[string]domain.Vote // categoryID -> voterID
	jobs        map[string]domain.TrainingJob
	jobOrder    []string
	predictions []domain.Prediction

	lockMu   sync.Mutex
	recLocks map[string]*sync.Mutex
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		categories: make(map[string]domain.CategorySubmission),
		votes:      make(map[string]map[string]domain.Vote),
		jobs:       make(map[string]domain.TrainingJob),
		recLocks:   make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) recordLock(key string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.recLocks[key]
	if !ok {
		l = &sync.Mutex{}
		m.recLocks[key] = l
	}
	return l
}

// SaveCategory stores or replaces a submission record.
func (m *MemoryStore) SaveCategory(c domain.CategorySubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
	return nil
}

// GetCategory retrieves one submission.
func (m *MemoryStore) GetCategory(id string) (domain.CategorySubmission, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	return c, ok, nil
}

// ListCategories scans submissions, optionally by status.
func (m *MemoryStore) ListCategories(status domain.CategoryStatus) ([]domain.CategorySubmission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.CategorySubmission, 0, len(m.categories))
	for _, c := range m.categories {
		if status == "" || c.Status == status {
			res = append(res, c)
		}
	}
	return res, nil
}

// CastVote applies one voter's vote under the submission's record lock;
// the vote record and the counters are published in a single critical
// section so readers never observe them out of step.
func (m *MemoryStore) CastVote(categoryID, voterID string, vote domain.VoteType, at time.Time) error {
	l := m.recordLock("category:" + categoryID)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	cat, ok := m.categories[categoryID]
	existing, hasVote := m.votes[categoryID][voterID]
	m.mu.RUnlock()

	if !ok {
		return domain.NotFoundf("category not found")
	}
	if cat.Status != domain.CategoryPending {
		return domain.VotingClosed("category is not open for voting")
	}

	record := existing
	switch {
	case hasVote && existing.Type == vote:
		return nil
	case hasVote:
		switch existing.Type {
		case domain.Upvote:
			cat.VotesUp--
		case domain.Downvote:
			cat.VotesDown--
		}
		record.Type = vote
		record.VotedAt = at.UTC()
	default:
		record = domain.Vote{
			ID:         uuid.NewString(),
			CategoryID: categoryID,
			VoterID:    voterID,
			Type:       vote,
			VotedAt:    at.UTC(),
		}
	}
	if vote == domain.Upvote {
		cat.VotesUp++
	} else {
		cat.VotesDown++
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.votes[categoryID] == nil {
		m.votes[categoryID] = make(map[string]domain.Vote)
	}
	m.votes[categoryID][voterID] = record
	m.categories[categoryID] = cat
	return nil
}

// ListVotes returns all live votes for a submission.
func (m *MemoryStore) ListVotes(categoryID string) ([]domain.Vote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Vote, 0, len(m.votes[categoryID]))
	for _, v := range m.votes[categoryID] {
		res = append(res, v)
	}
	return res, nil
}

// Moderate moves a pending submission out of pending; approval enqueues a
// training job in the same critical section.
func (m *MemoryStore) Moderate(categoryID, moderatorID string, action domain.ModerationAction, notes string, at time.Time) (domain.CategorySubmission, error) {
	l := m.recordLock("category:" + categoryID)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	cat, ok := m.categories[categoryID]
	m.mu.RUnlock()

	if !ok {
		return domain.CategorySubmission{}, domain.NotFoundf("category not found")
	}
	if cat.Status != domain.CategoryPending {
		return domain.CategorySubmission{}, domain.InvalidTransition("category has already been moderated")
	}

	when := at.UTC()
	if action == domain.ActionApprove {
		cat.Status = domain.CategoryApproved
	} else {
		cat.Status = domain.CategoryRejected
	}
	cat.ModeratorNotes = notes
	cat.ApprovedBy = moderatorID
	cat.ApprovedAt = &when

	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[categoryID] = cat
	if action == domain.ActionApprove {
		job := domain.TrainingJob{
			ID:         uuid.NewString(),
			CategoryID: categoryID,
			Status:     domain.TrainingQueued,
			CreatedAt:  when,
		}
		m.jobs[job.ID] = job
		m.jobOrder = append(m.jobOrder, job.ID)
	}
	return cat, nil
}

// ListTrainingQueue returns queued/training jobs joined with their
// categories, oldest first.
func (m *MemoryStore) ListTrainingQueue() ([]domain.TrainingQueueItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := make([]domain.TrainingQueueItem, 0, len(m.jobOrder))
	for _, id := range m.jobOrder {
		job, ok := m.jobs[id]
		if !ok || (job.Status != domain.TrainingQueued && job.Status != domain.TrainingRunning) {
			continue
		}
		cat := m.categories[job.CategoryID]
		items = append(items, domain.TrainingQueueItem{
			TrainingJob:         job,
			CategoryName:        cat.Name,
			CategoryDescription: cat.Description,
			Images:              slices.Clone(cat.Images),
		})
	}
	slices.SortStableFunc(items, func(a, b domain.TrainingQueueItem) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return items, nil
}

// GetTrainingJob retrieves one job.
func (m *MemoryStore) GetTrainingJob(id string) (domain.TrainingJob, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok, nil
}

// UpdateTrainingStatus applies a worker report under the job's record
// lock. Timestamps are set at most once; duplicate reports are no-ops for
// them.
func (m *MemoryStore) UpdateTrainingStatus(jobID string, status domain.TrainingStatus, errorMessage string, at time.Time) (domain.TrainingJob, error) {
	l := m.recordLock("job:" + jobID)
	l.Lock()
	defer l.Unlock()

	m.mu.RLock()
	job, ok := m.jobs[jobID]
	m.mu.RUnlock()

	if !ok {
		return domain.TrainingJob{}, domain.NotFoundf("training job not found")
	}

	when := at.UTC()
	job.Status = status
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

	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID] = job
	return job, nil
}

// SavePrediction appends one classification-history record.
func (m *MemoryStore) SavePrediction(p domain.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = append(m.predictions, p)
	return nil
}

// ListPredictions scans the full prediction history.
func (m *MemoryStore) ListPredictions() ([]domain.Prediction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.predictions), nil
}
