package store

import (
	"time"

	"flavorsnap/pkg/domain"
)

// Store persists the category-submission pipeline records: submissions,
// votes, training jobs and prediction history.
//
// Composite operations (CastVote, Moderate, UpdateTrainingStatus) are
// atomic per affected submission/job: either the whole logical transition
// commits or none of it does, and concurrent calls on the same id are
// serialized while different ids proceed independently. List methods
// return unsorted scans; callers order and page through pkg/query.
//
// Implementations report unknown ids as domain.KindNotFound and all
// infrastructure failures as domain.KindStorage.
type Store interface {
	// category submissions
	SaveCategory(c domain.CategorySubmission) error
	GetCategory(id string) (domain.CategorySubmission, bool, error)
	// ListCategories scans submissions, optionally restricted to one
	// status ("" means all).
	ListCategories(status domain.CategoryStatus) ([]domain.CategorySubmission, error)

	// vote ledger
	//
	// CastVote enforces at-most-one-vote-per-(submission, voter):
	// a repeat vote of the same type is a no-op, a changed vote swaps
	// the denormalized counters and overwrites the vote record in one
	// atomic step. Votes are accepted only while the submission is
	// pending (domain.KindVotingClosed otherwise).
	CastVote(categoryID, voterID string, vote domain.VoteType, at time.Time) error
	ListVotes(categoryID string) ([]domain.Vote, error)

	// moderation
	//
	// Moderate performs the single legal transition out of pending.
	// Approval creates exactly one queued training job in the same
	// logical operation; any other starting status yields
	// domain.KindInvalidTransition.
	Moderate(categoryID, moderatorID string, action domain.ModerationAction, notes string, at time.Time) (domain.CategorySubmission, error)

	// training queue
	ListTrainingQueue() ([]domain.TrainingQueueItem, error)
	GetTrainingJob(id string) (domain.TrainingJob, bool, error)
	// UpdateTrainingStatus applies a worker status report. startedAt and
	// completedAt are each set at most once; duplicate reports are
	// tolerated, not rejected. errorMessage is kept only on failure.
	UpdateTrainingStatus(jobID string, status domain.TrainingStatus, errorMessage string, at time.Time) (domain.TrainingJob, error)

	// prediction history
	SavePrediction(p domain.Prediction) error
	ListPredictions() ([]domain.Prediction, error)
}
