package domain

import (
	"strings"
	"time"
)

type CategoryStatus string

const (
	CategoryPending    CategoryStatus = "pending"
	CategoryApproved   CategoryStatus = "approved"
	CategoryRejected   CategoryStatus = "rejected"
	CategoryInTraining CategoryStatus = "in_training"
)

type VoteType string

const (
	Upvote   VoteType = "upvote"
	Downvote VoteType = "downvote"
)

type ModerationAction string

const (
	ActionApprove ModerationAction = "approve"
	ActionReject  ModerationAction = "reject"
)

type TrainingStatus string

const (
	TrainingQueued    TrainingStatus = "queued"
	TrainingRunning   TrainingStatus = "training"
	TrainingCompleted TrainingStatus = "completed"
	TrainingFailed    TrainingStatus = "failed"
)

// CategorySubmission is a community-proposed food category under review.
// VotesUp/VotesDown are denormalized counters maintained by the vote ledger
// and always equal the number of live votes of each type.
type CategorySubmission struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	SubmittedBy    string         `json:"submittedBy"`
	SubmittedAt    time.Time      `json:"submittedAt"`
	Status         CategoryStatus `json:"status"`
	Images         []string       `json:"images"`
	VotesUp        int            `json:"votesUp"`
	VotesDown      int            `json:"votesDown"`
	ModeratorNotes string         `json:"moderatorNotes,omitempty"`
	// ApprovedBy/ApprovedAt record the moderation event for rejections too;
	// the field names follow the original API contract.
	ApprovedBy string     `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
}

// Vote is a single voter's live vote on a submission. A voter has at most
// one vote per submission; re-voting overwrites type and timestamp in place.
type Vote struct {
	ID         string    `json:"id"`
	CategoryID string    `json:"categoryId"`
	VoterID    string    `json:"voterId"`
	Type       VoteType  `json:"type"`
	VotedAt    time.Time `json:"votedAt"`
}

// TrainingJob is created when a submission is approved and mutated only by
// worker status reports. Jobs are never deleted.
type TrainingJob struct {
	ID           string         `json:"id"`
	CategoryID   string         `json:"categoryId"`
	Status       TrainingStatus `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// TrainingQueueItem is a queue entry joined with the category fields a
// training worker needs.
type TrainingQueueItem struct {
	TrainingJob
	CategoryName        string   `json:"categoryName"`
	CategoryDescription string   `json:"categoryDescription"`
	Images              []string `json:"images"`
}

// Prediction is one classification-history record.
type Prediction struct {
	ID               string             `json:"id"`
	Label            string             `json:"label"`
	Confidence       float64            `json:"confidence"`
	AllPredictions   map[string]float64 `json:"allPredictions,omitempty"`
	ImageKey         string             `json:"-"`
	RequestID        string             `json:"requestId,omitempty"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// CategoryStats aggregates submission and queue counts.
type CategoryStats struct {
	TotalSubmissions  int `json:"totalSubmissions"`
	Pending           int `json:"pending"`
	Approved          int `json:"approved"`
	Rejected          int `json:"rejected"`
	InTraining        int `json:"inTraining"`
	TotalVotesUp      int `json:"totalVotesUp"`
	TotalVotesDown    int `json:"totalVotesDown"`
	TrainingQueueSize int `json:"trainingQueueSize"`
}

// ParseCategoryStatus accepts the wire form of a status, case-insensitive.
func ParseCategoryStatus(s string) (CategoryStatus, bool) {
	switch CategoryStatus(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryPending:
		return CategoryPending, true
	case CategoryApproved:
		return CategoryApproved, true
	case CategoryRejected:
		return CategoryRejected, true
	case CategoryInTraining:
		return CategoryInTraining, true
	default:
		return "", false
	}
}

func ParseVoteType(s string) (VoteType, bool) {
	switch VoteType(strings.ToLower(strings.TrimSpace(s))) {
	case Upvote:
		return Upvote, true
	case Downvote:
		return Downvote, true
	default:
		return "", false
	}
}

func ParseModerationAction(s string) (ModerationAction, bool) {
	switch ModerationAction(strings.ToLower(strings.TrimSpace(s))) {
	case ActionApprove:
		return ActionApprove, true
	case ActionReject:
		return ActionReject, true
	default:
		return "", false
	}
}

func ParseTrainingStatus(s string) (TrainingStatus, bool) {
	switch TrainingStatus(strings.ToLower(strings.TrimSpace(s))) {
	case TrainingQueued:
		return TrainingQueued, true
	case TrainingRunning:
		return TrainingRunning, true
	case TrainingCompleted:
		return TrainingCompleted, true
	case TrainingFailed:
		return TrainingFailed, true
	default:
		return "", false
	}
}
