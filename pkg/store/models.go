package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type CategoryModel struct {
	ID             string         `gorm:"primaryKey"`
	Name           string         `gorm:"not null"`
	Description    string         `gorm:"not null"`
	SubmittedBy    string         `gorm:"not null;index"`
	SubmittedAt    time.Time      `gorm:"not null;index"`
	Status         string         `gorm:"not null;index"`
	Images         datatypes.JSON `gorm:"type:jsonb"`
	VotesUp        int            `gorm:"not null;default:0"`
	VotesDown      int            `gorm:"not null;default:0"`
	ModeratorNotes string
	ApprovedBy     string
	ApprovedAt     *time.Time
}

type VoteModel struct {
	ID         string    `gorm:"primaryKey"`
	CategoryID string    `gorm:"not null;uniqueIndex:idx_votes_category_voter"`
	VoterID    string    `gorm:"not null;uniqueIndex:idx_votes_category_voter"`
	VoteType   string    `gorm:"not null"`
	VotedAt    time.Time `gorm:"not null"`
}

type TrainingJobModel struct {
	ID           string    `gorm:"primaryKey"`
	CategoryID   string    `gorm:"not null;index"`
	Status       string    `gorm:"not null;index"`
	CreatedAt    time.Time `gorm:"not null;index"`
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
}

type PredictionModel struct {
	ID               string         `gorm:"primaryKey"`
	Label            string         `gorm:"not null;index"`
	Confidence       float64        `gorm:"not null"`
	AllPredictions   datatypes.JSON `gorm:"type:jsonb"`
	ImageKey         string
	RequestID        string
	ProcessingTimeMs int64     `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null;index"`
}
