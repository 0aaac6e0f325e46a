package app

import (
	"time"

	"flavorsnap/pkg/domain"
	"flavorsnap/pkg/query"
)

// categorySchema exposes the queryable fields of a category submission.
// Listings default to newest submissions first.
var categorySchema = query.Schema[domain.CategorySubmission]{
	ID:          func(c domain.CategorySubmission) string { return c.ID },
	DefaultSort: "submittedAt",
	Fields: map[string]query.Field[domain.CategorySubmission]{
		"submittedAt": {Time: func(c domain.CategorySubmission) time.Time { return c.SubmittedAt }},
		"name":        {String: func(c domain.CategorySubmission) string { return c.Name }},
		"status":      {String: func(c domain.CategorySubmission) string { return string(c.Status) }},
		"votesUp":     {Number: func(c domain.CategorySubmission) float64 { return float64(c.VotesUp) }},
		"votesDown":   {Number: func(c domain.CategorySubmission) float64 { return float64(c.VotesDown) }},
		"netVotes":    {Number: func(c domain.CategorySubmission) float64 { return float64(c.VotesUp - c.VotesDown) }},
	},
}

// predictionSchema exposes the queryable fields of the prediction history.
var predictionSchema = query.Schema[domain.Prediction]{
	ID:          func(p domain.Prediction) string { return p.ID },
	DefaultSort: "createdAt",
	Fields: map[string]query.Field[domain.Prediction]{
		"createdAt":        {Time: func(p domain.Prediction) time.Time { return p.CreatedAt }},
		"label":            {String: func(p domain.Prediction) string { return p.Label }},
		"confidence":       {Number: func(p domain.Prediction) float64 { return p.Confidence }},
		"processingTimeMs": {Number: func(p domain.Prediction) float64 { return float64(p.ProcessingTimeMs) }},
	},
}
