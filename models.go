package main

import "time"

// Connection lifecycle states. A pair has at most one row; declined and
// cancelled requests are deleted, so there is no residual state for them.
const (
	statusPending      = "pending"
	statusAccepted     = "accepted"
	statusDisconnected = "disconnected"
)

// Profile holds the scoring-relevant attributes of a user. Loaded read-only
// by the recommendation path; mutated only through the profile handlers.
type Profile struct {
	UserID           int
	AnalogPassions   []string
	DigitalDelights  []string
	Collaboration    string
	FavoriteFood     string
	FavoriteMusic    string
	LocationLat      float64
	LocationLon      float64
	LocationCity     string
	MaxRadiusKm      int
	IsComplete       bool
	MatchPreferences MatchWeights
}

// ConnectionRow is a directed edge requester -> target.
type ConnectionRow struct {
	ID           int
	UserID       int // requester
	TargetUserID int // addressee
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecommendationResult is one ranked candidate. Ephemeral: lives for a single
// request, never persisted.
type RecommendationResult struct {
	UserID          int     `json:"user_id"`
	DisplayName     string  `json:"display_name,omitempty"`
	Score           float64 `json:"score"`
	ScorePercentage float64 `json:"score_percentage"`
	Distance        float64 `json:"distance,omitempty"`
}
