package model

import "time"

// UserPolicyState holds the strike and ban counters for one client.
type UserPolicyState struct {
	UserID      string    `json:"userId"`
	StrikeCount int       `json:"strikeCount"`
	Banned      bool      `json:"banned"`
	BannedAt    time.Time `json:"bannedAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// StrikeResult is the outcome of one atomic strike increment.
type StrikeResult struct {
	State UserPolicyState
	// BannedNow is true only for the increment that crossed the threshold.
	BannedNow bool
}

// Actor is the authenticated caller as supplied by the identity collaborator.
type Actor struct {
	ID     string
	Name   string
	Admin  bool
	Banned bool
}
