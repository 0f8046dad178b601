package model

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is one exam attempt identified by an opaque access token.
type Candidate struct {
	ID            uuid.UUID  `json:"id"`
	SessionID     uuid.UUID  `json:"session_id"`
	CandidateName string     `json:"candidate_name"`
	AccessToken   string     `json:"access_token"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// StartSessionResult reports whether the attempt had already been started.
type StartSessionResult struct {
	AlreadyStarted bool   `json:"already_started"`
	Message        string `json:"message"`
}

// StartSessionResponse is returned by the start endpoint.
type StartSessionResponse struct {
	StartSessionResult
	AttemptToken string    `json:"attempt_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CandidateStatus is one row of the session monitor.
type CandidateStatus struct {
	CandidateID   uuid.UUID  `json:"candidate_id"`
	CandidateName string     `json:"candidate_name"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	Finished      bool       `json:"finished"`
	Answered      int64      `json:"answered"`
	Violations    int64      `json:"violations"`
}
