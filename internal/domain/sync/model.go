package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// Outcome is the terminal state of one sync attempt. Every attempt starts
// pessimistically Failed and is upgraded when it finishes.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// Log records one sync attempt for one connection.
type Log struct {
	ID           uuid.UUID              `json:"id"`
	UserID       uuid.UUID              `json:"user_id"`
	ConnectionID uuid.UUID              `json:"connection_id"`
	Provider     provider.ID            `json:"provider"`
	Outcome      Outcome                `json:"outcome"`
	StartedAt    time.Time              `json:"started_at"`
	EndedAt      *time.Time             `json:"ended_at,omitempty"`
	RangeStart   time.Time              `json:"range_start"`
	RangeEnd     time.Time              `json:"range_end"`
	Synced       int                    `json:"synced"`
	Message      string                 `json:"message,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}
