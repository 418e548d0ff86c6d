package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// Create persists a fresh attempt in its pessimistic Failed state.
	Create(ctx context.Context, l *Log) error
	// Finalize writes the attempt's terminal outcome, counts and details.
	Finalize(ctx context.Context, l *Log) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Log, int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
