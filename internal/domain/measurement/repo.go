package measurement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// ListFilter narrows a per-user measurement listing.
type ListFilter struct {
	Category *provider.Category
	Provider *provider.ID
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type Repository interface {
	// Upsert writes the measurement keyed on (provider, external_id).
	// It reports whether a new row was created; on update the stored
	// mirrored flag and vital id are preserved and reflected back into m.
	Upsert(ctx context.Context, m *Measurement) (created bool, err error)
	GetByExternalID(ctx context.Context, p provider.ID, externalID string) (*Measurement, error)
	ListByUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]*Measurement, int, error)
	LatestByCategory(ctx context.Context, userID uuid.UUID) ([]*Measurement, error)
	MarkMirrored(ctx context.Context, id uuid.UUID, vitalID uuid.UUID) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
