package connection

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// Repository persists Connection records. The sync engine never hard-deletes
// a connection; removal is an external administrative action.
type Repository interface {
	Create(ctx context.Context, c *Connection) error
	GetByID(ctx context.Context, id uuid.UUID) (*Connection, error)
	GetByUserProvider(ctx context.Context, userID uuid.UUID, p provider.ID) (*Connection, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Connection, error)
	// ListDue returns consented connections whose sync interval has elapsed
	// (or that have never synced).
	ListDue(ctx context.Context, now time.Time) ([]*Connection, error)
	Update(ctx context.Context, c *Connection) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	// UpdateTokens persists only the token fields and expiry.
	UpdateTokens(ctx context.Context, c *Connection) error
	UpdateLastSync(ctx context.Context, id uuid.UUID, at time.Time) error
}
