package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ConsentEvent records a consent decision for the external audit trail.
type ConsentEvent struct {
	PatientID        uuid.UUID
	ConsentType      string
	AuthorizedEntity string
	Consented        bool
	IPAddress        string
	UserAgent        string
	OccurredAt       time.Time
}

// ConsentRecorder persists consent events. Writes are best-effort: callers
// log failures and carry on, a lost audit entry never fails the request.
type ConsentRecorder interface {
	RecordConsent(ctx context.Context, e ConsentEvent) error
}

type pgRecorder struct {
	pool *pgxpool.Pool
}

// NewConsentRecorderPG returns a recorder backed by the consent_audit table.
func NewConsentRecorderPG(pool *pgxpool.Pool) ConsentRecorder {
	return &pgRecorder{pool: pool}
}

func (r *pgRecorder) RecordConsent(ctx context.Context, e ConsentEvent) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO consent_audit (id, patient_id, consent_type, authorized_entity, consented, ip_address, user_agent, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), e.PatientID, e.ConsentType, e.AuthorizedEntity, e.Consented,
		e.IPAddress, e.UserAgent, e.OccurredAt)
	return err
}

// LogRecorder writes consent events to the structured log only. Used when no
// database-backed recorder is wired, and in tests.
type LogRecorder struct {
	Logger zerolog.Logger
}

func (l LogRecorder) RecordConsent(_ context.Context, e ConsentEvent) error {
	l.Logger.Info().
		Str("patient_id", e.PatientID.String()).
		Str("consent_type", e.ConsentType).
		Str("authorized_entity", e.AuthorizedEntity).
		Bool("consented", e.Consented).
		Str("ip", e.IPAddress).
		Msg("consent recorded")
	return nil
}
