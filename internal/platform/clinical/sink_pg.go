package clinical

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgSink struct {
	pool *pgxpool.Pool
}

// NewSinkPG returns a Sink backed by the vital_signs table.
func NewSinkPG(pool *pgxpool.Pool) Sink {
	return &pgSink{pool: pool}
}

func (s *pgSink) Upsert(ctx context.Context, v VitalSign) (uuid.UUID, error) {
	id := uuid.New()
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vital_signs (id, measurement_type, value, unit, measured_at, source, device_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source, device_id, measured_at) DO UPDATE SET
			measurement_type = EXCLUDED.measurement_type,
			value = EXCLUDED.value,
			unit = EXCLUDED.unit,
			updated_at = NOW()
		RETURNING id`,
		id, v.Type, v.Value, v.Unit, v.MeasuredAt, v.Source, v.DeviceID, v.CreatedBy,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("upsert vital sign: %w", err)
	}
	return id, nil
}
