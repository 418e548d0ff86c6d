package measurement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TechCorp07/klara-test-sub001/internal/platform/secrets"
	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type measurementRepoPG struct {
	pool *pgxpool.Pool
	enc  secrets.Encryptor
}

// NewRepositoryPG returns a Postgres-backed Repository. Device identifiers
// pass through the encryptor on every write and read.
func NewRepositoryPG(pool *pgxpool.Pool, enc secrets.Encryptor) Repository {
	return &measurementRepoPG{pool: pool, enc: enc}
}

func (r *measurementRepoPG) conn(ctx context.Context) queryable {
	return r.pool
}

const measurementCols = `id, user_id, provider, category, value, unit, recorded_at,
	device_id, external_id, systolic, diastolic, extra, mirrored, vital_id,
	created_at, updated_at`

func (r *measurementRepoPG) scanMeasurement(row pgx.Row) (*Measurement, error) {
	var m Measurement
	var device *string
	var extra []byte
	err := row.Scan(&m.ID, &m.UserID, &m.Provider, &m.Category, &m.Value, &m.Unit,
		&m.RecordedAt, &device, &m.ExternalID, &m.Systolic, &m.Diastolic, &extra,
		&m.Mirrored, &m.VitalID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &m.Extra); err != nil {
			return nil, fmt.Errorf("decode extra: %w", err)
		}
	}
	if device != nil {
		plain, err := r.enc.Decrypt(*device)
		if err != nil {
			return nil, fmt.Errorf("decrypt device id: %w", err)
		}
		m.DeviceID = &plain
	}
	return &m, nil
}

func (r *measurementRepoPG) encryptDevice(m *Measurement) (*string, error) {
	if m.DeviceID == nil {
		return nil, nil
	}
	enc, err := r.enc.Encrypt(*m.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("encrypt device id: %w", err)
	}
	return &enc, nil
}

// Upsert inserts or updates by (provider, external_id). The mirrored flag and
// vital id are never reset by an update; the row reports whether it was
// created via xmax = 0.
func (r *measurementRepoPG) Upsert(ctx context.Context, m *Measurement) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	device, err := r.encryptDevice(m)
	if err != nil {
		return false, err
	}
	extra, err := json.Marshal(m.Extra)
	if err != nil {
		return false, fmt.Errorf("encode extra: %w", err)
	}

	var created bool
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO measurements (id, user_id, provider, category, value, unit,
			recorded_at, device_id, external_id, systolic, diastolic, extra)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			value = EXCLUDED.value,
			unit = EXCLUDED.unit,
			recorded_at = EXCLUDED.recorded_at,
			device_id = EXCLUDED.device_id,
			systolic = EXCLUDED.systolic,
			diastolic = EXCLUDED.diastolic,
			extra = EXCLUDED.extra,
			updated_at = NOW()
		RETURNING id, mirrored, vital_id, (xmax = 0)`,
		m.ID, m.UserID, m.Provider, m.Category, m.Value, m.Unit,
		m.RecordedAt, device, m.ExternalID, m.Systolic, m.Diastolic, extra,
	).Scan(&m.ID, &m.Mirrored, &m.VitalID, &created)
	if err != nil {
		return false, fmt.Errorf("upsert measurement: %w", err)
	}
	return created, nil
}

func (r *measurementRepoPG) GetByExternalID(ctx context.Context, p provider.ID, externalID string) (*Measurement, error) {
	return r.scanMeasurement(r.conn(ctx).QueryRow(ctx,
		`SELECT `+measurementCols+` FROM measurements WHERE provider = $1 AND external_id = $2`,
		p, externalID))
}

func (r *measurementRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, f ListFilter) ([]*Measurement, int, error) {
	where := `WHERE user_id = $1`
	args := []interface{}{userID}
	if f.Category != nil {
		args = append(args, *f.Category)
		where += fmt.Sprintf(` AND category = $%d`, len(args))
	}
	if f.Provider != nil {
		args = append(args, *f.Provider)
		where += fmt.Sprintf(` AND provider = $%d`, len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		where += fmt.Sprintf(` AND recorded_at >= $%d`, len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where += fmt.Sprintf(` AND recorded_at <= $%d`, len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM measurements `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit, f.Offset)
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+measurementCols+` FROM measurements `+where+
			fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *measurementRepoPG) LatestByCategory(ctx context.Context, userID uuid.UUID) ([]*Measurement, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT ON (category) `+measurementCols+`
		FROM measurements
		WHERE user_id = $1
		ORDER BY category, recorded_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *measurementRepoPG) collect(rows pgx.Rows) ([]*Measurement, error) {
	var items []*Measurement
	for rows.Next() {
		m, err := r.scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (r *measurementRepoPG) MarkMirrored(ctx context.Context, id uuid.UUID, vitalID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE measurements SET mirrored = TRUE, vital_id = $2, updated_at = NOW()
		WHERE id = $1 AND mirrored = FALSE`, id, vitalID)
	return err
}

func (r *measurementRepoPG) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM measurements WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
