package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type syncLogRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepositoryPG(pool *pgxpool.Pool) Repository {
	return &syncLogRepoPG{pool: pool}
}

func (r *syncLogRepoPG) conn(ctx context.Context) queryable {
	return r.pool
}

const syncLogCols = `id, user_id, connection_id, provider, outcome, started_at,
	ended_at, range_start, range_end, synced, message, details, created_at`

func (r *syncLogRepoPG) scanLog(row pgx.Row) (*Log, error) {
	var l Log
	var details []byte
	err := row.Scan(&l.ID, &l.UserID, &l.ConnectionID, &l.Provider, &l.Outcome,
		&l.StartedAt, &l.EndedAt, &l.RangeStart, &l.RangeEnd, &l.Synced,
		&l.Message, &details, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &l.Details); err != nil {
			return nil, fmt.Errorf("decode details: %w", err)
		}
	}
	return &l, nil
}

func (r *syncLogRepoPG) Create(ctx context.Context, l *Log) error {
	l.ID = uuid.New()
	details, err := json.Marshal(l.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO sync_logs (id, user_id, connection_id, provider, outcome,
			started_at, range_start, range_end, synced, message, details)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		l.ID, l.UserID, l.ConnectionID, l.Provider, l.Outcome,
		l.StartedAt, l.RangeStart, l.RangeEnd, l.Synced, l.Message, details)
	return err
}

func (r *syncLogRepoPG) Finalize(ctx context.Context, l *Log) error {
	details, err := json.Marshal(l.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE sync_logs SET outcome=$2, ended_at=$3, synced=$4, message=$5, details=$6
		WHERE id = $1`,
		l.ID, l.Outcome, l.EndedAt, l.Synced, l.Message, details)
	return err
}

func (r *syncLogRepoPG) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Log, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM sync_logs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+syncLogCols+` FROM sync_logs
		 WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Log
	for rows.Next() {
		l, err := r.scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, l)
	}
	return items, total, rows.Err()
}

func (r *syncLogRepoPG) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM sync_logs WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
