package connection

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

type connectionRepoPG struct {
	pool *pgxpool.Pool
	enc  secrets.Encryptor
}

// NewRepositoryPG returns a Postgres-backed Repository. OAuth tokens pass
// through the encryptor on every write and read.
func NewRepositoryPG(pool *pgxpool.Pool, enc secrets.Encryptor) Repository {
	return &connectionRepoPG{pool: pool, enc: enc}
}

func (r *connectionRepoPG) conn(ctx context.Context) queryable {
	return r.pool
}

const connectionCols = `id, user_id, provider, status, access_token, refresh_token,
	token_expiry, provider_user_id, consented, consent_date, collection_settings,
	last_sync_at, sync_frequency_hours, settings, created_at, updated_at`

func (r *connectionRepoPG) scanConnection(row pgx.Row) (*Connection, error) {
	var c Connection
	var collect, settings []byte
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.Status, &c.AccessToken,
		&c.RefreshToken, &c.TokenExpiry, &c.ProviderUserID, &c.Consented,
		&c.ConsentDate, &collect, &c.LastSyncAt, &c.SyncFrequency, &settings,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(collect) > 0 {
		if err := json.Unmarshal(collect, &c.Collect); err != nil {
			return nil, fmt.Errorf("decode collection settings: %w", err)
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &c.Settings); err != nil {
			return nil, fmt.Errorf("decode settings: %w", err)
		}
	}
	if c.AccessToken, err = r.enc.Decrypt(c.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if c.RefreshToken, err = r.enc.Decrypt(c.RefreshToken); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &c, nil
}

func (r *connectionRepoPG) encryptTokens(c *Connection) (access, refresh string, err error) {
	if access, err = r.enc.Encrypt(c.AccessToken); err != nil {
		return "", "", fmt.Errorf("encrypt access token: %w", err)
	}
	if refresh, err = r.enc.Encrypt(c.RefreshToken); err != nil {
		return "", "", fmt.Errorf("encrypt refresh token: %w", err)
	}
	return access, refresh, nil
}

func (r *connectionRepoPG) Create(ctx context.Context, c *Connection) error {
	c.ID = uuid.New()
	access, refresh, err := r.encryptTokens(c)
	if err != nil {
		return err
	}
	collect, err := json.Marshal(c.Collect)
	if err != nil {
		return fmt.Errorf("encode collection settings: %w", err)
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO connections (id, user_id, provider, status, access_token, refresh_token,
			token_expiry, provider_user_id, consented, consent_date, collection_settings,
			last_sync_at, sync_frequency_hours, settings)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.UserID, c.Provider, c.Status, access, refresh,
		c.TokenExpiry, c.ProviderUserID, c.Consented, c.ConsentDate, collect,
		c.LastSyncAt, c.SyncFrequency, settings)
	return err
}

func (r *connectionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Connection, error) {
	return r.scanConnection(r.conn(ctx).QueryRow(ctx,
		`SELECT `+connectionCols+` FROM connections WHERE id = $1`, id))
}

func (r *connectionRepoPG) GetByUserProvider(ctx context.Context, userID uuid.UUID, p provider.ID) (*Connection, error) {
	return r.scanConnection(r.conn(ctx).QueryRow(ctx,
		`SELECT `+connectionCols+` FROM connections WHERE user_id = $1 AND provider = $2`, userID, p))
}

func (r *connectionRepoPG) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Connection, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+connectionCols+` FROM connections WHERE user_id = $1 ORDER BY provider`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *connectionRepoPG) ListDue(ctx context.Context, now time.Time) ([]*Connection, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+connectionCols+` FROM connections
		WHERE consented = TRUE
		  AND status = $1
		  AND (last_sync_at IS NULL
		       OR last_sync_at + (GREATEST(sync_frequency_hours, 1) * INTERVAL '1 hour') <= $2)
		ORDER BY last_sync_at NULLS FIRST`, StatusConnected, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *connectionRepoPG) collect(rows pgx.Rows) ([]*Connection, error) {
	var items []*Connection
	for rows.Next() {
		c, err := r.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *connectionRepoPG) Update(ctx context.Context, c *Connection) error {
	access, refresh, err := r.encryptTokens(c)
	if err != nil {
		return err
	}
	collect, err := json.Marshal(c.Collect)
	if err != nil {
		return fmt.Errorf("encode collection settings: %w", err)
	}
	settings, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE connections SET status=$2, access_token=$3, refresh_token=$4,
			token_expiry=$5, provider_user_id=$6, consented=$7, consent_date=$8,
			collection_settings=$9, sync_frequency_hours=$10, settings=$11, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Status, access, refresh, c.TokenExpiry, c.ProviderUserID,
		c.Consented, c.ConsentDate, collect, c.SyncFrequency, settings)
	return err
}

func (r *connectionRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE connections SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	return err
}

func (r *connectionRepoPG) UpdateTokens(ctx context.Context, c *Connection) error {
	access, refresh, err := r.encryptTokens(c)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		UPDATE connections SET access_token=$2, refresh_token=$3, token_expiry=$4,
			status=$5, updated_at=NOW()
		WHERE id = $1`,
		c.ID, access, refresh, c.TokenExpiry, c.Status)
	return err
}

func (r *connectionRepoPG) UpdateLastSync(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE connections SET last_sync_at=$2, updated_at=NOW() WHERE id = $1`, id, at)
	return err
}
