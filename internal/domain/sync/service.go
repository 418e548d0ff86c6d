package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/domain/connection"
	"github.com/TechCorp07/klara-test-sub001/internal/domain/measurement"
	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// Options tunes one sync attempt. An explicit range overrides the computed
// one; Force attempts a disconnected connection anyway; Scheduled marks
// attempts originated by the background scheduler, which persist Skipped
// outcomes instead of returning them silently.
type Options struct {
	Start     *time.Time
	End       *time.Time
	Force     bool
	Scheduled bool
}

// DefaultOverlap is subtracted from last_sync on subsequent syncs so
// late-arriving provider data is still picked up. Reprocessing is harmless:
// persistence is an upsert on the external id.
const DefaultOverlap = 24 * time.Hour

type Service struct {
	conns        connection.Repository
	connSvc      *connection.Service
	logs         Repository
	registry     *provider.Registry
	normalizer   *measurement.Normalizer
	measurements *measurement.Service
	log          zerolog.Logger
	lookback     time.Duration
	now          func() time.Time

	// refreshMu serializes token refresh per connection so two concurrent
	// attempts cannot race the read-then-write of the token fields.
	mu        stdsync.Mutex
	refreshMu map[uuid.UUID]*stdsync.Mutex
}

func NewService(conns connection.Repository, connSvc *connection.Service, logs Repository,
	registry *provider.Registry, normalizer *measurement.Normalizer,
	measurements *measurement.Service, logger zerolog.Logger, lookbackDays int) *Service {
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	return &Service{
		conns:        conns,
		connSvc:      connSvc,
		logs:         logs,
		registry:     registry,
		normalizer:   normalizer,
		measurements: measurements,
		log:          logger.With().Str("component", "sync").Logger(),
		lookback:     time.Duration(lookbackDays) * 24 * time.Hour,
		now:          time.Now,
		refreshMu:    make(map[uuid.UUID]*stdsync.Mutex),
	}
}

func (s *Service) connLock(id uuid.UUID) *stdsync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.refreshMu[id]
	if !ok {
		m = &stdsync.Mutex{}
		s.refreshMu[id] = m
	}
	return m
}

// Connection loads a connection for the HTTP layer's ownership checks.
func (s *Service) Connection(ctx context.Context, id uuid.UUID) (*connection.Connection, error) {
	return s.conns.GetByID(ctx, id)
}

func (s *Service) ListLogs(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Log, int, error) {
	return s.logs.ListByUser(ctx, userID, limit, offset)
}

// TriggerSync runs one sync attempt for a connection. Preconditions that fail
// produce a Skipped outcome: persisted for scheduled attempts, returned
// transiently for caller-initiated ones.
func (s *Service) TriggerSync(ctx context.Context, connID uuid.UUID, opts Options) (*Log, error) {
	c, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	return s.run(ctx, c, opts)
}

func (s *Service) run(ctx context.Context, c *connection.Connection, opts Options) (*Log, error) {
	now := s.now()

	l := &Log{
		UserID:       c.UserID,
		ConnectionID: c.ID,
		Provider:     c.Provider,
		Outcome:      OutcomeFailed,
		StartedAt:    now,
		Details:      map[string]interface{}{},
	}
	l.RangeStart, l.RangeEnd = s.dateRange(c, opts, now)

	adapter, isCloud := s.registry.Cloud(c.Provider)

	// Preconditions. Push providers have nothing to fetch server-side.
	switch {
	case !c.Consented:
		return s.skip(ctx, l, opts, "consent not granted")
	case !isCloud:
		return s.skip(ctx, l, opts, "provider does not support server-side sync")
	case !opts.Force && !s.connSvc.IsConnected(ctx, c) && !c.TokenExpired(now):
		return s.skip(ctx, l, opts, "connection is not active")
	}

	if err := s.logs.Create(ctx, l); err != nil {
		return nil, fmt.Errorf("create sync log: %w", err)
	}

	if !s.ensureToken(ctx, c, adapter, now) {
		l.Message = "token refresh failed"
		s.finalize(ctx, l, OutcomeFailed)
		return l, nil
	}

	categories := intersect(c.Collect.Categories(), adapter.Categories())
	var failed, succeeded int
	for _, cat := range categories {
		n, err := s.syncCategory(ctx, c, adapter, cat, l.RangeStart, l.RangeEnd)
		if err != nil {
			failed++
			l.Details[string(cat)] = err.Error()
			s.log.Warn().Err(err).
				Str("connection_id", c.ID.String()).
				Str("category", string(cat)).
				Msg("category sync failed")
			continue
		}
		succeeded++
		l.Synced += n
	}

	switch {
	case failed == 0:
		l.Message = fmt.Sprintf("synced %d records across %d categories", l.Synced, succeeded)
		s.finalize(ctx, l, OutcomeSuccess)
	case succeeded > 0:
		l.Message = fmt.Sprintf("synced %d records, %d of %d categories failed",
			l.Synced, failed, len(categories))
		s.finalize(ctx, l, OutcomePartial)
	default:
		l.Message = "all categories failed"
		s.finalize(ctx, l, OutcomeFailed)
	}

	if succeeded > 0 {
		if err := s.conns.UpdateLastSync(ctx, c.ID, now); err != nil {
			s.log.Warn().Err(err).Str("connection_id", c.ID.String()).
				Msg("last-sync update failed")
		}
	}
	return l, nil
}

// dateRange picks the effective window: explicit, else last sync minus a
// one-day overlap, else the first-sync lookback.
func (s *Service) dateRange(c *connection.Connection, opts Options, now time.Time) (time.Time, time.Time) {
	end := now
	if opts.End != nil {
		end = *opts.End
	}
	if opts.Start != nil {
		return *opts.Start, end
	}
	if c.LastSyncAt != nil {
		return c.LastSyncAt.Add(-DefaultOverlap), end
	}
	return now.Add(-s.lookback), end
}

// ensureToken refreshes an expired access token under the per-connection
// lock. On refresh failure the connection is marked TokenExpired.
func (s *Service) ensureToken(ctx context.Context, c *connection.Connection, adapter provider.CloudAdapter, now time.Time) bool {
	lock := s.connLock(c.ID)
	lock.Lock()
	defer lock.Unlock()

	if !c.TokenExpired(now) {
		return true
	}

	grant, err := adapter.Refresh(ctx, c.RefreshToken)
	if err != nil || grant == nil {
		s.log.Warn().Err(err).Str("connection_id", c.ID.String()).Msg("token refresh failed")
		c.Status = connection.StatusTokenExpired
		if uerr := s.conns.UpdateStatus(ctx, c.ID, connection.StatusTokenExpired); uerr != nil {
			s.log.Error().Err(uerr).Str("connection_id", c.ID.String()).
				Msg("status update failed")
		}
		return false
	}

	c.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		c.RefreshToken = grant.RefreshToken
	}
	if !grant.Expiry.IsZero() {
		expiry := grant.Expiry
		c.TokenExpiry = &expiry
	}
	c.Status = connection.StatusConnected
	if err := s.conns.UpdateTokens(ctx, c); err != nil {
		s.log.Error().Err(err).Str("connection_id", c.ID.String()).
			Msg("token persist failed")
		return false
	}
	return true
}

func (s *Service) syncCategory(ctx context.Context, c *connection.Connection,
	adapter provider.CloudAdapter, cat provider.Category, start, end time.Time) (int, error) {
	batch, err := adapter.Fetch(ctx, c.AccessToken, cat, start, end)
	if err != nil {
		return 0, err
	}
	if batch == nil {
		return 0, nil
	}
	ms := s.normalizer.Normalize(c.UserID, batch)
	res, err := s.measurements.Ingest(ctx, ms)
	if err != nil {
		return res.Processed + res.Updated, err
	}
	return res.Processed + res.Updated, nil
}

func (s *Service) skip(ctx context.Context, l *Log, opts Options, reason string) (*Log, error) {
	l.Outcome = OutcomeSkipped
	l.Message = reason
	ended := s.now()
	l.EndedAt = &ended
	if opts.Scheduled {
		if err := s.logs.Create(ctx, l); err != nil {
			return nil, fmt.Errorf("create sync log: %w", err)
		}
	}
	return l, nil
}

func (s *Service) finalize(ctx context.Context, l *Log, outcome Outcome) {
	l.Outcome = outcome
	ended := s.now()
	l.EndedAt = &ended
	if err := s.logs.Finalize(ctx, l); err != nil {
		s.log.Error().Err(err).Str("sync_log_id", l.ID.String()).
			Msg("sync log finalize failed")
	}
}

func intersect(a, b []provider.Category) []provider.Category {
	in := make(map[provider.Category]bool, len(b))
	for _, c := range b {
		in[c] = true
	}
	var out []provider.Category
	for _, c := range a {
		if in[c] {
			out = append(out, c)
		}
	}
	return out
}

// TestResult reports the health of one connection.
type TestResult struct {
	Connected  bool `json:"connected"`
	TokenValid bool `json:"token_valid"`
	Refreshed  bool `json:"refreshed"`
}

// TestConnection checks a connection's token, attempting a refresh when the
// token has expired.
func (s *Service) TestConnection(ctx context.Context, connID uuid.UUID) (*TestResult, error) {
	c, err := s.conns.GetByID(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	now := s.now()

	res := &TestResult{
		TokenValid: c.AccessToken != "" && !c.TokenExpired(now),
	}
	if res.TokenValid {
		res.Connected = s.connSvc.IsConnected(ctx, c)
		return res, nil
	}

	adapter, ok := s.registry.Cloud(c.Provider)
	if !ok {
		return res, nil
	}
	if s.ensureToken(ctx, c, adapter, now) {
		res.Refreshed = true
		res.TokenValid = true
		res.Connected = s.connSvc.IsConnected(ctx, c)
	}
	return res, nil
}

// PushResult summarizes one client-pushed batch.
type PushResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	RecordsProcessed int    `json:"records_processed"`
}

// IngestPush accepts a mobile-pushed payload, ensures the backing connection
// exists, and routes every parsed record through the normalizer.
func (s *Service) IngestPush(ctx context.Context, userID uuid.UUID, p provider.ID, payload []byte) (*PushResult, error) {
	adapter, ok := s.registry.Push(p)
	if !ok {
		return nil, connection.ErrNotConfigured
	}

	records, err := adapter.ParseBatch(payload)
	if err != nil {
		return &PushResult{Message: fmt.Sprintf("malformed payload: %v", err)}, nil
	}

	c, err := s.connSvc.EnsurePushConnection(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if !c.Consented {
		return &PushResult{Message: "consent not granted"}, nil
	}

	ms := s.normalizer.NormalizePush(userID, adapter, records)
	res, err := s.measurements.Ingest(ctx, ms)
	if err != nil {
		return nil, err
	}
	if err := s.conns.UpdateLastSync(ctx, c.ID, s.now()); err != nil {
		s.log.Warn().Err(err).Str("connection_id", c.ID.String()).
			Msg("last-sync update failed")
	}

	total := res.Processed + res.Updated
	return &PushResult{
		Success:          true,
		Message:          fmt.Sprintf("processed %d of %d records", total, len(records)),
		RecordsProcessed: total,
	}, nil
}

// SyncDue runs one scheduled pass over every connection whose sync interval
// has elapsed. Attempts are independent; one failing connection never stops
// the rest.
func (s *Service) SyncDue(ctx context.Context) {
	due, err := s.conns.ListDue(ctx, s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("due-connection listing failed")
		return
	}
	for _, c := range due {
		if _, err := s.run(ctx, c, Options{Scheduled: true}); err != nil {
			s.log.Error().Err(err).
				Str("connection_id", c.ID.String()).
				Str("provider", string(c.Provider)).
				Msg("scheduled sync failed")
		}
	}
}
