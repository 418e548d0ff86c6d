package sync

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/config"
	"github.com/TechCorp07/klara-test-sub001/internal/domain/connection"
	"github.com/TechCorp07/klara-test-sub001/internal/domain/measurement"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/audit"
	"github.com/TechCorp07/klara-test-sub001/internal/platform/clinical"
	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

// -- Mock connection repository --

type mockConnRepo struct {
	store map[uuid.UUID]*connection.Connection
}

func newMockConnRepo() *mockConnRepo {
	return &mockConnRepo{store: make(map[uuid.UUID]*connection.Connection)}
}

func (m *mockConnRepo) Create(_ context.Context, c *connection.Connection) error {
	c.ID = uuid.New()
	m.store[c.ID] = c
	return nil
}

func (m *mockConnRepo) GetByID(_ context.Context, id uuid.UUID) (*connection.Connection, error) {
	c, ok := m.store[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return c, nil
}

func (m *mockConnRepo) GetByUserProvider(_ context.Context, userID uuid.UUID, p provider.ID) (*connection.Connection, error) {
	for _, c := range m.store {
		if c.UserID == userID && c.Provider == p {
			return c, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockConnRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*connection.Connection, error) {
	var r []*connection.Connection
	for _, c := range m.store {
		if c.UserID == userID {
			r = append(r, c)
		}
	}
	return r, nil
}

func (m *mockConnRepo) ListDue(_ context.Context, now time.Time) ([]*connection.Connection, error) {
	var r []*connection.Connection
	for _, c := range m.store {
		if c.Consented && c.Status == connection.StatusConnected && c.NeedsSync(now) {
			r = append(r, c)
		}
	}
	return r, nil
}

func (m *mockConnRepo) Update(_ context.Context, c *connection.Connection) error {
	m.store[c.ID] = c
	return nil
}

func (m *mockConnRepo) UpdateStatus(_ context.Context, id uuid.UUID, status connection.Status) error {
	c, ok := m.store[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	c.Status = status
	return nil
}

func (m *mockConnRepo) UpdateTokens(_ context.Context, c *connection.Connection) error {
	m.store[c.ID] = c
	return nil
}

func (m *mockConnRepo) UpdateLastSync(_ context.Context, id uuid.UUID, at time.Time) error {
	c, ok := m.store[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	c.LastSyncAt = &at
	return nil
}

// -- Mock sync log repository --

type mockLogRepo struct {
	created   []*Log
	finalized []*Log
}

func (m *mockLogRepo) Create(_ context.Context, l *Log) error {
	l.ID = uuid.New()
	cp := *l
	m.created = append(m.created, &cp)
	return nil
}

func (m *mockLogRepo) Finalize(_ context.Context, l *Log) error {
	m.finalized = append(m.finalized, l)
	return nil
}

func (m *mockLogRepo) ListByUser(_ context.Context, userID uuid.UUID, _, _ int) ([]*Log, int, error) {
	var r []*Log
	for _, l := range m.created {
		if l.UserID == userID {
			r = append(r, l)
		}
	}
	return r, len(r), nil
}

func (m *mockLogRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	kept := m.created[:0]
	for _, l := range m.created {
		if l.StartedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	m.created = kept
	return n, nil
}

// -- Mock measurement repository and clinical sink --

type mockMeasurementRepo struct {
	byKey map[string]*measurement.Measurement
}

func newMockMeasurementRepo() *mockMeasurementRepo {
	return &mockMeasurementRepo{byKey: make(map[string]*measurement.Measurement)}
}

func (m *mockMeasurementRepo) Upsert(_ context.Context, in *measurement.Measurement) (bool, error) {
	k := string(in.Provider) + "|" + in.ExternalID
	if existing, ok := m.byKey[k]; ok {
		existing.Value = in.Value
		in.ID = existing.ID
		in.Mirrored = existing.Mirrored
		return false, nil
	}
	in.ID = uuid.New()
	cp := *in
	m.byKey[k] = &cp
	return true, nil
}

func (m *mockMeasurementRepo) GetByExternalID(_ context.Context, p provider.ID, externalID string) (*measurement.Measurement, error) {
	if ms, ok := m.byKey[string(p)+"|"+externalID]; ok {
		return ms, nil
	}
	return nil, fmt.Errorf("not found")
}

func (m *mockMeasurementRepo) ListByUser(_ context.Context, _ uuid.UUID, _ measurement.ListFilter) ([]*measurement.Measurement, int, error) {
	return nil, 0, nil
}

func (m *mockMeasurementRepo) LatestByCategory(_ context.Context, _ uuid.UUID) ([]*measurement.Measurement, error) {
	return nil, nil
}

func (m *mockMeasurementRepo) MarkMirrored(_ context.Context, id uuid.UUID, vitalID uuid.UUID) error {
	for _, ms := range m.byKey {
		if ms.ID == id {
			ms.Mirrored = true
			ms.VitalID = &vitalID
		}
	}
	return nil
}

func (m *mockMeasurementRepo) DeleteOlderThan(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type mockSink struct {
	writes []clinical.VitalSign
}

func (s *mockSink) Upsert(_ context.Context, v clinical.VitalSign) (uuid.UUID, error) {
	s.writes = append(s.writes, v)
	return uuid.New(), nil
}

// -- Fake cloud adapter --

type fakeAdapter struct {
	id           provider.ID
	cats         []provider.Category
	fetch        func(cat provider.Category, start, end time.Time) (*provider.RawBatch, error)
	refreshGrant *provider.TokenGrant
	refreshErr   error
	refreshCalls int
}

func (f *fakeAdapter) ID() provider.ID                 { return f.id }
func (f *fakeAdapter) Categories() []provider.Category { return f.cats }
func (f *fakeAdapter) AuthorizeURL(string) string      { return "" }

func (f *fakeAdapter) ExchangeCode(context.Context, string) (*provider.TokenGrant, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeAdapter) Refresh(context.Context, string) (*provider.TokenGrant, error) {
	f.refreshCalls++
	return f.refreshGrant, f.refreshErr
}

func (f *fakeAdapter) Fetch(_ context.Context, _ string, cat provider.Category, start, end time.Time) (*provider.RawBatch, error) {
	return f.fetch(cat, start, end)
}

// -- Fixture --

type fixture struct {
	svc     *Service
	conns   *mockConnRepo
	logs    *mockLogRepo
	stored  *mockMeasurementRepo
	sink    *mockSink
	adapter *fakeAdapter
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()
	registry := provider.NewRegistry(&config.Config{}, logger)
	adapter := &fakeAdapter{
		id:   provider.Fitbit,
		cats: []provider.Category{provider.CategorySteps, provider.CategoryWeight},
		fetch: func(provider.Category, time.Time, time.Time) (*provider.RawBatch, error) {
			return nil, nil
		},
	}
	registry.RegisterCloud(adapter)

	conns := newMockConnRepo()
	connSvc := connection.NewService(conns, registry, connection.NewStateStore(0),
		audit.LogRecorder{Logger: logger}, logger, 1, 168)

	stored := newMockMeasurementRepo()
	sink := &mockSink{}
	measurements := measurement.NewService(stored, sink, logger)

	logs := &mockLogRepo{}
	svc := NewService(conns, connSvc, logs, registry, measurement.NewNormalizer(logger),
		measurements, logger, 30)
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	return &fixture{svc: svc, conns: conns, logs: logs, stored: stored,
		sink: sink, adapter: adapter, now: now}
}

func (f *fixture) connected(t *testing.T) *connection.Connection {
	t.Helper()
	expiry := time.Now().Add(4 * time.Hour)
	c := &connection.Connection{
		UserID:        uuid.New(),
		Provider:      provider.Fitbit,
		Status:        connection.StatusConnected,
		AccessToken:   "access",
		RefreshToken:  "refresh",
		TokenExpiry:   &expiry,
		Consented:     true,
		Collect:       connection.DefaultCollectionSettings(),
		SyncFrequency: 24,
	}
	f.conns.Create(context.Background(), c)
	return c
}

func stepsPayload(dates ...string) *provider.RawBatch {
	points := make([]provider.FitbitSeriesPoint, len(dates))
	for i, d := range dates {
		points[i] = provider.FitbitSeriesPoint{DateTime: d, Value: "1000"}
	}
	return &provider.RawBatch{
		Provider: provider.Fitbit,
		Category: provider.CategorySteps,
		Payload:  points,
	}
}

// -- Tests --

func TestTriggerSync_Success(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	f.adapter.fetch = func(cat provider.Category, _, _ time.Time) (*provider.RawBatch, error) {
		if cat == provider.CategorySteps {
			return stepsPayload("2024-05-08", "2024-05-09", "2024-05-10"), nil
		}
		return nil, nil
	}

	l, err := f.svc.TriggerSync(context.Background(), c.ID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %s, want success", l.Outcome)
	}
	if l.Synced != 3 {
		t.Errorf("synced = %d, want 3", l.Synced)
	}
	if l.EndedAt == nil {
		t.Error("ended_at not set")
	}
	if c.LastSyncAt == nil || !c.LastSyncAt.Equal(f.now) {
		t.Errorf("last_sync = %v, want %v", c.LastSyncAt, f.now)
	}
	if len(f.logs.created) != 1 || len(f.logs.finalized) != 1 {
		t.Errorf("log writes: created=%d finalized=%d", len(f.logs.created), len(f.logs.finalized))
	}
	if f.logs.created[0].Outcome != OutcomeFailed {
		t.Error("log must be created in the pessimistic failed state")
	}
}

func TestTriggerSync_PartialWhenOneCategoryFails(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	f.adapter.fetch = func(cat provider.Category, _, _ time.Time) (*provider.RawBatch, error) {
		switch cat {
		case provider.CategorySteps:
			return stepsPayload("2024-05-08", "2024-05-09", "2024-05-10"), nil
		case provider.CategoryWeight:
			return nil, fmt.Errorf("upstream 502")
		}
		return nil, nil
	}

	l, err := f.svc.TriggerSync(context.Background(), c.ID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Outcome != OutcomePartial {
		t.Errorf("outcome = %s, want partial", l.Outcome)
	}
	if l.Synced != 3 {
		t.Errorf("synced = %d, want 3", l.Synced)
	}
	if _, ok := l.Details["weight"]; !ok {
		t.Errorf("details should carry the weight error, got %v", l.Details)
	}
	if c.LastSyncAt == nil {
		t.Error("a partial sync still advances last_sync")
	}
}

func TestTriggerSync_FailedWhenAllCategoriesFail(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	f.adapter.fetch = func(provider.Category, time.Time, time.Time) (*provider.RawBatch, error) {
		return nil, fmt.Errorf("upstream down")
	}

	l, err := f.svc.TriggerSync(context.Background(), c.ID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Outcome != OutcomeFailed {
		t.Errorf("outcome = %s, want failed", l.Outcome)
	}
	if c.LastSyncAt != nil {
		t.Error("a wholly failed sync must not advance last_sync")
	}
}

func TestTriggerSync_SkippedWithoutConsent(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	c.Consented = false

	l, err := f.svc.TriggerSync(context.Background(), c.ID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", l.Outcome)
	}
	// Caller-initiated skips are transient; scheduled ones persist.
	if len(f.logs.created) != 0 {
		t.Error("caller-initiated skip must not persist a sync log")
	}

	if _, err := f.svc.TriggerSync(context.Background(), c.ID, Options{Scheduled: true}); err != nil {
		t.Fatalf("scheduled: %v", err)
	}
	if len(f.logs.created) != 1 || f.logs.created[0].Outcome != OutcomeSkipped {
		t.Error("scheduled skip must persist a skipped sync log")
	}
}

func TestTriggerSync_DateRangeOverlap(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	last := f.now.Add(-5 * 24 * time.Hour)
	c.LastSyncAt = &last

	var gotStart, gotEnd time.Time
	f.adapter.fetch = func(_ provider.Category, start, end time.Time) (*provider.RawBatch, error) {
		gotStart, gotEnd = start, end
		return nil, nil
	}

	if _, err := f.svc.TriggerSync(context.Background(), c.ID, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantStart := last.Add(-24 * time.Hour)
	if !gotStart.Equal(wantStart) {
		t.Errorf("start = %v, want last sync minus one day overlap %v", gotStart, wantStart)
	}
	if !gotEnd.Equal(f.now) {
		t.Errorf("end = %v, want now", gotEnd)
	}
}

func TestTriggerSync_FirstSyncLookback(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)

	var gotStart time.Time
	f.adapter.fetch = func(_ provider.Category, start, _ time.Time) (*provider.RawBatch, error) {
		gotStart = start
		return nil, nil
	}

	if _, err := f.svc.TriggerSync(context.Background(), c.ID, Options{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := f.now.Add(-30 * 24 * time.Hour)
	if !gotStart.Equal(want) {
		t.Errorf("start = %v, want 30-day lookback %v", gotStart, want)
	}
}

func TestTriggerSync_ExplicitRangeWins(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)

	var gotStart, gotEnd time.Time
	f.adapter.fetch = func(_ provider.Category, start, end time.Time) (*provider.RawBatch, error) {
		gotStart, gotEnd = start, end
		return nil, nil
	}

	start := f.now.Add(-72 * time.Hour)
	end := f.now.Add(-48 * time.Hour)
	if _, err := f.svc.TriggerSync(context.Background(), c.ID, Options{Start: &start, End: &end}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !gotStart.Equal(start) || !gotEnd.Equal(end) {
		t.Errorf("range = [%v, %v], want [%v, %v]", gotStart, gotEnd, start, end)
	}
}

func TestTriggerSync_RefreshFailureMarksExpired(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	expired := f.now.Add(-time.Hour)
	c.TokenExpiry = &expired
	f.adapter.refreshErr = fmt.Errorf("invalid_grant")

	l, err := f.svc.TriggerSync(context.Background(), c.ID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Outcome != OutcomeFailed || l.Message != "token refresh failed" {
		t.Errorf("log = %s %q", l.Outcome, l.Message)
	}
	if c.Status != connection.StatusTokenExpired {
		t.Errorf("status = %s, want token_expired", c.Status)
	}
	if f.adapter.refreshCalls != 1 {
		t.Errorf("refresh calls = %d", f.adapter.refreshCalls)
	}
}

func TestTriggerSync_RefreshSuccessPersistsTokens(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	expired := f.now.Add(-time.Hour)
	c.TokenExpiry = &expired
	freshExpiry := f.now.Add(8 * time.Hour)
	f.adapter.refreshGrant = &provider.TokenGrant{
		AccessToken: "fresh", RefreshToken: "fresh-refresh", Expiry: freshExpiry,
	}

	l, err := f.svc.TriggerSync(context.Background(), c.ID, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Outcome != OutcomeSuccess {
		t.Errorf("outcome = %s", l.Outcome)
	}
	if c.AccessToken != "fresh" || c.RefreshToken != "fresh-refresh" {
		t.Errorf("tokens not rotated: %s/%s", c.AccessToken, c.RefreshToken)
	}
	if c.Status != connection.StatusConnected {
		t.Errorf("status = %s", c.Status)
	}
}

func TestTriggerSync_RerunDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)
	f.adapter.fetch = func(cat provider.Category, _, _ time.Time) (*provider.RawBatch, error) {
		if cat == provider.CategorySteps {
			return stepsPayload("2024-05-09", "2024-05-10"), nil
		}
		return nil, nil
	}

	if _, err := f.svc.TriggerSync(context.Background(), c.ID, Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := f.svc.TriggerSync(context.Background(), c.ID, Options{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(f.stored.byKey) != 2 {
		t.Errorf("measurement count = %d, want 2 after overlapping reruns", len(f.stored.byKey))
	}
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t)
	c := f.connected(t)

	res, err := f.svc.TestConnection(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Connected || !res.TokenValid || res.Refreshed {
		t.Errorf("result = %+v", res)
	}

	expired := f.now.Add(-time.Hour)
	c.TokenExpiry = &expired
	f.adapter.refreshGrant = &provider.TokenGrant{
		AccessToken: "fresh", Expiry: time.Now().Add(8 * time.Hour),
	}
	res, err = f.svc.TestConnection(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Refreshed || !res.TokenValid || !res.Connected {
		t.Errorf("result after refresh = %+v", res)
	}
}

func TestIngestPush(t *testing.T) {
	f := newFixture(t)
	userID := uuid.New()

	payload := []byte(`{"records":[
		{"type":"HKQuantityTypeIdentifierBodyMass","value":80.5,"unit":"kg","recorded_at":"2024-05-10T08:00:00Z"},
		{"type":"HKQuantityTypeIdentifierStepCount","value":4200,"recorded_at":"2024-05-10T09:00:00Z"}
	]}`)

	res, err := f.svc.IngestPush(context.Background(), userID, provider.AppleHealth, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.RecordsProcessed != 2 {
		t.Errorf("result = %+v", res)
	}
	if len(f.stored.byKey) != 2 {
		t.Errorf("measurement count = %d", len(f.stored.byKey))
	}
	// The backing connection is created on first push.
	if _, err := f.conns.GetByUserProvider(context.Background(), userID, provider.AppleHealth); err != nil {
		t.Error("push connection not created")
	}

	// Replaying the batch updates in place.
	res, err = f.svc.IngestPush(context.Background(), userID, provider.AppleHealth, payload)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(f.stored.byKey) != 2 {
		t.Errorf("measurement count after replay = %d, want 2", len(f.stored.byKey))
	}
}

func TestIngestPush_CloudProviderRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IngestPush(context.Background(), uuid.New(), provider.Fitbit, []byte(`{}`))
	if err != connection.ErrNotConfigured {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSyncDue(t *testing.T) {
	f := newFixture(t)
	due := f.connected(t) // never synced, due immediately
	fresh := f.connected(t)
	syncedAt := f.now.Add(-time.Hour)
	fresh.LastSyncAt = &syncedAt

	f.adapter.fetch = func(cat provider.Category, _, _ time.Time) (*provider.RawBatch, error) {
		if cat == provider.CategorySteps {
			return stepsPayload("2024-05-10"), nil
		}
		return nil, nil
	}

	f.svc.SyncDue(context.Background())

	if len(f.logs.created) != 1 {
		t.Fatalf("log count = %d, want only the due connection synced", len(f.logs.created))
	}
	if f.logs.created[0].ConnectionID != due.ID {
		t.Error("wrong connection synced")
	}
}
