package measurement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/platform/clinical"
)

type Service struct {
	repo Repository
	sink clinical.Sink
	log  zerolog.Logger
}

func NewService(repo Repository, sink clinical.Sink, logger zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		sink: sink,
		log:  logger.With().Str("component", "measurements").Logger(),
	}
}

// IngestResult summarizes one Ingest call.
type IngestResult struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
	Mirrored  int `json:"mirrored"`
}

// Ingest upserts each measurement and mirrors newly created ones into the
// clinical record. Mirroring is best-effort per measurement: a sink failure
// is logged and the rest of the batch continues. An upsert failure aborts
// with the counts accumulated so far.
func (s *Service) Ingest(ctx context.Context, ms []*Measurement) (IngestResult, error) {
	var res IngestResult
	for _, m := range ms {
		created, err := s.repo.Upsert(ctx, m)
		if err != nil {
			return res, fmt.Errorf("ingest %s: %w", m.ExternalID, err)
		}
		if !created {
			res.Updated++
			continue
		}
		res.Processed++
		if s.mirror(ctx, m) {
			res.Mirrored++
		}
	}
	return res, nil
}

// mirror writes one newly created measurement into the clinical record and
// marks it mirrored. Runs at most once per measurement: only creations reach
// here, and MarkMirrored keeps the flag monotonic.
func (s *Service) mirror(ctx context.Context, m *Measurement) bool {
	vitalType, ok := VitalType(m.Category)
	if !ok || m.Mirrored {
		return false
	}

	value := fmt.Sprintf("%g", m.Value)
	if m.Systolic != nil && m.Diastolic != nil {
		value = fmt.Sprintf("%d/%d", *m.Systolic, *m.Diastolic)
	}
	device := ""
	if m.DeviceID != nil {
		device = *m.DeviceID
	}

	vitalID, err := s.sink.Upsert(ctx, clinical.VitalSign{
		Type:       vitalType,
		Value:      value,
		Unit:       m.Unit,
		MeasuredAt: m.RecordedAt,
		Source:     string(m.Provider),
		DeviceID:   device,
		CreatedBy:  m.UserID,
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("external_id", m.ExternalID).
			Msg("clinical mirror failed")
		return false
	}

	if err := s.repo.MarkMirrored(ctx, m.ID, vitalID); err != nil {
		s.log.Warn().Err(err).
			Str("external_id", m.ExternalID).
			Msg("mirror flag update failed")
		return false
	}
	m.Mirrored = true
	m.VitalID = &vitalID
	return true
}

func (s *Service) List(ctx context.Context, userID uuid.UUID, f ListFilter) ([]*Measurement, int, error) {
	return s.repo.ListByUser(ctx, userID, f)
}

func (s *Service) Latest(ctx context.Context, userID uuid.UUID) ([]*Measurement, error) {
	return s.repo.LatestByCategory(ctx, userID)
}

// PurgeOlderThan drops measurements past the retention window.
func (s *Service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("measurement retention sweep")
	}
	return n, nil
}
