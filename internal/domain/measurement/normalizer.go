package measurement

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// Normalizer converts provider-shaped raw payloads into Measurements.
// A malformed or unsupported record is skipped with a log entry, never an
// error: one bad entry must not sink the rest of a batch.
type Normalizer struct {
	log zerolog.Logger
}

func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{log: logger.With().Str("component", "normalizer").Logger()}
}

// Normalize expands one fetched batch into zero or more Measurements.
func (n *Normalizer) Normalize(userID uuid.UUID, batch *provider.RawBatch) []*Measurement {
	if batch == nil {
		return nil
	}
	switch payload := batch.Payload.(type) {
	case []provider.FitbitSeriesPoint:
		return n.fitbitSeries(userID, batch.Category, payload)
	case []provider.FitbitHeartDay:
		return n.fitbitHeart(userID, payload)
	case []provider.FitbitWeightLog:
		return n.fitbitWeight(userID, payload)
	case []provider.FitbitSleepLog:
		return n.fitbitSleep(userID, payload)
	case []provider.WithingsGroup:
		return n.withingsGroups(userID, batch.Category, payload)
	case []provider.GarminDaily:
		return n.garminDailies(userID, batch.Category, payload)
	case []provider.GarminSleep:
		return n.garminSleep(userID, payload)
	default:
		n.log.Warn().
			Str("provider", string(batch.Provider)).
			Str("category", string(batch.Category)).
			Msg("unsupported payload shape")
		return nil
	}
}

const dayFormat = "2006-01-02"

func (n *Normalizer) fitbitSeries(userID uuid.UUID, cat provider.Category, points []provider.FitbitSeriesPoint) []*Measurement {
	var out []*Measurement
	for _, p := range points {
		recorded, err := time.Parse(dayFormat, p.DateTime)
		if err != nil {
			n.log.Warn().Str("date", p.DateTime).Msg("bad series date")
			continue
		}
		value, err := strconv.ParseFloat(p.Value, 64)
		if err != nil {
			n.log.Warn().Str("value", p.Value).Msg("bad series value")
			continue
		}
		// A zero entry is a day with no data, not a reading.
		if value == 0 {
			continue
		}
		out = append(out, &Measurement{
			UserID:     userID,
			Provider:   provider.Fitbit,
			Category:   cat,
			Value:      value,
			Unit:       Unit(cat),
			RecordedAt: recorded,
			ExternalID: fmt.Sprintf("fitbit:%s:%s", cat, p.DateTime),
		})
	}
	return out
}

func (n *Normalizer) fitbitHeart(userID uuid.UUID, days []provider.FitbitHeartDay) []*Measurement {
	var out []*Measurement
	for _, d := range days {
		if d.Value.RestingHeartRate <= 0 {
			continue
		}
		recorded, err := time.Parse(dayFormat, d.DateTime)
		if err != nil {
			n.log.Warn().Str("date", d.DateTime).Msg("bad heart date")
			continue
		}
		out = append(out, &Measurement{
			UserID:     userID,
			Provider:   provider.Fitbit,
			Category:   provider.CategoryHeartRate,
			Value:      d.Value.RestingHeartRate,
			Unit:       Unit(provider.CategoryHeartRate),
			RecordedAt: recorded,
			ExternalID: fmt.Sprintf("fitbit:heart_rate:%s", d.DateTime),
			Extra:      map[string]interface{}{"kind": "resting"},
		})
	}
	return out
}

func (n *Normalizer) fitbitWeight(userID uuid.UUID, logs []provider.FitbitWeightLog) []*Measurement {
	var out []*Measurement
	for _, w := range logs {
		recorded, err := time.Parse(dayFormat+" 15:04:05", w.Date+" "+w.Time)
		if err != nil {
			recorded, err = time.Parse(dayFormat, w.Date)
			if err != nil {
				n.log.Warn().Str("date", w.Date).Msg("bad weight date")
				continue
			}
		}
		var device *string
		if w.Source != "" {
			src := w.Source
			device = &src
		}
		out = append(out, &Measurement{
			UserID:     userID,
			Provider:   provider.Fitbit,
			Category:   provider.CategoryWeight,
			Value:      w.Weight,
			Unit:       Unit(provider.CategoryWeight),
			RecordedAt: recorded,
			DeviceID:   device,
			ExternalID: fmt.Sprintf("fitbit:weight:%d", w.LogID),
		})
		if w.Fat > 0 {
			out = append(out, &Measurement{
				UserID:     userID,
				Provider:   provider.Fitbit,
				Category:   provider.CategoryBodyFat,
				Value:      w.Fat,
				Unit:       Unit(provider.CategoryBodyFat),
				RecordedAt: recorded,
				DeviceID:   device,
				ExternalID: fmt.Sprintf("fitbit:body_fat:%d", w.LogID),
			})
		}
	}
	return out
}

func (n *Normalizer) fitbitSleep(userID uuid.UUID, logs []provider.FitbitSleepLog) []*Measurement {
	var out []*Measurement
	for _, s := range logs {
		recorded, err := time.Parse("2006-01-02T15:04:05.000", s.StartTime)
		if err != nil {
			recorded, err = time.Parse(dayFormat, s.DateOfSleep)
			if err != nil {
				n.log.Warn().Str("date", s.DateOfSleep).Msg("bad sleep date")
				continue
			}
		}
		extra := map[string]interface{}{"efficiency": s.Efficiency}
		for stage, v := range s.Levels.Summary {
			extra[stage+"_minutes"] = v.Minutes
		}
		out = append(out, &Measurement{
			UserID:     userID,
			Provider:   provider.Fitbit,
			Category:   provider.CategorySleep,
			Value:      float64(s.Duration) / 60000, // milliseconds to minutes
			Unit:       Unit(provider.CategorySleep),
			RecordedAt: recorded,
			ExternalID: fmt.Sprintf("fitbit:sleep:%d", s.LogID),
			Extra:      extra,
		})
	}
	return out
}

func (n *Normalizer) withingsGroups(userID uuid.UUID, cat provider.Category, groups []provider.WithingsGroup) []*Measurement {
	var out []*Measurement
	for _, g := range groups {
		recorded := time.Unix(g.Date, 0).UTC()
		var device *string
		if g.DeviceID != "" {
			d := g.DeviceID
			device = &d
		}

		if cat == provider.CategoryBloodPressure {
			m := n.withingsBloodPressure(userID, g, recorded, device)
			if m != nil {
				out = append(out, m)
			}
			continue
		}

		for _, meas := range g.Measures {
			value, ok := withingsValue(cat, meas)
			if !ok {
				continue
			}
			out = append(out, &Measurement{
				UserID:     userID,
				Provider:   provider.Withings,
				Category:   cat,
				Value:      value,
				Unit:       Unit(cat),
				RecordedAt: recorded,
				DeviceID:   device,
				ExternalID: fmt.Sprintf("withings:%s:%d", cat, g.GrpID),
			})
		}
	}
	return out
}

// withingsValue converts one measure into the category's canonical unit, or
// reports false when the measure type does not belong to the category.
func withingsValue(cat provider.Category, m provider.WithingsMeasure) (float64, bool) {
	switch {
	case cat == provider.CategoryWeight && m.Type == provider.WithingsTypeWeight:
		return m.Real(), true
	case cat == provider.CategoryHeight && m.Type == provider.WithingsTypeHeight:
		return m.Real() * 100, true // meters to cm
	case cat == provider.CategoryBodyFat && m.Type == provider.WithingsTypeFatRatio:
		return m.Real(), true
	case cat == provider.CategoryHeartRate && m.Type == provider.WithingsTypeHeartRate:
		return m.Real(), true
	case cat == provider.CategoryTemperature && m.Type == provider.WithingsTypeTemperature:
		return m.Real(), true
	case cat == provider.CategoryOxygen && m.Type == provider.WithingsTypeSpO2:
		return m.Real(), true
	}
	return 0, false
}

// withingsBloodPressure requires systolic and diastolic in the same group;
// a group carrying only one side is skipped.
func (n *Normalizer) withingsBloodPressure(userID uuid.UUID, g provider.WithingsGroup, recorded time.Time, device *string) *Measurement {
	var systolic, diastolic *int
	for _, m := range g.Measures {
		switch m.Type {
		case provider.WithingsTypeSystolic:
			v := int(m.Real())
			systolic = &v
		case provider.WithingsTypeDiastolic:
			v := int(m.Real())
			diastolic = &v
		}
	}
	if systolic == nil || diastolic == nil {
		n.log.Warn().Int64("grpid", g.GrpID).Msg("blood pressure group missing a component")
		return nil
	}
	return &Measurement{
		UserID:     userID,
		Provider:   provider.Withings,
		Category:   provider.CategoryBloodPressure,
		Value:      float64(*systolic),
		Unit:       Unit(provider.CategoryBloodPressure),
		RecordedAt: recorded,
		DeviceID:   device,
		ExternalID: fmt.Sprintf("withings:blood_pressure:%d", g.GrpID),
		Systolic:   systolic,
		Diastolic:  diastolic,
	}
}

func (n *Normalizer) garminDailies(userID uuid.UUID, cat provider.Category, dailies []provider.GarminDaily) []*Measurement {
	var out []*Measurement
	for _, d := range dailies {
		recorded, err := time.Parse(dayFormat, d.CalendarDate)
		if err != nil {
			n.log.Warn().Str("date", d.CalendarDate).Msg("bad daily date")
			continue
		}
		value, ok := garminDailyValue(cat, d)
		if !ok {
			continue
		}
		out = append(out, &Measurement{
			UserID:     userID,
			Provider:   provider.Garmin,
			Category:   cat,
			Value:      value,
			Unit:       Unit(cat),
			RecordedAt: recorded,
			ExternalID: fmt.Sprintf("garmin:%s:%s", cat, d.SummaryID),
		})
	}
	return out
}

func garminDailyValue(cat provider.Category, d provider.GarminDaily) (float64, bool) {
	switch cat {
	case provider.CategorySteps:
		return float64(d.Steps), d.Steps > 0
	case provider.CategoryDistance:
		return d.DistanceInMeters / 1000, d.DistanceInMeters > 0
	case provider.CategoryCalories:
		return float64(d.ActiveKilocalories), d.ActiveKilocalories > 0
	case provider.CategoryActiveMinutes:
		return float64(d.ActiveTimeSeconds) / 60, d.ActiveTimeSeconds > 0
	case provider.CategoryHeartRate:
		return float64(d.RestingHeartRate), d.RestingHeartRate > 0
	case provider.CategoryStress:
		return float64(d.AvgStressLevel), d.AvgStressLevel > 0
	}
	return 0, false
}

func (n *Normalizer) garminSleep(userID uuid.UUID, sleeps []provider.GarminSleep) []*Measurement {
	var out []*Measurement
	for _, s := range sleeps {
		recorded, err := time.Parse(dayFormat, s.CalendarDate)
		if err != nil {
			n.log.Warn().Str("date", s.CalendarDate).Msg("bad sleep date")
			continue
		}
		out = append(out, &Measurement{
			UserID:     userID,
			Provider:   provider.Garmin,
			Category:   provider.CategorySleep,
			Value:      float64(s.DurationSeconds) / 60,
			Unit:       Unit(provider.CategorySleep),
			RecordedAt: recorded,
			ExternalID: fmt.Sprintf("garmin:sleep:%s", s.SummaryID),
			Extra: map[string]interface{}{
				"deep_minutes":  s.DeepSleepSeconds / 60,
				"light_minutes": s.LightSleepSeconds / 60,
				"rem_minutes":   s.RemSleepSeconds / 60,
				"awake_minutes": s.AwakeDurationSeconds / 60,
			},
		})
	}
	return out
}

// NormalizePush converts a client-pushed batch. Records the adapter cannot
// classify are skipped with a warning. Records lacking a natural external id
// get a synthetic one combining provider, category, timestamp and an ordinal
// counter within the batch, which is deterministic when a batch is replayed.
func (n *Normalizer) NormalizePush(userID uuid.UUID, adapter provider.PushAdapter, records []provider.PushRecord) []*Measurement {
	var out []*Measurement
	ordinal := 0
	for _, rec := range records {
		cat, ok := adapter.Category(rec.Type)
		if !ok {
			n.log.Warn().Str("type", rec.Type).
				Str("provider", string(adapter.ID())).
				Msg("unknown record type")
			continue
		}

		externalID := rec.ExternalID
		if externalID == "" {
			externalID = fmt.Sprintf("%s:%s:%d:%d", adapter.ID(), cat, rec.RecordedAt.Unix(), ordinal)
			ordinal++
		} else {
			externalID = fmt.Sprintf("%s:%s:%s", adapter.ID(), cat, externalID)
		}

		unit := rec.Unit
		if unit == "" {
			unit = Unit(cat)
		}
		var device *string
		if rec.DeviceModel != "" {
			d := rec.DeviceModel
			device = &d
		}

		m := &Measurement{
			UserID:     userID,
			Provider:   adapter.ID(),
			Category:   cat,
			Value:      rec.Value,
			Unit:       unit,
			RecordedAt: rec.RecordedAt,
			DeviceID:   device,
			ExternalID: externalID,
			Extra:      rec.Extra,
		}

		if cat == provider.CategoryBloodPressure {
			if rec.Systolic <= 0 || rec.Diastolic <= 0 {
				n.log.Warn().Str("type", rec.Type).Msg("blood pressure record missing a component")
				continue
			}
			sys, dia := int(rec.Systolic), int(rec.Diastolic)
			m.Systolic, m.Diastolic = &sys, &dia
			m.Value = rec.Systolic
		}

		out = append(out, m)
	}
	return out
}
