package provider

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// samsungHealthTypes maps Samsung Health data type names to canonical categories.
var samsungHealthTypes = map[string]Category{
	"com.samsung.health.step_count":     CategorySteps,
	"com.samsung.health.exercise":       CategoryActivity,
	"com.samsung.health.heart_rate":     CategoryHeartRate,
	"com.samsung.health.weight":         CategoryWeight,
	"com.samsung.health.height":         CategoryHeight,
	"com.samsung.health.body_fat":       CategoryBodyFat,
	"com.samsung.health.sleep":          CategorySleep,
	"com.samsung.health.blood_pressure": CategoryBloodPressure,
	"com.samsung.health.blood_glucose":  CategoryGlucose,
	"com.samsung.health.oxygen_saturation": CategoryOxygen,
	"com.samsung.health.body_temperature":  CategoryTemperature,
	"com.samsung.health.stress":         CategoryStress,
}

type samsungHealthAdapter struct {
	log zerolog.Logger
}

// NewSamsungHealthAdapter builds the Samsung Health push adapter.
func NewSamsungHealthAdapter(logger zerolog.Logger) PushAdapter {
	return &samsungHealthAdapter{log: logger.With().Str("adapter", "samsung_health").Logger()}
}

func (a *samsungHealthAdapter) ID() ID { return SamsungHealth }

func (a *samsungHealthAdapter) ParseBatch(payload []byte) ([]PushRecord, error) {
	var batch struct {
		Records []PushRecord `json:"records"`
	}
	if err := json.Unmarshal(payload, &batch); err != nil {
		a.log.Warn().Err(err).Msg("malformed push payload")
		return nil, fmt.Errorf("samsung_health: parse batch: %w", err)
	}
	if len(batch.Records) == 0 {
		return nil, fmt.Errorf("samsung_health: batch contains no records")
	}
	return batch.Records, nil
}

func (a *samsungHealthAdapter) Category(recordType string) (Category, bool) {
	cat, ok := samsungHealthTypes[recordType]
	return cat, ok
}

func (a *samsungHealthAdapter) MobileConfig() MobileConfig {
	permissions := make([]string, 0, len(samsungHealthTypes))
	categories := make([]Category, 0, len(samsungHealthTypes))
	seen := map[Category]bool{}
	for dataType, cat := range samsungHealthTypes {
		permissions = append(permissions, dataType)
		if !seen[cat] {
			seen[cat] = true
			categories = append(categories, cat)
		}
	}
	return MobileConfig{
		Provider:            SamsungHealth,
		RequiredPermissions: permissions,
		SupportedCategories: categories,
		DeepLink:            "healthsync://connect/samsung_health",
		Instructions: "Install the companion app, open this link on your Galaxy " +
			"device and grant Samsung Health permissions for the listed data " +
			"types. Data uploads automatically in the background.",
	}
}
