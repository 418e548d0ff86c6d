package provider

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// appleHealthTypes maps HealthKit type identifiers to canonical categories.
var appleHealthTypes = map[string]Category{
	"HKQuantityTypeIdentifierStepCount":             CategorySteps,
	"HKQuantityTypeIdentifierDistanceWalkingRunning": CategoryDistance,
	"HKQuantityTypeIdentifierActiveEnergyBurned":    CategoryCalories,
	"HKQuantityTypeIdentifierAppleExerciseTime":     CategoryActiveMinutes,
	"HKQuantityTypeIdentifierHeartRate":             CategoryHeartRate,
	"HKQuantityTypeIdentifierBodyMass":              CategoryWeight,
	"HKQuantityTypeIdentifierHeight":                CategoryHeight,
	"HKQuantityTypeIdentifierBodyFatPercentage":     CategoryBodyFat,
	"HKQuantityTypeIdentifierOxygenSaturation":      CategoryOxygen,
	"HKQuantityTypeIdentifierBloodGlucose":          CategoryGlucose,
	"HKQuantityTypeIdentifierBodyTemperature":       CategoryTemperature,
	"HKQuantityTypeIdentifierRespiratoryRate":       CategoryRespiratoryRate,
	"HKCategoryTypeIdentifierSleepAnalysis":         CategorySleep,
	"HKCorrelationTypeIdentifierBloodPressure":      CategoryBloodPressure,
}

type appleHealthAdapter struct {
	log zerolog.Logger
}

// NewAppleHealthAdapter builds the Apple Health push adapter.
func NewAppleHealthAdapter(logger zerolog.Logger) PushAdapter {
	return &appleHealthAdapter{log: logger.With().Str("adapter", "apple_health").Logger()}
}

func (a *appleHealthAdapter) ID() ID { return AppleHealth }

func (a *appleHealthAdapter) ParseBatch(payload []byte) ([]PushRecord, error) {
	var batch struct {
		Records []PushRecord `json:"records"`
	}
	if err := json.Unmarshal(payload, &batch); err != nil {
		a.log.Warn().Err(err).Msg("malformed push payload")
		return nil, fmt.Errorf("apple_health: parse batch: %w", err)
	}
	if len(batch.Records) == 0 {
		return nil, fmt.Errorf("apple_health: batch contains no records")
	}
	return batch.Records, nil
}

func (a *appleHealthAdapter) Category(recordType string) (Category, bool) {
	cat, ok := appleHealthTypes[recordType]
	return cat, ok
}

func (a *appleHealthAdapter) MobileConfig() MobileConfig {
	permissions := make([]string, 0, len(appleHealthTypes))
	categories := make([]Category, 0, len(appleHealthTypes))
	seen := map[Category]bool{}
	for hkType, cat := range appleHealthTypes {
		permissions = append(permissions, hkType)
		if !seen[cat] {
			seen[cat] = true
			categories = append(categories, cat)
		}
	}
	return MobileConfig{
		Provider:            AppleHealth,
		RequiredPermissions: permissions,
		SupportedCategories: categories,
		DeepLink:            "healthsync://connect/apple_health",
		Instructions: "Install the companion app, open this link on your iPhone " +
			"and grant Health access for the listed data types. Data uploads " +
			"automatically in the background.",
	}
}
