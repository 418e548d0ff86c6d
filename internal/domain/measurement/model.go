package measurement

import (
	"time"

	"github.com/google/uuid"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// Measurement is one normalized health observation. The pair
// (provider, external_id) is the sole deduplication key: re-ingesting the
// same provider record updates in place and never duplicates.
type Measurement struct {
	ID         uuid.UUID              `json:"id"`
	UserID     uuid.UUID              `json:"user_id"`
	Provider   provider.ID            `json:"provider"`
	Category   provider.Category      `json:"category"`
	Value      float64                `json:"value"`
	Unit       string                 `json:"unit"`
	RecordedAt time.Time              `json:"recorded_at"`
	DeviceID   *string                `json:"device_id,omitempty"`
	ExternalID string                 `json:"-"`
	Systolic   *int                   `json:"systolic,omitempty"`
	Diastolic  *int                   `json:"diastolic,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty"`

	// Mirrored is monotonic: once a measurement has been written to the
	// clinical record it is never re-mirrored, even when the value is
	// later overwritten by a re-ingest.
	Mirrored bool       `json:"mirrored"`
	VitalID  *uuid.UUID `json:"vital_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Canonical unit strings per category.
var canonicalUnits = map[provider.Category]string{
	provider.CategoryWeight:          "kg",
	provider.CategoryHeight:          "cm",
	provider.CategoryBodyFat:         "%",
	provider.CategoryHeartRate:       "bpm",
	provider.CategoryBloodPressure:   "mmHg",
	provider.CategorySleep:           "minutes",
	provider.CategorySteps:           "steps",
	provider.CategoryDistance:        "km",
	provider.CategoryCalories:        "kcal",
	provider.CategoryActiveMinutes:   "minutes",
	provider.CategoryTemperature:     "celsius",
	provider.CategoryOxygen:          "%",
	provider.CategoryGlucose:         "mg/dL",
	provider.CategoryRespiratoryRate: "breaths/min",
	provider.CategoryStress:          "score",
	provider.CategoryActivity:        "count",
}

// Unit returns the canonical unit string for a category.
func Unit(cat provider.Category) string {
	return canonicalUnits[cat]
}

// Vital-sign type names used by the clinical record, keyed by the categories
// that mirror into it. Activity-style categories (steps, sleep, calories) are
// wellness data and stay out of the clinical chart.
var vitalTypes = map[provider.Category]string{
	provider.CategoryWeight:          "weight",
	provider.CategoryHeight:          "height",
	provider.CategoryHeartRate:       "heart_rate",
	provider.CategoryBloodPressure:   "blood_pressure",
	provider.CategoryTemperature:     "temperature",
	provider.CategoryOxygen:          "oxygen_saturation",
	provider.CategoryGlucose:         "blood_glucose",
	provider.CategoryRespiratoryRate: "respiratory_rate",
}

// VitalType returns the clinical vital-sign type for a category, if the
// category mirrors into the clinical record.
func VitalType(cat provider.Category) (string, bool) {
	t, ok := vitalTypes[cat]
	return t, ok
}
