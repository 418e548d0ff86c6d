package connection

import (
	"time"

	"github.com/google/uuid"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// Status is the advisory connection state. Token expiry is authoritative on
// read: a stored Connected status with a past expiry is treated, and
// persisted, as TokenExpired.
type Status string

const (
	StatusPending      Status = "pending"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusTokenExpired Status = "token_expired"
	StatusError        Status = "error"
)

// CollectionSettings are the per-category collection toggles a user controls
// when granting consent.
type CollectionSettings struct {
	Steps         bool `json:"steps"`
	HeartRate     bool `json:"heart_rate"`
	Weight        bool `json:"weight"`
	Sleep         bool `json:"sleep"`
	BloodPressure bool `json:"blood_pressure"`
	Oxygen        bool `json:"oxygen"`
	Glucose       bool `json:"glucose"`
	Activity      bool `json:"activity"`
	Temperature   bool `json:"temperature"`
}

// DefaultCollectionSettings enables every category; users opt out per toggle.
func DefaultCollectionSettings() CollectionSettings {
	return CollectionSettings{
		Steps: true, HeartRate: true, Weight: true, Sleep: true,
		BloodPressure: true, Oxygen: true, Glucose: true,
		Activity: true, Temperature: true,
	}
}

// Categories expands the toggles into the measurement categories they cover.
func (cs CollectionSettings) Categories() []provider.Category {
	var cats []provider.Category
	if cs.Steps {
		cats = append(cats, provider.CategorySteps)
	}
	if cs.HeartRate {
		cats = append(cats, provider.CategoryHeartRate)
	}
	if cs.Weight {
		cats = append(cats, provider.CategoryWeight, provider.CategoryHeight, provider.CategoryBodyFat)
	}
	if cs.Sleep {
		cats = append(cats, provider.CategorySleep)
	}
	if cs.BloodPressure {
		cats = append(cats, provider.CategoryBloodPressure)
	}
	if cs.Oxygen {
		cats = append(cats, provider.CategoryOxygen, provider.CategoryRespiratoryRate)
	}
	if cs.Glucose {
		cats = append(cats, provider.CategoryGlucose)
	}
	if cs.Activity {
		cats = append(cats, provider.CategoryActivity, provider.CategoryDistance,
			provider.CategoryCalories, provider.CategoryActiveMinutes, provider.CategoryStress)
	}
	if cs.Temperature {
		cats = append(cats, provider.CategoryTemperature)
	}
	return cats
}

// Connection maps to the connections table: one row per (user, provider).
// Token fields are stored encrypted at rest; the repository handles the
// encryption boundary.
type Connection struct {
	ID             uuid.UUID              `db:"id" json:"id"`
	UserID         uuid.UUID              `db:"user_id" json:"user_id"`
	Provider       provider.ID            `db:"provider" json:"provider"`
	Status         Status                 `db:"status" json:"status"`
	AccessToken    string                 `db:"access_token" json:"-"`
	RefreshToken   string                 `db:"refresh_token" json:"-"`
	TokenExpiry    *time.Time             `db:"token_expiry" json:"token_expiry,omitempty"`
	ProviderUserID *string                `db:"provider_user_id" json:"provider_user_id,omitempty"`
	Consented      bool                   `db:"consented" json:"consented"`
	ConsentDate    *time.Time             `db:"consent_date" json:"consent_date,omitempty"`
	Collect        CollectionSettings     `db:"collection_settings" json:"collection_settings"`
	LastSyncAt     *time.Time             `db:"last_sync_at" json:"last_sync_at,omitempty"`
	SyncFrequency  int                    `db:"sync_frequency_hours" json:"sync_frequency_hours"`
	Settings       map[string]interface{} `db:"settings" json:"settings,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at" json:"updated_at"`
}

// TokenExpired reports whether the stored expiry has passed.
func (c *Connection) TokenExpired(now time.Time) bool {
	return c.TokenExpiry != nil && c.TokenExpiry.Before(now)
}

// Connected is the pure connectivity check: token present, status Connected,
// and expiry (if set) in the future. It does not persist; Service.IsConnected
// wraps it with the TokenExpired status transition.
func (c *Connection) Connected(now time.Time) bool {
	return c.AccessToken != "" && c.Status == StatusConnected && !c.TokenExpired(now)
}

// ComputeStatus derives the status from token presence and expiry.
func (c *Connection) ComputeStatus(now time.Time) Status {
	if c.AccessToken == "" {
		return StatusDisconnected
	}
	if c.TokenExpired(now) {
		return StatusTokenExpired
	}
	return StatusConnected
}

// NeedsSync is true when the connection has never synced or the configured
// frequency has elapsed.
func (c *Connection) NeedsSync(now time.Time) bool {
	if c.LastSyncAt == nil {
		return true
	}
	freq := c.SyncFrequency
	if freq <= 0 {
		freq = 24
	}
	return now.Sub(*c.LastSyncAt) >= time.Duration(freq)*time.Hour
}
