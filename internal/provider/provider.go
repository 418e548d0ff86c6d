package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/config"
)

// ID identifies a wearable data provider.
type ID string

const (
	Fitbit        ID = "fitbit"
	Withings      ID = "withings"
	Garmin        ID = "garmin"
	GoogleFit     ID = "google_fit"
	Polar         ID = "polar"
	Oura          ID = "oura"
	Whoop         ID = "whoop"
	AppleHealth   ID = "apple_health"
	SamsungHealth ID = "samsung_health"
)

// All lists every known provider in a stable order.
func All() []ID {
	return []ID{Fitbit, Withings, Garmin, GoogleFit, Polar, Oura, Whoop, AppleHealth, SamsungHealth}
}

// Parse validates a provider identifier from user input.
func Parse(s string) (ID, error) {
	id := ID(s)
	for _, known := range All() {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown provider: %s", s)
}

// Kind distinguishes server-initiated cloud integrations from mobile-push ones.
type Kind string

const (
	KindCloud Kind = "cloud"
	KindPush  Kind = "push"
)

func (id ID) Kind() Kind {
	switch id {
	case AppleHealth, SamsungHealth:
		return KindPush
	default:
		return KindCloud
	}
}

// Category is a canonical measurement kind shared by all providers.
type Category string

const (
	CategoryWeight          Category = "weight"
	CategoryHeight          Category = "height"
	CategoryBodyFat         Category = "body_fat"
	CategoryHeartRate       Category = "heart_rate"
	CategoryBloodPressure   Category = "blood_pressure"
	CategorySleep           Category = "sleep"
	CategorySteps           Category = "steps"
	CategoryDistance        Category = "distance"
	CategoryCalories        Category = "calories"
	CategoryActiveMinutes   Category = "active_minutes"
	CategoryTemperature     Category = "temperature"
	CategoryOxygen          Category = "oxygen_saturation"
	CategoryGlucose         Category = "blood_glucose"
	CategoryRespiratoryRate Category = "respiratory_rate"
	CategoryStress          Category = "stress"
	CategoryActivity        Category = "activity"
)

// TokenGrant is the outcome of an OAuth code exchange or refresh.
type TokenGrant struct {
	AccessToken    string
	RefreshToken   string
	Expiry         time.Time
	ProviderUserID string
}

// RawBatch wraps one provider response for one category fetch. Payload keeps
// the provider's own shape; the normalizer knows how to read it.
type RawBatch struct {
	Provider ID
	Category Category
	Payload  interface{}
}

// CloudAdapter is implemented by providers whose data this service pulls via
// their REST API. Fetch and Refresh never panic past their boundary: failures
// are logged and surfaced as a nil batch or an error the orchestrator treats
// as "no data for this call".
type CloudAdapter interface {
	ID() ID
	// AuthorizeURL builds the provider authorization URL embedding the CSRF
	// state token and required scopes.
	AuthorizeURL(state string) string
	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code string) (*TokenGrant, error)
	// Refresh trades a refresh token for a fresh grant.
	Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error)
	// Fetch retrieves raw provider data for one category and window.
	// A nil batch with nil error means the provider had nothing.
	Fetch(ctx context.Context, accessToken string, cat Category, start, end time.Time) (*RawBatch, error)
	// Categories lists what this provider can supply.
	Categories() []Category
}

// PushRecord is one entry of a client-pushed batch, still carrying the
// provider's native record type string.
type PushRecord struct {
	Type        string                 `json:"type"`
	Value       float64                `json:"value"`
	Unit        string                 `json:"unit"`
	RecordedAt  time.Time              `json:"recorded_at"`
	DeviceModel string                 `json:"device_model,omitempty"`
	ExternalID  string                 `json:"external_id,omitempty"`
	Systolic    float64                `json:"systolic,omitempty"`
	Diastolic   float64                `json:"diastolic,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// MobileConfig is the static capability manifest a mobile client uses to
// bootstrap a push integration.
type MobileConfig struct {
	Provider            ID         `json:"provider"`
	RequiredPermissions []string   `json:"required_permissions"`
	SupportedCategories []Category `json:"supported_categories"`
	DeepLink            string     `json:"deep_link"`
	Instructions        string     `json:"instructions"`
}

// PushAdapter is implemented by providers whose data arrives as
// client-pushed batches; there is no server-initiated fetch.
type PushAdapter interface {
	ID() ID
	// ParseBatch validates and decodes a pushed payload.
	ParseBatch(payload []byte) ([]PushRecord, error)
	// Category maps the provider's native record type to the canonical
	// category, reporting false for unsupported types.
	Category(recordType string) (Category, bool)
	MobileConfig() MobileConfig
}

// Registry holds the configured adapters, keyed by provider id. Providers
// without credentials are simply absent, so their connect and callback paths
// answer "not configured" instead of failing.
type Registry struct {
	cloud map[ID]CloudAdapter
	push  map[ID]PushAdapter
}

// NewRegistry builds adapters for every provider with configuration present.
// Push providers need no credentials and are always registered.
func NewRegistry(cfg *config.Config, logger zerolog.Logger) *Registry {
	r := &Registry{
		cloud: make(map[ID]CloudAdapter),
		push:  make(map[ID]PushAdapter),
	}
	if creds := cfg.Fitbit(); creds.Configured() {
		r.cloud[Fitbit] = NewFitbitAdapter(creds, logger)
	}
	if creds := cfg.Withings(); creds.Configured() {
		r.cloud[Withings] = NewWithingsAdapter(creds, logger)
	}
	if creds := cfg.Garmin(); creds.Configured() {
		r.cloud[Garmin] = NewGarminAdapter(creds, logger)
	}
	r.push[AppleHealth] = NewAppleHealthAdapter(logger)
	r.push[SamsungHealth] = NewSamsungHealthAdapter(logger)
	return r
}

// RegisterCloud adds or replaces a cloud adapter. Tests use it to install fakes.
func (r *Registry) RegisterCloud(a CloudAdapter) { r.cloud[a.ID()] = a }

// RegisterPush adds or replaces a push adapter.
func (r *Registry) RegisterPush(a PushAdapter) { r.push[a.ID()] = a }

func (r *Registry) Cloud(id ID) (CloudAdapter, bool) {
	a, ok := r.cloud[id]
	return a, ok
}

func (r *Registry) Push(id ID) (PushAdapter, bool) {
	a, ok := r.push[id]
	return a, ok
}

// Configured reports whether any adapter is registered for the provider.
func (r *Registry) Configured(id ID) bool {
	if _, ok := r.cloud[id]; ok {
		return true
	}
	_, ok := r.push[id]
	return ok
}
