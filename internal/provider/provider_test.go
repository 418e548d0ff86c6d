package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/config"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func testCreds() config.ProviderCredentials {
	return config.ProviderCredentials{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "https://app.example.com/callback",
	}
}

func TestParse(t *testing.T) {
	if id, err := Parse("fitbit"); err != nil || id != Fitbit {
		t.Errorf("Parse(fitbit) = (%v, %v)", id, err)
	}
	if _, err := Parse("pebble"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestKind(t *testing.T) {
	if Fitbit.Kind() != KindCloud {
		t.Error("fitbit should be cloud")
	}
	if AppleHealth.Kind() != KindPush || SamsungHealth.Kind() != KindPush {
		t.Error("apple_health and samsung_health should be push")
	}
}

func TestRegistry_ConfiguredProvidersOnly(t *testing.T) {
	cfg := &config.Config{
		FitbitClientID:     "id",
		FitbitClientSecret: "secret",
	}
	r := NewRegistry(cfg, testLogger())

	if !r.Configured(Fitbit) {
		t.Error("fitbit should be configured")
	}
	if r.Configured(Withings) {
		t.Error("withings has no credentials, should not be configured")
	}
	if r.Configured(Garmin) {
		t.Error("garmin has no credentials, should not be configured")
	}
	// Push providers need no credentials.
	if !r.Configured(AppleHealth) || !r.Configured(SamsungHealth) {
		t.Error("push providers should always be configured")
	}
	if _, ok := r.Cloud(AppleHealth); ok {
		t.Error("apple_health must not appear as a cloud adapter")
	}
}

func TestFitbit_AuthorizeURL(t *testing.T) {
	a := NewFitbitAdapter(testCreds(), testLogger())
	u := a.AuthorizeURL("state-token-123")
	if !strings.Contains(u, "state=state-token-123") {
		t.Errorf("authorize URL missing state: %s", u)
	}
	if !strings.Contains(u, "client_id=client") {
		t.Errorf("authorize URL missing client id: %s", u)
	}
	if !strings.HasPrefix(u, "https://www.fitbit.com/oauth2/authorize") {
		t.Errorf("unexpected authorize endpoint: %s", u)
	}
}

func TestFitbit_FetchSteps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if !strings.Contains(r.URL.Path, "/activities/steps/date/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"activities-steps":[{"dateTime":"2026-08-01","value":"8421"},{"dateTime":"2026-08-02","value":"10233"}]}`))
	}))
	defer srv.Close()

	a := NewFitbitAdapter(testCreds(), testLogger()).(*fitbitAdapter)
	a.apiBase = srv.URL

	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	batch, err := a.Fetch(context.Background(), "tok", CategorySteps, start, start.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	points, ok := batch.Payload.([]FitbitSeriesPoint)
	if !ok {
		t.Fatalf("payload type %T", batch.Payload)
	}
	if len(points) != 2 || points[0].Value != "8421" {
		t.Errorf("points = %+v", points)
	}
}

func TestFitbit_FetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewFitbitAdapter(testCreds(), testLogger()).(*fitbitAdapter)
	a.apiBase = srv.URL

	if _, err := a.Fetch(context.Background(), "tok", CategorySteps, time.Now().AddDate(0, 0, -1), time.Now()); err == nil {
		t.Fatal("expected error for 502 response")
	}
}

func TestFitbit_FetchEmptyRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"weight":[]}`))
	}))
	defer srv.Close()

	a := NewFitbitAdapter(testCreds(), testLogger()).(*fitbitAdapter)
	a.apiBase = srv.URL

	batch, err := a.Fetch(context.Background(), "tok", CategoryWeight, time.Now().AddDate(0, 0, -1), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if batch != nil {
		t.Errorf("expected nil batch for empty range, got %+v", batch)
	}
}

func TestWithingsMeasure_Real(t *testing.T) {
	cases := []struct {
		value int64
		unit  int
		want  float64
	}{
		{80500, -3, 80.5},  // weight grams-style encoding
		{120, 0, 120},      // systolic, no scaling
		{975, -1, 97.5},    // spo2 percent
		{186, -2, 1.86},    // height meters
	}
	for _, c := range cases {
		m := WithingsMeasure{Value: c.value, Unit: c.unit}
		if got := m.Real(); got != c.want {
			t.Errorf("Real(%d, %d) = %v, want %v", c.value, c.unit, got, c.want)
		}
	}
}

func TestWithings_FetchMeasureGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		r.ParseForm()
		if got := r.Form.Get("action"); got != "getmeas" {
			t.Errorf("action = %q", got)
		}
		w.Write([]byte(`{"status":0,"body":{"measuregrps":[
			{"grpid":101,"date":1754006400,"deviceid":"dev-1","measures":[
				{"value":80500,"type":1,"unit":-3}]}]}}`))
	}))
	defer srv.Close()

	a := NewWithingsAdapter(testCreds(), testLogger()).(*withingsAdapter)
	a.apiBase = srv.URL

	batch, err := a.Fetch(context.Background(), "tok", CategoryWeight, time.Now().AddDate(0, 0, -7), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	groups, ok := batch.Payload.([]WithingsGroup)
	if !ok {
		t.Fatalf("payload type %T", batch.Payload)
	}
	if len(groups) != 1 || groups[0].GrpID != 101 {
		t.Errorf("groups = %+v", groups)
	}
}

func TestWithings_FetchAPIStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":401,"body":{}}`))
	}))
	defer srv.Close()

	a := NewWithingsAdapter(testCreds(), testLogger()).(*withingsAdapter)
	a.apiBase = srv.URL

	if _, err := a.Fetch(context.Background(), "tok", CategoryWeight, time.Now().AddDate(0, 0, -7), time.Now()); err == nil {
		t.Fatal("expected error for non-zero api status")
	}
}

func TestGarmin_FetchDailies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/wellness-api/rest/dailies") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`[{"summaryId":"d-1","calendarDate":"2026-08-20","steps":7200,"restingHeartRateInBeatsPerMinute":58}]`))
	}))
	defer srv.Close()

	a := NewGarminAdapter(testCreds(), testLogger()).(*garminAdapter)
	a.apiBase = srv.URL

	batch, err := a.Fetch(context.Background(), "tok", CategorySteps, time.Now().AddDate(0, 0, -1), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	dailies, ok := batch.Payload.([]GarminDaily)
	if !ok {
		t.Fatalf("payload type %T", batch.Payload)
	}
	if len(dailies) != 1 || dailies[0].Steps != 7200 {
		t.Errorf("dailies = %+v", dailies)
	}
}

func TestAppleHealth_ParseBatch(t *testing.T) {
	a := NewAppleHealthAdapter(testLogger())
	payload := []byte(`{"records":[
		{"type":"HKQuantityTypeIdentifierStepCount","value":9000,"unit":"count","recorded_at":"2026-08-20T08:00:00Z"},
		{"type":"HKQuantityTypeIdentifierBodyMass","value":71.2,"unit":"kg","recorded_at":"2026-08-20T07:00:00Z","device_model":"Apple Watch"}]}`)

	records, err := a.ParseBatch(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if cat, ok := a.Category(records[0].Type); !ok || cat != CategorySteps {
		t.Errorf("category = (%v, %v)", cat, ok)
	}
}

func TestAppleHealth_ParseBatchRejectsEmpty(t *testing.T) {
	a := NewAppleHealthAdapter(testLogger())
	if _, err := a.ParseBatch([]byte(`{"records":[]}`)); err == nil {
		t.Error("expected error for empty batch")
	}
	if _, err := a.ParseBatch([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestSamsungHealth_CategoryMapping(t *testing.T) {
	a := NewSamsungHealthAdapter(testLogger())
	if cat, ok := a.Category("com.samsung.health.blood_pressure"); !ok || cat != CategoryBloodPressure {
		t.Errorf("blood_pressure mapping = (%v, %v)", cat, ok)
	}
	if _, ok := a.Category("com.samsung.health.unknown_thing"); ok {
		t.Error("unknown type should not map")
	}
}

func TestMobileConfig_Manifest(t *testing.T) {
	a := NewAppleHealthAdapter(testLogger())
	mc := a.MobileConfig()
	if mc.Provider != AppleHealth {
		t.Errorf("provider = %v", mc.Provider)
	}
	if len(mc.RequiredPermissions) == 0 || len(mc.SupportedCategories) == 0 {
		t.Error("manifest should list permissions and categories")
	}
	if mc.DeepLink == "" {
		t.Error("manifest should carry a deep link")
	}
}
