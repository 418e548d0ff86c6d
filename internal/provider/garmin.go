package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/TechCorp07/klara-test-sub001/internal/config"
)

const garminAPIBase = "https://apis.garmin.com"

// Garmin Health API daily summary.
type GarminDaily struct {
	SummaryID          string  `json:"summaryId"`
	CalendarDate       string  `json:"calendarDate"`
	Steps              int     `json:"steps"`
	DistanceInMeters   float64 `json:"distanceInMeters"`
	ActiveKilocalories int     `json:"activeKilocalories"`
	ActiveTimeSeconds  int     `json:"activeTimeInSeconds"`
	RestingHeartRate   int     `json:"restingHeartRateInBeatsPerMinute"`
	AvgStressLevel     int     `json:"averageStressLevel"`
}

// Garmin sleep summary.
type GarminSleep struct {
	SummaryID            string `json:"summaryId"`
	CalendarDate         string `json:"calendarDate"`
	DurationSeconds      int    `json:"durationInSeconds"`
	DeepSleepSeconds     int    `json:"deepSleepDurationInSeconds"`
	LightSleepSeconds    int    `json:"lightSleepDurationInSeconds"`
	RemSleepSeconds      int    `json:"remSleepInSeconds"`
	AwakeDurationSeconds int    `json:"awakeDurationInSeconds"`
}

type garminAdapter struct {
	oauth   *oauth2.Config
	apiBase string
	client  *http.Client
	log     zerolog.Logger
}

// NewGarminAdapter builds the Garmin cloud adapter.
func NewGarminAdapter(creds config.ProviderCredentials, logger zerolog.Logger) CloudAdapter {
	return &garminAdapter{
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{"health_api"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://connect.garmin.com/oauth2Confirm",
				TokenURL:  garminAPIBase + "/di-oauth2-service/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: garminAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     logger.With().Str("adapter", "garmin").Logger(),
	}
}

func (a *garminAdapter) ID() ID { return Garmin }

func (a *garminAdapter) Categories() []Category {
	return []Category{
		CategorySteps, CategoryDistance, CategoryCalories, CategoryActiveMinutes,
		CategoryHeartRate, CategorySleep, CategoryStress,
	}
}

func (a *garminAdapter) AuthorizeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

func (a *garminAdapter) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		a.log.Warn().Err(err).Msg("code exchange failed")
		return nil, fmt.Errorf("garmin: exchange code: %w", err)
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func (a *garminAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		a.log.Warn().Err(err).Msg("token refresh failed")
		return nil, fmt.Errorf("garmin: refresh token: %w", err)
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func (a *garminAdapter) Fetch(ctx context.Context, accessToken string, cat Category, start, end time.Time) (*RawBatch, error) {
	switch cat {
	case CategorySleep:
		var sleeps []GarminSleep
		if err := a.get(ctx, accessToken, "/wellness-api/rest/sleeps", start, end, &sleeps); err != nil {
			return nil, err
		}
		if len(sleeps) == 0 {
			return nil, nil
		}
		return &RawBatch{Provider: Garmin, Category: cat, Payload: sleeps}, nil

	case CategorySteps, CategoryDistance, CategoryCalories, CategoryActiveMinutes,
		CategoryHeartRate, CategoryStress:
		var dailies []GarminDaily
		if err := a.get(ctx, accessToken, "/wellness-api/rest/dailies", start, end, &dailies); err != nil {
			return nil, err
		}
		if len(dailies) == 0 {
			return nil, nil
		}
		return &RawBatch{Provider: Garmin, Category: cat, Payload: dailies}, nil
	}
	return nil, nil
}

func (a *garminAdapter) get(ctx context.Context, accessToken, path string, start, end time.Time, out interface{}) error {
	url := fmt.Sprintf("%s%s?uploadStartTimeInSeconds=%s&uploadEndTimeInSeconds=%s",
		a.apiBase, path,
		strconv.FormatInt(start.Unix(), 10), strconv.FormatInt(end.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("fetch failed")
		return fmt.Errorf("garmin: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("unexpected status")
		return fmt.Errorf("garmin: GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("malformed body")
		return fmt.Errorf("garmin: decode %s: %w", path, err)
	}
	return nil
}
