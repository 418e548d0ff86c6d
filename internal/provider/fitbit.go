package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/TechCorp07/klara-test-sub001/internal/config"
)

const fitbitAPIBase = "https://api.fitbit.com"

// Fitbit wire shapes. Field names follow the Web API responses.

type FitbitSeriesPoint struct {
	DateTime string `json:"dateTime"`
	Value    string `json:"value"`
}

type FitbitHeartDay struct {
	DateTime string `json:"dateTime"`
	Value    struct {
		RestingHeartRate float64 `json:"restingHeartRate"`
	} `json:"value"`
}

type FitbitWeightLog struct {
	LogID  int64   `json:"logId"`
	Date   string  `json:"date"`
	Time   string  `json:"time"`
	Weight float64 `json:"weight"` // kg
	Fat    float64 `json:"fat"`
	Source string  `json:"source"`
}

type FitbitSleepLog struct {
	LogID       int64  `json:"logId"`
	DateOfSleep string `json:"dateOfSleep"`
	StartTime   string `json:"startTime"`
	Duration    int64  `json:"duration"` // milliseconds
	Efficiency  int    `json:"efficiency"`
	Levels      struct {
		Summary map[string]struct {
			Minutes int `json:"minutes"`
		} `json:"summary"`
	} `json:"levels"`
}

type fitbitAdapter struct {
	oauth   *oauth2.Config
	apiBase string
	client  *http.Client
	log     zerolog.Logger
}

// NewFitbitAdapter builds the Fitbit cloud adapter from its OAuth registration.
func NewFitbitAdapter(creds config.ProviderCredentials, logger zerolog.Logger) CloudAdapter {
	return &fitbitAdapter{
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{"activity", "heartrate", "sleep", "weight", "oxygen_saturation"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://www.fitbit.com/oauth2/authorize",
				TokenURL:  fitbitAPIBase + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		apiBase: fitbitAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     logger.With().Str("adapter", "fitbit").Logger(),
	}
}

func (a *fitbitAdapter) ID() ID { return Fitbit }

func (a *fitbitAdapter) Categories() []Category {
	return []Category{
		CategorySteps, CategoryDistance, CategoryCalories, CategoryActiveMinutes,
		CategoryHeartRate, CategoryWeight, CategorySleep,
	}
}

func (a *fitbitAdapter) AuthorizeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

func (a *fitbitAdapter) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	tok, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		a.log.Warn().Err(err).Msg("code exchange failed")
		return nil, fmt.Errorf("fitbit: exchange code: %w", err)
	}
	grant := &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if uid, ok := tok.Extra("user_id").(string); ok {
		grant.ProviderUserID = uid
	}
	return grant, nil
}

func (a *fitbitAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		a.log.Warn().Err(err).Msg("token refresh failed")
		return nil, fmt.Errorf("fitbit: refresh token: %w", err)
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// series endpoints keyed by category; values per day come back as strings.
var fitbitSeriesPaths = map[Category]string{
	CategorySteps:         "steps",
	CategoryDistance:      "distance",
	CategoryCalories:      "calories",
	CategoryActiveMinutes: "minutesVeryActive",
}

func (a *fitbitAdapter) Fetch(ctx context.Context, accessToken string, cat Category, start, end time.Time) (*RawBatch, error) {
	day := "2006-01-02"
	switch cat {
	case CategorySteps, CategoryDistance, CategoryCalories, CategoryActiveMinutes:
		path := fmt.Sprintf("/1/user/-/activities/%s/date/%s/%s.json",
			fitbitSeriesPaths[cat], start.Format(day), end.Format(day))
		// The series key mirrors the resource path, e.g. "activities-steps".
		var body map[string][]FitbitSeriesPoint
		if err := a.get(ctx, accessToken, path, &body); err != nil {
			return nil, err
		}
		points := body["activities-"+fitbitSeriesPaths[cat]]
		if len(points) == 0 {
			return nil, nil
		}
		return &RawBatch{Provider: Fitbit, Category: cat, Payload: points}, nil

	case CategoryHeartRate:
		path := fmt.Sprintf("/1/user/-/activities/heart/date/%s/%s.json", start.Format(day), end.Format(day))
		var body struct {
			Days []FitbitHeartDay `json:"activities-heart"`
		}
		if err := a.get(ctx, accessToken, path, &body); err != nil {
			return nil, err
		}
		if len(body.Days) == 0 {
			return nil, nil
		}
		return &RawBatch{Provider: Fitbit, Category: cat, Payload: body.Days}, nil

	case CategoryWeight:
		path := fmt.Sprintf("/1/user/-/body/log/weight/date/%s/%s.json", start.Format(day), end.Format(day))
		var body struct {
			Weight []FitbitWeightLog `json:"weight"`
		}
		if err := a.get(ctx, accessToken, path, &body); err != nil {
			return nil, err
		}
		if len(body.Weight) == 0 {
			return nil, nil
		}
		return &RawBatch{Provider: Fitbit, Category: cat, Payload: body.Weight}, nil

	case CategorySleep:
		path := fmt.Sprintf("/1.2/user/-/sleep/date/%s/%s.json", start.Format(day), end.Format(day))
		var body struct {
			Sleep []FitbitSleepLog `json:"sleep"`
		}
		if err := a.get(ctx, accessToken, path, &body); err != nil {
			return nil, err
		}
		if len(body.Sleep) == 0 {
			return nil, nil
		}
		return &RawBatch{Provider: Fitbit, Category: cat, Payload: body.Sleep}, nil
	}
	return nil, nil
}

func (a *fitbitAdapter) get(ctx context.Context, accessToken, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.apiBase+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("fetch failed")
		return fmt.Errorf("fitbit: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("unexpected status")
		return fmt.Errorf("fitbit: GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		a.log.Warn().Err(err).Str("path", path).Msg("malformed body")
		return fmt.Errorf("fitbit: decode %s: %w", path, err)
	}
	return nil
}
