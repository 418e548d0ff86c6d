package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/TechCorp07/klara-test-sub001/internal/config"
)

const withingsAPIBase = "https://wbsapi.withings.net"

// Withings encodes every measurement as value * 10^unit, where unit is a
// signed exponent. Measure types are numeric codes.

const (
	WithingsTypeWeight      = 1
	WithingsTypeHeight      = 4
	WithingsTypeFatRatio    = 6
	WithingsTypeDiastolic   = 9
	WithingsTypeSystolic    = 10
	WithingsTypeHeartRate   = 11
	WithingsTypeTemperature = 71
	WithingsTypeSpO2        = 54
)

type WithingsMeasure struct {
	Value int64 `json:"value"`
	Type  int   `json:"type"`
	Unit  int   `json:"unit"` // power-of-ten exponent
}

type WithingsGroup struct {
	GrpID    int64             `json:"grpid"`
	Date     int64             `json:"date"` // unix seconds
	DeviceID string            `json:"deviceid"`
	Measures []WithingsMeasure `json:"measures"`
}

// Real converts the integer encoding into the measurement's real value.
func (m WithingsMeasure) Real() float64 {
	v := float64(m.Value)
	exp := m.Unit
	for exp > 0 {
		v *= 10
		exp--
	}
	for exp < 0 {
		v /= 10
		exp++
	}
	return v
}

var withingsTypesByCategory = map[Category][]int{
	CategoryWeight:        {WithingsTypeWeight},
	CategoryHeight:        {WithingsTypeHeight},
	CategoryBodyFat:       {WithingsTypeFatRatio},
	CategoryBloodPressure: {WithingsTypeSystolic, WithingsTypeDiastolic},
	CategoryHeartRate:     {WithingsTypeHeartRate},
	CategoryTemperature:   {WithingsTypeTemperature},
	CategoryOxygen:        {WithingsTypeSpO2},
}

type withingsAdapter struct {
	oauth   *oauth2.Config
	apiBase string
	client  *http.Client
	log     zerolog.Logger
}

// NewWithingsAdapter builds the Withings cloud adapter.
func NewWithingsAdapter(creds config.ProviderCredentials, logger zerolog.Logger) CloudAdapter {
	return &withingsAdapter{
		oauth: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{"user.metrics", "user.activity"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://account.withings.com/oauth2_user/authorize2",
				TokenURL:  withingsAPIBase + "/v2/oauth2",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: withingsAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     logger.With().Str("adapter", "withings").Logger(),
	}
}

func (a *withingsAdapter) ID() ID { return Withings }

func (a *withingsAdapter) Categories() []Category {
	return []Category{
		CategoryWeight, CategoryHeight, CategoryBodyFat, CategoryBloodPressure,
		CategoryHeartRate, CategoryTemperature, CategoryOxygen,
	}
}

func (a *withingsAdapter) AuthorizeURL(state string) string {
	return a.oauth.AuthCodeURL(state)
}

func (a *withingsAdapter) ExchangeCode(ctx context.Context, code string) (*TokenGrant, error) {
	tok, err := a.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("action", "requesttoken"))
	if err != nil {
		a.log.Warn().Err(err).Msg("code exchange failed")
		return nil, fmt.Errorf("withings: exchange code: %w", err)
	}
	grant := &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}
	if uid, ok := tok.Extra("userid").(string); ok {
		grant.ProviderUserID = uid
	}
	return grant, nil
}

func (a *withingsAdapter) Refresh(ctx context.Context, refreshToken string) (*TokenGrant, error) {
	src := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		a.log.Warn().Err(err).Msg("token refresh failed")
		return nil, fmt.Errorf("withings: refresh token: %w", err)
	}
	return &TokenGrant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

func (a *withingsAdapter) Fetch(ctx context.Context, accessToken string, cat Category, start, end time.Time) (*RawBatch, error) {
	types, ok := withingsTypesByCategory[cat]
	if !ok {
		return nil, nil
	}
	codes := make([]string, len(types))
	for i, t := range types {
		codes[i] = strconv.Itoa(t)
	}

	form := url.Values{}
	form.Set("action", "getmeas")
	form.Set("meastypes", strings.Join(codes, ","))
	form.Set("startdate", strconv.FormatInt(start.Unix(), 10))
	form.Set("enddate", strconv.FormatInt(end.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiBase+"/measure",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warn().Err(err).Msg("fetch failed")
		return nil, fmt.Errorf("withings: getmeas: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.log.Warn().Int("status", resp.StatusCode).Msg("unexpected status")
		return nil, fmt.Errorf("withings: getmeas: status %d", resp.StatusCode)
	}

	// Withings wraps everything in {status, body}; status != 0 signals an
	// API-level failure even on HTTP 200.
	var body struct {
		Status int `json:"status"`
		Body   struct {
			MeasureGroups []WithingsGroup `json:"measuregrps"`
		} `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		a.log.Warn().Err(err).Msg("malformed body")
		return nil, fmt.Errorf("withings: decode getmeas: %w", err)
	}
	if body.Status != 0 {
		a.log.Warn().Int("api_status", body.Status).Msg("api error")
		return nil, fmt.Errorf("withings: getmeas: api status %d", body.Status)
	}
	if len(body.Body.MeasureGroups) == 0 {
		return nil, nil
	}
	return &RawBatch{Provider: Withings, Category: cat, Payload: body.Body.MeasureGroups}, nil
}
