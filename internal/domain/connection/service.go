package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TechCorp07/klara-test-sub001/internal/platform/audit"
	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// Errors surfaced to the HTTP layer. The handler maps them to client-error
// responses; nothing here is a server fault.
var (
	ErrNotConfigured    = errors.New("provider is not configured")
	ErrStateMismatch    = errors.New("oauth state token mismatch")
	ErrProviderDenied   = errors.New("provider returned an authorization error")
	ErrInvalidFrequency = errors.New("sync frequency out of range")
	ErrExchangeFailed   = errors.New("token exchange failed")
)

type Service struct {
	repo     Repository
	registry *provider.Registry
	states   *StateStore
	consents audit.ConsentRecorder
	log      zerolog.Logger
	minFreq  int
	maxFreq  int
	now      func() time.Time
}

func NewService(repo Repository, registry *provider.Registry, states *StateStore,
	consents audit.ConsentRecorder, logger zerolog.Logger, minFreq, maxFreq int) *Service {
	if minFreq <= 0 {
		minFreq = 1
	}
	if maxFreq <= 0 {
		maxFreq = 168
	}
	return &Service{
		repo:     repo,
		registry: registry,
		states:   states,
		consents: consents,
		log:      logger,
		minFreq:  minFreq,
		maxFreq:  maxFreq,
		now:      time.Now,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Connection, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByUserProvider(ctx context.Context, userID uuid.UUID, p provider.ID) (*Connection, error) {
	return s.repo.GetByUserProvider(ctx, userID, p)
}

func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Connection, error) {
	return s.repo.ListByUser(ctx, userID)
}

// IsConnected reports whether the connection is usable for sync. Expiry is
// authoritative: when the token has lapsed the stored status is corrected to
// TokenExpired before returning false.
func (s *Service) IsConnected(ctx context.Context, c *Connection) bool {
	now := s.now()
	if c.TokenExpired(now) {
		if c.Status != StatusTokenExpired {
			c.Status = StatusTokenExpired
			if err := s.repo.UpdateStatus(ctx, c.ID, StatusTokenExpired); err != nil {
				s.log.Warn().Err(err).Str("connection_id", c.ID.String()).
					Msg("failed to persist token-expired status")
			}
		}
		return false
	}
	return c.Connected(now)
}

// UpdateStatus recomputes the status from token presence and expiry,
// persists it, and returns the new value.
func (s *Service) UpdateStatus(ctx context.Context, c *Connection) (Status, error) {
	next := c.ComputeStatus(s.now())
	if next != c.Status {
		if err := s.repo.UpdateStatus(ctx, c.ID, next); err != nil {
			return c.Status, err
		}
		c.Status = next
	}
	return next, nil
}

// ConsentUpdate is a full replacement of the user's consent and collection
// preferences, with an optional sync-frequency override.
type ConsentUpdate struct {
	Consented     bool               `json:"consented"`
	Collect       CollectionSettings `json:"collection_settings"`
	SyncFrequency *int               `json:"sync_frequency_hours,omitempty"`
	IPAddress     string             `json:"-"`
	UserAgent     string             `json:"-"`
}

// UpdateConsent applies the consent update. The consent date is stamped when
// consent transitions to granted. The audit write is best-effort: a failure
// is logged and never fails the request.
func (s *Service) UpdateConsent(ctx context.Context, id uuid.UUID, upd ConsentUpdate) (*Connection, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.SyncFrequency != nil {
		if *upd.SyncFrequency < s.minFreq || *upd.SyncFrequency > s.maxFreq {
			return nil, fmt.Errorf("%w: %d not in [%d, %d]",
				ErrInvalidFrequency, *upd.SyncFrequency, s.minFreq, s.maxFreq)
		}
		c.SyncFrequency = *upd.SyncFrequency
	}

	if upd.Consented && !c.Consented {
		now := s.now()
		c.ConsentDate = &now
	}
	c.Consented = upd.Consented
	c.Collect = upd.Collect

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	if err := s.consents.RecordConsent(ctx, audit.ConsentEvent{
		PatientID:        c.UserID,
		ConsentType:      "wearable_data_collection",
		AuthorizedEntity: string(c.Provider),
		Consented:        c.Consented,
		IPAddress:        upd.IPAddress,
		UserAgent:        upd.UserAgent,
	}); err != nil {
		s.log.Warn().Err(err).Str("connection_id", c.ID.String()).
			Msg("consent audit write failed")
	}

	return c, nil
}

// ConnectTarget is what a client needs to begin connecting a provider:
// an authorization URL for cloud providers, or setup instructions plus a
// deep link for push providers.
type ConnectTarget struct {
	URL          string                `json:"url,omitempty"`
	Instructions string                `json:"instructions,omitempty"`
	DeepLink     string                `json:"deep_link,omitempty"`
	MobileConfig *provider.MobileConfig `json:"mobile_config,omitempty"`
}

// AuthorizeURL starts the connect flow. For cloud providers it issues a CSRF
// state token and builds the provider authorization URL; for push providers
// it returns the static manifest, no network call occurs.
func (s *Service) AuthorizeURL(_ context.Context, userID uuid.UUID, p provider.ID) (*ConnectTarget, error) {
	if adapter, ok := s.registry.Push(p); ok {
		mc := adapter.MobileConfig()
		return &ConnectTarget{
			Instructions: mc.Instructions,
			DeepLink:     mc.DeepLink,
			MobileConfig: &mc,
		}, nil
	}

	adapter, ok := s.registry.Cloud(p)
	if !ok {
		return nil, ErrNotConfigured
	}
	state, err := s.states.Issue(userID, p)
	if err != nil {
		return nil, err
	}
	return &ConnectTarget{URL: adapter.AuthorizeURL(state)}, nil
}

// HandleCallback completes the OAuth handshake. The state check runs before
// any token exchange; a mismatch aborts without touching the provider or the
// stored connection.
func (s *Service) HandleCallback(ctx context.Context, userID uuid.UUID, p provider.ID, code, state, providerErr string) (*Connection, error) {
	if providerErr != "" {
		return nil, fmt.Errorf("%w: %s", ErrProviderDenied, providerErr)
	}

	adapter, ok := s.registry.Cloud(p)
	if !ok {
		return nil, ErrNotConfigured
	}

	if !s.states.Verify(userID, p, state) {
		s.log.Warn().Str("provider", string(p)).Str("user_id", userID.String()).
			Msg("oauth state mismatch")
		return nil, ErrStateMismatch
	}

	grant, err := adapter.ExchangeCode(ctx, code)
	if err != nil || grant == nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}

	now := s.now()
	c, err := s.repo.GetByUserProvider(ctx, userID, p)
	if err != nil {
		// First connection for this (user, provider): authorizing with the
		// provider is the consent act.
		c = &Connection{
			UserID:        userID,
			Provider:      p,
			Status:        StatusConnected,
			Consented:     true,
			ConsentDate:   &now,
			Collect:       DefaultCollectionSettings(),
			SyncFrequency: 24,
		}
		s.applyGrant(c, grant)
		if err := s.repo.Create(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	}

	c.Status = StatusConnected
	s.applyGrant(c, grant)
	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) applyGrant(c *Connection, grant *provider.TokenGrant) {
	c.AccessToken = grant.AccessToken
	if grant.RefreshToken != "" {
		c.RefreshToken = grant.RefreshToken
	}
	if !grant.Expiry.IsZero() {
		expiry := grant.Expiry
		c.TokenExpiry = &expiry
	}
	if grant.ProviderUserID != "" {
		puid := grant.ProviderUserID
		c.ProviderUserID = &puid
	}
}

// EnsurePushConnection finds or creates the connection backing a mobile-push
// ingestion. Push connections have no tokens; they are Connected by virtue of
// the device pushing data.
func (s *Service) EnsurePushConnection(ctx context.Context, userID uuid.UUID, p provider.ID) (*Connection, error) {
	if _, ok := s.registry.Push(p); !ok {
		return nil, ErrNotConfigured
	}
	c, err := s.repo.GetByUserProvider(ctx, userID, p)
	if err == nil {
		return c, nil
	}
	now := s.now()
	c = &Connection{
		UserID:        userID,
		Provider:      p,
		Status:        StatusConnected,
		Consented:     true,
		ConsentDate:   &now,
		Collect:       DefaultCollectionSettings(),
		SyncFrequency: 24,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
