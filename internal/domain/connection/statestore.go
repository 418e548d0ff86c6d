package connection

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

// StateStore keeps one pending OAuth CSRF state token per (user, provider)
// pair. Tokens are single-use and expire after the TTL.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	ttl     time.Duration
	now     func() time.Time
}

type stateEntry struct {
	state   string
	expires time.Time
}

const DefaultStateTTL = 10 * time.Minute

func NewStateStore(ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateStore{
		entries: make(map[string]stateEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func stateKey(userID uuid.UUID, p provider.ID) string {
	return fmt.Sprintf("%s|%s", userID, p)
}

// Issue generates a fresh random state token and stores it against the
// (user, provider) pair, replacing any previous one.
func (s *StateStore) Issue(userID uuid.UUID, p provider.ID) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	state := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.entries[stateKey(userID, p)] = stateEntry{state: state, expires: s.now().Add(s.ttl)}
	return state, nil
}

// Verify checks the supplied state against the stored value and consumes it
// on success. Expired or absent entries never match.
func (s *StateStore) Verify(userID uuid.UUID, p provider.ID, state string) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(userID, p)
	entry, ok := s.entries[key]
	if !ok || s.now().After(entry.expires) || entry.state != state {
		return false
	}
	delete(s.entries, key)
	return true
}

// sweepLocked drops expired entries. Called with the lock held.
func (s *StateStore) sweepLocked() {
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
}
