package connection

import (
	"testing"
	"time"

	"github.com/TechCorp07/klara-test-sub001/internal/provider"
)

func TestConnection_NeedsSync(t *testing.T) {
	now := time.Now()

	c := &Connection{SyncFrequency: 24}
	if !c.NeedsSync(now) {
		t.Error("never-synced connection should need sync")
	}

	last := now.Add(-25 * time.Hour)
	c.LastSyncAt = &last
	if !c.NeedsSync(now) {
		t.Error("25h since last sync with 24h frequency should need sync")
	}

	last = now.Add(-10 * time.Hour)
	c.LastSyncAt = &last
	if c.NeedsSync(now) {
		t.Error("10h since last sync with 24h frequency should not need sync")
	}
}

func TestConnection_NeedsSync_ZeroFrequencyDefaults(t *testing.T) {
	now := time.Now()
	last := now.Add(-23 * time.Hour)
	c := &Connection{LastSyncAt: &last} // frequency unset
	if c.NeedsSync(now) {
		t.Error("23h elapsed should not trigger with the 24h default")
	}
}

func TestConnection_Connected(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	c := &Connection{AccessToken: "tok", Status: StatusConnected, TokenExpiry: &future}
	if !c.Connected(now) {
		t.Error("valid token should be connected")
	}

	c.TokenExpiry = &past
	if c.Connected(now) {
		t.Error("expired token should not be connected")
	}

	c.TokenExpiry = nil
	c.AccessToken = ""
	if c.Connected(now) {
		t.Error("missing token should not be connected")
	}

	c.AccessToken = "tok"
	c.Status = StatusError
	if c.Connected(now) {
		t.Error("non-connected status should not be connected")
	}
}

func TestConnection_ComputeStatus(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)

	c := &Connection{}
	if got := c.ComputeStatus(now); got != StatusDisconnected {
		t.Errorf("empty token status = %v", got)
	}

	c.AccessToken = "tok"
	c.TokenExpiry = &past
	if got := c.ComputeStatus(now); got != StatusTokenExpired {
		t.Errorf("expired status = %v", got)
	}

	future := now.Add(time.Hour)
	c.TokenExpiry = &future
	if got := c.ComputeStatus(now); got != StatusConnected {
		t.Errorf("valid status = %v", got)
	}
}

func TestCollectionSettings_Categories(t *testing.T) {
	cs := CollectionSettings{Steps: true, BloodPressure: true}
	cats := cs.Categories()
	if len(cats) != 2 {
		t.Fatalf("cats = %v", cats)
	}
	want := map[provider.Category]bool{
		provider.CategorySteps:         true,
		provider.CategoryBloodPressure: true,
	}
	for _, c := range cats {
		if !want[c] {
			t.Errorf("unexpected category %v", c)
		}
	}

	all := DefaultCollectionSettings().Categories()
	// every canonical category is reachable through some toggle
	if len(all) != 16 {
		t.Errorf("default settings expand to %d categories, want 16", len(all))
	}
}
