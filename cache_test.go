package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *AnalysisCache {
	t.Helper()
	cfg := CacheConfig{TTLLocal: 3600, TTLCloud: 1800, parsedSweepInterval: time.Minute}
	return NewAnalysisCache(cfg, "")
}

func TestSignatureDeterministic(t *testing.T) {
	md := FilterMetadata{Reason: "blocked", FilterID: "f1", Rule: "||ads.example^", Client: "10.0.0.1"}
	assert.Equal(t, Signature("example.com", md), Signature("Example.COM.", md))
	assert.NotEqual(t, Signature("example.com", md), Signature("example.org", md))
	assert.NotEqual(t, Signature("example.com", md), Signature("example.com", FilterMetadata{Reason: "blocked"}))
}

func TestCacheIdempotentReads(t *testing.T) {
	c := newTestCache(t)
	md := FilterMetadata{Reason: "blocked by tracking filter"}
	want := Verdict{Category: CategoryTracker, Risk: RiskMedium, Confidence: 0.9, AnalysisSource: SourcePattern}

	c.Set("tracker.example.com", md, want, 3600)

	got1, ok1 := c.Get("tracker.example.com", md)
	got2, ok2 := c.Get("tracker.example.com", md)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, got1, got2)
	assert.Equal(t, want, got1)
}

func TestCacheTTLBoundary(t *testing.T) {
	c := newTestCache(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	c.nowFn = func() time.Time { return now }

	md := FilterMetadata{Reason: "test"}
	c.Set("ttl.example.com", md, Verdict{Category: CategoryGeneral}, 3600)

	now = base.Add(3599 * time.Second)
	_, ok := c.Get("ttl.example.com", md)
	assert.True(t, ok, "entry must be present one second before expiry")

	now = base.Add(3601 * time.Second)
	_, ok = c.Get("ttl.example.com", md)
	assert.False(t, ok, "entry must be absent one second after expiry")
}

func TestCacheSupersede(t *testing.T) {
	c := newTestCache(t)
	md := FilterMetadata{Reason: "test"}

	c.Set("x.example.com", md, Verdict{Category: CategoryGeneral}, 3600)
	c.Set("x.example.com", md, Verdict{Category: CategoryMalware, Risk: RiskHigh}, 1800)

	got, ok := c.Get("x.example.com", md)
	require.True(t, ok)
	assert.Equal(t, CategoryMalware, got.Category)
	assert.Equal(t, 1, c.Size())
}

func TestCacheSweepEvictsExpired(t *testing.T) {
	c := newTestCache(t)
	base := time.Now()
	now := base
	c.nowFn = func() time.Time { return now }

	c.Set("a.example.com", FilterMetadata{}, Verdict{}, 60)
	c.Set("b.example.com", FilterMetadata{}, Verdict{}, 7200)
	require.Equal(t, 2, c.Size())

	now = base.Add(2 * time.Hour).Add(-time.Second)
	c.sweep()
	assert.Equal(t, 1, c.Size())
}

func TestCacheDurablePromotion(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "cache.json")
	md := FilterMetadata{Reason: "persisted"}

	first := NewAnalysisCache(CacheConfig{parsedSweepInterval: time.Minute}, statePath)
	first.Set("keep.example.com", md, Verdict{Category: CategoryAds, Risk: RiskLow}, 86400)
	first.persistState()

	second := NewAnalysisCache(CacheConfig{parsedSweepInterval: time.Minute}, statePath)
	got, ok := second.Get("keep.example.com", md)
	require.True(t, ok, "durable hit must be served")
	assert.Equal(t, CategoryAds, got.Category)

	// The durable hit is promoted into memory.
	assert.Equal(t, 1, second.Size())
}

func TestCachePersistFailureDegradesToMemoryOnly(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0644))

	// The state path's parent is a regular file, so every write must fail.
	c := NewAnalysisCache(CacheConfig{parsedSweepInterval: time.Minute}, filepath.Join(blocker, "cache.json"))
	md := FilterMetadata{Reason: "test"}

	c.Set("degraded.example.com", md, Verdict{Category: CategoryGeneral}, 3600)
	c.persistState()

	c.mu.RLock()
	degraded := c.degraded
	c.mu.RUnlock()
	require.True(t, degraded, "persist failure must flip the cache to memory-only")

	// Memory-tier reads and writes keep working.
	got, ok := c.Get("degraded.example.com", md)
	require.True(t, ok)
	assert.Equal(t, CategoryGeneral, got.Category)

	c.Set("later.example.com", md, Verdict{Category: CategoryAds}, 3600)
	_, ok = c.Get("later.example.com", md)
	assert.True(t, ok)

	// Degraded mode stops feeding the durable mirror.
	c.mu.RLock()
	_, inPersisted := c.persisted[Signature("later.example.com", md)]
	c.mu.RUnlock()
	assert.False(t, inPersisted)
}

func TestCacheMissOnUnknownSignature(t *testing.T) {
	c := newTestCache(t)
	_, ok := c.Get("never-seen.example.com", FilterMetadata{})
	assert.False(t, ok)
}
