package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThresholds(statePath string) *ThresholdController {
	cfg := ThresholdConfig{
		EntropyDefault:       3.8,
		ContaminationDefault: 0.05,
		MinSamples:           100,
		parsedCooldown:       time.Hour,
	}
	return NewThresholdController(cfg, statePath)
}

func TestThresholdRequiresMinSamples(t *testing.T) {
	tc := newTestThresholds("")
	for i := 0; i < 99; i++ {
		tc.RecordEntropy(5.0)
	}
	assert.InDelta(t, 3.8, tc.EntropyThreshold(), 1e-9)
	assert.Empty(t, tc.Adjustments())
}

func TestThresholdAdjustsToP95(t *testing.T) {
	tc := newTestThresholds("")
	for i := 0; i < 100; i++ {
		tc.RecordEntropy(5.0)
	}

	assert.InDelta(t, 5.0, tc.EntropyThreshold(), 1e-9)
	adjs := tc.Adjustments()
	require.Len(t, adjs, 1)
	assert.InDelta(t, 3.8, adjs[0].OldValue, 1e-9)
	assert.InDelta(t, 5.0, adjs[0].NewValue, 1e-9)
	assert.Equal(t, 100, adjs[0].SampleCount)
	assert.False(t, adjs[0].Timestamp.IsZero())
}

func TestThresholdCooldownBlocksSecondAdjustment(t *testing.T) {
	tc := newTestThresholds("")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tc.nowFn = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		tc.RecordEntropy(5.0)
	}
	require.InDelta(t, 5.0, tc.EntropyThreshold(), 1e-9)

	// Flood the window so p95 drops well below the live threshold. Still
	// inside the cooldown, so nothing may move.
	for i := 0; i < thresholdWindowSize; i++ {
		tc.RecordEntropy(2.0)
	}
	assert.InDelta(t, 5.0, tc.EntropyThreshold(), 1e-9)

	now = now.Add(2 * time.Hour)
	tc.RecordEntropy(2.0)
	assert.InDelta(t, 2.0, tc.EntropyThreshold(), 1e-9)
}

func TestContaminationNudgesUpOnHighAnomalyRate(t *testing.T) {
	tc := newTestThresholds("")
	tc.minSamples = 10

	for i := 0; i < 8; i++ {
		tc.RecordAnomalyScore(0.5)
	}
	tc.RecordAnomalyScore(-0.5)
	tc.RecordAnomalyScore(-0.5)

	// Entropy samples sit exactly on the threshold, so only the
	// contamination rule can fire.
	for i := 0; i < 10; i++ {
		tc.RecordEntropy(3.8)
	}

	assert.InDelta(t, 0.06, tc.ContaminationRate(), 1e-9)
	adjs := tc.Adjustments()
	require.Len(t, adjs, 1)
	assert.Equal(t, "anomaly rate drift", adjs[0].Reason)
}

func TestContaminationNudgesDownOnQuietScores(t *testing.T) {
	tc := newTestThresholds("")
	tc.minSamples = 10

	for i := 0; i < 10; i++ {
		tc.RecordAnomalyScore(0.5)
	}
	for i := 0; i < 10; i++ {
		tc.RecordEntropy(3.8)
	}

	assert.InDelta(t, 0.045, tc.ContaminationRate(), 1e-9)
}

func TestAuditLogCapped(t *testing.T) {
	tc := newTestThresholds("")
	tc.mu.Lock()
	for i := 0; i < auditLogCap+50; i++ {
		tc.appendAuditLocked(ThresholdAdjustment{Reason: "entropy p95 drift"})
	}
	tc.mu.Unlock()
	assert.Len(t, tc.Adjustments(), auditLogCap)
}

func TestContextMultiplier(t *testing.T) {
	tc := newTestThresholds("")

	// Late night on a high-abuse TLD.
	assert.InDelta(t, 1.95, tc.ContextMultiplier("suspicious.tk", 2), 1e-9)
	// Business hours on an established TLD.
	assert.InDelta(t, 0.72, tc.ContextMultiplier("example.com", 10), 1e-9)
	// Neutral hour, unlisted TLD.
	assert.InDelta(t, 1.0, tc.ContextMultiplier("startup.io", 7), 1e-9)
	// Clamping holds regardless of inputs.
	for hour := 0; hour < 24; hour++ {
		m := tc.ContextMultiplier("x.tk", hour)
		assert.GreaterOrEqual(t, m, contextMultiplierFloor)
		assert.LessOrEqual(t, m, contextMultiplierCeil)
	}
}

func TestEffectiveTLD(t *testing.T) {
	assert.Equal(t, "uk", effectiveTLD("example.co.uk"))
	assert.Equal(t, "tk", effectiveTLD("Suspicious.TK."))
	assert.Equal(t, "com", effectiveTLD("www.example.com"))
}

func TestThresholdLoadTruncatesOversizedWindows(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "thresholds.json")

	oversized := make([]float64, thresholdWindowSize+500)
	for i := range oversized {
		oversized[i] = float64(i)
	}
	state := thresholdState{
		EntropyThreshold:  4.2,
		ContaminationRate: 0.05,
		EntropyWindow:     oversized,
		ScoreWindow:       oversized,
	}
	require.NoError(t, writeStateFile(statePath, &state))

	tc := newTestThresholds(statePath)
	assert.Len(t, tc.entropyWindow, thresholdWindowSize)
	assert.Len(t, tc.scoreWindow, thresholdWindowSize)
	// The newest tail survives, not the oldest head.
	assert.InDelta(t, 500.0, tc.entropyWindow[0], 1e-9)
	assert.InDelta(t, float64(thresholdWindowSize+499), tc.entropyWindow[len(tc.entropyWindow)-1], 1e-9)
}

func TestThresholdPersistenceRoundTrip(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "thresholds.json")

	tc := newTestThresholds(statePath)
	for i := 0; i < 100; i++ {
		tc.RecordEntropy(5.0)
	}
	require.InDelta(t, 5.0, tc.EntropyThreshold(), 1e-9)
	tc.persistState()

	reloaded := newTestThresholds(statePath)
	assert.InDelta(t, 5.0, reloaded.EntropyThreshold(), 1e-9)
	assert.InDelta(t, 0.05, reloaded.ContaminationRate(), 1e-9)
	assert.Len(t, reloaded.Adjustments(), 1)
	assert.False(t, reloaded.lastAdjustment.IsZero())
}
