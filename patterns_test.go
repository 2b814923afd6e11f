package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClassifier(t *testing.T, clients ClientsConfig) *PatternClassifier {
	t.Helper()
	cfg := PatternsConfig{MatchThreshold: 0.8, PersistEvery: 5}
	return NewPatternClassifier(cfg, clients, "")
}

// findPattern locates a learned (non-seed) pattern by category.
func findPattern(pc *PatternClassifier, reason, category string) *MetadataPattern {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	for _, p := range pc.patterns {
		if p.Reason == reason && p.Category == category {
			return p
		}
	}
	return nil
}

func TestLearnRequiresMinSupport(t *testing.T) {
	pc := newTestClassifier(t, ClientsConfig{})
	md := FilterMetadata{Reason: "listed on internal feed", FilterID: "feed-1"}

	pc.Learn("a.example.com", md, CategoryTracker, "test")
	pc.Learn("b.example.com", md, CategoryTracker, "test")
	require.Nil(t, findPattern(pc, "listed on internal feed", CategoryTracker),
		"two observations must not materialize a pattern")

	pc.Learn("c.example.com", md, CategoryTracker, "test")
	p := findPattern(pc, "listed on internal feed", CategoryTracker)
	require.NotNil(t, p, "third observation must materialize the pattern")
	assert.Equal(t, 3, p.Support)
	assert.InDelta(t, 0.3, p.Confidence, 1e-9)
}

func TestClassifyConfidenceCrossing(t *testing.T) {
	md := FilterMetadata{Reason: "listed on internal feed"}

	// Eight identical observations push confidence to exactly 0.8.
	pc := newTestClassifier(t, ClientsConfig{})
	for i := 0; i < 8; i++ {
		pc.Learn("x.example.com", md, CategoryTracker, "test")
	}
	cls := pc.Classify(md)
	assert.Equal(t, SourcePattern, cls.Source)
	assert.Equal(t, CategoryTracker, cls.Category)
	assert.InDelta(t, 0.8, cls.Confidence, 1e-9)

	// Five observations (confidence 0.5) must fall through; the reason text
	// matches no heuristic keyword, so the result is unknown.
	pc = newTestClassifier(t, ClientsConfig{})
	for i := 0; i < 5; i++ {
		pc.Learn("x.example.com", md, CategoryTracker, "test")
	}
	cls = pc.Classify(md)
	assert.Equal(t, SourceUnknown, cls.Source)
	assert.Equal(t, CategoryUnknown, cls.Category)
	assert.Equal(t, 0.0, cls.Confidence)
}

func TestClassifyColdMetadata(t *testing.T) {
	pc := newTestClassifier(t, ClientsConfig{})
	cls := pc.Classify(FilterMetadata{})
	assert.Equal(t, CategoryUnknown, cls.Category)
	assert.Equal(t, 0.0, cls.Confidence)
	assert.Equal(t, SourceUnknown, cls.Source)
}

func TestClassifySeedPattern(t *testing.T) {
	pc := newTestClassifier(t, ClientsConfig{})
	cls := pc.Classify(FilterMetadata{Reason: "blocked by malware filter"})
	assert.Equal(t, SourcePattern, cls.Source)
	assert.Equal(t, CategoryMalware, cls.Category)
	assert.InDelta(t, 0.95, cls.Confidence, 1e-9)
	assert.Equal(t, RiskHigh, cls.Risk)
}

func TestClassifyEverySeedReachable(t *testing.T) {
	pc := newTestClassifier(t, ClientsConfig{})

	// Each curated seed must match its own reason text: the reason has to
	// normalize to the rule class the seed was stored under, or the seed can
	// never fire.
	for _, s := range seedPatterns {
		assert.Equal(t, s.rulePattern, normalizeRule(s.reason, ""),
			"seed reason %q must normalize to its stored rule class", s.reason)

		cls := pc.Classify(FilterMetadata{Reason: s.reason})
		assert.Equal(t, SourcePattern, cls.Source, "seed %q must classify as a pattern hit", s.reason)
		assert.Equal(t, s.category, cls.Category)
		assert.InDelta(t, 0.95, cls.Confidence, 1e-9)
	}
}

func TestClassifyKeywordFallback(t *testing.T) {
	pc := newTestClassifier(t, ClientsConfig{})

	cls := pc.Classify(FilterMetadata{Reason: "tracking pixel detected"})
	assert.Equal(t, SourceHeuristic, cls.Source)
	assert.Equal(t, CategoryTracker, cls.Category)
	assert.InDelta(t, 0.9, cls.Confidence, 1e-9)

	// Malware keywords outrank tracking ones.
	cls = pc.Classify(FilterMetadata{Reason: "malware tracking list"})
	assert.Equal(t, CategoryMalware, cls.Category)
}

func TestLearnIgnoresUninformative(t *testing.T) {
	pc := newTestClassifier(t, ClientsConfig{})
	md := FilterMetadata{Reason: "whatever"}
	for i := 0; i < 10; i++ {
		pc.Learn("x.example.com", md, CategoryUnknown, "test")
		pc.Learn("x.example.com", md, CategoryGeneral, "test")
	}
	assert.Nil(t, findPattern(pc, "whatever", CategoryUnknown))
	assert.Nil(t, findPattern(pc, "whatever", CategoryGeneral))
	assert.Empty(t, pc.support)
}

func TestClientPatternBoost(t *testing.T) {
	clients := ClientsConfig{IOTCIDRs: []string{"10.1.0.0/16"}}
	pc := newTestClassifier(t, clients)

	md := FilterMetadata{Reason: "listed on internal feed", Client: "10.1.2.3"}
	for i := 0; i < 7; i++ {
		pc.Learn("x.example.com", md, CategoryPrivacy, "test")
	}

	// Same IOT client: 0.7 boosted by 1.2 crosses the 0.8 threshold.
	cls := pc.Classify(md)
	assert.Equal(t, SourcePattern, cls.Source)
	assert.InDelta(t, 0.84, cls.Confidence, 1e-9)

	// No client: no boost, 0.7 falls through to unknown.
	cls = pc.Classify(FilterMetadata{Reason: "listed on internal feed"})
	assert.Equal(t, SourceUnknown, cls.Source)
}

func TestNormalizeClient(t *testing.T) {
	clients := ClientsConfig{
		MobileCIDRs: []string{"192.168.10.0/24"},
		IOTCIDRs:    []string{"192.168.20.0/24"},
	}
	pc := newTestClassifier(t, clients)

	assert.Equal(t, clientMobile, pc.normalizeClient("192.168.10.5"))
	assert.Equal(t, clientIOT, pc.normalizeClient("192.168.20.9"))
	assert.Equal(t, clientOther, pc.normalizeClient("172.16.0.1"))
	assert.Equal(t, clientMobile, pc.normalizeClient("lisas-iphone"))
	assert.Equal(t, clientDesktop, pc.normalizeClient("office-workstation"))
	assert.Equal(t, clientOther, pc.normalizeClient(""))
}

func TestAutonomyScore(t *testing.T) {
	pc := newTestClassifier(t, ClientsConfig{})
	assert.Equal(t, 0.0, pc.AutonomyScore())

	pc.RecordLocalDecision()
	pc.RecordLocalDecision()
	pc.RecordLocalDecision()
	pc.RecordCloudDecision()
	assert.InDelta(t, 0.75, pc.AutonomyScore(), 1e-9)
}

func TestPatternPersistenceRoundTrip(t *testing.T) {
	statePath := t.TempDir() + "/patterns.json"
	cfg := PatternsConfig{MatchThreshold: 0.8, PersistEvery: 5}

	first := NewPatternClassifier(cfg, ClientsConfig{}, statePath)
	md := FilterMetadata{Reason: "listed on internal feed"}
	for i := 0; i < 8; i++ {
		first.Learn("x.example.com", md, CategoryTracker, "test")
	}
	first.persistState()

	second := NewPatternClassifier(cfg, ClientsConfig{}, statePath)
	cls := second.Classify(md)
	assert.Equal(t, SourcePattern, cls.Source)
	assert.InDelta(t, 0.8, cls.Confidence, 1e-9)
}
