package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnomalyEngine() *AnomalyEngine {
	cfg := AnomalyConfig{MaxHistory: 1000, MinSamples: 5, RetrainEvery: 100}
	return NewAnomalyEngine(cfg, 0.05)
}

func baselineVector(i int) FeatureVector {
	// Small spread so the fitted MAD is non-degenerate.
	return FeatureVector{
		Entropy:    2.5 + float64(i%5)*0.02,
		Length:     12 + float64(i%3),
		DigitRatio: 0.05,
		VowelRatio: 0.35,
		NonAlnum:   1,
	}
}

func TestAnomalyColdStart(t *testing.T) {
	ae := newTestAnomalyEngine()
	extreme := FeatureVector{Entropy: 5.9, Length: 200, DigitRatio: 0.9, VowelRatio: 0, NonAlnum: 40}

	for i := 0; i < 4; i++ {
		isAnomaly, score := ae.Predict(extreme)
		assert.False(t, isAnomaly, "cold start must never flag")
		assert.Equal(t, 0.0, score)
	}
	assert.False(t, ae.GetStats().Ready)
}

func TestAnomalyFlagsOutlier(t *testing.T) {
	ae := newTestAnomalyEngine()
	for i := 0; i < 50; i++ {
		ae.Predict(baselineVector(i))
	}

	isAnomaly, score := ae.Predict(FeatureVector{
		Entropy: 5.8, Length: 180, DigitRatio: 0.85, VowelRatio: 0, NonAlnum: 30,
	})
	assert.True(t, isAnomaly)
	assert.Less(t, score, zeroDayScoreCutoff)
}

func TestAnomalyAcceptsBaseline(t *testing.T) {
	ae := newTestAnomalyEngine()
	for i := 0; i < 50; i++ {
		ae.Predict(baselineVector(i))
	}

	isAnomaly, score := ae.Predict(baselineVector(51))
	assert.False(t, isAnomaly)
	assert.GreaterOrEqual(t, score, 0.0)
}

func TestAnomalyWindowBounded(t *testing.T) {
	cfg := AnomalyConfig{MaxHistory: 20, MinSamples: 5, RetrainEvery: 100}
	ae := NewAnomalyEngine(cfg, 0.05)
	for i := 0; i < 100; i++ {
		ae.Predict(baselineVector(i))
	}
	assert.Equal(t, 20, ae.GetStats().SampleCount)
}

func TestAnomalyStats(t *testing.T) {
	ae := newTestAnomalyEngine()
	stats := ae.GetStats()
	assert.False(t, stats.Trained)
	assert.Equal(t, 0, stats.SampleCount)
	assert.Equal(t, 5, stats.MinSamplesRequired)
	assert.Equal(t, 1000, stats.MaxHistorySize)
	assert.InDelta(t, 0.05, stats.ContaminationRate, 1e-9)

	for i := 0; i < 10; i++ {
		ae.Predict(baselineVector(i))
	}
	stats = ae.GetStats()
	assert.True(t, stats.Trained)
	assert.True(t, stats.Ready)
	assert.Equal(t, 10, stats.SampleCount)
}

func TestFitRobustModelEmptyWindow(t *testing.T) {
	_, err := fitRobustModel(nil)
	require.Error(t, err)
}

func TestContaminationShiftsCutoff(t *testing.T) {
	ae := newTestAnomalyEngine()
	ae.SetContamination(0.15)
	low := ae.deviationCutoff()
	ae.SetContamination(0.01)
	high := ae.deviationCutoff()
	assert.Less(t, low, high, "higher contamination must lower the decision bar")
}
