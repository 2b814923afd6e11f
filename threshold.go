/*
File: threshold.go
Version: 1.5.0
Description: Self-tuning entropy/contamination thresholds. Adjustments are
             gated on a minimum sample count and a cooldown so the threshold
             cannot oscillate; every mutation is recorded in a capped audit
             log and the full state is persisted.
*/

package main

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

const (
	thresholdWindowSize    = 1000
	entropyAdjustTolerance = 0.1
	targetAnomalyRate      = 0.05
	anomalyRateTolerance   = 0.02
	contaminationStepUp    = 0.01
	contaminationStepDown  = 0.005
	contaminationMin       = 0.01
	contaminationMax       = 0.15
	auditLogCap            = 100
	contextMultiplierFloor = 0.5
	contextMultiplierCeil  = 2.0
)

// ThresholdAdjustment is one audit record of a threshold mutation.
type ThresholdAdjustment struct {
	OldValue    float64   `json:"old_value"`
	NewValue    float64   `json:"new_value"`
	Reason      string    `json:"reason"`
	SampleCount int       `json:"sample_count"`
	Timestamp   time.Time `json:"timestamp"`
}

// thresholdState is the persisted form of the controller.
type thresholdState struct {
	EntropyThreshold  float64               `json:"entropy_threshold"`
	ContaminationRate float64               `json:"contamination_rate"`
	EntropyWindow     []float64             `json:"entropy_window"`
	ScoreWindow       []float64             `json:"score_window"`
	Adjustments       []ThresholdAdjustment `json:"adjustments"`
	LastAdjustment    time.Time             `json:"last_adjustment"`
}

// ThresholdController owns the rolling sample windows and the live
// thresholds consumed by the decision engine.
type ThresholdController struct {
	mu sync.Mutex

	entropyThreshold  float64
	contaminationRate float64
	entropyWindow     []float64
	scoreWindow       []float64
	adjustments       []ThresholdAdjustment
	lastAdjustment    time.Time

	minSamples int
	cooldown   time.Duration

	statePath string
	saver     *saveNotifier
	nowFn     func() time.Time
}

func NewThresholdController(cfg ThresholdConfig, statePath string) *ThresholdController {
	tc := &ThresholdController{
		entropyThreshold:  cfg.EntropyDefault,
		contaminationRate: cfg.ContaminationDefault,
		minSamples:        cfg.MinSamples,
		cooldown:          cfg.parsedCooldown,
		statePath:         statePath,
		saver:             newSaveNotifier(),
		nowFn:             time.Now,
	}
	tc.loadState()
	return tc
}

func (tc *ThresholdController) loadState() {
	if tc.statePath == "" {
		return
	}
	var state thresholdState
	ok, err := readStateFile(tc.statePath, &state)
	if err != nil {
		LogWarn("[THRESHOLD] Failed to load state from %s, using defaults: %v", tc.statePath, err)
		return
	}
	if !ok {
		return
	}
	if state.EntropyThreshold > 0 {
		tc.entropyThreshold = state.EntropyThreshold
	}
	if state.ContaminationRate >= contaminationMin && state.ContaminationRate <= contaminationMax {
		tc.contaminationRate = state.ContaminationRate
	}
	tc.entropyWindow = truncateWindow(state.EntropyWindow, thresholdWindowSize)
	tc.scoreWindow = truncateWindow(state.ScoreWindow, thresholdWindowSize)
	tc.adjustments = state.Adjustments
	if len(tc.adjustments) > auditLogCap {
		tc.adjustments = tc.adjustments[len(tc.adjustments)-auditLogCap:]
	}
	tc.lastAdjustment = state.LastAdjustment
	LogInfo("[THRESHOLD] Loaded state (entropy %.2f, contamination %.3f, %d samples)",
		tc.entropyThreshold, tc.contaminationRate, len(tc.entropyWindow))
}

// RecordEntropy appends one entropy sample and may trigger an adjustment.
func (tc *ThresholdController) RecordEntropy(x float64) {
	tc.mu.Lock()
	tc.entropyWindow = appendBounded(tc.entropyWindow, x, thresholdWindowSize)
	adjusted := tc.maybeAdjustLocked()
	tc.mu.Unlock()

	if adjusted {
		tc.saver.Kick()
	}
}

// RecordAnomalyScore appends one anomaly-score sample.
func (tc *ThresholdController) RecordAnomalyScore(x float64) {
	tc.mu.Lock()
	tc.scoreWindow = appendBounded(tc.scoreWindow, x, thresholdWindowSize)
	tc.mu.Unlock()
}

func appendBounded(window []float64, x float64, max int) []float64 {
	if len(window) >= max {
		window = window[1:]
	}
	return append(window, x)
}

// truncateWindow keeps the newest max samples. appendBounded trims one
// element per append, so an oversized window loaded from disk would never
// converge without this.
func truncateWindow(window []float64, max int) []float64 {
	if len(window) > max {
		return window[len(window)-max:]
	}
	return window
}

// maybeAdjustLocked applies the adaptation rules. No-op until the sample
// count and cooldown gates pass. Returns true when any threshold moved.
func (tc *ThresholdController) maybeAdjustLocked() bool {
	if len(tc.entropyWindow) < tc.minSamples {
		return false
	}
	now := tc.nowFn()
	if !tc.lastAdjustment.IsZero() && now.Sub(tc.lastAdjustment) < tc.cooldown {
		return false
	}

	changed := false

	p95 := percentile(tc.entropyWindow, 0.95)
	p5 := percentile(tc.entropyWindow, 0.05)
	if diff := p95 - tc.entropyThreshold; diff > entropyAdjustTolerance || diff < -entropyAdjustTolerance {
		tc.appendAuditLocked(ThresholdAdjustment{
			OldValue:    tc.entropyThreshold,
			NewValue:    p95,
			Reason:      "entropy p95 drift",
			SampleCount: len(tc.entropyWindow),
			Timestamp:   now,
		})
		LogInfo("[THRESHOLD] Entropy threshold %.3f -> %.3f (p95=%.3f, p5=%.3f, samples=%d)",
			tc.entropyThreshold, p95, p95, p5, len(tc.entropyWindow))
		tc.entropyThreshold = p95
		changed = true
	}

	// Nudge contamination toward the target observed anomaly rate.
	if len(tc.scoreWindow) > 0 {
		anomalous := 0
		for _, s := range tc.scoreWindow {
			if s < 0 {
				anomalous++
			}
		}
		observed := float64(anomalous) / float64(len(tc.scoreWindow))
		old := tc.contaminationRate
		switch {
		case observed > targetAnomalyRate+anomalyRateTolerance:
			tc.contaminationRate += contaminationStepUp
			if tc.contaminationRate > contaminationMax {
				tc.contaminationRate = contaminationMax
			}
		case observed < targetAnomalyRate-anomalyRateTolerance:
			tc.contaminationRate -= contaminationStepDown
			if tc.contaminationRate < contaminationMin {
				tc.contaminationRate = contaminationMin
			}
		}
		if tc.contaminationRate != old {
			tc.appendAuditLocked(ThresholdAdjustment{
				OldValue:    old,
				NewValue:    tc.contaminationRate,
				Reason:      "anomaly rate drift",
				SampleCount: len(tc.scoreWindow),
				Timestamp:   now,
			})
			LogInfo("[THRESHOLD] Contamination %.3f -> %.3f (observed rate %.3f)",
				old, tc.contaminationRate, observed)
			changed = true
		}
	}

	if changed {
		tc.lastAdjustment = now
	}
	return changed
}

func (tc *ThresholdController) appendAuditLocked(adj ThresholdAdjustment) {
	tc.adjustments = append(tc.adjustments, adj)
	if len(tc.adjustments) > auditLogCap {
		tc.adjustments = tc.adjustments[len(tc.adjustments)-auditLogCap:]
	}
}

// percentile returns the p-quantile of values (copy, nearest-rank).
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// EntropyThreshold returns the current self-tuned entropy cutoff.
func (tc *ThresholdController) EntropyThreshold() float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.entropyThreshold
}

// ContaminationRate returns the current assumed outlier fraction.
func (tc *ThresholdController) ContaminationRate() float64 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.contaminationRate
}

// Adjustments returns a copy of the audit log.
func (tc *ThresholdController) Adjustments() []ThresholdAdjustment {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]ThresholdAdjustment, len(tc.adjustments))
	copy(out, tc.adjustments)
	return out
}

// ContextMultiplier combines a time-of-day factor with a TLD reputation
// factor, clamped to [0.5, 2.0]. hour is 0-23; pass -1 to use the current
// hour.
func (tc *ThresholdController) ContextMultiplier(domain string, hour int) float64 {
	if hour < 0 || hour > 23 {
		hour = tc.nowFn().Hour()
	}

	multiplier := 1.0
	switch {
	case hour >= 0 && hour < 6:
		multiplier *= 1.3
	case hour >= 9 && hour < 18:
		multiplier *= 0.9
	}

	tld := effectiveTLD(domain)
	if _, ok := highRiskTLDs[tld]; ok {
		multiplier *= 1.5
	} else if _, ok := lowRiskTLDs[tld]; ok {
		multiplier *= 0.8
	}

	if multiplier < contextMultiplierFloor {
		multiplier = contextMultiplierFloor
	}
	if multiplier > contextMultiplierCeil {
		multiplier = contextMultiplierCeil
	}
	return multiplier
}

// effectiveTLD returns the last label of the public suffix, so "co.uk"
// resolves to the reputation of "uk".
func effectiveTLD(domain string) string {
	suffix, _ := publicsuffix.PublicSuffix(canonicalDomain(domain))
	if idx := strings.LastIndex(suffix, "."); idx != -1 {
		suffix = suffix[idx+1:]
	}
	return suffix
}

// Start runs the background state writer until ctx is cancelled.
func (tc *ThresholdController) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		tc.saver.Run(ctx, tc.persistState)
	}()
}

func (tc *ThresholdController) persistState() {
	if tc.statePath == "" {
		return
	}

	tc.mu.Lock()
	state := thresholdState{
		EntropyThreshold:  tc.entropyThreshold,
		ContaminationRate: tc.contaminationRate,
		EntropyWindow:     append([]float64(nil), tc.entropyWindow...),
		ScoreWindow:       append([]float64(nil), tc.scoreWindow...),
		Adjustments:       append([]ThresholdAdjustment(nil), tc.adjustments...),
		LastAdjustment:    tc.lastAdjustment,
	}
	tc.mu.Unlock()

	if err := writeStateFile(tc.statePath, &state); err != nil {
		LogWarn("[THRESHOLD] Persist failed, retaining in-memory values: %v", err)
	}
}
