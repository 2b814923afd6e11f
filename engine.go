/*
File: engine.go
Version: 1.7.0
Description: Decision engine. Composes cache, classifier, anomaly engine,
             threshold controller, and the external oracle into one verdict
             per observed domain. Concurrent analysis of the same signature
             is coalesced through the sharded flight group; the zero-day
             override always runs last and takes precedence.
*/

package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// zeroDayScoreCutoff is the strongly-negative anomaly score below which an
// unmatched domain is escalated to a zero-day suspicion.
const zeroDayScoreCutoff = -0.1

// knownRuleFilterSize sizes the bloom filter tracking domains that have ever
// matched a filter rule.
const knownRuleFilterSize = 100000

// ttlFailureSeconds caches oracle-unavailable fallback verdicts just long
// enough to absorb a retry burst; the domain gets a real verdict as soon as
// the oracle recovers.
const ttlFailureSeconds = 60

// DecisionEngine owns the five stateful components and routes escalation to
// the oracle. Construct with NewDecisionEngine; there are no package-level
// engine singletons.
type DecisionEngine struct {
	cache      *AnalysisCache
	classifier *PatternClassifier
	anomaly    *AnomalyEngine
	thresholds *ThresholdController
	feedback   *FeedbackLedger
	oracle     Oracle
	flight     *ShardedGroup

	ruleMu     sync.Mutex
	knownRules *bloom.BloomFilter

	ttlLocal int
	ttlCloud int
}

func NewDecisionEngine(cfg *Config, oracle Oracle) *DecisionEngine {
	stateFile := func(name string) string {
		if cfg.StateDir == "" {
			return ""
		}
		return cfg.StateDir + "/" + name
	}

	classifier := NewPatternClassifier(cfg.Patterns, cfg.Clients, stateFile("patterns.json"))
	thresholds := NewThresholdController(cfg.Threshold, stateFile("threshold.json"))

	return &DecisionEngine{
		cache:      NewAnalysisCache(cfg.Cache, stateFile("cache.json")),
		classifier: classifier,
		anomaly:    NewAnomalyEngine(cfg.Anomaly, thresholds.ContaminationRate()),
		thresholds: thresholds,
		feedback:   NewFeedbackLedger(cfg.Feedback, classifier, stateFile("feedback.json")),
		oracle:     oracle,
		flight:     NewShardedGroup(),
		knownRules: bloom.NewWithEstimates(knownRuleFilterSize, 0.01),
		ttlLocal:   cfg.Cache.TTLLocal,
		ttlCloud:   cfg.Cache.TTLCloud,
	}
}

// Start launches every component's background tasks (cache sweeper, state
// writers). They stop when ctx is cancelled; wg tracks them for shutdown.
func (e *DecisionEngine) Start(ctx context.Context, wg *sync.WaitGroup) {
	e.cache.Start(ctx, wg)
	e.classifier.Start(ctx, wg)
	e.thresholds.Start(ctx, wg)
	e.feedback.Start(ctx, wg)
}

// Feedback exposes the ledger for the API layer.
func (e *DecisionEngine) Feedback() *FeedbackLedger { return e.feedback }

// Analyze produces one verdict for an observed domain. It never returns an
// error: oracle unavailability resolves to a local fallback verdict.
func (e *DecisionEngine) Analyze(ctx context.Context, event AnalysisEvent) Verdict {
	domain := canonicalDomain(event.Domain)
	md := event.Metadata

	// Feature extraction and anomaly scoring run for every event, cache hit
	// or not, so the rolling models keep learning.
	features := ExtractFeatures(domain)
	isAnomaly, score := e.anomaly.Predict(features)

	// Record threshold samples regardless of which branch wins below, and
	// keep the anomaly engine's contamination in step with the controller.
	e.thresholds.RecordEntropy(features.Entropy)
	e.thresholds.RecordAnomalyScore(score)
	e.anomaly.SetContamination(e.thresholds.ContaminationRate())

	matchedBefore := e.observeRuleMatch(domain, md)

	if cached, ok := e.cache.Get(domain, md); ok {
		cached.AnalysisSource = SourceCache
		cached.IsAnomaly = isAnomaly
		cached.AnomalyScore = score
		return cached
	}

	sig := Signature(domain, md)
	v, _, _ := e.flight.Do(sig, func() (interface{}, error) {
		// A concurrent leader may have cached the verdict while we waited.
		if cached, ok := e.cache.Get(domain, md); ok {
			cached.AnalysisSource = SourceCache
			return cached, nil
		}
		return e.decide(ctx, domain, md, features, isAnomaly, score, matchedBefore), nil
	})

	verdict := v.(Verdict)
	verdict.IsAnomaly = isAnomaly
	verdict.AnomalyScore = score
	if IsDebugEnabled() {
		LogDebug("[ENGINE] %s -> %s/%s (conf %.2f, source %s, anomaly %.2f)",
			domain, verdict.Category, verdict.Risk, verdict.Confidence, verdict.AnalysisSource, score)
	}
	return verdict
}

// observeRuleMatch records a filter-rule hit for the domain and reports
// whether any rule had matched it before this event.
func (e *DecisionEngine) observeRuleMatch(domain string, md FilterMetadata) bool {
	e.ruleMu.Lock()
	defer e.ruleMu.Unlock()
	matched := e.knownRules.TestString(domain)
	if md.Rule != "" {
		e.knownRules.AddString(domain)
	}
	return matched
}

// decide runs the local-first ladder: learned pattern, entropy heuristic,
// oracle escalation; the zero-day override is applied last and wins.
func (e *DecisionEngine) decide(ctx context.Context, domain string, md FilterMetadata,
	features FeatureVector, isAnomaly bool, score float64, matchedBefore bool) Verdict {

	var verdict Verdict
	cloudSourced := false

	cls := e.classifier.Classify(md)
	switch {
	case cls.Confidence >= 0.8:
		verdict = Verdict{
			Category:       cls.Category,
			Risk:           riskForConfidence(cls.Confidence),
			Summary:        fmt.Sprintf("Classified locally from filter metadata %q", md.Reason),
			Confidence:     cls.Confidence,
			AnalysisSource: cls.Source,
		}
		e.classifier.RecordLocalDecision()
		if cls.Source != SourcePattern {
			// Pattern hits do not re-teach themselves; keyword-derived
			// verdicts do, so the tuple can graduate into a learned pattern.
			e.classifier.Learn(domain, md, verdict.Category, cls.Source)
		}

	case features.Entropy > e.thresholds.EntropyThreshold():
		verdict = Verdict{
			Category:       CategoryMalware,
			Risk:           RiskHigh,
			Summary:        fmt.Sprintf("Entropy %.2f exceeds adaptive threshold", features.Entropy),
			Confidence:     0.7,
			AnalysisSource: SourceEntropy,
		}
		e.classifier.RecordLocalDecision()
		e.classifier.Learn(domain, md, verdict.Category, SourceEntropy)

	default:
		verdict, cloudSourced = e.escalate(ctx, domain, md)
	}

	// Zero-day override: anomalous, never matched by any filter rule, and a
	// strongly-negative score after context weighting (night hours and
	// high-abuse TLDs amplify severity). Always checked last, always wins.
	if isAnomaly && !matchedBefore && score*e.thresholds.ContextMultiplier(domain, -1) < zeroDayScoreCutoff {
		verdict = Verdict{
			Category:       CategoryZeroDay,
			Risk:           RiskHigh,
			Summary:        fmt.Sprintf("Unmatched domain with strong anomaly score %.2f", score),
			Confidence:     0.85,
			AnalysisSource: SourceAnomalyOverride,
		}
		cloudSourced = false
	}

	ttl := e.ttlLocal
	if cloudSourced {
		ttl = e.ttlCloud
	}
	if verdict.AnalysisSource == SourceFallback {
		ttl = ttlFailureSeconds
	}
	e.cache.Set(domain, md, verdict, ttl)
	return verdict
}

// escalate asks the oracle, falling back to an analysis-failed verdict when
// it is unavailable. The second return reports whether the verdict is
// cloud-sourced.
func (e *DecisionEngine) escalate(ctx context.Context, domain string, md FilterMetadata) (Verdict, bool) {
	result, err := e.oracle.Classify(ctx, domain, md)
	if err != nil {
		LogWarn("[ENGINE] Oracle escalation failed for %s: %v", domain, err)
		e.classifier.RecordLocalDecision()
		return Verdict{
			Category:       CategoryFailed,
			Risk:           RiskLow,
			Summary:        "Oracle unavailable and no local signal",
			Confidence:     0.0,
			AnalysisSource: SourceFallback,
		}, false
	}

	e.classifier.RecordCloudDecision()
	if informativeCategory(result.Category) {
		e.classifier.Learn(domain, md, result.Category, SourceCloud)
	}
	return Verdict{
		Category:       result.Category,
		Risk:           result.Risk,
		Summary:        result.Summary,
		Confidence:     0.9,
		AnalysisSource: SourceCloud,
	}, true
}

// EngineStats aggregates per-component statistics for the API layer.
type EngineStats struct {
	CacheEntries       int                   `json:"cache_entries"`
	Patterns           int                   `json:"patterns"`
	LocalDecisions     int64                 `json:"local_decisions"`
	CloudDecisions     int64                 `json:"cloud_decisions"`
	AutonomyScore      float64               `json:"autonomy_score"`
	Anomaly            AnomalyEngineStats    `json:"anomaly"`
	EntropyThreshold   float64               `json:"entropy_threshold"`
	Contamination      float64               `json:"contamination_rate"`
	Adjustments        []ThresholdAdjustment `json:"threshold_adjustments"`
	Feedback           FeedbackMetrics       `json:"feedback"`
	PendingCorrections int                   `json:"pending_corrections"`
}

// ThresholdSnapshot is the live threshold state exposed by the API.
type ThresholdSnapshot struct {
	EntropyThreshold  float64               `json:"entropy_threshold"`
	ContaminationRate float64               `json:"contamination_rate"`
	Adjustments       []ThresholdAdjustment `json:"adjustments"`
}

func (e *DecisionEngine) ThresholdSnapshot() ThresholdSnapshot {
	return ThresholdSnapshot{
		EntropyThreshold:  e.thresholds.EntropyThreshold(),
		ContaminationRate: e.thresholds.ContaminationRate(),
		Adjustments:       e.thresholds.Adjustments(),
	}
}

func (e *DecisionEngine) Stats() EngineStats {
	return EngineStats{
		CacheEntries:       e.cache.Size(),
		Patterns:           e.classifier.PatternCount(),
		LocalDecisions:     e.classifier.LocalDecisions(),
		CloudDecisions:     e.classifier.CloudDecisions(),
		AutonomyScore:      e.classifier.AutonomyScore(),
		Anomaly:            e.anomaly.GetStats(),
		EntropyThreshold:   e.thresholds.EntropyThreshold(),
		Contamination:      e.thresholds.ContaminationRate(),
		Adjustments:        e.thresholds.Adjustments(),
		Feedback:           e.feedback.Metrics(),
		PendingCorrections: e.feedback.PendingCount(),
	}
}
