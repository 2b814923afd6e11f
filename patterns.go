/*
File: patterns.go
Version: 1.6.0
Description: Metadata pattern classifier. Learns (filter-reason -> category)
             patterns from past verdicts, classifies new events against them,
             and falls back to a static keyword ladder when no learned
             pattern clears the match threshold. Client device classes are
             derived from configured CIDR ranges or identifier keywords.
*/

package main

import (
	"context"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/yl2chen/cidranger"
)

const (
	minPatternSupport  = 3
	patternClientBoost = 1.2
)

// Client device classes.
const (
	clientMobile  = "MOBILE"
	clientDesktop = "DESKTOP"
	clientIOT     = "IOT"
	clientOther   = "OTHER"
)

// MetadataPattern is one learned (metadata -> category) association. A
// pattern exists only once its tuple has been observed minPatternSupport
// times; it is superseded in place as support grows and never deleted
// automatically.
type MetadataPattern struct {
	ID            string    `json:"id"`
	Reason        string    `json:"reason"`
	FilterID      string    `json:"filter_id,omitempty"`
	RulePattern   string    `json:"rule_pattern"`
	ClientPattern string    `json:"client_pattern"`
	Category      string    `json:"category"`
	Confidence    float64   `json:"confidence"`
	Support       int       `json:"support"`
	LastSeen      time.Time `json:"last_seen"`
}

// Classification is the classifier output for one metadata tuple.
type Classification struct {
	Category   string  `json:"category"`
	Risk       string  `json:"risk"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source"`
	PatternID  string  `json:"pattern_id,omitempty"`
}

type patternState struct {
	Patterns map[string]*MetadataPattern `json:"patterns"`
	Support  map[string]int              `json:"support"`
}

// PatternClassifier owns the learned pattern store and the local/cloud
// decision counters.
type PatternClassifier struct {
	mu       sync.RWMutex
	patterns map[string]*MetadataPattern // keyed by tuple key
	support  map[string]int              // includes tuples below minPatternSupport

	mutations      int
	matchThreshold float64
	persistEvery   int

	localDecisions atomic.Int64
	cloudDecisions atomic.Int64

	clientRanger cidranger.Ranger

	statePath string
	saver     *saveNotifier
	nowFn     func() time.Time
}

func NewPatternClassifier(cfg PatternsConfig, clients ClientsConfig, statePath string) *PatternClassifier {
	pc := &PatternClassifier{
		patterns:       make(map[string]*MetadataPattern),
		support:        make(map[string]int),
		matchThreshold: cfg.MatchThreshold,
		persistEvery:   cfg.PersistEvery,
		clientRanger:   buildClientRanger(clients),
		statePath:      statePath,
		saver:          newSaveNotifier(),
		nowFn:          time.Now,
	}
	pc.loadState()
	pc.installSeeds()
	return pc
}

// clientRangeEntry maps a CIDR to a device class for the ranger.
type clientRangeEntry struct {
	network net.IPNet
	class   string
}

func (e *clientRangeEntry) Network() net.IPNet {
	return e.network
}

func buildClientRanger(cfg ClientsConfig) cidranger.Ranger {
	ranger := cidranger.NewPCTrieRanger()
	insert := func(cidrs []string, class string) {
		for _, raw := range cidrs {
			_, network, err := net.ParseCIDR(raw)
			if err != nil {
				LogWarn("[PATTERNS] Invalid client CIDR '%s': %v. Skipping.", raw, err)
				continue
			}
			_ = ranger.Insert(&clientRangeEntry{network: *network, class: class})
		}
	}
	insert(cfg.MobileCIDRs, clientMobile)
	insert(cfg.DesktopCIDRs, clientDesktop)
	insert(cfg.IOTCIDRs, clientIOT)
	return ranger
}

func (pc *PatternClassifier) loadState() {
	if pc.statePath == "" {
		return
	}
	var state patternState
	ok, err := readStateFile(pc.statePath, &state)
	if err != nil {
		LogWarn("[PATTERNS] Failed to load state from %s: %v", pc.statePath, err)
		return
	}
	if ok {
		if state.Patterns != nil {
			pc.patterns = state.Patterns
		}
		if state.Support != nil {
			pc.support = state.Support
		}
		LogInfo("[PATTERNS] Loaded %d patterns, %d support counters", len(pc.patterns), len(pc.support))
	}
}

// installSeeds materializes the curated bootstrap patterns unless a learned
// pattern already occupies the slot.
func (pc *PatternClassifier) installSeeds() {
	now := pc.nowFn()
	for _, s := range seedPatterns {
		key := patternKey(s.reason, "", s.rulePattern, clientOther, s.category)
		if _, exists := pc.patterns[key]; exists {
			continue
		}
		pc.patterns[key] = &MetadataPattern{
			ID:            uuid.NewString(),
			Reason:        s.reason,
			RulePattern:   s.rulePattern,
			ClientPattern: clientOther,
			Category:      s.category,
			Confidence:    0.95,
			Support:       10,
			LastSeen:      now,
		}
	}
}

func patternKey(reason, filterID, rulePattern, clientPattern, category string) string {
	return reason + "|" + filterID + "|" + rulePattern + "|" + clientPattern + "|" + category
}

// normalizeRule collapses free-form rule/reason text into a coarse class.
func normalizeRule(reason, rule string) string {
	text := strings.ToLower(reason + " " + rule)
	for _, rc := range ruleClasses {
		for _, kw := range rc.keywords {
			if strings.Contains(text, kw) {
				return rc.class
			}
		}
	}
	return "OTHER"
}

// normalizeClient maps a client identifier (IP or hostname-ish string) to a
// device class. Configured CIDR ranges win over keyword matching.
func (pc *PatternClassifier) normalizeClient(client string) string {
	if client == "" {
		return clientOther
	}
	if ip := net.ParseIP(client); ip != nil {
		entries, err := pc.clientRanger.ContainingNetworks(ip)
		if err == nil && len(entries) > 0 {
			if e, ok := entries[len(entries)-1].(*clientRangeEntry); ok {
				return e.class
			}
		}
		return clientOther
	}
	lower := strings.ToLower(client)
	for _, ck := range clientKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(lower, kw) {
				return ck.class
			}
		}
	}
	return clientOther
}

// Classify matches normalized metadata against learned patterns, then falls
// through the static keyword ladder, then Unknown. The fallback is an
// explicit ordered strategy list: learned pattern, keyword heuristic,
// unknown.
func (pc *PatternClassifier) Classify(md FilterMetadata) Classification {
	reason := strings.ToLower(strings.TrimSpace(md.Reason))
	rulePattern := normalizeRule(md.Reason, md.Rule)
	clientPattern := pc.normalizeClient(md.Client)

	if cls, ok := pc.classifyByPattern(reason, md.FilterID, rulePattern, clientPattern); ok {
		return cls
	}
	if cls, ok := classifyByKeywords(md.Reason, md.Rule); ok {
		return cls
	}
	return Classification{Category: CategoryUnknown, Confidence: 0.0, Source: SourceUnknown}
}

func (pc *PatternClassifier) classifyByPattern(reason, filterID, rulePattern, clientPattern string) (Classification, bool) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	var best *MetadataPattern
	var bestConf float64

	for _, p := range pc.patterns {
		if p.Reason != reason || p.RulePattern != rulePattern {
			continue
		}
		if p.FilterID != "" && filterID != "" && p.FilterID != filterID {
			continue
		}
		conf := p.Confidence
		// OTHER carries no device signal, so it earns no boost.
		if clientPattern != clientOther && p.ClientPattern == clientPattern {
			conf *= patternClientBoost
			if conf > 1.0 {
				conf = 1.0
			}
		}
		if best == nil || conf > bestConf ||
			(conf == bestConf && p.LastSeen.After(best.LastSeen)) {
			best = p
			bestConf = conf
		}
	}

	if best == nil || bestConf < pc.matchThreshold {
		return Classification{}, false
	}
	return Classification{
		Category:   best.Category,
		Risk:       riskForConfidence(bestConf),
		Confidence: bestConf,
		Source:     SourcePattern,
		PatternID:  best.ID,
	}, true
}

func classifyByKeywords(reason, rule string) (Classification, bool) {
	text := strings.ToLower(reason + " " + rule)
	for _, hr := range heuristicLadder {
		for _, kw := range hr.keywords {
			if strings.Contains(text, kw) {
				return Classification{
					Category:   hr.category,
					Risk:       hr.risk,
					Confidence: hr.confidence,
					Source:     SourceHeuristic,
				}, true
			}
		}
	}
	return Classification{}, false
}

func riskForConfidence(conf float64) string {
	if conf > 0.9 {
		return RiskHigh
	}
	return RiskMedium
}

// Learn records one observed (metadata -> category) association. Unknown and
// General Traffic verdicts are uninformative and ignored. The pattern
// materializes on the minPatternSupport-th observation and its confidence
// follows min(support/10, 1.0). Persistence is batched.
func (pc *PatternClassifier) Learn(domain string, md FilterMetadata, category, systemUsed string) {
	if !informativeCategory(category) {
		return
	}

	reason := strings.ToLower(strings.TrimSpace(md.Reason))
	rulePattern := normalizeRule(md.Reason, md.Rule)
	clientPattern := pc.normalizeClient(md.Client)
	key := patternKey(reason, md.FilterID, rulePattern, clientPattern, category)
	now := pc.nowFn()

	pc.mu.Lock()
	pc.support[key]++
	support := pc.support[key]

	if support >= minPatternSupport {
		confidence := float64(support) / 10.0
		if confidence > 1.0 {
			confidence = 1.0
		}
		if p, ok := pc.patterns[key]; ok {
			p.Support = support
			p.Confidence = confidence
			p.LastSeen = now
		} else {
			pc.patterns[key] = &MetadataPattern{
				ID:            uuid.NewString(),
				Reason:        reason,
				FilterID:      md.FilterID,
				RulePattern:   rulePattern,
				ClientPattern: clientPattern,
				Category:      category,
				Confidence:    confidence,
				Support:       support,
				LastSeen:      now,
			}
			LogDebug("[PATTERNS] Materialized pattern %s -> %s (support %d, via %s)",
				rulePattern, category, support, systemUsed)
		}
	}

	pc.mutations++
	shouldPersist := pc.mutations%pc.persistEvery == 0
	pc.mu.Unlock()

	if shouldPersist {
		pc.saver.Kick()
	}
}

// RecordLocalDecision / RecordCloudDecision bump the monotonic counters that
// feed the autonomy score.
func (pc *PatternClassifier) RecordLocalDecision() { pc.localDecisions.Add(1) }
func (pc *PatternClassifier) RecordCloudDecision() { pc.cloudDecisions.Add(1) }

func (pc *PatternClassifier) LocalDecisions() int64 { return pc.localDecisions.Load() }
func (pc *PatternClassifier) CloudDecisions() int64 { return pc.cloudDecisions.Load() }

// AutonomyScore is the fraction of verdicts produced locally. Zero before
// any decision has been made.
func (pc *PatternClassifier) AutonomyScore() float64 {
	local := float64(pc.localDecisions.Load())
	cloud := float64(pc.cloudDecisions.Load())
	if local+cloud == 0 {
		return 0
	}
	return local / (local + cloud)
}

// PatternCount returns the number of materialized patterns.
func (pc *PatternClassifier) PatternCount() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.patterns)
}

// Start runs the background state writer until ctx is cancelled.
func (pc *PatternClassifier) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		pc.saver.Run(ctx, pc.persistState)
	}()
}

func (pc *PatternClassifier) persistState() {
	if pc.statePath == "" {
		return
	}

	pc.mu.RLock()
	state := patternState{
		Patterns: make(map[string]*MetadataPattern, len(pc.patterns)),
		Support:  make(map[string]int, len(pc.support)),
	}
	for k, p := range pc.patterns {
		cp := *p
		state.Patterns[k] = &cp
	}
	for k, s := range pc.support {
		state.Support[k] = s
	}
	pc.mu.RUnlock()

	if err := writeStateFile(pc.statePath, &state); err != nil {
		LogWarn("[PATTERNS] Persist failed, keeping in-memory patterns: %v", err)
	}
}
