/*
File: types.go
Version: 1.0.0
Description: Shared types and constants for the verdict engine: filter metadata,
             verdicts, risk levels, and category/source names.
*/

package main

import "strings"

// Risk levels, ordered by severity.
const (
	RiskLow      = "Low"
	RiskMedium   = "Medium"
	RiskHigh     = "High"
	RiskCritical = "Critical"
)

// Verdict categories.
const (
	CategoryUnknown = "Unknown"
	CategoryGeneral = "General Traffic"
	CategoryTracker = "Tracker"
	CategoryMalware = "Malware"
	CategoryPrivacy = "Privacy Risk"
	CategoryAds     = "Advertisement"
	CategoryZeroDay = "ZERO-DAY SUSPECT"
	CategoryFailed  = "Analysis Failed"
)

// Analysis sources, recorded on every verdict.
const (
	SourceCache           = "cache"
	SourcePattern         = "metadata_pattern"
	SourceHeuristic       = "heuristic"
	SourceEntropy         = "entropy_heuristic"
	SourceCloud           = "cloud"
	SourceAnomalyOverride = "anomaly_override"
	SourceFallback        = "fallback"
	SourceUnknown         = "unknown"
)

// FilterMetadata is the coarse filter context attached to an observed DNS
// event. All fields except Reason are optional.
type FilterMetadata struct {
	Reason   string `json:"reason" yaml:"reason"`
	FilterID string `json:"filter_id,omitempty" yaml:"filter_id"`
	Rule     string `json:"rule,omitempty" yaml:"rule"`
	Client   string `json:"client,omitempty" yaml:"client"`
}

// AnalysisEvent is one observed domain plus its filter metadata.
type AnalysisEvent struct {
	Domain   string         `json:"domain"`
	Metadata FilterMetadata `json:"metadata"`
}

// Verdict is the engine output for one analysis event.
type Verdict struct {
	Category       string  `json:"category"`
	Risk           string  `json:"risk"`
	Summary        string  `json:"summary"`
	Confidence     float64 `json:"confidence"`
	AnalysisSource string  `json:"analysis_source"`
	IsAnomaly      bool    `json:"is_anomaly"`
	AnomalyScore   float64 `json:"anomaly_score"`
}

// canonicalDomain lowercases and strips the trailing dot from a query name.
func canonicalDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimSuffix(d, ".")
}

// informativeCategory reports whether a category is worth teaching the
// pattern classifier. Unknown and General Traffic carry no signal.
func informativeCategory(category string) bool {
	return category != "" && category != CategoryUnknown && category != CategoryGeneral
}
