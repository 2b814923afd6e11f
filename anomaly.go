/*
File: anomaly.go
Version: 1.3.0
Description: Statistical outlier detection over a bounded rolling window of
             domain feature vectors. The model is a per-feature robust
             z-score ensemble (median/MAD), refit on a fixed cadence. Sign
             convention: more negative score means more anomalous.
*/

package main

import (
	"errors"
	"math"
	"sort"
	"sync"
)

// madScale converts a median absolute deviation into a stdev-comparable
// unit for normally distributed data.
const madScale = 1.4826

// robustModel holds the fitted per-feature location and spread.
type robustModel struct {
	medians [featureCount]float64
	mads    [featureCount]float64
}

var errEmptyWindow = errors.New("cannot fit on empty window")

// fitRobustModel computes per-feature median and MAD over the window.
func fitRobustModel(window []FeatureVector) (*robustModel, error) {
	if len(window) == 0 {
		return nil, errEmptyWindow
	}

	m := &robustModel{}
	values := make([]float64, len(window))

	for f := 0; f < featureCount; f++ {
		for i, fv := range window {
			values[i] = fv.asSlice()[f]
		}
		med := median(values)
		for i := range values {
			values[i] = math.Abs(values[i] - med)
		}
		mad := median(values)
		if mad < 1e-9 {
			// Degenerate feature (all identical); keep it from dominating.
			mad = 1e-9
		}
		m.medians[f] = med
		m.mads[f] = mad
	}
	return m, nil
}

// median sorts values in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// deviation is the mean robust z-score of a vector against the model.
func (m *robustModel) deviation(fv FeatureVector) float64 {
	vals := fv.asSlice()
	var total float64
	for f := 0; f < featureCount; f++ {
		z := math.Abs(vals[f]-m.medians[f]) / (madScale * m.mads[f])
		// Cap a single feature so one wild value cannot saturate the score.
		if z > 50 {
			z = 50
		}
		total += z
	}
	return total / featureCount
}

// AnomalyEngineStats is the snapshot returned by GetStats.
type AnomalyEngineStats struct {
	Trained            bool    `json:"trained"`
	SampleCount        int     `json:"sample_count"`
	MinSamplesRequired int     `json:"min_samples_required"`
	MaxHistorySize     int     `json:"max_history_size"`
	Ready              bool    `json:"ready"`
	ContaminationRate  float64 `json:"contamination_rate"`
}

// AnomalyEngine owns the rolling feature window and the fitted model.
type AnomalyEngine struct {
	mu            sync.Mutex
	window        []FeatureVector
	model         *robustModel
	sinceFit      int
	contamination float64

	maxHistory   int
	minSamples   int
	retrainEvery int
}

func NewAnomalyEngine(cfg AnomalyConfig, contamination float64) *AnomalyEngine {
	return &AnomalyEngine{
		window:        make([]FeatureVector, 0, cfg.MaxHistory),
		contamination: contamination,
		maxHistory:    cfg.MaxHistory,
		minSamples:    cfg.MinSamples,
		retrainEvery:  cfg.RetrainEvery,
	}
}

// SetContamination updates the assumed outlier fraction; the decision cutoff
// shifts with it on the next prediction.
func (ae *AnomalyEngine) SetContamination(rate float64) {
	ae.mu.Lock()
	ae.contamination = rate
	ae.mu.Unlock()
}

// Predict appends features to the rolling window and scores them against the
// most recently fit model. Returns (false, 0.0) during cold start and on any
// fit failure. More negative scores are more anomalous; IsAnomaly is true
// iff the score is negative.
func (ae *AnomalyEngine) Predict(features FeatureVector) (bool, float64) {
	ae.mu.Lock()
	defer ae.mu.Unlock()

	if len(ae.window) >= ae.maxHistory {
		ae.window = ae.window[1:]
	}
	ae.window = append(ae.window, features)
	ae.sinceFit++

	if len(ae.window) < ae.minSamples {
		return false, 0.0
	}

	if ae.model == nil || ae.sinceFit >= ae.retrainEvery {
		model, err := fitRobustModel(ae.window)
		if err != nil {
			LogWarn("[ANOMALY] Model fit failed, treating as untrained this cycle: %v", err)
			ae.model = nil
			return false, 0.0
		}
		ae.model = model
		ae.sinceFit = 0
	}

	cutoff := ae.deviationCutoff()
	dev := ae.model.deviation(features)
	// Map deviation to the signed score scale: cutoff maps to 0, ten robust
	// sigmas past the cutoff maps to -1.
	score := (cutoff - dev) / 10.0
	if score > 1.0 {
		score = 1.0
	}
	if score < -1.0 {
		score = -1.0
	}
	return score < 0, score
}

// deviationCutoff derives the robust z-score decision boundary from the
// contamination rate: a higher assumed outlier fraction lowers the bar.
// Callers must hold the lock.
func (ae *AnomalyEngine) deviationCutoff() float64 {
	cutoff := 2.5 + (0.05-ae.contamination)*10
	if cutoff < 1.5 {
		cutoff = 1.5
	}
	if cutoff > 3.5 {
		cutoff = 3.5
	}
	return cutoff
}

func (ae *AnomalyEngine) GetStats() AnomalyEngineStats {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	return AnomalyEngineStats{
		Trained:            ae.model != nil,
		SampleCount:        len(ae.window),
		MinSamplesRequired: ae.minSamples,
		MaxHistorySize:     ae.maxHistory,
		Ready:              len(ae.window) >= ae.minSamples,
		ContaminationRate:  ae.contamination,
	}
}
