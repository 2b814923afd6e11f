/*
File: feedback.go
Version: 1.4.0
Description: Feedback ledger. Records human corrections, tracks live
             accuracy, and drives batched re-teaching of the pattern
             classifier. Batch application is single-flight so a logical
             correction batch bumps the retrain counter exactly once.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Feedback types accepted at the boundary.
const (
	FeedbackFalsePositive = "false_positive"
	FeedbackFalseNegative = "false_negative"
	FeedbackCorrect       = "correct"
)

const (
	retrainMinClassified = 10
	retrainAccuracyFloor = 0.85
	retrainMinPending    = 5
)

// ErrInvalidFeedbackType is returned when a submission carries an unknown
// feedback type. No state is mutated in that case.
var ErrInvalidFeedbackType = errors.New("invalid feedback type")

// FeedbackRecord is one human correction or confirmation.
type FeedbackRecord struct {
	ID                string    `json:"id"`
	DomainID          string    `json:"domain_id"`
	Domain            string    `json:"domain"`
	FeedbackType      string    `json:"feedback_type"`
	OriginalCategory  string    `json:"original_category"`
	OriginalRisk      string    `json:"original_risk"`
	CorrectedCategory string    `json:"corrected_category,omitempty"`
	CorrectedRisk     string    `json:"corrected_risk,omitempty"`
	Note              string    `json:"note,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// PendingCorrection is one queued re-teach, consumed only by
// ApplyCorrections.
type PendingCorrection struct {
	Domain   string    `json:"domain"`
	Category string    `json:"category"`
	Risk     string    `json:"risk,omitempty"`
	Queued   time.Time `json:"queued"`
}

// FeedbackMetrics aggregates the ledger counters.
type FeedbackMetrics struct {
	FalsePositives  int       `json:"false_positives"`
	FalseNegatives  int       `json:"false_negatives"`
	Correct         int       `json:"correct"`
	Accuracy        float64   `json:"accuracy"`
	PendingRetrain  bool      `json:"pending_retrain"`
	RetrainCount    int       `json:"retrain_count"`
	LastRetrainTime time.Time `json:"last_retrain_time,omitempty"`
}

// FeedbackResult is returned to the submitter.
type FeedbackResult struct {
	Success          bool            `json:"success"`
	Message          string          `json:"message"`
	TriggeredRetrain bool            `json:"triggered_retrain"`
	Metrics          FeedbackMetrics `json:"metrics"`
}

type feedbackState struct {
	Metrics FeedbackMetrics     `json:"metrics"`
	Recent  []FeedbackRecord    `json:"recent"`
	Pending []PendingCorrection `json:"pending"`
}

// FeedbackLedger owns the feedback counters, the bounded recent-feedback
// ring, and the pending-correction queue.
type FeedbackLedger struct {
	mu      sync.Mutex
	metrics FeedbackMetrics
	recent  []FeedbackRecord
	pending []PendingCorrection

	recentCap  int
	classifier *PatternClassifier
	applyGroup singleflight.Group

	statePath string
	saver     *saveNotifier
	nowFn     func() time.Time
}

func NewFeedbackLedger(cfg FeedbackConfig, classifier *PatternClassifier, statePath string) *FeedbackLedger {
	fl := &FeedbackLedger{
		recentCap:  cfg.RecentSize,
		classifier: classifier,
		statePath:  statePath,
		saver:      newSaveNotifier(),
		nowFn:      time.Now,
	}
	fl.metrics.Accuracy = 1.0
	fl.loadState()
	return fl
}

func (fl *FeedbackLedger) loadState() {
	if fl.statePath == "" {
		return
	}
	var state feedbackState
	ok, err := readStateFile(fl.statePath, &state)
	if err != nil {
		LogWarn("[FEEDBACK] Failed to load state from %s: %v", fl.statePath, err)
		return
	}
	if ok {
		fl.metrics = state.Metrics
		fl.recent = state.Recent
		fl.pending = state.Pending
		LogInfo("[FEEDBACK] Loaded metrics (accuracy %.2f, %d pending corrections)",
			fl.metrics.Accuracy, len(fl.pending))
	}
}

// RecordFeedback validates and records one submission. Unknown feedback
// types are rejected without mutating any state.
func (fl *FeedbackLedger) RecordFeedback(rec FeedbackRecord) (FeedbackResult, error) {
	switch rec.FeedbackType {
	case FeedbackFalsePositive, FeedbackFalseNegative, FeedbackCorrect:
	default:
		return FeedbackResult{}, fmt.Errorf("%w: %q", ErrInvalidFeedbackType, rec.FeedbackType)
	}

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Domain = canonicalDomain(rec.Domain)
	rec.Timestamp = fl.nowFn()

	fl.mu.Lock()
	switch rec.FeedbackType {
	case FeedbackFalsePositive:
		fl.metrics.FalsePositives++
	case FeedbackFalseNegative:
		fl.metrics.FalseNegatives++
	case FeedbackCorrect:
		fl.metrics.Correct++
	}

	fl.recent = append(fl.recent, rec)
	if len(fl.recent) > fl.recentCap {
		fl.recent = fl.recent[len(fl.recent)-fl.recentCap:]
	}

	if rec.CorrectedCategory != "" {
		fl.pending = append(fl.pending, PendingCorrection{
			Domain:   rec.Domain,
			Category: rec.CorrectedCategory,
			Risk:     rec.CorrectedRisk,
			Queued:   rec.Timestamp,
		})
	}

	classified := fl.metrics.FalsePositives + fl.metrics.FalseNegatives + fl.metrics.Correct
	if classified > 0 {
		fl.metrics.Accuracy = float64(fl.metrics.Correct) / float64(classified)
	} else {
		fl.metrics.Accuracy = 1.0
	}

	triggered := classified >= retrainMinClassified &&
		fl.metrics.Accuracy < retrainAccuracyFloor &&
		len(fl.pending) >= retrainMinPending
	if triggered {
		fl.metrics.PendingRetrain = true
	}

	result := FeedbackResult{
		Success:          true,
		Message:          fmt.Sprintf("feedback recorded for %s", rec.Domain),
		TriggeredRetrain: triggered,
		Metrics:          fl.metrics,
	}
	fl.mu.Unlock()

	fl.saver.Kick()
	return result, nil
}

// ApplyCorrections drains the pending queue and re-teaches the classifier.
// Concurrent calls collapse into one batch; the retrain counter increments
// exactly once per logical batch. Returns the number of corrections applied.
func (fl *FeedbackLedger) ApplyCorrections() int {
	v, _, _ := fl.applyGroup.Do("apply", func() (interface{}, error) {
		return fl.applyBatch(), nil
	})
	return v.(int)
}

func (fl *FeedbackLedger) applyBatch() int {
	fl.mu.Lock()
	batch := fl.pending
	fl.pending = nil
	fl.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	applied := 0
	for _, pc := range batch {
		// Re-teach with a synthetic correction tag so learned patterns from
		// human feedback are distinguishable from filter-derived ones.
		fl.classifier.Learn(pc.Domain, FilterMetadata{Reason: "User Correction"}, pc.Category, "user_feedback")
		applied++
	}

	fl.mu.Lock()
	fl.metrics.RetrainCount++
	fl.metrics.LastRetrainTime = fl.nowFn()
	fl.metrics.PendingRetrain = false
	retrain := fl.metrics.RetrainCount
	fl.mu.Unlock()

	fl.saver.Kick()
	LogInfo("[FEEDBACK] Applied %d corrections (retrain #%d)", applied, retrain)
	return applied
}

// Metrics returns a snapshot of the aggregate counters.
func (fl *FeedbackLedger) Metrics() FeedbackMetrics {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.metrics
}

// PendingCount returns the number of queued corrections.
func (fl *FeedbackLedger) PendingCount() int {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return len(fl.pending)
}

// Start runs the background state writer until ctx is cancelled.
func (fl *FeedbackLedger) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		fl.saver.Run(ctx, fl.persistState)
	}()
}

func (fl *FeedbackLedger) persistState() {
	if fl.statePath == "" {
		return
	}

	fl.mu.Lock()
	state := feedbackState{
		Metrics: fl.metrics,
		Recent:  append([]FeedbackRecord(nil), fl.recent...),
		Pending: append([]PendingCorrection(nil), fl.pending...),
	}
	fl.mu.Unlock()

	if err := writeStateFile(fl.statePath, &state); err != nil {
		LogWarn("[FEEDBACK] Persist failed: %v", err)
	}
}
