/*
File: api.go
Version: 1.2.0
Description: HTTP API surface: on-demand analysis, feedback submission,
             batch correction application, and engine statistics. Metadata
             is validated here at the boundary; the engine itself never sees
             a malformed event.
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// APIServer serves the JSON endpoints in front of the decision engine.
type APIServer struct {
	engine  *DecisionEngine
	limiter *rate.Limiter
	srv     *http.Server
}

func NewAPIServer(cfg APIConfig, engine *DecisionEngine) *APIServer {
	a := &APIServer{
		engine:  engine,
		limiter: rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
	}

	r := mux.NewRouter()
	r.Use(a.rateLimit)
	r.HandleFunc("/api/analyze", a.handleAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/api/feedback", a.handleFeedback).Methods(http.MethodPost)
	r.HandleFunc("/api/corrections/apply", a.handleApplyCorrections).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", a.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/threshold", a.handleThreshold).Methods(http.MethodGet)

	a.srv = &http.Server{
		Addr:         net.JoinHostPort(cfg.ListenAddr, fmt.Sprintf("%d", cfg.Port)),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return a
}

func (a *APIServer) Start() {
	go func() {
		LogInfo("[API] Listening on %s", a.srv.Addr)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			LogError("[API] Server stopped: %v", err)
		}
	}()
}

func (a *APIServer) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func (a *APIServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *APIServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var event AnalysisEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if canonicalDomain(event.Domain) == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	verdict := a.engine.Analyze(r.Context(), event)
	writeJSON(w, http.StatusOK, verdict)
}

func (a *APIServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var rec FeedbackRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if canonicalDomain(rec.Domain) == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}

	result, err := a.engine.Feedback().RecordFeedback(rec)
	if err != nil {
		if errors.Is(err, ErrInvalidFeedbackType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *APIServer) handleApplyCorrections(w http.ResponseWriter, r *http.Request) {
	applied := a.engine.Feedback().ApplyCorrections()
	writeJSON(w, http.StatusOK, map[string]int{"applied": applied})
}

func (a *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Stats())
}

// handleThreshold exposes the live threshold state plus its audit log.
func (a *APIServer) handleThreshold(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.ThresholdSnapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		LogWarn("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
