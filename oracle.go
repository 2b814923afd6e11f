/*
File: oracle.go
Version: 1.2.0
Description: External reasoning oracle boundary. The HTTP implementation is
             rate-limited and timeout-bound; every failure mode maps to
             ErrOracleUnavailable so the decision engine always takes the
             local fallback path instead of blocking or erroring out.
*/

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrOracleUnavailable covers timeouts, rate-limit rejections, transport
// failures, and non-2xx responses.
var ErrOracleUnavailable = errors.New("oracle unavailable")

// OracleResult is the oracle's verdict for one domain.
type OracleResult struct {
	Category string `json:"category"`
	Risk     string `json:"risk"`
	Summary  string `json:"summary"`
}

// Oracle is the external reasoning boundary. Implementations may be slow,
// rate-limited, or unavailable; callers treat any error as a signal to fall
// back locally.
type Oracle interface {
	Classify(ctx context.Context, domain string, md FilterMetadata) (OracleResult, error)
}

// HTTPOracle calls a remote JSON classification endpoint.
type HTTPOracle struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	limiter  *rate.Limiter
	client   *http.Client
}

func NewHTTPOracle(cfg OracleConfig) *HTTPOracle {
	return &HTTPOracle{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.parsedTimeout,
		limiter:  rate.NewLimiter(rate.Limit(cfg.QPS), cfg.Burst),
		client:   &http.Client{Timeout: cfg.parsedTimeout},
	}
}

type oracleRequest struct {
	Domain   string         `json:"domain"`
	Metadata FilterMetadata `json:"metadata"`
}

func (o *HTTPOracle) Classify(ctx context.Context, domain string, md FilterMetadata) (OracleResult, error) {
	if o.endpoint == "" {
		return OracleResult{}, fmt.Errorf("%w: no endpoint configured", ErrOracleUnavailable)
	}
	// Over-budget requests are shed immediately rather than queued; the
	// caller has a local fallback.
	if !o.limiter.Allow() {
		return OracleResult{}, fmt.Errorf("%w: rate limited", ErrOracleUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	body, err := json.Marshal(oracleRequest{Domain: domain, Metadata: md})
	if err != nil {
		return OracleResult{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return OracleResult{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return OracleResult{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return OracleResult{}, fmt.Errorf("%w: status %d", ErrOracleUnavailable, resp.StatusCode)
	}

	var result OracleResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return OracleResult{}, fmt.Errorf("%w: bad response: %v", ErrOracleUnavailable, err)
	}
	if result.Category == "" {
		result.Category = CategoryUnknown
	}
	if result.Risk == "" {
		result.Risk = RiskLow
	}
	return result, nil
}
