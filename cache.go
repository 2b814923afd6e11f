/*
File: cache.go
Version: 1.4.0
Description: Analysis cache. Memoizes verdicts by a deterministic signature
             of (domain, metadata) with TTL expiry, backed by a durable JSON
             store. Durable I/O failures degrade to memory-only operation
             and are never surfaced to callers.
*/

package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// CacheEntry is one memoized verdict. Valid while now < CreatedAt + TTL.
type CacheEntry struct {
	Domain     string    `json:"domain"`
	Signature  string    `json:"signature"`
	Result     Verdict   `json:"result"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int       `json:"ttl_seconds"`
}

func (e *CacheEntry) valid(now time.Time) bool {
	return now.Before(e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second))
}

// Signature hashes a domain plus its metadata in fixed field order. FNV-1a
// rather than a seeded hash: signatures key the durable store and must be
// stable across restarts.
func Signature(domain string, md FilterMetadata) string {
	h := fnv.New64a()
	h.Write([]byte(canonicalDomain(domain)))
	h.Write([]byte{0})
	h.Write([]byte(md.Reason))
	h.Write([]byte{0})
	h.Write([]byte(md.FilterID))
	h.Write([]byte{0})
	h.Write([]byte(md.Rule))
	h.Write([]byte{0})
	h.Write([]byte(md.Client))
	return fmt.Sprintf("%016x", h.Sum64())
}

// AnalysisCache holds the in-memory entry map plus a lazily-promoted mirror
// of the durable store.
type AnalysisCache struct {
	mu        sync.RWMutex
	entries   map[string]*CacheEntry
	persisted map[string]*CacheEntry

	cfg       CacheConfig
	statePath string
	degraded  bool
	saver     *saveNotifier
	nowFn     func() time.Time
}

func NewAnalysisCache(cfg CacheConfig, statePath string) *AnalysisCache {
	c := &AnalysisCache{
		entries:   make(map[string]*CacheEntry),
		persisted: make(map[string]*CacheEntry),
		cfg:       cfg,
		statePath: statePath,
		saver:     newSaveNotifier(),
		nowFn:     time.Now,
	}
	c.loadState()
	return c
}

func (c *AnalysisCache) loadState() {
	if c.statePath == "" {
		return
	}
	var stored map[string]*CacheEntry
	ok, err := readStateFile(c.statePath, &stored)
	if err != nil {
		LogWarn("[CACHE] Failed to load state from %s: %v", c.statePath, err)
		return
	}
	if ok {
		c.persisted = stored
		LogInfo("[CACHE] Loaded %d persisted entries", len(stored))
	}
}

// Get returns the cached verdict for (domain, metadata) if present and
// unexpired. Expiry is lazy: expired entries are skipped, not deleted here.
func (c *AnalysisCache) Get(domain string, md FilterMetadata) (Verdict, bool) {
	sig := Signature(domain, md)
	now := c.nowFn()

	c.mu.RLock()
	if e, ok := c.entries[sig]; ok && e.valid(now) {
		result := e.Result
		c.mu.RUnlock()
		return result, true
	}
	e, ok := c.persisted[sig]
	c.mu.RUnlock()

	if ok && e.valid(now) {
		// Promote the durable hit into memory.
		c.mu.Lock()
		c.entries[sig] = e
		c.mu.Unlock()
		return e.Result, true
	}
	return Verdict{}, false
}

// Set writes through to memory and the durable store, superseding any prior
// entry for the same signature. Never returns an error to the caller.
func (c *AnalysisCache) Set(domain string, md FilterMetadata, result Verdict, ttlSeconds int) {
	sig := Signature(domain, md)
	entry := &CacheEntry{
		Domain:     canonicalDomain(domain),
		Signature:  sig,
		Result:     result,
		CreatedAt:  c.nowFn(),
		TTLSeconds: ttlSeconds,
	}

	c.mu.Lock()
	c.entries[sig] = entry
	if !c.degraded {
		c.persisted[sig] = entry
	}
	c.mu.Unlock()

	c.saver.Kick()
}

// Size returns the number of in-memory entries, expired or not.
func (c *AnalysisCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// sweep evicts expired entries from memory and best-effort compacts the
// durable mirror.
func (c *AnalysisCache) sweep() {
	now := c.nowFn()
	removed := 0

	c.mu.Lock()
	for sig, e := range c.entries {
		if !e.valid(now) {
			delete(c.entries, sig)
			removed++
		}
	}
	for sig, e := range c.persisted {
		if !e.valid(now) {
			delete(c.persisted, sig)
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		LogDebug("[CACHE] Sweep evicted %d expired entries", removed)
		c.saver.Kick()
	}
}

// Start runs the periodic sweeper and the background state writer until ctx
// is cancelled.
func (c *AnalysisCache) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.cfg.parsedSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		c.saver.Run(ctx, c.persistState)
	}()
}

func (c *AnalysisCache) persistState() {
	if c.statePath == "" {
		return
	}

	c.mu.RLock()
	if c.degraded {
		c.mu.RUnlock()
		return
	}
	snapshot := make(map[string]*CacheEntry, len(c.persisted))
	for sig, e := range c.persisted {
		snapshot[sig] = e
	}
	c.mu.RUnlock()

	if err := writeStateFile(c.statePath, snapshot); err != nil {
		LogWarn("[CACHE] Persist failed, degrading to memory-only: %v", err)
		c.mu.Lock()
		c.degraded = true
		c.mu.Unlock()
	}
}
