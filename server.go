/*
File: server.go
Version: 1.3.0
Description: DNS ingestion tap. A small UDP/TCP forwarder: queries are
             relayed to the configured upstream resolver while every
             observed (domain, client) pair is queued for analysis on a
             bounded worker pool. The pool load-sheds instead of blocking
             the resolution path.
*/

package main

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// ServerShutdowner is implemented by every listener for graceful shutdown.
type ServerShutdowner interface {
	Shutdown(ctx context.Context) error
	String() string
}

// DNSServerWrapper adapts dns.Server to ServerShutdowner.
type DNSServerWrapper struct {
	*dns.Server
}

func (w *DNSServerWrapper) Shutdown(ctx context.Context) error {
	return w.Server.ShutdownContext(ctx)
}

func (w *DNSServerWrapper) String() string {
	return fmt.Sprintf("DNS/%s %s", w.Net, w.Addr)
}

// analysisJob is one observed domain queued for the engine.
type analysisJob struct {
	domain string
	client string
}

// DNSTap owns the listeners, the forwarding clients, and the analysis
// worker pool.
type DNSTap struct {
	engine   *DecisionEngine
	cfg      ServerConfig
	jobs     chan analysisJob
	udp      *dns.Client
	tcp      *dns.Client
	servers  []ServerShutdowner
	workerWg sync.WaitGroup
}

func NewDNSTap(cfg ServerConfig, engine *DecisionEngine) *DNSTap {
	return &DNSTap{
		engine: engine,
		cfg:    cfg,
		jobs:   make(chan analysisJob, cfg.QueueSize),
		udp:    &dns.Client{Net: "udp", Timeout: cfg.parsedTimeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: cfg.parsedTimeout},
	}
}

// Start launches the listeners and the analysis workers. Listeners are torn
// down by Shutdown; workers exit when ctx is cancelled.
func (t *DNSTap) Start(ctx context.Context) error {
	for i := 0; i < t.cfg.Workers; i++ {
		t.workerWg.Add(1)
		go t.analysisWorker(ctx)
	}

	addr := net.JoinHostPort(t.cfg.ListenAddr, fmt.Sprintf("%d", t.cfg.Port))
	for _, network := range []string{"udp", "tcp"} {
		srv := &dns.Server{
			Addr:    addr,
			Net:     network,
			Handler: dns.HandlerFunc(t.handleQuery),
		}
		wrapper := &DNSServerWrapper{srv}
		go func() {
			LogInfo("[SERVER] Starting listener [%s]", wrapper.String())
			if err := srv.ListenAndServe(); err != nil {
				LogError("[SERVER] Listener [%s] stopped: %v", wrapper.String(), err)
			}
		}()
		t.servers = append(t.servers, wrapper)
	}
	return nil
}

// handleQuery forwards to the upstream resolver and enqueues the observed
// domain. Analysis never delays the DNS answer.
func (t *DNSTap) handleQuery(w dns.ResponseWriter, r *dns.Msg) {
	if len(r.Question) == 0 {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeFormatError)
		_ = w.WriteMsg(m)
		return
	}

	client := ""
	if ip := ipFromAddr(w.RemoteAddr()); ip != nil {
		client = ip.String()
	}

	domain := r.Question[0].Name
	select {
	case t.jobs <- analysisJob{domain: domain, client: client}:
	default:
		// Queue full: drop the observation, never the query.
		LogDebug("[SERVER] Analysis queue full, skipping %s", domain)
	}

	resp, err := t.forward(r)
	if err != nil {
		LogWarn("[SERVER] Upstream exchange failed for %s: %v", domain, err)
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		_ = w.WriteMsg(m)
		return
	}
	_ = w.WriteMsg(resp)
}

func (t *DNSTap) forward(r *dns.Msg) (*dns.Msg, error) {
	resp, _, err := t.udp.Exchange(r, t.cfg.Upstream)
	if err == nil && resp.Truncated {
		resp, _, err = t.tcp.Exchange(r, t.cfg.Upstream)
	}
	return resp, err
}

func (t *DNSTap) analysisWorker(ctx context.Context) {
	defer t.workerWg.Done()
	for {
		select {
		case job := <-t.jobs:
			t.engine.Analyze(ctx, AnalysisEvent{
				Domain:   job.domain,
				Metadata: FilterMetadata{Client: job.client},
			})
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops the listeners, then waits for in-flight workers.
func (t *DNSTap) Shutdown(ctx context.Context) {
	for _, srv := range t.servers {
		if err := srv.Shutdown(ctx); err != nil {
			LogWarn("[SERVER] Shutdown of [%s]: %v", srv.String(), err)
		}
	}

	done := make(chan struct{})
	go func() {
		t.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		LogWarn("[SERVER] Analysis workers did not drain in time")
	}
}

func ipFromAddr(addr net.Addr) net.IP {
	if addr == nil {
		return nil
	}
	switch v := addr.(type) {
	case *net.UDPAddr:
		return v.IP
	case *net.TCPAddr:
		return v.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return net.ParseIP(addr.String())
		}
		return net.ParseIP(host)
	}
}
