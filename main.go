/*
File: main.go
Version: 1.1.0
Description: Process lifecycle. Loads configuration, constructs the decision
             engine and its collaborators explicitly, starts the DNS tap and
             HTTP API, and tears everything down on SIGINT/SIGTERM with
             state flushed to disk.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	if err := LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var bgWg sync.WaitGroup

	oracle := NewHTTPOracle(config.Oracle)
	engine := NewDecisionEngine(config, oracle)
	engine.Start(ctx, &bgWg)

	var tap *DNSTap
	if config.Server.Enabled {
		tap = NewDNSTap(config.Server, engine)
		if err := tap.Start(ctx); err != nil {
			LogFatal("Failed to start DNS tap: %v", err)
		}
	}

	var api *APIServer
	if config.API.Enabled {
		api = NewAPIServer(config.API, engine)
		api.Start()
	}

	LogInfo("[SYSTEM] dsentry started (state dir: %s)", config.StateDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	LogInfo("[SYSTEM] Received %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()

	if api != nil {
		if err := api.Shutdown(shutdownCtx); err != nil {
			LogWarn("[SYSTEM] API shutdown: %v", err)
		}
	}
	if tap != nil {
		tap.Shutdown(shutdownCtx)
	}

	// Cancelling the engine context triggers one final state save per
	// component; wait for those writers to finish.
	cancel()
	bgWg.Wait()

	LogInfo("[SYSTEM] Shutdown complete")
	ShutdownLogger()
}
