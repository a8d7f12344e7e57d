// Package main runs the tower feed server: pool ingestion, the tower state
// machine, persistence and the viewer websocket, in one process.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tower-feed/internal/broadcast"
	"tower-feed/internal/config"
	"tower-feed/internal/domain"
	"tower-feed/internal/ingestion"
	"tower-feed/internal/observability"
	"tower-feed/internal/persistence"
	"tower-feed/internal/solana"
	"tower-feed/internal/tower"
)

// shutdownTimeout bounds the final flush and HTTP shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	logger := newLogger("[server] ")

	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	for _, w := range cfg.Warnings() {
		logger.Printf("WARN: %s", w)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Channel to signal completion
	done := make(chan struct{})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	close(done)
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func newLogger(prefix string) *log.Logger {
	return log.New(os.Stdout, prefix, log.LstdFlags|log.Lshortfile)
}

// run wires the components and blocks until ctx is cancelled or one of
// them fails. The pending snapshot is always flushed before it returns.
func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	started := time.Now()

	// Persistence: backend chosen once, state restored before anything runs.
	persistLogger := newLogger("[persistence] ")
	store := persistence.Open(ctx, persistence.OpenOptions{
		DatabaseURL: cfg.DatabaseURL,
		StatePath:   cfg.StateFile,
		Logger:      persistLogger,
	})
	gateway := persistence.NewGateway(persistence.GatewayOptions{
		Store:    store,
		Debounce: cfg.WriteDebounce,
		Logger:   persistLogger,
	})
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := gateway.Close(closeCtx); err != nil {
			logger.Printf("WARN: final save failed: %v", err)
		} else {
			logger.Printf("State saved to %s", gateway.Backend())
		}
	}()

	machine := tower.NewMachine(gateway.Load(ctx), tower.MachineOptions{
		LogCap:     cfg.LogCap,
		DecayAfter: cfg.DecayAfter,
	})

	hub := broadcast.NewHub(broadcast.HubOptions{
		Initial: machine.Snapshot(),
		Logger:  newLogger("[hub] "),
	})

	// Solana transport
	ingestLogger := newLogger("[ingest] ")
	rpc := solana.NewHTTPClient(cfg.RPCHTTPURL,
		solana.WithCommitment(cfg.Commitment),
		solana.WithMaxRetries(cfg.RPCMaxRetries),
	)

	wsConfig := solana.DefaultWSConfig()
	wsConfig.Commitment = cfg.Commitment
	wsConfig.Logger = ingestLogger
	ws, err := solana.NewWSClient(ctx, cfg.RPCWSURL, &wsConfig)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer ws.Close()

	signals := make(chan domain.Signal, 64)
	feed := ingestion.NewFeed(ingestion.FeedOptions{
		Source:            ingestion.NewWSNotificationSource(ws, rpc, cfg.Commitment),
		Pool:              cfg.PoolAddress,
		Output:            signals,
		DedupCapacity:     cfg.DedupCapacity,
		ResolveDelay:      cfg.ResolveDelay,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SilenceThreshold:  cfg.HeartbeatSilence,
		Debug:             cfg.IngestDebug,
		Logger:            ingestLogger,
	})

	runner := tower.NewRunner(tower.RunnerOptions{
		Machine:       machine,
		Signals:       signals,
		Broadcaster:   hub,
		Persister:     gateway,
		DecayInterval: cfg.DecayInterval,
		Logger:        newLogger("[tower] "),
	})

	viewers := broadcast.NewHandler(broadcast.HandlerOptions{
		Hub:      hub,
		Commands: runner,
		Logger:   newLogger("[hub] "),
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", viewers)
	mux.Handle("/", viewers)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, statusResponse{
			Status:    "running",
			Uptime:    time.Since(started).Truncate(time.Second).String(),
			Pool:      cfg.PoolAddress,
			Height:    runner.Snapshot().Height,
			Viewers:   hub.Count(),
			FeedState: feed.State().String(),
			Feed:      feed.Stats(),
			Backend:   gateway.Backend(),
		})
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Printf("Watching pool %s (commitment %s)", cfg.PoolAddress, cfg.Commitment)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(feed.Run(gctx), "feed")
	})

	g.Go(func() error {
		return ignoreCanceled(runner.Run(gctx), "tower runner")
	})

	g.Go(func() error {
		logger.Printf("Starting HTTP server on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Printf("WARN: http shutdown: %v", err)
		}
		// Hijacked viewer connections are not closed by Shutdown.
		hub.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func ignoreCanceled(err error, component string) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return fmt.Errorf("%s: %w", component, err)
}

// statusResponse is the JSON response for /status.
type statusResponse struct {
	Status    string              `json:"status"`
	Uptime    string              `json:"uptime"`
	Pool      string              `json:"pool"`
	Height    int                 `json:"height"`
	Viewers   int                 `json:"viewers"`
	FeedState string              `json:"feed_state"`
	Feed      ingestion.FeedStats `json:"feed"`
	Backend   string              `json:"backend"`
}

func writeStatus(w http.ResponseWriter, resp statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
