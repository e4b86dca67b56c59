package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"syndicate-ledger/internal/analytics"
	"syndicate-ledger/internal/config"
	"syndicate-ledger/internal/events"
	"syndicate-ledger/internal/httpapi"
	"syndicate-ledger/internal/identity"
	"syndicate-ledger/internal/market"
	"syndicate-ledger/internal/membership"
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/registry"
	"syndicate-ledger/internal/tokenization"
	"syndicate-ledger/internal/trading"
)

func serveCmd(load configLoader) *cobra.Command {
	var investorsPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ledger API, event stream and expiry sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return serve(cfg, investorsPath)
		},
	}

	cmd.Flags().StringVar(&investorsPath, "investors", "", "YAML file of investor profiles to upsert on startup")
	return cmd
}

func serve(cfg *config.Config, investorsPath string) error {
	logger := newLogger("server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing.ServiceName, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Printf("Tracing shutdown error: %v", err)
		}
	}()

	stores, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if investorsPath != "" {
		n, err := seedInvestors(ctx, stores.investors, investorsPath)
		if err != nil {
			return err
		}
		logger.Printf("Seeded %d investor profiles", n)
	}

	feeRate, err := cfg.FeeRate()
	if err != nil {
		return err
	}
	verifier, err := identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, nil)
	if err != nil {
		return err
	}

	// Event sinks
	hub := events.NewHub(nil, newLogger("events"))
	defer hub.Close()
	publishers := events.Multi{hub}
	natsPub, closeNATS, err := connectNATS(cfg)
	if err != nil {
		return err
	}
	defer closeNATS()
	if natsPub != nil {
		publishers = append(publishers, natsPub)
		logger.Printf("Publishing events to NATS at %s", cfg.Events.NATSURL)
	}
	if stores.history != nil {
		publishers = append(publishers, analytics.NewSink(stores.history))
	}

	// Services
	reg := registry.NewService(registry.Options{
		Ledger:    stores.ledger,
		Directory: stores.investors,
		Logger:    newLogger("registry"),
	})
	members := membership.NewService(membership.Options{
		Ledger:    stores.ledger,
		Directory: stores.investors,
		Publisher: publishers,
		Logger:    newLogger("membership"),
	})
	tok := tokenization.NewService(tokenization.Options{
		Ledger:    stores.ledger,
		Directory: stores.investors,
		Logger:    newLogger("tokenization"),
	})
	mkt := market.NewService(market.Options{
		Ledger:    stores.ledger,
		Directory: stores.investors,
		Publisher: publishers,
		Logger:    newLogger("market"),
	})
	trd := trading.NewService(trading.Options{
		Ledger:    stores.ledger,
		Directory: stores.investors,
		Publisher: publishers,
		FeeRate:   &feeRate,
		Logger:    newLogger("trading"),
	})
	sweeper := market.NewSweeper(market.SweeperOptions{
		Market:   mkt,
		Interval: cfg.Ledger.SweepInterval,
		Logger:   newLogger("sweeper"),
	})

	api := httpapi.NewServer(httpapi.Options{
		Registry:     reg,
		Members:      members,
		Tokenization: tok,
		Market:       mkt,
		Trading:      trd,
		History:      stores.history,
		Verifier:     verifier,
		Events:       hub,
		Timeout:      cfg.HTTP.ReadTimeout,
		Logger:       newLogger("http"),
	})

	status := &statusTracker{started: time.Now(), sweeper: sweeper, hub: hub}

	apiServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}
	opsServer := &http.Server{
		Addr:              cfg.HTTP.MetricsAddr,
		Handler:           status.mux(),
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	// Channel to signal completion
	done := make(chan struct{})
	defer close(done)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

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

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("sweeper: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		trackUptime(ctx, 15*time.Second)
	}()

	for name, srv := range map[string]*http.Server{"api": apiServer, "ops": opsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Printf("Starting %s HTTP server on %s", name, srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", name, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range []*http.Server{apiServer, opsServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	logger.Println("Shutdown complete")
	return nil
}

// trackUptime feeds the uptime counter until ctx is done.
func trackUptime(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			observability.AddUptime(now.Sub(last).Seconds())
			last = now
		}
	}
}

// statusTracker serves the operational endpoints.
type statusTracker struct {
	started time.Time
	sweeper *market.Sweeper
	hub     *events.Hub
}

func (s *statusTracker) mux() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	StartedAt time.Time         `json:"started_at"`
	WSClients int               `json:"ws_clients"`
	Sweeper   market.SweepStats `json:"sweeper"`
}

// handleStatus returns server status as JSON.
func (s *statusTracker) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:    "running",
		Version:   Version,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		StartedAt: s.started,
		WSClients: s.hub.Clients(),
		Sweeper:   s.sweeper.Stats(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
