package market

import (
	"context"
	"log"
	"sync"
	"time"

	"syndicate-ledger/internal/observability"
)

// DefaultSweepInterval is how often the sweeper expires listings.
const DefaultSweepInterval = time.Minute

// SweepStats is a snapshot of sweeper activity for the status endpoint.
type SweepStats struct {
	Running       bool      `json:"running"`
	Runs          int64     `json:"runs"`
	Failures      int64     `json:"failures"`
	Expired       int64     `json:"expired"`
	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

// Sweeper periodically expires listings past their expiry.
type Sweeper struct {
	market   *Service
	interval time.Duration
	logger   *log.Logger

	mu    sync.Mutex
	stats SweepStats
}

// SweeperOptions contains configuration for creating a Sweeper.
type SweeperOptions struct {
	Market   *Service
	Interval time.Duration // Default: DefaultSweepInterval
	Logger   *log.Logger
}

// NewSweeper creates a sweeper over the market.
func NewSweeper(opts SweeperOptions) *Sweeper {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Sweeper{
		market:   opts.Market,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.setRunning(true)
	defer s.setRunning(false)

	s.logger.Printf("Sweeper started, interval: %v", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Sweeper stopping...")
			return ctx.Err()
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one expiry pass and records its outcome.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	expired, err := s.market.ExpireListings(ctx)
	finished := time.Now()

	s.mu.Lock()
	s.stats.Runs++
	s.stats.Expired += int64(expired)
	s.stats.LastRunAt = finished.UTC()
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastSuccessAt = finished.UTC()
		s.stats.LastError = ""
	}
	s.mu.Unlock()

	status := "ok"
	if err != nil {
		status = "error"
		if ctx.Err() == nil {
			s.logger.Printf("sweep failed after expiring %d listings: %v", expired, err)
		}
	} else if expired > 0 {
		s.logger.Printf("expired %d listings", expired)
	}
	observability.RecordSweep(status, expired, finished.Sub(start).Seconds(), finished.Unix())
	return expired, err
}

// Stats returns a snapshot of sweeper activity.
func (s *Sweeper) Stats() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sweeper) setRunning(v bool) {
	s.mu.Lock()
	s.stats.Running = v
	s.mu.Unlock()
}
