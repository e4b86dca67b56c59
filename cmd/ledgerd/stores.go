package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"syndicate-ledger/internal/config"
	"syndicate-ledger/internal/directory"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/events"
	"syndicate-ledger/internal/storage"
	chstore "syndicate-ledger/internal/storage/clickhouse"
	"syndicate-ledger/internal/storage/memory"
	pgstore "syndicate-ledger/internal/storage/postgres"
)

// investorWriter is implemented by both investor directories.
type investorWriter interface {
	directory.Directory
	Upsert(ctx context.Context, inv *domain.Investor) error
}

// allStores holds the storage backends selected by configuration.
type allStores struct {
	ledger    storage.Ledger
	investors investorWriter
	history   storage.TradeHistoryStore // nil when analytics is disabled
}

// createStores creates all required stores.
func createStores(ctx context.Context, cfg *config.Config) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		stores := &allStores{
			ledger:    memory.NewLedger(),
			investors: directory.NewMemory(),
			history:   memory.NewTradeHistoryStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}

	stores := &allStores{
		ledger:    pgstore.NewLedger(pool, pgstore.LedgerOptions{MaxRetries: cfg.Storage.TxRetries}),
		investors: pgstore.NewInvestorStore(pool),
	}

	// ClickHouse (optional analytics)
	if cfg.Storage.ClickHouseDSN == "" {
		return stores, pool.Close, nil
	}
	chConn, err := chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	stores.history = chstore.NewTradeHistoryStore(chConn)

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// investorSeed is one entry of an investor seed file.
type investorSeed struct {
	ID     string `yaml:"id"`
	UserID string `yaml:"user_id"`
	Name   string `yaml:"name"`
	Email  string `yaml:"email"`
}

// loadInvestors reads a YAML list of investor profiles.
func loadInvestors(path string) ([]*domain.Investor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read investor seed file: %w", err)
	}
	var seeds []investorSeed
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse investor seed file: %w", err)
	}

	investors := make([]*domain.Investor, 0, len(seeds))
	for i, s := range seeds {
		if s.ID == "" || s.UserID == "" {
			return nil, fmt.Errorf("investor seed %d: id and user_id are required", i)
		}
		investors = append(investors, &domain.Investor{
			ID:     s.ID,
			UserID: s.UserID,
			Name:   s.Name,
			Email:  s.Email,
		})
	}
	return investors, nil
}

// seedInvestors upserts every profile in the seed file.
func seedInvestors(ctx context.Context, dir investorWriter, path string) (int, error) {
	investors, err := loadInvestors(path)
	if err != nil {
		return 0, err
	}
	for _, inv := range investors {
		if err := dir.Upsert(ctx, inv); err != nil {
			return 0, fmt.Errorf("upsert investor %s: %w", inv.ID, err)
		}
	}
	return len(investors), nil
}

// connectNATS returns a publisher for the configured NATS server, or nil
// when none is configured.
func connectNATS(cfg *config.Config) (events.Publisher, func(), error) {
	if cfg.Events.NATSURL == "" {
		return nil, func() {}, nil
	}
	nc, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Tracing.ServiceName)
	if err != nil {
		return nil, nil, err
	}
	return events.NewNATSPublisher(nc, cfg.Events.SubjectPrefix), nc.Close, nil
}
