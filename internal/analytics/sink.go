// Package analytics copies executed trades into the trade history store.
package analytics

import (
	"context"
	"fmt"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/events"
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/storage"
)

// Sink is an events.Publisher that appends trade.completed events to a
// TradeHistoryStore. Other event types are ignored.
type Sink struct {
	store storage.TradeHistoryStore
}

// NewSink creates a sink writing into store.
func NewSink(store storage.TradeHistoryStore) *Sink {
	return &Sink{store: store}
}

// Publish implements events.Publisher.
func (s *Sink) Publish(ctx context.Context, e events.Event) error {
	t, ok := events.TradeFromPayload(e)
	if !ok {
		return nil
	}
	err := s.store.InsertTrades(ctx, []*domain.Trade{t})
	observability.RecordEventPublished("analytics", string(e.Type), err)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.ID, err)
	}
	return nil
}

var _ events.Publisher = (*Sink)(nil)
