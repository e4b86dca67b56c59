package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

// TradeHistoryStore is an in-memory implementation of storage.TradeHistoryStore.
type TradeHistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Trade // keyed by trade ID
}

// NewTradeHistoryStore creates a new in-memory trade history store.
func NewTradeHistoryStore() *TradeHistoryStore {
	return &TradeHistoryStore{
		data: make(map[string]*domain.Trade),
	}
}

// InsertTrades appends trades. Trades already present are skipped.
func (s *TradeHistoryStore) InsertTrades(_ context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	for _, t := range trades {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range trades {
		if _, exists := s.data[t.ID]; exists {
			continue
		}
		s.data[t.ID] = t.Clone()
	}
	return nil
}

// VolumeBySyndicate aggregates trades per UTC day within [from, to).
func (s *TradeHistoryStore) VolumeBySyndicate(_ context.Context, syndicateID string, from, to time.Time) ([]storage.DailyVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDay := make(map[time.Time]*storage.DailyVolume)
	for _, t := range s.data {
		if t.SyndicateID != syndicateID || t.ExecutedAt.Before(from) || !t.ExecutedAt.Before(to) {
			continue
		}
		day := t.ExecutedAt.UTC().Truncate(24 * time.Hour)
		v, ok := byDay[day]
		if !ok {
			v = &storage.DailyVolume{Day: day, Tokens: decimal.Zero, TotalAmount: decimal.Zero, Fees: decimal.Zero}
			byDay[day] = v
		}
		v.Trades++
		v.Tokens = v.Tokens.Add(t.Tokens)
		v.TotalAmount = v.TotalAmount.Add(t.TotalAmount)
		v.Fees = v.Fees.Add(t.Fee)
	}

	result := make([]storage.DailyVolume, 0, len(byDay))
	for _, v := range byDay {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Day.Before(result[j].Day)
	})
	return result, nil
}

var _ storage.TradeHistoryStore = (*TradeHistoryStore)(nil)
