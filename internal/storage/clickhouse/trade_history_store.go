package clickhouse

import (
	"context"
	"fmt"
	"time"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

// TradeHistoryStore implements storage.TradeHistoryStore using ClickHouse.
type TradeHistoryStore struct {
	conn *Conn
}

// NewTradeHistoryStore creates a new TradeHistoryStore.
func NewTradeHistoryStore(conn *Conn) *TradeHistoryStore {
	return &TradeHistoryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TradeHistoryStore = (*TradeHistoryStore)(nil)

// chRows is the subset of driver.Rows used by the scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// InsertTrades appends trades in one batch. The table is a ReplacingMergeTree
// keyed by trade_id, so redelivered trades collapse and reads use FINAL.
func (s *TradeHistoryStore) InsertTrades(ctx context.Context, trades []*domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	for _, t := range trades {
		if t == nil || t.ID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade_history (
			trade_id, reference, syndicate_id, listing_id, buyer_id, seller_id,
			tokens, price_per_token, total_amount, fee, executed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, t := range trades {
		err = batch.Append(
			t.ID, t.Reference, t.SyndicateID, t.ListingID, t.BuyerID, t.SellerID,
			t.Tokens, t.PricePerToken, t.TotalAmount, t.Fee, t.ExecutedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// VolumeBySyndicate aggregates trades per UTC day within [from, to).
func (s *TradeHistoryStore) VolumeBySyndicate(ctx context.Context, syndicateID string, from, to time.Time) ([]storage.DailyVolume, error) {
	query := `
		SELECT
			toStartOfDay(executed_at, 'UTC') AS day,
			count() AS trades,
			sum(tokens) AS tokens,
			sum(total_amount) AS total_amount,
			sum(fee) AS fees
		FROM trade_history FINAL
		WHERE syndicate_id = ? AND executed_at >= ? AND executed_at < ?
		GROUP BY day
		ORDER BY day ASC
	`

	rows, err := s.conn.Query(ctx, query, syndicateID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query volume by syndicate: %w", err)
	}
	defer rows.Close()

	return scanDailyVolume(rows)
}

// scanDailyVolume scans multiple rows.
func scanDailyVolume(rows chRows) ([]storage.DailyVolume, error) {
	var result []storage.DailyVolume

	for rows.Next() {
		var v storage.DailyVolume
		if err := rows.Scan(&v.Day, &v.Trades, &v.Tokens, &v.TotalAmount, &v.Fees); err != nil {
			return nil, fmt.Errorf("scan daily volume row: %w", err)
		}
		v.Day = v.Day.UTC()
		result = append(result, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily volume rows: %w", err)
	}
	return result, nil
}
