package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndicate-ledger/internal/domain"
)

func createTestTrade(id, syndicateID string, at time.Time, tokens, price string) *domain.Trade {
	qty := decimal.RequireFromString(tokens)
	p := decimal.RequireFromString(price)
	total := domain.RoundMoney(qty.Mul(p))
	return &domain.Trade{
		ID:            id,
		Reference:     "REF-" + id,
		ListingID:     "listing-1",
		SyndicateID:   syndicateID,
		BuyerID:       "buyer",
		SellerID:      "seller",
		Tokens:        qty,
		PricePerToken: p,
		TotalAmount:   total,
		Fee:           domain.RoundMoney(total.Mul(domain.DefaultPlatformFeeRate)),
		Status:        domain.TradeCompleted,
		ExecutedAt:    at,
	}
}

func TestTradeHistoryStore_VolumeBySyndicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewTradeHistoryStore(conn)

	day1 := time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	trades := []*domain.Trade{
		createTestTrade("t1", "syn-1", day1, "2000", "12"),
		createTestTrade("t2", "syn-1", day1.Add(2*time.Hour), "100", "11.5"),
		createTestTrade("t3", "syn-1", day2, "10", "13"),
		createTestTrade("t4", "syn-2", day1, "1", "1"),
	}
	require.NoError(t, store.InsertTrades(ctx, trades))

	// Redelivery of the same trade is collapsed.
	require.NoError(t, store.InsertTrades(ctx, trades[:1]))

	got, err := store.VolumeBySyndicate(ctx, "syn-1", day1.Truncate(24*time.Hour), day2.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint64(2), got[0].Trades)
	assert.True(t, got[0].Tokens.Equal(decimal.RequireFromString("2100")), "tokens=%s", got[0].Tokens)
	assert.True(t, got[0].TotalAmount.Equal(decimal.RequireFromString("25150")), "total=%s", got[0].TotalAmount)
	assert.True(t, got[0].Fees.Equal(decimal.RequireFromString("251.50")), "fees=%s", got[0].Fees)
	assert.Equal(t, day1.Truncate(24*time.Hour), got[0].Day)

	assert.Equal(t, uint64(1), got[1].Trades)
}

func TestTradeHistoryStore_EmptyRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewTradeHistoryStore(conn)
	got, err := store.VolumeBySyndicate(context.Background(), "none", time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}
