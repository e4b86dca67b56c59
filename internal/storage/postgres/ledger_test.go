package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/storage"
)

var testNow = time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createTestSyndicate(id string) *domain.Syndicate {
	return &domain.Syndicate{
		ID:               id,
		Name:             "Seed round " + id,
		Description:      "pooled allocation",
		LeadInvestorID:   "lead-1",
		TargetAmount:     dec("100000.00"),
		MinInvestment:    dec("1000.00"),
		MaxInvestment:    ptr(dec("60000.00")),
		ManagementFeePct: dec("2.00"),
		CarryFeePct:      dec("20.00"),
		Status:           domain.SyndicateOpen,
		TokensSold:       decimal.Zero,
		DealID:           ptr("deal-42"),
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
}

func createTestMembership(syndicateID, investorID, amount string, status domain.MembershipStatus) *domain.Membership {
	return &domain.Membership{
		SyndicateID:   syndicateID,
		InvestorID:    investorID,
		Amount:        dec(amount),
		PrimaryAmount: dec(amount),
		Tokens:        decimal.Zero,
		Dust:          decimal.Zero,
		Status:        status,
		JoinedAt:      testNow,
		UpdatedAt:     testNow,
	}
}

func TestLedger_SyndicateRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{MaxRetries: 3})

	s := createTestSyndicate("syn-1")
	inTx(t, ledger, func(tx storage.Tx) error {
		return tx.InsertSyndicate(ctx, s)
	})

	got, err := ledger.GetSyndicate(ctx, "syn-1")
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.True(t, got.TargetAmount.Equal(s.TargetAmount))
	require.NotNil(t, got.MaxInvestment)
	assert.True(t, got.MaxInvestment.Equal(dec("60000")))
	assert.Nil(t, got.PricePerToken)
	assert.Nil(t, got.TotalTokens)
	require.NotNil(t, got.DealID)
	assert.Equal(t, "deal-42", *got.DealID)
	assert.Equal(t, domain.SyndicateOpen, got.Status)

	// Tokenize and update.
	inTx(t, ledger, func(tx storage.Tx) error {
		locked, err := tx.LockSyndicate(ctx, "syn-1")
		if err != nil {
			return err
		}
		locked.IsTokenized = true
		locked.TokenName = "Seed Token"
		locked.TokenSymbol = "SEED"
		locked.PricePerToken = ptr(dec("10"))
		locked.TotalTokens = ptr(dec("10000"))
		locked.TokensSold = dec("5000")
		return tx.UpdateSyndicate(ctx, locked)
	})

	got, err = ledger.GetSyndicate(ctx, "syn-1")
	require.NoError(t, err)
	assert.True(t, got.IsTokenized)
	assert.True(t, got.RemainingTokens().Equal(dec("5000")))

	_, err = ledger.GetSyndicate(ctx, "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLedger_DuplicateSyndicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{})

	inTx(t, ledger, func(tx storage.Tx) error {
		return tx.InsertSyndicate(ctx, createTestSyndicate("dup"))
	})

	err := ledger.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertSyndicate(ctx, createTestSyndicate("dup"))
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey))
}

func TestLedger_TokenCapConstraint(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{})

	s := createTestSyndicate("cap")
	s.IsTokenized = true
	s.PricePerToken = ptr(dec("10"))
	s.TotalTokens = ptr(dec("100"))
	s.TokensSold = dec("101")

	err := ledger.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertSyndicate(ctx, s)
	})
	assert.Error(t, err, "tokens_sold above total_tokens must be rejected by the schema")
}

func TestLedger_PricePositiveConstraint(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{})

	s := createTestSyndicate("zero-price")
	s.IsTokenized = true
	s.PricePerToken = ptr(dec("0"))
	s.TotalTokens = ptr(dec("100"))

	err := ledger.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertSyndicate(ctx, s)
	})
	assert.Error(t, err, "a zero token price must be rejected by the schema")
}

func TestLedger_RollbackOnError(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{})
	boom := errors.New("boom")

	inTx(t, ledger, func(tx storage.Tx) error {
		return tx.InsertSyndicate(ctx, createTestSyndicate("rb"))
	})

	err := ledger.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertMembership(ctx, createTestMembership("rb", "inv-1", "5000", domain.MembershipApproved)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = ledger.GetMembership(ctx, "rb", "inv-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLedger_MembershipsAndTotals(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{})

	inTx(t, ledger, func(tx storage.Tx) error {
		if err := tx.InsertSyndicate(ctx, createTestSyndicate("tot")); err != nil {
			return err
		}
		if err := tx.InsertMembership(ctx, createTestMembership("tot", "a", "50000", domain.MembershipApproved)); err != nil {
			return err
		}
		if err := tx.InsertMembership(ctx, createTestMembership("tot", "b", "20000", domain.MembershipPending)); err != nil {
			return err
		}
		buyer := createTestMembership("tot", "c", "0", domain.MembershipApproved)
		buyer.Amount = dec("24000")
		buyer.Tokens = dec("2000")
		return tx.InsertMembership(ctx, buyer)
	})

	totals, err := ledger.SyndicateTotals(ctx, "tot")
	require.NoError(t, err)
	assert.True(t, totals.Raised.Equal(dec("50000")), "raised=%s", totals.Raised)
	assert.Equal(t, 2, totals.MemberCount)

	members, err := ledger.ListMemberships(ctx, "tot")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "a", members[0].InvestorID)

	// Update through a lock.
	inTx(t, ledger, func(tx storage.Tx) error {
		m, err := tx.LockMembership(ctx, "tot", "b")
		if err != nil {
			return err
		}
		m.Status = domain.MembershipApproved
		return tx.UpdateMembership(ctx, m)
	})

	totals, err = ledger.SyndicateTotals(ctx, "tot")
	require.NoError(t, err)
	assert.True(t, totals.Raised.Equal(dec("70000")))

	ov, err := ledger.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ov.Total)
	assert.Equal(t, 1, ov.ByStatus[domain.SyndicateOpen])
	assert.Equal(t, 0, ov.ByStatus[domain.SyndicateClosed])
	assert.True(t, ov.TotalRaised.Equal(dec("70000")))
	assert.True(t, ov.TotalTarget.Equal(dec("100000")))

	err = ledger.InTx(ctx, func(tx storage.Tx) error {
		return tx.InsertMembership(ctx, createTestMembership("nope", "a", "1000", domain.MembershipPending))
	})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestLedger_ListingsAndTrades(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{})
	past := testNow.Add(-time.Minute)
	future := testNow.Add(time.Hour)

	inTx(t, ledger, func(tx storage.Tx) error {
		if err := tx.InsertSyndicate(ctx, createTestSyndicate("mkt")); err != nil {
			return err
		}
		listings := []*domain.Listing{
			{ID: "l-open", SyndicateID: "mkt", SellerID: "seller", TokensAvailable: dec("100"), PricePerToken: dec("12"), MinTokens: dec("1"), Status: domain.ListingActive, ListedAt: testNow, UpdatedAt: testNow},
			{ID: "l-future", SyndicateID: "mkt", SellerID: "seller", TokensAvailable: dec("50"), PricePerToken: dec("12"), MinTokens: dec("1"), Status: domain.ListingActive, ExpiresAt: &future, ListedAt: testNow.Add(time.Second), UpdatedAt: testNow},
			{ID: "l-past", SyndicateID: "mkt", SellerID: "seller", TokensAvailable: dec("25"), PricePerToken: dec("12"), MinTokens: dec("1"), Status: domain.ListingActive, ExpiresAt: &past, ListedAt: testNow.Add(2 * time.Second), UpdatedAt: testNow},
		}
		for _, l := range listings {
			if err := tx.InsertListing(ctx, l); err != nil {
				return err
			}
		}
		return nil
	})

	inTx(t, ledger, func(tx storage.Tx) error {
		locked, err := tx.LockedTokens(ctx, "mkt", "seller", testNow)
		require.NoError(t, err)
		assert.True(t, locked.Equal(dec("150")), "locked=%s", locked)

		expired, err := tx.LockExpiredListings(ctx, testNow, 10)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, "l-past", expired[0].ID)

		expired[0].Status = domain.ListingExpired
		return tx.UpdateListing(ctx, expired[0])
	})

	active, err := ledger.ListListings(ctx, storage.ListingFilter{SyndicateID: "mkt", Status: domain.ListingActive})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "l-future", active[0].ID, "listed_at DESC")

	trade := &domain.Trade{
		ID: "t-1", Reference: "REF1", ListingID: "l-open", SyndicateID: "mkt",
		BuyerID: "buyer", SellerID: "seller",
		Tokens: dec("10"), PricePerToken: dec("12"), TotalAmount: dec("120.00"), Fee: dec("1.20"),
		Status: domain.TradeCompleted, ExecutedAt: testNow,
	}
	inTx(t, ledger, func(tx storage.Tx) error {
		n, err := tx.CountMarketActivity(ctx, "mkt")
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		return tx.InsertTrade(ctx, trade)
	})

	got, err := ledger.GetTrade(ctx, "t-1")
	require.NoError(t, err)
	assert.True(t, got.Fee.Equal(dec("1.20")))
	assert.Equal(t, domain.TradeCompleted, got.Status)

	mine, err := ledger.ListTradesByInvestor(ctx, "seller")
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	err = ledger.InTx(ctx, func(tx storage.Tx) error {
		dup := *trade
		dup.ID = "t-2"
		return tx.InsertTrade(ctx, &dup)
	})
	assert.True(t, errors.Is(err, storage.ErrDuplicateKey), "reference must be unique")
}

func TestLedger_RowLocksSerialiseWriters(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	ledger := NewLedger(pool, LedgerOptions{MaxRetries: 5})

	s := createTestSyndicate("race")
	s.IsTokenized = true
	s.PricePerToken = ptr(dec("1"))
	s.TotalTokens = ptr(dec("1000"))
	inTx(t, ledger, func(tx storage.Tx) error {
		return tx.InsertSyndicate(ctx, s)
	})

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.InTx(ctx, func(tx storage.Tx) error {
				locked, err := tx.LockSyndicate(ctx, "race")
				if err != nil {
					return err
				}
				locked.TokensSold = locked.TokensSold.Add(decimal.NewFromInt(1))
				return tx.UpdateSyndicate(ctx, locked)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := ledger.GetSyndicate(ctx, "race")
	require.NoError(t, err)
	assert.True(t, got.TokensSold.Equal(decimal.NewFromInt(workers)), "tokens_sold=%s", got.TokensSold)
}

func TestInvestorStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewInvestorStore(pool)

	require.NoError(t, store.Upsert(ctx, &domain.Investor{ID: "inv-1", UserID: "user-1", Name: "Ada", Email: "ada@example.com"}))

	byUser, err := store.ByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "inv-1", byUser.ID)

	byID, err := store.ByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", byID.Name)

	_, err = store.ByUserID(ctx, "nobody")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(errors.New("plain")))
	assert.True(t, isRetryableError(&pgconn.PgError{Code: pgErrSerializationFailure}))
	assert.True(t, isRetryableError(fmt.Errorf("lock syndicate: %w", &pgconn.PgError{Code: pgErrDeadlockDetected})))
	assert.False(t, isRetryableError(&pgconn.PgError{Code: pgErrUniqueViolation}))
}
