package trading

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/directory"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/events"
	"syndicate-ledger/internal/market"
	"syndicate-ledger/internal/membership"
	"syndicate-ledger/internal/registry"
	"syndicate-ledger/internal/storage/memory"
	"syndicate-ledger/internal/tokenization"
)

var (
	t0     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seller = domain.Actor{UserID: "u-seller", Role: domain.RoleInvestor}
	buyer  = domain.Actor{UserID: "u-buyer", Role: domain.RoleInvestor}
	carol  = domain.Actor{UserID: "u-carol", Role: domain.RoleInvestor}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	ledger   *memory.Ledger
	registry *registry.Service
	members  *membership.Service
	market   *market.Service
	svc      *Service
	rec      *events.Recorder
	clock    *time.Time
	synID    string
}

// newFixture builds Scenario B: a $10/token syndicate with 10,000 tokens in
// which the seller (its lead) holds 5,000 tokens from a $50,000 join.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	l := memory.NewLedger()
	dir := directory.NewMemory(
		&domain.Investor{ID: "inv-seller", UserID: "u-seller", Name: "Sam Seller"},
		&domain.Investor{ID: "inv-buyer", UserID: "u-buyer", Name: "Bea Buyer"},
		&domain.Investor{ID: "inv-carol", UserID: "u-carol", Name: "Carol"},
	)
	clock := t0
	now := func() time.Time { return clock }
	rec := &events.Recorder{}

	f := &fixture{
		ledger:   l,
		registry: registry.NewService(registry.Options{Ledger: l, Directory: dir, Now: now}),
		members:  membership.NewService(membership.Options{Ledger: l, Directory: dir, Now: now}),
		market:   market.NewService(market.Options{Ledger: l, Directory: dir, Now: now}),
		svc:      NewService(Options{Ledger: l, Directory: dir, Publisher: rec, Now: now}),
		rec:      rec,
		clock:    &clock,
	}
	tok := tokenization.NewService(tokenization.Options{Ledger: l, Directory: dir, Now: now})

	v, err := f.registry.CreateSyndicate(ctx, seller, registry.CreateParams{Name: "Seed", TargetAmount: dec("100000")})
	require.NoError(t, err)
	f.synID = v.ID
	_, err = tok.Configure(ctx, seller, v.ID, tokenization.Params{
		Name: "Seed", Symbol: "SEED", PricePerToken: dec("10"), TotalTokens: dec("10000"),
	})
	require.NoError(t, err)
	m, err := f.members.Join(ctx, seller, v.ID, dec("50000"))
	require.NoError(t, err)
	require.True(t, m.Tokens.Equal(dec("5000")))
	return f
}

func (f *fixture) list(t *testing.T, tokens, price, min string) *domain.Listing {
	t.Helper()
	l, err := f.market.CreateListing(context.Background(), seller, f.synID, market.ListingParams{
		TokensAvailable: dec(tokens), PricePerToken: dec(price), MinTokens: dec(min),
	})
	require.NoError(t, err)
	return l
}

func (f *fixture) membership(t *testing.T, investorID string) *domain.Membership {
	t.Helper()
	m, err := f.ledger.GetMembership(context.Background(), f.synID, investorID)
	require.NoError(t, err)
	return m
}

func TestScenarioB_BuyWholeListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "2000", "12", "1")

	raisedBefore, err := f.registry.RaisedAmount(ctx, f.synID)
	require.NoError(t, err)

	tr, err := f.svc.Buy(ctx, buyer, l.ID, dec("2000"))
	require.NoError(t, err)
	assert.True(t, tr.TotalAmount.Equal(dec("24000")))
	assert.True(t, tr.Fee.Equal(dec("240")))
	assert.True(t, tr.PricePerToken.Equal(dec("12")))
	assert.Equal(t, domain.TradeCompleted, tr.Status)
	assert.Equal(t, t0, tr.ExecutedAt)
	assert.NotEmpty(t, tr.Reference)

	listing, err := f.ledger.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingSold, listing.Status)
	assert.True(t, listing.TokensAvailable.IsZero())

	s := f.membership(t, "inv-seller")
	assert.True(t, s.Tokens.Equal(dec("3000")))
	assert.True(t, s.Amount.Equal(dec("50000")), "seller amount is cumulative and never reduced")

	b := f.membership(t, "inv-buyer")
	assert.Equal(t, domain.MembershipApproved, b.Status)
	assert.True(t, b.Tokens.Equal(dec("2000")))
	assert.True(t, b.Amount.Equal(dec("24000")))
	assert.True(t, b.PrimaryAmount.IsZero())

	raisedAfter, err := f.registry.RaisedAmount(ctx, f.synID)
	require.NoError(t, err)
	assert.True(t, raisedAfter.Equal(raisedBefore), "secondary trades do not raise capital")

	syn, err := f.ledger.GetSyndicate(ctx, f.synID)
	require.NoError(t, err)
	assert.True(t, syn.TokensSold.Equal(dec("5000")), "supply sold is unchanged by trades")

	completed := f.rec.OfType(events.TradeCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, tr.ID, completed[0].Trade.TradeID)

	got, err := f.svc.GetTrade(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.Reference, got.Reference)
}

func TestBuy_PartialFillAndTopUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "1000", "10.333333", "10")

	tr, err := f.svc.Buy(ctx, buyer, l.ID, dec("300"))
	require.NoError(t, err)
	assert.True(t, tr.TotalAmount.Equal(dec("3100")), "3099.9999 rounds half-up to cents: %s", tr.TotalAmount)
	assert.True(t, tr.Fee.Equal(dec("31")))

	*f.clock = f.clock.Add(time.Second)
	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("0.5"))
	assert.True(t, errors.Is(err, apperr.ErrValidation), "below listing minimum")

	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("700.000001"))
	assert.True(t, errors.Is(err, apperr.ErrConflict), "more than available")

	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("700"))
	require.NoError(t, err)

	b := f.membership(t, "inv-buyer")
	assert.True(t, b.Tokens.Equal(dec("1000")))
	s := f.membership(t, "inv-seller")
	assert.True(t, s.Tokens.Equal(dec("4000")))
	assert.True(t, s.Tokens.Add(b.Tokens).Equal(dec("5000")), "tokens are conserved")

	listing, err := f.ledger.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingSold, listing.Status)

	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("10"))
	assert.True(t, errors.Is(err, apperr.ErrConflict), "sold listings accept no buys")
}

func TestBuy_MinTokensAlwaysEnforced(t *testing.T) {
	f := newFixture(t)
	l := f.list(t, "100", "12", "50")
	_, err := f.svc.Buy(context.Background(), buyer, l.ID, dec("60"))
	require.NoError(t, err)

	// 40 remain, below the 50 minimum: the remainder cannot be bought.
	_, err = f.svc.Buy(context.Background(), buyer, l.ID, dec("40"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestBuy_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "100", "12", "1")

	_, err := f.svc.Buy(ctx, seller, l.ID, dec("10"))
	assert.True(t, errors.Is(err, apperr.ErrValidation), "own listing")

	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("0"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("1.0000001"))
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = f.svc.Buy(ctx, buyer, "missing", dec("10"))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.svc.Buy(ctx, domain.Actor{UserID: "u-admin", Role: domain.RoleAdmin}, l.ID, dec("10"))
	assert.True(t, errors.Is(err, apperr.ErrAuthorization))

	_, err = f.market.CancelListing(ctx, seller, l.ID)
	require.NoError(t, err)
	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("10"))
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestBuy_ExpiredListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := t0.Add(time.Hour)
	l, err := f.market.CreateListing(ctx, seller, f.synID, market.ListingParams{
		TokensAvailable: dec("100"), PricePerToken: dec("12"), MinTokens: dec("1"), ExpiresAt: &expiry,
	})
	require.NoError(t, err)

	*f.clock = expiry
	_, err = f.svc.Buy(ctx, buyer, l.ID, dec("10"))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, e.Kind)
	assert.Equal(t, "EXPIRED", e.Details["status"])
}

func TestBuy_PendingBuyerMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "100", "12", "1")

	_, err := f.members.Join(ctx, carol, f.synID, dec("1000"))
	require.NoError(t, err)

	_, err = f.svc.Buy(ctx, carol, l.ID, dec("10"))
	assert.True(t, errors.Is(err, apperr.ErrState))

	listing, err := f.ledger.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, listing.TokensAvailable.Equal(dec("100")), "failed buys change nothing")
}

func TestBuy_ConcurrentBuyersNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "100", "12", "1")

	var wg sync.WaitGroup
	errs := make([]error, 6)
	for i := range errs {
		actor := buyer
		if i%2 == 1 {
			actor = carol
		}
		wg.Add(1)
		go func(i int, actor domain.Actor) {
			defer wg.Done()
			_, errs[i] = f.svc.Buy(ctx, actor, l.ID, dec("30"))
		}(i, actor)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(t, errors.Is(err, apperr.ErrConflict), "got %v", err)
		}
	}
	assert.Equal(t, 3, ok)

	listing, err := f.ledger.GetListing(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, listing.TokensAvailable.Equal(dec("10")))

	s := f.membership(t, "inv-seller")
	assert.True(t, s.Tokens.Equal(dec("4910")))
}

func TestListMyTrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.list(t, "100", "12", "1")

	first, err := f.svc.Buy(ctx, buyer, l.ID, dec("10"))
	require.NoError(t, err)
	*f.clock = f.clock.Add(time.Minute)
	second, err := f.svc.Buy(ctx, carol, l.ID, dec("20"))
	require.NoError(t, err)

	mine, err := f.svc.ListMyTrades(ctx, seller)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")
	assert.Equal(t, SideSell, mine[0].Side)
	assert.Equal(t, "inv-carol", mine[0].CounterpartyID)
	assert.Equal(t, "Carol", mine[0].CounterpartyName)
	assert.Equal(t, "Seed", mine[0].SyndicateName)
	assert.Equal(t, "SEED", mine[0].TokenSymbol)
	assert.Equal(t, first.ID, mine[1].ID)

	bought, err := f.svc.ListMyTrades(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, bought, 1)
	assert.Equal(t, SideBuy, bought[0].Side)
	assert.Equal(t, "Sam Seller", bought[0].CounterpartyName)

	carols, err := f.svc.ListMyTrades(ctx, carol)
	require.NoError(t, err)
	assert.Len(t, carols, 1)

	_, err = f.svc.GetTrade(ctx, "missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestBuy_CustomFeeRate(t *testing.T) {
	f := newFixture(t)
	rate := dec("0.025")
	f.svc = NewService(Options{Ledger: f.ledger, Directory: directory.NewMemory(
		&domain.Investor{ID: "inv-buyer", UserID: "u-buyer", Name: "Bea Buyer"},
	), FeeRate: &rate, Now: func() time.Time { return t0 }})
	l := f.list(t, "100", "12", "1")

	tr, err := f.svc.Buy(context.Background(), buyer, l.ID, dec("33"))
	require.NoError(t, err)
	assert.True(t, tr.TotalAmount.Equal(dec("396")))
	assert.True(t, tr.Fee.Equal(dec("9.9")))
}
