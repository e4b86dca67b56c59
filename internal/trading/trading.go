// Package trading settles purchases against secondary-market listings.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/directory"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/events"
	"syndicate-ledger/internal/idhash"
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/storage"
)

// Side is the caller's side of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeView is a trade as one of its parties sees it.
type TradeView struct {
	*domain.Trade
	Side             Side
	CounterpartyID   string
	CounterpartyName string
	SyndicateName    string
	TokenSymbol      string
}

// Service executes trades.
type Service struct {
	ledger  storage.Ledger
	dir     directory.Directory
	pub     events.Publisher
	feeRate decimal.Decimal
	now     func() time.Time
	newID   func() string
	logger  *log.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Ledger    storage.Ledger
	Directory directory.Directory
	Publisher events.Publisher // Default: events.Discard
	FeeRate   *decimal.Decimal // Default: domain.DefaultPlatformFeeRate
	Now       func() time.Time // Default: domain.Now
	NewID     func() string    // Default: uuid.NewString
	Logger    *log.Logger
}

// NewService creates a trading service.
func NewService(opts Options) *Service {
	pub := opts.Publisher
	if pub == nil {
		pub = events.Discard{}
	}
	feeRate := domain.DefaultPlatformFeeRate
	if opts.FeeRate != nil {
		feeRate = *opts.FeeRate
	}
	now := opts.Now
	if now == nil {
		now = domain.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		ledger:  opts.Ledger,
		dir:     opts.Directory,
		pub:     pub,
		feeRate: feeRate,
		now:     now,
		newID:   newID,
		logger:  logger,
	}
}

// Buy purchases tokens from a listing. The listing, the seller's balance and
// the buyer's membership change in one transaction.
func (s *Service) Buy(ctx context.Context, actor domain.Actor, listingID string, tokens decimal.Decimal) (_ *domain.Trade, err error) {
	ctx, done := observability.Track(ctx, "trading", "buy",
		attribute.String("listing.id", listingID))
	defer func() { done(&err) }()

	if !tokens.IsPositive() || !domain.IsTokenQuantity(tokens) {
		return nil, apperr.Validation("tokens must be positive with at most 6 decimals")
	}
	buyer, err := directory.RequireInvestor(ctx, s.dir, actor)
	if err != nil {
		return nil, err
	}
	// The syndicate row is locked before the listing, so find it first.
	peek, err := s.ledger.GetListing(ctx, listingID)
	if err != nil {
		return nil, lookupErr(err, "listing")
	}

	var trade *domain.Trade
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		syn, err := tx.LockSyndicate(ctx, peek.SyndicateID)
		if err != nil {
			return lookupErr(err, "syndicate")
		}
		l, err := tx.LockListing(ctx, listingID)
		if err != nil {
			return lookupErr(err, "listing")
		}
		now := s.now()
		if err := s.checkPurchase(syn, l, buyer.ID, tokens, now); err != nil {
			return err
		}

		seller, buyerM, err := lockParties(ctx, tx, l.SyndicateID, l.SellerID, buyer.ID)
		if err != nil {
			return err
		}
		if seller == nil {
			return apperr.State("seller no longer holds a membership")
		}
		if seller.Tokens.LessThan(tokens) {
			return apperr.State("seller balance is below the purchased tokens")
		}
		if buyerM != nil && !buyerM.IsApproved() {
			return apperr.State(fmt.Sprintf("buyer membership is %s", buyerM.Status))
		}

		total := domain.RoundMoney(tokens.Mul(l.PricePerToken))
		t := &domain.Trade{
			ID:            s.newID(),
			ListingID:     l.ID,
			SyndicateID:   l.SyndicateID,
			BuyerID:       buyer.ID,
			SellerID:      l.SellerID,
			Tokens:        tokens,
			PricePerToken: l.PricePerToken,
			TotalAmount:   total,
			Fee:           domain.RoundMoney(total.Mul(s.feeRate)),
			Status:        domain.TradeCompleted,
			ExecutedAt:    now,
		}
		t.Reference = idhash.ComputeTradeReference(t.ID, t.ListingID, t.BuyerID, t.Tokens, t.ExecutedAt)

		l.TokensAvailable = l.TokensAvailable.Sub(tokens)
		if l.TokensAvailable.IsZero() {
			l.Status = domain.ListingSold
		}
		l.UpdatedAt = now
		if err := tx.UpdateListing(ctx, l); err != nil {
			return fmt.Errorf("update listing: %w", err)
		}

		seller.Tokens = seller.Tokens.Sub(tokens)
		seller.UpdatedAt = now
		if err := tx.UpdateMembership(ctx, seller); err != nil {
			return fmt.Errorf("update seller membership: %w", err)
		}

		if buyerM == nil {
			buyerM = &domain.Membership{
				SyndicateID:   l.SyndicateID,
				InvestorID:    buyer.ID,
				Amount:        total,
				PrimaryAmount: decimal.Zero,
				Tokens:        tokens,
				Dust:          decimal.Zero,
				Status:        domain.MembershipApproved,
				JoinedAt:      now,
				UpdatedAt:     now,
			}
			if err := tx.InsertMembership(ctx, buyerM); err != nil {
				return fmt.Errorf("insert buyer membership: %w", err)
			}
		} else {
			buyerM.Amount = buyerM.Amount.Add(total)
			buyerM.Tokens = buyerM.Tokens.Add(tokens)
			buyerM.UpdatedAt = now
			if err := tx.UpdateMembership(ctx, buyerM); err != nil {
				return fmt.Errorf("update buyer membership: %w", err)
			}
		}

		if err := tx.InsertTrade(ctx, t); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		trade = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.RecordTrade(trade.TotalAmount, trade.Fee)
	s.logger.Printf("trade %s (%s): %s bought %s tokens from %s for %s, fee %s",
		trade.ID, trade.Reference, trade.BuyerID, trade.Tokens, trade.SellerID, trade.TotalAmount, trade.Fee)
	events.Emit(ctx, s.pub, s.logger, events.NewTradeCompleted(trade))
	return trade, nil
}

func (s *Service) checkPurchase(syn *domain.Syndicate, l *domain.Listing, buyerID string, tokens decimal.Decimal, now time.Time) error {
	if l.SellerID == buyerID {
		return apperr.Validation("cannot buy from your own listing")
	}
	if syn.Status == domain.SyndicateClosed {
		return apperr.State("syndicate is closed")
	}
	if !l.IsLiveAt(now) {
		status := l.Status
		if status == domain.ListingActive {
			status = domain.ListingExpired
		}
		return apperr.Conflict("listing is not active", map[string]string{"status": status.String()})
	}
	if tokens.LessThan(l.MinTokens) {
		return apperr.WithDetails(apperr.KindValidation, "tokens are below the listing minimum", map[string]string{
			"min_tokens": l.MinTokens.String(),
			"requested":  tokens.String(),
		})
	}
	if tokens.GreaterThan(l.TokensAvailable) {
		return apperr.Conflict("not enough tokens in the listing", map[string]string{
			"tokens_available": l.TokensAvailable.String(),
			"requested":        tokens.String(),
		})
	}
	return nil
}

// lockParties locks the seller's and buyer's memberships in investor ID
// order. A party without a membership comes back nil.
func lockParties(ctx context.Context, tx storage.Tx, syndicateID, sellerID, buyerID string) (seller, buyer *domain.Membership, err error) {
	ids := []string{sellerID, buyerID}
	if buyerID < sellerID {
		ids[0], ids[1] = buyerID, sellerID
	}
	locked := make(map[string]*domain.Membership, 2)
	for _, id := range ids {
		m, err := tx.LockMembership(ctx, syndicateID, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("lock membership %s: %w", id, err)
		}
		locked[id] = m
	}
	return locked[sellerID], locked[buyerID], nil
}

// ListMyTrades returns the caller's purchases and sales, newest first.
func (s *Service) ListMyTrades(ctx context.Context, actor domain.Actor) (_ []*TradeView, err error) {
	ctx, done := observability.Track(ctx, "trading", "list_my_trades")
	defer func() { done(&err) }()

	inv, err := directory.RequireInvestor(ctx, s.dir, actor)
	if err != nil {
		return nil, err
	}
	trades, err := s.ledger.ListTradesByInvestor(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	names := make(map[string]string)
	syndicates := make(map[string]*domain.Syndicate)
	views := make([]*TradeView, 0, len(trades))
	for _, t := range trades {
		v := &TradeView{Trade: t, Side: SideBuy, CounterpartyID: t.SellerID}
		if t.SellerID == inv.ID {
			v.Side = SideSell
			v.CounterpartyID = t.BuyerID
		}

		name, ok := names[v.CounterpartyID]
		if !ok {
			name, err = s.investorName(ctx, v.CounterpartyID)
			if err != nil {
				return nil, err
			}
			names[v.CounterpartyID] = name
		}
		v.CounterpartyName = name

		syn, ok := syndicates[t.SyndicateID]
		if !ok {
			syn, err = s.ledger.GetSyndicate(ctx, t.SyndicateID)
			if err != nil {
				return nil, lookupErr(err, "syndicate")
			}
			syndicates[t.SyndicateID] = syn
		}
		v.SyndicateName = syn.Name
		v.TokenSymbol = syn.TokenSymbol
		views = append(views, v)
	}
	return views, nil
}

func (s *Service) investorName(ctx context.Context, investorID string) (string, error) {
	inv, err := s.dir.ByID(ctx, investorID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve investor %s: %w", investorID, err)
	}
	return inv.Name, nil
}

// GetTrade returns one trade.
func (s *Service) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	t, err := s.ledger.GetTrade(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "trade")
	}
	return t, nil
}

func lookupErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return fmt.Errorf("load %s: %w", what, err)
}
