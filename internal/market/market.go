// Package market runs the sell side of the secondary token market.
package market

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
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/storage"
)

// DefaultExpireBatch bounds how many listings one expiry transaction locks.
const DefaultExpireBatch = 100

// ListingParams describes a new listing. A nil ExpiresAt never expires.
type ListingParams struct {
	TokensAvailable decimal.Decimal
	PricePerToken   decimal.Decimal
	MinTokens       decimal.Decimal
	ExpiresAt       *time.Time
}

// Service implements the listing market.
type Service struct {
	ledger      storage.Ledger
	dir         directory.Directory
	pub         events.Publisher
	now         func() time.Time
	newID       func() string
	expireBatch int
	logger      *log.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Ledger      storage.Ledger
	Directory   directory.Directory
	Publisher   events.Publisher // Default: events.Discard
	Now         func() time.Time // Default: domain.Now
	NewID       func() string    // Default: uuid.NewString
	ExpireBatch int              // Default: DefaultExpireBatch
	Logger      *log.Logger
}

// NewService creates a market service.
func NewService(opts Options) *Service {
	pub := opts.Publisher
	if pub == nil {
		pub = events.Discard{}
	}
	now := opts.Now
	if now == nil {
		now = domain.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	batch := opts.ExpireBatch
	if batch <= 0 {
		batch = DefaultExpireBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		ledger:      opts.Ledger,
		dir:         opts.Directory,
		pub:         pub,
		now:         now,
		newID:       newID,
		expireBatch: batch,
		logger:      logger,
	}
}

func (p ListingParams) validate(now time.Time) error {
	if !p.TokensAvailable.IsPositive() || !domain.IsTokenQuantity(p.TokensAvailable) {
		return apperr.Validation("tokens available must be positive with at most 6 decimals")
	}
	if !p.PricePerToken.IsPositive() || !domain.IsTokenQuantity(p.PricePerToken) {
		return apperr.Validation("price per token must be positive with at most 6 decimals")
	}
	if !p.MinTokens.IsPositive() || !domain.IsTokenQuantity(p.MinTokens) || p.MinTokens.GreaterThan(p.TokensAvailable) {
		return apperr.WithDetails(apperr.KindValidation, "minimum tokens must be positive and no more than tokens available",
			map[string]string{"min_tokens": p.MinTokens.String(), "tokens_available": p.TokensAvailable.String()})
	}
	if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
		return apperr.Validation("expiry must be in the future")
	}
	return nil
}

// CreateListing offers part of the caller's token balance for sale. Tokens
// already offered in other live listings cannot be offered again.
func (s *Service) CreateListing(ctx context.Context, actor domain.Actor, syndicateID string, p ListingParams) (_ *domain.Listing, err error) {
	ctx, done := observability.Track(ctx, "market", "create_listing",
		attribute.String("syndicate.id", syndicateID))
	defer func() { done(&err) }()

	now := s.now()
	if err := p.validate(now); err != nil {
		return nil, err
	}
	inv, err := directory.RequireInvestor(ctx, s.dir, actor)
	if err != nil {
		return nil, err
	}

	var out *domain.Listing
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		syn, err := tx.LockSyndicate(ctx, syndicateID)
		if err != nil {
			return lookupErr(err, "syndicate")
		}
		if !syn.IsTokenized {
			return apperr.State("syndicate is not tokenized")
		}
		if syn.Status == domain.SyndicateClosed {
			return apperr.State("syndicate is closed")
		}
		m, err := tx.LockMembership(ctx, syndicateID, inv.ID)
		if err != nil {
			return lookupErr(err, "membership")
		}
		if !m.IsApproved() {
			return apperr.State("only approved members can list tokens")
		}

		locked, err := tx.LockedTokens(ctx, syndicateID, inv.ID, now)
		if err != nil {
			return fmt.Errorf("locked tokens: %w", err)
		}
		available := m.Tokens.Sub(locked)
		if p.TokensAvailable.GreaterThan(available) {
			return apperr.Conflict("not enough unlisted tokens", map[string]string{
				"tokens":    m.Tokens.String(),
				"locked":    locked.String(),
				"available": available.String(),
				"requested": p.TokensAvailable.String(),
			})
		}

		l := &domain.Listing{
			ID:              s.newID(),
			SyndicateID:     syndicateID,
			SellerID:        inv.ID,
			TokensAvailable: p.TokensAvailable,
			PricePerToken:   p.PricePerToken,
			MinTokens:       p.MinTokens,
			Status:          domain.ListingActive,
			ExpiresAt:       p.ExpiresAt,
			ListedAt:        now,
			UpdatedAt:       now,
		}
		if err := tx.InsertListing(ctx, l); err != nil {
			return fmt.Errorf("insert listing: %w", err)
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("listing %s: %s offers %s tokens of %s at %s", out.ID, out.SellerID, out.TokensAvailable, syndicateID, out.PricePerToken)
	return out, nil
}

// CancelListing withdraws the caller's ACTIVE listing.
func (s *Service) CancelListing(ctx context.Context, actor domain.Actor, listingID string) (_ *domain.Listing, err error) {
	ctx, done := observability.Track(ctx, "market", "cancel_listing",
		attribute.String("listing.id", listingID))
	defer func() { done(&err) }()

	inv, err := directory.RequireInvestor(ctx, s.dir, actor)
	if err != nil {
		return nil, err
	}

	var out *domain.Listing
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		l, err := tx.LockListing(ctx, listingID)
		if err != nil {
			return lookupErr(err, "listing")
		}
		if l.SellerID != inv.ID {
			return apperr.Unauthorized("only the seller can cancel a listing")
		}
		if l.Status != domain.ListingActive {
			return apperr.Conflict("listing is not active", map[string]string{"status": l.Status.String()})
		}
		l.Status = domain.ListingCancelled
		l.UpdatedAt = s.now()
		if err := tx.UpdateListing(ctx, l); err != nil {
			return fmt.Errorf("update listing: %w", err)
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetListing returns one listing as of now.
func (s *Service) GetListing(ctx context.Context, id string) (*domain.Listing, error) {
	l, err := s.ledger.GetListing(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "listing")
	}
	return effective(l, s.now()), nil
}

// ListListings returns listings newest first. Listings whose expiry has
// passed are reported EXPIRED even before the sweeper has marked them.
func (s *Service) ListListings(ctx context.Context, f storage.ListingFilter) (_ []*domain.Listing, err error) {
	ctx, done := observability.Track(ctx, "market", "list_listings")
	defer func() { done(&err) }()

	if f.Status != "" && !f.Status.IsValid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown listing status %q", f.Status))
	}
	query := f
	if f.Status == domain.ListingExpired {
		query.Status = ""
	}
	listings, err := s.ledger.ListListings(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}

	now := s.now()
	out := make([]*domain.Listing, 0, len(listings))
	for _, l := range listings {
		l = effective(l, now)
		if f.Status != "" && l.Status != f.Status {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ExpireListings marks every ACTIVE listing past its expiry EXPIRED, in
// batches of row-locked transactions, and returns how many it expired.
func (s *Service) ExpireListings(ctx context.Context) (_ int, err error) {
	ctx, done := observability.Track(ctx, "market", "expire_listings")
	defer func() { done(&err) }()

	total := 0
	for {
		now := s.now()
		var expired []*domain.Listing
		err := s.ledger.InTx(ctx, func(tx storage.Tx) error {
			expired = nil
			batch, err := tx.LockExpiredListings(ctx, now, s.expireBatch)
			if err != nil {
				return fmt.Errorf("lock expired listings: %w", err)
			}
			for _, l := range batch {
				l.Status = domain.ListingExpired
				l.UpdatedAt = now
				if err := tx.UpdateListing(ctx, l); err != nil {
					return fmt.Errorf("update listing %s: %w", l.ID, err)
				}
			}
			expired = batch
			return nil
		})
		if err != nil {
			return total, err
		}

		emit := make([]events.Event, 0, len(expired))
		for _, l := range expired {
			emit = append(emit, events.NewListingExpired(l, now))
		}
		events.Emit(ctx, s.pub, s.logger, emit...)
		total += len(expired)

		if len(expired) < s.expireBatch {
			return total, nil
		}
	}
}

// effective reports an unswept ACTIVE listing past its expiry as EXPIRED.
func effective(l *domain.Listing, now time.Time) *domain.Listing {
	if l.Status == domain.ListingActive && l.IsExpiredAt(now) {
		l.Status = domain.ListingExpired
	}
	return l
}

func lookupErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return fmt.Errorf("load %s: %w", what, err)
}
