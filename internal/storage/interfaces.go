package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
)

// SyndicateFilter narrows ListSyndicates. Zero values match everything.
type SyndicateFilter struct {
	Status         domain.SyndicateStatus
	LeadInvestorID string
	Limit          int
	Offset         int
}

// ListingFilter narrows ListListings. Zero values match everything.
type ListingFilter struct {
	SyndicateID string
	SellerID    string
	Status      domain.ListingStatus
}

// SyndicateTotals is the APPROVED-membership aggregate of one syndicate.
type SyndicateTotals struct {
	Raised      decimal.Decimal // sum of PrimaryAmount
	MemberCount int
}

// Overview is the platform-wide syndicate aggregate.
type Overview struct {
	ByStatus    map[domain.SyndicateStatus]int
	Total       int
	TotalRaised decimal.Decimal
	TotalTarget decimal.Decimal
}

// Reader exposes ledger state. Outside a transaction it reads committed data.
type Reader interface {
	// GetSyndicate returns ErrNotFound if the syndicate does not exist.
	GetSyndicate(ctx context.Context, id string) (*domain.Syndicate, error)

	// ListSyndicates returns syndicates ordered by created_at DESC.
	ListSyndicates(ctx context.Context, f SyndicateFilter) ([]*domain.Syndicate, error)

	// SyndicateTotals aggregates APPROVED memberships of a syndicate.
	SyndicateTotals(ctx context.Context, syndicateID string) (SyndicateTotals, error)

	// GetMembership returns ErrNotFound if the investor never joined.
	GetMembership(ctx context.Context, syndicateID, investorID string) (*domain.Membership, error)

	// ListMemberships returns a syndicate's memberships ordered by joined_at ASC.
	ListMemberships(ctx context.Context, syndicateID string) ([]*domain.Membership, error)

	// GetListing returns ErrNotFound if the listing does not exist.
	GetListing(ctx context.Context, id string) (*domain.Listing, error)

	// ListListings returns listings ordered by listed_at DESC.
	ListListings(ctx context.Context, f ListingFilter) ([]*domain.Listing, error)

	// GetTrade returns ErrNotFound if the trade does not exist.
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)

	// ListTradesByInvestor returns trades where the investor is buyer or
	// seller, ordered by executed_at DESC.
	ListTradesByInvestor(ctx context.Context, investorID string) ([]*domain.Trade, error)

	// Overview aggregates all syndicates.
	Overview(ctx context.Context) (Overview, error)
}

// Tx is a unit of work. Lock* methods hold the row until the transaction
// ends. Callers lock syndicate, then listing, then memberships in
// investor ID order.
type Tx interface {
	Reader

	LockSyndicate(ctx context.Context, id string) (*domain.Syndicate, error)
	LockListing(ctx context.Context, id string) (*domain.Listing, error)
	LockMembership(ctx context.Context, syndicateID, investorID string) (*domain.Membership, error)

	InsertSyndicate(ctx context.Context, s *domain.Syndicate) error
	UpdateSyndicate(ctx context.Context, s *domain.Syndicate) error
	InsertMembership(ctx context.Context, m *domain.Membership) error
	UpdateMembership(ctx context.Context, m *domain.Membership) error
	InsertListing(ctx context.Context, l *domain.Listing) error
	UpdateListing(ctx context.Context, l *domain.Listing) error
	InsertTrade(ctx context.Context, t *domain.Trade) error

	// LockedTokens sums tokens_available over the seller's ACTIVE listings
	// in a syndicate that have not expired at now.
	LockedTokens(ctx context.Context, syndicateID, sellerID string, now time.Time) (decimal.Decimal, error)

	// CountMarketActivity counts listings plus trades of a syndicate.
	CountMarketActivity(ctx context.Context, syndicateID string) (int, error)

	// LockExpiredListings locks up to limit ACTIVE listings whose expiry is
	// at or before now. Rows locked by other transactions are skipped.
	LockExpiredListings(ctx context.Context, now time.Time, limit int) ([]*domain.Listing, error)
}

// Ledger is the transactional store behind every ledger service.
type Ledger interface {
	Reader

	// InTx runs fn in one transaction. Any error from fn rolls back every
	// write made through tx. fn may be invoked again when the backend
	// retries a serialization failure, so it must not have side effects
	// outside tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// DailyVolume is one day of secondary-market activity for a syndicate.
type DailyVolume struct {
	Day         time.Time
	Trades      uint64
	Tokens      decimal.Decimal
	TotalAmount decimal.Decimal
	Fees        decimal.Decimal
}

// TradeHistoryStore is the append-only analytics copy of executed trades.
type TradeHistoryStore interface {
	// InsertTrades appends trades. Duplicates by trade ID are ignored.
	InsertTrades(ctx context.Context, trades []*domain.Trade) error

	// VolumeBySyndicate aggregates trades per UTC day within [from, to), ordered by day ASC.
	VolumeBySyndicate(ctx context.Context, syndicateID string, from, to time.Time) ([]DailyVolume, error)
}
