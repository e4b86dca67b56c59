// Package events carries ledger state changes to external consumers.
// Events are published only after the originating transaction commits.
package events

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
)

// Type names an event.
type Type string

const (
	MembershipApproved Type = "membership.approved"
	TradeCompleted     Type = "trade.completed"
	ListingExpired     Type = "listing.expired"
	SyndicateFunded    Type = "syndicate.funded"
)

// Event is the envelope published to every sink. Exactly one payload is set.
type Event struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	SyndicateID string    `json:"syndicate_id"`

	Membership *MembershipPayload `json:"membership,omitempty"`
	Trade      *TradePayload      `json:"trade,omitempty"`
	Listing    *ListingPayload    `json:"listing,omitempty"`
	Syndicate  *SyndicatePayload  `json:"syndicate,omitempty"`
}

type MembershipPayload struct {
	InvestorID string          `json:"investor_id"`
	Amount     decimal.Decimal `json:"amount"`
	Tokens     decimal.Decimal `json:"tokens"`
	Status     string          `json:"status"`
}

type TradePayload struct {
	TradeID       string          `json:"trade_id"`
	Reference     string          `json:"reference"`
	ListingID     string          `json:"listing_id"`
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	Tokens        decimal.Decimal `json:"tokens"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Fee           decimal.Decimal `json:"fee"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

type ListingPayload struct {
	ListingID       string          `json:"listing_id"`
	SellerID        string          `json:"seller_id"`
	TokensAvailable decimal.Decimal `json:"tokens_available"`
	Status          string          `json:"status"`
}

type SyndicatePayload struct {
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	TargetAmount decimal.Decimal `json:"target_amount"`
	Raised       decimal.Decimal `json:"raised"`
}

func newEvent(t Type, syndicateID string, at time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		OccurredAt:  at.UTC(),
		SyndicateID: syndicateID,
	}
}

// NewMembershipApproved builds a membership.approved event.
func NewMembershipApproved(m *domain.Membership, at time.Time) Event {
	e := newEvent(MembershipApproved, m.SyndicateID, at)
	e.Membership = &MembershipPayload{
		InvestorID: m.InvestorID,
		Amount:     m.Amount,
		Tokens:     m.Tokens,
		Status:     string(m.Status),
	}
	return e
}

// NewTradeCompleted builds a trade.completed event.
func NewTradeCompleted(t *domain.Trade) Event {
	e := newEvent(TradeCompleted, t.SyndicateID, t.ExecutedAt)
	e.Trade = &TradePayload{
		TradeID:       t.ID,
		Reference:     t.Reference,
		ListingID:     t.ListingID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		Tokens:        t.Tokens,
		PricePerToken: t.PricePerToken,
		TotalAmount:   t.TotalAmount,
		Fee:           t.Fee,
		ExecutedAt:    t.ExecutedAt.UTC(),
	}
	return e
}

// NewListingExpired builds a listing.expired event.
func NewListingExpired(l *domain.Listing, at time.Time) Event {
	e := newEvent(ListingExpired, l.SyndicateID, at)
	e.Listing = &ListingPayload{
		ListingID:       l.ID,
		SellerID:        l.SellerID,
		TokensAvailable: l.TokensAvailable,
		Status:          string(l.Status),
	}
	return e
}

// NewSyndicateFunded builds a syndicate.funded event.
func NewSyndicateFunded(s *domain.Syndicate, raised decimal.Decimal, at time.Time) Event {
	e := newEvent(SyndicateFunded, s.ID, at)
	e.Syndicate = &SyndicatePayload{
		Name:         s.Name,
		Status:       string(s.Status),
		TargetAmount: s.TargetAmount,
		Raised:       raised,
	}
	return e
}

// TradeFromPayload rebuilds the trade carried by a trade.completed event.
func TradeFromPayload(e Event) (*domain.Trade, bool) {
	if e.Type != TradeCompleted || e.Trade == nil {
		return nil, false
	}
	p := e.Trade
	return &domain.Trade{
		ID:            p.TradeID,
		Reference:     p.Reference,
		ListingID:     p.ListingID,
		SyndicateID:   e.SyndicateID,
		BuyerID:       p.BuyerID,
		SellerID:      p.SellerID,
		Tokens:        p.Tokens,
		PricePerToken: p.PricePerToken,
		TotalAmount:   p.TotalAmount,
		Fee:           p.Fee,
		Status:        domain.TradeCompleted,
		ExecutedAt:    p.ExecutedAt,
	}, true
}

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Emit publishes committed events. Delivery failures are logged, never
// returned: the ledger change has already been committed.
func Emit(ctx context.Context, pub Publisher, logger *log.Logger, evs ...Event) {
	if pub == nil {
		return
	}
	for _, e := range evs {
		if err := pub.Publish(ctx, e); err != nil && logger != nil {
			logger.Printf("publish %s for syndicate %s: %v", e.Type, e.SyndicateID, err)
		}
	}
}
