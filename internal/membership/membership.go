// Package membership records investor capital contributions to syndicates
// and gates their approval against the syndicate's capital and token caps.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/directory"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/events"
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/storage"
	"syndicate-ledger/internal/tokenization"
)

// Service implements the membership ledger.
type Service struct {
	ledger storage.Ledger
	dir    directory.Directory
	pub    events.Publisher
	now    func() time.Time
	logger *log.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Ledger    storage.Ledger
	Directory directory.Directory
	Publisher events.Publisher // Default: events.Discard
	Now       func() time.Time // Default: domain.Now
	Logger    *log.Logger
}

// NewService creates a membership service.
func NewService(opts Options) *Service {
	pub := opts.Publisher
	if pub == nil {
		pub = events.Discard{}
	}
	now := opts.Now
	if now == nil {
		now = domain.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		ledger: opts.Ledger,
		dir:    opts.Directory,
		pub:    pub,
		now:    now,
		logger: logger,
	}
}

// Join commits amount of capital from the calling investor to a syndicate.
// A second join by the same investor tops up the existing membership.
// The lead investor is approved immediately; everyone else waits in PENDING.
func (s *Service) Join(ctx context.Context, actor domain.Actor, syndicateID string, amount decimal.Decimal) (_ *domain.Membership, err error) {
	ctx, done := observability.Track(ctx, "membership", "join",
		attribute.String("syndicate.id", syndicateID))
	defer func() { done(&err) }()

	if !amount.IsPositive() || !domain.IsMoney(amount) {
		return nil, apperr.Validation("amount must be a positive money value")
	}
	inv, err := directory.RequireInvestor(ctx, s.dir, actor)
	if err != nil {
		return nil, err
	}

	var (
		out  *domain.Membership
		emit []events.Event
	)
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		emit = nil
		syn, err := tx.LockSyndicate(ctx, syndicateID)
		if err != nil {
			return lookupErr(err, "syndicate")
		}
		if !syn.Status.AcceptsCapital() {
			return apperr.Conflict("syndicate is not accepting capital",
				map[string]string{"status": syn.Status.String()})
		}
		if err := checkTicket(syn, amount); err != nil {
			return err
		}

		totals, err := tx.SyndicateTotals(ctx, syndicateID)
		if err != nil {
			return fmt.Errorf("syndicate totals: %w", err)
		}
		if err := checkCapital(syn, totals.Raised, amount); err != nil {
			return err
		}

		var tokens, dust decimal.Decimal
		if syn.IsTokenized {
			tokens, dust = tokenization.Issue(amount, *syn.PricePerToken)
			if err := checkSupply(syn, tokens); err != nil {
				return err
			}
		}

		now := s.now()
		m, err := tx.LockMembership(ctx, syndicateID, inv.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			m = &domain.Membership{
				SyndicateID:   syndicateID,
				InvestorID:    inv.ID,
				Amount:        amount,
				PrimaryAmount: amount,
				Tokens:        tokens,
				Dust:          dust,
				Status:        domain.MembershipPending,
				JoinedAt:      now,
				UpdatedAt:     now,
			}
			if syn.IsLead(inv.ID) {
				m.Status = domain.MembershipApproved
				emit = append(emit, events.NewMembershipApproved(m, now))
			}
			if err := tx.InsertMembership(ctx, m); err != nil {
				return fmt.Errorf("insert membership: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load membership: %w", err)
		case m.Status == domain.MembershipRejected:
			return apperr.State("membership was rejected")
		default:
			m.Amount = m.Amount.Add(amount)
			m.PrimaryAmount = m.PrimaryAmount.Add(amount)
			m.Tokens = m.Tokens.Add(tokens)
			m.Dust = m.Dust.Add(dust)
			m.UpdatedAt = now
			if err := tx.UpdateMembership(ctx, m); err != nil {
				return fmt.Errorf("update membership: %w", err)
			}
		}

		if m.IsApproved() {
			ev, err := s.applyApproved(ctx, tx, syn, totals.Raised.Add(amount), tokens, now)
			if err != nil {
				return err
			}
			emit = append(emit, ev...)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("investor %s joined syndicate %s with %s (%s)", inv.ID, syndicateID, amount, out.Status)
	events.Emit(ctx, s.pub, s.logger, emit...)
	return out, nil
}

// Approve admits a PENDING membership. Approving an APPROVED membership
// returns it unchanged. The capital and token caps are re-checked because
// several pending joins may each have fit on their own.
func (s *Service) Approve(ctx context.Context, actor domain.Actor, syndicateID, investorID string) (_ *domain.Membership, err error) {
	ctx, done := observability.Track(ctx, "membership", "approve",
		attribute.String("syndicate.id", syndicateID))
	defer func() { done(&err) }()

	var (
		out  *domain.Membership
		emit []events.Event
	)
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		emit = nil
		syn, err := tx.LockSyndicate(ctx, syndicateID)
		if err != nil {
			return lookupErr(err, "syndicate")
		}
		if err := directory.RequireManager(ctx, s.dir, actor, syn); err != nil {
			return err
		}
		m, err := tx.LockMembership(ctx, syndicateID, investorID)
		if err != nil {
			return lookupErr(err, "membership")
		}
		switch m.Status {
		case domain.MembershipApproved:
			out = m
			return nil
		case domain.MembershipRejected:
			return apperr.State("membership was rejected")
		}
		if syn.Status == domain.SyndicateClosed {
			return apperr.State("syndicate is closed")
		}

		totals, err := tx.SyndicateTotals(ctx, syndicateID)
		if err != nil {
			return fmt.Errorf("syndicate totals: %w", err)
		}
		if err := checkCapital(syn, totals.Raised, m.PrimaryAmount); err != nil {
			return err
		}
		if syn.IsTokenized {
			if err := checkSupply(syn, m.Tokens); err != nil {
				return err
			}
		}

		now := s.now()
		m.Status = domain.MembershipApproved
		m.UpdatedAt = now
		if err := tx.UpdateMembership(ctx, m); err != nil {
			return fmt.Errorf("update membership: %w", err)
		}
		emit = append(emit, events.NewMembershipApproved(m, now))

		ev, err := s.applyApproved(ctx, tx, syn, totals.Raised.Add(m.PrimaryAmount), m.Tokens, now)
		if err != nil {
			return err
		}
		emit = append(emit, ev...)
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	events.Emit(ctx, s.pub, s.logger, emit...)
	return out, nil
}

// Reject declines a PENDING membership. Rejecting twice is a no-op.
func (s *Service) Reject(ctx context.Context, actor domain.Actor, syndicateID, investorID string) (_ *domain.Membership, err error) {
	ctx, done := observability.Track(ctx, "membership", "reject",
		attribute.String("syndicate.id", syndicateID))
	defer func() { done(&err) }()

	var out *domain.Membership
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		syn, err := tx.LockSyndicate(ctx, syndicateID)
		if err != nil {
			return lookupErr(err, "syndicate")
		}
		if err := directory.RequireManager(ctx, s.dir, actor, syn); err != nil {
			return err
		}
		m, err := tx.LockMembership(ctx, syndicateID, investorID)
		if err != nil {
			return lookupErr(err, "membership")
		}
		switch m.Status {
		case domain.MembershipRejected:
			out = m
			return nil
		case domain.MembershipApproved:
			return apperr.State("approved memberships cannot be rejected")
		}
		m.Status = domain.MembershipRejected
		m.UpdatedAt = s.now()
		if err := tx.UpdateMembership(ctx, m); err != nil {
			return fmt.Errorf("update membership: %w", err)
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("membership %s/%s rejected", syndicateID, investorID)
	return out, nil
}

// ListMembers returns a syndicate's memberships in join order.
func (s *Service) ListMembers(ctx context.Context, syndicateID string) (_ []*domain.Membership, err error) {
	ctx, done := observability.Track(ctx, "membership", "list_members")
	defer func() { done(&err) }()

	if _, err := s.ledger.GetSyndicate(ctx, syndicateID); err != nil {
		return nil, lookupErr(err, "syndicate")
	}
	members, err := s.ledger.ListMemberships(ctx, syndicateID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return members, nil
}

// GetMembership returns one investor's membership.
func (s *Service) GetMembership(ctx context.Context, syndicateID, investorID string) (*domain.Membership, error) {
	m, err := s.ledger.GetMembership(ctx, syndicateID, investorID)
	if err != nil {
		return nil, lookupErr(err, "membership")
	}
	return m, nil
}

// applyApproved books tokens into the sold supply and moves the syndicate
// to FUNDED once raised reaches the target.
func (s *Service) applyApproved(ctx context.Context, tx storage.Tx, syn *domain.Syndicate, raised, tokens decimal.Decimal, now time.Time) ([]events.Event, error) {
	var emit []events.Event
	changed := false
	if syn.IsTokenized && tokens.IsPositive() {
		syn.TokensSold = syn.TokensSold.Add(tokens)
		changed = true
	}
	if syn.Status.AcceptsCapital() && raised.GreaterThanOrEqual(syn.TargetAmount) {
		syn.Status = domain.SyndicateFunded
		changed = true
		emit = append(emit, events.NewSyndicateFunded(syn, raised, now))
		s.logger.Printf("syndicate %s funded: raised %s of %s", syn.ID, raised, syn.TargetAmount)
	}
	if !changed {
		return nil, nil
	}
	syn.UpdatedAt = now
	if err := tx.UpdateSyndicate(ctx, syn); err != nil {
		return nil, fmt.Errorf("update syndicate: %w", err)
	}
	return emit, nil
}

func checkTicket(syn *domain.Syndicate, amount decimal.Decimal) error {
	if amount.LessThan(syn.MinInvestment) {
		return apperr.WithDetails(apperr.KindValidation, "amount is below the minimum investment", map[string]string{
			"min_investment": syn.MinInvestment.String(),
			"requested":      amount.String(),
		})
	}
	if syn.MaxInvestment != nil && amount.GreaterThan(*syn.MaxInvestment) {
		return apperr.WithDetails(apperr.KindValidation, "amount is above the maximum investment", map[string]string{
			"max_investment": syn.MaxInvestment.String(),
			"requested":      amount.String(),
		})
	}
	return nil
}

func checkCapital(syn *domain.Syndicate, raised, amount decimal.Decimal) error {
	if raised.Add(amount).GreaterThan(syn.TargetAmount) {
		return apperr.Conflict("amount exceeds the remaining capital", map[string]string{
			"target":    syn.TargetAmount.String(),
			"raised":    raised.String(),
			"remaining": syn.TargetAmount.Sub(raised).String(),
			"requested": amount.String(),
		})
	}
	return nil
}

func checkSupply(syn *domain.Syndicate, tokens decimal.Decimal) error {
	if syn.TokensSold.Add(tokens).GreaterThan(*syn.TotalTokens) {
		return apperr.Conflict("not enough tokens remaining", map[string]string{
			"total_tokens": syn.TotalTokens.String(),
			"tokens_sold":  syn.TokensSold.String(),
			"remaining":    syn.RemainingTokens().String(),
			"requested":    tokens.String(),
		})
	}
	return nil
}

func lookupErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return fmt.Errorf("load %s: %w", what, err)
}
