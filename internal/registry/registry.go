// Package registry manages the syndicate lifecycle and its capital terms.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/directory"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/storage"
)

// Defaults applied to omitted syndicate terms.
var (
	DefaultMinInvestment    = decimal.NewFromInt(1000)
	DefaultManagementFeePct = decimal.NewFromInt(2)
	DefaultCarryFeePct      = decimal.NewFromInt(20)
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

var hundred = decimal.NewFromInt(100)

// CreateParams describes a new syndicate. Nil pointers take defaults.
type CreateParams struct {
	Name             string
	Description      string
	TargetAmount     decimal.Decimal
	MinInvestment    *decimal.Decimal
	MaxInvestment    *decimal.Decimal
	ManagementFeePct *decimal.Decimal
	CarryFeePct      *decimal.Decimal
	DealID           *string
	ClosingDate      *time.Time
}

// SyndicateView is a syndicate with its approved-capital figures.
type SyndicateView struct {
	*domain.Syndicate
	RaisedAmount decimal.Decimal
	MemberCount  int
	Progress     int // percent of target raised, rounded
}

// Progress returns round(raised / target * 100).
func Progress(raised, target decimal.Decimal) int {
	if !target.IsPositive() {
		return 0
	}
	return int(raised.Mul(hundred).Div(target).Round(0).IntPart())
}

// Service implements the syndicate registry.
type Service struct {
	ledger storage.Ledger
	dir    directory.Directory
	now    func() time.Time
	newID  func() string
	logger *log.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Ledger    storage.Ledger
	Directory directory.Directory
	Now       func() time.Time // Default: domain.Now
	NewID     func() string    // Default: uuid.NewString
	Logger    *log.Logger
}

// NewService creates a registry service.
func NewService(opts Options) *Service {
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
		ledger: opts.Ledger,
		dir:    opts.Directory,
		now:    now,
		newID:  newID,
		logger: logger,
	}
}

// CreateSyndicate registers a syndicate in FORMING led by the calling investor.
func (s *Service) CreateSyndicate(ctx context.Context, actor domain.Actor, p CreateParams) (_ *SyndicateView, err error) {
	ctx, done := observability.Track(ctx, "registry", "create_syndicate")
	defer func() { done(&err) }()

	inv, err := directory.RequireInvestor(ctx, s.dir, actor)
	if err != nil {
		return nil, err
	}
	syn, err := s.build(inv.ID, p)
	if err != nil {
		return nil, err
	}

	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.InsertSyndicate(ctx, syn); err != nil {
			return fmt.Errorf("insert syndicate: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("syndicate %s created by %s: target %s", syn.ID, inv.ID, syn.TargetAmount)
	return &SyndicateView{Syndicate: syn, RaisedAmount: decimal.Zero}, nil
}

func (s *Service) build(leadID string, p CreateParams) (*domain.Syndicate, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return nil, apperr.Validation("name is required")
	}
	if !p.TargetAmount.IsPositive() || !domain.IsMoney(p.TargetAmount) {
		return nil, apperr.Validation("target amount must be a positive money value")
	}

	minInv := valueOr(p.MinInvestment, DefaultMinInvestment)
	if !minInv.IsPositive() || !domain.IsMoney(minInv) {
		return nil, apperr.Validation("minimum investment must be a positive money value")
	}
	if p.MaxInvestment != nil {
		if !domain.IsMoney(*p.MaxInvestment) || p.MaxInvestment.LessThan(minInv) {
			return nil, apperr.WithDetails(apperr.KindValidation, "maximum investment must not be below the minimum",
				map[string]string{"min_investment": minInv.String(), "max_investment": p.MaxInvestment.String()})
		}
	}
	mgmt := valueOr(p.ManagementFeePct, DefaultManagementFeePct)
	carry := valueOr(p.CarryFeePct, DefaultCarryFeePct)
	if !isPct(mgmt) || !isPct(carry) {
		return nil, apperr.Validation("fee percentages must be between 0 and 100 with at most 2 decimals")
	}

	now := s.now()
	syn := &domain.Syndicate{
		ID:               s.newID(),
		Name:             name,
		Description:      p.Description,
		LeadInvestorID:   leadID,
		TargetAmount:     p.TargetAmount,
		MinInvestment:    minInv,
		ManagementFeePct: mgmt,
		CarryFeePct:      carry,
		Status:           domain.SyndicateForming,
		TokensSold:       decimal.Zero,
		DealID:           p.DealID,
		ClosingDate:      p.ClosingDate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.MaxInvestment != nil {
		syn.MaxInvestment = domain.DecimalPtr(*p.MaxInvestment)
	}
	return syn, nil
}

// GetSyndicate returns one syndicate with its raised capital.
func (s *Service) GetSyndicate(ctx context.Context, id string) (_ *SyndicateView, err error) {
	ctx, done := observability.Track(ctx, "registry", "get_syndicate", attribute.String("syndicate.id", id))
	defer func() { done(&err) }()

	syn, err := s.ledger.GetSyndicate(ctx, id)
	if err != nil {
		return nil, lookupErr(err, "syndicate")
	}
	return s.view(ctx, syn)
}

// ListSyndicates returns syndicates newest first.
func (s *Service) ListSyndicates(ctx context.Context, f storage.SyndicateFilter) (_ []*SyndicateView, err error) {
	ctx, done := observability.Track(ctx, "registry", "list_syndicates")
	defer func() { done(&err) }()

	if f.Status != "" && !f.Status.IsValid() {
		return nil, apperr.Validation(fmt.Sprintf("unknown status %q", f.Status))
	}
	if f.Limit < 0 || f.Limit > maxPageSize || f.Offset < 0 {
		return nil, apperr.Validation(fmt.Sprintf("limit must be within 0..%d and offset non-negative", maxPageSize))
	}
	if f.Limit == 0 {
		f.Limit = defaultPageSize
	}

	syns, err := s.ledger.ListSyndicates(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list syndicates: %w", err)
	}
	views := make([]*SyndicateView, 0, len(syns))
	for _, syn := range syns {
		v, err := s.view(ctx, syn)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// RaisedAmount returns approved primary capital of a syndicate.
func (s *Service) RaisedAmount(ctx context.Context, id string) (decimal.Decimal, error) {
	if _, err := s.ledger.GetSyndicate(ctx, id); err != nil {
		return decimal.Zero, lookupErr(err, "syndicate")
	}
	totals, err := s.ledger.SyndicateTotals(ctx, id)
	if err != nil {
		return decimal.Zero, fmt.Errorf("syndicate totals: %w", err)
	}
	return totals.Raised, nil
}

// OpenSyndicate moves a FORMING syndicate to OPEN.
func (s *Service) OpenSyndicate(ctx context.Context, actor domain.Actor, id string) (*SyndicateView, error) {
	return s.transition(ctx, actor, id, "open_syndicate", func(syn *domain.Syndicate) error {
		if syn.Status != domain.SyndicateForming {
			return apperr.State(fmt.Sprintf("cannot open a %s syndicate", syn.Status))
		}
		syn.Status = domain.SyndicateOpen
		return nil
	})
}

// CloseSyndicate closes a syndicate for good.
func (s *Service) CloseSyndicate(ctx context.Context, actor domain.Actor, id string) (*SyndicateView, error) {
	return s.transition(ctx, actor, id, "close_syndicate", func(syn *domain.Syndicate) error {
		if syn.Status == domain.SyndicateClosed {
			return apperr.State("syndicate is already closed")
		}
		syn.Status = domain.SyndicateClosed
		return nil
	})
}

func (s *Service) transition(ctx context.Context, actor domain.Actor, id, op string, apply func(*domain.Syndicate) error) (_ *SyndicateView, err error) {
	ctx, done := observability.Track(ctx, "registry", op, attribute.String("syndicate.id", id))
	defer func() { done(&err) }()

	var out *domain.Syndicate
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		syn, err := tx.LockSyndicate(ctx, id)
		if err != nil {
			return lookupErr(err, "syndicate")
		}
		if err := directory.RequireManager(ctx, s.dir, actor, syn); err != nil {
			return err
		}
		if err := apply(syn); err != nil {
			return err
		}
		syn.UpdatedAt = s.now()
		if err := tx.UpdateSyndicate(ctx, syn); err != nil {
			return fmt.Errorf("update syndicate: %w", err)
		}
		out = syn
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("syndicate %s is now %s", out.ID, out.Status)
	return s.view(ctx, out)
}

// OverviewStats aggregates every syndicate on the platform.
func (s *Service) OverviewStats(ctx context.Context) (_ storage.Overview, err error) {
	ctx, done := observability.Track(ctx, "registry", "overview_stats")
	defer func() { done(&err) }()

	ov, err := s.ledger.Overview(ctx)
	if err != nil {
		return storage.Overview{}, fmt.Errorf("overview: %w", err)
	}
	return ov, nil
}

func (s *Service) view(ctx context.Context, syn *domain.Syndicate) (*SyndicateView, error) {
	totals, err := s.ledger.SyndicateTotals(ctx, syn.ID)
	if err != nil {
		return nil, fmt.Errorf("syndicate totals: %w", err)
	}
	return &SyndicateView{
		Syndicate:    syn,
		RaisedAmount: totals.Raised,
		MemberCount:  totals.MemberCount,
		Progress:     Progress(totals.Raised, syn.TargetAmount),
	}, nil
}

func valueOr(p *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if p == nil {
		return def
	}
	return *p
}

func isPct(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(hundred) && domain.IsMoney(d)
}

func lookupErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return fmt.Errorf("load %s: %w", what, err)
}
