package tokenization

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/directory"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/observability"
	"syndicate-ledger/internal/storage"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

// Params describes the token a syndicate issues.
type Params struct {
	Name          string
	Symbol        string
	PricePerToken decimal.Decimal
	TotalTokens   decimal.Decimal
}

func (p Params) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperr.Validation("token name is required")
	}
	if !symbolPattern.MatchString(p.Symbol) {
		return apperr.WithDetails(apperr.KindValidation, "token symbol must be 1-12 upper-case letters or digits",
			map[string]string{"symbol": p.Symbol})
	}
	if !p.PricePerToken.IsPositive() || !domain.IsTokenQuantity(p.PricePerToken) {
		return apperr.WithDetails(apperr.KindValidation, "price per token must be positive with at most 6 decimals",
			map[string]string{"price_per_token": p.PricePerToken.String()})
	}
	if !p.TotalTokens.IsPositive() || !domain.IsTokenQuantity(p.TotalTokens) {
		return apperr.Validation("total tokens must be positive with at most 6 decimals")
	}
	return nil
}

// Service configures tokenization of syndicates.
type Service struct {
	ledger storage.Ledger
	dir    directory.Directory
	now    func() time.Time
	logger *log.Logger
}

// Options contains configuration for creating a Service.
type Options struct {
	Ledger    storage.Ledger
	Directory directory.Directory
	Now       func() time.Time // Default: domain.Now
	Logger    *log.Logger
}

// NewService creates a tokenization service.
func NewService(opts Options) *Service {
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
		now:    now,
		logger: logger,
	}
}

// Configure turns on tokenization for a syndicate, or re-prices it while no
// listing or trade exists. Every membership is re-issued at the new price in
// the same transaction and tokens sold becomes the approved total.
func (s *Service) Configure(ctx context.Context, actor domain.Actor, syndicateID string, p Params) (_ *domain.Syndicate, err error) {
	ctx, done := observability.Track(ctx, "tokenization", "configure",
		attribute.String("syndicate.id", syndicateID))
	defer func() { done(&err) }()

	if err := p.validate(); err != nil {
		return nil, err
	}

	var out *domain.Syndicate
	err = s.ledger.InTx(ctx, func(tx storage.Tx) error {
		syn, err := tx.LockSyndicate(ctx, syndicateID)
		if err != nil {
			return lookupErr(err, "syndicate")
		}
		if err := directory.RequireManager(ctx, s.dir, actor, syn); err != nil {
			return err
		}
		if syn.Status == domain.SyndicateClosed {
			return apperr.State("syndicate is closed")
		}
		activity, err := tx.CountMarketActivity(ctx, syndicateID)
		if err != nil {
			return fmt.Errorf("count market activity: %w", err)
		}
		if activity > 0 {
			return apperr.Conflict("tokenization cannot change once listings or trades exist",
				map[string]string{"market_activity": fmt.Sprint(activity)})
		}

		members, err := tx.ListMemberships(ctx, syndicateID)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		now := s.now()
		sold := decimal.Zero
		for _, m := range members {
			m.Tokens, m.Dust = Issue(m.Amount, p.PricePerToken)
			m.UpdatedAt = now
			if m.IsApproved() {
				sold = sold.Add(m.Tokens)
			}
		}
		if sold.GreaterThan(p.TotalTokens) {
			return apperr.Conflict("approved memberships already exceed the token supply", map[string]string{
				"total_tokens": p.TotalTokens.String(),
				"tokens_sold":  sold.String(),
			})
		}
		for _, m := range members {
			if err := tx.UpdateMembership(ctx, m); err != nil {
				return fmt.Errorf("update membership %s: %w", m.InvestorID, err)
			}
		}

		syn.IsTokenized = true
		syn.TokenName = strings.TrimSpace(p.Name)
		syn.TokenSymbol = p.Symbol
		syn.PricePerToken = domain.DecimalPtr(p.PricePerToken)
		syn.TotalTokens = domain.DecimalPtr(p.TotalTokens)
		syn.TokensSold = sold
		syn.UpdatedAt = now
		if err := tx.UpdateSyndicate(ctx, syn); err != nil {
			return fmt.Errorf("update syndicate: %w", err)
		}
		out = syn
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("syndicate %s tokenized as %s: %s tokens at %s, %s sold",
		out.ID, out.TokenSymbol, out.TotalTokens, out.PricePerToken, out.TokensSold)
	return out, nil
}

func lookupErr(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound(what + " not found")
	}
	return fmt.Errorf("load %s: %w", what, err)
}
