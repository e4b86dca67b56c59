package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/apperr"
	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/market"
	"syndicate-ledger/internal/registry"
	"syndicate-ledger/internal/storage"
	"syndicate-ledger/internal/tokenization"
)

// POST /api/v1/syndicates
func (s *Server) createSyndicate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string           `json:"name"`
		Description      string           `json:"description"`
		TargetAmount     decimal.Decimal  `json:"target_amount"`
		MinInvestment    *decimal.Decimal `json:"min_investment"`
		MaxInvestment    *decimal.Decimal `json:"max_investment"`
		ManagementFeePct *decimal.Decimal `json:"management_fee_pct"`
		CarryFeePct      *decimal.Decimal `json:"carry_fee_pct"`
		DealID           *string          `json:"deal_id"`
		ClosingDate      *time.Time       `json:"closing_date"`
	}
	actor, err := actorFrom(r.Context())
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	v, err := s.registry.CreateSyndicate(r.Context(), actor, registry.CreateParams{
		Name:             req.Name,
		Description:      req.Description,
		TargetAmount:     req.TargetAmount,
		MinInvestment:    req.MinInvestment,
		MaxInvestment:    req.MaxInvestment,
		ManagementFeePct: req.ManagementFeePct,
		CarryFeePct:      req.CarryFeePct,
		DealID:           req.DealID,
		ClosingDate:      req.ClosingDate,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSyndicateJSON(v))
}

// GET /api/v1/syndicates?status=&lead_investor_id=&limit=&offset=
func (s *Server) listSyndicates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.SyndicateFilter{LeadInvestorID: q.Get("lead_investor_id")}
	if raw := q.Get("status"); raw != "" {
		st, err := domain.ParseSyndicateStatus(raw)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "invalid status", err))
			return
		}
		f.Status = st
	}
	var err error
	if f.Limit, err = queryInt(r, "limit"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset"); err != nil {
		s.writeError(w, r, err)
		return
	}

	views, err := s.registry.ListSyndicates(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]syndicateJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toSyndicateJSON(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/syndicates/{syndicateID}
func (s *Server) getSyndicate(w http.ResponseWriter, r *http.Request) {
	v, err := s.registry.GetSyndicate(r.Context(), chi.URLParam(r, "syndicateID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyndicateJSON(v))
}

func (s *Server) openSyndicate(w http.ResponseWriter, r *http.Request) {
	s.syndicateTransition(w, r, s.registry.OpenSyndicate)
}

func (s *Server) closeSyndicate(w http.ResponseWriter, r *http.Request) {
	s.syndicateTransition(w, r, s.registry.CloseSyndicate)
}

func (s *Server) syndicateTransition(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actor domain.Actor, id string) (*registry.SyndicateView, error)) {
	actor, err := actorFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := fn(r.Context(), actor, chi.URLParam(r, "syndicateID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyndicateJSON(v))
}

// GET /api/v1/overview
func (s *Server) overview(w http.ResponseWriter, r *http.Request) {
	ov, err := s.registry.OverviewStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOverviewJSON(ov))
}

// POST /api/v1/syndicates/{syndicateID}/join
func (s *Server) join(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	actor, err := actorFrom(r.Context())
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := s.members.Join(r.Context(), actor, chi.URLParam(r, "syndicateID"), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMembershipJSON(m))
}

// GET /api/v1/syndicates/{syndicateID}/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.members.ListMembers(r.Context(), chi.URLParam(r, "syndicateID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]membershipJSON, 0, len(members))
	for _, m := range members {
		out = append(out, toMembershipJSON(m))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/syndicates/{syndicateID}/members/{investorID}
func (s *Server) getMembership(w http.ResponseWriter, r *http.Request) {
	m, err := s.members.GetMembership(r.Context(), chi.URLParam(r, "syndicateID"), chi.URLParam(r, "investorID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMembershipJSON(m))
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	s.membershipDecision(w, r, s.members.Approve)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	s.membershipDecision(w, r, s.members.Reject)
}

func (s *Server) membershipDecision(w http.ResponseWriter, r *http.Request,
	fn func(ctx context.Context, actor domain.Actor, syndicateID, investorID string) (*domain.Membership, error)) {
	actor, err := actorFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := fn(r.Context(), actor, chi.URLParam(r, "syndicateID"), chi.URLParam(r, "investorID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMembershipJSON(m))
}

// POST /api/v1/syndicates/{syndicateID}/tokenization
func (s *Server) configureTokenization(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string          `json:"name"`
		Symbol        string          `json:"symbol"`
		PricePerToken decimal.Decimal `json:"price_per_token"`
		TotalTokens   decimal.Decimal `json:"total_tokens"`
	}
	actor, err := actorFrom(r.Context())
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "syndicateID")
	_, err = s.tokenization.Configure(r.Context(), actor, id, tokenization.Params{
		Name:          req.Name,
		Symbol:        req.Symbol,
		PricePerToken: req.PricePerToken,
		TotalTokens:   req.TotalTokens,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.registry.GetSyndicate(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyndicateJSON(v))
}

// POST /api/v1/syndicates/{syndicateID}/listings
func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokensAvailable decimal.Decimal `json:"tokens_available"`
		PricePerToken   decimal.Decimal `json:"price_per_token"`
		MinTokens       decimal.Decimal `json:"min_tokens"`
		ExpiresAt       *time.Time      `json:"expires_at"`
	}
	actor, err := actorFrom(r.Context())
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.market.CreateListing(r.Context(), actor, chi.URLParam(r, "syndicateID"), market.ListingParams{
		TokensAvailable: req.TokensAvailable,
		PricePerToken:   req.PricePerToken,
		MinTokens:       req.MinTokens,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toListingJSON(l))
}

// GET /api/v1/listings?syndicate_id=&seller_id=&status=
func (s *Server) listListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.ListingFilter{SyndicateID: q.Get("syndicate_id"), SellerID: q.Get("seller_id")}
	if raw := q.Get("status"); raw != "" {
		st, err := domain.ParseListingStatus(raw)
		if err != nil {
			s.writeError(w, r, apperr.Wrap(apperr.KindValidation, "invalid status", err))
			return
		}
		f.Status = st
	}
	listings, err := s.market.ListListings(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingJSON(l))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/listings/{listingID}
func (s *Server) getListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.market.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingJSON(l))
}

// POST /api/v1/listings/{listingID}/cancel
func (s *Server) cancelListing(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	l, err := s.market.CancelListing(r.Context(), actor, chi.URLParam(r, "listingID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingJSON(l))
}

// POST /api/v1/admin/expire-listings
func (s *Server) expireListings(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r.Context())
	if err == nil {
		err = requireAdmin(actor)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.market.ExpireListings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// POST /api/v1/listings/{listingID}/buy
func (s *Server) buy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tokens decimal.Decimal `json:"tokens"`
	}
	actor, err := actorFrom(r.Context())
	if err == nil {
		err = decode(r, &req)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	t, err := s.trading.Buy(r.Context(), actor, chi.URLParam(r, "listingID"), req.Tokens)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTradeJSON(t))
}

// GET /api/v1/trades/mine
func (s *Server) listMyTrades(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views, err := s.trading.ListMyTrades(r.Context(), actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]tradeJSON, 0, len(views))
	for _, v := range views {
		out = append(out, toTradeViewJSON(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/trades/{tradeID}
func (s *Server) getTrade(w http.ResponseWriter, r *http.Request) {
	t, err := s.trading.GetTrade(r.Context(), chi.URLParam(r, "tradeID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTradeJSON(t))
}

// GET /api/v1/syndicates/{syndicateID}/volume?from=&to=
// from and to are RFC 3339 dates; the window defaults to the last 30 days.
func (s *Server) volume(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, r, apperr.NotFound("trade analytics are not configured"))
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -30)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeError(w, r, apperr.Validation("from must be an RFC 3339 timestamp"))
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			s.writeError(w, r, apperr.Validation("to must be an RFC 3339 timestamp"))
			return
		}
	}
	if !from.Before(to) {
		s.writeError(w, r, apperr.Validation("from must be before to"))
		return
	}

	days, err := s.history.VolumeBySyndicate(r.Context(), chi.URLParam(r, "syndicateID"), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]dailyVolumeJSON, 0, len(days))
	for _, d := range days {
		out = append(out, dailyVolumeJSON{
			Day:         d.Day.Format(time.DateOnly),
			Trades:      d.Trades,
			Tokens:      d.Tokens,
			TotalAmount: d.TotalAmount,
			Fees:        d.Fees,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
