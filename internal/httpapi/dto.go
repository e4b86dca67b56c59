package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
	"syndicate-ledger/internal/registry"
	"syndicate-ledger/internal/storage"
	"syndicate-ledger/internal/trading"
)

type syndicateJSON struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	LeadInvestorID   string           `json:"lead_investor_id"`
	TargetAmount     decimal.Decimal  `json:"target_amount"`
	MinInvestment    decimal.Decimal  `json:"min_investment"`
	MaxInvestment    *decimal.Decimal `json:"max_investment,omitempty"`
	ManagementFeePct decimal.Decimal  `json:"management_fee_pct"`
	CarryFeePct      decimal.Decimal  `json:"carry_fee_pct"`
	Status           string           `json:"status"`
	IsTokenized      bool             `json:"is_tokenized"`
	TokenName        string           `json:"token_name,omitempty"`
	TokenSymbol      string           `json:"token_symbol,omitempty"`
	PricePerToken    *decimal.Decimal `json:"price_per_token,omitempty"`
	TotalTokens      *decimal.Decimal `json:"total_tokens,omitempty"`
	TokensSold       decimal.Decimal  `json:"tokens_sold"`
	DealID           *string          `json:"deal_id,omitempty"`
	ClosingDate      *time.Time       `json:"closing_date,omitempty"`
	RaisedAmount     decimal.Decimal  `json:"raised_amount"`
	MemberCount      int              `json:"member_count"`
	Progress         int              `json:"progress"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

func toSyndicateJSON(v *registry.SyndicateView) syndicateJSON {
	s := v.Syndicate
	return syndicateJSON{
		ID:               s.ID,
		Name:             s.Name,
		Description:      s.Description,
		LeadInvestorID:   s.LeadInvestorID,
		TargetAmount:     s.TargetAmount,
		MinInvestment:    s.MinInvestment,
		MaxInvestment:    s.MaxInvestment,
		ManagementFeePct: s.ManagementFeePct,
		CarryFeePct:      s.CarryFeePct,
		Status:           s.Status.String(),
		IsTokenized:      s.IsTokenized,
		TokenName:        s.TokenName,
		TokenSymbol:      s.TokenSymbol,
		PricePerToken:    s.PricePerToken,
		TotalTokens:      s.TotalTokens,
		TokensSold:       s.TokensSold,
		DealID:           s.DealID,
		ClosingDate:      s.ClosingDate,
		RaisedAmount:     v.RaisedAmount,
		MemberCount:      v.MemberCount,
		Progress:         v.Progress,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

type membershipJSON struct {
	SyndicateID   string          `json:"syndicate_id"`
	InvestorID    string          `json:"investor_id"`
	Amount        decimal.Decimal `json:"amount"`
	PrimaryAmount decimal.Decimal `json:"primary_amount"`
	Tokens        decimal.Decimal `json:"tokens"`
	Dust          decimal.Decimal `json:"dust"`
	Status        string          `json:"status"`
	JoinedAt      time.Time       `json:"joined_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func toMembershipJSON(m *domain.Membership) membershipJSON {
	return membershipJSON{
		SyndicateID:   m.SyndicateID,
		InvestorID:    m.InvestorID,
		Amount:        m.Amount,
		PrimaryAmount: m.PrimaryAmount,
		Tokens:        m.Tokens,
		Dust:          m.Dust,
		Status:        m.Status.String(),
		JoinedAt:      m.JoinedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type listingJSON struct {
	ID              string          `json:"id"`
	SyndicateID     string          `json:"syndicate_id"`
	SellerID        string          `json:"seller_id"`
	TokensAvailable decimal.Decimal `json:"tokens_available"`
	PricePerToken   decimal.Decimal `json:"price_per_token"`
	MinTokens       decimal.Decimal `json:"min_tokens"`
	Status          string          `json:"status"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	ListedAt        time.Time       `json:"listed_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toListingJSON(l *domain.Listing) listingJSON {
	return listingJSON{
		ID:              l.ID,
		SyndicateID:     l.SyndicateID,
		SellerID:        l.SellerID,
		TokensAvailable: l.TokensAvailable,
		PricePerToken:   l.PricePerToken,
		MinTokens:       l.MinTokens,
		Status:          l.Status.String(),
		ExpiresAt:       l.ExpiresAt,
		ListedAt:        l.ListedAt,
		UpdatedAt:       l.UpdatedAt,
	}
}

type tradeJSON struct {
	ID            string          `json:"id"`
	Reference     string          `json:"reference"`
	ListingID     string          `json:"listing_id"`
	SyndicateID   string          `json:"syndicate_id"`
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	Tokens        decimal.Decimal `json:"tokens"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Fee           decimal.Decimal `json:"fee"`
	Status        string          `json:"status"`
	ExecutedAt    time.Time       `json:"executed_at"`

	Side             string `json:"side,omitempty"`
	CounterpartyID   string `json:"counterparty_id,omitempty"`
	CounterpartyName string `json:"counterparty_name,omitempty"`
	SyndicateName    string `json:"syndicate_name,omitempty"`
	TokenSymbol      string `json:"token_symbol,omitempty"`
}

func toTradeJSON(t *domain.Trade) tradeJSON {
	return tradeJSON{
		ID:            t.ID,
		Reference:     t.Reference,
		ListingID:     t.ListingID,
		SyndicateID:   t.SyndicateID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		Tokens:        t.Tokens,
		PricePerToken: t.PricePerToken,
		TotalAmount:   t.TotalAmount,
		Fee:           t.Fee,
		Status:        t.Status.String(),
		ExecutedAt:    t.ExecutedAt,
	}
}

func toTradeViewJSON(v *trading.TradeView) tradeJSON {
	out := toTradeJSON(v.Trade)
	out.Side = string(v.Side)
	out.CounterpartyID = v.CounterpartyID
	out.CounterpartyName = v.CounterpartyName
	out.SyndicateName = v.SyndicateName
	out.TokenSymbol = v.TokenSymbol
	return out
}

type overviewJSON struct {
	ByStatus    map[string]int  `json:"by_status"`
	Total       int             `json:"total"`
	TotalRaised decimal.Decimal `json:"total_raised"`
	TotalTarget decimal.Decimal `json:"total_target"`
}

func toOverviewJSON(ov storage.Overview) overviewJSON {
	by := make(map[string]int, len(ov.ByStatus))
	for st, n := range ov.ByStatus {
		by[st.String()] = n
	}
	return overviewJSON{ByStatus: by, Total: ov.Total, TotalRaised: ov.TotalRaised, TotalTarget: ov.TotalTarget}
}

type dailyVolumeJSON struct {
	Day         string          `json:"day"`
	Trades      uint64          `json:"trades"`
	Tokens      decimal.Decimal `json:"tokens"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Fees        decimal.Decimal `json:"fees"`
}
