package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the settlement state of a trade.
// Settlement is synchronous bookkeeping, so only COMPLETED exists.
type TradeStatus string

const (
	TradeCompleted TradeStatus = "COMPLETED"
)

// String returns the string representation of TradeStatus.
func (s TradeStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s TradeStatus) IsValid() bool {
	return s == TradeCompleted
}

// ParseTradeStatus converts a raw string into a TradeStatus.
func ParseTradeStatus(s string) (TradeStatus, error) {
	st := TradeStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown trade status %q", s)
	}
	return st, nil
}

// Trade is an executed purchase against a listing.
type Trade struct {
	ID            string
	Reference     string // short settlement code shown to both parties
	ListingID     string
	SyndicateID   string
	BuyerID       string
	SellerID      string
	Tokens        decimal.Decimal
	PricePerToken decimal.Decimal // copied from the listing at execution
	TotalAmount   decimal.Decimal // Tokens * PricePerToken
	Fee           decimal.Decimal // TotalAmount * platform fee rate
	Status        TradeStatus
	ExecutedAt    time.Time
}

// Clone returns a copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// DefaultPlatformFeeRate is the fee levied on every trade's total amount.
var DefaultPlatformFeeRate = decimal.RequireFromString("0.01")
