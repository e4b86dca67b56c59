package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SyndicateStatus is the lifecycle state of a syndicate.
type SyndicateStatus string

const (
	SyndicateForming SyndicateStatus = "FORMING"
	SyndicateOpen    SyndicateStatus = "OPEN"
	SyndicateFunded  SyndicateStatus = "FUNDED"
	SyndicateClosed  SyndicateStatus = "CLOSED"
)

// SyndicateStatuses lists every status in lifecycle order.
var SyndicateStatuses = []SyndicateStatus{SyndicateForming, SyndicateOpen, SyndicateFunded, SyndicateClosed}

// String returns the string representation of SyndicateStatus.
func (s SyndicateStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s SyndicateStatus) IsValid() bool {
	switch s {
	case SyndicateForming, SyndicateOpen, SyndicateFunded, SyndicateClosed:
		return true
	}
	return false
}

// AcceptsCapital reports whether new joins are allowed in this state.
func (s SyndicateStatus) AcceptsCapital() bool {
	return s == SyndicateForming || s == SyndicateOpen
}

// ParseSyndicateStatus converts a raw string into a SyndicateStatus.
func ParseSyndicateStatus(s string) (SyndicateStatus, error) {
	st := SyndicateStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown syndicate status %q", s)
	}
	return st, nil
}

// Syndicate is a pooled investment vehicle managed by a lead investor.
type Syndicate struct {
	ID             string
	Name           string
	Description    string
	LeadInvestorID string

	// Capital terms
	TargetAmount     decimal.Decimal
	MinInvestment    decimal.Decimal
	MaxInvestment    *decimal.Decimal // nil = no per-member ceiling
	ManagementFeePct decimal.Decimal
	CarryFeePct      decimal.Decimal

	Status SyndicateStatus

	// Tokenization
	IsTokenized   bool
	TokenName     string
	TokenSymbol   string
	PricePerToken *decimal.Decimal
	TotalTokens   *decimal.Decimal
	TokensSold    decimal.Decimal

	DealID      *string
	ClosingDate *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the syndicate.
func (s *Syndicate) Clone() *Syndicate {
	if s == nil {
		return nil
	}
	c := *s
	c.MaxInvestment = cloneDecimal(s.MaxInvestment)
	c.PricePerToken = cloneDecimal(s.PricePerToken)
	c.TotalTokens = cloneDecimal(s.TotalTokens)
	if s.DealID != nil {
		id := *s.DealID
		c.DealID = &id
	}
	if s.ClosingDate != nil {
		d := *s.ClosingDate
		c.ClosingDate = &d
	}
	return &c
}

// RemainingTokens returns unsold supply, or zero when not tokenized.
func (s *Syndicate) RemainingTokens() decimal.Decimal {
	if !s.IsTokenized || s.TotalTokens == nil {
		return decimal.Zero
	}
	return s.TotalTokens.Sub(s.TokensSold)
}

// IsLead reports whether investorID manages this syndicate.
func (s *Syndicate) IsLead(investorID string) bool {
	return investorID != "" && s.LeadInvestorID == investorID
}
