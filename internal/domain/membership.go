package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MembershipStatus is the approval state of a membership.
type MembershipStatus string

const (
	MembershipPending  MembershipStatus = "PENDING"
	MembershipApproved MembershipStatus = "APPROVED"
	MembershipRejected MembershipStatus = "REJECTED"
)

// String returns the string representation of MembershipStatus.
func (s MembershipStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s MembershipStatus) IsValid() bool {
	switch s {
	case MembershipPending, MembershipApproved, MembershipRejected:
		return true
	}
	return false
}

// ParseMembershipStatus converts a raw string into a MembershipStatus.
func ParseMembershipStatus(s string) (MembershipStatus, error) {
	st := MembershipStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown membership status %q", s)
	}
	return st, nil
}

// Membership is one investor's stake in one syndicate.
//
// Amount is the cumulative capital the investor has paid in, through joins
// and secondary purchases alike. It is never reduced by a sale. PrimaryAmount
// counts join contributions only and is what the capital cap is measured in.
// Tokens is the live token balance and moves with every trade.
type Membership struct {
	SyndicateID   string
	InvestorID    string
	Amount        decimal.Decimal
	PrimaryAmount decimal.Decimal
	Tokens        decimal.Decimal
	Dust          decimal.Decimal // capital left over after truncating token issuance
	Status        MembershipStatus
	JoinedAt      time.Time
	UpdatedAt     time.Time
}

// Clone returns a copy of the membership.
func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// IsApproved reports whether the membership counts toward raised capital.
func (m *Membership) IsApproved() bool {
	return m.Status == MembershipApproved
}
