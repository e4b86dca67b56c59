package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus is the state of a secondary-market listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "ACTIVE"
	ListingSold      ListingStatus = "SOLD"
	ListingCancelled ListingStatus = "CANCELLED"
	ListingExpired   ListingStatus = "EXPIRED"
)

// String returns the string representation of ListingStatus.
func (s ListingStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s ListingStatus) IsValid() bool {
	switch s {
	case ListingActive, ListingSold, ListingCancelled, ListingExpired:
		return true
	}
	return false
}

// ParseListingStatus converts a raw string into a ListingStatus.
func ParseListingStatus(s string) (ListingStatus, error) {
	st := ListingStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown listing status %q", s)
	}
	return st, nil
}

// Listing is a seller's offer of syndicate tokens at a chosen price.
type Listing struct {
	ID              string
	SyndicateID     string
	SellerID        string
	TokensAvailable decimal.Decimal
	PricePerToken   decimal.Decimal
	MinTokens       decimal.Decimal
	Status          ListingStatus
	ExpiresAt       *time.Time // nil = open-ended
	ListedAt        time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// IsExpiredAt reports whether the listing's expiry has passed at now.
func (l *Listing) IsExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// IsLiveAt reports whether the listing still locks tokens and accepts buys.
func (l *Listing) IsLiveAt(now time.Time) bool {
	return l.Status == ListingActive && !l.IsExpiredAt(now)
}
