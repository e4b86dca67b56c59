package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fixed-point scales. Money is kept in cents, token balances in micro-units.
const (
	MoneyScale int32 = 2
	TokenScale int32 = 6
)

// RoundMoney rounds a money value half-up to MoneyScale digits.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// TruncTokens truncates a token quantity to TokenScale digits.
func TruncTokens(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(TokenScale)
}

// DecimalPtr returns a pointer to a copy of d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// IsMoney reports whether d carries no more than MoneyScale fractional digits.
func IsMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// IsTokenQuantity reports whether d carries no more than TokenScale fractional digits.
func IsTokenQuantity(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(TokenScale))
}

// Now returns the current UTC time at the microsecond precision the ledger
// stores timestamps with.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
