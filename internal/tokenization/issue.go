// Package tokenization converts pooled capital into syndicate tokens.
package tokenization

import (
	"github.com/shopspring/decimal"

	"syndicate-ledger/internal/domain"
)

// Issue converts amount into tokens at price. Tokens are truncated to
// micro-units; the capital the truncation leaves over is returned as dust,
// rounded to cents. Non-positive inputs issue nothing.
func Issue(amount, price decimal.Decimal) (tokens, dust decimal.Decimal) {
	if !amount.IsPositive() || !price.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	q, _ := amount.QuoRem(price, domain.TokenScale)
	tokens = domain.TruncTokens(q)
	dust = domain.RoundMoney(amount.Sub(tokens.Mul(price)))
	return tokens, dust
}
