package idhash

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// referenceBytes is the digest prefix kept in a trade reference.
// 10 bytes encode to at most 14 base58 characters.
const referenceBytes = 10

// ComputeTradeReference computes the settlement code shown to both parties.
// Formula: base58(SHA256(trade_id|listing_id|buyer_id|tokens|executed_at_ns)[:10])
// The same inputs always produce the same reference.
func ComputeTradeReference(
	tradeID string,
	listingID string,
	buyerID string,
	tokens decimal.Decimal,
	executedAt time.Time,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d",
		tradeID,
		listingID,
		buyerID,
		tokens.String(),
		executedAt.UnixNano(),
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:referenceBytes])
}
