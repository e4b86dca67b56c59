package idhash

import (
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

func TestComputeTradeReference_Deterministic(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := decimal.RequireFromString("2000")

	ref1 := ComputeTradeReference("trade-1", "listing-1", "buyer", tokens, at)
	ref2 := ComputeTradeReference("trade-1", "listing-1", "buyer", tokens, at)

	if ref1 != ref2 {
		t.Errorf("reference not deterministic: %s != %s", ref1, ref2)
	}
}

func TestComputeTradeReference_DiffersByInput(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tokens := decimal.RequireFromString("2000")
	base := ComputeTradeReference("trade-1", "listing-1", "buyer", tokens, at)

	variants := []string{
		ComputeTradeReference("trade-2", "listing-1", "buyer", tokens, at),
		ComputeTradeReference("trade-1", "listing-2", "buyer", tokens, at),
		ComputeTradeReference("trade-1", "listing-1", "other", tokens, at),
		ComputeTradeReference("trade-1", "listing-1", "buyer", decimal.RequireFromString("2001"), at),
		ComputeTradeReference("trade-1", "listing-1", "buyer", tokens, at.Add(time.Nanosecond)),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base reference %s", i, base)
		}
	}
}

func TestComputeTradeReference_Format(t *testing.T) {
	ref := ComputeTradeReference("trade-1", "listing-1", "buyer", decimal.NewFromInt(1), time.Unix(0, 0))

	if len(ref) == 0 || len(ref) > 14 {
		t.Errorf("unexpected reference length %d: %s", len(ref), ref)
	}
	decoded, err := base58.Decode(ref)
	if err != nil {
		t.Fatalf("reference is not base58: %v", err)
	}
	if len(decoded) != referenceBytes {
		t.Errorf("decoded length %d, want %d", len(decoded), referenceBytes)
	}
}
