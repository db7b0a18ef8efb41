package fetcher

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDailyPriceLimit(t *testing.T) {
	cases := []struct {
		prev      string
		low, high int64
	}{
		{"50", 20, 80},
		{"99", 69, 129},
		{"100", 50, 150},
		{"999", 849, 1149},
		{"2900", 2400, 3400},
		{"12000", 9000, 15000},
	}
	for _, tc := range cases {
		low, high := DailyPriceLimit(decimal.NewNullDecimal(decimal.RequireFromString(tc.prev)))
		if !low.Valid || !high.Valid {
			t.Fatalf("limit for %s should be valid", tc.prev)
		}
		if low.Decimal.IntPart() != tc.low || high.Decimal.IntPart() != tc.high {
			t.Fatalf("limit for %s: got %s-%s want %d-%d", tc.prev, low.Decimal, high.Decimal, tc.low, tc.high)
		}
	}
}

func TestDailyPriceLimitFloorsAtOneYen(t *testing.T) {
	low, _ := DailyPriceLimit(decimal.NewNullDecimal(decimal.NewFromInt(10)))
	if !low.Decimal.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("lower bound should floor at 1, got %s", low.Decimal)
	}
}

func TestDailyPriceLimitMissingClose(t *testing.T) {
	low, high := DailyPriceLimit(decimal.NullDecimal{})
	if low.Valid || high.Valid {
		t.Fatalf("missing previous close should yield no limit")
	}
}
