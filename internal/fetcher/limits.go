package fetcher

import "github.com/shopspring/decimal"

// tseLimitBands is the Tokyo Stock Exchange daily price limit table: a
// previous close below ceiling may move at most width in either direction.
var tseLimitBands = []struct {
	ceiling int64
	width   int64
}{
	{100, 30},
	{200, 50},
	{500, 80},
	{700, 100},
	{1000, 150},
	{1500, 300},
	{2000, 400},
	{3000, 500},
	{5000, 700},
	{7000, 1000},
	{10000, 1500},
	{15000, 3000},
	{20000, 4000},
	{30000, 5000},
	{50000, 7000},
	{70000, 10000},
	{100000, 15000},
	{150000, 30000},
	{200000, 40000},
	{300000, 50000},
	{500000, 70000},
	{700000, 100000},
	{1000000, 150000},
	{1500000, 300000},
	{2000000, 400000},
	{3000000, 500000},
	{5000000, 700000},
	{7000000, 1000000},
	{10000000, 1500000},
	{15000000, 3000000},
	{20000000, 4000000},
	{30000000, 5000000},
	{50000000, 7000000},
}

const tseLimitTopWidth = 10000000

// DailyPriceLimit returns the lower and upper bound a TSE listing may trade at
// today given its previous close. Both are invalid when prevClose is.
func DailyPriceLimit(prevClose decimal.NullDecimal) (lower, upper decimal.NullDecimal) {
	if !prevClose.Valid || prevClose.Decimal.Sign() <= 0 {
		return decimal.NullDecimal{}, decimal.NullDecimal{}
	}
	prev := prevClose.Decimal
	width := decimal.NewFromInt(tseLimitTopWidth)
	for _, band := range tseLimitBands {
		if prev.LessThan(decimal.NewFromInt(band.ceiling)) {
			width = decimal.NewFromInt(band.width)
			break
		}
	}
	low := prev.Sub(width)
	if low.LessThan(decimal.NewFromInt(1)) {
		low = decimal.NewFromInt(1)
	}
	return decimal.NewNullDecimal(low), decimal.NewNullDecimal(prev.Add(width))
}
