package fetcher

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrTickerNotFound is returned when the provider does not know the ticker.
var ErrTickerNotFound = errors.New("ticker not found")

// Snapshot is the price data for one ticker at one instant. Any field may be
// missing, in which case its Valid flag is false.
type Snapshot struct {
	Ticker        string
	Name          string
	Currency      string
	CurrentPrice  decimal.NullDecimal
	PreviousClose decimal.NullDecimal
	Open          decimal.NullDecimal
	DayHigh       decimal.NullDecimal
	DayLow        decimal.NullDecimal
	Volume        decimal.NullDecimal
	// LimitLow and LimitHigh bound today's trading range for JPY listings.
	LimitLow      decimal.NullDecimal
	LimitHigh     decimal.NullDecimal
	DetailURL     string
	FetchedAt     time.Time
}

// Candidate is one company matched by a ticker search.
type Candidate struct {
	Ticker string
	Name   string
}

// PriceFetcher retrieves a point-in-time snapshot for a ticker.
type PriceFetcher interface {
	FetchSnapshot(ctx context.Context, ticker string) (Snapshot, error)
}

// TickerResolver maps a company name to listed ticker candidates.
type TickerResolver interface {
	SearchTickers(ctx context.Context, query string) ([]Candidate, error)
}
