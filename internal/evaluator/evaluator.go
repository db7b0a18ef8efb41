// Package evaluator decides whether a stored condition fires for a snapshot at
// a given instant. It holds no state between calls.
package evaluator

import (
	"time"

	"github.com/shopspring/decimal"

	"kabu-alerts/internal/condition"
	"kabu-alerts/internal/fetcher"
)

// DefaultZone is the reference time zone for time-of-day rules.
const DefaultZone = "Asia/Tokyo"

var hundred = decimal.NewFromInt(100)

// Direction of a price move for percent rules.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Decision is the outcome of evaluating one condition.
type Decision struct {
	Fired bool
	// Skipped is set when the data the rule needs is missing; SkipReason says which.
	Skipped    bool
	SkipReason string

	// Percent rules only.
	Direction Direction
	ChangePct decimal.NullDecimal
}

// Evaluator applies condition rules in a fixed reference zone.
type Evaluator struct {
	loc *time.Location
}

// New returns an Evaluator for loc. A nil loc means the reference zone.
func New(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = LoadLocation(DefaultZone)
	}
	return &Evaluator{loc: loc}
}

// LoadLocation resolves name, falling back to a fixed JST offset when the tz
// database is unavailable. Config validation rejects other unknown names.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// Evaluate applies the rule for c.Kind. Unknown conditions never fire.
func (e *Evaluator) Evaluate(c condition.Condition, snap fetcher.Snapshot, now time.Time) Decision {
	local := now.In(e.loc)
	clock := condition.TimeOfDay(local)

	switch c.Kind {
	case condition.Daily:
		for _, t := range c.Times {
			if t == clock {
				return Decision{Fired: true}
			}
		}
		return Decision{}
	case condition.Weekly:
		return Decision{Fired: condition.WeekdayName(local.Weekday()) == c.Weekday && clock == c.Time}
	case condition.Monthly:
		return Decision{Fired: local.Day() == c.Day && clock == c.Time}
	case condition.PercentUp, condition.PercentDown:
		return evaluatePercent(c, snap)
	case condition.PriceOver:
		if !snap.CurrentPrice.Valid {
			return skipped("current price unavailable")
		}
		return Decision{Fired: snap.CurrentPrice.Decimal.GreaterThanOrEqual(decimal.NewFromInt(int64(c.Price)))}
	case condition.PriceUnder:
		if !snap.CurrentPrice.Valid {
			return skipped("current price unavailable")
		}
		return Decision{Fired: snap.CurrentPrice.Decimal.LessThanOrEqual(decimal.NewFromInt(int64(c.Price)))}
	default:
		return Decision{}
	}
}

// ChangePercent computes (current - previousClose) / previousClose * 100.
func ChangePercent(current, previousClose decimal.Decimal) (decimal.Decimal, bool) {
	if previousClose.IsZero() {
		return decimal.Decimal{}, false
	}
	return current.Sub(previousClose).Div(previousClose).Mul(hundred), true
}

func evaluatePercent(c condition.Condition, snap fetcher.Snapshot) Decision {
	if !snap.CurrentPrice.Valid || !snap.PreviousClose.Valid {
		return skipped("current price or previous close unavailable")
	}
	diff, ok := ChangePercent(snap.CurrentPrice.Decimal, snap.PreviousClose.Decimal)
	if !ok {
		return skipped("previous close is zero")
	}

	threshold := decimal.NewFromInt(int64(c.Percent))
	d := Decision{ChangePct: decimal.NewNullDecimal(diff)}
	if c.Kind == condition.PercentUp {
		d.Direction = Up
		d.Fired = diff.GreaterThanOrEqual(threshold)
	} else {
		d.Direction = Down
		d.Fired = diff.LessThanOrEqual(threshold.Neg())
	}
	return d
}

func skipped(reason string) Decision {
	return Decision{Skipped: true, SkipReason: reason}
}
