// Package condition turns free-text Japanese alert phrases into typed notification
// conditions and serialises them for storage.
package condition

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags which rule a condition uses.
type Kind int

const (
	Unknown Kind = iota
	Daily
	Weekly
	Monthly
	PercentUp
	PercentDown
	PriceOver
	PriceUnder
)

var kindNames = map[Kind]string{
	Unknown:     "unknown",
	Daily:       "daily",
	Weekly:      "weekly",
	Monthly:     "monthly",
	PercentUp:   "percent_up",
	PercentDown: "percent_down",
	PriceOver:   "price_over",
	PriceUnder:  "price_under",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps a wire name back to its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return Unknown, false
}

// Condition is the parsed form of a user's alert request. Only the fields that
// belong to Kind are meaningful.
type Condition struct {
	Kind Kind

	// Daily
	Times []string

	// Weekly / Monthly
	Weekday string
	Day     int
	Time    string

	// PercentUp / PercentDown
	Percent int

	// PriceOver / PriceUnder
	Price int
}

// Actionable reports whether the condition may be persisted as a rule.
func (c Condition) Actionable() bool {
	return c.Kind != Unknown
}

// Describe renders a short Japanese summary used in chat replies and listings.
func (c Condition) Describe() string {
	switch c.Kind {
	case Daily:
		if len(c.Times) == 0 {
			return "毎日 (時刻指定なし)"
		}
		return "毎日 " + strings.Join(c.Times, "・")
	case Weekly:
		return fmt.Sprintf("毎週%s曜 %s", c.Weekday, c.Time)
	case Monthly:
		return fmt.Sprintf("毎月%d日 %s", c.Day, c.Time)
	case PercentUp:
		return fmt.Sprintf("前日終値から%d%%以上上昇したとき", c.Percent)
	case PercentDown:
		return fmt.Sprintf("前日終値から%d%%以上下落したとき", c.Percent)
	case PriceOver:
		return fmt.Sprintf("株価が%d円以上になったとき", c.Price)
	case PriceUnder:
		return fmt.Sprintf("株価が%d円以下になったとき", c.Price)
	default:
		return "不明な条件"
	}
}

var weekdayNames = [...]string{
	time.Sunday:    "日",
	time.Monday:    "月",
	time.Tuesday:   "火",
	time.Wednesday: "水",
	time.Thursday:  "木",
	time.Friday:    "金",
	time.Saturday:  "土",
}

// WeekdayName returns the single-character Japanese name of d.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

func validWeekday(name string) bool {
	for _, n := range weekdayNames {
		if n == name {
			return true
		}
	}
	return false
}

// FormatTimeOfDay renders hour and minute as H時MM分.
func FormatTimeOfDay(hour, minute int) string {
	return fmt.Sprintf("%d時%02d分", hour, minute)
}

// TimeOfDay renders the wall-clock time of t in the same format as stored conditions.
func TimeOfDay(t time.Time) string {
	return FormatTimeOfDay(t.Hour(), t.Minute())
}
