package condition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrInvalidCondition marks a stored payload that does not satisfy the schema.
var ErrInvalidCondition = errors.New("invalid condition")

var storedClockRe = regexp.MustCompile(`^(\d{1,2})時(\d{2})分$`)

type wireCondition struct {
	Type    string    `json:"type"`
	Times   *[]string `json:"times,omitempty"`
	Weekday *string   `json:"weekday,omitempty"`
	Day     *int      `json:"day,omitempty"`
	Time    *string   `json:"time,omitempty"`
	Percent *int      `json:"percent,omitempty"`
	Price   *int      `json:"price,omitempty"`
}

// MarshalJSON encodes the condition as {"type": kind, ...kind fields}.
func (c Condition) MarshalJSON() ([]byte, error) {
	w := wireCondition{Type: c.Kind.String()}
	switch c.Kind {
	case Daily:
		times := c.Times
		if times == nil {
			times = []string{}
		}
		w.Times = &times
	case Weekly:
		w.Weekday = &c.Weekday
		w.Time = &c.Time
	case Monthly:
		w.Day = &c.Day
		w.Time = &c.Time
	case PercentUp, PercentDown:
		w.Percent = &c.Percent
	case PriceOver, PriceUnder:
		w.Price = &c.Price
	default:
		return nil, fmt.Errorf("%w: unknown condition cannot be encoded", ErrInvalidCondition)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes and validates a stored condition. Fields that do not
// belong to the declared type are rejected.
func (c *Condition) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireCondition
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCondition, err)
	}

	kind, ok := ParseKind(w.Type)
	if !ok || kind == Unknown {
		return fmt.Errorf("%w: unsupported type %q", ErrInvalidCondition, w.Type)
	}

	out := Condition{Kind: kind}
	var err error
	switch kind {
	case Daily:
		err = expectOnly(w, "times")
		if err == nil && w.Times != nil {
			for _, t := range *w.Times {
				if !validClock(t) {
					err = fmt.Errorf("%w: malformed time %q", ErrInvalidCondition, t)
					break
				}
			}
			out.Times = append([]string{}, *w.Times...)
		}
		if out.Times == nil {
			out.Times = []string{}
		}
	case Weekly:
		err = expectOnly(w, "weekday", "time")
		if err == nil {
			switch {
			case w.Weekday == nil || !validWeekday(*w.Weekday):
				err = fmt.Errorf("%w: weekly condition needs a weekday", ErrInvalidCondition)
			case w.Time == nil || !validClock(*w.Time):
				err = fmt.Errorf("%w: weekly condition needs a time", ErrInvalidCondition)
			default:
				out.Weekday, out.Time = *w.Weekday, *w.Time
			}
		}
	case Monthly:
		err = expectOnly(w, "day", "time")
		if err == nil {
			switch {
			case w.Day == nil || *w.Day < 1 || *w.Day > 31:
				err = fmt.Errorf("%w: monthly condition needs a day between 1 and 31", ErrInvalidCondition)
			case w.Time == nil || !validClock(*w.Time):
				err = fmt.Errorf("%w: monthly condition needs a time", ErrInvalidCondition)
			default:
				out.Day, out.Time = *w.Day, *w.Time
			}
		}
	case PercentUp, PercentDown:
		err = expectOnly(w, "percent")
		if err == nil {
			if w.Percent == nil || *w.Percent <= 0 {
				err = fmt.Errorf("%w: percent must be positive", ErrInvalidCondition)
			} else {
				out.Percent = *w.Percent
			}
		}
	case PriceOver, PriceUnder:
		err = expectOnly(w, "price")
		if err == nil {
			if w.Price == nil || *w.Price <= 0 {
				err = fmt.Errorf("%w: price must be positive", ErrInvalidCondition)
			} else {
				out.Price = *w.Price
			}
		}
	}
	if err != nil {
		return err
	}

	*c = out
	return nil
}

// Decode validates a stored payload. Failures always wrap ErrInvalidCondition.
func Decode(data []byte) (Condition, error) {
	var c Condition
	if err := c.UnmarshalJSON(data); err != nil {
		return Condition{Kind: Unknown}, err
	}
	return c, nil
}

func expectOnly(w wireCondition, allowed ...string) error {
	present := map[string]bool{
		"times":   w.Times != nil,
		"weekday": w.Weekday != nil,
		"day":     w.Day != nil,
		"time":    w.Time != nil,
		"percent": w.Percent != nil,
		"price":   w.Price != nil,
	}
	for _, name := range allowed {
		delete(present, name)
	}
	for name, set := range present {
		if set {
			return fmt.Errorf("%w: field %q not allowed for type %q", ErrInvalidCondition, name, w.Type)
		}
	}
	return nil
}

func validClock(s string) bool {
	m := storedClockRe.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59 && FormatTimeOfDay(hour, minute) == s
}
