package condition

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	tokenEveryDay   = "毎日"
	tokenEveryWeek  = "毎週"
	tokenEveryMonth = "毎月"
)

var (
	clockRe       = regexp.MustCompile(`(\d{1,2})時(?:(\d{1,2})分)?`)
	weeklyRe      = regexp.MustCompile(`^毎週([月火水木金土日])(?:曜日|曜)?の(\d{1,2})時(?:(\d{1,2})分)?`)
	monthlyRe     = regexp.MustCompile(`^毎月(\d{1,2})日の(\d{1,2})時(?:(\d{1,2})分)?`)
	percentUpRe   = regexp.MustCompile(`(\d+)[%％].*上が`)
	percentDownRe = regexp.MustCompile(`(\d+)[%％].*下が`)
	priceOverRe   = regexp.MustCompile(`(\d+)円を?超え`)
	priceUnderRe  = regexp.MustCompile(`(\d+)円を?下回`)
)

// rule pairs a cheap predicate with its extractor. Once a predicate holds the
// extractor's result is final, even when it is Unknown.
type rule struct {
	name    string
	applies func(text string) bool
	extract func(text string) Condition
}

var rules = []rule{
	{name: "daily", applies: contains(tokenEveryDay), extract: extractDaily},
	// 毎週 and 毎月 require the full pattern; a mismatch ends parsing as Unknown
	// instead of trying the price rules below.
	{name: "weekly", applies: contains(tokenEveryWeek), extract: extractWeekly},
	{name: "monthly", applies: contains(tokenEveryMonth), extract: extractMonthly},
	{name: "percent_up", applies: percentUpRe.MatchString, extract: extractInt(percentUpRe, PercentUp)},
	{name: "percent_down", applies: percentDownRe.MatchString, extract: extractInt(percentDownRe, PercentDown)},
	{name: "price_over", applies: priceOverRe.MatchString, extract: extractInt(priceOverRe, PriceOver)},
	{name: "price_under", applies: priceUnderRe.MatchString, extract: extractInt(priceUnderRe, PriceUnder)},
}

// Parse converts user text into a Condition. It never fails: text that matches
// no grammar yields Kind Unknown.
func Parse(text string) Condition {
	for _, r := range rules {
		if r.applies(text) {
			return r.extract(text)
		}
	}
	return Condition{Kind: Unknown}
}

// RuleName reports which grammar claimed text, or "" when none did.
func RuleName(text string) string {
	for _, r := range rules {
		if r.applies(text) {
			return r.name
		}
	}
	return ""
}

func contains(token string) func(string) bool {
	return func(text string) bool {
		return strings.Contains(text, token)
	}
}

func extractDaily(text string) Condition {
	times := make([]string, 0)
	for _, m := range clockRe.FindAllStringSubmatch(text, -1) {
		if t, ok := normaliseClock(m[1], m[2]); ok {
			times = append(times, t)
		}
	}
	return Condition{Kind: Daily, Times: times}
}

func extractWeekly(text string) Condition {
	m := weeklyRe.FindStringSubmatch(text)
	if m == nil {
		return Condition{Kind: Unknown}
	}
	t, ok := normaliseClock(m[2], m[3])
	if !ok {
		return Condition{Kind: Unknown}
	}
	return Condition{Kind: Weekly, Weekday: m[1], Time: t}
}

func extractMonthly(text string) Condition {
	m := monthlyRe.FindStringSubmatch(text)
	if m == nil {
		return Condition{Kind: Unknown}
	}
	day, err := strconv.Atoi(m[1])
	if err != nil || day < 1 || day > 31 {
		return Condition{Kind: Unknown}
	}
	t, ok := normaliseClock(m[2], m[3])
	if !ok {
		return Condition{Kind: Unknown}
	}
	return Condition{Kind: Monthly, Day: day, Time: t}
}

func extractInt(re *regexp.Regexp, kind Kind) func(string) Condition {
	return func(text string) Condition {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return Condition{Kind: Unknown}
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return Condition{Kind: Unknown}
		}
		c := Condition{Kind: kind}
		switch kind {
		case PercentUp, PercentDown:
			c.Percent = n
		default:
			c.Price = n
		}
		return c
	}
}

// normaliseClock validates an hour/minute pair and renders it as H時MM分.
// An empty minute means on the hour.
func normaliseClock(hourText, minuteText string) (string, bool) {
	hour, err := strconv.Atoi(hourText)
	if err != nil || hour < 0 || hour > 23 {
		return "", false
	}
	minute := 0
	if minuteText != "" {
		minute, err = strconv.Atoi(minuteText)
		if err != nil || minute < 0 || minute > 59 {
			return "", false
		}
	}
	return FormatTimeOfDay(hour, minute), true
}
