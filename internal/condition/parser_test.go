package condition

import (
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Condition
	}{
		{"daily single", "毎日9時", Condition{Kind: Daily, Times: []string{"9時00分"}}},
		{"daily multiple", "毎日9時と15時30分に教えて", Condition{Kind: Daily, Times: []string{"9時00分", "15時30分"}}},
		{"daily padded input", "毎日09時5分", Condition{Kind: Daily, Times: []string{"9時05分"}}},
		{"daily without times", "毎日おしえて", Condition{Kind: Daily, Times: []string{}}},
		{"weekly", "毎週木曜の17時", Condition{Kind: Weekly, Weekday: "木", Time: "17時00分"}},
		{"weekly with minutes", "毎週月曜日の8時15分", Condition{Kind: Weekly, Weekday: "月", Time: "8時15分"}},
		{"monthly", "毎月23日の0時", Condition{Kind: Monthly, Day: 23, Time: "0時00分"}},
		{"monthly with minutes", "毎月1日の12時30分", Condition{Kind: Monthly, Day: 1, Time: "12時30分"}},
		{"percent up fullwidth", "5％上がった時", Condition{Kind: PercentUp, Percent: 5}},
		{"percent down", "25%下がった時", Condition{Kind: PercentDown, Percent: 25}},
		{"price over", "株価が5000円を超えた時", Condition{Kind: PriceOver, Price: 5000}},
		{"price under", "株価が1600円を下回った時", Condition{Kind: PriceUnder, Price: 1600}},
		{"greeting", "こんにちは", Condition{Kind: Unknown}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Parse(tc.text))
		})
	}
}

func TestParseWeeklyMismatchDoesNotFallThrough(t *testing.T) {
	// carries a valid percent phrase, but 毎週 claims the text first
	got := Parse("毎週5%上がった時")
	assert.Equal(t, Unknown, got.Kind)
	assert.Equal(t, "weekly", RuleName("毎週5%上がった時"))
}

func TestParseMonthlyMismatchDoesNotFallThrough(t *testing.T) {
	assert.Equal(t, Unknown, Parse("毎月3000円を超えた時").Kind)
	assert.Equal(t, Unknown, Parse("毎月32日の9時").Kind, "day out of range")
	assert.Equal(t, Unknown, Parse("今月も毎月1日の9時").Kind, "pattern is anchored at the start")
}

func TestParseDailyWinsOverWeekly(t *testing.T) {
	got := Parse("毎週じゃなくて毎日5時")
	require.Equal(t, Daily, got.Kind)
	assert.Equal(t, []string{"5時00分"}, got.Times)
}

func TestParsePercentBeforePrice(t *testing.T) {
	got := Parse("10%上がって1000円を超えた時")
	assert.Equal(t, Condition{Kind: PercentUp, Percent: 10}, got)
}

func TestParseRejectsInvalidClock(t *testing.T) {
	assert.Equal(t, Unknown, Parse("毎週金曜の25時").Kind)
	assert.Equal(t, []string{"7時00分"}, Parse("毎日24時と7時").Times)
}

func TestParseIsPure(t *testing.T) {
	text := "毎日8時と20時45分"
	first := Parse(text)
	second := Parse(text)
	assert.Equal(t, first, second)
}

var storedClock = regexp.MustCompile(`^([1-9]?\d)時\d{2}分$`)

func TestPropertyDailyTimes(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	// values >= 1440 encode "minute omitted" for the same clock value mod 1440
	clockGen := gen.SliceOf(gen.IntRange(0, 2*24*60-1))

	properties.Property("every-day text with k clock mentions yields k normalised times", prop.ForAll(
		func(values []int) bool {
			parts := make([]string, 0, len(values))
			want := make([]string, 0, len(values))
			for _, v := range values {
				omitted := v >= 24*60
				v %= 24 * 60
				hour, minute := v/60, v%60
				if omitted {
					minute = 0
					parts = append(parts, strconv.Itoa(hour)+"時")
				} else {
					parts = append(parts, strconv.Itoa(hour)+"時"+strconv.Itoa(minute)+"分")
				}
				want = append(want, FormatTimeOfDay(hour, minute))
			}

			got := Parse("毎日" + strings.Join(parts, "と"))
			if got.Kind != Daily || len(got.Times) != len(values) {
				return false
			}
			for i, tm := range got.Times {
				if tm != want[i] || !storedClock.MatchString(tm) {
					return false
				}
			}
			return true
		},
		clockGen,
	))

	properties.TestingRun(t)
}
