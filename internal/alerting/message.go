package alerting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kabu-alerts/internal/condition"
	"kabu-alerts/internal/fetcher"
)

// Direction labels used in percent notifications.
const (
	DirectionUp   = "上昇"
	DirectionDown = "下落"
)

// Notification is a fired alert addressed to one user.
type Notification struct {
	UserID    string
	Ticker    string
	Condition condition.Condition
	Snapshot  fetcher.Snapshot
	Direction string
	ChangePct decimal.NullDecimal
}

// RenderSnapshot formats price data the way replies and alerts show it.
func RenderSnapshot(snap fetcher.Snapshot) string {
	builder := strings.Builder{}
	if snap.Name != "" && snap.Name != snap.Ticker {
		builder.WriteString(fmt.Sprintf("【%s】%s\n", snap.Ticker, snap.Name))
	} else {
		builder.WriteString(fmt.Sprintf("【%s】\n", snap.Ticker))
	}
	builder.WriteString(fmt.Sprintf("現在値: %s\n", formatValue(snap.CurrentPrice)))
	builder.WriteString(fmt.Sprintf("前日終値: %s\n", formatValue(snap.PreviousClose)))
	builder.WriteString(fmt.Sprintf("始値: %s\n", formatValue(snap.Open)))
	builder.WriteString(fmt.Sprintf("高値: %s\n", formatValue(snap.DayHigh)))
	builder.WriteString(fmt.Sprintf("安値: %s\n", formatValue(snap.DayLow)))
	builder.WriteString(fmt.Sprintf("出来高: %s\n", formatValue(snap.Volume)))
	builder.WriteString(fmt.Sprintf("値幅制限: %s\n", formatRange(snap.LimitLow, snap.LimitHigh)))
	if snap.DetailURL != "" {
		builder.WriteString(fmt.Sprintf("詳細: %s", snap.DetailURL))
	}
	return strings.TrimRight(builder.String(), "\n")
}

// RenderMessage formats a notification. Percent alerts lead with the direction
// and the signed change to two decimals.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	if note.Direction != "" && note.ChangePct.Valid {
		builder.WriteString(fmt.Sprintf("%s %s%%\n", note.Direction, SignedPercent(note.ChangePct.Decimal)))
	}
	builder.WriteString(RenderSnapshot(note.Snapshot))
	if note.Condition.Actionable() {
		builder.WriteString(fmt.Sprintf("\n通知条件: %s", note.Condition.Describe()))
	}
	return builder.String()
}

// SignedPercent renders d with an explicit sign and two decimals.
func SignedPercent(d decimal.Decimal) string {
	if d.Sign() > 0 {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}

func formatRange(low, high decimal.NullDecimal) string {
	if !low.Valid || !high.Valid {
		return "-"
	}
	return low.Decimal.String() + "〜" + high.Decimal.String()
}

func formatValue(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.String()
}
