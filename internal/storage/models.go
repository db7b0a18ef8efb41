package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kabu-alerts/internal/condition"
)

// Notification is a stored alert rule owned by one user.
type Notification struct {
	ID            int64
	UserID        string
	DisplayName   string
	Ticker        string
	Kind          string
	ConditionJSON json.RawMessage
	CreatedAt     time.Time
}

// DecodeCondition validates and decodes the stored payload.
func (n Notification) DecodeCondition() (condition.Condition, error) {
	return condition.Decode(n.ConditionJSON)
}

// NewMemoryNotification builds an unsaved record carrying cond in its stored form.
func NewMemoryNotification(id int64, userID, ticker string, cond condition.Condition) (Notification, error) {
	if !cond.Actionable() {
		return Notification{}, ErrNotActionable
	}
	payload, err := json.Marshal(cond)
	if err != nil {
		return Notification{}, fmt.Errorf("encode condition: %w", err)
	}
	return Notification{
		ID:            id,
		UserID:        userID,
		Ticker:        ticker,
		Kind:          cond.Kind.String(),
		ConditionJSON: payload,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Session carries per-user conversation state between webhook calls.
type Session struct {
	UserID         string
	SelectedTicker string
	UpdatedAt      time.Time
}

// AwaitingCondition reports whether the user picked a ticker and the next
// message should be read as a condition.
func (s Session) AwaitingCondition() bool {
	return s.SelectedTicker != ""
}

// FireRecord captures a delivered notification for auditing and cooldowns.
type FireRecord struct {
	ID             int64
	NotificationID int64
	UserID         string
	Ticker         string
	Kind           string
	CurrentPrice   decimal.NullDecimal
	ChangePct      decimal.NullDecimal
	FiredAt        time.Time
}
