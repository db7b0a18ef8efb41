package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultLineAPIBase = "https://api.line.me"
	maxLabelRunes      = 20
	maxQuickReplies    = 13
)

// Notifier delivers a fired notification.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// QuickReply is a button that sends Text back to the bot when tapped.
type QuickReply struct {
	Label string
	Text  string
}

// Messenger sends chat messages to users.
type Messenger interface {
	Push(ctx context.Context, userID, text string) error
	Reply(ctx context.Context, replyToken, text string, quick []QuickReply) error
}

// Profile is the public part of a chat user's profile.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// ProfileFetcher resolves display names.
type ProfileFetcher interface {
	Profile(ctx context.Context, userID string) (Profile, error)
}

// LineOptions configure the LINE Messaging API client.
type LineOptions struct {
	AccessToken string
	APIBase     string
	Timeout     time.Duration
	// PushRatePerSec paces outbound pushes; zero disables pacing.
	PushRatePerSec float64
	PushBurst      int
}

// LineMessenger talks to the LINE Messaging API.
type LineMessenger struct {
	token   string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewLineMessenger constructs the LINE client.
func NewLineMessenger(opts LineOptions, logger zerolog.Logger) *LineMessenger {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := opts.APIBase
	if baseURL == "" {
		baseURL = defaultLineAPIBase
	}

	var limiter *rate.Limiter
	if opts.PushRatePerSec > 0 {
		burst := opts.PushBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.PushRatePerSec), burst)
	}

	return &LineMessenger{
		token:   opts.AccessToken,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
		logger:  logger.With().Str("component", "line_messenger").Logger(),
	}
}

// Notify pushes the rendered notification to its user.
func (l *LineMessenger) Notify(ctx context.Context, note Notification) error {
	if err := l.Push(ctx, note.UserID, RenderMessage(note)); err != nil {
		return err
	}
	l.logger.Info().Str("user_id", note.UserID).
		Str("ticker", note.Ticker).
		Str("kind", note.Condition.Kind.String()).
		Msg("notification pushed")
	return nil
}

func (l *LineMessenger) Push(ctx context.Context, userID, text string) error {
	if userID == "" {
		return fmt.Errorf("push: user id is required")
	}
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait push limiter: %w", err)
		}
	}
	payload := map[string]any{
		"to":       userID,
		"messages": []textMessage{{Type: "text", Text: text}},
	}
	return l.post(ctx, "/v2/bot/message/push", payload)
}

// Reply answers a webhook event using its reply token.
func (l *LineMessenger) Reply(ctx context.Context, replyToken, text string, quick []QuickReply) error {
	if replyToken == "" {
		return fmt.Errorf("reply: reply token is required")
	}
	msg := textMessage{Type: "text", Text: text}
	if len(quick) > 0 {
		msg.QuickReply = buildQuickReply(quick)
	}
	payload := map[string]any{
		"replyToken": replyToken,
		"messages":   []textMessage{msg},
	}
	return l.post(ctx, "/v2/bot/message/reply", payload)
}

// Profile fetches the user's display name.
func (l *LineMessenger) Profile(ctx context.Context, userID string) (Profile, error) {
	url := fmt.Sprintf("%s/v2/bot/profile/%s", l.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.client.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("send profile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Profile{}, lineError(resp)
	}

	var profile Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return profile, nil
}

func (l *LineMessenger) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal line payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create line request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+l.token)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("send line request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return lineError(resp)
	}
	return nil
}

type textMessage struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	QuickReply *quickReplyBody `json:"quickReply,omitempty"`
}

type quickReplyBody struct {
	Items []quickReplyItem `json:"items"`
}

type quickReplyItem struct {
	Type   string            `json:"type"`
	Action quickReplyMessage `json:"action"`
}

type quickReplyMessage struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Text  string `json:"text"`
}

func buildQuickReply(quick []QuickReply) *quickReplyBody {
	if len(quick) > maxQuickReplies {
		quick = quick[:maxQuickReplies]
	}
	items := make([]quickReplyItem, 0, len(quick))
	for _, q := range quick {
		items = append(items, quickReplyItem{
			Type: "action",
			Action: quickReplyMessage{
				Type:  "message",
				Label: truncateRunes(q.Label, maxLabelRunes),
				Text:  q.Text,
			},
		})
	}
	return &quickReplyBody{Items: items}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func lineError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.Message != "" {
		return fmt.Errorf("line api error (%d): %s", resp.StatusCode, apiErr.Message)
	}
	return fmt.Errorf("line api error (%d)", resp.StatusCode)
}

var (
	_ Notifier       = (*LineMessenger)(nil)
	_ Messenger      = (*LineMessenger)(nil)
	_ ProfileFetcher = (*LineMessenger)(nil)
)
