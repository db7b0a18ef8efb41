// Package chat turns inbound user text into store updates and reply messages.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"kabu-alerts/internal/alerting"
	"kabu-alerts/internal/condition"
	"kabu-alerts/internal/fetcher"
	"kabu-alerts/internal/storage"
)

// Literal commands understood by the bot. Full-width colons are accepted too.
const (
	CommandSelect = "候補:"
	CommandRemove = "通知解除:"
	CommandList   = "通知一覧"
	CommandReset  = "リセット"
	CommandCancel = "キャンセル"
)

const conditionExamples = "例:\n・毎日9時と15時\n・毎週月曜の9時30分\n・毎月1日の9時\n・5%上がったら\n・3%下がったら\n・株価が3000円を超えたら\n・株価が2500円を下回ったら"

// Message is one inbound text message.
type Message struct {
	UserID string
	Text   string
}

// Reply is the answer to send back. An empty Text means no reply.
type Reply struct {
	Text         string
	QuickReplies []alerting.QuickReply
}

// Handler dispatches user text.
type Handler struct {
	notifications storage.NotificationStore
	sessions      storage.SessionStore
	prices        fetcher.PriceFetcher
	resolver      fetcher.TickerResolver
	profiles      alerting.ProfileFetcher
	logger        zerolog.Logger
}

// NewHandler wires the conversation handler. profiles may be nil.
func NewHandler(notifications storage.NotificationStore, sessions storage.SessionStore, prices fetcher.PriceFetcher, resolver fetcher.TickerResolver, profiles alerting.ProfileFetcher, logger zerolog.Logger) *Handler {
	return &Handler{
		notifications: notifications,
		sessions:      sessions,
		prices:        prices,
		resolver:      resolver,
		profiles:      profiles,
		logger:        logger.With().Str("component", "chat").Logger(),
	}
}

// HandleText processes one message. Returned errors are persistence failures;
// lookup failures are answered in the reply.
func (h *Handler) HandleText(ctx context.Context, msg Message) (Reply, error) {
	text := strings.TrimSpace(msg.Text)
	if msg.UserID == "" || text == "" {
		return Reply{}, nil
	}

	if ticker, ok := command(text, CommandSelect); ok {
		return h.selectTicker(ctx, msg.UserID, ticker)
	}
	if ticker, ok := command(text, CommandRemove); ok {
		return h.removeTicker(ctx, msg.UserID, ticker)
	}

	switch text {
	case CommandList:
		return h.list(ctx, msg.UserID)
	case CommandReset:
		return h.reset(ctx, msg.UserID)
	case CommandCancel:
		if err := h.sessions.ClearSession(ctx, msg.UserID); err != nil {
			return Reply{}, fmt.Errorf("cancel: %w", err)
		}
		return Reply{Text: "通知設定をキャンセルしました。"}, nil
	}

	sess, _, err := h.sessions.GetSession(ctx, msg.UserID)
	if err != nil {
		return Reply{}, fmt.Errorf("load session: %w", err)
	}
	if sess.AwaitingCondition() {
		return h.register(ctx, msg.UserID, sess.SelectedTicker, text)
	}
	return h.search(ctx, msg.UserID, text)
}

func (h *Handler) selectTicker(ctx context.Context, userID, ticker string) (Reply, error) {
	if ticker == "" {
		return Reply{Text: "証券コードを指定してください。（例：候補:7203.T）"}, nil
	}

	snap, err := h.prices.FetchSnapshot(ctx, ticker)
	if errors.Is(err, fetcher.ErrTickerNotFound) {
		return Reply{Text: fmt.Sprintf("%s に対応する証券コードが見つかりませんでした。", ticker)}, nil
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("ticker", ticker).Msg("snapshot lookup failed")
		return Reply{Text: "株価の取得に失敗しました。時間をおいて再度お試しください。"}, nil
	}

	if err := h.sessions.SetSelectedTicker(ctx, userID, snap.Ticker); err != nil {
		return Reply{}, fmt.Errorf("select ticker: %w", err)
	}

	text := alerting.RenderSnapshot(snap) +
		"\n\n通知条件を入力してください。\n" + conditionExamples +
		"\n\nやめる場合は「" + CommandCancel + "」と送ってください。"
	return Reply{Text: text}, nil
}

func (h *Handler) register(ctx context.Context, userID, ticker, text string) (Reply, error) {
	cond := condition.Parse(text)
	if !cond.Actionable() {
		h.logger.Debug().Str("user_id", userID).Str("text", text).Msg("condition not recognised")
		return Reply{Text: "通知条件を読み取れませんでした。\n" + conditionExamples}, nil
	}

	displayName := ""
	if h.profiles != nil {
		profile, err := h.profiles.Profile(ctx, userID)
		if err != nil {
			h.logger.Warn().Err(err).Str("user_id", userID).Msg("profile lookup failed")
		} else {
			displayName = profile.DisplayName
		}
	}

	rec, err := h.notifications.InsertNotification(ctx, userID, displayName, ticker, cond)
	if err != nil {
		return Reply{}, fmt.Errorf("register notification: %w", err)
	}
	if err := h.sessions.ClearSession(ctx, userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to clear session")
	}

	h.logger.Info().Int64("notification_id", rec.ID).
		Str("user_id", userID).
		Str("ticker", ticker).
		Str("kind", cond.Kind.String()).
		Msg("notification registered")
	return Reply{Text: fmt.Sprintf("【%s】の通知を登録しました。\n通知条件: %s", ticker, cond.Describe())}, nil
}

func (h *Handler) removeTicker(ctx context.Context, userID, ticker string) (Reply, error) {
	if ticker == "" {
		return Reply{Text: "解除する証券コードを指定してください。（例：通知解除:7203.T）"}, nil
	}
	n, err := h.notifications.DeleteNotificationsByUserAndTicker(ctx, userID, ticker)
	if err != nil {
		return Reply{}, fmt.Errorf("remove notifications: %w", err)
	}
	if n == 0 {
		return Reply{Text: fmt.Sprintf("【%s】の通知は登録されていません。", ticker)}, nil
	}
	return Reply{Text: fmt.Sprintf("【%s】の通知を%d件解除しました。", ticker, n)}, nil
}

func (h *Handler) list(ctx context.Context, userID string) (Reply, error) {
	records, err := h.notifications.ListNotificationsByUser(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("list notifications: %w", err)
	}
	if len(records) == 0 {
		return Reply{Text: "登録されている通知はありません。"}, nil
	}

	lines := make([]string, 0, len(records)+1)
	lines = append(lines, fmt.Sprintf("登録中の通知 (%d件)", len(records)))
	for _, rec := range records {
		cond, err := rec.DecodeCondition()
		desc := cond.Describe()
		if err != nil {
			desc = "(読み取れない条件)"
		}
		lines = append(lines, fmt.Sprintf("・【%s】%s", rec.Ticker, desc))
	}
	return Reply{Text: strings.Join(lines, "\n")}, nil
}

func (h *Handler) reset(ctx context.Context, userID string) (Reply, error) {
	n, err := h.notifications.DeleteNotificationsByUser(ctx, userID)
	if err != nil {
		return Reply{}, fmt.Errorf("reset notifications: %w", err)
	}
	if err := h.sessions.ClearSession(ctx, userID); err != nil {
		return Reply{}, fmt.Errorf("reset session: %w", err)
	}
	return Reply{Text: fmt.Sprintf("すべての通知(%d件)を解除しました。", n)}, nil
}

func (h *Handler) search(ctx context.Context, userID, query string) (Reply, error) {
	candidates, err := h.resolver.SearchTickers(ctx, query)
	if err != nil {
		h.logger.Warn().Err(err).Str("query", query).Msg("ticker search failed")
		candidates = nil
	}

	switch len(candidates) {
	case 0:
		return Reply{Text: fmt.Sprintf("%s に対応する証券コードが見つかりませんでした。", query)}, nil
	case 1:
		return h.selectTicker(ctx, userID, candidates[0].Ticker)
	}

	quick := make([]alerting.QuickReply, 0, len(candidates))
	for _, c := range candidates {
		label := c.Name
		if label == "" {
			label = c.Ticker
		}
		quick = append(quick, alerting.QuickReply{Label: label, Text: CommandSelect + c.Ticker})
	}
	return Reply{Text: "候補が複数見つかりました。該当する企業を選んでください。", QuickReplies: quick}, nil
}

// command matches prefix (or its full-width colon form) and returns the argument.
func command(text, prefix string) (string, bool) {
	for _, p := range []string{prefix, strings.Replace(prefix, ":", "：", 1)} {
		if strings.HasPrefix(text, p) {
			return strings.TrimSpace(strings.TrimPrefix(text, p)), true
		}
	}
	return "", false
}
