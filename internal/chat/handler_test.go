package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kabu-alerts/internal/alerting"
	"kabu-alerts/internal/condition"
	"kabu-alerts/internal/fetcher"
	"kabu-alerts/internal/storage"
)

type memoryStore struct {
	nextID   int64
	records  []storage.Notification
	sessions map[string]string
	failList bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: map[string]string{}}
}

func (m *memoryStore) ListNotifications(context.Context) ([]storage.Notification, error) {
	return m.records, nil
}

func (m *memoryStore) ListNotificationsByUser(_ context.Context, userID string) ([]storage.Notification, error) {
	if m.failList {
		return nil, errors.New("db down")
	}
	var out []storage.Notification
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryStore) InsertNotification(_ context.Context, userID, displayName, ticker string, cond condition.Condition) (storage.Notification, error) {
	if !cond.Actionable() {
		return storage.Notification{}, storage.ErrNotActionable
	}
	payload, err := json.Marshal(cond)
	if err != nil {
		return storage.Notification{}, err
	}
	m.nextID++
	rec := storage.Notification{ID: m.nextID, UserID: userID, DisplayName: displayName, Ticker: ticker, Kind: cond.Kind.String(), ConditionJSON: payload, CreatedAt: time.Now()}
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memoryStore) DeleteNotificationsByUserAndTicker(_ context.Context, userID, ticker string) (int64, error) {
	return m.deleteWhere(func(r storage.Notification) bool { return r.UserID == userID && r.Ticker == ticker }), nil
}

func (m *memoryStore) DeleteNotificationsByUser(_ context.Context, userID string) (int64, error) {
	return m.deleteWhere(func(r storage.Notification) bool { return r.UserID == userID }), nil
}

func (m *memoryStore) deleteWhere(match func(storage.Notification) bool) int64 {
	kept := m.records[:0]
	var n int64
	for _, r := range m.records {
		if match(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return n
}

func (m *memoryStore) GetSession(_ context.Context, userID string) (storage.Session, bool, error) {
	ticker, ok := m.sessions[userID]
	return storage.Session{UserID: userID, SelectedTicker: ticker}, ok, nil
}

func (m *memoryStore) SetSelectedTicker(_ context.Context, userID, ticker string) error {
	m.sessions[userID] = ticker
	return nil
}

func (m *memoryStore) ClearSession(_ context.Context, userID string) error {
	delete(m.sessions, userID)
	return nil
}

type stubMarket struct {
	candidates []fetcher.Candidate
}

func (s stubMarket) FetchSnapshot(_ context.Context, ticker string) (fetcher.Snapshot, error) {
	if ticker != "7203.T" && ticker != "7267.T" {
		return fetcher.Snapshot{}, fetcher.ErrTickerNotFound
	}
	return fetcher.Snapshot{
		Ticker:       ticker,
		Name:         "トヨタ自動車",
		CurrentPrice: decimal.NewNullDecimal(decimal.NewFromInt(2900)),
	}, nil
}

func (s stubMarket) SearchTickers(context.Context, string) ([]fetcher.Candidate, error) {
	return s.candidates, nil
}

type stubProfiles struct{}

func (stubProfiles) Profile(_ context.Context, userID string) (alerting.Profile, error) {
	return alerting.Profile{UserID: userID, DisplayName: "taro"}, nil
}

func newTestHandler(store *memoryStore, market stubMarket) *Handler {
	return NewHandler(store, store, market, market, stubProfiles{}, zerolog.Nop())
}

func send(t *testing.T, h *Handler, text string) Reply {
	t.Helper()
	reply, err := h.HandleText(context.Background(), Message{UserID: "U1", Text: text})
	require.NoError(t, err)
	return reply
}

func TestSelectThenRegister(t *testing.T) {
	store := newMemoryStore()
	h := newTestHandler(store, stubMarket{})

	reply := send(t, h, "候補:7203.T")
	assert.Contains(t, reply.Text, "【7203.T】トヨタ自動車")
	assert.Contains(t, reply.Text, "通知条件を入力してください")
	assert.Equal(t, "7203.T", store.sessions["U1"])

	reply = send(t, h, "毎週月曜日の9時30分")
	assert.Contains(t, reply.Text, "通知を登録しました")
	require.Len(t, store.records, 1)
	assert.Equal(t, "weekly", store.records[0].Kind)
	assert.Equal(t, "taro", store.records[0].DisplayName)
	assert.NotContains(t, store.sessions, "U1")
}

func TestUnknownConditionKeepsSession(t *testing.T) {
	store := newMemoryStore()
	store.sessions["U1"] = "7203.T"
	h := newTestHandler(store, stubMarket{})

	reply := send(t, h, "そのうち教えて")
	assert.Contains(t, reply.Text, "読み取れませんでした")
	assert.Empty(t, store.records)
	assert.Equal(t, "7203.T", store.sessions["U1"])

	reply = send(t, h, "毎週月曜")
	assert.Contains(t, reply.Text, "読み取れませんでした")
	assert.Empty(t, store.records)
}

func TestFullWidthColonCommand(t *testing.T) {
	store := newMemoryStore()
	h := newTestHandler(store, stubMarket{})

	send(t, h, "候補：7203.T")
	assert.Equal(t, "7203.T", store.sessions["U1"])
}

func TestSelectUnknownTicker(t *testing.T) {
	store := newMemoryStore()
	h := newTestHandler(store, stubMarket{})

	reply := send(t, h, "候補:0000.T")
	assert.Contains(t, reply.Text, "見つかりませんでした")
	assert.Empty(t, store.sessions)
}

func TestSearchSingleCandidateSelects(t *testing.T) {
	store := newMemoryStore()
	h := newTestHandler(store, stubMarket{candidates: []fetcher.Candidate{{Ticker: "7203.T", Name: "トヨタ自動車"}}})

	reply := send(t, h, "トヨタ")
	assert.Contains(t, reply.Text, "【7203.T】")
	assert.Equal(t, "7203.T", store.sessions["U1"])
}

func TestSearchMultipleCandidatesOffersQuickReplies(t *testing.T) {
	store := newMemoryStore()
	h := newTestHandler(store, stubMarket{candidates: []fetcher.Candidate{
		{Ticker: "7203.T", Name: "トヨタ自動車"},
		{Ticker: "7267.T", Name: "本田技研工業"},
	}})

	reply := send(t, h, "自動車")
	require.Len(t, reply.QuickReplies, 2)
	assert.Equal(t, alerting.QuickReply{Label: "本田技研工業", Text: "候補:7267.T"}, reply.QuickReplies[1])
	assert.Empty(t, store.sessions)
}

func TestSearchNoCandidates(t *testing.T) {
	h := newTestHandler(newMemoryStore(), stubMarket{})
	reply := send(t, h, "存在しない会社")
	assert.Equal(t, "存在しない会社 に対応する証券コードが見つかりませんでした。", reply.Text)
}

func TestListRemoveReset(t *testing.T) {
	store := newMemoryStore()
	h := newTestHandler(store, stubMarket{})
	ctx := context.Background()
	_, err := store.InsertNotification(ctx, "U1", "", "7203.T", condition.Parse("毎日9時"))
	require.NoError(t, err)
	_, err = store.InsertNotification(ctx, "U1", "", "7203.T", condition.Parse("5%上がったら"))
	require.NoError(t, err)
	_, err = store.InsertNotification(ctx, "U1", "", "7267.T", condition.Parse("株価が3000円を超えたら"))
	require.NoError(t, err)
	_, err = store.InsertNotification(ctx, "U2", "", "7203.T", condition.Parse("毎日9時"))
	require.NoError(t, err)

	reply := send(t, h, "通知一覧")
	assert.Contains(t, reply.Text, "登録中の通知 (3件)")
	assert.Contains(t, reply.Text, "・【7267.T】株価が3000円以上になったとき")

	reply = send(t, h, "通知解除:7203.T")
	assert.Equal(t, "【7203.T】の通知を2件解除しました。", reply.Text)

	store.sessions["U1"] = "7267.T"
	reply = send(t, h, "リセット")
	assert.Equal(t, "すべての通知(1件)を解除しました。", reply.Text)
	assert.Empty(t, store.sessions)
	require.Len(t, store.records, 1)
	assert.Equal(t, "U2", store.records[0].UserID)
}

func TestCancelClearsSession(t *testing.T) {
	store := newMemoryStore()
	store.sessions["U1"] = "7203.T"
	h := newTestHandler(store, stubMarket{})

	reply := send(t, h, "キャンセル")
	assert.Contains(t, reply.Text, "キャンセル")
	assert.Empty(t, store.sessions)
}

func TestPersistenceFailureIsReturned(t *testing.T) {
	store := newMemoryStore()
	store.failList = true
	h := newTestHandler(store, stubMarket{})

	_, err := h.HandleText(context.Background(), Message{UserID: "U1", Text: "通知一覧"})
	require.Error(t, err)
}
