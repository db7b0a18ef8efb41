package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kabu-alerts/internal/alerting"
	"kabu-alerts/internal/chat"
	"kabu-alerts/internal/service"
)

const testSecret = "channel-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type echoHandler struct {
	got []chat.Message
	err error
}

func (e *echoHandler) HandleText(_ context.Context, msg chat.Message) (chat.Reply, error) {
	e.got = append(e.got, msg)
	if e.err != nil {
		return chat.Reply{}, e.err
	}
	return chat.Reply{Text: "echo:" + msg.Text, QuickReplies: []alerting.QuickReply{{Label: "a", Text: "候補:1"}}}, nil
}

type sentReply struct {
	token string
	text  string
	quick []alerting.QuickReply
}

type recordingReplier struct {
	sent []sentReply
}

func (r *recordingReplier) Reply(_ context.Context, token, text string, quick []alerting.QuickReply) error {
	r.sent = append(r.sent, sentReply{token: token, text: text, quick: quick})
	return nil
}

type stubSweeper struct {
	report service.SweepReport
	err    error
	calls  int
	ctxErr error
}

func (s *stubSweeper) Sweep(ctx context.Context, now time.Time) (service.SweepReport, error) {
	s.calls++
	s.ctxErr = ctx.Err()
	s.report.At = now
	return s.report, s.err
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func newTestServer(h TextHandler, sw Sweeper, r Replier, token string) *Server {
	return NewServer(Options{ChannelSecret: testSecret, TriggerToken: token}, h, sw, r, zerolog.Nop())
}

const textEvent = `{"events":[
  {"type":"message","replyToken":"rt-1","source":{"userId":"U1"},"message":{"type":"text","text":"トヨタ"}},
  {"type":"message","replyToken":"rt-2","source":{"userId":"U1"},"message":{"type":"sticker"}},
  {"type":"follow","replyToken":"rt-3","source":{"userId":"U2"}}
]}`

func TestHealth(t *testing.T) {
	srv := newTestServer(nil, nil, nil, "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCallbackDispatchesTextEvents(t *testing.T) {
	handler := &echoHandler{}
	replier := &recordingReplier{}
	srv := newTestServer(handler, nil, replier, "")

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(textEvent))
	req.Header.Set("X-Line-Signature", sign(textEvent))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, handler.got, 1)
	assert.Equal(t, chat.Message{UserID: "U1", Text: "トヨタ"}, handler.got[0])
	require.Len(t, replier.sent, 1)
	assert.Equal(t, "rt-1", replier.sent[0].token)
	assert.Equal(t, "echo:トヨタ", replier.sent[0].text)
	assert.Len(t, replier.sent[0].quick, 1)
}

func TestCallbackRejectsBadSignature(t *testing.T) {
	handler := &echoHandler{}
	srv := newTestServer(handler, nil, &recordingReplier{}, "")

	for _, sig := range []string{"", "not-base64!!", sign(textEvent + " ")} {
		req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(textEvent))
		if sig != "" {
			req.Header.Set("X-Line-Signature", sig)
		}
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "signature %q", sig)
	}
	assert.Empty(t, handler.got)
}

func TestCallbackRepliesWithFailureOnHandlerError(t *testing.T) {
	replier := &recordingReplier{}
	srv := newTestServer(&echoHandler{err: errors.New("db down")}, nil, replier, "")

	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(textEvent))
	req.Header.Set("X-Line-Signature", sign(textEvent))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, replier.sent, 1)
	assert.Equal(t, failureReply, replier.sent[0].text)
}

func TestNotifyRunsSweep(t *testing.T) {
	sweeper := &stubSweeper{report: service.SweepReport{Evaluated: 3, Fired: 1, Skipped: 1}}
	srv := newTestServer(nil, sweeper, nil, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notify", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 3, body["evaluated"])
	assert.EqualValues(t, 1, body["fired"])
	assert.Equal(t, 1, sweeper.calls)
}

func TestNotifySweepOutlivesCallerDisconnect(t *testing.T) {
	sweeper := &stubSweeper{report: service.SweepReport{Evaluated: 2, Fired: 2}}
	srv := newTestServer(nil, sweeper, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/notify", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, 1, sweeper.calls)
	assert.NoError(t, sweeper.ctxErr)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotifyReturns500OnStoreFailure(t *testing.T) {
	sweeper := &stubSweeper{err: errors.New("list notifications: connection refused")}
	srv := newTestServer(nil, sweeper, nil, "")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notify", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestNotifyChecksTriggerToken(t *testing.T) {
	sweeper := &stubSweeper{}
	srv := newTestServer(nil, sweeper, nil, "s3cret")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notify", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, sweeper.calls)

	req := httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.Header.Set("X-Trigger-Token", "s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, sweeper.calls)
}
