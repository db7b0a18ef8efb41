package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"kabu-alerts/internal/chat"
	"kabu-alerts/internal/service"
)

const (
	signatureHeader    = "X-Line-Signature"
	triggerTokenHeader = "X-Trigger-Token"
	maxCallbackBytes   = 1 << 20

	failureReply = "エラーが発生しました。時間をおいて再度お試しください。"
)

type callbackBody struct {
	Events []lineEvent `json:"events"`
}

type lineEvent struct {
	Type       string `json:"type"`
	ReplyToken string `json:"replyToken"`
	Source     struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

// notifyResponse flattens the sweep report next to the status field.
type notifyResponse struct {
	Status string `json:"status"`
	service.SweepReport
}

// ValidSignature checks the base64 HMAC-SHA256 of body under secret.
func ValidSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

func (s *Server) callback(c *gin.Context) {
	if s.handler == nil || s.replier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat handler not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body"})
		return
	}
	if !ValidSignature(s.opts.ChannelSecret, body, c.GetHeader(signatureHeader)) {
		s.logger.Warn().Str("request_id", c.GetString(requestIDKey)).Msg("rejected callback with invalid signature")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var payload callbackBody
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx := c.Request.Context()
	for _, ev := range payload.Events {
		if ev.Type != "message" || ev.Message.Type != "text" {
			continue
		}
		log := s.logger.With().Str("user_id", ev.Source.UserID).Str("request_id", c.GetString(requestIDKey)).Logger()

		reply, err := s.handler.HandleText(ctx, chat.Message{UserID: ev.Source.UserID, Text: ev.Message.Text})
		if err != nil {
			log.Error().Err(err).Msg("failed to handle message")
			reply = chat.Reply{Text: failureReply}
		}
		if reply.Text == "" {
			continue
		}
		if err := s.replier.Reply(ctx, ev.ReplyToken, reply.Text, reply.QuickReplies); err != nil {
			log.Error().Err(err).Msg("failed to send reply")
		}
	}

	c.String(http.StatusOK, "OK")
}

func (s *Server) notify(c *gin.Context) {
	if s.opts.TriggerToken != "" {
		got := c.GetHeader(triggerTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.opts.TriggerToken)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid trigger token"})
			return
		}
	}
	if s.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "sweep not configured"})
		return
	}

	// A sweep runs to completion even if the caller hangs up.
	report, err := s.sweeper.Sweep(context.WithoutCancel(c.Request.Context()), s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("triggered sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, notifyResponse{Status: "ok", SweepReport: report})
}
