// Package webhook exposes the LINE callback, the sweep trigger and a health check over HTTP.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"kabu-alerts/internal/alerting"
	"kabu-alerts/internal/chat"
	"kabu-alerts/internal/service"
)

// TextHandler answers inbound chat text.
type TextHandler interface {
	HandleText(ctx context.Context, msg chat.Message) (chat.Reply, error)
}

// Sweeper runs one evaluation pass.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (service.SweepReport, error)
}

// Replier answers a webhook event.
type Replier interface {
	Reply(ctx context.Context, replyToken, text string, quick []alerting.QuickReply) error
}

// Options configure the HTTP surface.
type Options struct {
	Addr            string
	ChannelSecret   string
	TriggerToken    string
	ShutdownTimeout time.Duration
}

// Server wires HTTP endpoints around the chat handler and sweep service.
type Server struct {
	router  *gin.Engine
	opts    Options
	handler TextHandler
	sweeper Sweeper
	replier Replier
	now     func() time.Time
	logger  zerolog.Logger
}

// NewServer builds the gin router. handler and replier may be nil when only
// the trigger endpoint is needed; /callback then answers 503.
func NewServer(opts Options, handler TextHandler, sweeper Sweeper, replier Replier, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "webhook").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))

	s := &Server{
		router:  r,
		opts:    opts,
		handler: handler,
		sweeper: sweeper,
		replier: replier,
		now:     time.Now,
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.health)
	s.router.POST("/callback", s.callback)
	s.router.POST("/notify", s.notify)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	s.logger.Info().Msg("http server stopped")
	return ctx.Err()
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
