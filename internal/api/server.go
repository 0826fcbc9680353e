// Package api exposes the chat surface over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/23skdu/longbow-mesh/internal/logger"
	"github.com/23skdu/longbow-mesh/internal/metrics"
	"github.com/23skdu/longbow-mesh/internal/sampler"
)

// Generator produces a completion for a prompt. Satisfied by
// sampler.Sampler.
type Generator interface {
	Chat(ctx context.Context, prompt string) (*sampler.Output, error)
}

// Session is one conversation's server-side record. Sessions idle past
// their TTL are evicted.
type Session struct {
	ID      string `json:"id"`
	Turns   []Turn `json:"turns"`
	Created int64  `json:"created"`
}

type Turn struct {
	Prompt string `json:"prompt"`
	Reply  string `json:"reply"`
}

type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Prompt    string `json:"prompt"`
}

type ChatResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Tokens    int    `json:"tokens"`
}

type Server struct {
	gen      Generator
	sessions *ttlcache.Cache[string, *Session]
}

func NewServer(gen Generator, sessionTTL time.Duration) *Server {
	if sessionTTL <= 0 {
		sessionTTL = 10 * time.Minute
	}
	cache := ttlcache.New[string, *Session](
		ttlcache.WithTTL[string, *Session](sessionTTL),
	)
	go cache.Start()
	return &Server{gen: gen, sessions: cache}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/chat", s.handleChat)
	e.GET("/v1/sessions/:id", s.handleGetSession)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// Close stops the session eviction loop.
func (s *Server) Close() {
	s.sessions.Stop()
}

func (s *Server) handleChat(c *echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("bad_request").Inc()
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	if req.Prompt == "" {
		metrics.ChatRequestsTotal.WithLabelValues("bad_request").Inc()
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "prompt is required"})
	}

	sess := s.session(req.SessionID)

	out, err := s.gen.Chat(c.Request().Context(), req.Prompt)
	if err != nil {
		metrics.ChatRequestsTotal.WithLabelValues("error").Inc()
		logger.Log.Error("chat generation failed", "session", sess.ID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	sess.Turns = append(sess.Turns, Turn{Prompt: req.Prompt, Reply: out.Text})
	s.sessions.Set(sess.ID, sess, ttlcache.DefaultTTL)

	metrics.ChatRequestsTotal.WithLabelValues("ok").Inc()
	return c.JSON(http.StatusOK, ChatResponse{
		SessionID: sess.ID,
		Text:      out.Text,
		Tokens:    len(out.Tokens),
	})
}

func (s *Server) handleGetSession(c *echo.Context) error {
	item := s.sessions.Get(c.Param("id"))
	if item == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, item.Value())
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// session fetches an existing session or starts a new one.
func (s *Server) session(id string) *Session {
	if id != "" {
		if item := s.sessions.Get(id); item != nil {
			return item.Value()
		}
	}
	sess := &Session{
		ID:      uuid.NewString(),
		Created: time.Now().Unix(),
	}
	s.sessions.Set(sess.ID, sess, ttlcache.DefaultTTL)
	return sess
}
