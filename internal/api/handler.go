// Package api is the HTTP surface of the service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/hlog"

	"agentchat/internal/accounts"
	"agentchat/internal/apperr"
	"agentchat/internal/chat"
	"agentchat/internal/metrics"
	"agentchat/internal/storage"
)

type ChatService interface {
	Ask(ctx context.Context, in chat.AskInput) (chat.AskResult, error)
	Sessions(ctx context.Context, userID string) ([]storage.ChatSession, error)
	History(ctx context.Context, userID, chatSessionID string) ([]storage.Prompt, error)
}

type AccountService interface {
	Register(ctx context.Context, in accounts.Registration) (accounts.Session, error)
	Login(ctx context.Context, email, password string) (accounts.Session, error)
}

type TokenVerifier interface {
	Verify(token string) (string, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error)
}

type ImageSource interface {
	Get(ctx context.Context, imageID string) (storage.GeneratedImage, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	chat     ChatService
	accounts AccountService
	limiter  RateLimiter
	images   ImageSource
	store    Pinger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"detail": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a {"detail": message} body.
func Error(w http.ResponseWriter, status int, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	JSON(w, status, map[string]string{"detail": message})
}

// writeErr maps err onto its status and a caller-safe detail. Server-side failures
// are logged with the request's logger.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
	} else {
		hlog.FromRequest(r).Debug().Err(err).Int("status", status).Msg("request rejected")
	}
	Error(w, status, apperr.Detail(err))
}
