package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"agentchat/internal/accounts"
	"agentchat/internal/apperr"
	"agentchat/internal/auth"
	"agentchat/internal/chat"
	"agentchat/internal/metrics"
)

type Deps struct {
	Chat           ChatService
	Accounts       AccountService
	Tokens         TokenVerifier
	Limiter        RateLimiter
	Images         ImageSource
	Store          Pinger
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
	AllowedOrigins []string
	HealthPath     string
	MetricsPath    string
}

const maxBodyBytes = 1 << 20

func NewRouter(d Deps) http.Handler {
	if d.HealthPath == "" {
		d.HealthPath = "/healthz"
	}
	if d.MetricsPath == "" {
		d.MetricsPath = "/metrics"
	}
	if d.Metrics == nil {
		d.Metrics = metrics.Global()
	}
	h := &Handler{
		chat:     d.Chat,
		accounts: d.Accounts,
		limiter:  d.Limiter,
		images:   d.Images,
		store:    d.Store,
		metrics:  d.Metrics,
		now:      time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(d.Logger))
	r.Use(requestIDLogger)
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(CORS(d.AllowedOrigins))

	r.Get(d.HealthPath, h.health)
	r.Handle(d.MetricsPath, promhttp.Handler())
	r.Post("/add_user", h.addUser)
	r.Post("/login", h.login)
	r.Get("/images/{imageID}", h.image)

	r.Group(func(r chi.Router) {
		r.Use(RequireUser(d.Tokens))
		r.Post("/ask_agent", h.askAgent)
		r.Get("/chat_sessions", h.chatSessions)
		r.Get("/chat_sessions/{chatSessionID}/history", h.chatHistory)
	})
	return r
}

type askRequest struct {
	CurrentUserPrompt *string `json:"current_user_prompt"`
	ChatSessionID     *string `json:"chat_session_id"`
}

type askResponse struct {
	AgentResponse string `json:"agent_response"`
	ChatSessionID string `json:"chat_session_id"`
}

func (h *Handler) askAgent(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	if req.CurrentUserPrompt == nil {
		writeErr(w, r, apperr.Validation("current_user_prompt is required"))
		return
	}

	if h.limiter != nil {
		allowed, _, resetAt, err := h.limiter.Allow(r.Context(), userID, h.now())
		switch {
		case err != nil:
			// redis trouble should not take the agent down with it
			hlog.FromRequest(r).Warn().Err(err).Msg("rate limiter unavailable")
		case !allowed:
			h.metrics.RateLimited.Inc()
			if wait := int(time.Until(resetAt).Seconds()); wait > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(wait))
			}
			writeErr(w, r, apperr.New(apperr.ErrRateLimited, "Too many requests, try again later"))
			return
		}
	}

	in := chat.AskInput{UserID: userID, Prompt: *req.CurrentUserPrompt}
	if req.ChatSessionID != nil {
		in.ChatSessionID = strings.TrimSpace(*req.ChatSessionID)
	}
	res, err := h.chat.Ask(r.Context(), in)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, askResponse{AgentResponse: res.AgentResponse, ChatSessionID: res.ChatSessionID})
}

type addUserRequest struct {
	FullName    *string `json:"full_name"`
	CompanyName *string `json:"company_name"`
	CompanyRole *string `json:"company_role"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Username    string `json:"username"`
	UserID      string `json:"user_id"`
}

func (h *Handler) addUser(w http.ResponseWriter, r *http.Request) {
	var req addUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	for field, v := range map[string]*string{"full_name": req.FullName, "email": req.Email, "password": req.Password} {
		if v == nil {
			writeErr(w, r, apperr.Validation(field+" is required"))
			return
		}
	}

	sess, err := h.accounts.Register(r.Context(), accounts.Registration{
		FullName:    *req.FullName,
		CompanyName: req.CompanyName,
		CompanyRole: req.CompanyRole,
		Email:       *req.Email,
		Password:    *req.Password,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Location", "/users/"+sess.UserID)
	JSON(w, http.StatusCreated, toTokenResponse(sess))
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeErr(w, r, apperr.Validation("request body must be form encoded"))
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		writeErr(w, r, apperr.Validation("username and password are required"))
		return
	}

	sess, err := h.accounts.Login(r.Context(), username, password)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	JSON(w, http.StatusOK, toTokenResponse(sess))
}

func toTokenResponse(s accounts.Session) tokenResponse {
	return tokenResponse{AccessToken: s.AccessToken, TokenType: s.TokenType, Username: s.Username, UserID: s.UserID}
}

type chatSessionResponse struct {
	ChatSessionID string    `json:"chat_session_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func (h *Handler) chatSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chat.Sessions(r.Context(), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]chatSessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, chatSessionResponse{ChatSessionID: s.ChatSessionID, CreatedAt: s.CreatedAt.UTC()})
	}
	JSON(w, http.StatusOK, out)
}

type promptResponse struct {
	PromptID  string    `json:"prompt_id"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) chatHistory(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.chat.History(r.Context(), auth.UserIDFromContext(r.Context()), chi.URLParam(r, "chatSessionID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]promptResponse, 0, len(prompts))
	for _, p := range prompts {
		out = append(out, promptResponse{PromptID: p.PromptID, Prompt: p.Prompt, Response: p.Response, CreatedAt: p.CreatedAt.UTC()})
	}
	JSON(w, http.StatusOK, out)
}

func (h *Handler) image(w http.ResponseWriter, r *http.Request) {
	img, err := h.images.Get(r.Context(), chi.URLParam(r, "imageID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	w.Header().Set("Content-Type", img.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img.Data)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{"status": "ok", "checks": map[string]string{"database": "ok"}}
	code := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
		status["status"] = "degraded"
		status["checks"] = map[string]string{"database": "unreachable"}
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, status)
}

// decodeJSON reads a JSON object body. Unknown fields are ignored.
func decodeJSON(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return apperr.Wrap(apperr.ErrValidation, "request body must be a JSON object", err)
	}
	return nil
}
