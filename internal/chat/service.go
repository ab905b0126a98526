// Package chat runs agent turns. A turn loads the session's stored history, hands it
// to the agent and appends whatever the agent added as new steps under a new prompt.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"agentchat/internal/apperr"
	"agentchat/internal/history"
	"agentchat/internal/ids"
	"agentchat/internal/metrics"
	"agentchat/internal/providers"
	"agentchat/internal/storage"
)

type Store interface {
	GetChatSession(ctx context.Context, chatSessionID string) (storage.ChatSession, error)
	InsertChatSession(ctx context.Context, cs storage.ChatSession) error
	ListChatSessions(ctx context.Context, userID string) ([]storage.ChatSession, error)
	InsertPrompt(ctx context.Context, p storage.Prompt) error
	ListPrompts(ctx context.Context, chatSessionID string) ([]storage.Prompt, error)
	InsertAgentSteps(ctx context.Context, steps []storage.AgentStep) error
	ListSessionSteps(ctx context.Context, chatSessionID string) ([]storage.AgentStep, error)
}

type Service struct {
	store        Store
	ids          *ids.Generator
	agent        providers.Provider
	timeout      time.Duration
	historyLimit int
	logger       zerolog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Config struct {
	Store        Store
	IDs          *ids.Generator
	Agent        providers.Provider
	Timeout      time.Duration
	HistoryLimit int
	Logger       zerolog.Logger
	Metrics      *metrics.Metrics
}

func New(cfg Config) *Service {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Service{
		store:        cfg.Store,
		ids:          cfg.IDs,
		agent:        cfg.Agent,
		timeout:      cfg.Timeout,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger.With().Str("component", "chat").Logger(),
		metrics:      m,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

type AskInput struct {
	UserID        string
	Prompt        string
	ChatSessionID string
}

type AskResult struct {
	AgentResponse string
	ChatSessionID string
}

var errSessionNotFound = apperr.NotFound("Chat session not found")

// Ask runs one turn. An empty ChatSessionID starts a new session, which is only
// created once the agent has answered.
func (s *Service) Ask(ctx context.Context, in AskInput) (AskResult, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return AskResult{}, apperr.Validation("current_user_prompt must not be empty")
	}
	log := s.logger.With().Str("user_id", in.UserID).Str("chat_session_id", in.ChatSessionID).Logger()

	if in.ChatSessionID != "" {
		if err := s.checkOwner(ctx, in.UserID, in.ChatSessionID); err != nil {
			return AskResult{}, err
		}
	}

	prev, err := s.loadHistory(ctx, in.ChatSessionID)
	if err != nil {
		s.metrics.TurnFailures.WithLabelValues("load").Inc()
		log.Error().Err(err).Msg("failed to load session history")
		return AskResult{}, apperr.Wrap(apperr.ErrInternal, "load history", err)
	}

	res, err := s.runAgent(ctx, in, prev)
	if err != nil {
		s.metrics.TurnFailures.WithLabelValues("agent").Inc()
		log.Error().Err(err).Int("history_len", len(prev)).Msg("agent invocation failed")
		return AskResult{}, apperr.Wrap(apperr.ErrAgentInvocation, "run agent", err)
	}

	newSteps, err := newStepRecords(prev, res.Messages)
	if err != nil {
		s.metrics.TurnFailures.WithLabelValues("agent").Inc()
		log.Error().Err(err).Msg("agent returned an unusable history")
		return AskResult{}, apperr.Wrap(apperr.ErrAgentInvocation, "reconcile history", err)
	}

	sessionID, err := s.persist(ctx, in, res.Output, len(prev), newSteps)
	if err != nil {
		s.metrics.TurnFailures.WithLabelValues("persist").Inc()
		log.Error().Err(err).Str("chat_session_id", sessionID).Msg("failed to persist turn")
		if errors.Is(err, storage.ErrStepIndexTaken) {
			return AskResult{}, apperr.Wrap(apperr.ErrConflict, "Chat session was updated by another request", err)
		}
		return AskResult{}, apperr.Wrap(apperr.ErrInternal, "persist turn", err)
	}

	s.metrics.TurnsTotal.Inc()
	s.metrics.StepsPersisted.Add(float64(len(newSteps)))
	log.Info().Str("chat_session_id", sessionID).Int("new_steps", len(newSteps)).Msg("turn completed")
	return AskResult{AgentResponse: res.Output, ChatSessionID: sessionID}, nil
}

func (s *Service) checkOwner(ctx context.Context, userID, chatSessionID string) error {
	if !ids.Valid(ids.KindSession, chatSessionID) {
		return errSessionNotFound
	}
	cs, err := s.store.GetChatSession(ctx, chatSessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return errSessionNotFound
	}
	if err != nil {
		return apperr.Wrap(apperr.ErrInternal, "get chat session", err)
	}
	// a foreign session looks the same as a missing one
	if cs.UserID != userID {
		return errSessionNotFound
	}
	return nil
}

func (s *Service) loadHistory(ctx context.Context, chatSessionID string) ([]history.Message, error) {
	if chatSessionID == "" {
		return nil, nil
	}
	steps, err := s.store.ListSessionSteps(ctx, chatSessionID)
	if err != nil {
		return nil, err
	}
	records := make([][]byte, len(steps))
	for i, st := range steps {
		if st.StepIndex != i {
			return nil, fmt.Errorf("session %s: step %s has index %d, want %d", chatSessionID, st.StepID, st.StepIndex, i)
		}
		records[i] = st.StepData
	}
	return history.Decode(records)
}

// runAgent sends a trailing window of prev and returns the agent's messages appended
// to the part of prev that was left out.
func (s *Service) runAgent(ctx context.Context, in AskInput, prev []history.Message) (providers.RunResult, error) {
	window := history.Window(prev, s.historyLimit)
	cut := len(prev) - len(window)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	started := time.Now()
	res, err := s.agent.Run(runCtx, providers.RunRequest{
		Prompt:        in.Prompt,
		History:       window,
		FirstTurn:     len(prev) == 0,
		ChatSessionID: in.ChatSessionID,
		UserID:        in.UserID,
	})
	s.metrics.AgentLatency.Observe(time.Since(started).Seconds())
	if err != nil {
		return providers.RunResult{}, err
	}

	full := make([]history.Message, 0, cut+len(res.Messages))
	full = append(full, prev[:cut]...)
	full = append(full, res.Messages...)
	res.Messages = full
	return res, nil
}

// newStepRecords encodes both histories and returns the records the agent appended.
// prev is re-encoded so that both sides share one canonical form.
func newStepRecords(prev, full []history.Message) ([][]byte, error) {
	prevRecords, err := history.Encode(prev)
	if err != nil {
		return nil, fmt.Errorf("encode stored history: %w", err)
	}
	fullRecords, err := history.Encode(full)
	if err != nil {
		return nil, fmt.Errorf("encode agent history: %w", err)
	}
	return history.DiffNewSteps(prevRecords, fullRecords)
}

// persist writes the session when new, then the prompt, then its steps. The writes
// are not wrapped in one transaction.
func (s *Service) persist(ctx context.Context, in AskInput, output string, offset int, records [][]byte) (string, error) {
	now := s.now()
	sessionID := in.ChatSessionID
	if sessionID == "" {
		id, err := s.ids.Mint(ctx, ids.KindSession, in.UserID, func(ctx context.Context, id string) error {
			return s.store.InsertChatSession(ctx, storage.ChatSession{ChatSessionID: id, UserID: in.UserID, CreatedAt: now})
		})
		if err != nil {
			return "", fmt.Errorf("create chat session: %w", err)
		}
		sessionID = id
	}

	promptID, err := s.ids.Mint(ctx, ids.KindPrompt, sessionID, func(ctx context.Context, id string) error {
		return s.store.InsertPrompt(ctx, storage.Prompt{
			PromptID:      id,
			ChatSessionID: sessionID,
			UserID:        in.UserID,
			Prompt:        in.Prompt,
			Response:      output,
			CreatedAt:     now,
		})
	})
	if err != nil {
		return sessionID, fmt.Errorf("insert prompt: %w", err)
	}

	_, err = s.ids.MintN(ctx, ids.KindStep, promptID, len(records), func(ctx context.Context, stepIDs []string) error {
		steps := make([]storage.AgentStep, len(records))
		for i, rec := range records {
			steps[i] = storage.AgentStep{
				StepID:        stepIDs[i],
				ChatSessionID: sessionID,
				PromptID:      promptID,
				StepIndex:     offset + i,
				StepData:      rec,
				CreatedAt:     now,
			}
		}
		return s.store.InsertAgentSteps(ctx, steps)
	})
	if err != nil {
		return sessionID, fmt.Errorf("insert agent steps: %w", err)
	}
	return sessionID, nil
}

// Sessions lists the caller's sessions, oldest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]storage.ChatSession, error) {
	out, err := s.store.ListChatSessions(ctx, userID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "list chat sessions", err)
	}
	return out, nil
}

// History lists the prompts of one of the caller's sessions.
func (s *Service) History(ctx context.Context, userID, chatSessionID string) ([]storage.Prompt, error) {
	if err := s.checkOwner(ctx, userID, chatSessionID); err != nil {
		return nil, err
	}
	out, err := s.store.ListPrompts(ctx, chatSessionID)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrInternal, "list prompts", err)
	}
	return out, nil
}
