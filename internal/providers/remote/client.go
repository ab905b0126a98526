// Package remote calls a hosted agent over HTTP. The service posts the prompt with
// the stored message history and receives the output with the updated history.
//
// Request:  {"prompt": "...", "message_history": [...], "chat_session_id": "...", "user_id": "..."}
// Response: {"output": "...", "all_messages": [...]} or {"output": "...", "new_messages": [...]}
package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"agentchat/internal/history"
	"agentchat/internal/providers"
)

type Config struct {
	URL         string
	APIKey      string
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

type runPayload struct {
	Prompt         string            `json:"prompt"`
	MessageHistory []json.RawMessage `json:"message_history"`
	ChatSessionID  string            `json:"chat_session_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	FirstTurn      bool              `json:"first_turn"`
}

type runResponse struct {
	Output      string            `json:"output"`
	AllMessages []json.RawMessage `json:"all_messages"`
	NewMessages []json.RawMessage `json:"new_messages"`
}

func (c *Client) Run(ctx context.Context, req providers.RunRequest) (providers.RunResult, error) {
	body, err := c.renderBody(req)
	if err != nil {
		return providers.RunResult{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		out, retry, err := c.callOnce(ctx, body)
		if err == nil {
			return c.toResult(req, out)
		}
		lastErr = err
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return providers.RunResult{}, ctx.Err()
		case <-time.After(c.cfg.BackoffBase * (1 << attempt)):
		}
	}

	return providers.RunResult{}, lastErr
}

func (c *Client) renderBody(req providers.RunRequest) ([]byte, error) {
	records, err := history.Encode(req.History)
	if err != nil {
		return nil, fmt.Errorf("encode message history: %w", err)
	}
	msgs := make([]json.RawMessage, len(records))
	for i, r := range records {
		msgs[i] = r
	}
	b, err := json.Marshal(runPayload{
		Prompt:         req.Prompt,
		MessageHistory: msgs,
		ChatSessionID:  req.ChatSessionID,
		UserID:         req.UserID,
		FirstTurn:      req.FirstTurn,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal remote payload: %w", err)
	}
	return b, nil
}

// toResult accepts either the full history or only the messages of this run.
func (c *Client) toResult(req providers.RunRequest, out runResponse) (providers.RunResult, error) {
	if strings.TrimSpace(out.Output) == "" {
		return providers.RunResult{}, providers.ErrEmptyOutput
	}

	var (
		raw    []json.RawMessage
		prefix []history.Message
	)
	switch {
	case out.AllMessages != nil:
		raw = out.AllMessages
	case out.NewMessages != nil:
		raw = out.NewMessages
		prefix = req.History
	default:
		return providers.RunResult{}, fmt.Errorf("remote response carries no messages")
	}

	records := make([][]byte, len(raw))
	for i, r := range raw {
		records[i] = r
	}
	decoded, err := history.Decode(records)
	if err != nil {
		return providers.RunResult{}, fmt.Errorf("decode remote messages: %w", err)
	}

	msgs := make([]history.Message, 0, len(prefix)+len(decoded))
	msgs = append(msgs, prefix...)
	msgs = append(msgs, decoded...)
	if len(msgs) <= len(req.History) {
		return providers.RunResult{}, fmt.Errorf("remote agent returned %d messages for a history of %d", len(msgs), len(req.History))
	}
	return providers.RunResult{Output: out.Output, Messages: msgs}, nil
}

func (c *Client) callOnce(ctx context.Context, body []byte) (out runResponse, retry bool, err error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return out, false, fmt.Errorf("remote agent url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return out, false, fmt.Errorf("build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.cfg.APIKey) != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey))
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return out, true, fmt.Errorf("remote request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return out, false, fmt.Errorf("read remote response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return out, true, fmt.Errorf("remote agent temporary status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, false, fmt.Errorf("remote agent status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(b, &out); err != nil {
		return out, false, fmt.Errorf("decode remote response: %w", err)
	}
	return out, false, nil
}
