package openai_compat

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"agentchat/internal/history"
	"agentchat/internal/providers"
)

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Headers     map[string]string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

// Client runs turns against an OpenAI compatible chat completions endpoint. It has
// no tools; tool traffic already present in a history is replayed as-is.
type Client struct {
	cfg Config
	now func() time.Time
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
	return &Client{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Run(ctx context.Context, req providers.RunRequest) (providers.RunResult, error) {
	msgs := make([]history.Message, 0, len(req.History)+2)
	msgs = append(msgs, req.History...)
	msgs = append(msgs, providers.UserTurn(req, c.now()))

	body, endpointURL, err := c.buildPayload(msgs)
	if err != nil {
		return providers.RunResult{}, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		text, model, retry, err := c.callOnce(ctx, endpointURL, body)
		if err == nil {
			if strings.TrimSpace(text) == "" {
				return providers.RunResult{}, providers.ErrEmptyOutput
			}
			if model == "" {
				model = c.cfg.Model
			}
			msgs = append(msgs, history.Response(model, c.now(), history.TextPart(text)))
			return providers.RunResult{Output: text, Messages: msgs}, nil
		}
		lastErr = err
		if !retry || attempt == c.cfg.MaxRetries {
			break
		}
		backoff := c.cfg.BackoffBase * (1 << attempt)
		select {
		case <-ctx.Done():
			return providers.RunResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return providers.RunResult{}, lastErr
}

type chatMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (c *Client) buildPayload(msgs []history.Message) ([]byte, string, error) {
	endpointURL, err := c.buildEndpointURL()
	if err != nil {
		return nil, "", err
	}

	payload := map[string]any{
		"model":    c.cfg.Model,
		"messages": toChatMessages(msgs),
	}
	if c.cfg.MaxTokens > 0 {
		payload["max_tokens"] = c.cfg.MaxTokens
	}
	if c.cfg.Temperature > 0 {
		payload["temperature"] = c.cfg.Temperature
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("marshal chat completion payload: %w", err)
	}
	return b, endpointURL, nil
}

// toChatMessages flattens a history into chat completion messages. The instruction
// is always sent first, whether or not the stored history still contains it.
func toChatMessages(msgs []history.Message) []chatMessage {
	out := []chatMessage{{Role: "system", Content: strPtr(providers.SystemPrompt)}}
	for _, m := range msgs {
		if m.Kind == history.KindResponse {
			am := chatMessage{Role: "assistant"}
			text := history.ResponseText(m)
			if text != "" {
				am.Content = strPtr(text)
			}
			for _, p := range m.Parts {
				if p.PartKind != history.PartToolCall {
					continue
				}
				tc := toolCall{ID: p.ToolCallID, Type: "function"}
				tc.Function.Name = p.ToolName
				tc.Function.Arguments = argsString(p)
				am.ToolCalls = append(am.ToolCalls, tc)
			}
			if am.Content != nil || len(am.ToolCalls) > 0 {
				out = append(out, am)
			}
			continue
		}
		for _, p := range m.Parts {
			switch p.PartKind {
			case history.PartUserPrompt:
				out = append(out, chatMessage{Role: "user", Content: strPtr(p.Text())})
			case history.PartToolReturn, history.PartRetryPrompt:
				if p.ToolCallID == "" {
					out = append(out, chatMessage{Role: "user", Content: strPtr(p.Text())})
					continue
				}
				out = append(out, chatMessage{Role: "tool", Content: strPtr(p.Text()), ToolCallID: p.ToolCallID})
			}
		}
	}
	return out
}

func argsString(p history.Part) string {
	args, err := p.ArgsMap()
	if err != nil {
		return "{}"
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func strPtr(s string) *string { return &s }

func (c *Client) callOnce(ctx context.Context, endpointURL string, body []byte) (text, model string, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", "", false, fmt.Errorf("build request: %w", err)
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
		return "", "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", "", false, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", "", true, fmt.Errorf("provider temporary status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", false, fmt.Errorf("provider status %d", resp.StatusCode)
	}

	text, model, err = parseChatCompletions(respBody)
	if err != nil {
		return "", "", false, err
	}
	return text, model, false, nil
}

func (c *Client) buildEndpointURL() (string, error) {
	base := strings.TrimSpace(c.cfg.BaseURL)
	if base == "" {
		return "", fmt.Errorf("base url is empty")
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base, nil
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/chat/completions"
	return u.String(), nil
}

func parseChatCompletions(body []byte) (string, string, error) {
	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content any `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("empty choices in chat completion response")
	}
	if resp.Choices[0].Text != "" {
		return resp.Choices[0].Text, resp.Model, nil
	}
	if content := anyToText(resp.Choices[0].Message.Content); strings.TrimSpace(content) != "" {
		return content, resp.Model, nil
	}
	return "", "", fmt.Errorf("missing message content in chat completion response")
}

func anyToText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				if txt, ok := m["text"].(string); ok {
					parts = append(parts, txt)
				}
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}
