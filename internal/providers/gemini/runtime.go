// Package gemini runs the image generation assistant on Google's Gemini models. The
// tool loop runs in process: each round sends the conversation to the model, executes
// any function calls it returns and feeds the results back until the model answers
// with text.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"agentchat/internal/history"
	"agentchat/internal/providers"
)

var ErrTooManyToolRounds = errors.New("agent exceeded tool call rounds")

// modelClient is the part of genai.Models the runtime uses.
type modelClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// ImageSink stores a rendered image and returns the URL it is served at.
type ImageSink interface {
	SaveImage(ctx context.Context, chatSessionID, name, mimeType string, data []byte) (string, error)
}

type Config struct {
	Model           string
	Temperature     float64
	PromptingModel  string
	PromptingTemp   float64
	ImageModel      string
	ImagesPerPrompt int
	MaxToolRounds   int
	FanoutLimit     int
}

type Runtime struct {
	models modelClient
	sink   ImageSink
	cfg    Config
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

var _ providers.Provider = (*Runtime)(nil)

// New builds a Gemini API client for apiKey.
func New(ctx context.Context, apiKey string, cfg Config, sink ImageSink, logger zerolog.Logger) (*Runtime, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newRuntime(client.Models, cfg, sink, logger), nil
}

func newRuntime(models modelClient, cfg Config, sink ImageSink, logger zerolog.Logger) *Runtime {
	if cfg.MaxToolRounds < 1 {
		cfg.MaxToolRounds = 8
	}
	if cfg.FanoutLimit < 1 {
		cfg.FanoutLimit = 4
	}
	if cfg.ImagesPerPrompt < 1 {
		cfg.ImagesPerPrompt = 1
	}
	if cfg.PromptingModel == "" {
		cfg.PromptingModel = cfg.Model
	}
	return &Runtime{
		models: models,
		sink:   sink,
		cfg:    cfg,
		logger: logger.With().Str("component", "gemini").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return "call_" + uuid.NewString() },
	}
}

func (r *Runtime) Run(ctx context.Context, req providers.RunRequest) (providers.RunResult, error) {
	msgs := make([]history.Message, 0, len(req.History)+4)
	msgs = append(msgs, req.History...)
	msgs = append(msgs, providers.UserTurn(req, r.now()))

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(providers.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(r.cfg.Temperature)),
		Tools:             []*genai.Tool{{FunctionDeclarations: toolDeclarations()}},
	}

	for round := 0; round < r.cfg.MaxToolRounds; round++ {
		resp, err := r.models.GenerateContent(ctx, r.cfg.Model, toContents(msgs), config)
		if err != nil {
			return providers.RunResult{}, fmt.Errorf("generate content: %w", err)
		}
		reply, calls := r.fromResponse(resp)
		msgs = append(msgs, reply)

		if len(calls) == 0 {
			out := history.ResponseText(reply)
			if out == "" {
				return providers.RunResult{}, providers.ErrEmptyOutput
			}
			return providers.RunResult{Output: out, Messages: msgs}, nil
		}

		returns := make([]history.Part, 0, len(calls))
		for _, call := range calls {
			returns = append(returns, r.callTool(ctx, req.ChatSessionID, call))
		}
		msgs = append(msgs, history.Request(returns...))
	}
	return providers.RunResult{}, fmt.Errorf("%w (%d)", ErrTooManyToolRounds, r.cfg.MaxToolRounds)
}

// fromResponse converts the first candidate into a response message and returns its
// tool calls with ids assigned.
func (r *Runtime) fromResponse(resp *genai.GenerateContentResponse) (history.Message, []history.Part) {
	var parts, calls []history.Part
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, p := range resp.Candidates[0].Content.Parts {
			switch {
			case p == nil || p.Thought:
			case p.FunctionCall != nil:
				id := p.FunctionCall.ID
				if id == "" {
					id = r.newID()
				}
				call := history.ToolCall(p.FunctionCall.Name, id, p.FunctionCall.Args)
				parts = append(parts, call)
				calls = append(calls, call)
			case p.Text != "":
				parts = append(parts, history.TextPart(p.Text))
			}
		}
	}
	return history.Response(r.cfg.Model, r.now(), parts...), calls
}
