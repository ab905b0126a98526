package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"agentchat/internal/history"
	"agentchat/internal/providers"
)

const (
	agentModel  = "agent-model"
	promptModel = "prompt-model"
	imageModel  = "image-model"
)

type fakeModels struct {
	mu         sync.Mutex
	agentTurns []*genai.GenerateContentResponse
	agentCalls [][]*genai.Content
	promptErr  map[string]error
	imageErr   map[string]error
	imageCalls []string
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if model == promptModel {
		idea := contents[0].Parts[0].Text
		if err := f.promptErr[idea]; err != nil {
			return nil, err
		}
		return textResponse("detailed " + idea), nil
	}
	f.agentCalls = append(f.agentCalls, contents)
	if len(f.agentTurns) == 0 {
		return nil, errors.New("no scripted turn")
	}
	next := f.agentTurns[0]
	f.agentTurns = f.agentTurns[1:]
	return next, nil
}

func (f *fakeModels) GenerateImages(_ context.Context, _ string, prompt string, _ *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls = append(f.imageCalls, prompt)
	if err := f.imageErr[prompt]; err != nil {
		return nil, err
	}
	return &genai.GenerateImagesResponse{GeneratedImages: []*genai.GeneratedImage{
		{Image: &genai.Image{ImageBytes: []byte("png:" + prompt), MIMEType: "image/png"}},
	}}, nil
}

type memSink struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (s *memSink) SaveImage(_ context.Context, chatSessionID, name, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saved == nil {
		s.saved = map[string][]byte{}
	}
	s.saved[name] = data
	return fmt.Sprintf("http://images.test/%s/%s", chatSessionID, name), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: genai.NewContentFromText(text, genai.RoleModel)},
	}}
}

func callResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: genai.NewContentFromParts([]*genai.Part{genai.NewPartFromFunctionCall(name, args)}, genai.RoleModel)},
	}}
}

func newTestRuntime(models *fakeModels, sink ImageSink) *Runtime {
	r := newRuntime(models, Config{
		Model:          agentModel,
		PromptingModel: promptModel,
		ImageModel:     imageModel,
		MaxToolRounds:  4,
		FanoutLimit:    2,
	}, sink, zerolog.Nop())
	r.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	n := 0
	r.newID = func() string { n++; return fmt.Sprintf("call_%d", n) }
	return r
}

func TestRunFirstTurnAddsSystemPrompt(t *testing.T) {
	models := &fakeModels{agentTurns: []*genai.GenerateContentResponse{textResponse("hello there")}}
	r := newTestRuntime(models, &memSink{})

	res, err := r.Run(context.Background(), providers.RunRequest{Prompt: "hi", FirstTurn: true})
	require.NoError(t, err)
	assert.Equal(t, "hello there", res.Output)
	require.Len(t, res.Messages, 2)
	assert.True(t, history.HasSystemPrompt(res.Messages))
	assert.Equal(t, history.KindResponse, res.Messages[1].Kind)
	assert.Equal(t, agentModel, res.Messages[1].ModelName)

	// system prompt is not replayed as content
	require.Len(t, models.agentCalls, 1)
	require.Len(t, models.agentCalls[0], 1)
	assert.Equal(t, "hi", models.agentCalls[0][0].Parts[0].Text)
}

func TestRunReplaysHistory(t *testing.T) {
	prev := []history.Message{
		history.Request(history.UserPrompt("a cat", time.Time{})),
		history.Response(agentModel, time.Time{}, history.TextPart("here is a cat")),
	}
	models := &fakeModels{agentTurns: []*genai.GenerateContentResponse{textResponse("a dog")}}
	r := newTestRuntime(models, &memSink{})

	res, err := r.Run(context.Background(), providers.RunRequest{Prompt: "now a dog", History: prev})
	require.NoError(t, err)
	require.Len(t, res.Messages, 4)
	assert.Equal(t, prev[0], res.Messages[0])
	assert.False(t, history.HasSystemPrompt(res.Messages))

	sent := models.agentCalls[0]
	require.Len(t, sent, 3)
	assert.Equal(t, string(genai.RoleUser), sent[0].Role)
	assert.Equal(t, string(genai.RoleModel), sent[1].Role)
	assert.Equal(t, "now a dog", sent[2].Parts[0].Text)
}

func TestRunToolLoop(t *testing.T) {
	models := &fakeModels{
		imageErr: map[string]error{"detailed red fox": errors.New("quota")},
		agentTurns: []*genai.GenerateContentResponse{
			callResponse(toolGeneratePrompts, map[string]any{"idea": "fox", "n_images": float64(2)}),
			callResponse(toolGenerateImages, map[string]any{"requests": []any{
				map[string]any{"prompt": "detailed fox", "image_name": "fox_1"},
				map[string]any{"prompt": "detailed red fox", "image_name": "fox_2"},
			}}),
			textResponse("Here is fox_1. fox_2 failed."),
		},
	}
	sink := &memSink{}
	r := newTestRuntime(models, sink)

	res, err := r.Run(context.Background(), providers.RunRequest{Prompt: "two foxes", ChatSessionID: "CSID1-001", FirstTurn: true})
	require.NoError(t, err)
	assert.Equal(t, "Here is fox_1. fox_2 failed.", res.Output)

	kinds := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []string{"request", "response", "request", "response", "request", "response"}, kinds)

	call := res.Messages[1].Parts[0]
	assert.Equal(t, history.PartToolCall, call.PartKind)
	assert.Equal(t, "call_1", call.ToolCallID)

	ret := res.Messages[2].Parts[0]
	assert.Equal(t, history.PartToolReturn, ret.PartKind)
	assert.Equal(t, "call_1", ret.ToolCallID)
	var prompts []promptResult
	require.NoError(t, json.Unmarshal(ret.Content, &prompts))
	assert.Equal(t, []promptResult{
		{Prompt: "detailed fox", ImageName: "fox_1"},
		{Prompt: "detailed fox", ImageName: "fox_2"},
	}, prompts)

	var images []imageResult
	require.NoError(t, json.Unmarshal(res.Messages[4].Parts[0].Content, &images))
	require.Len(t, images, 2)
	assert.Equal(t, "http://images.test/CSID1-001/fox_1", images[0].URL)
	assert.Empty(t, images[0].Error)
	assert.Equal(t, "fox_2", images[1].ImageName)
	assert.Equal(t, "image generation failed", images[1].Error)
	assert.Equal(t, []byte("png:detailed fox"), sink.saved["fox_1"])

	// encoded history decodes cleanly
	records, err := history.Encode(res.Messages)
	require.NoError(t, err)
	_, err = history.Decode(records)
	require.NoError(t, err)
}

func TestRunPromptVariantFailureIsolated(t *testing.T) {
	models := &fakeModels{
		promptErr: map[string]error{"owl": errors.New("unavailable")},
		agentTurns: []*genai.GenerateContentResponse{
			callResponse(toolGeneratePrompts, map[string]any{"idea": "owl", "n_images": float64(1)}),
			textResponse("sorry"),
		},
	}
	r := newTestRuntime(models, &memSink{})

	res, err := r.Run(context.Background(), providers.RunRequest{Prompt: "an owl"})
	require.NoError(t, err)
	var prompts []promptResult
	require.NoError(t, json.Unmarshal(res.Messages[2].Parts[0].Content, &prompts))
	assert.Equal(t, []promptResult{{ImageName: "owl_1", Error: "prompt generation failed"}}, prompts)
}

func TestRunUnknownToolBecomesRetryPrompt(t *testing.T) {
	models := &fakeModels{agentTurns: []*genai.GenerateContentResponse{
		callResponse("draw", map[string]any{}),
		textResponse("ok"),
	}}
	r := newTestRuntime(models, &memSink{})

	res, err := r.Run(context.Background(), providers.RunRequest{Prompt: "x"})
	require.NoError(t, err)
	retry := res.Messages[2].Parts[0]
	assert.Equal(t, history.PartRetryPrompt, retry.PartKind)
	assert.True(t, strings.Contains(retry.Text(), "unknown tool"))

	second := models.agentCalls[1]
	last := second[len(second)-1].Parts[0]
	require.NotNil(t, last.FunctionResponse)
	assert.Equal(t, "draw", last.FunctionResponse.Name)
}

func TestRunErrors(t *testing.T) {
	t.Run("model failure", func(t *testing.T) {
		r := newTestRuntime(&fakeModels{}, &memSink{})
		_, err := r.Run(context.Background(), providers.RunRequest{Prompt: "x"})
		require.Error(t, err)
	})
	t.Run("empty output", func(t *testing.T) {
		r := newTestRuntime(&fakeModels{agentTurns: []*genai.GenerateContentResponse{{}}}, &memSink{})
		_, err := r.Run(context.Background(), providers.RunRequest{Prompt: "x"})
		require.ErrorIs(t, err, providers.ErrEmptyOutput)
	})
	t.Run("tool rounds exhausted", func(t *testing.T) {
		turns := make([]*genai.GenerateContentResponse, 0, 4)
		for range 4 {
			turns = append(turns, callResponse("draw", nil))
		}
		r := newTestRuntime(&fakeModels{agentTurns: turns}, &memSink{})
		_, err := r.Run(context.Background(), providers.RunRequest{Prompt: "x"})
		require.ErrorIs(t, err, ErrTooManyToolRounds)
	})
}
