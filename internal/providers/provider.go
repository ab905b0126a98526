// Package providers defines the agent runtime contract the chat service calls for
// each turn.
package providers

import (
	"context"
	"errors"
	"time"

	"agentchat/internal/history"
)

// SystemPrompt is the instruction given to the image generation assistant.
const SystemPrompt = `You are an assistant that helps users create images.

You have two tools:
- generate_prompts(idea, n_images): turns a short idea into detailed image generation prompts.
- generate_images(requests): renders each prompt and returns a URL per image.

When the user asks for an image, first call generate_prompts with their idea and the number of
images they want (1 if unspecified), then pass the returned prompts to generate_images.
Show every resulting URL together with its image name. If an image failed, say so briefly.
Use the previous messages of the conversation as context for follow-up requests.
Always answer in the language the user writes in.`

var ErrEmptyOutput = errors.New("agent returned no output")

type RunRequest struct {
	Prompt string
	// History is the prior conversation, oldest first. It may be a trailing window of
	// the stored history.
	History []history.Message
	// FirstTurn is set when the session has no stored history at all.
	FirstTurn     bool
	ChatSessionID string
	UserID        string
}

type RunResult struct {
	Output string
	// Messages is History followed by every message produced in this run.
	Messages []history.Message
}

type Provider interface {
	Run(ctx context.Context, req RunRequest) (RunResult, error)
}

// UserTurn builds the request message that opens a turn.
func UserTurn(req RunRequest, now time.Time) history.Message {
	if req.FirstTurn {
		return history.Request(history.SystemPrompt(SystemPrompt), history.UserPrompt(req.Prompt, now))
	}
	return history.Request(history.UserPrompt(req.Prompt, now))
}
