// Package history models the agent runtime's message history and converts it to
// and from the flat step records kept in the store.
//
// A history is an ordered list of messages. Each message is either a request sent
// to the model or a response produced by it, and carries typed parts:
//
//	request:  system-prompt, user-prompt, tool-return, retry-prompt
//	response: text, tool-call
//
// One message is stored as one agent step.
package history

import (
	"time"

	"github.com/goccy/go-json"
)

const (
	KindRequest  = "request"
	KindResponse = "response"
)

const (
	PartSystemPrompt = "system-prompt"
	PartUserPrompt   = "user-prompt"
	PartToolCall     = "tool-call"
	PartToolReturn   = "tool-return"
	PartRetryPrompt  = "retry-prompt"
	PartText         = "text"
)

type Message struct {
	Kind         string     `json:"kind"`
	Parts        []Part     `json:"parts"`
	Instructions string     `json:"instructions,omitempty"`
	ModelName    string     `json:"model_name,omitempty"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

type Part struct {
	PartKind   string          `json:"part_kind"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

// Text returns the part content as a string. Non-string content is returned as its
// JSON text.
func (p Part) Text() string {
	if len(p.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Content, &s); err == nil {
		return s
	}
	return string(p.Content)
}

// ArgsMap decodes tool-call arguments. Arguments stored as a JSON string holding an
// object are unwrapped.
func (p Part) ArgsMap() (map[string]any, error) {
	out := map[string]any{}
	if len(p.Args) == 0 {
		return out, nil
	}
	var raw string
	if err := json.Unmarshal(p.Args, &raw); err == nil {
		if raw == "" {
			return out, nil
		}
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	if err := json.Unmarshal(p.Args, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func SystemPrompt(text string) Part {
	return Part{PartKind: PartSystemPrompt, Content: mustRaw(text)}
}

func UserPrompt(text string, at time.Time) Part {
	return Part{PartKind: PartUserPrompt, Content: mustRaw(text), Timestamp: timePtr(at)}
}

func TextPart(text string) Part {
	return Part{PartKind: PartText, Content: mustRaw(text)}
}

func ToolCall(name, callID string, args map[string]any) Part {
	if args == nil {
		args = map[string]any{}
	}
	return Part{PartKind: PartToolCall, ToolName: name, Args: mustRaw(args), ToolCallID: callID}
}

func ToolReturn(name, callID string, content any, at time.Time) Part {
	return Part{PartKind: PartToolReturn, ToolName: name, Content: mustRaw(content), ToolCallID: callID, Timestamp: timePtr(at)}
}

func RetryPrompt(name, callID, text string, at time.Time) Part {
	return Part{PartKind: PartRetryPrompt, ToolName: name, Content: mustRaw(text), ToolCallID: callID, Timestamp: timePtr(at)}
}

func Request(parts ...Part) Message {
	return Message{Kind: KindRequest, Parts: parts}
}

func Response(model string, at time.Time, parts ...Part) Message {
	return Message{Kind: KindResponse, Parts: parts, ModelName: model, Timestamp: timePtr(at)}
}

// ResponseText joins the text parts of a response message.
func ResponseText(m Message) string {
	out := ""
	for _, p := range m.Parts {
		if p.PartKind != PartText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text()
	}
	return out
}

// HasSystemPrompt reports whether any request in msgs already carries a system prompt.
func HasSystemPrompt(msgs []Message) bool {
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.PartKind == PartSystemPrompt {
				return true
			}
		}
	}
	return false
}

// Window returns the trailing messages to send to a model, at most limit long and
// starting at a request that carries a user prompt so that tool calls are never
// separated from their returns. limit <= 0 returns msgs unchanged.
func Window(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	for start := len(msgs) - limit; start < len(msgs); start++ {
		if isUserTurn(msgs[start]) {
			return msgs[start:]
		}
	}
	for start := len(msgs) - 1; start >= 0; start-- {
		if isUserTurn(msgs[start]) {
			return msgs[start:]
		}
	}
	return msgs
}

func isUserTurn(m Message) bool {
	if m.Kind != KindRequest {
		return false
	}
	for _, p := range m.Parts {
		if p.PartKind == PartUserPrompt {
			return true
		}
	}
	return false
}

func mustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(err.Error())
	}
	return b
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
