package gemini

import (
	"github.com/goccy/go-json"
	"google.golang.org/genai"

	"agentchat/internal/history"
)

// toContents replays a history as Gemini contents. System prompts are dropped; the
// runtime sends its instruction in the request config.
func toContents(msgs []history.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var parts []*genai.Part
		role := genai.RoleUser
		if m.Kind == history.KindResponse {
			role = genai.RoleModel
		}
		for _, p := range m.Parts {
			if gp := toPart(p); gp != nil {
				parts = append(parts, gp)
			}
		}
		if len(parts) == 0 {
			continue
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out
}

func toPart(p history.Part) *genai.Part {
	switch p.PartKind {
	case history.PartUserPrompt, history.PartText:
		return genai.NewPartFromText(p.Text())
	case history.PartToolCall:
		args, err := p.ArgsMap()
		if err != nil {
			args = map[string]any{}
		}
		gp := genai.NewPartFromFunctionCall(p.ToolName, args)
		gp.FunctionCall.ID = p.ToolCallID
		return gp
	case history.PartToolReturn:
		gp := genai.NewPartFromFunctionResponse(p.ToolName, map[string]any{"result": decodeAny(p.Content)})
		gp.FunctionResponse.ID = p.ToolCallID
		return gp
	case history.PartRetryPrompt:
		if p.ToolName == "" {
			return genai.NewPartFromText(p.Text())
		}
		gp := genai.NewPartFromFunctionResponse(p.ToolName, map[string]any{"error": p.Text()})
		gp.FunctionResponse.ID = p.ToolCallID
		return gp
	}
	return nil
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
