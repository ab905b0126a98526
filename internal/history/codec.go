package history

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
)

var ErrHistoryRewritten = errors.New("agent history rewrote previously stored steps")

// DecodeError reports a stored step that does not have the runtime's message shape.
type DecodeError struct {
	Index  int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode step %d: %s", e.Index, e.Reason)
}

var allowedParts = map[string]map[string]bool{
	KindRequest: {
		PartSystemPrompt: true,
		PartUserPrompt:   true,
		PartToolReturn:   true,
		PartRetryPrompt:  true,
	},
	KindResponse: {
		PartText:     true,
		PartToolCall: true,
	},
}

// Decode turns stored step records, oldest first, into runtime messages.
func Decode(records [][]byte) ([]Message, error) {
	out := make([]Message, 0, len(records))
	for i, rec := range records {
		var m Message
		if err := json.Unmarshal(rec, &m); err != nil {
			return nil, &DecodeError{Index: i, Reason: err.Error()}
		}
		if err := validate(m); err != nil {
			return nil, &DecodeError{Index: i, Reason: err.Error()}
		}
		out = append(out, m)
	}
	return out, nil
}

// Encode produces one JSON record per message, in order.
func Encode(msgs []Message) ([][]byte, error) {
	out := make([][]byte, 0, len(msgs))
	for i, m := range msgs {
		if err := validate(m); err != nil {
			return nil, fmt.Errorf("encode message %d: %w", i, err)
		}
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode message %d: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

func validate(m Message) error {
	allowed, ok := allowedParts[m.Kind]
	if !ok {
		return fmt.Errorf("unknown message kind %q", m.Kind)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("%s message has no parts", m.Kind)
	}
	for j, p := range m.Parts {
		if !allowed[p.PartKind] {
			return fmt.Errorf("part %d: part_kind %q not allowed in %s", j, p.PartKind, m.Kind)
		}
		switch p.PartKind {
		case PartToolCall:
			if p.ToolName == "" {
				return fmt.Errorf("part %d: tool-call without tool_name", j)
			}
		case PartToolReturn:
			if p.ToolName == "" {
				return fmt.Errorf("part %d: tool-return without tool_name", j)
			}
			if len(p.Content) == 0 {
				return fmt.Errorf("part %d: tool-return without content", j)
			}
		default:
			if len(p.Content) == 0 {
				return fmt.Errorf("part %d: %s without content", j, p.PartKind)
			}
		}
	}
	return nil
}

// DiffNewSteps returns the records of full that come after prev. The runtime only
// appends to history, so the new steps are the trailing len(full)-len(prev)
// records; the shared prefix is checked by fingerprint and a mismatch fails with
// ErrHistoryRewritten instead of storing the wrong steps.
func DiffNewSteps(prev, full [][]byte) ([][]byte, error) {
	if len(full) < len(prev) {
		return nil, fmt.Errorf("%w: history shrank from %d to %d steps", ErrHistoryRewritten, len(prev), len(full))
	}
	for i := range prev {
		if Fingerprint(prev[i]) != Fingerprint(full[i]) {
			return nil, fmt.Errorf("%w: step %d changed", ErrHistoryRewritten, i)
		}
	}
	added := full[len(prev):]
	out := make([][]byte, len(added))
	copy(out, added)
	return out, nil
}

// Fingerprint is the content hash of one stored step.
func Fingerprint(record []byte) uint64 {
	return xxhash.Sum64(record)
}
