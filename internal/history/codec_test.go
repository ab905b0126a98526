package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)

func sampleTurn() []Message {
	return []Message{
		Request(SystemPrompt("You generate images."), UserPrompt("A cat on the moon", t0)),
		Response("gemini-2.5-pro", t0.Add(time.Second),
			ToolCall("generate_prompts", "call_1", map[string]any{"idea": "cat on the moon", "n_images": 2}),
		),
		Request(ToolReturn("generate_prompts", "call_1", []map[string]string{
			{"prompt": "A photo of a cat in a space suit", "image_name": "cat on the moon_0"},
		}, t0.Add(2*time.Second))),
		Response("gemini-2.5-pro", t0.Add(3*time.Second), TextPart("Here is your image <cat_0>.")),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msgs := sampleTurn()

	records, err := Encode(msgs)
	require.NoError(t, err)
	require.Len(t, records, len(msgs))

	got, err := Decode(records)
	require.NoError(t, err)
	assert.Equal(t, msgs, got)

	again, err := Encode(got)
	require.NoError(t, err)
	assert.Equal(t, records, again)
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeStoredShape(t *testing.T) {
	rec := []byte(`{"kind":"request","parts":[{"part_kind":"user-prompt","content":"Hi","timestamp":"2026-05-04T12:30:00Z"}]}`)

	got, err := Decode([][]byte{rec})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, KindRequest, got[0].Kind)
	assert.Equal(t, "Hi", got[0].Parts[0].Text())
	assert.True(t, got[0].Parts[0].Timestamp.Equal(t0))
}

func TestDecodeRejectsMalformedSteps(t *testing.T) {
	cases := map[string]string{
		"bad json":        `{"kind":`,
		"unknown kind":    `{"kind":"thought","parts":[{"part_kind":"text","content":"x"}]}`,
		"no parts":        `{"kind":"response","parts":[]}`,
		"wrong part kind": `{"kind":"request","parts":[{"part_kind":"text","content":"x"}]}`,
		"tool call name":  `{"kind":"response","parts":[{"part_kind":"tool-call","args":{}}]}`,
		"missing content": `{"kind":"request","parts":[{"part_kind":"user-prompt"}]}`,
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			ok := []byte(`{"kind":"request","parts":[{"part_kind":"user-prompt","content":"Hi"}]}`)
			_, err := Decode([][]byte{ok, []byte(rec)})
			require.Error(t, err)
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, 1, de.Index)
		})
	}
}

func TestEncodeRejectsInvalidMessage(t *testing.T) {
	_, err := Encode([]Message{{Kind: KindResponse}})
	assert.Error(t, err)
}

func TestDiffNewStepsAppendOnly(t *testing.T) {
	records, err := Encode(sampleTurn())
	require.NoError(t, err)
	prev, extra := records[:2], records[2:]

	full := append(append([][]byte{}, prev...), extra...)
	got, err := DiffNewSteps(prev, full)
	require.NoError(t, err)
	assert.Equal(t, extra, got)

	got, err = DiffNewSteps(prev, prev)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = DiffNewSteps(nil, records)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestDiffNewStepsDetectsRewrites(t *testing.T) {
	records, err := Encode(sampleTurn())
	require.NoError(t, err)

	_, err = DiffNewSteps(records, records[:2])
	assert.ErrorIs(t, err, ErrHistoryRewritten)

	rewritten := append([][]byte{records[1]}, records[1:]...)
	_, err = DiffNewSteps(records[:2], rewritten)
	assert.ErrorIs(t, err, ErrHistoryRewritten)
}

func TestWindow(t *testing.T) {
	turn := sampleTurn()
	second := []Message{
		Request(UserPrompt("Make it blue", t0.Add(time.Minute))),
		Response("gemini-2.5-pro", t0.Add(time.Minute), TextPart("Done.")),
	}
	all := append(append([]Message{}, turn...), second...)

	assert.Equal(t, all, Window(all, 0))
	assert.Equal(t, second, Window(all, 3))
	assert.Equal(t, second, Window(all, 2))
	assert.Equal(t, all, Window(all, 10))
	// nothing in the trailing message starts a user turn, fall back to the last one
	assert.Equal(t, second, Window(all, 1))
}

func TestPartHelpers(t *testing.T) {
	call := ToolCall("generate_images", "c1", map[string]any{"requests": []any{}})
	args, err := call.ArgsMap()
	require.NoError(t, err)
	assert.Contains(t, args, "requests")

	stringArgs := Part{PartKind: PartToolCall, ToolName: "x", Args: []byte(`"{\"idea\":\"owl\"}"`)}
	args, err = stringArgs.ArgsMap()
	require.NoError(t, err)
	assert.Equal(t, "owl", args["idea"])

	msgs := sampleTurn()
	assert.True(t, HasSystemPrompt(msgs))
	assert.False(t, HasSystemPrompt(msgs[1:]))
	assert.Equal(t, "Here is your image <cat_0>.", ResponseText(msgs[3]))
}
