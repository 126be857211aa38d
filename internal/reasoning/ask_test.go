package reasoning

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubCompleter struct {
	answer   string
	err      error
	lastMsgs []Message
	lastJSON bool
}

func (s *stubCompleter) Complete(_ context.Context, msgs []Message, jsonMode bool) (string, error) {
	s.lastMsgs = msgs
	s.lastJSON = jsonMode
	return s.answer, s.err
}

type adequacy struct {
	Effective     bool   `json:"effective"`
	Clarification string `json:"clarification"`
}

func TestAskJSON_DecodesFencedAnswer(t *testing.T) {
	c := &stubCompleter{answer: "```json\n{\"effective\": false, \"clarification\": \"Could you repeat?\"}\n```"}
	got, ok := AskJSON(context.Background(), c, Question{Kind: "adequacy", System: "sys", Prompt: "p"}, adequacy{Effective: true})

	require.True(t, ok)
	require.False(t, got.Effective)
	require.Equal(t, "Could you repeat?", got.Clarification)
	require.True(t, c.lastJSON)
	require.Equal(t, []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "p"}}, c.lastMsgs)
}

func TestAskJSON_ProseAroundObject(t *testing.T) {
	c := &stubCompleter{answer: `Sure! Here it is: {"effective": true} Hope this helps.`}
	got, ok := AskJSON(context.Background(), c, Question{Kind: "adequacy"}, adequacy{})
	require.True(t, ok)
	require.True(t, got.Effective)
}

func TestAskJSON_FallbackOnMalformed(t *testing.T) {
	fallback := adequacy{Effective: true}
	c := &stubCompleter{answer: "I cannot answer that."}
	got, ok := AskJSON(context.Background(), c, Question{Kind: "adequacy"}, fallback)
	require.False(t, ok)
	require.Equal(t, fallback, got)
}

func TestAskJSON_FallbackOnError(t *testing.T) {
	fallback := map[string]any{"topic": "general"}
	got, ok := AskJSON(context.Background(), &stubCompleter{err: errors.New("503")}, Question{Kind: "topic"}, fallback)
	require.False(t, ok)
	require.Equal(t, fallback, got)

	got, ok = AskJSON(context.Background(), Unavailable{}, Question{Kind: "topic"}, fallback)
	require.False(t, ok)
	require.Equal(t, fallback, got)
}

func TestAskText(t *testing.T) {
	got, ok := AskText(context.Background(), &stubCompleter{answer: "  Try saying please.  "}, Question{Kind: "hint"}, "fallback")
	require.True(t, ok)
	require.Equal(t, "Try saying please.", got)

	got, ok = AskText(context.Background(), &stubCompleter{answer: "   "}, Question{Kind: "hint"}, "fallback")
	require.False(t, ok)
	require.Equal(t, "fallback", got)
}

func TestQuestion_HistoryOrder(t *testing.T) {
	q := Question{
		System:  "s",
		History: []Message{{Role: "user", Content: "a"}, {Role: "assistant", Content: "b"}},
		Prompt:  "c",
	}
	msgs := q.messages()
	require.Len(t, msgs, 4)
	require.Equal(t, "system", msgs[0].Role)
	require.Equal(t, "a", msgs[1].Content)
	require.Equal(t, "b", msgs[2].Content)
	require.Equal(t, "c", msgs[3].Content)
}

func TestDecodeJSON_Malformed(t *testing.T) {
	var v map[string]any
	require.ErrorIs(t, DecodeJSON("{nope", &v), ErrMalformedOutput)
}
