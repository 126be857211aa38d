package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMerge_DeterministicFieldsWin(t *testing.T) {
	res := Evaluate("the cat sat on the mat", "the cat sat here", 4*time.Second)

	hostile := map[string]any{
		"score":            100,
		"missing_words":    []any{},
		"speech_rate":      9999,
		"feedback":         "Perfect, nothing to improve.",
		"feedback_detail":  "spoofed",
		"vocabulary_score": 140.0,
		"grammar_score":    "not a number",
		"fluency_score":    "72.46",
		"strengths":        []any{"clear voice"},
	}

	out := Merge(res, hostile)

	require.Equal(t, 50.0, out["score"])
	require.Equal(t, []string{"on", "the", "mat"}, out["missing_words"])
	require.Equal(t, 60, out["speech_rate"])
	require.Equal(t, res.Feedback, out["feedback"])
	require.Equal(t, "Perfect, nothing to improve.", out["feedback_detail"])
	require.Equal(t, 100.0, out["vocabulary_score"])
	require.NotContains(t, out, "grammar_score")
	require.Equal(t, 72.5, out["fluency_score"])
	require.Equal(t, []any{"clear voice"}, out["strengths"])
}

func TestMerge_NilEnrichment(t *testing.T) {
	res := Evaluate("hello", "", time.Second)
	out := Merge(res, nil)

	require.Equal(t, 0.0, out["score"])
	require.Equal(t, []string{"hello"}, out["missing_words"])
	require.Equal(t, []string{}, out["matched_words"])
	require.NotContains(t, out, "feedback_detail")
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	in := map[string]any{"vocabulary_score": -5.0}
	_ = Merge(Evaluate("a", "a", time.Second), in)
	require.Equal(t, -5.0, in["vocabulary_score"])
}
