package scoring

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluate_ConcreteCase(t *testing.T) {
	res := Evaluate("the cat sat on the mat", "the cat sat here", 4*time.Second)

	require.Equal(t, []string{"the", "cat", "sat"}, res.Matched)
	require.Equal(t, []string{"on", "the", "mat"}, res.MissingWords)
	require.Equal(t, 50.0, res.Score)
	require.Equal(t, TierFair, res.Tier)
	require.Equal(t, 60, res.SpeechRate)
	require.True(t, res.Enrichable())
}

func TestEvaluate_NoSpeech(t *testing.T) {
	for _, spoken := range []string{"", "   ", "\n\t", "...", "!?"} {
		res := Evaluate("Hello, world. How are you?", spoken, 3*time.Second)

		require.True(t, res.NoSpeech, "spoken=%q", spoken)
		require.Equal(t, 0.0, res.Score)
		require.Equal(t, TierNoSpeech, res.Tier)
		require.Equal(t, feedbackNoSpeech, res.Feedback)
		require.Equal(t, []string{"hello", "world", "how", "are", "you"}, res.MissingWords)
		require.False(t, res.Enrichable())
	}
}

func TestEvaluate_NoCorrectWords(t *testing.T) {
	res := Evaluate("good morning", "xyz qqq", 2*time.Second)

	require.False(t, res.NoSpeech)
	require.Equal(t, 0.0, res.Score)
	require.Equal(t, TierNoCorrectWords, res.Tier)
	require.Equal(t, feedbackNoCorrectWords, res.Feedback)
	require.Equal(t, []string{"good", "morning"}, res.MissingWords)
	require.Empty(t, res.Matched)
	require.False(t, res.Enrichable())
}

func TestEvaluate_SubstringAndPunctuation(t *testing.T) {
	res := Evaluate("Playing football, today!", "play footballs today", time.Second)

	require.Equal(t, []string{"playing", "football", "today"}, res.Matched)
	require.Empty(t, res.MissingWords)
	require.Equal(t, 100.0, res.Score)
	require.Equal(t, TierExcellent, res.Tier)
}

func TestEvaluate_SpokenTokenUsedOnce(t *testing.T) {
	res := Evaluate("the the the", "the", time.Second)

	require.Equal(t, []string{"the"}, res.Matched)
	require.Equal(t, []string{"the", "the"}, res.MissingWords)
	require.Equal(t, 33.3, res.Score)
}

func TestEvaluate_RoundsToOneDecimal(t *testing.T) {
	res := Evaluate("a b c d e f g", "a b", time.Second)
	require.Equal(t, 28.6, res.Score)
	require.Equal(t, TierNeedsPractice, res.Tier)
}

func TestTierFor_Thresholds(t *testing.T) {
	tests := []struct {
		score float64
		tier  Tier
	}{
		{100, TierExcellent},
		{90, TierExcellent},
		{89.9, TierGood},
		{70, TierGood},
		{69.9, TierFair},
		{50, TierFair},
		{49.9, TierNeedsImprovement},
		{30, TierNeedsImprovement},
		{29.9, TierNeedsPractice},
		{0, TierNeedsPractice},
	}
	for _, tt := range tests {
		require.Equal(t, tt.tier, TierFor(tt.score), "score=%v", tt.score)
		require.NotEmpty(t, tt.tier.Feedback())
	}
}

func TestSpeechRate(t *testing.T) {
	require.Equal(t, 0, SpeechRate(10, 0))
	require.Equal(t, 0, SpeechRate(10, -time.Second))
	require.Equal(t, 0, SpeechRate(0, time.Second))
	require.Equal(t, 120, SpeechRate(4, 2*time.Second))
	require.Equal(t, 143, SpeechRate(5, 2100*time.Millisecond))
}

func TestMatches_Symmetric(t *testing.T) {
	words := []string{"cat", "cats", "at", "the", "there", "a", "mat", "x"}
	for _, a := range words {
		for _, b := range words {
			require.Equal(t, Matches(a, b), Matches(b, a), "%q vs %q", a, b)
		}
	}
	require.False(t, Matches("", "cat"))
}

// Properties over a small generated corpus.
func TestEvaluate_Properties(t *testing.T) {
	vocab := []string{"the", "cat", "sat", "on", "mat", "dog", "ran", "a", "big", "red", "hello,", "World."}
	sentence := func(seed, n int) string {
		parts := make([]string, n)
		for i := range parts {
			parts[i] = vocab[(seed*7+i*3)%len(vocab)]
		}
		return strings.Join(parts, " ")
	}

	for seed := 0; seed < 50; seed++ {
		expected := sentence(seed, 1+seed%9)
		spoken := sentence(seed+3, seed%6)
		res := Evaluate(expected, spoken, time.Duration(1+seed)*time.Second)

		require.GreaterOrEqual(t, res.Score, 0.0)
		require.LessOrEqual(t, res.Score, 100.0)
		require.Equal(t, res.Score, math.Round(res.Score*10)/10)
		require.LessOrEqual(t, len(res.Matched), len(res.Expected))
		require.Equal(t, len(res.Expected), len(res.Matched)+len(res.MissingWords))
		require.GreaterOrEqual(t, res.SpeechRate, 0)
	}
}

func TestBound(t *testing.T) {
	require.Equal(t, 0.0, Bound(-12))
	require.Equal(t, 100.0, Bound(140))
	require.Equal(t, 66.7, Bound(66.66))
	require.Equal(t, 0.0, Bound(math.NaN()))
}
