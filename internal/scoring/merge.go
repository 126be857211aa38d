package scoring

import (
	"math"
	"strconv"
)

// Keys owned by the deterministic scorer. Enrichment can never set them.
const (
	KeyScore          = "score"
	KeyMissingWords   = "missing_words"
	KeySpeechRate     = "speech_rate"
	KeyFeedback       = "feedback"
	KeyFeedbackDetail = "feedback_detail"
	KeyTier           = "tier"
	KeyMatchedWords   = "matched_words"
)

var subScoreKeys = []string{"vocabulary_score", "grammar_score", "fluency_score", "pronunciation_score"}

// Merge combines a deterministic result with enrichment from the reasoning
// service. Enrichment keys are copied first, sub-scores are validated and
// clamped, and the deterministic fields are written last so a malformed or
// hostile response cannot change them. The external feedback text is kept
// under feedback_detail.
func Merge(res Result, enrichment map[string]any) map[string]any {
	out := make(map[string]any, len(enrichment)+8)
	for k, v := range enrichment {
		out[k] = v
	}

	for _, k := range subScoreKeys {
		v, ok := out[k]
		if !ok {
			continue
		}
		if f, ok := toFloat(v); ok {
			out[k] = clampScore(round1(f))
		} else {
			delete(out, k)
		}
	}

	delete(out, KeyFeedbackDetail)
	if fb, ok := enrichment[KeyFeedback].(string); ok && fb != "" {
		out[KeyFeedbackDetail] = fb
	}

	out[KeyScore] = res.Score
	out[KeyMissingWords] = nonNil(res.MissingWords)
	out[KeyMatchedWords] = nonNil(res.Matched)
	out[KeySpeechRate] = res.SpeechRate
	out[KeyFeedback] = res.Feedback
	out[KeyTier] = string(res.Tier)
	return out
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		p, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
