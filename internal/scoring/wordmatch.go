// Package scoring implements the deterministic read-aloud scorer and the
// merge of externally sourced enrichment into its result.
package scoring

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// Result is the deterministic outcome of comparing a spoken transcript with
// the expected text.
type Result struct {
	Score        float64  `json:"score"`
	Expected     []string `json:"-"`
	Matched      []string `json:"matched_words"`
	MissingWords []string `json:"missing_words"`
	SpokenCount  int      `json:"spoken_word_count"`
	SpeechRate   int      `json:"speech_rate"`
	Feedback     string   `json:"feedback"`
	Tier         Tier     `json:"tier"`
	NoSpeech     bool     `json:"-"`
}

// Enrichable reports whether qualitative enrichment should be requested.
// The no-speech and no-correct-words outcomes are final as computed.
func (r Result) Enrichable() bool {
	return !r.NoSpeech && len(r.Matched) > 0
}

// Tokenize splits on whitespace, strips trailing punctuation from each token
// and lower-cases it. Tokens left empty are dropped.
func Tokenize(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimRightFunc(f, unicode.IsPunct))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Matches reports whether two tokens are equal or one contains the other.
func Matches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

// Evaluate scores spoken against expected. elapsed is the time the learner
// took and only feeds the speech rate.
func Evaluate(expected, spoken string, elapsed time.Duration) Result {
	exp := Tokenize(expected)
	spk := Tokenize(spoken)

	res := Result{
		Expected:    exp,
		SpokenCount: len(spk),
		SpeechRate:  SpeechRate(len(spk), elapsed),
	}

	if len(spk) == 0 {
		res.NoSpeech = true
		res.Tier = TierNoSpeech
		res.Feedback = feedbackNoSpeech
		res.Matched = []string{}
		res.MissingWords = append([]string{}, exp...)
		return res
	}

	matched, missing := align(exp, spk)
	res.Matched = matched
	res.MissingWords = missing

	if len(matched) == 0 {
		res.Tier = TierNoCorrectWords
		res.Feedback = feedbackNoCorrectWords
		return res
	}

	res.Score = clampScore(round1(float64(len(matched)) / float64(len(exp)) * 100))
	res.Tier = TierFor(res.Score)
	res.Feedback = res.Tier.Feedback()
	return res
}

// align walks expected tokens in order. Each takes the first spoken token
// that matches it and has not been taken by an earlier expected token.
func align(expected, spoken []string) (matched, missing []string) {
	used := make([]bool, len(spoken))
	matched = []string{}
	missing = []string{}
	for _, e := range expected {
		hit := false
		for i, s := range spoken {
			if !used[i] && Matches(e, s) {
				used[i] = true
				hit = true
				break
			}
		}
		if hit {
			matched = append(matched, e)
		} else {
			missing = append(missing, e)
		}
	}
	return matched, missing
}

// SpeechRate returns words per minute rounded to the nearest integer, or 0
// when elapsed is not positive.
func SpeechRate(words int, elapsed time.Duration) int {
	secs := elapsed.Seconds()
	if secs <= 0 || words <= 0 {
		return 0
	}
	rate := math.Round(float64(words) / secs * 60)
	if math.IsInf(rate, 0) || math.IsNaN(rate) {
		return 0
	}
	return int(rate)
}

// Bound rounds v to one decimal place and clamps it to [0,100].
func Bound(v float64) float64 {
	return clampScore(round1(v))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
