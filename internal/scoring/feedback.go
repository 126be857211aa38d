package scoring

// Tier is the feedback band a score falls in.
type Tier string

const (
	TierExcellent        Tier = "excellent"
	TierGood             Tier = "good"
	TierFair             Tier = "fair"
	TierNeedsImprovement Tier = "needs_improvement"
	TierNeedsPractice    Tier = "needs_practice"
	TierNoSpeech         Tier = "no_speech"
	TierNoCorrectWords   Tier = "no_correct_words"
)

const (
	feedbackNoSpeech       = "No speech detected. Please try again and speak loudly and clearly."
	feedbackNoCorrectWords = "None of the expected words were recognized. Listen to the prompt again and read it aloud."
)

var tierFeedback = map[Tier]string{
	TierExcellent:        "Excellent! You read the prompt almost perfectly.",
	TierGood:             "Good job! Most words were clear. Review the missing words and try once more.",
	TierFair:             "Fair attempt. Several words were missed; slow down and articulate each word.",
	TierNeedsImprovement: "Needs improvement. Practice the missing words individually, then read the full prompt again.",
	TierNeedsPractice:    "Keep practicing. Listen to the prompt carefully and repeat it phrase by phrase.",
	TierNoSpeech:         feedbackNoSpeech,
	TierNoCorrectWords:   feedbackNoCorrectWords,
}

// TierFor maps a score in [0,100] to its band.
func TierFor(score float64) Tier {
	switch {
	case score >= 90:
		return TierExcellent
	case score >= 70:
		return TierGood
	case score >= 50:
		return TierFair
	case score >= 30:
		return TierNeedsImprovement
	default:
		return TierNeedsPractice
	}
}

// Feedback returns the fixed template for the tier.
func (t Tier) Feedback() string {
	return tierFeedback[t]
}
