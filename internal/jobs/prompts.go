package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"ai-speaking-assessment-service/internal/reasoning"
)

const strictJSON = "Return strict JSON only."

// speechEvaluation is the qualitative assessment of a free-speech submission.
// Scores are on a 0-10 scale.
type speechEvaluation struct {
	Feedback           string          `json:"feedback"`
	OverallScore       *float64        `json:"overall_score,omitempty"`
	PronunciationScore *float64        `json:"pronunciation_score,omitempty"`
	FluencyScore       *float64        `json:"fluency_score,omitempty"`
	Errors             json.RawMessage `json:"errors,omitempty"`
	Suggestions        []string        `json:"suggestions,omitempty"`
}

var speechEvaluationFallback = speechEvaluation{
	Feedback: "Automatic feedback is not available right now. Your recording was saved and transcribed.",
}

func speechEvaluationQuestion(transcript string) reasoning.Question {
	return reasoning.Question{
		Kind:   "speech_evaluation",
		System: strictJSON,
		Prompt: fmt.Sprintf(`You are an English speaking examiner. This is the learner's transcript:
%q

Rate pronunciation, fluency and overall coherence on a 0-10 scale (decimals allowed).

Answer with JSON:
{
  "feedback": string,
  "overall_score": number,
  "pronunciation_score": number,
  "fluency_score": number,
  "errors": [{"word": string, "type": "pronunciation|usage|grammar", "note": string}],
  "suggestions": string[]
}`, transcript),
	}
}

// topicAlignment describes how well the submission covers its challenge.
type topicAlignment struct {
	Topic           string  `json:"topic"`
	TopicConfidence float64 `json:"topic_confidence"`
	Alignment       *struct {
		Matches         bool     `json:"matches"`
		AlignmentScore  float64  `json:"alignment_score"`
		MissingElements []string `json:"missing_elements"`
		ExtraElements   []string `json:"extra_elements"`
	} `json:"topic_alignment,omitempty"`
	Grammar *struct {
		Compliant bool     `json:"compliant"`
		Score     float64  `json:"score"`
		Issues    []string `json:"issues"`
	} `json:"grammar_compliance,omitempty"`
}

func topicQuestion(transcript, challenge string) reasoning.Question {
	var b strings.Builder
	b.WriteString("You are an English speaking examiner.\n")
	if challenge != "" {
		fmt.Fprintf(&b, "The learner answered this challenge: %q\n", challenge)
	}
	fmt.Fprintf(&b, "Transcript: %q\n\n", transcript)
	b.WriteString(`Identify the topic the learner talks about`)
	if challenge != "" {
		b.WriteString(`, whether it meets the challenge and whether the grammar the challenge asks for is used`)
	}
	b.WriteString(`.

Answer with JSON:
{
  "topic": string,
  "topic_confidence": number (0-1),
  "topic_alignment": {"matches": boolean, "alignment_score": number (0-1), "missing_elements": string[], "extra_elements": string[]},
  "grammar_compliance": {"compliant": boolean, "score": number (0-1), "issues": string[]}
}`)
	return reasoning.Question{Kind: "topic_detection", System: strictJSON, Prompt: b.String()}
}

func roundEnrichmentQuestion(prompt, transcript, level string, score float64, missing []string) reasoning.Question {
	return reasoning.Question{
		Kind:   "round_enrichment",
		System: strictJSON,
		Prompt: fmt.Sprintf(`A learner at level %q read this text aloud:
%q

The recognizer heard:
%q

Word-match score: %.1f/100. Missing words: %s.

Give short, encouraging feedback and rate vocabulary, grammar, fluency and pronunciation from 0 to 100.

Answer with JSON:
{
  "feedback": string,
  "vocabulary_score": number,
  "grammar_score": number,
  "fluency_score": number,
  "pronunciation_score": number,
  "errors": [{"word": string, "note": string}],
  "suggestions": string[]
}`, level, prompt, transcript, score, strings.Join(missing, ", ")),
	}
}

// mentorSignals are the structured lessons distilled from mentor feedback.
type mentorSignals struct {
	EvaluationCriteria     []string `json:"evaluation_criteria"`
	Strengths              []string `json:"strengths"`
	Weaknesses             []string `json:"weaknesses"`
	ImprovementSuggestions []string `json:"improvement_suggestions"`
}

func mentorFeedbackQuestion(feedback string, scores map[string]any) reasoning.Question {
	scoreJSON, _ := json.Marshal(scores)
	return reasoning.Question{
		Kind:   "mentor_feedback",
		System: strictJSON,
		Prompt: fmt.Sprintf(`A mentor recorded this spoken feedback on a learner's submission:
%q

Scores the mentor gave: %s

Extract what the mentor values so it can guide future automatic assessments.

Answer with JSON:
{
  "evaluation_criteria": string[],
  "strengths": string[],
  "weaknesses": string[],
  "improvement_suggestions": string[]
}`, feedback, scoreJSON),
	}
}
