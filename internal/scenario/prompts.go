package scenario

import (
	"fmt"
	"strings"

	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/reasoning"
)

const (
	fallbackReply         = "I understand."
	fallbackClarification = "Sorry, I didn't quite get that. Could you say it another way?"
)

func characterName(sc *models.Scenario) string {
	if sc.CharacterName != "" {
		return sc.CharacterName
	}
	return "a helpful assistant"
}

func characterRole(sc *models.Scenario) string {
	if sc.CharacterRole != "" {
		return sc.CharacterRole
	}
	return "assistant"
}

func roleplaySystem(sc *models.Scenario) string {
	return fmt.Sprintf(`You are %s in this scenario: %s.

Scenario description: %s
Your task: %s
Your role: %s

Respond naturally in English. Keep responses concise (1-2 sentences). Guide the learner to complete the task: %s.

Completion criteria: %s`,
		characterName(sc), sc.Title, sc.Description, sc.Task, characterRole(sc), sc.Task, sc.CompletionCriteria)
}

// chatHistory maps stored turns to chat roles: the learner is the user.
func chatHistory(turns []models.ScenarioTurn) []reasoning.Message {
	msgs := make([]reasoning.Message, 0, len(turns))
	for _, t := range turns {
		role := "assistant"
		if t.Speaker == models.SpeakerLearner {
			role = "user"
		}
		msgs = append(msgs, reasoning.Message{Role: role, Content: t.TextContent})
	}
	return msgs
}

func transcript(turns []models.ScenarioTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.TextContent)
	}
	return b.String()
}

func replyQuestion(sc *models.Scenario, turns []models.ScenarioTurn) reasoning.Question {
	return reasoning.Question{
		Kind:    "scenario_reply",
		System:  roleplaySystem(sc),
		History: chatHistory(turns),
	}
}

const adequacyKind = "scenario_adequacy"

// adequacy is the verdict on whether the learner's last message moves the
// conversation forward. A nil Effective means the answer carried no verdict.
type adequacy struct {
	Effective     *bool  `json:"effective"`
	Clarification string `json:"clarification"`
}

func adequacyQuestion(sc *models.Scenario, turns []models.ScenarioTurn, message string) reasoning.Question {
	return reasoning.Question{
		Kind:   adequacyKind,
		System: "Return strict JSON only.",
		Prompt: fmt.Sprintf(`A language learner is role-playing this scenario: %s.
Task: %s

Conversation so far:
%s
The learner just said: %q

Is this message an understandable, relevant attempt to continue the conversation toward the task?
If not, write a short, friendly clarification question in the voice of %s.

Answer with JSON: {"effective": boolean, "clarification": string}`,
			sc.Title, sc.Task, transcript(turns), message, characterName(sc)),
	}
}

func completionQuestion(sc *models.Scenario, turns []models.ScenarioTurn) reasoning.Question {
	return reasoning.Question{
		Kind: "scenario_completion",
		Prompt: fmt.Sprintf(`Check if the learner has completed the task: %q.
Completion criteria: %s

Conversation history:
%s
Respond with ONLY "YES" or "NO".`, sc.Task, sc.CompletionCriteria, transcript(turns)),
	}
}

// isYes reads a YES/NO answer. Anything other than a clear yes is a no.
func isYes(answer string) bool {
	a := strings.ToUpper(strings.TrimSpace(answer))
	a = strings.TrimRight(a, ".!")
	return a == "YES"
}

func hintQuestion(sc *models.Scenario, turns []models.ScenarioTurn) reasoning.Question {
	return reasoning.Question{
		Kind: "scenario_hint",
		System: "You coach English learners during role-play practice. " +
			"Give one short hint (max 2 sentences) suggesting what the learner could say next. " +
			"Do not write the whole answer for them.",
		Prompt: fmt.Sprintf(`Scenario: %s
Task: %s

Conversation so far:
%s`, sc.Title, sc.Task, transcript(turns)),
	}
}

func fallbackHint(sc *models.Scenario) string {
	if sc.Task == "" {
		return "Try answering the last question in a short, complete sentence."
	}
	return fmt.Sprintf("Remember your goal: %s. Try saying what you need in one short sentence.", sc.Task)
}

// subScores are the assessed components of the final score, each 0-100.
type subScores struct {
	Reasonableness *float64 `json:"reasonableness"`
	Reflex         *float64 `json:"reflex"`
	Pronunciation  *float64 `json:"pronunciation"`
	Independence   *float64 `json:"independence"`
	Feedback       string   `json:"feedback"`
}

const neutralSubScore = 50.0

func finalScoreQuestion(sc *models.Scenario, turns []models.ScenarioTurn) reasoning.Question {
	return reasoning.Question{
		Kind:   "scenario_final_score",
		System: "Return strict JSON only.",
		Prompt: fmt.Sprintf(`Assess a language learner's performance in this role-play.
Scenario: %s
Task: %s
Completion criteria: %s

Full conversation:
%s
Rate each from 0 to 100:
- reasonableness: are the learner's answers sensible and on task?
- reflex: how promptly and naturally does the learner respond?
- pronunciation: estimated clarity of the learner's speech from the transcript
- independence: how much the learner progresses without help

Answer with JSON:
{"reasonableness": number, "reflex": number, "pronunciation": number, "independence": number, "feedback": string}`,
			sc.Title, sc.Task, sc.CompletionCriteria, transcript(turns)),
	}
}
