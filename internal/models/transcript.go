package models

import (
	"encoding/json"
	"strings"
)

// Segment is one recognized span of a transcript.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start,omitempty"`
	End   float64 `json:"end,omitempty"`
}

// Word is one aligned word with timing and recognizer confidence.
type Word struct {
	Text       string   `json:"text"`
	Start      *float64 `json:"start,omitempty"`
	End        *float64 `json:"end,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// UnmarshalJSON accepts both the {text,score} layout emitted by whisperx and
// the {word,confidence} layout.
func (w *Word) UnmarshalJSON(data []byte) error {
	var raw struct {
		Text       string   `json:"text"`
		Word       string   `json:"word"`
		Start      *float64 `json:"start"`
		End        *float64 `json:"end"`
		Score      *float64 `json:"score"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.Text = raw.Text
	if w.Text == "" {
		w.Text = raw.Word
	}
	w.Start = raw.Start
	w.End = raw.End
	w.Confidence = raw.Confidence
	if w.Confidence == nil {
		w.Confidence = raw.Score
	}
	return nil
}

// TranscriptionResult is the transient output of a transcriber.
type TranscriptionResult struct {
	Text     string    `json:"text,omitempty"`
	Language string    `json:"language,omitempty"`
	Segments []Segment `json:"segments,omitempty"`
	Words    []Word    `json:"words,omitempty"`
}

// FullText returns Text, or the segment texts joined by spaces, or the word
// texts joined by spaces, whichever is present first.
func (t *TranscriptionResult) FullText() string {
	if t == nil {
		return ""
	}
	if strings.TrimSpace(t.Text) != "" {
		return strings.TrimSpace(t.Text)
	}
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if v := strings.TrimSpace(s.Text); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		for _, w := range t.Words {
			if v := strings.TrimSpace(w.Text); v != "" {
				parts = append(parts, v)
			}
		}
	}
	return strings.Join(parts, " ")
}

// IsEmpty reports whether the result carries no usable content at all.
func (t *TranscriptionResult) IsEmpty() bool {
	return t == nil || (strings.TrimSpace(t.Text) == "" && len(t.Segments) == 0 && len(t.Words) == 0)
}
