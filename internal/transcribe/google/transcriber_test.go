package google

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"ai-speaking-assessment-service/internal/transcribe"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16},  // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},         // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	return path
}

func TestTranscribe_MapsWordsAndSegments(t *testing.T) {
	var gotReq *speechpb.RecognizeRequest
	tr := NewWithRecognizer(DefaultConfig(), func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		gotReq = req
		return &speechpb.RecognizeResponse{
			Results: []*speechpb.SpeechRecognitionResult{{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{
					Transcript: "the cat sat",
					Words: []*speechpb.WordInfo{
						{Word: "the", StartTime: durationpb.New(0), EndTime: durationpb.New(300 * time.Millisecond), Confidence: 0.9},
						{Word: "cat", StartTime: durationpb.New(300 * time.Millisecond), EndTime: durationpb.New(700 * time.Millisecond), Confidence: 0.8},
						{Word: "sat", StartTime: durationpb.New(700 * time.Millisecond), EndTime: durationpb.New(time.Second), Confidence: 0.95},
					},
				}},
			}},
		}, nil
	})

	out, err := tr.Transcribe(context.Background(), writeAudio(t), transcribe.Options{Language: "en-GB"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotReq.GetConfig().GetLanguageCode() != "en-GB" {
		t.Errorf("expected language override en-GB, got %s", gotReq.GetConfig().GetLanguageCode())
	}
	if !gotReq.GetConfig().GetEnableWordTimeOffsets() {
		t.Error("expected word time offsets to be requested")
	}
	if out.Result.Text != "the cat sat" {
		t.Errorf("expected text 'the cat sat', got %q", out.Result.Text)
	}
	if len(out.Result.Words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(out.Result.Words))
	}
	if *out.Result.Words[1].Start != 0.3 || *out.Result.Words[1].End != 0.7 {
		t.Errorf("unexpected timing for 'cat': %v-%v", *out.Result.Words[1].Start, *out.Result.Words[1].End)
	}
	if len(out.Result.Segments) != 1 || out.Result.Segments[0].End != 1 {
		t.Errorf("unexpected segments: %+v", out.Result.Segments)
	}
	if out.ArtifactPath != "" {
		t.Errorf("expected no artifact, got %s", out.ArtifactPath)
	}
}

func TestTranscribe_RecognizeError(t *testing.T) {
	tr := NewWithRecognizer(DefaultConfig(), func(context.Context, *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return nil, errors.New("permission denied")
	})
	_, err := tr.Transcribe(context.Background(), writeAudio(t), transcribe.Options{})
	if !errors.Is(err, transcribe.ErrProcessFailed) {
		t.Errorf("expected process failed, got %v", err)
	}
}

func TestTranscribe_MissingFile(t *testing.T) {
	tr := NewWithRecognizer(DefaultConfig(), nil)
	_, err := tr.Transcribe(context.Background(), "/nonexistent.wav", transcribe.Options{})
	if !errors.Is(err, transcribe.ErrInputNotFound) {
		t.Errorf("expected input not found, got %v", err)
	}
}
