// Package google provides a Google Cloud Speech-to-Text transcriber.
package google

import (
	"context"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/transcribe"
)

// Config holds recognition settings.
type Config struct {
	LanguageCode  string
	SampleRateHz  int32
	AudioEncoding string // LINEAR16, FLAC, OGG_OPUS, ...
	Model         string // recognizer model, e.g. latest_long
}

// DefaultConfig returns settings for 16kHz LINEAR16 English audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "en-US",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
	}
}

// RecognizeFunc performs one batch recognition call.
type RecognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Transcriber implements transcribe.Transcriber with batch Recognize calls.
type Transcriber struct {
	cfg       Config
	recognize RecognizeFunc
	close     func() error
}

// New creates a transcriber backed by a Speech client.
// Requires GOOGLE_APPLICATION_CREDENTIALS to be set.
func New(ctx context.Context, cfg Config) (*Transcriber, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	recognize := func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return c.Recognize(ctx, req)
	}
	return &Transcriber{cfg: cfg, recognize: recognize, close: c.Close}, nil
}

// NewWithRecognizer creates a transcriber around an existing recognize call.
func NewWithRecognizer(cfg Config, fn RecognizeFunc) *Transcriber {
	return &Transcriber{cfg: cfg, recognize: fn, close: func() error { return nil }}
}

// Transcribe reads the audio file and recognizes it in one request.
func (t *Transcriber) Transcribe(ctx context.Context, localPath string, opts transcribe.Options) (*transcribe.Output, error) {
	audio, err := os.ReadFile(localPath)
	if err != nil {
		return nil, &transcribe.Error{Kind: transcribe.KindInputNotFound, Msg: localPath, Err: err}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	lang := t.cfg.LanguageCode
	if opts.Language != "" {
		lang = opts.Language
	}

	resp, err := t.recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   parseAudioEncoding(t.cfg.AudioEncoding),
			SampleRateHertz:            t.cfg.SampleRateHz,
			LanguageCode:               lang,
			Model:                      t.cfg.Model,
			EnableWordTimeOffsets:      true,
			EnableWordConfidence:       true,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, transcribe.Errorf(transcribe.KindTimeout, "recognize exceeded %s", opts.Timeout)
		}
		return nil, &transcribe.Error{Kind: transcribe.KindProcessFailed, Msg: "recognize", Err: err}
	}

	return &transcribe.Output{Result: toResult(resp, lang)}, nil
}

// Close releases the underlying client.
func (t *Transcriber) Close() error {
	return t.close()
}

func toResult(resp *speechpb.RecognizeResponse, lang string) models.TranscriptionResult {
	res := models.TranscriptionResult{Language: lang}
	var texts []string
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}
		texts = append(texts, text)

		seg := models.Segment{Text: text}
		words := alt.GetWords()
		for i, w := range words {
			start := w.GetStartTime().AsDuration().Seconds()
			end := w.GetEndTime().AsDuration().Seconds()
			conf := float64(w.GetConfidence())
			res.Words = append(res.Words, models.Word{
				Text:       w.GetWord(),
				Start:      &start,
				End:        &end,
				Confidence: &conf,
			})
			if i == 0 {
				seg.Start = start
			}
			seg.End = end
		}
		res.Segments = append(res.Segments, seg)
		if r.GetLanguageCode() != "" {
			res.Language = r.GetLanguageCode()
		}
	}
	res.Text = strings.Join(texts, " ")
	return res
}

// parseAudioEncoding converts an encoding name to the Speech enum, falling
// back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

var _ transcribe.Transcriber = (*Transcriber)(nil)
