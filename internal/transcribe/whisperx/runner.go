// Package whisperx runs the whisperx transcription script as a subprocess,
// one process per audio file, under a hard wall-clock timeout.
package whisperx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-speaking-assessment-service/internal/models"
	"ai-speaking-assessment-service/internal/observability/logging"
	"ai-speaking-assessment-service/internal/transcribe"
)

const (
	probeTimeout = 5 * time.Second
	// waitDelay bounds how long Wait blocks on output pipes after a kill.
	waitDelay     = 2 * time.Second
	stderrTailLen = 2048
)

var defaultInterpreters = []string{"python3", "python"}

// Config locates the interpreter, script and output directory.
type Config struct {
	Python    string // interpreter; python3 then python when empty
	Script    string
	OutputDir string
}

// Runner implements transcribe.Transcriber on top of the whisperx script.
type Runner struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.RWMutex
	python   string
	probeErr error
}

// New creates a runner. Call Probe once at startup to verify the interpreter.
func New(cfg Config) *Runner {
	python := cfg.Python
	if python == "" {
		python = defaultInterpreters[0]
	}
	return &Runner{
		cfg:    cfg,
		python: python,
		logger: logging.WithComponent("whisperx"),
	}
}

// Probe finds an interpreter that can import whisperx. On failure it logs an
// actionable warning and remembers the error, which every later Transcribe
// call returns. It never panics or exits.
func (r *Runner) Probe(ctx context.Context) error {
	candidates := defaultInterpreters
	if r.cfg.Python != "" {
		candidates = []string{r.cfg.Python}
	}

	var tried []string
	for _, c := range candidates {
		path, err := exec.LookPath(c)
		if err != nil {
			tried = append(tried, c+" (not found)")
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err = exec.CommandContext(pctx, path, "-c", "import whisperx").Run()
		cancel()
		if err != nil {
			tried = append(tried, c+" (whisperx not importable)")
			continue
		}

		r.mu.Lock()
		r.python, r.probeErr = path, nil
		r.mu.Unlock()
		r.logger.Info().Str("python", path).Msg("whisperx available")
		return nil
	}

	err := transcribe.Errorf(transcribe.KindMissingCapability,
		"no interpreter with whisperx found (tried %s); install it with `pip install whisperx` or set WHISPERX_PYTHON",
		strings.Join(tried, ", "))
	r.mu.Lock()
	r.probeErr = err
	r.mu.Unlock()
	r.logger.Warn().Err(err).Msg("Transcription will fail until whisperx is installed")
	return err
}

// Transcribe runs the script on localPath. A run exceeding opts.Timeout has
// its whole process group killed and returns a timeout error.
func (r *Runner) Transcribe(ctx context.Context, localPath string, opts transcribe.Options) (*transcribe.Output, error) {
	r.mu.RLock()
	python, probeErr := r.python, r.probeErr
	r.mu.RUnlock()
	if probeErr != nil {
		return nil, probeErr
	}

	if _, err := os.Stat(localPath); err != nil {
		return nil, &transcribe.Error{Kind: transcribe.KindInputNotFound, Msg: localPath, Err: err}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = transcribe.DefaultTimeout
	}

	outDir := r.cfg.OutputDir
	if outDir == "" {
		outDir = os.TempDir()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &transcribe.Error{Kind: transcribe.KindProcessFailed, Msg: "create output dir", Err: err}
	}
	base := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
	outPath := filepath.Join(outDir, fmt.Sprintf("%s_%s.json", base, uuid.NewString()[:8]))

	cmd := exec.Command(python, Args(r.cfg.Script, localPath, outPath, opts)...)
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONUTF8=1")
	if opts.ComputeType != "" {
		cmd.Env = append(cmd.Env, "CT2_COMPUTE_TYPE="+opts.ComputeType)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	logger := r.logger.With().Str("audio", localPath).Str("model", opts.Model).Logger()
	logger.Debug().Strs("args", cmd.Args).Dur("timeout", timeout).Msg("Starting transcription")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &transcribe.Error{Kind: transcribe.KindMissingCapability, Msg: "interpreter " + python + " not found", Err: err}
		}
		return nil, &transcribe.Error{Kind: transcribe.KindProcessFailed, Msg: "start", Err: err}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-timer.C:
		if err := killProcessGroup(cmd); err != nil {
			logger.Error().Err(err).Msg("Failed to kill transcription process")
		}
		<-done
		_ = os.Remove(outPath)
		logger.Warn().Dur("timeout", timeout).Msg("Transcription timed out, process killed")
		return nil, transcribe.Errorf(transcribe.KindTimeout, "exceeded %s", timeout)
	case <-ctx.Done():
		_ = killProcessGroup(cmd)
		<-done
		_ = os.Remove(outPath)
		return nil, &transcribe.Error{Kind: transcribe.KindProcessFailed, Msg: "cancelled", Err: ctx.Err()}
	}

	if waitErr != nil {
		tail := tailString(stderr.Bytes(), stderrTailLen)
		if missingModule(stderr.String()) {
			return nil, &transcribe.Error{
				Kind:   transcribe.KindMissingCapability,
				Msg:    "whisperx is not installed for " + python + "; run `pip install whisperx`",
				Stderr: tail,
				Err:    waitErr,
			}
		}
		return nil, &transcribe.Error{Kind: transcribe.KindProcessFailed, Stderr: tail, Err: waitErr}
	}

	result, artifact, err := readResult(outPath, stdout.Bytes())
	if err != nil {
		return nil, err
	}

	logger.Info().
		Dur("elapsed", time.Since(start)).
		Int("segments", len(result.Segments)).
		Int("words", len(result.Words)).
		Bool("artifact", artifact != "").
		Msg("Transcription finished")

	return &transcribe.Output{Result: *result, ArtifactPath: artifact}, nil
}

// Args returns the fixed argument layout passed to the interpreter.
func Args(script, audioPath, outPath string, opts transcribe.Options) []string {
	args := []string{"-u", script, audioPath, "--output", outPath}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.ComputeType != "" {
		args = append(args, "--compute-type", opts.ComputeType)
	}
	if opts.Language != "" {
		args = append(args, "--lang", opts.Language)
	}
	return args
}

// readResult prefers the artifact at outPath and falls back to JSON on stdout.
func readResult(outPath string, stdout []byte) (*models.TranscriptionResult, string, error) {
	if data, err := os.ReadFile(outPath); err == nil && len(bytes.TrimSpace(data)) > 0 {
		res, err := Parse(data)
		if err != nil {
			return nil, "", err
		}
		return res, outPath, nil
	}

	for _, candidate := range stdoutCandidates(stdout) {
		if res, err := Parse(candidate); err == nil {
			return res, "", nil
		}
	}
	return nil, "", transcribe.Errorf(transcribe.KindMalformedOutput,
		"no output artifact and no JSON on stdout (%d bytes)", len(stdout))
}

// Parse decodes a transcript document. It must carry at least one of text,
// segments or words.
func Parse(data []byte) (*models.TranscriptionResult, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, &transcribe.Error{Kind: transcribe.KindMalformedOutput, Msg: "decode", Err: err}
	}
	_, hasText := keys["text"]
	_, hasSegments := keys["segments"]
	_, hasWords := keys["words"]
	if !hasText && !hasSegments && !hasWords {
		return nil, transcribe.Errorf(transcribe.KindMalformedOutput, "document has no text, segments or words")
	}

	var res models.TranscriptionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, &transcribe.Error{Kind: transcribe.KindMalformedOutput, Msg: "decode", Err: err}
	}
	return &res, nil
}

// stdoutCandidates yields the whole output, its last non-empty line and the
// outermost brace span, in that order.
func stdoutCandidates(stdout []byte) [][]byte {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 {
		return nil
	}
	out := [][]byte{trimmed}
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		out = append(out, bytes.TrimSpace(trimmed[i+1:]))
	}
	if first, last := bytes.IndexByte(trimmed, '{'), bytes.LastIndexByte(trimmed, '}'); first >= 0 && last > first {
		out = append(out, trimmed[first:last+1])
	}
	return out
}

func missingModule(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "whisperx") &&
		(strings.Contains(s, "modulenotfounderror") || strings.Contains(s, "no module named"))
}

func tailString(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}
