package transcribe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("job failed: %w", Errorf(KindTimeout, "exceeded %s", "10ms"))

	require.ErrorIs(t, err, ErrTimeout)
	require.NotErrorIs(t, err, ErrProcessFailed)
	require.Equal(t, KindTimeout, KindOf(err))
	require.Contains(t, err.Error(), "timeout: exceeded 10ms")
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := errors.New("exit status 2")
	err := &Error{Kind: KindProcessFailed, Err: cause}

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, ErrProcessFailed)
}

func TestKindOf_NonTranscriptionError(t *testing.T) {
	require.Equal(t, Kind(""), KindOf(errors.New("other")))
	require.Equal(t, Kind(""), KindOf(nil))
}

type failing struct{ err error }

func (f failing) Transcribe(context.Context, string, Options) (*Output, error) {
	return nil, f.err
}

func TestInstrumented_PassesThrough(t *testing.T) {
	tr := Instrumented("stub", failing{err: ErrMissingCapability})
	_, err := tr.Transcribe(context.Background(), "a.wav", Options{})
	require.ErrorIs(t, err, ErrMissingCapability)
}
