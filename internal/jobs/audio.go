package jobs

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrInvalidAudioURL = errors.New("jobs: audio url does not point into uploads")
	ErrAudioNotFound   = errors.New("jobs: audio file not found")
	ErrAudioTooLarge   = errors.New("jobs: audio file exceeds size limit")
)

const uploadsPrefix = "/uploads/"

// AudioLocator resolves stored audio URLs to files under the uploads
// directory. Both "/uploads/<name>" paths and absolute URLs whose path
// contains "/uploads/" are accepted.
type AudioLocator struct {
	Dir      string
	MaxBytes int64
}

// Locate returns the local path for audioURL after checking that the file
// exists and fits within MaxBytes.
func (l AudioLocator) Locate(audioURL string) (string, error) {
	rel, err := uploadsRelative(audioURL)
	if err != nil {
		return "", err
	}

	local := filepath.Join(l.Dir, filepath.FromSlash(rel))
	info, err := os.Stat(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrAudioNotFound, local)
		}
		return "", fmt.Errorf("jobs: stat audio: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrAudioNotFound, local)
	}
	if l.MaxBytes > 0 && info.Size() > l.MaxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrAudioTooLarge, info.Size(), l.MaxBytes)
	}
	return local, nil
}

func uploadsRelative(audioURL string) (string, error) {
	p := strings.TrimSpace(audioURL)
	if u, err := url.Parse(p); err == nil {
		p = u.Path
	}
	if strings.HasPrefix(p, "uploads/") {
		p = "/" + p
	}

	i := strings.Index(p, uploadsPrefix)
	if i < 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAudioURL, audioURL)
	}
	rel := p[i+len(uploadsPrefix):]
	if rel == "" || strings.Contains(rel, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAudioURL, audioURL)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q escapes the uploads directory", ErrInvalidAudioURL, audioURL)
		}
	}
	return rel, nil
}
