package recorder

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/micrelay/internal/audiofile"
	"github.com/audiolibrelab/micrelay/internal/engine"
)

var (
	ErrAlreadyRunning    = errors.New("recording already in progress")
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrRestricted        = errors.New("microphone access restricted")
	ErrInvalidFormat     = errors.New("input format unusable for output preset")
	ErrEngineUnavailable = errors.New("audio engine unavailable")
	ErrIO                = errors.New("recording i/o error")
	ErrClosed            = errors.New("recorder closed")
)

// withKind tags err with kind unless it already carries it.
func withKind(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}

// classify maps collaborator errors onto recorder error kinds. Errors of an
// unknown origin are treated as kind fallback.
func classify(err error, fallback error) error {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrRestricted),
		errors.Is(err, ErrInvalidFormat), errors.Is(err, ErrEngineUnavailable),
		errors.Is(err, ErrIO):
		return err
	case errors.Is(err, engine.ErrInvalidFormat), errors.Is(err, audiofile.ErrInvalidFormat):
		return withKind(ErrInvalidFormat, err)
	case errors.Is(err, engine.ErrUnavailable):
		return withKind(ErrEngineUnavailable, err)
	default:
		return withKind(fallback, err)
	}
}
