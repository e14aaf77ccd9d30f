// Package audiofile writes captured audio to disk in one of three presets:
// AAC in an M4A container, or 16-bit PCM in WAV or AIFF. Every preset is
// mono at 44.1kHz; input in any capture format is converted on the way in.
package audiofile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInvalidFormat means the preset or the input format cannot be written.
var ErrInvalidFormat = errors.New("invalid audio file format")

// Format is an output container/codec preset.
type Format string

const (
	FormatM4A  Format = "m4a"
	FormatWAV  Format = "wav"
	FormatAIFF Format = "aiff"
)

// Settings is the stream layout every preset writes.
type Settings struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Compressed bool
}

const filePrefix = "recording_"

const (
	outputSampleRate = 44100
	outputChannels   = 1
	outputBitDepth   = 16
)

// ParseFormat accepts a preset name or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".") {
	case "m4a", "aac":
		return FormatM4A, nil
	case "wav", "wave":
		return FormatWAV, nil
	case "aiff", "aif":
		return FormatAIFF, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: m4a, wav, aiff)", ErrInvalidFormat, s)
	}
}

// Formats lists the supported presets.
func Formats() []Format {
	return []Format{FormatM4A, FormatWAV, FormatAIFF}
}

// Extension is the file extension without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Settings returns the preset's stream layout.
func (f Format) Settings() Settings {
	return Settings{
		SampleRate: outputSampleRate,
		Channels:   outputChannels,
		BitDepth:   outputBitDepth,
		Compressed: f == FormatM4A,
	}
}

// FileName is the name of a recording created at t.
func (f Format) FileName(t time.Time) string {
	return fmt.Sprintf("%s%d.%s", filePrefix, t.Unix(), f.Extension())
}

// maxCollisions bounds the suffixes Reserve tries for one timestamp.
const maxCollisions = 1000

// Reserve claims a new file name in dir for a recording created at t and
// creates it empty. A name already taken gets a -N suffix, so an existing
// recording is never truncated.
func (f Format) Reserve(dir string, t time.Time) (string, error) {
	for n := 0; n < maxCollisions; n++ {
		name := f.FileName(t)
		if n > 0 {
			name = fmt.Sprintf("%s%d-%d.%s", filePrefix, t.Unix(), n, f.Extension())
		}
		path := filepath.Join(dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("creating %s: %w", path, err)
		}
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("closing %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("no free file name for %s in %s", f.FileName(t), dir)
}
