package audiofile

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"

	"github.com/audiolibrelab/micrelay/internal/audio"
)

// Writer appends planar capture buffers to an output file.
type Writer interface {
	Write(buf *audio.Buffer) error
	// Close finalizes the container. The file is complete only after Close
	// returns nil.
	Close() error
	Path() string
}

// Create opens path for writing in the given preset. in is the layout of the
// buffers that will be passed to Write.
func Create(path string, format Format, in audio.Format) (Writer, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	switch format {
	case FormatWAV:
		return newWAVWriter(path, in)
	case FormatAIFF:
		return newAIFFWriter(path, in)
	case FormatM4A:
		return newM4AWriter(path, in)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
}

// converter turns capture buffers into the 16-bit mono 44.1kHz stream every
// preset stores. It keeps resampler state across buffers.
type converter struct {
	in        audio.Format
	resampler *audio.Resampler
}

func newConverter(in audio.Format) *converter {
	return &converter{
		in:        in,
		resampler: audio.NewResampler(in.SampleRate, outputSampleRate),
	}
}

func (c *converter) convert(buf *audio.Buffer) ([]int, error) {
	if buf == nil || buf.Frames == 0 {
		return nil, nil
	}
	if buf.Format != c.in {
		return nil, fmt.Errorf("%w: buffer format %s does not match writer input %s", ErrInvalidFormat, buf.Format, c.in)
	}
	return audio.QuantizeInt16(c.resampler.Process(audio.Downmix(buf))), nil
}

func (c *converter) intBuffer(samples []int) *goaudio.IntBuffer {
	return &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: outputChannels,
			SampleRate:  outputSampleRate,
		},
		Data:           samples,
		SourceBitDepth: outputBitDepth,
	}
}

// closeFile closes f unless an encoder already did.
func closeFile(f *os.File) error {
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return err
	}
	return nil
}
