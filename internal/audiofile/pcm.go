package audiofile

import (
	"fmt"
	"os"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/micrelay/internal/audio"
)

const wavFormatPCM = 1

// pcmEncoder is satisfied by the go-audio wav and aiff encoders.
type pcmEncoder interface {
	Write(buf *goaudio.IntBuffer) error
	Close() error
}

// pcmWriter stores uncompressed 16-bit samples through a go-audio encoder.
type pcmWriter struct {
	path string
	file *os.File
	enc  pcmEncoder
	conv *converter
}

func newWAVWriter(path string, in audio.Format) (*pcmWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	enc := wav.NewEncoder(f, outputSampleRate, outputBitDepth, outputChannels, wavFormatPCM)
	return &pcmWriter{path: path, file: f, enc: enc, conv: newConverter(in)}, nil
}

func newAIFFWriter(path string, in audio.Format) (*pcmWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	enc := aiff.NewEncoder(f, outputSampleRate, outputBitDepth, outputChannels)
	return &pcmWriter{path: path, file: f, enc: enc, conv: newConverter(in)}, nil
}

func (w *pcmWriter) Write(buf *audio.Buffer) error {
	samples, err := w.conv.convert(buf)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	if err := w.enc.Write(w.conv.intBuffer(samples)); err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	return nil
}

func (w *pcmWriter) Close() error {
	encErr := w.enc.Close()
	fileErr := closeFile(w.file)
	if encErr != nil {
		return fmt.Errorf("finalizing %s: %w", w.path, encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("closing %s: %w", w.path, fileErr)
	}
	return nil
}

func (w *pcmWriter) Path() string {
	return w.path
}
