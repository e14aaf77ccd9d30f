package audiofile

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/micrelay/internal/audio"
)

// FFmpegBinary is the encoder used for the compressed preset.
var FFmpegBinary = "ffmpeg"

const (
	aacBitrate     = "128k"
	ffmpegExitWait = 5 * time.Second
)

// m4aWriter pipes raw s16le samples into an ffmpeg process that encodes
// AAC into an M4A container.
type m4aWriter struct {
	path  string
	conv  *converter
	cmd   *exec.Cmd
	stdin io.WriteCloser

	stderrMu  sync.Mutex
	stderrBuf strings.Builder
	done      chan error

	scratch []byte
}

func newM4AWriter(path string, in audio.Format) (*m4aWriter, error) {
	bin, err := exec.LookPath(FFmpegBinary)
	if err != nil {
		return nil, fmt.Errorf("%w: m4a output requires ffmpeg: %w", ErrInvalidFormat, err)
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(outputSampleRate),
		"-ac", strconv.Itoa(outputChannels),
		"-i", "pipe:0",
		"-c:a", "aac",
		"-b:a", aacBitrate,
		"-y",
		path,
	}
	slog.Debug("starting ffmpeg encoder", "command", bin+" "+strings.Join(args, " "))

	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	w := &m4aWriter{
		path:  path,
		conv:  newConverter(in),
		cmd:   cmd,
		stdin: stdin,
		done:  make(chan error, 1),
	}
	readDone := make(chan struct{})
	go func() {
		w.readStderr(stderr)
		close(readDone)
	}()
	go func() {
		<-readDone
		w.done <- cmd.Wait()
	}()
	return w, nil
}

func (w *m4aWriter) readStderr(pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		w.stderrMu.Lock()
		w.stderrBuf.WriteString(line + "\n")
		w.stderrMu.Unlock()
		slog.Debug("ffmpeg output", "line", line)
	}
}

func (w *m4aWriter) Write(buf *audio.Buffer) error {
	samples, err := w.conv.convert(buf)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	need := len(samples) * 2
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	data := w.scratch[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(s)))
	}

	if _, err := w.stdin.Write(data); err != nil {
		return fmt.Errorf("writing to ffmpeg for %s: %w", w.path, err)
	}
	return nil
}

// Close ends the input stream and waits for ffmpeg to finish the container.
func (w *m4aWriter) Close() error {
	if err := w.stdin.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		slog.Debug("closing ffmpeg stdin", "error", err)
	}

	select {
	case err := <-w.done:
		if err != nil {
			w.stderrMu.Lock()
			slog.Debug("ffmpeg stderr", "output", w.stderrBuf.String())
			w.stderrMu.Unlock()
			return fmt.Errorf("ffmpeg process failed: %w", err)
		}
		slog.Debug("ffmpeg exited successfully", "path", w.path)
		return nil
	case <-time.After(ffmpegExitWait):
		slog.Warn("ffmpeg did not exit within timeout, force killing")
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
		}
		<-w.done
		return fmt.Errorf("ffmpeg did not finish %s within %s", w.path, ffmpegExitWait)
	}
}

func (w *m4aWriter) Path() string {
	return w.path
}
