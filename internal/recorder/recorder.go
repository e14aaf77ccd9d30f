// Package recorder runs capture sessions: it owns the engine driver, the
// output file and the duration guard, and publishes chunks, power readings
// and lifecycle statuses to subscribers.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/audiolibrelab/micrelay/internal/audio"
	"github.com/audiolibrelab/micrelay/internal/audiofile"
	"github.com/audiolibrelab/micrelay/internal/broadcast"
	"github.com/audiolibrelab/micrelay/internal/engine"
)

// WriterFactory opens the output file for a session.
type WriterFactory func(path string, format audiofile.Format, in audio.Format) (audiofile.Writer, error)

// Options configures a Recorder.
type Options struct {
	// Format is the output preset for every session.
	Format audiofile.Format
	// MaxDuration is the ceiling after which a session stops on its own.
	MaxDuration time.Duration
	// ProgressInterval is the Progress cadence.
	ProgressInterval time.Duration
	// DefaultDirectory is used when Start gets no directory.
	DefaultDirectory string
	// ChunkBuffer bounds each chunk subscriber's queue (drop-oldest).
	// Zero means unbounded.
	ChunkBuffer int

	Authorizer Authorizer
	OpenWriter WriterFactory
	Logger     *slog.Logger
}

// DefaultOptions returns m4a output, a 60s ceiling and 1s progress.
func DefaultOptions() Options {
	return Options{
		Format:           audiofile.FormatM4A,
		MaxDuration:      60 * time.Second,
		ProgressInterval: time.Second,
		DefaultDirectory: os.TempDir(),
		ChunkBuffer:      64,
	}
}

// Session describes the active recording.
type Session struct {
	Path      string           `json:"path"`
	Directory string           `json:"directory"`
	Started   time.Time        `json:"started"`
	Input     audio.Format     `json:"input"`
	Output    audiofile.Format `json:"output"`
	Elapsed   time.Duration    `json:"-"`
}

// Recorder is the capture state machine. All session state is guarded by mu;
// the chunk pipeline, the guard tick and the public commands all run under
// it, one at a time.
type Recorder struct {
	driver engine.Driver
	opts   Options
	logger *slog.Logger

	status *broadcast.Hub[Status]
	power  *broadcast.Hub[audio.Power]
	chunks *broadcast.Hub[audio.Chunk]

	mu      sync.Mutex
	state   State
	gen     uint64
	session *session
	closed  bool
}

type session struct {
	gen    uint64
	info   Session
	writer audiofile.Writer
	guard  *Guard
}

// New creates an idle recorder that owns driver.
func New(driver engine.Driver, opts Options) (*Recorder, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: no driver", ErrEngineUnavailable)
	}
	def := DefaultOptions()
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if _, err := audiofile.ParseFormat(string(opts.Format)); err != nil {
		return nil, withKind(ErrInvalidFormat, err)
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = def.MaxDuration
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	if opts.DefaultDirectory == "" {
		opts.DefaultDirectory = def.DefaultDirectory
	}
	if opts.Authorizer == nil {
		opts.Authorizer = AllowAll
	}
	if opts.OpenWriter == nil {
		opts.OpenWriter = audiofile.Create
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Recorder{
		driver: driver,
		opts:   opts,
		logger: opts.Logger,
		status: broadcast.New[Status](),
		power:  broadcast.New[audio.Power](),
		chunks: broadcast.New(
			broadcast.WithCapacity[audio.Chunk](opts.ChunkBuffer),
			broadcast.WithClone(audio.Chunk.Clone),
		),
	}, nil
}

// Start opens a session writing into dir, or the default directory when dir
// is empty. Errors are returned synchronously and leave the recorder idle.
func (r *Recorder) Start(ctx context.Context, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if r.state != StateIdle {
		return ErrAlreadyRunning
	}

	if dir == "" {
		dir = r.opts.DefaultDirectory
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating output directory: %w", ErrIO, err)
	}

	if err := r.opts.Authorizer.Authorize(ctx); err != nil {
		return classify(err, ErrPermissionDenied)
	}

	in, err := r.driver.InputFormat()
	if err != nil {
		return classify(err, ErrEngineUnavailable)
	}

	started := time.Now()
	path, err := r.opts.Format.Reserve(dir, started)
	if err != nil {
		return withKind(ErrIO, err)
	}
	writer, err := r.opts.OpenWriter(path, r.opts.Format, in)
	if err != nil {
		r.removeFile(path)
		return classify(err, ErrIO)
	}

	r.gen++
	gen := r.gen
	if err := r.driver.StartCapture(func(buf *audio.Buffer) { r.process(gen, buf) }); err != nil {
		_ = writer.Close()
		r.removeFile(path)
		return classify(err, ErrEngineUnavailable)
	}

	guard := NewGuard(r.opts.MaxDuration, r.opts.ProgressInterval)
	r.session = &session{
		gen: gen,
		info: Session{
			Path:      path,
			Directory: dir,
			Started:   started,
			Input:     in,
			Output:    r.opts.Format,
		},
		writer: writer,
		guard:  guard,
	}
	r.state = StateRecording
	guard.Start(func() { r.tick(gen) })

	r.logger.Info("Recording started", "file", path, "input", in.String(), "max_duration", r.opts.MaxDuration)
	r.status.Emit(Status{Kind: StatusStarting})
	return nil
}

// Stop ends the session and keeps the file. It is a no-op when not recording.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Cancel ends the session and deletes the file. It is a no-op when not
// recording.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discardLocked(true)
}

// process is the chunk pipeline, run once per delivered buffer.
func (r *Recorder) process(gen uint64, buf *audio.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if r.state != StateRecording || s == nil || s.gen != gen {
		return
	}

	chunk, ok := audio.Interleave(buf)
	if !ok {
		return
	}
	if !s.guard.Accept(chunk.Length()) {
		if s.guard.Reached() {
			r.logger.Debug("Duration limit reached", "limit", r.opts.MaxDuration)
			r.stopLocked()
		}
		return
	}

	r.chunks.Emit(chunk)
	r.power.Emit(audio.MeasurePower(chunk))

	if planar, ok := chunk.Planar(); ok {
		if err := s.writer.Write(planar); err != nil {
			r.failLocked(withKind(ErrIO, err))
			return
		}
	}

	if s.guard.Reached() {
		r.logger.Debug("Duration limit reached", "limit", r.opts.MaxDuration)
		r.stopLocked()
	}
}

func (r *Recorder) tick(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	if r.state != StateRecording || s == nil || s.gen != gen {
		return
	}

	if elapsed, moved := s.guard.Advance(); moved {
		r.status.Emit(Status{Kind: StatusProgress, Elapsed: elapsed})
	}

	if s.guard.Reached() {
		r.logger.Debug("Duration limit reached", "limit", r.opts.MaxDuration)
		r.stopLocked()
	}
}

// teardownLocked leaves Recording: it stops the guard and the tap, closes
// the writer and returns the recorder to Idle. Only the first caller after
// a Start gets the session.
func (r *Recorder) teardownLocked() (*session, error) {
	if r.state != StateRecording {
		return nil, nil
	}
	s := r.session
	r.state = StateFinalizing

	s.guard.Cancel()
	r.driver.StopCapture()
	err := s.writer.Close()

	stats := r.driver.Stats()
	r.logger.Debug("Capture finished", "delivered", stats.Delivered, "overruns", stats.Overruns)

	r.session = nil
	r.state = StateIdle
	return s, err
}

func (r *Recorder) stopLocked() {
	s, err := r.teardownLocked()
	if s == nil {
		return
	}
	if err != nil {
		r.removeFile(s.info.Path)
		err = withKind(ErrIO, err)
		r.logger.Error("Recording failed", "file", s.info.Path, "error", err)
		r.status.Emit(Status{Kind: StatusFailed, Err: err})
		return
	}

	r.logger.Info("Recording completed", "file", s.info.Path)
	r.status.Emit(Status{Kind: StatusCompleted, Path: s.info.Path})
}

func (r *Recorder) discardLocked(announce bool) {
	s, err := r.teardownLocked()
	if s == nil {
		return
	}
	if err != nil {
		r.logger.Debug("Closing discarded recording", "file", s.info.Path, "error", err)
	}
	r.removeFile(s.info.Path)

	if announce {
		r.logger.Info("Recording cancelled", "file", s.info.Path)
		r.status.Emit(Status{Kind: StatusCancelled})
	}
}

// failLocked reports an asynchronous failure and discards the session. The
// Failed status is the session's only terminal event.
func (r *Recorder) failLocked(err error) {
	if r.state != StateRecording {
		return
	}
	r.logger.Error("Recording failed", "file", r.session.info.Path, "error", err)
	r.status.Emit(Status{Kind: StatusFailed, Err: err})
	r.discardLocked(false)
}

func (r *Recorder) removeFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("Failed to remove recording", "file", path, "error", err)
	}
}

// SubscribeStatus streams lifecycle events until ctx is done.
func (r *Recorder) SubscribeStatus(ctx context.Context) *broadcast.Subscription[Status] {
	return r.status.Subscribe(ctx)
}

// SubscribePower streams one reading per processed chunk until ctx is done.
func (r *Recorder) SubscribePower(ctx context.Context) *broadcast.Subscription[audio.Power] {
	return r.power.Subscribe(ctx)
}

// SubscribeChunks streams a private copy of every processed chunk until ctx
// is done. A subscriber that falls behind loses its oldest chunks.
func (r *Recorder) SubscribeChunks(ctx context.Context) *broadcast.Subscription[audio.Chunk] {
	return r.chunks.Subscribe(ctx)
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Session returns a copy of the active session, if any.
func (r *Recorder) Session() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return Session{}, false
	}
	info := r.session.info
	info.Elapsed = r.session.guard.Elapsed()
	return info, true
}

// EngineStats returns the driver's delivery counters.
func (r *Recorder) EngineStats() engine.Stats {
	return r.driver.Stats()
}

// Options returns the effective options.
func (r *Recorder) Options() Options {
	return r.opts
}

// Close cancels any active session, ends all subscriptions and closes the
// driver.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.discardLocked(true)
	r.closed = true
	r.mu.Unlock()

	r.status.Close()
	r.power.Close()
	r.chunks.Close()
	return r.driver.Close()
}
