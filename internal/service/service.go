package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/audiolibrelab/micrelay/internal/audio"
	"github.com/audiolibrelab/micrelay/internal/audiofile"
	"github.com/audiolibrelab/micrelay/internal/broadcast"
	"github.com/audiolibrelab/micrelay/internal/config"
	"github.com/audiolibrelab/micrelay/internal/engine"
	"github.com/audiolibrelab/micrelay/internal/recorder"
)

// ErrBusy is returned by LoadProfile while a session is active.
var ErrBusy = errors.New("recording in progress")

// Service defines the interface for mic relay operations
type Service interface {
	// Recording operations
	StartRecording(ctx context.Context, directory string) error
	StopRecording()
	CancelRecording()
	GetStatus() StatusInfo

	// Live streams
	SubscribeStatus(ctx context.Context) *broadcast.Subscription[recorder.Status]
	SubscribePower(ctx context.Context) *broadcast.Subscription[audio.Power]
	SubscribeChunks(ctx context.Context) *broadcast.Subscription[audio.Chunk]
	InputFormat() (audio.Format, error)

	// Finished recordings
	ListRecordings() ([]RecordingInfo, error)
	LatestRecording() (*RecordingInfo, error)

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Error handling
	GetLastError() string

	Close() error
}

// StatusInfo is a point-in-time view of the recorder.
type StatusInfo struct {
	State     recorder.State   `json:"state"`
	Session   *SessionInfo     `json:"session,omitempty"`
	Backend   string           `json:"backend"`
	Delivered uint64           `json:"delivered"`
	Overruns  uint64           `json:"overruns"`
	Profile   string           `json:"profile"`
	Format    audiofile.Format `json:"format"`
	Limit     float64          `json:"max_duration_seconds"`
	LastError string           `json:"last_error,omitempty"`
}

// SessionInfo describes the active recording.
type SessionInfo struct {
	Path    string    `json:"path"`
	Started time.Time `json:"started"`
	Elapsed float64   `json:"elapsed_seconds"`
	Input   string    `json:"input"`
}

// RecordingInfo describes a finished recording on disk.
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	Extension    string    `json:"extension"`
}

// MicRelayService is the main service implementation
type MicRelayService struct {
	configFile string
	logger     *slog.Logger

	mu        sync.RWMutex
	cfg       *config.Config
	recorder  *recorder.Recorder
	stopWatch context.CancelFunc

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service for cfg. configFile is used to switch profiles.
func New(cfg *config.Config, configFile string, logger *slog.Logger) (*MicRelayService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MicRelayService{
		configFile: configFile,
		logger:     logger,
	}
	if err := s.install(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// install builds the driver and recorder for cfg and starts watching its
// statuses. Callers hold mu or own s exclusively.
func (s *MicRelayService) install(cfg *config.Config) error {
	rec, err := newRecorder(cfg, s.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := rec.SubscribeStatus(ctx)
	go s.watch(sub)

	s.cfg = cfg
	s.recorder = rec
	s.stopWatch = cancel
	return nil
}

func newRecorder(cfg *config.Config, logger *slog.Logger) (*recorder.Recorder, error) {
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid audio configuration: %w", err)
	}
	format, err := audiofile.ParseFormat(cfg.Recording.Format)
	if err != nil {
		return nil, err
	}

	driver, err := engine.NewDriver(engineCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio backend: %w", err)
	}

	rec, err := recorder.New(driver, recorder.Options{
		Format:           format,
		MaxDuration:      cfg.Recording.MaxDuration,
		ProgressInterval: cfg.Recording.ProgressInterval,
		DefaultDirectory: cfg.OutputDirectory(),
		ChunkBuffer:      cfg.Broadcast.ChunkBuffer,
		Logger:           logger,
	})
	if err != nil {
		_ = driver.Close()
		return nil, err
	}
	return rec, nil
}

// watch records failures so GetLastError can report them after the fact.
func (s *MicRelayService) watch(sub *broadcast.Subscription[recorder.Status]) {
	for st := range sub.Events() {
		switch st.Kind {
		case recorder.StatusStarting:
			s.clearLastError()
		case recorder.StatusFailed:
			s.setLastError(fmt.Sprintf("Recording failed: %v", st.Err))
		}
	}
}

func (s *MicRelayService) current() *recorder.Recorder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

// StartRecording starts a session in directory, or the configured directory
// when empty.
func (s *MicRelayService) StartRecording(ctx context.Context, directory string) error {
	slog.Debug("Service.StartRecording called", "directory", directory)
	err := s.current().Start(ctx, directory)
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording finishes the session and keeps the file.
func (s *MicRelayService) StopRecording() {
	s.current().Stop()
}

// CancelRecording finishes the session and discards the file.
func (s *MicRelayService) CancelRecording() {
	s.current().Cancel()
}

// GetStatus returns the current recorder state and session info
func (s *MicRelayService) GetStatus() StatusInfo {
	s.mu.RLock()
	rec, cfg := s.recorder, s.cfg
	s.mu.RUnlock()

	stats := rec.EngineStats()
	opts := rec.Options()
	info := StatusInfo{
		State:     rec.State(),
		Backend:   stats.Backend,
		Delivered: stats.Delivered,
		Overruns:  stats.Overruns,
		Profile:   cfg.Profile,
		Format:    opts.Format,
		Limit:     opts.MaxDuration.Seconds(),
		LastError: s.GetLastError(),
	}
	if sess, ok := rec.Session(); ok {
		info.Session = &SessionInfo{
			Path:    sess.Path,
			Started: sess.Started,
			Elapsed: sess.Elapsed.Seconds(),
			Input:   sess.Input.String(),
		}
	}
	return info
}

func (s *MicRelayService) SubscribeStatus(ctx context.Context) *broadcast.Subscription[recorder.Status] {
	return s.current().SubscribeStatus(ctx)
}

func (s *MicRelayService) SubscribePower(ctx context.Context) *broadcast.Subscription[audio.Power] {
	return s.current().SubscribePower(ctx)
}

func (s *MicRelayService) SubscribeChunks(ctx context.Context) *broadcast.Subscription[audio.Chunk] {
	return s.current().SubscribeChunks(ctx)
}

// InputFormat is the format of chunks delivered to chunk subscribers.
func (s *MicRelayService) InputFormat() (audio.Format, error) {
	cfg := s.GetConfig()
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		return audio.Format{}, err
	}
	return engineCfg.Format, nil
}

// ListRecordings returns the finished recordings in the output directory,
// newest first. The file of an active session is not listed.
func (s *MicRelayService) ListRecordings() ([]RecordingInfo, error) {
	dir := s.GetConfig().OutputDirectory()
	var active string
	if sess, ok := s.current().Session(); ok {
		active = sess.Path
	}

	found, err := audiofile.Scan(dir)
	if err != nil {
		return nil, err
	}

	recordings := []RecordingInfo{}
	for _, rec := range found {
		if rec.Path == active {
			continue
		}
		recordings = append(recordings, RecordingInfo{
			Name:         rec.Name,
			Path:         rec.Path,
			Size:         rec.Size,
			SizeHuman:    formatBytes(rec.Size),
			ModTime:      rec.ModTime,
			ModTimeHuman: rec.ModTime.Format("2006-01-02 15:04:05"),
			Extension:    rec.Format.Extension(),
		})
	}
	return recordings, nil
}

// LatestRecording returns the newest finished recording.
func (s *MicRelayService) LatestRecording() (*RecordingInfo, error) {
	recordings, err := s.ListRecordings()
	if err != nil {
		return nil, err
	}
	if len(recordings) == 0 {
		return nil, fmt.Errorf("no recordings in %s", s.GetConfig().OutputDirectory())
	}
	return &recordings[0], nil
}

// LoadProfile switches to another configuration profile. It rebuilds the
// driver and recorder, so it is refused while recording.
func (s *MicRelayService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recorder.State() != recorder.StateIdle {
		return ErrBusy
	}

	old, oldWatch := s.recorder, s.stopWatch
	if err := s.install(newCfg); err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}
	oldWatch()
	if err := old.Close(); err != nil {
		slog.Warn("Failed to close previous recorder", "error", err)
	}

	slog.Info("Profile loaded", "profile", newCfg.Profile)
	return nil
}

// GetConfig returns the current configuration
func (s *MicRelayService) GetConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// GetLastError returns the last error message (thread-safe)
func (s *MicRelayService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *MicRelayService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *MicRelayService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// Close cancels any active session and releases the audio backend.
func (s *MicRelayService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.recorder.Close()
	s.stopWatch()
	return err
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
