package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrelay/internal/config"
	"github.com/audiolibrelab/micrelay/internal/recorder"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.Backend = "mock"
	cfg.Audio.SampleRate = 16000
	cfg.Audio.PeriodMS = 20
	cfg.Recording.Format = "wav"
	cfg.Recording.Directory = t.TempDir()
	cfg.Recording.ProgressInterval = 50 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestService(t *testing.T, cfg *config.Config, configFile string) *MicRelayService {
	t.Helper()
	svc, err := New(cfg, configFile, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func waitFor(t *testing.T, events <-chan recorder.Status, kind recorder.StatusKind) recorder.Status {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case st, ok := <-events:
			require.True(t, ok, "status stream closed before %s", kind)
			if st.Kind == kind {
				return st
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestService_RecordAndList(t *testing.T) {
	cfg := testConfig(t)
	svc := newTestService(t, cfg, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	statuses := svc.SubscribeStatus(ctx)
	power := svc.SubscribePower(ctx)

	require.NoError(t, svc.StartRecording(ctx, ""))
	waitFor(t, statuses.Events(), recorder.StatusStarting)

	st := svc.GetStatus()
	assert.Equal(t, recorder.StateRecording, st.State)
	require.NotNil(t, st.Session)
	assert.Equal(t, cfg.Recording.Directory, filepath.Dir(st.Session.Path))
	assert.Equal(t, "mock", st.Backend)

	select {
	case p := <-power.Events():
		assert.Equal(t, float32(-160), p.Average)
	case <-time.After(5 * time.Second):
		t.Fatal("no power reading")
	}

	// the active file is not listed
	recordings, err := svc.ListRecordings()
	require.NoError(t, err)
	assert.Empty(t, recordings)

	svc.StopRecording()
	done := waitFor(t, statuses.Events(), recorder.StatusCompleted)
	assert.Equal(t, st.Session.Path, done.Path)

	recordings, err = svc.ListRecordings()
	require.NoError(t, err)
	require.Len(t, recordings, 1)
	assert.Equal(t, done.Path, recordings[0].Path)
	assert.Equal(t, "wav", recordings[0].Extension)
	assert.Greater(t, recordings[0].Size, int64(44))

	latest, err := svc.LatestRecording()
	require.NoError(t, err)
	assert.Equal(t, done.Path, latest.Path)

	assert.Equal(t, recorder.StateIdle, svc.GetStatus().State)
	assert.Empty(t, svc.GetLastError())
}

func TestService_CancelDiscardsFile(t *testing.T) {
	svc := newTestService(t, testConfig(t), "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	statuses := svc.SubscribeStatus(ctx)

	require.NoError(t, svc.StartRecording(ctx, ""))
	waitFor(t, statuses.Events(), recorder.StatusStarting)
	svc.CancelRecording()
	waitFor(t, statuses.Events(), recorder.StatusCancelled)

	recordings, err := svc.ListRecordings()
	require.NoError(t, err)
	assert.Empty(t, recordings)

	_, err = svc.LatestRecording()
	assert.Error(t, err)
}

func TestService_StartFailureSetsLastError(t *testing.T) {
	svc := newTestService(t, testConfig(t), "")

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := svc.StartRecording(context.Background(), filepath.Join(blocker, "sub"))
	assert.ErrorIs(t, err, recorder.ErrIO)
	assert.Contains(t, svc.GetLastError(), "Failed to start recording")
	assert.Equal(t, recorder.StateIdle, svc.GetStatus().State)
}

func TestService_AlreadyRunning(t *testing.T) {
	svc := newTestService(t, testConfig(t), "")

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	err := svc.StartRecording(context.Background(), "")
	assert.ErrorIs(t, err, recorder.ErrAlreadyRunning)
	svc.CancelRecording()
}

func TestService_LoadProfile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "micrelay.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
active_config: default
configs:
  default:
    audio:
      backend: mock
      sample_rate: 16000
    recording:
      format: wav
      directory: `+dir+`
  long:
    recording:
      max_duration: 5m
`), 0o644))

	cfg, err := config.LoadWithProfile(file, "")
	require.NoError(t, err)
	svc := newTestService(t, cfg, file)

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	assert.ErrorIs(t, svc.LoadProfile("long"), ErrBusy)
	svc.CancelRecording()

	require.NoError(t, svc.LoadProfile("long"))
	assert.Equal(t, "long", svc.GetConfig().Profile)
	assert.Equal(t, float64(300), svc.GetStatus().Limit)

	assert.Error(t, svc.LoadProfile("missing"))
	assert.Equal(t, "long", svc.GetConfig().Profile)
}

func TestService_InputFormat(t *testing.T) {
	svc := newTestService(t, testConfig(t), "")
	f, err := svc.InputFormat()
	require.NoError(t, err)
	assert.Equal(t, float64(16000), f.SampleRate)
	assert.Equal(t, 1, f.Channels)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audio.Encoding = "pcm24"
	_, err := New(cfg, "", nil)
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(1536*1024))
}
