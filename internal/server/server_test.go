package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrelay/internal/config"
	"github.com/audiolibrelab/micrelay/internal/recorder"
	"github.com/audiolibrelab/micrelay/internal/service"
)

func newTestServer(t *testing.T, tweaks ...func(*config.Config)) (*httptest.Server, *service.MicRelayService) {
	t.Helper()
	cfg := config.Default()
	cfg.Audio.Backend = "mock"
	cfg.Audio.SampleRate = 16000
	cfg.Audio.Encoding = "int16"
	cfg.Audio.PeriodMS = 20
	cfg.Recording.Format = "wav"
	cfg.Recording.Directory = t.TempDir()
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	svc, err := service.New(cfg, "", nil)
	require.NoError(t, err)

	ts := httptest.NewServer(New(svc, "127.0.0.1:0").Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = svc.Close()
	})
	return ts, svc
}

func post(t *testing.T, ts *httptest.Server, path string, form url.Values) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, path), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readStatusKind(t *testing.T, conn *websocket.Conn, kind string) map[string]interface{} {
	t.Helper()
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["kind"] == kind {
			return msg
		}
	}
}

func TestServer_StartStopLifecycle(t *testing.T) {
	ts, _ := newTestServer(t)
	statuses := dial(t, ts, "/ws/status")

	code, body := post(t, ts, "/start", nil)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])

	readStatusKind(t, statuses, "starting")

	code, body = post(t, ts, "/start", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, false, body["success"])

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	var st StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	resp.Body.Close()
	assert.Contains(t, st.Message, "Recording")
	require.NotNil(t, st.Status.Session)

	code, _ = post(t, ts, "/stop", nil)
	require.Equal(t, http.StatusOK, code)

	done := readStatusKind(t, statuses, "completed")
	assert.Equal(t, st.Status.Session.Path, done["path"])

	resp, err = http.Get(ts.URL + "/recordings")
	require.NoError(t, err)
	var list RecordingsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	resp.Body.Close()
	require.Equal(t, 1, list.TotalCount)
	assert.Contains(t, list.SupportedExtensions, "m4a")

	resp, err = http.Get(ts.URL + "/recordings/" + list.Recordings[0].Name)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, list.Recordings[0].Size, resp.ContentLength)
}

func TestServer_CancelDiscards(t *testing.T) {
	ts, svc := newTestServer(t)
	statuses := dial(t, ts, "/ws/status")

	code, _ := post(t, ts, "/start", nil)
	require.Equal(t, http.StatusOK, code)
	readStatusKind(t, statuses, "starting")

	code, _ = post(t, ts, "/cancel", nil)
	require.Equal(t, http.StatusOK, code)
	readStatusKind(t, statuses, "cancelled")

	recordings, err := svc.ListRecordings()
	require.NoError(t, err)
	assert.Empty(t, recordings)
}

func TestServer_StartIntoCustomDirectory(t *testing.T) {
	ts, svc := newTestServer(t)
	root := svc.GetConfig().OutputDirectory()

	code, body := post(t, ts, "/start", url.Values{"directory": {filepath.Join("takes", "monday")}})
	require.Equal(t, http.StatusOK, code, body)

	st := svc.GetStatus()
	require.NotNil(t, st.Session)
	assert.Equal(t, filepath.Join(root, "takes", "monday"), filepath.Dir(st.Session.Path))
	svc.CancelRecording()

	code, body = post(t, ts, "/start", url.Values{"directory": {filepath.Join(root, "abs")}})
	require.Equal(t, http.StatusOK, code, body)
	st = svc.GetStatus()
	require.NotNil(t, st.Session)
	assert.Equal(t, filepath.Join(root, "abs"), filepath.Dir(st.Session.Path))
	svc.CancelRecording()
}

func TestServer_StartOutsideOutputDirectory(t *testing.T) {
	ts, svc := newTestServer(t)
	elsewhere := filepath.Join(t.TempDir(), "planted")

	for _, dir := range []string{elsewhere, "../escape", "takes/../../escape"} {
		code, body := post(t, ts, "/start", url.Values{"directory": {dir}})
		assert.Equal(t, http.StatusForbidden, code, dir)
		assert.Equal(t, false, body["success"])
	}

	_, err := os.Stat(elsewhere)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, recorder.StateIdle, svc.GetStatus().State)
}

func TestServer_RejectsForeignOrigin(t *testing.T) {
	ts, svc := newTestServer(t)
	foreign := http.Header{"Origin": {"http://evil.example"}}

	for _, path := range []string{"/ws/chunks", "/ws/power", "/ws/status"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, path), foreign)
		require.ErrorIs(t, err, websocket.ErrBadHandshake, path)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, path)
		resp.Body.Close()
	}

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/start", strings.NewReader(""))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", "http://evil.example")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, recorder.StateIdle, svc.GetStatus().State)
}

func TestServer_AcceptsOwnAndConfiguredOrigins(t *testing.T) {
	ts, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.AllowedOrigins = []string{"http://studio.local:3000/"}
	})

	for _, origin := range []string{ts.URL, "http://studio.local:3000"} {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/ws/power"), http.Header{"Origin": {origin}})
		require.NoError(t, err, origin)
		conn.Close()
	}
}

func TestServer_ChunkStream(t *testing.T) {
	ts, svc := newTestServer(t)
	conn := dial(t, ts, "/ws/chunks")

	var header ChunkHeader
	require.NoError(t, conn.ReadJSON(&header))
	assert.Equal(t, "format", header.Type)
	assert.Equal(t, float64(16000), header.SampleRate)
	assert.Equal(t, "int16", header.Encoding)
	assert.Equal(t, "interleaved", header.Layout)

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	defer svc.CancelRecording()

	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)
	// 20ms at 16kHz mono int16
	assert.Len(t, data, 320*2)
}

func TestServer_PowerStream(t *testing.T) {
	ts, svc := newTestServer(t)
	conn := dial(t, ts, "/ws/power")

	require.NoError(t, svc.StartRecording(context.Background(), ""))
	defer svc.CancelRecording()

	var p map[string]float64
	require.NoError(t, conn.ReadJSON(&p))
	assert.Equal(t, float64(-160), p["average"])
	assert.Equal(t, float64(-160), p["peak"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/start", "/stop", "/cancel"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
	}

	code, _ := post(t, ts, "/status", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestServer_RecordingNotFound(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/recordings/recording_1.wav")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/recordings/recording%5C1.wav")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Run(t *testing.T) {
	_, svc := newTestServer(t)
	srv := New(svc, "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStatusCodeFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusCodeFor(assert.AnError))
	assert.Equal(t, http.StatusForbidden, statusCodeFor(errOutsideRoot))
	assert.Equal(t, http.StatusConflict, statusCodeFor(recorder.ErrAlreadyRunning))
}
