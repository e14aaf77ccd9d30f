package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/micrelay/internal/audio"
	"github.com/audiolibrelab/micrelay/internal/audiofile"
	"github.com/audiolibrelab/micrelay/internal/recorder"
	"github.com/audiolibrelab/micrelay/internal/service"
)

const (
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// errOutsideRoot rejects a start directory that is not below the
// configured output directory.
var errOutsideRoot = errors.New("directory is outside the output directory")

// Server exposes the recorder over HTTP and websockets.
type Server struct {
	service  service.Service
	listen   string
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status  service.StatusInfo `json:"status"`
	Message string             `json:"message"`
}

// RecordingsResponse represents the JSON response for recordings endpoint
type RecordingsResponse struct {
	Recordings          []service.RecordingInfo `json:"recordings"`
	TotalCount          int                     `json:"total_count"`
	OutputDirectory     string                  `json:"output_directory"`
	SupportedExtensions []string                `json:"supported_extensions"`
}

// ChunkHeader is the first message on /ws/chunks. Every following message
// is binary interleaved PCM in this format.
type ChunkHeader struct {
	Type       string  `json:"type"`
	SampleRate float64 `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Encoding   string  `json:"encoding"`
	Layout     string  `json:"layout"`
}

// New creates a server for svc listening on listen.
func New(svc service.Service, listen string) *Server {
	s := &Server{
		service: svc,
		listen:  listen,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 8192,
		},
		mux: http.NewServeMux(),
	}
	s.upgrader.CheckOrigin = s.originAllowed

	s.mux.HandleFunc("/start", s.handleStart)
	s.mux.HandleFunc("/stop", s.handleStop)
	s.mux.HandleFunc("/cancel", s.handleCancel)
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/recordings", s.handleRecordings)
	s.mux.HandleFunc("/recordings/", s.handleRecordingStream)
	s.mux.HandleFunc("/ws/status", s.handleStatusStream)
	s.mux.HandleFunc("/ws/power", s.handlePowerStream)
	s.mux.HandleFunc("/ws/chunks", s.handleChunkStream)
	return s
}

// Handler returns the routes. Browser requests from an origin other than
// the server's own or one listed in server.allowed_origins are refused.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.originAllowed(r) {
			slog.Warn("Rejected cross-origin request", "origin", r.Header.Get("Origin"), "path", r.URL.Path)
			s.sendErrorResponse(w, http.StatusForbidden, "Origin not allowed")
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

// originAllowed accepts requests without an Origin header (non-browser
// clients), same-origin requests and configured origins.
func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.service.GetConfig().Server.AllowedOrigins {
		if strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// resolveDirectory maps a start request's directory onto the output
// directory. Relative names are taken below it; paths leaving it are
// refused.
func (s *Server) resolveDirectory(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	root, err := filepath.Abs(s.service.GetConfig().OutputDirectory())
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(root, dir)
	}
	dir = filepath.Clean(dir)

	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return dir, nil
}

// Run serves until ctx is done, then shuts down. Open websocket streams end
// with ctx.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.listen, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("Starting micrelay server",
		"listen", ln.Addr().String(),
		"local_url", fmt.Sprintf("http://%s", localURL(ln.Addr())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down server")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleStart starts a session (POST, optional "directory" form value)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	requested := r.FormValue("directory")
	slog.Debug("Start request received", "directory", requested)

	directory, err := s.resolveDirectory(requested)
	if err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"directory", requested, "operation", "start")
		return
	}

	if err := s.service.StartRecording(r.Context(), directory); err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to start recording: %v", err),
			"directory", directory, "operation", "start")
		return
	}

	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"message": "Recording started",
		"status":  s.service.GetStatus(),
	})
}

// handleStop finishes the session and keeps the file
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.service.StopRecording()
	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"message": "Recording stopped",
		"status":  s.service.GetStatus(),
	})
}

// handleCancel finishes the session and deletes the file
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.service.CancelRecording()
	s.sendJSON(w, map[string]interface{}{
		"success": true,
		"message": "Recording cancelled",
		"status":  s.service.GetStatus(),
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	status := s.service.GetStatus()
	s.sendJSON(w, StatusResponse{
		Status:  status,
		Message: statusMessage(status),
	})
}

// handleRecordings lists finished recordings, newest first
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err), "operation", "list_recordings")
		return
	}

	var exts []string
	for _, f := range audiofile.Formats() {
		exts = append(exts, f.Extension())
	}

	s.sendJSON(w, RecordingsResponse{
		Recordings:          recordings,
		TotalCount:          len(recordings),
		OutputDirectory:     s.service.GetConfig().OutputDirectory(),
		SupportedExtensions: exts,
	})
}

// handleRecordingStream serves one finished recording
func (s *Server) handleRecordingStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filename := strings.TrimPrefix(r.URL.Path, "/recordings/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}
	// Validate filename (prevent path traversal)
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		http.Error(w, "Invalid filename", http.StatusBadRequest)
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		http.Error(w, "Error listing recordings", http.StatusInternalServerError)
		return
	}
	var found *service.RecordingInfo
	for i := range recordings {
		if recordings[i].Name == filename {
			found = &recordings[i]
			break
		}
	}
	if found == nil {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}

	file, err := os.Open(found.Path)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	contentType := mime.TypeByExtension(filepath.Ext(found.Name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, found.Name, found.ModTime, file)
}

// handleStatusStream streams lifecycle events as JSON text messages
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the handshake completes so a client that starts a
	// session right after connecting sees its Starting event.
	sub := s.service.SubscribeStatus(ctx)
	conn := s.upgrade(w, r)
	if conn == nil {
		return
	}
	defer conn.Close()
	go drain(conn, cancel)

	for st := range sub.Events() {
		if err := writeJSON(conn, st); err != nil {
			slog.Debug("Status stream closed", "error", err)
			return
		}
	}
	closeStream(conn)
}

// handlePowerStream streams one JSON power reading per chunk
func (s *Server) handlePowerStream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.service.SubscribePower(ctx)
	conn := s.upgrade(w, r)
	if conn == nil {
		return
	}
	defer conn.Close()
	go drain(conn, cancel)

	for p := range sub.Events() {
		if err := writeJSON(conn, p); err != nil {
			slog.Debug("Power stream closed", "error", err)
			return
		}
	}
	closeStream(conn)
}

// handleChunkStream sends a ChunkHeader, then every chunk as a binary
// message. A slow client loses its oldest chunks.
func (s *Server) handleChunkStream(w http.ResponseWriter, r *http.Request) {
	format, err := s.service.InputFormat()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("No input format: %v", err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := s.service.SubscribeChunks(ctx)
	conn := s.upgrade(w, r)
	if conn == nil {
		return
	}
	defer conn.Close()
	go drain(conn, cancel)

	header := ChunkHeader{
		Type:       "format",
		SampleRate: format.SampleRate,
		Channels:   format.Channels,
		Encoding:   string(format.Encoding),
		Layout:     "interleaved",
	}
	if err := writeJSON(conn, header); err != nil {
		return
	}

	for chunk := range sub.Events() {
		if err := writeChunk(conn, chunk); err != nil {
			slog.Debug("Chunk stream closed", "error", err, "dropped", sub.Dropped())
			return
		}
	}
	closeStream(conn)
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request) *websocket.Conn {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		slog.Debug("Websocket upgrade failed", "path", r.URL.Path, "error", err)
		return nil
	}
	slog.Debug("Websocket client connected", "path", r.URL.Path, "remote", r.RemoteAddr)
	return conn
}

// drain reads until the client goes away, then cancels the subscription.
func drain(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

func writeChunk(conn *websocket.Conn, chunk audio.Chunk) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, chunk.Data)
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
}

func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, recorder.ErrPermissionDenied), errors.Is(err, recorder.ErrRestricted),
		errors.Is(err, errOutsideRoot):
		return http.StatusForbidden
	case errors.Is(err, recorder.ErrInvalidFormat):
		return http.StatusBadRequest
	case errors.Is(err, recorder.ErrEngineUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func statusMessage(st service.StatusInfo) string {
	switch st.State {
	case recorder.StateRecording:
		if st.Session != nil {
			return fmt.Sprintf("Recording %s (%.0fs of %.0fs)",
				filepath.Base(st.Session.Path), st.Session.Elapsed, st.Limit)
		}
		return "Recording"
	case recorder.StateFinalizing:
		return "Finalizing recording"
	default:
		if st.LastError != "" {
			return st.LastError
		}
		return "Idle"
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	// Log the error with structured context
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

// localURL replaces an unspecified listen host with the LAN address so the
// logged URL works from another device.
func localURL(addr net.Addr) string {
	tcp, ok := addr.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return addr.String()
	}
	return net.JoinHostPort(getLocalIP(), fmt.Sprint(tcp.Port))
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
