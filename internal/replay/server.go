package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/intentest/internal/consts"
	"github.com/codefionn/intentest/internal/logger"
	"github.com/codefionn/intentest/internal/testerclient"
	"github.com/julienschmidt/httprouter"
)

// Config configures a replay server
type Config struct {
	// Addr is the listen address; "127.0.0.1:0" picks a free port
	Addr string
	// Delay is the pause between two frames
	Delay time.Duration
	// JUnitVersion is the initial version reported by /healthz
	JUnitVersion string
}

// DefaultConfig returns a loopback configuration on a free port
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:0",
		JUnitVersion: consts.DefaultJUnitVersion,
	}
}

// Server is a stand-in for the tester service that answers every query with
// the same transcript.
type Server struct {
	config     Config
	transcript *Transcript
	router     *httprouter.Router
	log        *logger.Logger

	mu           sync.Mutex
	server       *http.Server
	listener     net.Listener
	junitVersion string
	queries      []json.RawMessage
	active       int
}

// NewServer creates a new replay server
func NewServer(transcript *Transcript, config Config) *Server {
	if transcript == nil {
		transcript = NewTranscript()
	}
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	s := &Server{
		config:       config,
		transcript:   transcript,
		router:       httprouter.New(),
		log:          logger.Global().WithPrefix("replay"),
		junitVersion: config.JUnitVersion,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.POST(testerclient.JUnitVersionPath, s.handleJUnitVersion)
	s.router.POST(testerclient.SessionPath, s.handleSession)
	s.router.GET("/healthz", s.handleHealth)
}

// Handler returns the router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
		ErrorLog:          logger.ErrorLog(s.log),
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("listening on %s with %d frames", ln.Addr(), len(s.transcript.Frames))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed: %v", err)
		}
	}()
	return nil
}

// Port returns the port the server listens on, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()
	return srv.Shutdown(ctx)
}

// JUnitVersion returns the last version set through /junitVersion.
func (s *Server) JUnitVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.junitVersion
}

// Queries returns the query arguments received so far, in order.
func (s *Server) Queries() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]json.RawMessage(nil), s.queries...)
}

func readEnvelope(r *http.Request, wantType string) (*testerclient.Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, consts.BufferSize1MB))
	if err != nil {
		return nil, err
	}
	// query arguments are opaque, so a null payload is fine here
	var env testerclient.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("request is not a JSON envelope: %w", err)
	}
	if env.Type != wantType {
		return nil, fmt.Errorf("expected %q envelope, got %q", wantType, env.Type)
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("null")
	}
	return &env, nil
}

func (s *Server) handleJUnitVersion(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	env, err := readEnvelope(r, "change_"+testerclient.JUnitVersionKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var version string
	if err := json.Unmarshal(env.Data, &version); err != nil || version == "" {
		http.Error(w, "junit version must be a non-empty string", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.junitVersion = version
	s.mu.Unlock()
	s.log.Info("junit version set to %s", version)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	env, err := readEnvelope(r, testerclient.TypeQuery)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.queries = append(s.queries, env.Data)
	s.active++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}()

	requestID := r.Header.Get(testerclient.RequestIDHeader)
	s.log.Info("session %s started", requestID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	for i, frame := range s.transcript.Frames {
		if i > 0 && s.config.Delay > 0 {
			select {
			case <-r.Context().Done():
				s.log.Info("session %s closed by client after %d frames", requestID, i)
				return
			case <-time.After(s.config.Delay):
			}
		}
		if _, err := w.Write(append(append([]byte(nil), frame...), '\n')); err != nil {
			s.log.Warn("session %s write failed: %v", requestID, err)
			return
		}
		flusher.Flush()
	}
	s.log.Info("session %s streamed %d frames", requestID, len(s.transcript.Frames))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	status := map[string]interface{}{
		"status":        "ok",
		"junit_version": s.junitVersion,
		"sessions":      s.active,
		"time":          time.Now().Format(time.RFC3339),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
