package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/intentest/internal/consts"
	"github.com/codefionn/intentest/internal/logger"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

//go:embed static/*
var StaticFiles embed.FS

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "127.0.0.1:8765"

// Server serves the read-only session view
type Server struct {
	addr       string
	router     *httprouter.Router
	hub        *Hub
	publisher  *Publisher
	upgrader   websocket.Upgrader
	static     fs.FS
	log        *logger.Logger
	startedAt  time.Time
	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a new web server listening on addr once started
func NewServer(addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	static, err := fs.Sub(StaticFiles, "static")
	if err != nil {
		// the embed pattern guarantees the directory exists
		panic(err)
	}

	hub := NewHub()
	s := &Server{
		addr:      addr,
		router:    httprouter.New(),
		hub:       hub,
		publisher: NewPublisher(hub),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.BufferSize1KB,
			WriteBufferSize: consts.BufferSize1KB,
			CheckOrigin:     sameHostOrigin,
		},
		static: static,
		log:    logger.Global().WithPrefix("web"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleIndex)
	s.router.GET("/static/*filepath", s.handleStatic)
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/healthz", s.handleHealth)
}

// Handler returns the router, for use with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Publisher returns the publisher feeding connected browsers
func (s *Server) Publisher() *Publisher {
	return s.publisher
}

// Start starts the hub and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: consts.Timeout10Seconds,
		ErrorLog:          logger.ErrorLog(s.log),
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.startedAt = time.Now()
	s.mu.Unlock()

	go s.hub.Run()
	go func() {
		s.log.Info("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Stop stops the web server
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	s.hub.Stop()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), consts.Timeout5Seconds)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// URL returns the address to open in a browser
func (s *Server) URL() string {
	return "http://" + s.Addr() + "/"
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade WebSocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn, s.publisher)
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFileFS(w, r, s.static, "index.html")
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := strings.TrimPrefix(ps.ByName("filepath"), "/")
	if strings.HasSuffix(name, ".js") {
		w.Header().Set("Content-Type", "application/javascript")
	}
	http.ServeFileFS(w, r, s.static, name)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	uptime := time.Since(s.startedAt).Round(time.Second)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.hub.ClientCount(),
		"uptime":  uptime.String(),
	})
}

// sameHostOrigin accepts requests without Origin and those from the page the
// server itself serves.
func sameHostOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return strings.TrimPrefix(strings.TrimPrefix(origin, "http://"), "https://") == r.Host
}
