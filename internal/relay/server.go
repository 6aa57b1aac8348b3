package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/caprica/lircj/internal/config"
	"github.com/caprica/lircj/internal/lircd"
	"github.com/caprica/lircj/pkg/lirc"
	"github.com/gorilla/websocket"
)

const shutdownTimeout = 5 * time.Second

// BridgeStatus is the part of *lirc.Bridge the server reports on.
type BridgeStatus interface {
	SocketPath() string
	State() lirc.State
	RepeatThreshold() int
	ListenerCount() int
}

// ProcessFinder lists running lircd processes.
type ProcessFinder func(ctx context.Context) ([]lircd.Process, error)

type Server struct {
	bridge         BridgeStatus
	broadcaster    *Broadcaster
	findProcesses  ProcessFinder
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	logger         *slog.Logger
}

func NewServer(cfg *config.Config, bridge BridgeStatus, broadcaster *Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	names := cfg.Lirc.ProcessNames
	s := &Server{
		bridge:      bridge,
		broadcaster: broadcaster,
		findProcesses: func(ctx context.Context) ([]lircd.Process, error) {
			return lircd.FindProcesses(ctx, names)
		},
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Relay.AuthToken,
		logger:         logger,
	}

	for _, origin := range cfg.Relay.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetProcessFinder replaces the lircd lookup used by /api/status.
// Must be called before Handler.
func (s *Server) SetProcessFinder(find ProcessFinder) {
	s.findProcesses = find
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/status", s.handleStatus)
}

// Handler returns the routes wrapped in the standard security headers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if s.broadcaster.maxClients > 0 && s.broadcaster.ClientCount() >= s.broadcaster.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("relay upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		// Lost a race for the last slot.
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.logger.Info("relay client connected", "remote", r.RemoteAddr)
	s.broadcaster.sendTo(c, Message{
		Type: MsgHello,
		Payload: HelloPayload{
			Socket:          s.bridge.SocketPath(),
			RepeatThreshold: s.bridge.RepeatThreshold(),
		},
	})

	// Clients never send anything meaningful; reading only detects the close.
	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info("relay client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		Socket:          s.bridge.SocketPath(),
		State:           s.bridge.State().String(),
		RepeatThreshold: s.bridge.RepeatThreshold(),
		Listeners:       s.bridge.ListenerCount(),
		RelayClients:    s.broadcaster.ClientCount(),
		Processes:       []lircd.Process{},
	}
	if s.findProcesses != nil {
		procs, err := s.findProcesses(r.Context())
		if err != nil {
			resp.ProcessError = err.Error()
		} else if procs != nil {
			resp.Processes = procs
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// authorize accepts the configured token from the "token" query parameter,
// the X-Lirc-Token header or a bearer Authorization header. Every candidate
// is compared in constant time.
func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	candidates := []string{
		r.URL.Query().Get("token"),
		r.Header.Get("X-Lirc-Token"),
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		candidates = append(candidates, bearer)
	}

	want := []byte(s.authToken)
	matched := 0
	for _, c := range candidates {
		matched |= subtle.ConstantTimeCompare([]byte(c), want)
	}
	return matched == 1
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}

	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves handler on host:port until ctx is cancelled, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, host string, port int, handler http.Handler, logger *slog.Logger) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return serve(ctx, ln, handler, logger)
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(shutdownDone)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("relay shutdown incomplete", "error", err)
		}
	})

	logger.Info("relay listening", "addr", ln.Addr().String())
	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		if !stop() {
			<-shutdownDone
		}
		return nil
	}
	stop()
	return err
}
