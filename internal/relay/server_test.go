package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/caprica/lircj/internal/config"
	"github.com/caprica/lircj/internal/lircd"
	"github.com/caprica/lircj/pkg/lirc"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *Broadcaster, *lirc.Bridge) {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	bridge := lirc.New("/tmp/lircd-test.sock", lirc.WithRepeatThreshold(1))
	b := NewBroadcaster(cfg.Relay.ClientBuffer, cfg.Relay.MaxClients, nil)
	t.Cleanup(b.Close)

	s := NewServer(cfg, bridge, b, nil)
	s.SetProcessFinder(func(context.Context) ([]lircd.Process, error) {
		return []lircd.Process{{PID: 7, Name: "lircd"}}, nil
	})
	return s, b, bridge
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'self'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestAuthorize(t *testing.T) {
	s, _, _ := newTestServer(t, func(c *config.Config) { c.Relay.AuthToken = "secret" })

	tests := []struct {
		name  string
		setup func(*http.Request)
		want  bool
	}{
		{"none", func(*http.Request) {}, false},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=secret" }, true},
		{"header", func(r *http.Request) { r.Header.Set("X-Lirc-Token", "secret") }, true},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, true},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, false},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic secret") }, false},
		{"prefix of token", func(r *http.Request) { r.URL.RawQuery = "token=secr" }, false},
		{"token with suffix", func(r *http.Request) { r.Header.Set("X-Lirc-Token", "secret2") }, false},
		{"wrong query right header", func(r *http.Request) {
			r.URL.RawQuery = "token=nope"
			r.Header.Set("X-Lirc-Token", "secret")
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			tt.setup(req)
			if got := s.authorize(req); got != tt.want {
				t.Errorf("authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		want    bool
	}{
		{"no origin", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost", nil, "http://localhost:3000", "example.com", true},
		{"loopback v6", nil, "http://[::1]:3000", "example.com", true},
		{"foreign", nil, "http://evil.test", "example.com", false},
		{"allow list hit", []string{"http://dash.test"}, "http://dash.test", "example.com", true},
		{"allow list host", []string{"http://dash.test"}, "https://dash.test", "example.com", true},
		{"allow list miss", []string{"http://dash.test"}, "http://localhost", "example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestServer(t, func(c *config.Config) { c.Relay.AllowedOrigins = tt.allowed })
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	s, _, bridge := newTestServer(t, nil)
	bridge.AddListener(lirc.ListenerFunc(func(string, string, int) {}))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var got StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Socket != "/tmp/lircd-test.sock" || got.State != "stopped" || got.RepeatThreshold != 1 {
		t.Errorf("status = %+v", got)
	}
	if got.Listeners != 1 || got.RelayClients != 0 {
		t.Errorf("listeners = %d, relay clients = %d", got.Listeners, got.RelayClients)
	}
	if len(got.Processes) != 1 || got.Processes[0].PID != 7 {
		t.Errorf("processes = %+v", got.Processes)
	}
}

func TestHandleStatusProcessError(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	s.SetProcessFinder(func(context.Context) ([]lircd.Process, error) {
		return nil, errors.New("proc unavailable")
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var got StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ProcessError != "proc unavailable" {
		t.Errorf("ProcessError = %q", got.ProcessError)
	}
	if got.Processes == nil || len(got.Processes) != 0 {
		t.Errorf("Processes = %v, want empty list", got.Processes)
	}
}

func TestHandleStatusRejects(t *testing.T) {
	s, _, _ := newTestServer(t, func(c *config.Config) { c.Relay.AuthToken = "secret" })
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: code = %d, want 401", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status?token=secret", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: code = %d, want 405", rec.Code)
	}
}

func TestWSHelloThenButton(t *testing.T) {
	s, b, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	typ, payload := readMessage(t, conn)
	if typ != MsgHello {
		t.Fatalf("first message type = %q, want %q", typ, MsgHello)
	}
	var hello HelloPayload
	if err := json.Unmarshal(payload, &hello); err != nil {
		t.Fatal(err)
	}
	if hello.Socket != "/tmp/lircd-test.sock" || hello.RepeatThreshold != 1 {
		t.Errorf("hello = %+v", hello)
	}

	b.LircEvent("KEY_PLAY", "dvd", 0)

	typ, payload = readMessage(t, conn)
	if typ != MsgButton {
		t.Fatalf("type = %q, want %q", typ, MsgButton)
	}
	var press ButtonPayload
	if err := json.Unmarshal(payload, &press); err != nil {
		t.Fatal(err)
	}
	if press.Button != "KEY_PLAY" || press.Remote != "dvd" || press.Repeat != 0 {
		t.Errorf("press = %+v", press)
	}
}

func TestWSUnauthorized(t *testing.T) {
	s, _, _ := newTestServer(t, func(c *config.Config) { c.Relay.AuthToken = "secret" })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %v, want 401", resp)
	}
}

func TestWSTooManyClients(t *testing.T) {
	s, b, _ := newTestServer(t, func(c *config.Config) { c.Relay.MaxClients = 1 })
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("first dial: %v", err)
	}
	defer first.Close()
	readMessage(t, first)

	if got := b.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d, want 1", got)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("second dial should be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("response = %v, want 503", resp)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, ln, http.NotFoundHandler(), nil)
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("code = %d, want 404", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve returned %v, want nil", err)
		}
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestListenAndServeBadAddress(t *testing.T) {
	err := ListenAndServe(context.Background(), "256.0.0.1", 1, http.NotFoundHandler(), nil)
	if err == nil {
		t.Fatal("ListenAndServe on an invalid host should fail")
	}
}
