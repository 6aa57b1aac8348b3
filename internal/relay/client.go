package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/caprica/lircj/pkg/lirc"
	"github.com/gorilla/websocket"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// Client receives button presses from a remote relay. It reports its state
// the way a *lirc.Bridge does, so viewers can watch either.
type Client struct {
	url    string
	token  string
	logger *slog.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex
	connected bool
	socket    string
	err       error
	done      chan struct{}
}

// NewClient creates a client for the relay at wsURL (e.g.
// "ws://127.0.0.1:8765/ws").
func NewClient(wsURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:    wsURL,
		token:  token,
		logger: logger.With("relay", wsURL),
		dialer: websocket.DefaultDialer,
		done:   make(chan struct{}),
	}
}

// Run relays presses into events until ctx is cancelled, reconnecting with
// exponential backoff whenever the connection drops.
func (c *Client) Run(ctx context.Context, events chan<- lirc.Event) {
	defer close(c.done)

	delay := reconnectBaseDelay
	for ctx.Err() == nil {
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header())
		if err != nil {
			c.setErr(err)
			c.logger.Warn("relay dial failed", "error", err, "retry_in", delay)
			if !sleep(ctx, delay) {
				break
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		delay = reconnectBaseDelay
		c.setConnected(true)
		err = c.readLoop(ctx, conn, events)
		c.setConnected(false)
		if ctx.Err() == nil {
			c.setErr(err)
			c.logger.Warn("relay connection lost", "error", err)
		}
	}
	c.setErr(ctx.Err())
}

func (c *Client) header() http.Header {
	if c.token == "" {
		return nil
	}
	return http.Header{"Authorization": {"Bearer " + c.token}}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, events chan<- lirc.Event) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(pongTimeout))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg struct {
			Type    MessageType     `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed relay message", "error", err)
			continue
		}

		switch msg.Type {
		case MsgHello:
			var p HelloPayload
			if json.Unmarshal(msg.Payload, &p) == nil {
				c.mu.Lock()
				c.socket = p.Socket
				c.mu.Unlock()
			}
		case MsgButton:
			var p ButtonPayload
			if json.Unmarshal(msg.Payload, &p) != nil {
				continue
			}
			select {
			case events <- lirc.Event{Button: p.Button, Remote: p.Remote, Repeat: p.Repeat}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// pingLoop keeps the connection alive until ctx is cancelled or a ping
// fails.
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	if v {
		c.err = nil
	}
	c.mu.Unlock()
}

func (c *Client) setErr(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

// SocketPath returns the lircd socket the remote bridge reported, or the
// relay URL before the first hello.
func (c *Client) SocketPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket != "" {
		return c.socket
	}
	return c.url
}

func (c *Client) State() lirc.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return lirc.StateRunning
	}
	return lirc.StateStopped
}

// Done is closed when Run returns.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the most recent connection error.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// FetchStatus calls GET /api/status on the relay serving wsURL.
func FetchStatus(ctx context.Context, wsURL, token string) (*StatusResponse, error) {
	base, err := httpBase(wsURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /api/status: %s", resp.Status)
	}

	var status StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &status, nil
}

// httpBase converts ws://host:port/ws to http://host:port.
func httpBase(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parsing relay URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay URL %q has no host", wsURL)
	}
	scheme := "http"
	if strings.HasPrefix(u.Scheme, "wss") || u.Scheme == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, u.Host), nil
}
