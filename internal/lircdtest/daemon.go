// Package lircdtest runs a stand-in for lircd's broadcast socket in tests.
// It accepts any number of clients and writes every line it is given to all
// of them, the way lircd does.
package lircdtest

import (
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/caprica/lircj/internal/testutil"
)

// Daemon is a fake lircd listening on a temporary Unix socket.
type Daemon struct {
	// Path is the socket path clients should dial.
	Path string

	t        testing.TB
	listener net.Listener

	mu       sync.Mutex
	clients  []net.Conn
	accepted int
	changed  chan struct{} // closed and replaced whenever clients change

	wg sync.WaitGroup
}

// Start listens on a fresh socket and accepts clients until the test ends.
func Start(t testing.TB) *Daemon {
	t.Helper()

	path := filepath.Join(testutil.SocketDir(t), "lircd")
	listener, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("listening on %s: %v", path, err)
	}

	d := &Daemon{
		Path:     path,
		t:        t,
		listener: listener,
		changed:  make(chan struct{}),
	}

	d.wg.Add(1)
	go d.acceptLoop()

	t.Cleanup(d.Close)
	return d
}

func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.t.Logf("lircdtest: accept failed: %v", err)
			return
		}

		d.mu.Lock()
		d.clients = append(d.clients, conn)
		d.accepted++
		d.notifyLocked()
		d.mu.Unlock()
	}
}

func (d *Daemon) notifyLocked() {
	close(d.changed)
	d.changed = make(chan struct{})
}

// WaitClients blocks until at least n clients have connected in total, or
// fails the test after timeout.
func (d *Daemon) WaitClients(n int, timeout time.Duration) {
	d.t.Helper()
	deadline := time.After(timeout)
	for {
		d.mu.Lock()
		accepted, changed := d.accepted, d.changed
		d.mu.Unlock()

		if accepted >= n {
			return
		}
		select {
		case <-changed:
		case <-deadline:
			d.t.Fatalf("lircdtest: %d of %d clients connected after %v", accepted, n, timeout)
			return
		}
	}
}

// Send writes line, followed by a newline, to every connected client.
func (d *Daemon) Send(line string) {
	d.SendRaw(line + "\n")
}

// SendRaw writes data verbatim to every connected client. Use it to split a
// line across writes.
func (d *Daemon) SendRaw(data string) {
	d.t.Helper()

	d.mu.Lock()
	clients := make([]net.Conn, len(d.clients))
	copy(clients, d.clients)
	d.mu.Unlock()

	for _, conn := range clients {
		if _, err := conn.Write([]byte(data)); err != nil {
			d.t.Logf("lircdtest: write to client failed: %v", err)
		}
	}
}

// DropClients closes every client connection, as lircd does when it exits,
// while continuing to accept new ones.
func (d *Daemon) DropClients() {
	d.mu.Lock()
	clients := d.clients
	d.clients = nil
	d.notifyLocked()
	d.mu.Unlock()

	for _, conn := range clients {
		conn.Close()
	}
}

// Close stops accepting and drops all clients. It is registered as a test
// cleanup by Start and may also be called directly.
func (d *Daemon) Close() {
	d.listener.Close()
	d.DropClients()
	d.wg.Wait()
}
