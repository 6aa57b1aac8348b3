// Package lirc bridges the lircd broadcast socket to in-process listeners.
//
// lircd writes one line per infrared button event to every client of its
// Unix domain socket. A Bridge holds one such connection, decodes each
// line, drops events whose repeat count is below a threshold and hands the
// rest to every registered Listener:
//
//	bridge := lirc.New(lirc.DefaultSocketPath, lirc.WithRepeatThreshold(1))
//	bridge.AddListener(lirc.ListenerFunc(func(button, remote string, repeat int) {
//		fmt.Println(button, remote, repeat)
//	}))
//	if err := bridge.Start(ctx); err != nil {
//		return err
//	}
//	defer bridge.Release()
//
// Listeners are called on the bridge's reader goroutine.
package lirc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DefaultSocketPath is where lircd creates its socket on most systems.
const DefaultSocketPath = "/var/run/lirc/lircd"

// AcceptAllRepeats is the default repeat threshold. Every event passes.
const AcceptAllRepeats = -1

// maxConsecutiveReadErrors bounds how long the reader keeps going when reads
// fail without the connection being closed.
const maxConsecutiveReadErrors = 16

// State is the lifecycle state of a Bridge.
type State int

const (
	StateStopped State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithRepeatThreshold delivers only events whose repeat count is at least n.
func WithRepeatThreshold(n int) Option {
	return func(b *Bridge) {
		b.repeatThreshold = n
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithDialer replaces Dial, mainly for tests.
func WithDialer(dial DialFunc) Option {
	return func(b *Bridge) {
		if dial != nil {
			b.dial = dial
		}
	}
}

// WithDecodeErrorHandler registers fn to be told about lines that fail to
// decode. Malformed lines are dropped either way. For a line longer than
// MaxLineLength, line is empty and err wraps ErrLineTooLong. fn runs on the
// reader goroutine.
func WithDecodeErrorHandler(fn func(line string, err error)) Option {
	return func(b *Bridge) {
		b.onDecodeError = fn
	}
}

// Bridge delivers lircd button events to registered listeners.
//
// A Bridge is Stopped until Start succeeds, and Running until Release is
// called, the Start context is cancelled, or lircd closes the connection.
// It may be started again once stopped.
type Bridge struct {
	socketPath      string
	repeatThreshold int
	logger          *slog.Logger
	dial            DialFunc
	onDecodeError   func(line string, err error)
	listeners       *Registry

	mu     sync.Mutex // protects state, cancel, done, err
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates a stopped bridge for the lircd socket at socketPath.
func New(socketPath string, opts ...Option) *Bridge {
	b := &Bridge{
		socketPath:      socketPath,
		repeatThreshold: AcceptAllRepeats,
		logger:          slog.Default(),
		dial:            Dial,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("socket", socketPath)
	b.listeners = NewRegistry(b.logger)

	done := make(chan struct{})
	close(done)
	b.done = done

	return b
}

// SocketPath returns the lircd socket path.
func (b *Bridge) SocketPath() string {
	return b.socketPath
}

// RepeatThreshold returns the minimum repeat count delivered to listeners.
func (b *Bridge) RepeatThreshold() int {
	return b.repeatThreshold
}

// AddListener registers l. See Registry.Add.
func (b *Bridge) AddListener(l Listener) *Subscription {
	return b.listeners.Add(l)
}

// RemoveListener unregisters l. See Registry.Remove.
func (b *Bridge) RemoveListener(l Listener) bool {
	return b.listeners.Remove(l)
}

// ListenerCount returns the number of registered listeners.
func (b *Bridge) ListenerCount() int {
	return b.listeners.Len()
}

// Start connects to lircd and begins delivering events on a new goroutine.
// A connection failure is returned as a *ConnectionError and leaves the
// bridge stopped. Calling Start on a running bridge returns
// ErrAlreadyRunning.
//
// ctx bounds the connection attempt and the lifetime of the reader:
// cancelling it has the same effect as Release, without waiting.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateRunning {
		return ErrAlreadyRunning
	}

	session, err := b.dial(ctx, b.socketPath)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	b.state = StateRunning
	b.cancel = cancel
	b.done = done
	b.err = nil

	b.logger.Info("connected to lircd", "repeat_threshold", b.repeatThreshold)
	go b.run(loopCtx, cancel, session, done)
	return nil
}

// Release stops delivering events and closes the connection. It waits for
// the reader goroutine to exit, so no listener is called after Release
// returns. Release is idempotent. A listener of this bridge must call Stop
// instead: Release from inside a callback would wait on itself.
func (b *Bridge) Release() {
	<-b.Stop()
}

// Stop asks the reader to exit and returns at once with the channel that
// is closed when it has. It is safe to call from a listener: the event
// being dispatched still reaches the remaining listeners, and no later
// event is delivered.
func (b *Bridge) Stop() <-chan struct{} {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return done
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Done returns a channel that is closed when the current reader exits. For
// a bridge that was never started the channel is already closed.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Err reports why the last reader stopped on its own, for example
// ErrEndOfStream when lircd went away. It is nil while running and after a
// Release.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// run is the reader loop. It owns session and closes it exactly once on
// the way out.
func (b *Bridge) run(ctx context.Context, cancel context.CancelFunc, session *Session, done chan struct{}) {
	var exitErr error
	defer func() {
		session.Close()
		cancel()

		b.mu.Lock()
		b.state = StateStopped
		b.cancel = nil
		b.err = exitErr
		b.mu.Unlock()

		close(done)
	}()

	failures := 0
	for {
		line, err := session.ReadLine(ctx)
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("bridge released")
				return
			}
			if errors.Is(err, ErrLineTooLong) {
				b.logger.Warn("dropping overlong line", "error", err)
				if b.onDecodeError != nil {
					b.onDecodeError("", err)
				}
				continue
			}
			if isClosedError(err) {
				b.logger.Warn("lircd connection lost", "error", err)
				exitErr = err
				return
			}
			failures++
			b.logger.Error("read from lircd failed", "error", err, "consecutive", failures)
			if failures >= maxConsecutiveReadErrors {
				exitErr = fmt.Errorf("giving up after %d consecutive read errors: %w", failures, err)
				return
			}
			continue
		}
		failures = 0

		b.handleLine(ctx, line)
	}
}

// handleLine decodes line and dispatches it if it is an admissible event.
// Nothing is decoded while nobody is listening.
func (b *Bridge) handleLine(ctx context.Context, line string) {
	if b.listeners.Len() == 0 {
		return
	}

	msg, err := Decode(line)
	if err != nil {
		b.logger.Debug("dropping malformed line", "line", line, "error", err)
		if b.onDecodeError != nil {
			b.onDecodeError(line, err)
		}
		return
	}

	if msg.IsControl() {
		b.logger.Info("lircd reloaded its configuration")
		return
	}

	if !b.admits(msg.Event) {
		return
	}
	if ctx.Err() != nil {
		return
	}
	b.listeners.Dispatch(msg.Event)
}

// admits applies the repeat-count threshold.
func (b *Bridge) admits(e Event) bool {
	return e.Repeat >= b.repeatThreshold
}
