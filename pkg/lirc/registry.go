package lirc

import (
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Listener receives button events from a Bridge. Events are delivered on
// the bridge's reader goroutine, not the goroutine that registered the
// listener, so implementations that touch shared state must synchronise.
type Listener interface {
	LircEvent(buttonName, remoteControlName string, repeatCount int)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(buttonName, remoteControlName string, repeatCount int)

// LircEvent calls f.
func (f ListenerFunc) LircEvent(buttonName, remoteControlName string, repeatCount int) {
	f(buttonName, remoteControlName, repeatCount)
}

// registration is one entry in the registry. The removed flag lets a
// dispatch that is already iterating an older snapshot skip entries removed
// after the snapshot was taken.
type registration struct {
	listener Listener
	removed  atomic.Bool
}

// Subscription identifies a single registration of a listener. Cancel it to
// stop delivery; this is the only way to remove a listener whose dynamic
// type is not comparable, such as a ListenerFunc.
type Subscription struct {
	registry *Registry
	reg      *registration
}

// Cancel removes the registration. Calling it more than once is harmless.
func (s *Subscription) Cancel() {
	if s == nil || s.registry == nil {
		return
	}
	s.registry.removeRegistration(s.reg)
}

// Registry is an ordered, concurrency-safe collection of listeners.
//
// Writers replace the entries slice rather than modifying it, so Dispatch
// can iterate a snapshot without holding the lock while listeners run.
type Registry struct {
	mu      sync.RWMutex
	entries []*registration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Listener panics are logged to
// logger; nil means slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Add appends l. Adding the same listener twice registers it twice; it will
// then be notified twice per event.
func (r *Registry) Add(l Listener) *Subscription {
	reg := &registration{listener: l}

	r.mu.Lock()
	entries := make([]*registration, len(r.entries), len(r.entries)+1)
	copy(entries, r.entries)
	r.entries = append(entries, reg)
	r.mu.Unlock()

	return &Subscription{registry: r, reg: reg}
}

// Remove removes the earliest registration of l and reports whether one was
// found. Removing a listener that is not registered is a no-op. Listeners
// whose dynamic type is not comparable never match; use the Subscription
// returned by Add for those.
func (r *Registry) Remove(l Listener) bool {
	if l == nil || !reflect.TypeOf(l).Comparable() {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, reg := range r.entries {
		if reg.listener == l {
			r.deleteLocked(i)
			return true
		}
	}
	return false
}

func (r *Registry) removeRegistration(target *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, reg := range r.entries {
		if reg == target {
			r.deleteLocked(i)
			return
		}
	}
}

// deleteLocked drops entries[i]. Caller holds r.mu for writing.
func (r *Registry) deleteLocked(i int) {
	r.entries[i].removed.Store(true)

	entries := make([]*registration, 0, len(r.entries)-1)
	entries = append(entries, r.entries[:i]...)
	entries = append(entries, r.entries[i+1:]...)
	r.entries = entries
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dispatch delivers e to every registered listener, most recently added
// first. Listeners run synchronously on the calling goroutine. A listener
// that panics is logged and skipped; the remaining listeners still receive
// the event.
func (r *Registry) Dispatch(e Event) {
	r.mu.RLock()
	snapshot := r.entries
	r.mu.RUnlock()

	for i := len(snapshot) - 1; i >= 0; i-- {
		reg := snapshot[i]
		if reg.removed.Load() {
			continue
		}
		r.notify(reg.listener, e)
	}
}

func (r *Registry) notify(l Listener, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("listener panicked",
				"button", e.Button,
				"remote", e.Remote,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
		}
	}()
	l.LircEvent(e.Button, e.Remote, e.Repeat)
}
