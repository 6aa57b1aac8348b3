package lirc

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// channelListener forwards events to a buffered channel without blocking
// the reader goroutine.
type channelListener struct {
	ch      chan Event
	logger  *slog.Logger
	dropped atomic.Int64
	lastLog atomic.Int64 // unix nanos of the last drop warning
}

func (c *channelListener) LircEvent(buttonName, remoteControlName string, repeatCount int) {
	select {
	case c.ch <- Event{Button: buttonName, Remote: remoteControlName, Repeat: repeatCount}:
	default:
		n := c.dropped.Add(1)
		// Warn at most every 10 seconds so a stalled consumer can't flood
		// the log.
		now := time.Now().UnixNano()
		last := c.lastLog.Load()
		if now-last >= int64(10*time.Second) && c.lastLog.CompareAndSwap(last, now) {
			c.logger.Warn("subscriber channel full, dropping events", "dropped", n)
		}
	}
}

// Subscribe returns a channel that receives every admitted event, and the
// Subscription that stops it. When the channel's buffer is full new events
// are dropped rather than stalling delivery to other listeners. The channel
// is never closed.
func (b *Bridge) Subscribe(buffer int) (<-chan Event, *Subscription) {
	if buffer < 1 {
		buffer = 1
	}
	l := &channelListener{
		ch:     make(chan Event, buffer),
		logger: b.logger,
	}
	return l.ch, b.listeners.Add(l)
}
