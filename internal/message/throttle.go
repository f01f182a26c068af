package message

import (
	"sync"
	"time"
)

// DefaultFlushInterval is the headless equivalent of one render cycle.
const DefaultFlushInterval = 50 * time.Millisecond

// Throttle coalesces rapid content updates so the rendering layer sees
// at most one flush per interval. Each flush always carries the latest
// accumulated text, so visible content never lags behind by more than
// one interval and never shortens.
type Throttle struct {
	interval time.Duration
	flush    func(string)

	mu      sync.Mutex
	pending string
	armed   bool
	closed  bool
	timer   *time.Timer
}

// NewThrottle creates a Throttle that calls flush with the latest text
// at most once per interval. A non-positive interval uses the default.
func NewThrottle(interval time.Duration, flush func(string)) *Throttle {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Throttle{interval: interval, flush: flush}
}

// Update records the full accumulated text and schedules a flush if one
// is not already pending.
func (t *Throttle) Update(text string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.pending = text
	if !t.armed {
		t.armed = true
		t.timer = time.AfterFunc(t.interval, t.fire)
	}
	t.mu.Unlock()
}

func (t *Throttle) fire() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.armed = false
	text := t.pending
	t.mu.Unlock()
	t.flush(text)
}

// Flush delivers any pending text immediately, cancelling the scheduled
// flush. Used at stream end so the final text is visible without delay.
func (t *Throttle) Flush() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.armed && t.timer != nil {
		t.timer.Stop()
		t.armed = false
	}
	text := t.pending
	t.mu.Unlock()
	if text != "" {
		t.flush(text)
	}
}

// Close flushes pending text and stops the throttle; later updates are
// dropped.
func (t *Throttle) Close() {
	t.Flush()
	t.mu.Lock()
	t.closed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()
}
