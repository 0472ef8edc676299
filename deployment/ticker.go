package deployment

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
)

// DefaultTickInterval is the display cadence of the elapsed-time ticker.
const DefaultTickInterval = time.Second

// ElapsedSince returns now - started truncated to whole seconds, never negative.
func ElapsedSince(started, now time.Time) time.Duration {
	d := now.Sub(started)
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

// Ticker derives a display-only elapsed duration from the started_at of a view
// while the deployment is running. It only reads views; the value is never
// written back. Once the status leaves running the last value is kept.
type Ticker struct {
	clock    clock.Clock
	interval time.Duration
	source   func() View
	onTick   func(time.Duration)

	elapsed atomic.Int64

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewTicker builds a stopped ticker. source is called on every tick to read the
// current view; onTick, if non-nil, receives every recomputed value.
func NewTicker(c clock.Clock, interval time.Duration, source func() View, onTick func(time.Duration)) *Ticker {
	if c == nil {
		c = clock.New()
	}
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Ticker{
		clock:    c,
		interval: interval,
		source:   source,
		onTick:   onTick,
	}
}

// Start samples once and then every interval until Stop. Starting a running
// ticker does nothing.
func (t *Ticker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})

	// created before returning so a mock clock advanced right after Start sees it
	tk := t.clock.Ticker(t.interval)
	t.Sample()
	go t.loop(tk, t.stop, t.done)
}

func (t *Ticker) loop(tk *clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C:
			t.Sample()
		}
	}
}

// Stop halts the ticker and waits for its goroutine. Safe to call repeatedly.
func (t *Ticker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done
}

// Sample recomputes the elapsed value from the current view and reports whether
// it was updated. Views that are not running, or have no start time, leave the
// previous value frozen.
func (t *Ticker) Sample() bool {
	if t.source == nil {
		return false
	}
	v := t.source()
	if v.Status != StatusRunning || v.Timing.StartedAt == nil {
		return false
	}
	d := ElapsedSince(*v.Timing.StartedAt, t.clock.Now())
	t.elapsed.Store(int64(d))
	if t.onTick != nil {
		t.onTick(d)
	}
	return true
}

// Elapsed returns the last computed value.
func (t *Ticker) Elapsed() time.Duration {
	return time.Duration(t.elapsed.Load())
}
