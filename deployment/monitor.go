package deployment

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"

	"github.com/imranansari/gh-deploy-monitor/logging"
)

// Dispatch outcomes reported to a Recorder.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeFiltered = "filtered"
	OutcomeIgnored  = "ignored"
	OutcomeClosed   = "closed"
)

// Recorder receives per-event outcomes and monitor lifecycle notifications.
type Recorder interface {
	ObserveEvent(kind, outcome string)
	MonitorOpened()
	MonitorClosed()
}

type nopRecorder struct{}

func (nopRecorder) ObserveEvent(string, string) {}
func (nopRecorder) MonitorOpened()              {}
func (nopRecorder) MonitorClosed()              {}

type Option func(*Monitor)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithClock replaces the wall clock used for event timestamps and the ticker.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

func WithRecorder(r Recorder) Option {
	return func(m *Monitor) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithStrictProgress drops stage_progress values lower than the current one.
func WithStrictProgress(strict bool) Option {
	return func(m *Monitor) { m.reducer.StrictProgress = strict }
}

// WithResetOnReconnect re-seeds the view from the construction snapshot after a
// transport reconnect instead of relying on the server replaying current state.
func WithResetOnReconnect(reset bool) Option {
	return func(m *Monitor) { m.resetOnReconnect = reset }
}

func WithTickInterval(d time.Duration) Option {
	return func(m *Monitor) { m.tickInterval = d }
}

// OnChange registers a listener called with every new view, from the dispatching goroutine.
func OnChange(fn func(View)) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// OnTick registers a listener for elapsed-time updates, called from the ticker goroutine.
func OnTick(fn func(time.Duration)) Option {
	return func(m *Monitor) { m.onTick = fn }
}

// Monitor owns the view of one tracked deployment. It feeds inbound messages
// through Normalize, the Router and the Reducer one at a time, and runs the
// elapsed-time ticker next to the stream. Monitors share no state with each other.
type Monitor struct {
	logger           zerolog.Logger
	clock            clock.Clock
	recorder         Recorder
	reducer          Reducer
	router           Router
	seed             Snapshot
	resetOnReconnect bool
	tickInterval     time.Duration
	onChange         func(View)
	onTick           func(time.Duration)

	view   atomic.Pointer[View]
	ticker *Ticker

	mu        sync.Mutex
	closed    bool
	unsub     func()
	closeOnce sync.Once
}

// NewMonitor seeds a monitor for id from snap. The ticker is not started.
func NewMonitor(id string, snap Snapshot, opts ...Option) *Monitor {
	canonical, _ := CanonicalID(id)
	m := &Monitor{
		logger:       logging.MonitorLogger(canonical),
		clock:        clock.New(),
		recorder:     nopRecorder{},
		seed:         snap,
		tickInterval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	v := NewViewAt(id, snap, m.clock.Now())
	m.router = NewRouter(v.ID)
	m.view.Store(&v)
	m.ticker = NewTicker(m.clock, m.tickInterval, m.View, m.onTick)

	if unknown := snap.UnknownStages(); len(unknown) > 0 {
		m.logger.Warn().Strs("stages", unknown).Msg("Ignoring unknown stages in snapshot")
	}
	m.recorder.MonitorOpened()
	m.logger.Info().
		Str("status", string(v.Status)).
		Bool("strict_progress", m.reducer.StrictProgress).
		Msg("Monitor opened")
	return m
}

// ID returns the canonical deployment id.
func (m *Monitor) ID() string {
	return m.router.Local()
}

// View returns the current view. It is safe to call from any goroutine.
func (m *Monitor) View() View {
	return *m.view.Load()
}

// Elapsed returns the last display-only elapsed duration.
func (m *Monitor) Elapsed() time.Duration {
	return m.ticker.Elapsed()
}

// Start runs the elapsed-time ticker. It does nothing once closed.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.ticker.Start()
}

// HandleMessage decodes one raw transport frame and dispatches it.
func (m *Monitor) HandleMessage(data []byte) bool {
	env, err := NormalizeJSON(data)
	return m.dispatch(env, err)
}

// Dispatch applies an already decoded message and reports whether the view changed.
func (m *Monitor) Dispatch(msg map[string]any) bool {
	env, err := Normalize(msg)
	return m.dispatch(env, err)
}

func (m *Monitor) dispatch(env Envelope, normErr error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	kind := env.Type
	if m.closed {
		m.recorder.ObserveEvent(kind, OutcomeClosed)
		return false
	}
	if normErr != nil {
		if errors.Is(normErr, ErrUnknownEvent) {
			kind = "unknown"
		}
		m.recorder.ObserveEvent(kind, OutcomeRejected)
		m.logger.Warn().Err(normErr).Str("type", env.Type).Msg("Dropping event")
		return false
	}
	if !m.router.Accept(env) {
		m.recorder.ObserveEvent(kind, OutcomeFiltered)
		m.logger.Trace().
			Str("type", env.Type).
			Str("event_deployment_id", env.DeploymentID).
			Msg("Ignoring event for another deployment")
		return false
	}

	prev := m.View()
	if p, ok := env.Event.(StageProgress); ok && IsRegression(prev, p) {
		evt := m.logger.Debug()
		if m.reducer.StrictProgress {
			evt = m.logger.Warn()
		}
		evt.Str("stage", string(p.Stage)).
			Int("current", prev.Stages.Get(p.Stage).Progress).
			Int("incoming", p.Progress).
			Bool("dropped", m.reducer.StrictProgress).
			Msg("Stage progress moved backwards")
	}

	next := m.reducer.Apply(prev, env.Event, m.clock.Now())
	if next == prev {
		m.recorder.ObserveEvent(kind, OutcomeIgnored)
		return false
	}
	m.view.Store(&next)
	m.recorder.ObserveEvent(kind, OutcomeApplied)

	if next.Status != prev.Status {
		m.logger.Info().
			Str("from", string(prev.Status)).
			Str("to", string(next.Status)).
			Msg("Deployment status changed")
	}
	if m.onChange != nil {
		m.onChange(next)
	}
	return true
}

// Attach records the transport unsubscribe func run by Close. On a closed
// monitor unsubscribe runs immediately.
func (m *Monitor) Attach(unsubscribe func()) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	m.unsub = unsubscribe
	m.mu.Unlock()
}

// Reconnected is called by the transport after a successful reconnect and before
// new messages are delivered. The server replays current state on subscribe, so
// this is a no-op unless reset-on-reconnect is enabled.
func (m *Monitor) Reconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if !m.resetOnReconnect {
		m.logger.Debug().Msg("Transport reconnected")
		return
	}
	prev := m.View()
	next := NewViewAt(prev.ID, m.seed, m.clock.Now())
	next.AutoDeployEnabled = prev.AutoDeployEnabled
	m.view.Store(&next)
	m.logger.Info().Str("status", string(next.Status)).Msg("Transport reconnected, view reset to snapshot")
	if m.onChange != nil {
		m.onChange(next)
	}
}

// Close unsubscribes from the transport and then stops the ticker. Dispatches
// after Close are ignored. Safe to call more than once.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		unsub := m.unsub
		m.unsub = nil
		m.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		m.ticker.Stop()
		m.recorder.MonitorClosed()
		m.logger.Info().Msg("Monitor closed")
	})
}

// Closed reports whether Close has been called.
func (m *Monitor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
