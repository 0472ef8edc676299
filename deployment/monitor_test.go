package deployment

import (
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	kind    string
	outcome string
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	opened int
	closed int
}

func (r *fakeRecorder) ObserveEvent(kind, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind, outcome})
}

func (r *fakeRecorder) MonitorOpened() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened++
}

func (r *fakeRecorder) MonitorClosed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *fakeRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.outcome)
	}
	return out
}

func newTestMonitor(t *testing.T, snap Snapshot, opts ...Option) (*Monitor, *clock.Mock, *fakeRecorder) {
	t.Helper()
	mock := clock.NewMock()
	rec := &fakeRecorder{}
	opts = append([]Option{
		WithLogger(zerolog.Nop()),
		WithClock(mock),
		WithRecorder(rec),
	}, opts...)
	m := NewMonitor("7", snap, opts...)
	t.Cleanup(m.Close)
	return m, mock, rec
}

func TestMonitor_HandleMessage(t *testing.T) {
	var changes []View
	m, mock, rec := newTestMonitor(t, Snapshot{Status: "pending"}, OnChange(func(v View) { changes = append(changes, v) }))

	assert.True(t, m.HandleMessage([]byte(`{"type":"deployment_started","deployment_id":7}`)))
	assert.Equal(t, StatusRunning, m.View().Status)
	require.NotNil(t, m.View().Timing.StartedAt)
	assert.Equal(t, mock.Now().UTC(), *m.View().Timing.StartedAt)

	assert.False(t, m.HandleMessage([]byte(`{"type":"stage_started","deployment_id":"8","stage":"sourcecommit"}`)))
	assert.False(t, m.HandleMessage([]byte(`{"type":"stage_progress","stage":"sourcecommit","progress":"fifty"}`)))
	assert.False(t, m.HandleMessage([]byte(`{"type":"deployment_paused"}`)))
	assert.False(t, m.HandleMessage([]byte(`{"type":"pong"}`)))
	assert.True(t, m.HandleMessage([]byte(`{"type":"stage_started","deployment_id":"7","stage":"sourcecommit"}`)))

	assert.Equal(t, []string{
		OutcomeApplied, OutcomeFiltered, OutcomeRejected, OutcomeRejected, OutcomeIgnored, OutcomeApplied,
	}, rec.outcomes())
	assert.Equal(t, recordedEvent{"unknown", OutcomeRejected}, rec.events[3])
	assert.Len(t, changes, 2)
	assert.Equal(t, m.View(), changes[1])
}

func TestMonitor_DispatchMatchesReducer(t *testing.T) {
	m, mock, _ := newTestMonitor(t, Snapshot{})
	msgs := []map[string]any{
		{"type": "deployment_started"},
		{"type": "stage_started", "stage": "sourcebuild"},
		{"type": "stage_progress", "stage": "sourcebuild", "progress": 30},
		{"type": "stage_completed", "stage": "sourcebuild", "status": "failed"},
	}

	want := NewView("7", Snapshot{})
	for _, msg := range msgs {
		env, err := Normalize(msg)
		require.NoError(t, err)
		want = Reducer{}.Apply(want, env.Event, mock.Now())
		m.Dispatch(msg)
	}
	assert.Equal(t, want, m.View())
}

func TestMonitor_CloseIgnoresLaterEvents(t *testing.T) {
	m, _, rec := newTestMonitor(t, Snapshot{})

	unsubscribed := 0
	m.Attach(func() { unsubscribed++ })
	m.Start()

	m.Close()
	m.Close()
	assert.True(t, m.Closed())
	assert.Equal(t, 1, unsubscribed)
	assert.Equal(t, 1, rec.closed)

	before := m.View()
	assert.False(t, m.Dispatch(map[string]any{"type": "deployment_started", "deployment_id": "7"}))
	assert.Equal(t, before, m.View())
	assert.Equal(t, []string{OutcomeClosed}, rec.outcomes())

	late := 0
	m.Attach(func() { late++ })
	assert.Equal(t, 1, late)
}

func TestMonitor_Reconnected(t *testing.T) {
	seed := Snapshot{Status: "pending", AutoDeployEnabled: true}
	events := []map[string]any{
		{"type": "deployment_started"},
		{"type": "stage_started", "stage": "sourcecommit"},
	}

	t.Run("keeps state by default", func(t *testing.T) {
		m, _, _ := newTestMonitor(t, seed)
		for _, e := range events {
			m.Dispatch(e)
		}
		before := m.View()
		m.Reconnected()
		assert.Equal(t, before, m.View())
	})

	t.Run("resets to snapshot when enabled", func(t *testing.T) {
		m, _, _ := newTestMonitor(t, seed, WithResetOnReconnect(true))
		for _, e := range events {
			m.Dispatch(e)
		}
		m.Reconnected()
		assert.Equal(t, NewView("7", seed), m.View())
	})
}

func TestMonitor_StrictProgress(t *testing.T) {
	m, _, rec := newTestMonitor(t, Snapshot{}, WithStrictProgress(true))
	m.Dispatch(map[string]any{"type": "stage_started", "stage": "sourcedeploy"})
	m.Dispatch(map[string]any{"type": "stage_progress", "stage": "sourcedeploy", "progress": 70})
	assert.False(t, m.Dispatch(map[string]any{"type": "stage_progress", "stage": "sourcedeploy", "progress": 20}))

	assert.Equal(t, 70, m.View().Stages.Get(StageSourceDeploy).Progress)
	assert.Equal(t, OutcomeIgnored, rec.outcomes()[2])
}

func TestMonitor_ElapsedTicker(t *testing.T) {
	m, mock, _ := newTestMonitor(t, Snapshot{}, WithTickInterval(time.Second))
	m.Dispatch(map[string]any{"type": "deployment_started"})
	m.Start()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return m.Elapsed() >= 2*time.Second
	}, time.Second, 5*time.Millisecond)

	m.Dispatch(map[string]any{"type": "deployment_completed", "status": "success"})
	m.Close()
	frozen := m.Elapsed()
	mock.Add(time.Minute)
	assert.Equal(t, frozen, m.Elapsed())
	assert.Nil(t, m.View().Error)
}

func TestMonitors_AreIndependent(t *testing.T) {
	a, _, _ := newTestMonitor(t, Snapshot{})
	b, _, _ := newTestMonitor(t, Snapshot{})

	a.Dispatch(map[string]any{"type": "deployment_started"})
	assert.Equal(t, StatusRunning, a.View().Status)
	assert.Equal(t, StatusPending, b.View().Status)
}

func TestMonitor_TerminalSeedUsesClock(t *testing.T) {
	m, mock, _ := newTestMonitor(t, Snapshot{Status: "cancelled"})
	v := m.View()
	require.NotNil(t, v.Timing.CompletedAt)
	assert.True(t, mock.Now().Equal(*v.Timing.CompletedAt))
}
