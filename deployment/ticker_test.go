package deployment

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runningView(started time.Time) View {
	v := NewView("7", Snapshot{})
	v.Status = StatusRunning
	v.Timing.StartedAt = &started
	return v
}

func TestElapsedSince(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 90*time.Second, ElapsedSince(start, start.Add(90*time.Second+400*time.Millisecond)))
	assert.Equal(t, time.Duration(0), ElapsedSince(start, start.Add(-time.Minute)))
}

func TestTicker_SampleFreezesOutsideRunning(t *testing.T) {
	mock := clock.NewMock()
	var current atomic.Pointer[View]
	v := runningView(mock.Now())
	current.Store(&v)

	tk := NewTicker(mock, time.Second, func() View { return *current.Load() }, nil)

	mock.Add(5 * time.Second)
	require.True(t, tk.Sample())
	assert.Equal(t, 5*time.Second, tk.Elapsed())

	done := v
	done.Status = StatusSuccess
	current.Store(&done)

	mock.Add(10 * time.Second)
	assert.False(t, tk.Sample())
	assert.Equal(t, 5*time.Second, tk.Elapsed())
}

func TestTicker_NoStartTime(t *testing.T) {
	mock := clock.NewMock()
	v := NewView("7", Snapshot{Status: "running"})
	tk := NewTicker(mock, time.Second, func() View { return v }, nil)

	mock.Add(time.Minute)
	assert.False(t, tk.Sample())
	assert.Zero(t, tk.Elapsed())
}

func TestTicker_StartAndStop(t *testing.T) {
	mock := clock.NewMock()
	v := runningView(mock.Now())

	var ticks atomic.Int32
	tk := NewTicker(mock, time.Second, func() View { return v }, func(time.Duration) { ticks.Add(1) })
	tk.Start()
	tk.Start()

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return tk.Elapsed() >= 3*time.Second
	}, time.Second, 5*time.Millisecond)

	tk.Stop()
	tk.Stop()
	frozen := tk.Elapsed()
	mock.Add(time.Minute)
	assert.Equal(t, frozen, tk.Elapsed())
	assert.Positive(t, ticks.Load())
}
