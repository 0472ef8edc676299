package deployment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func applyAll(t *testing.T, r Reducer, v View, msgs ...map[string]any) View {
	t.Helper()
	for i, msg := range msgs {
		env, err := Normalize(msg)
		require.NoError(t, err, "message %d", i)
		v = r.Apply(v, env.Event, testNow.Add(time.Duration(i)*time.Second))
	}
	return v
}

func TestReducer_FailedBuildScenario(t *testing.T) {
	seed := NewView("7", Snapshot{
		Status: "pending",
		Stages: map[string]SnapshotStage{
			"sourcedeploy": {Message: "waiting"},
		},
	})

	v := applyAll(t, Reducer{}, seed,
		map[string]any{"type": "deployment_started"},
		map[string]any{"type": "stage_started", "stage": "sourcecommit"},
		map[string]any{"type": "stage_progress", "stage": "sourcecommit", "progress": 50},
		map[string]any{"type": "stage_completed", "stage": "sourcecommit", "status": "success", "duration": 12},
		map[string]any{"type": "stage_started", "stage": "sourcebuild"},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 30},
		map[string]any{"type": "stage_completed", "stage": "sourcebuild", "status": "failed"},
	)

	assert.Equal(t, StatusFailed, v.Status)

	commit := v.Stages.Get(StageSourceCommit)
	assert.Equal(t, StageSuccess, commit.Status)
	assert.Equal(t, 100, commit.Progress)
	require.NotNil(t, commit.Duration)
	assert.Equal(t, 12.0, *commit.Duration)

	build := v.Stages.Get(StageSourceBuild)
	assert.Equal(t, StageFailed, build.Status)
	assert.Equal(t, 30, build.Progress)

	assert.Equal(t, seed.Stages.Get(StageSourceDeploy), v.Stages.Get(StageSourceDeploy))

	require.NotNil(t, v.Error)
	assert.Equal(t, ErrorInfo{Message: "Stage failed", Stage: StageSourceBuild}, *v.Error)
	assert.NotNil(t, v.Timing.CompletedAt)
}

func TestReducer_IdentityEvents(t *testing.T) {
	v := NewView("7", Snapshot{Status: "running"})
	r := Reducer{}
	assert.Equal(t, v, r.Apply(v, ConnectionEstablished{}, testNow))
	assert.Equal(t, v, r.Apply(v, Pong{}, testNow))
	assert.Equal(t, v, r.Apply(v, nil, testNow))
}

func TestReducer_DeploymentStartedResetsTiming(t *testing.T) {
	v := applyAll(t, Reducer{}, NewView("7", Snapshot{}),
		map[string]any{"type": "deployment_started", "started_at": "2024-05-01T11:00:00Z"},
		map[string]any{"type": "deployment_completed", "status": "failed", "total_duration": 30},
		map[string]any{"type": "deployment_started"},
	)
	assert.Equal(t, StatusRunning, v.Status)
	assert.Nil(t, v.Error)
	assert.Nil(t, v.Timing.CompletedAt)
	assert.Nil(t, v.Timing.TotalDuration)
	require.NotNil(t, v.Timing.StartedAt)
	assert.Equal(t, testNow.Add(2*time.Second), *v.Timing.StartedAt)
}

func TestReducer_StageStartedReplacesOnlyThatStage(t *testing.T) {
	v := applyAll(t, Reducer{}, NewView("7", Snapshot{}),
		map[string]any{"type": "stage_started", "stage": "sourcecommit"},
		map[string]any{"type": "stage_completed", "stage": "sourcecommit", "status": "success", "duration": 3},
		map[string]any{"type": "stage_started", "stage": "sourcebuild", "message": "building"},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 70, "elapsed_time": 20},
		map[string]any{"type": "stage_started", "stage": "sourcebuild", "started_at": "2024-05-01T12:30:00Z"},
	)

	build := v.Stages.Get(StageSourceBuild)
	assert.Equal(t, StageUnresolved, build.Status)
	assert.Equal(t, 0, build.Progress)
	assert.Zero(t, build.ElapsedTime)
	assert.Empty(t, build.Message)
	require.NotNil(t, build.StartedAt)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC), *build.StartedAt)

	assert.Equal(t, StageSuccess, v.Stages.Get(StageSourceCommit).Status)
}

func TestReducer_StageProgressKeepsAbsentFields(t *testing.T) {
	v := applyAll(t, Reducer{}, NewView("7", Snapshot{}),
		map[string]any{"type": "stage_started", "stage": "sourcebuild", "message": "building"},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 10, "elapsed_time": 4},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 20},
	)
	build := v.Stages.Get(StageSourceBuild)
	assert.Equal(t, 20, build.Progress)
	assert.Equal(t, 4.0, build.ElapsedTime)
	assert.Equal(t, "building", build.Message)
}

func TestReducer_ProgressCappedBelowCompletion(t *testing.T) {
	v := applyAll(t, Reducer{}, NewView("7", Snapshot{}),
		map[string]any{"type": "stage_started", "stage": "sourcedeploy"},
		map[string]any{"type": "stage_progress", "stage": "sourcedeploy", "progress": 100},
	)
	assert.Equal(t, 99, v.Stages.Get(StageSourceDeploy).Progress)
}

func TestReducer_ProgressRegression(t *testing.T) {
	msgs := []map[string]any{
		{"type": "stage_started", "stage": "sourcebuild"},
		{"type": "stage_progress", "stage": "sourcebuild", "progress": 60},
		{"type": "stage_progress", "stage": "sourcebuild", "progress": 40},
	}

	t.Run("applied by default", func(t *testing.T) {
		v := applyAll(t, Reducer{}, NewView("7", Snapshot{}), msgs...)
		assert.Equal(t, 40, v.Stages.Get(StageSourceBuild).Progress)
	})

	t.Run("dropped when strict", func(t *testing.T) {
		v := applyAll(t, Reducer{StrictProgress: true}, NewView("7", Snapshot{}), msgs...)
		assert.Equal(t, 60, v.Stages.Get(StageSourceBuild).Progress)
	})

	t.Run("strict allows restart", func(t *testing.T) {
		all := append(append([]map[string]any{}, msgs...),
			map[string]any{"type": "stage_started", "stage": "sourcebuild"},
			map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 5},
		)
		v := applyAll(t, Reducer{StrictProgress: true}, NewView("7", Snapshot{}), all...)
		assert.Equal(t, 5, v.Stages.Get(StageSourceBuild).Progress)
	})
}

func TestReducer_ResolvedStageIgnoresProgress(t *testing.T) {
	r := Reducer{}
	v := applyAll(t, r, NewView("7", Snapshot{}),
		map[string]any{"type": "stage_started", "stage": "sourcebuild"},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 30},
		map[string]any{"type": "stage_completed", "stage": "sourcebuild", "status": "failed"},
	)
	next := r.Apply(v, StageProgress{Stage: StageSourceBuild, Progress: 80}, testNow)
	assert.Equal(t, v, next)
	assert.Equal(t, 30, next.Stages.Get(StageSourceBuild).Progress)
}

func TestReducer_FirstFailureWins(t *testing.T) {
	v := applyAll(t, Reducer{}, NewView("7", Snapshot{}),
		map[string]any{"type": "stage_completed", "stage": "sourcebuild", "status": "failed", "message": "compile error"},
		map[string]any{"type": "stage_completed", "stage": "sourcedeploy", "status": "failed", "message": "rollout failed"},
		map[string]any{"type": "deployment_completed", "status": "failed", "message": "pipeline failed"},
	)
	require.NotNil(t, v.Error)
	assert.Equal(t, ErrorInfo{Message: "compile error", Stage: StageSourceBuild}, *v.Error)
	assert.Equal(t, "compile error", v.Stages.Get(StageSourceBuild).Message)
}

func TestReducer_DeploymentCompleted(t *testing.T) {
	running := applyAll(t, Reducer{}, NewView("7", Snapshot{}),
		map[string]any{"type": "deployment_started"},
		map[string]any{"type": "stage_started", "stage": "sourcecommit"},
		map[string]any{"type": "stage_completed", "stage": "sourcecommit", "status": "success"},
		map[string]any{"type": "stage_started", "stage": "sourcebuild"},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 55},
	)

	t.Run("success resolves open stages", func(t *testing.T) {
		v := applyAll(t, Reducer{}, running,
			map[string]any{"type": "deployment_completed", "status": "success", "total_duration": 120, "completed_at": "2024-05-01T12:10:00Z"},
		)
		assert.Equal(t, StatusSuccess, v.Status)
		assert.Nil(t, v.Error)
		require.NotNil(t, v.Timing.TotalDuration)
		assert.Equal(t, 120.0, *v.Timing.TotalDuration)
		require.NotNil(t, v.Timing.CompletedAt)
		assert.Equal(t, time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC), *v.Timing.CompletedAt)
		for _, key := range StageKeys() {
			st := v.Stages.Get(key)
			assert.Equal(t, StageSuccess, st.Status, key)
			assert.Equal(t, 100, st.Progress, key)
		}
	})

	t.Run("failed without message", func(t *testing.T) {
		v := applyAll(t, Reducer{}, running,
			map[string]any{"type": "deployment_completed", "status": "failed", "stage": "sourcebuild"},
		)
		assert.Equal(t, StatusFailed, v.Status)
		require.NotNil(t, v.Error)
		assert.Equal(t, ErrorInfo{Message: "Deployment failed", Stage: StageSourceBuild}, *v.Error)
		assert.Equal(t, 55, v.Stages.Get(StageSourceBuild).Progress)
		assert.Nil(t, v.Timing.TotalDuration)
	})

	t.Run("cancelled", func(t *testing.T) {
		v := applyAll(t, Reducer{}, running,
			map[string]any{"type": "deployment_completed", "status": "cancelled"},
		)
		assert.Equal(t, StatusCancelled, v.Status)
		assert.Nil(t, v.Error)
		assert.NotNil(t, v.Timing.CompletedAt)
		assert.Equal(t, StageUnresolved, v.Stages.Get(StageSourceBuild).Status)
	})
}

func TestReducer_DoesNotMutateInput(t *testing.T) {
	before := NewView("7", Snapshot{Status: "running"})
	snapshot := before
	_ = Reducer{}.Apply(before, StageStarted{Stage: StageSourceCommit, Message: "cloning"}, testNow)
	assert.Equal(t, snapshot, before)
}

func TestReducer_Invariants(t *testing.T) {
	r := Reducer{}
	v := applyAll(t, r, NewView("7", Snapshot{}),
		map[string]any{"type": "deployment_started"},
		map[string]any{"type": "stage_started", "stage": "sourcecommit"},
		map[string]any{"type": "stage_progress", "stage": "sourcecommit", "progress": 100},
		map[string]any{"type": "stage_completed", "stage": "sourcecommit", "status": "success"},
		map[string]any{"type": "stage_started", "stage": "sourcebuild"},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 250},
		map[string]any{"type": "stage_completed", "stage": "sourcebuild", "status": "failed"},
		map[string]any{"type": "stage_progress", "stage": "sourcebuild", "progress": 99},
		map[string]any{"type": "deployment_completed", "status": "failed"},
	)

	for _, key := range StageKeys() {
		st := v.Stages.Get(key)
		assert.GreaterOrEqual(t, st.Progress, 0)
		assert.LessOrEqual(t, st.Progress, 100)
		assert.Equal(t, st.Status == StageSuccess, st.Progress == 100, "stage %s", key)
	}
	assert.Equal(t, v.Status.Terminal(), v.Timing.CompletedAt != nil)
	assert.Equal(t, v.Status == StatusFailed, v.Error != nil)
}

func TestReducer_TerminalStatusIsSticky(t *testing.T) {
	r := Reducer{}

	t.Run("late stage failure after success", func(t *testing.T) {
		done := applyAll(t, r, NewView("7", Snapshot{}),
			map[string]any{"type": "deployment_started"},
			map[string]any{"type": "deployment_completed", "status": "success", "completed_at": "2024-05-01T12:10:00Z"},
		)
		v := applyAll(t, r, done,
			map[string]any{"type": "stage_completed", "stage": "sourcebuild", "status": "failed", "message": "flaky"},
		)
		assert.Equal(t, StatusSuccess, v.Status)
		assert.Nil(t, v.Error)
		assert.Equal(t, done.Timing.CompletedAt, v.Timing.CompletedAt)
		assert.Equal(t, StageFailed, v.Stages.Get(StageSourceBuild).Status)
	})

	t.Run("late stage failure after cancel", func(t *testing.T) {
		v := applyAll(t, r, NewView("7", Snapshot{}),
			map[string]any{"type": "deployment_started"},
			map[string]any{"type": "deployment_completed", "status": "cancelled"},
			map[string]any{"type": "stage_completed", "stage": "sourcedeploy", "status": "failed"},
		)
		assert.Equal(t, StatusCancelled, v.Status)
		assert.Nil(t, v.Error)
		assert.NotNil(t, v.Timing.CompletedAt)
	})

	t.Run("success after stage failure", func(t *testing.T) {
		failed := applyAll(t, r, NewView("7", Snapshot{}),
			map[string]any{"type": "deployment_started"},
			map[string]any{"type": "stage_started", "stage": "sourcebuild"},
			map[string]any{"type": "stage_completed", "stage": "sourcebuild", "status": "failed"},
		)
		next := r.Apply(failed, DeploymentCompleted{Status: StatusSuccess}, testNow.Add(time.Minute))
		assert.Equal(t, failed, next)
		assert.Equal(t, StatusFailed, next.Status)
		require.NotNil(t, next.Error)
		assert.Equal(t, StageSourceBuild, next.Error.Stage)
		assert.Equal(t, StageFailed, next.Stages.Get(StageSourceBuild).Status)
		assert.Equal(t, 0, next.Stages.Get(StageSourceBuild).Progress)
	})

	t.Run("conflicting completion only fills missing total duration", func(t *testing.T) {
		failed := applyAll(t, r, NewView("7", Snapshot{}),
			map[string]any{"type": "stage_completed", "stage": "sourcecommit", "status": "failed"},
		)
		total := 42.0
		v := r.Apply(failed, DeploymentCompleted{Status: StatusSuccess, TotalDuration: &total}, testNow)
		assert.Equal(t, StatusFailed, v.Status)
		require.NotNil(t, v.Timing.TotalDuration)
		assert.Equal(t, 42.0, *v.Timing.TotalDuration)
		assert.Equal(t, failed.Timing.CompletedAt, v.Timing.CompletedAt)
	})

	t.Run("redeploy reopens", func(t *testing.T) {
		v := applyAll(t, r, NewView("7", Snapshot{Status: "success"}),
			map[string]any{"type": "deployment_started"},
			map[string]any{"type": "stage_completed", "stage": "sourcebuild", "status": "failed"},
		)
		assert.Equal(t, StatusFailed, v.Status)
		require.NotNil(t, v.Error)
	})
}
