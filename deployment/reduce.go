package deployment

import "time"

// Unresolved stages never report 100%: a stage reads 100 iff it succeeded.
const maxUnresolvedProgress = 99

const (
	defaultStageFailure      = "Stage failed"
	defaultDeploymentFailure = "Deployment failed"
)

// Reducer is the pure transition function (view, event) -> view.
//
// With StrictProgress unset, a stage_progress lower than the current value is
// applied as received, matching the backend which does not enforce monotonic
// progress. StrictProgress drops such regressions until the stage is restarted.
type Reducer struct {
	StrictProgress bool
}

// Apply returns the view after ev. now stands in for timestamps the event omits.
// Events that do not change state return v itself, so callers can detect no-ops
// with ==.
func (r Reducer) Apply(v View, ev Event, now time.Time) View {
	now = now.UTC()
	switch e := ev.(type) {
	case DeploymentStarted:
		return deploymentStarted(v, e, now)
	case StageStarted:
		return stageStarted(v, e, now)
	case StageProgress:
		return r.stageProgress(v, e, now)
	case StageCompleted:
		return stageCompleted(v, e, now)
	case DeploymentCompleted:
		return deploymentCompleted(v, e, now)
	case ConnectionEstablished, Pong:
		return v
	default:
		return v
	}
}

// IsRegression reports whether ev would move an unresolved stage's progress backwards.
func IsRegression(v View, ev StageProgress) bool {
	cur := v.Stages.Get(ev.Stage)
	return cur.Status == StageUnresolved && min(ev.Progress, maxUnresolvedProgress) < cur.Progress
}

func deploymentStarted(v View, e DeploymentStarted, now time.Time) View {
	started := orNow(e.StartedAt, now)
	v.Status = StatusRunning
	v.Error = nil
	v.Timing = Timing{StartedAt: &started}
	v.LastUpdate = &now
	return v
}

func stageStarted(v View, e StageStarted, now time.Time) View {
	started := orNow(e.StartedAt, now)
	v.Stages = v.Stages.With(e.Stage, StageState{
		Message:   e.Message,
		StartedAt: &started,
	})
	v.LastUpdate = &now
	return v
}

func (r Reducer) stageProgress(v View, e StageProgress, now time.Time) View {
	cur := v.Stages.Get(e.Stage)
	if cur.Status != StageUnresolved {
		// resolved stages are frozen until the next stage_started
		return v
	}
	if r.StrictProgress && IsRegression(v, e) {
		return v
	}
	cur.Progress = min(e.Progress, maxUnresolvedProgress)
	if e.ElapsedTime != nil {
		cur.ElapsedTime = *e.ElapsedTime
	}
	if e.Message != nil {
		cur.Message = *e.Message
	}
	v.Stages = v.Stages.With(e.Stage, cur)
	v.LastUpdate = &now
	return v
}

func stageCompleted(v View, e StageCompleted, now time.Time) View {
	completed := orNow(e.CompletedAt, now)
	cur := v.Stages.Get(e.Stage)
	cur.Status = e.Status
	cur.CompletedAt = &completed
	cur.Duration = e.Duration
	if e.Message != "" {
		cur.Message = e.Message
	}
	if e.Status == StageSuccess {
		cur.Progress = 100
	}
	v.Stages = v.Stages.With(e.Stage, cur)

	// a late stage failure is recorded on the stage but cannot reopen a finished deployment
	if e.Status == StageFailed && !v.Status.Terminal() {
		v.Status = StatusFailed
		if v.Error == nil {
			msg := e.Message
			if msg == "" {
				msg = defaultStageFailure
			}
			v.Error = &ErrorInfo{Message: msg, Stage: e.Stage}
		}
		if v.Timing.CompletedAt == nil {
			v.Timing.CompletedAt = &completed
		}
	}
	v.LastUpdate = &now
	return v
}

func deploymentCompleted(v View, e DeploymentCompleted, now time.Time) View {
	// terminal states only leave through deployment_started
	if v.Status.Terminal() && e.Status != v.Status {
		if v.Timing.TotalDuration != nil || e.TotalDuration == nil {
			return v
		}
		v.Timing.TotalDuration = e.TotalDuration
		v.LastUpdate = &now
		return v
	}

	completed := orNow(e.CompletedAt, now)
	v.Status = e.Status
	v.Timing.CompletedAt = &completed
	if e.TotalDuration != nil {
		v.Timing.TotalDuration = e.TotalDuration
	}

	switch e.Status {
	case StatusSuccess:
		v.Error = nil
		for _, key := range StageKeys() {
			st := v.Stages.Get(key)
			if st.Status != StageUnresolved {
				continue
			}
			st.Status = StageSuccess
			st.Progress = 100
			st.CompletedAt = &completed
			v.Stages = v.Stages.With(key, st)
		}
	case StatusFailed:
		if v.Error == nil {
			msg := e.Message
			if msg == "" {
				msg = defaultDeploymentFailure
			}
			v.Error = &ErrorInfo{Message: msg, Stage: e.Stage}
		}
	default:
		v.Error = nil
	}
	v.LastUpdate = &now
	return v
}

func orNow(t *time.Time, now time.Time) time.Time {
	if t != nil {
		return *t
	}
	return now
}
