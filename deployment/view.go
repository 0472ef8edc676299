// Package deployment reconciles the pipeline event stream of a single deployment
// into a consistent DeploymentView.
//
// Events flow Normalize -> Router -> Reducer. The reducer is pure; Monitor wraps
// the three for a live connection and owns the resulting view.
package deployment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the top-level state of a deployment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// ParseStatus maps a wire value onto a Status. Unrecognised values become StatusUnknown.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
		return s
	default:
		return StatusUnknown
	}
}

// Terminal reports whether no further stage activity is expected.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// StageKey names one of the three fixed pipeline stages.
type StageKey string

const (
	StageSourceCommit StageKey = "sourcecommit"
	StageSourceBuild  StageKey = "sourcebuild"
	StageSourceDeploy StageKey = "sourcedeploy"
)

var stageOrder = [...]StageKey{StageSourceCommit, StageSourceBuild, StageSourceDeploy}

// StageKeys returns the stage keys in pipeline order.
func StageKeys() []StageKey {
	return stageOrder[:]
}

// ParseStageKey reports whether raw names a known stage.
func ParseStageKey(raw string) (StageKey, bool) {
	key := StageKey(strings.TrimSpace(raw))
	return key, key.index() >= 0
}

func (k StageKey) index() int {
	for i, known := range stageOrder {
		if k == known {
			return i
		}
	}
	return -1
}

// StageStatus is the resolution of a stage. The zero value means unresolved and
// encodes as JSON null.
type StageStatus string

const (
	StageUnresolved StageStatus = ""
	StageSuccess    StageStatus = "success"
	StageFailed     StageStatus = "failed"
)

func (s StageStatus) MarshalJSON() ([]byte, error) {
	if s == StageUnresolved {
		return []byte("null"), nil
	}
	return json.Marshal(string(s))
}

func (s *StageStatus) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = StageUnresolved
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = parseStageStatus(raw)
	return nil
}

func parseStageStatus(raw string) StageStatus {
	switch StageStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StageSuccess:
		return StageSuccess
	case StageFailed:
		return StageFailed
	default:
		return StageUnresolved
	}
}

// StageState is the reconciled state of one stage.
type StageState struct {
	Status      StageStatus `json:"status"`
	Progress    int         `json:"progress"`
	ElapsedTime float64     `json:"elapsed_time"`
	Message     string      `json:"message"`
	StartedAt   *time.Time  `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	Duration    *float64    `json:"duration"`
}

// Stages holds exactly one entry per StageKey, in pipeline order.
type Stages [len(stageOrder)]StageState

// Get returns the state of key, or the zero state for an unknown key.
func (s Stages) Get(key StageKey) StageState {
	if i := key.index(); i >= 0 {
		return s[i]
	}
	return StageState{}
}

// With returns a copy of s with key replaced. Unknown keys leave s unchanged.
func (s Stages) With(key StageKey, state StageState) Stages {
	if i := key.index(); i >= 0 {
		s[i] = state
	}
	return s
}

// MarshalJSON encodes the stages as an object keyed in pipeline order.
func (s Stages) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range stageOrder {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:", key)
		state, err := json.Marshal(s[i])
		if err != nil {
			return nil, err
		}
		buf.Write(state)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a stage object. Unknown stage keys are discarded.
func (s *Stages) UnmarshalJSON(data []byte) error {
	var raw map[string]StageState
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Stages
	for name, state := range raw {
		if key, ok := ParseStageKey(name); ok {
			out = out.With(key, state)
		}
	}
	*s = out
	return nil
}

// Timing carries deployment-level timestamps. CompletedAt is set iff the status is terminal.
type Timing struct {
	StartedAt     *time.Time `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	TotalDuration *float64   `json:"total_duration"`
}

// ErrorInfo describes the failure that moved a deployment to StatusFailed.
type ErrorInfo struct {
	Message string   `json:"message"`
	Stage   StageKey `json:"stage,omitempty"`
}

// View is the reconciled state of one tracked deployment. Views are values: the
// reducer never mutates one in place and pointer fields are never written through.
type View struct {
	ID                string     `json:"id"`
	Status            Status     `json:"status"`
	Stages            Stages     `json:"stages"`
	Timing            Timing     `json:"timing"`
	Error             *ErrorInfo `json:"error"`
	LastUpdate        *time.Time `json:"last_update"`
	AutoDeployEnabled bool       `json:"auto_deploy_enabled"`
}

// Snapshot is the initial state served by the backend REST API before any live
// event arrives. Timestamps stay strings so zone-less values can be read as UTC.
type Snapshot struct {
	Status            string                   `json:"status"`
	Stages            map[string]SnapshotStage `json:"stages"`
	Timing            SnapshotTiming           `json:"timing"`
	Error             *ErrorInfo               `json:"error"`
	AutoDeployEnabled bool                     `json:"auto_deploy_enabled"`
}

type SnapshotStage struct {
	Status      *string  `json:"status"`
	Progress    float64  `json:"progress"`
	ElapsedTime float64  `json:"elapsed_time"`
	Message     string   `json:"message"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at"`
	Duration    *float64 `json:"duration"`
}

type SnapshotTiming struct {
	StartedAt     string   `json:"started_at"`
	CompletedAt   string   `json:"completed_at"`
	TotalDuration *float64 `json:"total_duration"`
}

// NewView seeds a view from a snapshot, enforcing the view invariants on the way in:
// unknown stages are dropped, a successful stage reads 100%, completion timing and
// error only survive on matching statuses. It is NewViewAt with the wall clock.
func NewView(id string, snap Snapshot) View {
	return NewViewAt(id, snap, time.Now())
}

// NewViewAt is NewView with an explicit clock reading. A terminal snapshot without
// completed_at takes the latest stage completion, then started_at, then now.
func NewViewAt(id string, snap Snapshot, now time.Time) View {
	canonical, _ := CanonicalID(id)
	v := View{
		ID:                canonical,
		Status:            StatusPending,
		AutoDeployEnabled: snap.AutoDeployEnabled,
	}
	if strings.TrimSpace(snap.Status) != "" {
		v.Status = ParseStatus(snap.Status)
	}

	for name, stage := range snap.Stages {
		key, ok := ParseStageKey(name)
		if !ok {
			continue
		}
		state := StageState{
			Progress:    clampProgress(stage.Progress),
			ElapsedTime: stage.ElapsedTime,
			Message:     stage.Message,
			StartedAt:   parseOptionalTimestamp(stage.StartedAt),
			CompletedAt: parseOptionalTimestamp(stage.CompletedAt),
			Duration:    stage.Duration,
		}
		if stage.Status != nil {
			state.Status = parseStageStatus(*stage.Status)
		}
		switch state.Status {
		case StageSuccess:
			state.Progress = 100
		case StageUnresolved:
			state.Progress = min(state.Progress, maxUnresolvedProgress)
		}
		v.Stages = v.Stages.With(key, state)
	}

	v.Timing.StartedAt = parseOptionalTimestamp(snap.Timing.StartedAt)
	if v.Status.Terminal() {
		v.Timing.CompletedAt = parseOptionalTimestamp(snap.Timing.CompletedAt)
		v.Timing.TotalDuration = snap.Timing.TotalDuration
		if v.Timing.CompletedAt == nil {
			v.Timing.CompletedAt = fallbackCompletion(v, now)
		}
	}
	if v.Status == StatusFailed && snap.Error != nil {
		errInfo := *snap.Error
		if _, ok := ParseStageKey(string(errInfo.Stage)); !ok {
			errInfo.Stage = ""
		}
		v.Error = &errInfo
	}
	return v
}

func fallbackCompletion(v View, now time.Time) *time.Time {
	var latest *time.Time
	for _, st := range v.Stages {
		if st.CompletedAt != nil && (latest == nil || st.CompletedAt.After(*latest)) {
			latest = st.CompletedAt
		}
	}
	if latest != nil {
		return latest
	}
	if v.Timing.StartedAt != nil {
		return v.Timing.StartedAt
	}
	at := now.UTC()
	return &at
}

// UnknownStages lists snapshot stage keys that NewView discards.
func (s Snapshot) UnknownStages() []string {
	var unknown []string
	for name := range s.Stages {
		if _, ok := ParseStageKey(name); !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func parseOptionalTimestamp(raw string) *time.Time {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	t, err := ParseTimestamp(raw)
	if err != nil {
		return nil
	}
	return &t
}
