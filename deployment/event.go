package deployment

import "time"

// Kind is the wire "type" of an inbound event.
type Kind string

const (
	KindConnectionEstablished Kind = "connection_established"
	KindDeploymentStarted     Kind = "deployment_started"
	KindStageStarted          Kind = "stage_started"
	KindStageProgress         Kind = "stage_progress"
	KindStageCompleted        Kind = "stage_completed"
	KindDeploymentCompleted   Kind = "deployment_completed"
	KindPong                  Kind = "pong"
)

// Event is the closed set of events understood by the reducer. Values are only
// produced by Normalize.
type Event interface {
	Kind() Kind
	event()
}

// ConnectionEstablished acknowledges the transport handshake.
type ConnectionEstablished struct{}

// Pong acknowledges a keep-alive ping.
type Pong struct{}

type DeploymentStarted struct {
	StartedAt *time.Time
}

type StageStarted struct {
	Stage     StageKey
	Message   string
	StartedAt *time.Time
}

// StageProgress carries an already clamped progress value. Nil optional fields
// leave the current stage values in place.
type StageProgress struct {
	Stage       StageKey
	Progress    int
	ElapsedTime *float64
	Message     *string
}

type StageCompleted struct {
	Stage       StageKey
	Status      StageStatus
	Duration    *float64
	CompletedAt *time.Time
	Message     string
}

// DeploymentCompleted ends a run. Stage is set only when the event names a known stage.
type DeploymentCompleted struct {
	Status        Status
	TotalDuration *float64
	CompletedAt   *time.Time
	Message       string
	Stage         StageKey
}

func (ConnectionEstablished) Kind() Kind { return KindConnectionEstablished }
func (Pong) Kind() Kind                  { return KindPong }
func (DeploymentStarted) Kind() Kind     { return KindDeploymentStarted }
func (StageStarted) Kind() Kind          { return KindStageStarted }
func (StageProgress) Kind() Kind         { return KindStageProgress }
func (StageCompleted) Kind() Kind        { return KindStageCompleted }
func (DeploymentCompleted) Kind() Kind   { return KindDeploymentCompleted }

func (ConnectionEstablished) event() {}
func (Pong) event()                  {}
func (DeploymentStarted) event()     {}
func (StageStarted) event()          {}
func (StageProgress) event()         {}
func (StageCompleted) event()        {}
func (DeploymentCompleted) event()   {}

// Envelope is a normalized inbound message: the typed event plus the routing
// fields carried next to it.
type Envelope struct {
	// Type is the raw wire type, kept for diagnostics even when Event is nil.
	Type            string
	Event           Event
	DeploymentID    string
	HasDeploymentID bool
	UserID          string
	Timestamp       *time.Time
}
