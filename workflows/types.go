package workflows

import (
	"time"

	"github.com/imranansari/gh-deploy-monitor/deployment"
)

const (
	// EventSignal carries one raw stream envelope (a JSON object).
	EventSignal = "deployment-event"
	// CloseSignal ends the monitor; the payload is a free-form reason.
	CloseSignal = "close-monitor"
	// ViewQuery returns the current deployment.View.
	ViewQuery = "view"

	DefaultIdleTimeout = 30 * time.Minute
)

// Reasons a monitor workflow finished.
const (
	EndCompleted = "completed"
	EndClosed    = "closed"
	EndIdle      = "idle"
)

// WorkflowID is the workflow id used for the monitor of a deployment, so that
// at most one monitor runs per deployment.
func WorkflowID(deploymentID string) string {
	return "deployment-monitor-" + deploymentID
}

// GitHubTarget is the GitHub deployment that status changes are mirrored to.
// With DeploymentID zero and Ref set, the workflow creates the deployment first.
type GitHubTarget struct {
	Owner          string `json:"owner"`
	Repo           string `json:"repo"`
	DeploymentID   int64  `json:"deployment_id,omitempty"`
	Ref            string `json:"ref,omitempty"`
	Environment    string `json:"environment,omitempty"`
	IsTransient    bool   `json:"is_transient,omitempty"`
	LogURL         string `json:"log_url,omitempty"`
	EnvironmentURL string `json:"environment_url,omitempty"`
}

// MonitorWorkflowInput represents the input for the deployment monitor workflow
type MonitorWorkflowInput struct {
	DeploymentID string `json:"deployment_id"`

	// Seed skips the snapshot fetch when set
	Seed *deployment.Snapshot `json:"seed,omitempty"`

	StrictProgress bool          `json:"strict_progress,omitempty"`
	IdleTimeout    time.Duration `json:"idle_timeout,omitempty"`

	GitHub *GitHubTarget `json:"github,omitempty"`
}

// MonitorWorkflowResult represents the result of the deployment monitor workflow
type MonitorWorkflowResult struct {
	View               deployment.View `json:"view"`
	EndedBy            string          `json:"ended_by"`
	EventsApplied      int             `json:"events_applied"`
	EventsDropped      int             `json:"events_dropped"`
	StatusMirrors      int             `json:"status_mirrors"`
	GitHubDeploymentID int64           `json:"github_deployment_id,omitempty"`
	CompletedAt        time.Time       `json:"completed_at"`
}
