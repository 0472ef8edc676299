package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/imranansari/gh-deploy-monitor/activities"
	"github.com/imranansari/gh-deploy-monitor/deployment"
)

// DeploymentMonitorWorkflow is a durable monitor for one deployment. It applies
// signalled stream envelopes through the same normalize, route and reduce steps as
// the live monitor, answers the view query, and mirrors every top-level status
// change to GitHub when a target is given.
func DeploymentMonitorWorkflow(ctx workflow.Context, input MonitorWorkflowInput) (*MonitorWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	id, ok := deployment.CanonicalID(input.DeploymentID)
	if !ok {
		return nil, temporal.NewNonRetryableApplicationError("deployment id is required", "ValidationError", nil)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"ValidationError", "AuthenticationError", "SnapshotUnavailable"},
		},
	})

	logger.Info("Starting deployment monitor workflow",
		"deployment_id", id,
		"strict_progress", input.StrictProgress,
		"github_mirroring", input.GitHub != nil)

	m := &durableMonitor{
		ctx:     ctx,
		logger:  logger,
		router:  deployment.NewRouter(id),
		reducer: deployment.Reducer{StrictProgress: input.StrictProgress},
		result:  &MonitorWorkflowResult{},
	}

	m.view = deployment.NewViewAt(id, loadSeed(ctx, logger, id, input.Seed), workflow.Now(ctx))
	if err := workflow.SetQueryHandler(ctx, ViewQuery, func() (deployment.View, error) {
		return m.view, nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register view query: %w", err)
	}

	m.target = prepareTarget(ctx, logger, id, input.GitHub)
	if m.target != nil {
		m.result.GitHubDeploymentID = m.target.DeploymentID
	}
	m.mirror()

	if m.view.Status.Terminal() {
		m.result.EndedBy = EndCompleted
		return m.finish(), nil
	}

	idle := input.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	eventCh := workflow.GetSignalChannel(ctx, EventSignal)
	closeCh := workflow.GetSignalChannel(ctx, CloseSignal)

	for m.result.EndedBy == "" {
		timerCtx, cancelTimer := workflow.WithCancel(ctx)
		idleTimer := workflow.NewTimer(timerCtx, idle)

		selector := workflow.NewSelector(ctx)
		selector.AddReceive(eventCh, func(c workflow.ReceiveChannel, more bool) {
			var msg map[string]any
			c.Receive(ctx, &msg)
			if m.apply(msg) {
				m.result.EndedBy = EndCompleted
			}
		})
		selector.AddReceive(closeCh, func(c workflow.ReceiveChannel, more bool) {
			var reason string
			c.Receive(ctx, &reason)
			logger.Info("Monitor closed by signal", "reason", reason)
			m.result.EndedBy = EndClosed
		})
		selector.AddFuture(idleTimer, func(f workflow.Future) {
			if err := f.Get(ctx, nil); err == nil {
				logger.Warn("No deployment events before idle timeout", "idle_timeout", idle)
				m.result.EndedBy = EndIdle
			}
		})
		selector.Select(ctx)
		cancelTimer()
	}

	// whatever is still buffered arrived after the monitor ended
	for {
		var msg map[string]any
		if !eventCh.ReceiveAsync(&msg) {
			break
		}
		m.result.EventsDropped++
	}

	return m.finish(), nil
}

type durableMonitor struct {
	ctx     workflow.Context
	logger  log.Logger
	router  deployment.Router
	reducer deployment.Reducer
	view    deployment.View
	target  *GitHubTarget
	result  *MonitorWorkflowResult
}

// apply runs one signalled envelope and reports whether it completed the deployment.
func (m *durableMonitor) apply(msg map[string]any) bool {
	env, err := deployment.Normalize(msg)
	if err != nil {
		m.logger.Warn("Dropping event", "type", env.Type, "error", err)
		m.result.EventsDropped++
		return false
	}
	if !m.router.Accept(env) {
		m.logger.Debug("Ignoring event for another deployment", "event_deployment_id", env.DeploymentID)
		m.result.EventsDropped++
		return false
	}

	_, completed := env.Event.(deployment.DeploymentCompleted)

	prev := m.view
	next := m.reducer.Apply(prev, env.Event, workflow.Now(m.ctx))
	if next == prev {
		// a conflicting completion leaves a finished view untouched but still ends the monitor
		return completed && prev.Status.Terminal()
	}
	m.view = next
	m.result.EventsApplied++

	if next.Status != prev.Status {
		m.logger.Info("Deployment status changed", "from", prev.Status, "to", next.Status)
		m.mirror()
	}
	return completed
}

func (m *durableMonitor) mirror() {
	if m.target == nil {
		return
	}
	input := activities.MirrorStatusInput{
		GithubOwner:        m.target.Owner,
		GithubRepo:         m.target.Repo,
		GitHubDeploymentID: m.target.DeploymentID,
		Status:             m.view.Status,
		Description:        statusDescription(m.view),
		LogURL:             m.target.LogURL,
		EnvironmentURL:     m.target.EnvironmentURL,
	}
	var res *activities.MirrorStatusResult
	if err := workflow.ExecuteActivity(m.ctx, activities.MirrorDeploymentStatusName, input).Get(m.ctx, &res); err != nil {
		// mirroring is best effort, the monitor keeps tracking
		m.logger.Error("Failed to mirror deployment status", "status", m.view.Status, "error", err)
		return
	}
	if res != nil && res.State != "" {
		m.result.StatusMirrors++
	}
}

func (m *durableMonitor) finish() *MonitorWorkflowResult {
	m.result.View = m.view
	m.result.CompletedAt = workflow.Now(m.ctx)
	m.logger.Info("Deployment monitor workflow completed",
		"deployment_id", m.view.ID,
		"status", m.view.Status,
		"ended_by", m.result.EndedBy,
		"events_applied", m.result.EventsApplied,
		"events_dropped", m.result.EventsDropped,
		"status_mirrors", m.result.StatusMirrors)
	return m.result
}

func loadSeed(ctx workflow.Context, logger log.Logger, id string, seed *deployment.Snapshot) deployment.Snapshot {
	if seed != nil {
		return *seed
	}
	var snap *deployment.Snapshot
	if err := workflow.ExecuteActivity(ctx, activities.FetchDeploymentSnapshotName, id).Get(ctx, &snap); err != nil {
		logger.Warn("Snapshot unavailable, starting from pending", "error", err)
		return deployment.Snapshot{}
	}
	if snap == nil {
		return deployment.Snapshot{}
	}
	return *snap
}

func prepareTarget(ctx workflow.Context, logger log.Logger, id string, target *GitHubTarget) *GitHubTarget {
	if target == nil {
		return nil
	}
	t := *target
	if t.DeploymentID != 0 {
		return &t
	}
	if t.Ref == "" {
		logger.Warn("GitHub target has neither deployment id nor ref, mirroring disabled")
		return nil
	}

	var created *activities.CreateDeploymentResult
	err := workflow.ExecuteActivity(ctx, activities.CreateGitHubDeploymentName, activities.CreateDeploymentInput{
		GithubOwner:  t.Owner,
		GithubRepo:   t.Repo,
		Ref:          t.Ref,
		Environment:  t.Environment,
		Description:  fmt.Sprintf("Deployment %s", id),
		IsTransient:  t.IsTransient,
		DeploymentID: id,
	}).Get(ctx, &created)
	if err != nil || created == nil {
		logger.Error("Failed to create GitHub deployment, mirroring disabled", "error", err)
		return nil
	}
	t.DeploymentID = created.GitHubDeploymentID
	logger.Info("GitHub deployment created", "github_deployment_id", t.DeploymentID)
	return &t
}

func statusDescription(v deployment.View) string {
	switch v.Status {
	case deployment.StatusPending:
		return fmt.Sprintf("Deployment %s queued", v.ID)
	case deployment.StatusRunning:
		return fmt.Sprintf("Deployment %s in progress", v.ID)
	case deployment.StatusSuccess:
		return fmt.Sprintf("Deployment %s succeeded", v.ID)
	case deployment.StatusFailed:
		if v.Error != nil && v.Error.Stage != "" {
			return fmt.Sprintf("Deployment %s failed at %s: %s", v.ID, v.Error.Stage, v.Error.Message)
		}
		if v.Error != nil {
			return fmt.Sprintf("Deployment %s failed: %s", v.ID, v.Error.Message)
		}
		return fmt.Sprintf("Deployment %s failed", v.ID)
	case deployment.StatusCancelled:
		return fmt.Sprintf("Deployment %s cancelled", v.ID)
	default:
		return fmt.Sprintf("Deployment %s status %s", v.ID, v.Status)
	}
}
