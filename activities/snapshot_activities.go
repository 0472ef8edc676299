package activities

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/imranansari/gh-deploy-monitor/deployment"
	"github.com/imranansari/gh-deploy-monitor/logging"
	"github.com/imranansari/gh-deploy-monitor/snapshot"
)

// SnapshotFetcher reads the initial state of a deployment.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, id string) (deployment.Snapshot, error)
}

// SnapshotActivities seeds durable monitors from the backend REST API
type SnapshotActivities struct {
	fetcher SnapshotFetcher
}

func NewSnapshotActivities(fetcher SnapshotFetcher) *SnapshotActivities {
	return &SnapshotActivities{fetcher: fetcher}
}

// FetchDeploymentSnapshot returns the current progress snapshot. A missing
// deployment is not retried.
func (a *SnapshotActivities) FetchDeploymentSnapshot(ctx context.Context, deploymentID string) (*deployment.Snapshot, error) {
	info := activity.GetInfo(ctx)
	logger := logging.ActivityLogger(FetchDeploymentSnapshotName, info.WorkflowExecution.ID, info.WorkflowExecution.RunID)

	snap, err := a.fetcher.Fetch(ctx, deploymentID)
	if err != nil {
		var apiErr snapshot.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden) {
			return nil, temporal.NewNonRetryableApplicationError(apiErr.Error(), "SnapshotUnavailable", err)
		}
		logger.Warn().Err(err).Str("deployment_id", deploymentID).Msg("Failed to fetch deployment snapshot")
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}

	logger.Info().
		Str("deployment_id", deploymentID).
		Str("status", snap.Status).
		Int("stages", len(snap.Stages)).
		Msg("Fetched deployment snapshot")
	return &snap, nil
}
