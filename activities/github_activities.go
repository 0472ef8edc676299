package activities

import (
	"context"
	"fmt"

	"github.com/google/go-github/v58/github"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	githubClient "github.com/imranansari/gh-deploy-monitor/github"
	"github.com/imranansari/gh-deploy-monitor/logging"
)

// ClientProvider returns a GitHub client for an organization.
type ClientProvider interface {
	CreateClientForOrg(ctx context.Context, org string) (*github.Client, error)
}

// GitHubActivities mirrors tracked deployments onto GitHub Deployments
type GitHubActivities struct {
	clients ClientProvider
}

// NewGitHubActivities creates a new instance of GitHub activities
func NewGitHubActivities(clients ClientProvider) *GitHubActivities {
	return &GitHubActivities{clients: clients}
}

// CreateGitHubDeployment creates the GitHub deployment that status changes are mirrored to
func (a *GitHubActivities) CreateGitHubDeployment(ctx context.Context, input CreateDeploymentInput) (*CreateDeploymentResult, error) {
	info := activity.GetInfo(ctx)
	logger := logging.ActivityLogger(CreateGitHubDeploymentName, info.WorkflowExecution.ID, info.WorkflowExecution.RunID)

	if input.GithubOwner == "" || input.GithubRepo == "" || input.Ref == "" {
		return nil, temporal.NewNonRetryableApplicationError("owner, repo and ref are required", "ValidationError", nil)
	}

	logger.Info().
		Str("github_owner", input.GithubOwner).
		Str("github_repo", input.GithubRepo).
		Str("ref", input.Ref).
		Str("environment", input.Environment).
		Msg("Creating GitHub deployment")

	client, err := a.clients.CreateClientForOrg(ctx, input.GithubOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	req := &github.DeploymentRequest{
		Ref:                   github.String(input.Ref),
		Task:                  github.String("deploy"),
		Environment:           github.String(input.Environment),
		Description:           github.String(truncateDescription(input.Description, 140)),
		TransientEnvironment:  github.Bool(input.IsTransient),
		ProductionEnvironment: github.Bool(input.Environment == "production"),
		// the pipeline already gated this deployment
		RequiredContexts: &[]string{},
		AutoMerge:        github.Bool(false),
		Payload: map[string]interface{}{
			"triggered_by":  "deploy-monitor",
			"deployment_id": input.DeploymentID,
		},
	}

	activity.RecordHeartbeat(ctx, "Calling GitHub API")

	dep, _, err := client.Repositories.CreateDeployment(ctx, input.GithubOwner, input.GithubRepo, req)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create GitHub deployment")
		return nil, fmt.Errorf("failed to create deployment: %w", err)
	}

	result := &CreateDeploymentResult{
		GitHubDeploymentID: dep.GetID(),
		URL:                dep.GetURL(),
		Environment:        dep.GetEnvironment(),
	}
	logger.Info().
		Int64("github_deployment_id", result.GitHubDeploymentID).
		Str("url", result.URL).
		Msg("Successfully created GitHub deployment")
	return result, nil
}

// MirrorDeploymentStatus writes a deployment status to GitHub. Statuses with no
// GitHub equivalent are skipped.
func (a *GitHubActivities) MirrorDeploymentStatus(ctx context.Context, input MirrorStatusInput) (*MirrorStatusResult, error) {
	info := activity.GetInfo(ctx)
	logger := logging.ActivityLogger(MirrorDeploymentStatusName, info.WorkflowExecution.ID, info.WorkflowExecution.RunID)

	state, ok := githubClient.DeploymentState(input.Status)
	if !ok {
		logger.Debug().Str("status", string(input.Status)).Msg("No GitHub state for status, skipping")
		return &MirrorStatusResult{}, nil
	}
	if input.GitHubDeploymentID == 0 {
		return nil, temporal.NewNonRetryableApplicationError("github deployment id is required", "ValidationError", nil)
	}

	logger.Info().
		Str("github_owner", input.GithubOwner).
		Str("github_repo", input.GithubRepo).
		Int64("github_deployment_id", input.GitHubDeploymentID).
		Str("state", state).
		Msg("Updating GitHub deployment status")

	client, err := a.clients.CreateClientForOrg(ctx, input.GithubOwner)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}

	req := &github.DeploymentStatusRequest{
		State:       github.String(state),
		Description: github.String(truncateDescription(input.Description, 140)),
		// a successful rollout retires the previous deployments of the environment
		AutoInactive: github.Bool(state == "success"),
	}
	if input.LogURL != "" {
		req.LogURL = github.String(input.LogURL)
	}
	if input.EnvironmentURL != "" {
		req.EnvironmentURL = github.String(input.EnvironmentURL)
	}

	activity.RecordHeartbeat(ctx, "Calling GitHub API")

	status, _, err := client.Repositories.CreateDeploymentStatus(ctx, input.GithubOwner, input.GithubRepo, input.GitHubDeploymentID, req)
	if err != nil {
		logger.Error().Err(err).Str("state", state).Msg("Failed to update GitHub deployment status")
		return nil, fmt.Errorf("failed to update deployment status: %w", err)
	}

	logger.Info().
		Str("state", status.GetState()).
		Str("url", status.GetURL()).
		Msg("Successfully updated GitHub deployment status")
	return &MirrorStatusResult{State: state}, nil
}

// truncateDescription ensures description doesn't exceed GitHub's limit
func truncateDescription(desc string, maxLen int) string {
	if len(desc) <= maxLen {
		return desc
	}
	return desc[:maxLen-3] + "..."
}
