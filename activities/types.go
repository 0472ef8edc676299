package activities

import "github.com/imranansari/gh-deploy-monitor/deployment"

// Activity names as registered on the worker.
const (
	CreateGitHubDeploymentName  = "CreateGitHubDeployment"
	MirrorDeploymentStatusName  = "MirrorDeploymentStatus"
	FetchDeploymentSnapshotName = "FetchDeploymentSnapshot"
)

// CreateDeploymentInput represents input for creating a GitHub deployment that
// mirrors a tracked pipeline deployment
type CreateDeploymentInput struct {
	GithubOwner  string `json:"github_owner"`
	GithubRepo   string `json:"github_repo"`
	Ref          string `json:"ref"`
	Environment  string `json:"environment"`
	Description  string `json:"description"`
	IsTransient  bool   `json:"is_transient"`
	DeploymentID string `json:"deployment_id"`
}

// CreateDeploymentResult represents the result of creating a deployment
type CreateDeploymentResult struct {
	GitHubDeploymentID int64  `json:"github_deployment_id"`
	URL                string `json:"url"`
	Environment        string `json:"environment"`
}

// MirrorStatusInput carries one top-level status change to GitHub
type MirrorStatusInput struct {
	GithubOwner        string            `json:"github_owner"`
	GithubRepo         string            `json:"github_repo"`
	GitHubDeploymentID int64             `json:"github_deployment_id"`
	Status             deployment.Status `json:"status"`
	Description        string            `json:"description"`
	LogURL             string            `json:"log_url"`
	EnvironmentURL     string            `json:"environment_url"`
}

// MirrorStatusResult reports the GitHub state written, empty when skipped
type MirrorStatusResult struct {
	State string `json:"state"`
}
