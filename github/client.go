// Package github builds GitHub App clients used to mirror deployment status.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v58/github"
	"github.com/rs/zerolog"

	"github.com/imranansari/gh-deploy-monitor/config"
	"github.com/imranansari/gh-deploy-monitor/deployment"
)

// ClientFactory creates installation clients for the configured GitHub App,
// against GitHub Enterprise when an enterprise URL is set and github.com otherwise.
type ClientFactory struct {
	config     config.GitHubConfig
	privateKey []byte
	logger     zerolog.Logger
	transport  http.RoundTripper

	mu sync.Mutex
	// installation IDs by organization login (lower-cased)
	installationCache map[string]int64
}

type Option func(*ClientFactory)

// WithTransport overrides the base round tripper, http.DefaultTransport by default.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *ClientFactory) {
		if rt != nil {
			f.transport = rt
		}
	}
}

// NewClientFactory creates a new GitHub client factory
func NewClientFactory(cfg config.GitHubConfig, privateKey []byte, logger zerolog.Logger, opts ...Option) *ClientFactory {
	f := &ClientFactory{
		config:            cfg,
		privateKey:        privateKey,
		logger:            logger,
		transport:         http.DefaultTransport,
		installationCache: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enterprise reports whether clients target a GitHub Enterprise server.
func (f *ClientFactory) Enterprise() bool {
	return f.config.EnterpriseURL != ""
}

// CreateClientForOrg returns a client authenticated as the App installation on org.
func (f *ClientFactory) CreateClientForOrg(ctx context.Context, org string) (*github.Client, error) {
	if f.config.AppID == 0 {
		return nil, fmt.Errorf("GitHub App ID not configured")
	}
	installationID, err := f.installationFor(ctx, org)
	if err != nil {
		return nil, err
	}

	atr, err := f.appsTransport()
	if err != nil {
		return nil, err
	}
	itr := ghinstallation.NewFromAppsTransport(atr, installationID)

	client, err := f.newClient(itr)
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Int64("app_id", f.config.AppID).
		Int64("installation_id", installationID).
		Str("organization", org).
		Bool("enterprise", f.Enterprise()).
		Msg("GitHub installation client created")
	return client, nil
}

func (f *ClientFactory) installationFor(ctx context.Context, org string) (int64, error) {
	key := strings.ToLower(org)

	f.mu.Lock()
	if id, ok := f.installationCache[key]; ok {
		f.mu.Unlock()
		return id, nil
	}
	f.mu.Unlock()

	atr, err := f.appsTransport()
	if err != nil {
		return 0, err
	}
	appClient, err := f.newClient(atr)
	if err != nil {
		return 0, err
	}

	opts := &github.ListOptions{PerPage: 100}
	for {
		installations, resp, err := appClient.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return 0, fmt.Errorf("failed to list app installations on %s: %w", f.host(), err)
		}
		for _, installation := range installations {
			if strings.EqualFold(installation.GetAccount().GetLogin(), org) {
				id := installation.GetID()
				f.mu.Lock()
				f.installationCache[key] = id
				f.mu.Unlock()

				f.logger.Info().
					Int64("app_id", f.config.AppID).
					Int64("installation_id", id).
					Str("organization", org).
					Str("host", f.host()).
					Msg("Found GitHub App installation for organization")
				return id, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return 0, fmt.Errorf("no installation found for organization '%s' on %s", org, f.host())
}

func (f *ClientFactory) appsTransport() (*ghinstallation.AppsTransport, error) {
	atr, err := ghinstallation.NewAppsTransport(f.transport, f.config.AppID, f.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create app transport: %w", err)
	}
	if f.Enterprise() {
		atr.BaseURL = f.enterpriseBase() + "/api/v3"
	}
	return atr, nil
}

func (f *ClientFactory) newClient(rt http.RoundTripper) (*github.Client, error) {
	client := github.NewClient(&http.Client{Transport: rt})
	if !f.Enterprise() {
		return client, nil
	}
	base := f.enterpriseBase()
	client, err := client.WithEnterpriseURLs(base+"/api/v3/", base+"/api/uploads/")
	if err != nil {
		return nil, fmt.Errorf("invalid enterprise URL %q: %w", f.config.EnterpriseURL, err)
	}
	return client, nil
}

func (f *ClientFactory) enterpriseBase() string {
	return strings.TrimSuffix(f.config.EnterpriseURL, "/")
}

func (f *ClientFactory) host() string {
	if f.Enterprise() {
		return "Enterprise GitHub " + f.config.EnterpriseURL
	}
	return "GitHub.com"
}

// DeploymentState maps a deployment status onto a GitHub deployment status state.
// StatusUnknown has no GitHub equivalent.
func DeploymentState(s deployment.Status) (string, bool) {
	switch s {
	case deployment.StatusPending:
		return "queued", true
	case deployment.StatusRunning:
		return "in_progress", true
	case deployment.StatusSuccess:
		return "success", true
	case deployment.StatusFailed:
		return "failure", true
	case deployment.StatusCancelled:
		return "inactive", true
	default:
		return "", false
	}
}
