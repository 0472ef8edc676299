package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/imranansari/gh-deploy-monitor/activities"
	"github.com/imranansari/gh-deploy-monitor/config"
	githubClient "github.com/imranansari/gh-deploy-monitor/github"
	"github.com/imranansari/gh-deploy-monitor/logging"
	"github.com/imranansari/gh-deploy-monitor/metrics"
	"github.com/imranansari/gh-deploy-monitor/snapshot"
	"github.com/imranansari/gh-deploy-monitor/workflows"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	logging.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := logging.WorkerLogger()

	logger.Info().
		Str("environment", cfg.App.Environment).
		Str("temporal_host", cfg.Temporal.HostPort).
		Str("task_queue", cfg.Temporal.TaskQueue).
		Str("api_base_url", cfg.API.BaseURL).
		Bool("github_mirroring", cfg.GitHub.Enabled()).
		Bool("using_enterprise", cfg.GitHub.EnterpriseURL != "").
		Msg("Starting Deployment Monitor Worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.App.MetricsEnabled {
		go func() {
			if err := metrics.Serve(ctx, cfg.App.MetricsPort, prometheus.DefaultGatherer, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	// Create Temporal client
	temporalClient, err := createTemporalClient(cfg.Temporal)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Temporal client")
	}
	defer temporalClient.Close()

	snapshots, err := snapshot.New(cfg.API)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create snapshot client")
	}

	// installation IDs are resolved per organization on first use
	githubFactory := githubClient.NewClientFactory(cfg.GitHub, cfg.Secrets.GitHubPrivateKey, logging.GitHubLogger())
	if !cfg.GitHub.Enabled() {
		logger.Warn().Msg("GITHUB_APP_ID not set, workflows with a GitHub target will fail to mirror status")
	}

	// Create worker
	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Temporal.WorkerOptions.MaxConcurrentActivityExecutionSize,
		MaxConcurrentWorkflowTaskExecutionSize: cfg.Temporal.WorkerOptions.MaxConcurrentWorkflowTaskExecutionSize,
		EnableLoggingInReplay:                  cfg.Temporal.WorkerOptions.EnableLoggingInReplay,
	})

	w.RegisterWorkflow(workflows.DeploymentMonitorWorkflow)
	w.RegisterActivity(activities.NewGitHubActivities(githubFactory))
	w.RegisterActivity(activities.NewSnapshotActivities(snapshots))

	logger.Info().Msg("Starting Temporal worker")

	// Handle graceful shutdown
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Run(worker.InterruptCh())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errChan:
		if err != nil {
			logger.Fatal().Err(err).Msg("Worker error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received termination signal")
		w.Stop()
	}

	logger.Info().Msg("Worker stopped gracefully")
}

func createTemporalClient(cfg config.TemporalConfig) (client.Client, error) {
	return client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
}
