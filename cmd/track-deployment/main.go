package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"

	"github.com/imranansari/gh-deploy-monitor/config"
	"github.com/imranansari/gh-deploy-monitor/deployment"
	"github.com/imranansari/gh-deploy-monitor/logging"
	"github.com/imranansari/gh-deploy-monitor/stream"
	"github.com/imranansari/gh-deploy-monitor/workflows"
)

func main() {
	var (
		id             = flag.String("id", "", "Deployment ID to track")
		owner          = flag.String("owner", os.Getenv("GITHUB_OWNER"), "GitHub repository owner to mirror status to")
		repo           = flag.String("repo", os.Getenv("GITHUB_REPO"), "GitHub repository name")
		ghDeploymentID = flag.Int64("github-deployment", 0, "Existing GitHub deployment ID")
		ref            = flag.String("ref", "", "Git ref used to create a GitHub deployment when none is given")
		environment    = flag.String("env", "staging", "GitHub deployment environment")
		transient      = flag.Bool("transient", false, "Mark the GitHub environment as transient")
		logURL         = flag.String("log-url", "", "Log URL attached to mirrored statuses")
		envURL         = flag.String("env-url", "", "Environment URL attached to mirrored statuses")
		idleTimeout    = flag.Duration("idle-timeout", workflows.DefaultIdleTimeout, "Stop tracking after this long without events")
		bridge         = flag.Bool("bridge", true, "Forward the websocket stream into the workflow")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logging.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	logger := log.With().Str("component", "track-deployment").Logger()

	deploymentID, ok := deployment.CanonicalID(*id)
	if !ok {
		logger.Fatal().Msg("-id is required")
	}
	if *bridge {
		if err := cfg.RequireStream(); err != nil {
			logger.Fatal().Err(err).Msg("Stream is not configured, use -bridge=false to only start the workflow")
		}
	}

	input := workflows.MonitorWorkflowInput{
		DeploymentID:   deploymentID,
		StrictProgress: cfg.Monitor.StrictProgress,
		IdleTimeout:    *idleTimeout,
	}
	if *owner != "" && *repo != "" {
		env, ok := config.NormalizeEnvironment(*environment)
		if !ok {
			logger.Fatal().
				Str("environment", *environment).
				Strs("valid", config.ValidEnvironments()).
				Msg("Unknown deployment environment")
		}
		input.GitHub = &workflows.GitHubTarget{
			Owner:          *owner,
			Repo:           *repo,
			DeploymentID:   *ghDeploymentID,
			Ref:            *ref,
			Environment:    env,
			IsTransient:    *transient,
			LogURL:         *logURL,
			EnvironmentURL: *envURL,
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create Temporal client
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Temporal client")
	}
	defer temporalClient.Close()

	// a running monitor for the same deployment is reused rather than duplicated
	workflowRun, err := temporalClient.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflows.WorkflowID(deploymentID),
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.DeploymentMonitorWorkflow, input)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to start workflow")
	}

	logger.Info().
		Str("workflow_id", workflowRun.GetID()).
		Str("run_id", workflowRun.GetRunID()).
		Bool("github_mirroring", input.GitHub != nil).
		Msg("Deployment monitor workflow started")

	g, gctx := errgroup.WithContext(ctx)
	streamCtx, cancelStream := context.WithCancel(gctx)
	defer cancelStream()

	if *bridge {
		streamClient, err := stream.New(cfg.Stream)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create stream client")
		}
		b := &signalBridge{
			ctx:        streamCtx,
			client:     temporalClient,
			workflowID: workflowRun.GetID(),
			logger:     logger,
		}
		g.Go(func() error {
			err := streamClient.Run(streamCtx, deploymentID, b)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Event stream stopped, workflow keeps running until idle timeout")
			}
			return nil
		})
	}

	g.Go(func() error {
		defer cancelStream()
		var result workflows.MonitorWorkflowResult
		err := workflowRun.Get(gctx, &result)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		report(logger, workflowRun, result, err)
		return nil
	})

	if err := g.Wait(); err == nil {
		return
	}

	logger.Info().Msg("Interrupted, closing monitor workflow")
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := temporalClient.SignalWorkflow(closeCtx, workflowRun.GetID(), "", workflows.CloseSignal, "interrupted"); err != nil {
		logger.Error().Err(err).Msg("Failed to close monitor workflow")
	}
}

func report(logger zerolog.Logger, run client.WorkflowRun, result workflows.MonitorWorkflowResult, err error) {
	if err != nil {
		logger.Error().Err(err).Str("workflow_id", run.GetID()).Msg("Workflow execution failed")
		return
	}

	logger.Info().
		Str("deployment_id", result.View.ID).
		Str("final_status", string(result.View.Status)).
		Str("ended_by", result.EndedBy).
		Int("events_applied", result.EventsApplied).
		Int("events_dropped", result.EventsDropped).
		Int("status_mirrors", result.StatusMirrors).
		Int64("github_deployment_id", result.GitHubDeploymentID).
		Msg("Deployment monitor workflow completed")

	if result.View.Error != nil {
		logger.Warn().
			Str("stage", string(result.View.Error.Stage)).
			Str("message", result.View.Error.Message).
			Msg("Deployment failed")
	}
}
