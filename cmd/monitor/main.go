package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/imranansari/gh-deploy-monitor/config"
	"github.com/imranansari/gh-deploy-monitor/deployment"
	"github.com/imranansari/gh-deploy-monitor/logging"
	"github.com/imranansari/gh-deploy-monitor/metrics"
	"github.com/imranansari/gh-deploy-monitor/snapshot"
	"github.com/imranansari/gh-deploy-monitor/stream"
)

func main() {
	var (
		id             = flag.String("id", "", "Deployment ID to monitor")
		noSnapshot     = flag.Bool("no-snapshot", false, "Skip the REST snapshot and start from pending")
		exitOnComplete = flag.Bool("exit-on-complete", true, "Exit once the deployment reaches a terminal status")
	)
	flag.Parse()

	if err := run(*id, *noSnapshot, *exitOnComplete); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}

func run(rawID string, noSnapshot, exitOnComplete bool) error {
	id, ok := deployment.CanonicalID(rawID)
	if !ok {
		return errors.New("-id is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.RequireStream(); err != nil {
		return err
	}

	// stdout belongs to the rendered view
	logging.InitLoggerTo(os.Stderr, cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector *metrics.Collector
	if cfg.App.MetricsEnabled {
		collector, err = metrics.New(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		go func() {
			if err := metrics.Serve(ctx, cfg.App.MetricsPort, prometheus.DefaultGatherer, log.Logger); err != nil {
				log.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	snap := deployment.Snapshot{}
	if !noSnapshot {
		snap = fetchSnapshot(ctx, cfg.API, id)
	}

	done := make(chan struct{})
	var completeOnce bool
	screen := newRenderer(os.Stdout, deployment.NewView(id, snap))

	monitor := deployment.NewMonitor(id, snap,
		deployment.WithLogger(logging.MonitorLogger(id)),
		deployment.WithRecorder(collector),
		deployment.WithStrictProgress(cfg.Monitor.StrictProgress),
		deployment.WithResetOnReconnect(cfg.Monitor.ResetOnReconnect),
		deployment.WithTickInterval(cfg.Monitor.TickInterval),
		deployment.OnTick(screen.onTick),
		deployment.OnChange(func(v deployment.View) {
			screen.onChange(v)
			// OnChange runs under the monitor's dispatch lock
			if exitOnComplete && v.Status.Terminal() && !completeOnce {
				completeOnce = true
				close(done)
			}
		}),
	)
	defer monitor.Close()

	screen.onChange(monitor.View())
	if exitOnComplete && monitor.View().Status.Terminal() {
		return nil
	}

	client, err := stream.New(cfg.Stream, stream.WithReconnectRecorder(collector))
	if err != nil {
		return fmt.Errorf("failed to create stream client: %w", err)
	}

	monitor.Start()
	return follow(ctx, done, func(streamCtx context.Context) error {
		streamCtx, unsubscribe := context.WithCancel(streamCtx)
		monitor.Attach(unsubscribe)
		return client.Run(streamCtx, id, monitor)
	}, monitor.Close)
}

// follow runs stream until done closes, ctx is cancelled or the stream fails, then
// calls closeFn. Only a stream failure is returned.
func follow(ctx context.Context, done <-chan struct{}, stream func(context.Context) error, closeFn func()) error {
	g, gctx := errgroup.WithContext(ctx)
	streamCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		if err := stream(streamCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-streamCtx.Done():
			if ctx.Err() != nil {
				log.Info().Msg("Interrupted, closing monitor")
			}
		case <-done:
			log.Info().Msg("Deployment finished")
		}
		closeFn()
		cancel()
		return nil
	})
	return g.Wait()
}

// fetchSnapshot loads the initial view. Failures are logged and the monitor starts
// from pending, relying on the stream to replay current state.
func fetchSnapshot(ctx context.Context, cfg config.APIConfig, id string) deployment.Snapshot {
	client, err := snapshot.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Snapshot client unavailable, starting from pending")
		return deployment.Snapshot{}
	}
	snap, err := client.Fetch(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("deployment_id", id).Msg("Failed to fetch snapshot, starting from pending")
		return deployment.Snapshot{}
	}
	return snap
}
