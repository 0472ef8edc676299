package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "deploy-monitor"

// InitLogger initializes zerolog with the specified configuration
func InitLogger(level string, format string) {
	InitLoggerTo(os.Stdout, level, format)
}

// InitLoggerTo is InitLogger with an explicit writer. The console monitor uses it to
// keep log lines on stderr while the rendered view owns stdout.
func InitLoggerTo(out io.Writer, level string, format string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(out).With().
			Timestamp().
			Caller().
			Logger()
	}

	log.Logger = log.With().
		Str("service", serviceName).
		Logger()
}

// MonitorLogger creates a logger scoped to one tracked deployment
func MonitorLogger(deploymentID string) zerolog.Logger {
	return log.With().
		Str("deployment_id", deploymentID).
		Str("component", "monitor").
		Logger()
}

// StreamLogger creates a logger for the websocket transport
func StreamLogger() zerolog.Logger {
	return log.With().
		Str("component", "stream").
		Logger()
}

// ActivityLogger creates a logger for Temporal activities
func ActivityLogger(activityName string, workflowID string, runID string) zerolog.Logger {
	return log.With().
		Str("activity", activityName).
		Str("workflow_id", workflowID).
		Str("run_id", runID).
		Str("component", "activity").
		Logger()
}

// GitHubLogger creates a logger for GitHub API operations
func GitHubLogger() zerolog.Logger {
	return log.With().
		Str("component", "github").
		Logger()
}

// WorkerLogger creates a logger for the Temporal worker process
func WorkerLogger() zerolog.Logger {
	return log.With().
		Str("component", "worker").
		Logger()
}
