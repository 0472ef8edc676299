package main

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/imranansari/gh-deploy-monitor/workflows"
)

type signaler interface {
	SignalWorkflow(ctx context.Context, workflowID string, runID string, signalName string, arg interface{}) error
}

// signalBridge forwards every stream frame to the monitor workflow. Frames are
// only checked to be JSON objects here, the workflow does the normalizing.
type signalBridge struct {
	ctx        context.Context
	client     signaler
	workflowID string
	logger     zerolog.Logger
}

func (b *signalBridge) HandleMessage(data []byte) bool {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn().Err(err).Msg("Dropping frame that is not a JSON object")
		return false
	}
	if t, _ := msg["type"].(string); t == "pong" {
		return false
	}
	if err := b.client.SignalWorkflow(b.ctx, b.workflowID, "", workflows.EventSignal, msg); err != nil {
		b.logger.Error().Err(err).Msg("Failed to signal deployment event")
		return false
	}
	return true
}

// Reconnected needs no action: the server replays current state and the
// workflow applies it like any other event.
func (b *signalBridge) Reconnected() {
	b.logger.Info().Str("workflow_id", b.workflowID).Msg("Stream reconnected, forwarding replayed events")
}
