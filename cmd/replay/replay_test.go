package main

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imranansari/gh-deploy-monitor/deployment"
)

const eventLog = `
# deployment 7, build regresses once
{"type":"deployment_started","deployment_id":7}
{"type":"stage_started","stage":"sourcecommit"}
{"type":"stage_completed","stage":"sourcecommit","status":"success","duration":4}
{"type":"stage_progress","deployment_id":8,"stage":"sourcebuild","progress":10}
not json
{"type":"stage_started","stage":"sourcebuild"}
{"type":"stage_progress","stage":"sourcebuild","progress":70}
{"type":"stage_progress","stage":"sourcebuild","progress":40}
{"type":"pong"}
{"type":"deployment_completed","status":"success","total_duration":30}
`

func newReplayer(strict bool) replayer {
	return replayer{
		id:     "7",
		strict: strict,
		now:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		logger: zerolog.Nop(),
	}
}

func TestReadEvents(t *testing.T) {
	events, err := readEvents(strings.NewReader(eventLog))
	require.NoError(t, err)
	assert.Len(t, events, 10)
	assert.Equal(t, `{"type":"deployment_started","deployment_id":7}`, string(events[0]))
}

func TestReplay(t *testing.T) {
	events, err := readEvents(strings.NewReader(eventLog))
	require.NoError(t, err)

	view, counts := newReplayer(false).run(events)

	assert.Equal(t, deployment.StatusSuccess, view.Status)
	assert.Equal(t, 100, view.Stages.Get(deployment.StageSourceBuild).Progress)
	require.NotNil(t, view.Timing.TotalDuration)
	assert.Equal(t, 30.0, *view.Timing.TotalDuration)
	assert.Nil(t, view.Error)

	assert.Equal(t, 7, counts[deployment.OutcomeApplied])
	assert.Equal(t, 1, counts[deployment.OutcomeFiltered])
	assert.Equal(t, 1, counts[deployment.OutcomeRejected])
	assert.Equal(t, 1, counts[deployment.OutcomeIgnored])
}

func TestReplay_StrictIgnoresRegression(t *testing.T) {
	events, err := readEvents(strings.NewReader(eventLog))
	require.NoError(t, err)

	// stop before completion so the build stage is still open
	view, counts := newReplayer(true).run(events[:8])

	assert.Equal(t, 70, view.Stages.Get(deployment.StageSourceBuild).Progress)
	assert.Equal(t, 5, counts[deployment.OutcomeApplied])
	assert.Equal(t, 1, counts[deployment.OutcomeIgnored])
}

func TestReplay_Idempotent(t *testing.T) {
	events, err := readEvents(strings.NewReader(eventLog))
	require.NoError(t, err)

	assert.NoError(t, newReplayer(false).verifyIdempotent(events))
	assert.NoError(t, newReplayer(true).verifyIdempotent(events))
}
