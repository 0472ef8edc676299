package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/facebookgo/clock"
	"github.com/rs/zerolog"

	"github.com/imranansari/gh-deploy-monitor/deployment"
)

// outcomes counts dispatch results by outcome.
type outcomes map[string]int

func (o outcomes) ObserveEvent(_, outcome string) { o[outcome]++ }
func (outcomes) MonitorOpened()                  {}
func (outcomes) MonitorClosed()                  {}

type replayer struct {
	id     string
	seed   deployment.Snapshot
	strict bool
	now    time.Time
	logger zerolog.Logger
}

// run feeds events through a fresh monitor whose clock is frozen at r.now, so
// events without timestamps resolve identically on every run.
func (r replayer) run(events [][]byte) (deployment.View, outcomes) {
	mock := clock.NewMock()
	mock.Add(r.now.Sub(mock.Now()))
	counts := outcomes{}

	m := deployment.NewMonitor(r.id, r.seed,
		deployment.WithLogger(r.logger),
		deployment.WithClock(mock),
		deployment.WithRecorder(counts),
		deployment.WithStrictProgress(r.strict),
	)
	defer m.Close()

	for _, ev := range events {
		m.HandleMessage(ev)
	}
	return m.View(), counts
}

// verifyIdempotent checks that replaying the log twice, as after a reconnect,
// ends in the same view as replaying it once.
func (r replayer) verifyIdempotent(events [][]byte) error {
	once, _ := r.run(events)
	twice, _ := r.run(append(append([][]byte{}, events...), events...))

	a, err := json.Marshal(once)
	if err != nil {
		return err
	}
	b, err := json.Marshal(twice)
	if err != nil {
		return err
	}
	if !bytes.Equal(a, b) {
		return fmt.Errorf("replaying twice diverged:\n once:  %s\n twice: %s", a, b)
	}
	return nil
}

// readEvents splits a JSON-lines log. Blank lines and lines starting with '#' are skipped.
func readEvents(in io.Reader) ([][]byte, error) {
	var events [][]byte
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		events = append(events, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}
