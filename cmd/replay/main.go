package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/imranansari/gh-deploy-monitor/deployment"
	"github.com/imranansari/gh-deploy-monitor/logging"
	"github.com/imranansari/gh-deploy-monitor/secrets"
)

func main() {
	var (
		id       = flag.String("id", "", "Deployment ID the log belongs to")
		seedPath = flag.String("seed", "", "Snapshot JSON file to seed the view from")
		strict   = flag.Bool("strict", false, "Drop stage progress that moves backwards")
		at       = flag.String("now", "", "RFC3339 time used for events without a timestamp (default: current time)")
		verify   = flag.Bool("verify-idempotent", false, "Fail unless replaying the log twice gives the same view")
		logLevel = flag.String("log-level", "warn", "Log level")
	)
	flag.Parse()

	logging.InitLoggerTo(os.Stderr, *logLevel, "console")

	if *id == "" {
		log.Fatal().Msg("-id is required")
	}

	r := replayer{
		id:     *id,
		strict: *strict,
		now:    time.Now().UTC(),
		logger: logging.MonitorLogger(*id),
	}
	if *at != "" {
		now, err := deployment.ParseTimestamp(*at)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -now")
		}
		r.now = now
	}
	if *seedPath != "" {
		data, err := secrets.LoadFromFile(*seedPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read seed")
		}
		if err := json.Unmarshal(data, &r.seed); err != nil {
			log.Fatal().Err(err).Msg("Failed to decode seed snapshot")
		}
	}

	var in io.Reader = os.Stdin
	if path := flag.Arg(0); path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open event log")
		}
		defer f.Close()
		in = f
	}

	events, err := readEvents(in)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read event log")
	}

	view, counts := r.run(events)
	log.Info().
		Int("events", len(events)).
		Int("applied", counts[deployment.OutcomeApplied]).
		Int("rejected", counts[deployment.OutcomeRejected]).
		Int("filtered", counts[deployment.OutcomeFiltered]).
		Int("ignored", counts[deployment.OutcomeIgnored]).
		Msg("Replay finished")

	if *verify {
		if err := r.verifyIdempotent(events); err != nil {
			log.Fatal().Err(err).Msg("Replay is not idempotent")
		}
		log.Info().Msg("Replay is idempotent")
	}

	out, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode view")
	}
	fmt.Println(string(out))
}
