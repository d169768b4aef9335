// Command match-controller is the arena's authoritative daemon.
//
// It admits registrations, fans heartbeats out to every node, runs the
// match state machine and the scoreboard, and optionally bridges arena
// telemetry to an MQTT broker.
//
// Usage:
//
//	match-controller -config /etc/taglink/controller.yaml
//	match-controller -listen :6000 -scoreboard :8080
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

	"github.com/opentag/taglink/pkg/config"
	"github.com/opentag/taglink/pkg/controller"
	"github.com/opentag/taglink/pkg/match"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	listen := flag.String("listen", "", "UDP bind address (overrides config)")
	scoreboard := flag.String("scoreboard", "", "scoreboard HTTP bind address (overrides config)")
	broker := flag.String("broker", "", "MQTT broker URL for telemetry (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Str("role", "controller").Logger()
	if !*debug {
		log = log.Level(zerolog.InfoLevel)
	}

	sc := &config.ControllerConfig{}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		if cfg.Controller == nil {
			log.Fatal().Str("path", *configPath).Msg("config has no controller section")
		}
		sc = cfg.Controller
	}
	if *listen != "" {
		sc.Listen = *listen
	}
	if *scoreboard != "" {
		sc.ScoreboardListen = *scoreboard
	}
	if *broker != "" {
		sc.MQTTBroker = *broker
	}
	config.ApplyDefaults(&config.Config{Controller: sc})

	s := controller.New(controller.Config{
		Listen:       sc.Listen,
		Heartbeat:    time.Duration(sc.HeartbeatSec * float64(time.Second)),
		LinkTimeout:  time.Duration(sc.LinkTimeoutSec * float64(time.Second)),
		PollInterval: time.Duration(sc.PollSec * float64(time.Second)),
		Match: match.Config{
			Duration:      time.Duration(sc.MatchDurationSec) * time.Second,
			DisableWindow: time.Duration(sc.DisableSec * float64(time.Second)),
			PointsPerHit:  sc.PointsPerHit,
		},
		BrokerURL:     sc.MQTTBroker,
		BrokerClient:  sc.MQTTClientID,
		ScoreboardAdr: sc.ScoreboardListen,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("run")
	}
	log.Info().Msg("match controller stopped")
}
