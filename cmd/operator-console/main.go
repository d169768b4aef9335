// Command operator-console is the operator-side daemon.
//
// It streams control intents to its paired robot at a fixed rate,
// registers with the match controller, and mirrors match broadcasts on
// the terminal. Operator input comes from an input provider; the built-in
// one idles, and a deployment wires a gamepad or keyboard reader.
//
// Usage:
//
//	operator-console -config /etc/taglink/console.yaml
//	operator-console -id 1 -robot 10.0.0.11:5201 -controller 10.0.0.1:6000
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
	"github.com/opentag/taglink/pkg/console"
	"github.com/opentag/taglink/pkg/transport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	id := flag.Int("id", 0, "node id (overrides config)")
	robotAddr := flag.String("robot", "", "paired robot address (overrides config)")
	controller := flag.String("controller", "", "match controller address (overrides config)")
	autoReady := flag.Bool("auto-ready", false, "answer ready checks without waiting for the operator")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Str("role", "console").Logger()
	if !*debug {
		log = log.Level(zerolog.InfoLevel)
	}

	cc := &config.ConsoleConfig{}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		if cfg.Console == nil {
			log.Fatal().Str("path", *configPath).Msg("config has no console section")
		}
		cc = cfg.Console
	}
	if *id != 0 {
		cc.NodeID = *id
	}
	if *robotAddr != "" {
		cc.RobotAddr = *robotAddr
	}
	if *controller != "" {
		cc.ControllerAddr = *controller
	}
	config.ApplyDefaults(&config.Config{Console: cc})
	if err := config.Validate(config.Config{Console: cc}); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	robot, err := transport.ResolveAddrPort(cc.RobotAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve robot")
	}
	ctrl, err := transport.ResolveAddrPort(cc.ControllerAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve controller")
	}

	// In production this reads a gamepad; the default provider idles.
	input := func() console.Intent { return console.Intent{} }

	c := console.New(console.Config{
		NodeID:           cc.NodeID,
		DisplayName:      cc.DisplayName,
		ListenPort:       cc.ListenPort,
		RobotAddr:        robot,
		ControllerAddr:   ctrl,
		IntentHz:         cc.IntentHz,
		AdvisoryCooldown: time.Duration(cc.CooldownSec * float64(time.Second)),
		LinkTimeout:      time.Duration(cc.LinkTimeoutSec * float64(time.Second)),
		PollInterval:     time.Duration(cc.PollSec * float64(time.Second)),
		RegisterEvery:    time.Duration(cc.RegisterSec * float64(time.Second)),
	}, input, log)

	if *autoReady {
		c.SetReady(true)
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for range ticker.C {
				if c.Status().AwaitingReady {
					c.SetReady(true)
				}
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("run")
	}
	log.Info().Msg("operator console stopped")
}
