// Command robot-agent is the robot-side daemon.
//
// It serves control datagrams from the paired operator console, enforces
// the emitter cooldown and disable windows, registers with the match
// controller, and starts the video pipeline toward the console once its
// address is learned from traffic.
//
// Usage:
//
//	robot-agent -config /etc/taglink/robot.yaml
//	robot-agent -id 1 -controller 10.0.0.1:6000
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentag/taglink/pkg/config"
	"github.com/opentag/taglink/pkg/protocol"
	"github.com/opentag/taglink/pkg/robot"
	"github.com/opentag/taglink/pkg/stream"
	"github.com/opentag/taglink/pkg/transport"
)

// logActuator stands in for the motor and emitter drivers. A deployment
// links a GPIO-backed implementation here.
type logActuator struct {
	log zerolog.Logger
}

func (a *logActuator) Drive(vx, vy, omega, speed float64) {
	a.log.Debug().Float64("vx", vx).Float64("vy", vy).Float64("omega", omega).Float64("speed", speed).Msg("drive")
}

func (a *logActuator) Stop() {
	a.log.Debug().Msg("stop")
}

func (a *logActuator) Fire(nodeID int) {
	a.log.Info().Int("node_id", nodeID).Msg("fire")
}

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	id := flag.Int("id", 0, "node id (overrides config)")
	controller := flag.String("controller", "", "match controller address (overrides config)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Str("role", "robot").Logger()
	if !*debug {
		log = log.Level(zerolog.InfoLevel)
	}

	rc := &config.RobotConfig{}
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		if cfg.Robot == nil {
			log.Fatal().Str("path", *configPath).Msg("config has no robot section")
		}
		rc = cfg.Robot
	}
	if *id != 0 {
		rc.NodeID = *id
	}
	if *controller != "" {
		rc.ControllerAddr = *controller
	}
	config.ApplyDefaults(&config.Config{Robot: rc})
	if err := config.Validate(config.Config{Robot: rc}); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	controllerAddr, err := resolve(rc.ControllerAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("resolve controller")
	}

	blob, _ := json.Marshal(rc)
	cfg := robot.Config{
		NodeID:         rc.NodeID,
		DisplayName:    rc.DisplayName,
		ListenPort:     rc.ListenPort,
		ControllerAddr: controllerAddr,
		Cooldown:       secs(rc.CooldownSec),
		DisableWindow:  secs(config.DefaultDisableSec),
		CommandTimeout: secs(rc.CommandTimeoutSec),
		LinkTimeout:    secs(rc.LinkTimeoutSec),
		PollInterval:   secs(rc.PollSec),
		RegisterEvery:  secs(rc.RegisterSec),
		ConfigBlob:     blob,
	}

	pipeline := stream.NewExecPipeline(pipelineCommand(rc.VideoPipeline))
	// The operator destination is learned from traffic; the controller's
	// video port is derived from node identity and fixed from the start.
	extra := []netip.AddrPort{protocol.VideoDest(controllerAddr.Addr(), rc.NodeID)}
	streams := stream.NewCoordinator(pipeline, protocol.VideoPort(rc.NodeID), extra, log)

	agent := robot.New(cfg, &logActuator{log: log}, streams, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("run")
	}
	log.Info().Msg("robot agent stopped")
}

// pipelineCommand renders the configured pipeline template, substituting
// the destination list for {dests} as comma-separated host:port pairs.
// An empty template falls back to a no-op placeholder so the agent can run
// without camera hardware.
func pipelineCommand(template string) stream.CommandBuilder {
	return func(dests []netip.AddrPort) *exec.Cmd {
		if template == "" {
			return exec.Command("sleep", "infinity")
		}
		rendered := strings.ReplaceAll(template, "{dests}", joinDests(dests))
		return exec.Command("sh", "-c", rendered)
	}
}

func joinDests(dests []netip.AddrPort) string {
	parts := make([]string, len(dests))
	for i, d := range dests {
		parts[i] = d.String()
	}
	return strings.Join(parts, ",")
}

func resolve(addr string) (netip.AddrPort, error) {
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, protocol.ControllerPort)
	}
	return transport.ResolveAddrPort(addr)
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
