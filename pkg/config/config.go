// Package config loads the per-node YAML configuration. A file holds the
// section for the node role it configures; shared timing knobs default to
// the reference values used across the arena.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/opentag/taglink/pkg/protocol"
)

const (
	DefaultHeartbeatSec    = 1.0
	DefaultLinkTimeoutSec  = 10.0 // 10x the heartbeat period
	DefaultPollSec         = 1.0
	DefaultRegisterSec     = 5.0
	DefaultCooldownSec     = 2.0
	DefaultDisableSec      = 10.0
	DefaultMatchSec        = 120
	DefaultPointsPerHit    = 100
	DefaultIntentHz        = 50.0
	DefaultCommandTimeoutS = 0.8
)

// Config holds the sections for all three node roles; a deployment file
// usually carries exactly one.
type Config struct {
	Robot      *RobotConfig      `yaml:"robot,omitempty"`
	Console    *ConsoleConfig    `yaml:"console,omitempty"`
	Controller *ControllerConfig `yaml:"controller,omitempty"`
}

// RobotConfig configures the robot agent.
type RobotConfig struct {
	NodeID            int     `yaml:"node_id"`
	DisplayName       string  `yaml:"display_name"`
	ListenPort        int     `yaml:"listen_port"`
	ControllerAddr    string  `yaml:"controller_addr"`
	CooldownSec       float64 `yaml:"cooldown_sec"`
	CommandTimeoutSec float64 `yaml:"command_timeout_sec"`
	LinkTimeoutSec    float64 `yaml:"link_timeout_sec"`
	PollSec           float64 `yaml:"poll_sec"`
	RegisterSec       float64 `yaml:"register_sec"`
	VideoPipeline     string  `yaml:"video_pipeline"`
}

// ConsoleConfig configures the operator console.
type ConsoleConfig struct {
	NodeID         int     `yaml:"node_id"`
	DisplayName    string  `yaml:"display_name"`
	ListenPort     int     `yaml:"listen_port"`
	RobotAddr      string  `yaml:"robot_addr"`
	ControllerAddr string  `yaml:"controller_addr"`
	IntentHz       float64 `yaml:"intent_hz"`
	CooldownSec    float64 `yaml:"cooldown_sec"` // advisory mirror of the robot's cooldown
	LinkTimeoutSec float64 `yaml:"link_timeout_sec"`
	PollSec        float64 `yaml:"poll_sec"`
	RegisterSec    float64 `yaml:"register_sec"`
}

// ControllerConfig configures the match controller.
type ControllerConfig struct {
	Listen           string  `yaml:"listen"`
	HeartbeatSec     float64 `yaml:"heartbeat_sec"`
	LinkTimeoutSec   float64 `yaml:"link_timeout_sec"`
	PollSec          float64 `yaml:"poll_sec"`
	MatchDurationSec int     `yaml:"match_duration_sec"`
	DisableSec       float64 `yaml:"disable_sec"`
	PointsPerHit     int     `yaml:"points_per_hit"`
	ScoreboardListen string  `yaml:"scoreboard_listen"`
	MQTTBroker       string  `yaml:"mqtt_broker"`
	MQTTClientID     string  `yaml:"mqtt_client_id"`
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate performs minimal validation for required fields.
func Validate(cfg Config) error {
	if cfg.Robot == nil && cfg.Console == nil && cfg.Controller == nil {
		return fmt.Errorf("config must contain a robot, console, or controller section")
	}
	if cfg.Robot != nil {
		if cfg.Robot.NodeID <= 0 {
			return fmt.Errorf("robot.node_id is required")
		}
		if cfg.Robot.ControllerAddr == "" {
			return fmt.Errorf("robot.controller_addr is required")
		}
	}
	if cfg.Console != nil {
		if cfg.Console.NodeID <= 0 {
			return fmt.Errorf("console.node_id is required")
		}
		if cfg.Console.RobotAddr == "" {
			return fmt.Errorf("console.robot_addr is required")
		}
		if cfg.Console.ControllerAddr == "" {
			return fmt.Errorf("console.controller_addr is required")
		}
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if r := cfg.Robot; r != nil {
		if r.ListenPort == 0 && r.NodeID > 0 {
			r.ListenPort = protocol.RobotPort(r.NodeID)
		}
		if r.CooldownSec == 0 {
			r.CooldownSec = DefaultCooldownSec
		}
		if r.CommandTimeoutSec == 0 {
			r.CommandTimeoutSec = DefaultCommandTimeoutS
		}
		if r.LinkTimeoutSec == 0 {
			r.LinkTimeoutSec = DefaultLinkTimeoutSec
		}
		if r.PollSec == 0 {
			r.PollSec = DefaultPollSec
		}
		if r.RegisterSec == 0 {
			r.RegisterSec = DefaultRegisterSec
		}
	}

	if c := cfg.Console; c != nil {
		if c.ListenPort == 0 && c.NodeID > 0 {
			c.ListenPort = protocol.ConsolePort(c.NodeID)
		}
		if c.IntentHz == 0 {
			c.IntentHz = DefaultIntentHz
		}
		if c.CooldownSec == 0 {
			c.CooldownSec = DefaultCooldownSec
		}
		if c.LinkTimeoutSec == 0 {
			c.LinkTimeoutSec = DefaultLinkTimeoutSec
		}
		if c.PollSec == 0 {
			c.PollSec = DefaultPollSec
		}
		if c.RegisterSec == 0 {
			c.RegisterSec = DefaultRegisterSec
		}
	}

	if s := cfg.Controller; s != nil {
		if s.Listen == "" {
			s.Listen = fmt.Sprintf(":%d", protocol.ControllerPort)
		}
		if s.HeartbeatSec == 0 {
			s.HeartbeatSec = DefaultHeartbeatSec
		}
		if s.LinkTimeoutSec == 0 {
			s.LinkTimeoutSec = DefaultLinkTimeoutSec
		}
		if s.PollSec == 0 {
			s.PollSec = DefaultPollSec
		}
		if s.MatchDurationSec == 0 {
			s.MatchDurationSec = DefaultMatchSec
		}
		if s.DisableSec == 0 {
			s.DisableSec = DefaultDisableSec
		}
		if s.PointsPerHit == 0 {
			s.PointsPerHit = DefaultPointsPerHit
		}
	}
}
