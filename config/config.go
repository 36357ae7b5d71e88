// Package config loads the settings of the chess command.
//
// Settings come from built-in defaults, then an optional YAML file, then
// environment variables. Flags are applied by the command afterwards and
// Validate runs last.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	wasmchess "github.com/wippyai/wasm-chess"
	"github.com/wippyai/wasm-chess/loader"
)

// LogLevelEnv overrides log.level.
const LogLevelEnv = "WASMCHESS_LOG_LEVEL"

// Isolation modes for the engine worker
const (
	IsolationGoroutine = "goroutine"
	IsolationProcess   = "process"
)

// Config is the complete configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Game    GameConfig    `yaml:"game"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type EngineConfig struct {
	Path             string `yaml:"path"`
	Isolation        string `yaml:"isolation" validate:"oneof=goroutine process"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" validate:"lte=65536"`
}

type GameConfig struct {
	HumanSide string `yaml:"human_side" validate:"oneof=white black"`
	StartFEN  string `yaml:"start_fen" validate:"omitempty,max=128"`
	Depth     int    `yaml:"depth" validate:"min=1,max=8"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	MaxGames int    `yaml:"max_games" validate:"min=1"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Isolation:        IsolationGoroutine,
			MemoryLimitPages: 256,
		},
		Game: GameConfig{
			HumanSide: "white",
			Depth:     3,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			MaxGames: 64,
		},
		Metrics: MetricsConfig{Enabled: true},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment settings using getenv, typically os.Getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(loader.EnvVar); v != "" {
		c.Engine.Path = v
	}
	if v := getenv(LogLevelEnv); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

var validate = validator.New()

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	var details strings.Builder
	for _, fe := range errs {
		if details.Len() > 0 {
			details.WriteString("; ")
		}
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			details.WriteString(fmt.Sprintf("%s is required", field))
		case "oneof":
			details.WriteString(fmt.Sprintf("%s must be one of [%s]", field, fe.Param()))
		case "min", "max", "lte":
			bound := map[string]string{"min": "at least", "max": "at most", "lte": "at most"}[fe.Tag()]
			if fe.Kind() == reflect.String {
				details.WriteString(fmt.Sprintf("%s must be %s %s characters", field, bound, fe.Param()))
			} else {
				details.WriteString(fmt.Sprintf("%s must be %s %s", field, bound, fe.Param()))
			}
		default:
			details.WriteString(fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", details.String())
}

// HumanSide returns the configured side of the human player.
func (c *Config) HumanSide() wasmchess.Side {
	if c.Game.HumanSide == "black" {
		return wasmchess.Black
	}
	return wasmchess.White
}

// StartPosition returns the configured start, or the standard one.
func (c *Config) StartPosition() wasmchess.Position {
	if c.Game.StartFEN == "" {
		return wasmchess.StartPosition
	}
	return wasmchess.Position(c.Game.StartFEN)
}

// Logger builds the zap logger described by the log section.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
