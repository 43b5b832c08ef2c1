// Package config loads server settings from defaults, an optional file,
// CUBE4_* environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cameroncuttingedge/cube_four/ai"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CUBE4"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	Events    EventsConfig    `mapstructure:"events"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Local     LocalConfig     `mapstructure:"local"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	ToFile bool   `mapstructure:"to_file"`
	File   string `mapstructure:"file"`
}

type RoomsConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	CodeLength    int           `mapstructure:"code_length"`
}

type EventsConfig struct {
	RecheckInterval   time.Duration   `mapstructure:"recheck_interval"`
	StartedRedelivery []time.Duration `mapstructure:"started_redelivery"`
	SendBuffer        int             `mapstructure:"send_buffer"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// LocalConfig drives terminal play instead of the server.
type LocalConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Difficulty string `mapstructure:"difficulty"`
	// Opponent is "ai" or "human".
	Opponent string `mapstructure:"opponent"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.to_file", false)
	v.SetDefault("logging.file", "cube4.log")

	v.SetDefault("rooms.idle_timeout", 30*time.Minute)
	v.SetDefault("rooms.sweep_interval", time.Minute)
	v.SetDefault("rooms.code_length", 6)

	v.SetDefault("events.recheck_interval", time.Second)
	v.SetDefault("events.started_redelivery", []string{"0s", "200ms", "500ms"})
	v.SetDefault("events.send_buffer", 32)

	v.SetDefault("ratelimit.rps", 10.0)
	v.SetDefault("ratelimit.burst", 20)

	v.SetDefault("local.enabled", false)
	v.SetDefault("local.difficulty", "normal")
	v.SetDefault("local.opponent", "ai")
}

// Flags declares the command-line flags Load understands.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("cube4", pflag.ContinueOnError)
	fs.String("config", "", "path to a config file (yaml, json or toml)")
	fs.String("addr", ":8080", "listen address")
	fs.Bool("local", false, "play in the terminal instead of serving")
	fs.String("difficulty", "normal", "computer difficulty for local play: easy, normal or hard")
	fs.String("opponent", "ai", "local opponent: ai or human")
	fs.String("log-level", "info", "log level")
	return fs
}

var flagKeys = map[string]string{
	"addr":       "server.address",
	"local":      "local.enabled",
	"difficulty": "local.difficulty",
	"opponent":   "local.opponent",
	"log-level":  "logging.level",
}

// Load builds the configuration. fs may be nil; only flags the user set override
// file and environment values.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read config %s: %w", f.Value.String(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is empty"))
	}
	if c.Rooms.IdleTimeout <= 0 {
		errs = append(errs, errors.New("rooms.idle_timeout must be positive"))
	}
	if c.Rooms.SweepInterval <= 0 {
		errs = append(errs, errors.New("rooms.sweep_interval must be positive"))
	}
	if c.Rooms.CodeLength < 4 || c.Rooms.CodeLength > 12 {
		errs = append(errs, fmt.Errorf("rooms.code_length %d out of range 4-12", c.Rooms.CodeLength))
	}
	for _, d := range c.Events.StartedRedelivery {
		if d < 0 {
			errs = append(errs, fmt.Errorf("events.started_redelivery has negative delay %s", d))
		}
	}
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("ratelimit.rps and ratelimit.burst must be positive"))
	}
	if _, err := ai.ParseDifficulty(c.Local.Difficulty); err != nil {
		errs = append(errs, fmt.Errorf("local.difficulty: %w", err))
	}
	switch c.Local.Opponent {
	case "ai", "human":
	default:
		errs = append(errs, fmt.Errorf("local.opponent %q must be ai or human", c.Local.Opponent))
	}
	return errors.Join(errs...)
}
