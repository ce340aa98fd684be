// Package config loads server configuration in ascending precedence:
// compiled-in defaults, an optional config.yaml, .env, environment
// variables, then CLI flags — mirroring the layered config idiom pulled
// from the party-game CLI tooling in the retrieval pack.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every knob the arena server needs at boot.
type Config struct {
	Addr                string        `mapstructure:"addr"`
	TickRate            time.Duration `mapstructure:"tick_rate"`
	CountdownDuration   time.Duration `mapstructure:"countdown_duration"`
	ReconnectWindow     time.Duration `mapstructure:"reconnect_window"`
	SessionSweepEvery   time.Duration `mapstructure:"session_sweep_interval"`
	SessionArchiveTTL   time.Duration `mapstructure:"session_archive_ttl"`
	RedisAddr           string        `mapstructure:"redis_addr"`
	RedisDB             int           `mapstructure:"redis_db"`
	MaxReplaysPerUser   int           `mapstructure:"max_replays_per_user"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFormat           string        `mapstructure:"log_format"`
	ConfigFile          string        `mapstructure:"-"`
}

// Defaults returns the compiled-in baseline, matching spec §6's constants.
func Defaults() Config {
	return Config{
		Addr:              ":8080",
		TickRate:          200 * time.Millisecond,
		CountdownDuration: 5 * time.Second,
		ReconnectWindow:   60 * time.Second,
		SessionSweepEvery: 1 * time.Minute,
		SessionArchiveTTL: 120 * time.Second,
		RedisAddr:         "localhost:6379",
		RedisDB:           0,
		MaxReplaysPerUser: 50,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Load builds a Config from defaults, an optional YAML file, .env,
// environment variables (ARENA_ prefix) and the given flag set, in that
// ascending precedence order.
func Load(flags *pflag.FlagSet) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	def := Defaults()
	v.SetDefault("addr", def.Addr)
	v.SetDefault("tick_rate", def.TickRate)
	v.SetDefault("countdown_duration", def.CountdownDuration)
	v.SetDefault("reconnect_window", def.ReconnectWindow)
	v.SetDefault("session_sweep_interval", def.SessionSweepEvery)
	v.SetDefault("session_archive_ttl", def.SessionArchiveTTL)
	v.SetDefault("redis_addr", def.RedisAddr)
	v.SetDefault("redis_db", def.RedisDB)
	v.SetDefault("max_replays_per_user", def.MaxReplaysPerUser)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("log_format", def.LogFormat)

	if cfgFile, _ := flags.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	v.SetEnvPrefix("ARENA")
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("failed to bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// RegisterFlags attaches the CLI flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Defaults()
	fs.String("addr", def.Addr, "listen address")
	fs.Duration("tick_rate", def.TickRate, "simulation tick cadence")
	fs.Duration("countdown_duration", def.CountdownDuration, "lobby starting countdown")
	fs.Duration("reconnect_window", def.ReconnectWindow, "reconnect grace period")
	fs.Duration("session_sweep_interval", def.SessionSweepEvery, "session archive sweep cadence")
	fs.Duration("session_archive_ttl", def.SessionArchiveTTL, "max age of a disconnected session archive")
	fs.String("redis_addr", def.RedisAddr, "redis address for replay/session storage")
	fs.Int("redis_db", def.RedisDB, "redis logical db index")
	fs.Int("max_replays_per_user", def.MaxReplaysPerUser, "retained replay count per user")
	fs.String("log_level", def.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log_format", def.LogFormat, "log format (text, json)")
	fs.String("config", "", "optional path to a YAML config file")
}
