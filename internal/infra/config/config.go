package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Session SessionConfig `mapstructure:"session"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	ListenAddr   string `mapstructure:"listen_addr"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// MonitorConfig configures the sweep scheduler and adapter calls.
type MonitorConfig struct {
	SweepInterval  int `mapstructure:"sweep_interval"`  // seconds between sweeps
	AdapterTimeout int `mapstructure:"adapter_timeout"` // seconds per adapter call
	MaxRetries     int `mapstructure:"max_retries"`     // retries per adapter call
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
	LogCapacity    int `mapstructure:"log_capacity"`     // notification log ring size per watcher
	HistoryLength  int `mapstructure:"history_length"`   // value history ring size per watcher
	ChartsDir      string `mapstructure:"charts_dir"`
	UpstreamURL    string `mapstructure:"upstream_url"` // base URL of the sample provider
}

// SessionConfig configures bot session behaviour.
type SessionConfig struct {
	TeardownGrace  int     `mapstructure:"teardown_grace"`   // seconds before an empty session is closed
	SendRate       float64 `mapstructure:"send_rate"`        // messages per second per session
	SendBurst      int     `mapstructure:"send_burst"`
	UpdateTimeout  int     `mapstructure:"update_timeout"`   // long-poll timeout in seconds
}

// LoadConfig loads configuration with the usual layering:
// 1. defaults
// 2. config.yaml
// 3. .env file
// 4. environment aliases and pflags
func LoadConfig() (*Config, error) {
	// Load .env via godotenv first so plain env lookups see it
	godotenv.Load(".env")

	v := viper.New()

	setDefaults(v)

	// config.yaml is optional
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.ReadInConfig()

	// .env overrides yaml when present
	v.SetConfigType("env")
	v.SetConfigFile(".env")
	v.ReadInConfig()

	v.AutomaticEnv()

	setupEnvAliases(v)

	setupFlags(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setupEnvAliases(v *viper.Viper) {
	// WATCHER_LISTEN_ADDR -> server.listen_addr, etc.
	v.BindEnv("server.listen_addr", "WATCHER_LISTEN_ADDR")
	v.BindEnv("server.read_timeout", "WATCHER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "WATCHER_WRITE_TIMEOUT")

	v.BindEnv("monitor.sweep_interval", "WATCHER_SWEEP_INTERVAL")
	v.BindEnv("monitor.adapter_timeout", "WATCHER_ADAPTER_TIMEOUT")
	v.BindEnv("monitor.max_retries", "WATCHER_MAX_RETRIES")
	v.BindEnv("monitor.worker_pool_size", "WATCHER_WORKER_POOL_SIZE")
	v.BindEnv("monitor.log_capacity", "WATCHER_LOG_CAPACITY")
	v.BindEnv("monitor.history_length", "WATCHER_HISTORY_LENGTH")
	v.BindEnv("monitor.charts_dir", "WATCHER_CHARTS_DIR")
	v.BindEnv("monitor.upstream_url", "WATCHER_UPSTREAM_URL")

	v.BindEnv("session.teardown_grace", "WATCHER_SESSION_TEARDOWN_GRACE")
	v.BindEnv("session.send_rate", "WATCHER_SESSION_SEND_RATE")
	v.BindEnv("session.send_burst", "WATCHER_SESSION_SEND_BURST")
	v.BindEnv("session.update_timeout", "WATCHER_SESSION_UPDATE_TIMEOUT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8085")
	v.SetDefault("server.read_timeout", 15)
	v.SetDefault("server.write_timeout", 15)

	v.SetDefault("monitor.sweep_interval", 30)
	v.SetDefault("monitor.adapter_timeout", 10)
	v.SetDefault("monitor.max_retries", 2)
	v.SetDefault("monitor.worker_pool_size", 8)
	v.SetDefault("monitor.log_capacity", 100)
	v.SetDefault("monitor.history_length", 48)
	v.SetDefault("monitor.charts_dir", "charts")
	v.SetDefault("monitor.upstream_url", "http://localhost:9090")

	v.SetDefault("session.teardown_grace", 30)
	v.SetDefault("session.send_rate", 1.0) // Telegram allows ~1 msg/s per chat
	v.SetDefault("session.send_burst", 4)
	v.SetDefault("session.update_timeout", 60)
}

var flagsOnce = false

func setupFlags(v *viper.Viper) {
	if flagsOnce {
		v.BindPFlags(pflag.CommandLine)
		return
	}
	flagsOnce = true

	pflag.String("server.listen_addr", ":8085", "HTTP listen address (env: WATCHER_LISTEN_ADDR)")
	pflag.Int("server.read_timeout", 15, "HTTP read timeout in seconds (env: WATCHER_READ_TIMEOUT)")
	pflag.Int("server.write_timeout", 15, "HTTP write timeout in seconds (env: WATCHER_WRITE_TIMEOUT)")

	pflag.Int("monitor.sweep_interval", 30, "Seconds between scheduler sweeps (env: WATCHER_SWEEP_INTERVAL)")
	pflag.Int("monitor.adapter_timeout", 10, "Per-adapter call timeout in seconds (env: WATCHER_ADAPTER_TIMEOUT)")
	pflag.Int("monitor.max_retries", 2, "Max retries per adapter call (env: WATCHER_MAX_RETRIES)")
	pflag.Int("monitor.worker_pool_size", 8, "Concurrent adapter fetches per sweep (env: WATCHER_WORKER_POOL_SIZE)")
	pflag.Int("monitor.log_capacity", 100, "Notification log entries kept per watcher (env: WATCHER_LOG_CAPACITY)")
	pflag.Int("monitor.history_length", 48, "Reconciled values kept per watcher for charts (env: WATCHER_HISTORY_LENGTH)")
	pflag.String("monitor.charts_dir", "charts", "Directory for rendered chart files (env: WATCHER_CHARTS_DIR)")
	pflag.String("monitor.upstream_url", "http://localhost:9090", "Base URL of the sample provider (env: WATCHER_UPSTREAM_URL)")

	pflag.Int("session.teardown_grace", 30, "Seconds before an empty bot session is closed (env: WATCHER_SESSION_TEARDOWN_GRACE)")
	pflag.Float64("session.send_rate", 1.0, "Messages per second per bot session (env: WATCHER_SESSION_SEND_RATE)")
	pflag.Int("session.send_burst", 4, "Send burst per bot session (env: WATCHER_SESSION_SEND_BURST)")
	pflag.Int("session.update_timeout", 60, "Telegram long-poll timeout in seconds (env: WATCHER_SESSION_UPDATE_TIMEOUT)")

	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)
}

func validateConfig(cfg *Config) error {
	if cfg.Monitor.SweepInterval <= 0 {
		return fmt.Errorf("monitor.sweep_interval must be positive, got %d", cfg.Monitor.SweepInterval)
	}
	if cfg.Monitor.WorkerPoolSize <= 0 {
		return fmt.Errorf("monitor.worker_pool_size must be positive, got %d", cfg.Monitor.WorkerPoolSize)
	}
	if cfg.Session.SendRate <= 0 {
		return fmt.Errorf("session.send_rate must be positive, got %f", cfg.Session.SendRate)
	}
	return nil
}
