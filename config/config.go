package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Motor      MotorConfig      `yaml:"motor"`
	Occupancy  OccupancyConfig  `yaml:"occupancy"`
	Reclaimer  ReclaimerConfig  `yaml:"reclaimer"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// MQTTConfig holds the broker connection settings for the device gateway.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// MotorConfig holds the desk motor control API settings.
type MotorConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Version        string `yaml:"version"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// OccupancyConfig holds the claim lifecycle tunables.
type OccupancyConfig struct {
	SittingThresholdCm  float64       `yaml:"sitting_threshold_cm"`
	CheckInEarlyMinutes int           `yaml:"check_in_early_minutes"`
	CheckInLateMinutes  int           `yaml:"check_in_late_minutes"`
	NoShowGraceMinutes  int           `yaml:"no_show_grace_minutes"`
	GatewayWaitSeconds  int           `yaml:"gateway_wait_seconds"`
	CheckInEarly        time.Duration `yaml:"-"`
	CheckInLate         time.Duration `yaml:"-"`
	NoShowGrace         time.Duration `yaml:"-"`
	GatewayWait         time.Duration `yaml:"-"`
}

// ReclaimerConfig holds the periodic sweep settings.
type ReclaimerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path and applies defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills unset fields with their defaults and derives the
// duration fields. Also used by tests to build valid configs from zero.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}
	if cfg.Motor.Version == "" {
		cfg.Motor.Version = "v2"
	}
	if cfg.Motor.TimeoutSeconds <= 0 {
		cfg.Motor.TimeoutSeconds = 5
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "deskhub-backend"
	}
	if cfg.Occupancy.SittingThresholdCm <= 0 {
		cfg.Occupancy.SittingThresholdCm = 95
	}
	if cfg.Occupancy.CheckInEarlyMinutes <= 0 {
		cfg.Occupancy.CheckInEarlyMinutes = 30
	}
	if cfg.Occupancy.CheckInLateMinutes <= 0 {
		cfg.Occupancy.CheckInLateMinutes = 10
	}
	if cfg.Occupancy.NoShowGraceMinutes <= 0 {
		cfg.Occupancy.NoShowGraceMinutes = 10
	}
	if cfg.Occupancy.GatewayWaitSeconds <= 0 {
		cfg.Occupancy.GatewayWaitSeconds = 3
	}
	cfg.Occupancy.CheckInEarly = time.Duration(cfg.Occupancy.CheckInEarlyMinutes) * time.Minute
	cfg.Occupancy.CheckInLate = time.Duration(cfg.Occupancy.CheckInLateMinutes) * time.Minute
	cfg.Occupancy.NoShowGrace = time.Duration(cfg.Occupancy.NoShowGraceMinutes) * time.Minute
	cfg.Occupancy.GatewayWait = time.Duration(cfg.Occupancy.GatewayWaitSeconds) * time.Second

	if cfg.Reclaimer.IntervalSeconds <= 0 {
		cfg.Reclaimer.IntervalSeconds = 30
	}
	cfg.Reclaimer.Interval = time.Duration(cfg.Reclaimer.IntervalSeconds) * time.Second

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}
	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
}
