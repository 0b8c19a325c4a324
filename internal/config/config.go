package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models wordmint.yml.
type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	AMQP struct {
		URL string `yaml:"url"`
	} `yaml:"amqp"`
	Platform struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
	} `yaml:"platform"`
	Words struct {
		DBPath string `yaml:"db_path"`
	} `yaml:"words"`
	Notify struct {
		TargetHour       int    `yaml:"target_hour"`
		TargetMinute     int    `yaml:"target_minute"`
		FallbackZone     string `yaml:"fallback_zone"`
		BatchSize        int    `yaml:"batch_size"`
		ResolveLimit     int    `yaml:"resolve_limit"`
		SweepIntervalSec int    `yaml:"sweep_interval_sec"`
		SweepLimit       int64  `yaml:"sweep_limit"`
		ReserveTTLMin    int    `yaml:"reserve_ttl_min"`
	} `yaml:"notify"`
}

var zoneIDRe = regexp.MustCompile(`^[A-Za-z_]+(/[A-Za-z0-9_+\-]+)*$`)

// Load reads and validates config from a file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses, applies defaults, and validates config from raw bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the config with every knob at its default.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v0"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Words.DBPath = "wordmint-words.db"
	cfg.Notify.TargetHour = 9
	cfg.Notify.TargetMinute = 0
	cfg.Notify.FallbackZone = "America/New_York"
	cfg.Notify.BatchSize = 100
	cfg.Notify.ResolveLimit = 1000
	cfg.Notify.SweepIntervalSec = 60
	cfg.Notify.SweepLimit = 100
	cfg.Notify.ReserveTTLMin = 10
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("config.redis.addr is required")
	}
	if c.Notify.TargetHour < 0 || c.Notify.TargetHour > 23 {
		return fmt.Errorf("config.notify.target_hour must be 0..23")
	}
	if c.Notify.TargetMinute < 0 || c.Notify.TargetMinute > 59 {
		return fmt.Errorf("config.notify.target_minute must be 0..59")
	}
	if c.Notify.FallbackZone == "" || !zoneIDRe.MatchString(c.Notify.FallbackZone) {
		return fmt.Errorf("config.notify.fallback_zone must be an IANA zone id")
	}
	if _, err := time.LoadLocation(c.Notify.FallbackZone); err != nil {
		return fmt.Errorf("config.notify.fallback_zone: %w", err)
	}
	if c.Notify.BatchSize <= 0 {
		return fmt.Errorf("config.notify.batch_size must be positive")
	}
	if c.Notify.ResolveLimit <= 0 {
		return fmt.Errorf("config.notify.resolve_limit must be positive")
	}
	if c.Notify.SweepIntervalSec <= 0 {
		return fmt.Errorf("config.notify.sweep_interval_sec must be positive")
	}
	return nil
}

// SweepInterval returns the sweep period as a duration.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Notify.SweepIntervalSec) * time.Second
}

// ReserveTTL returns the daily reservation TTL as a duration.
func (c *Config) ReserveTTL() time.Duration {
	return time.Duration(c.Notify.ReserveTTLMin) * time.Minute
}
