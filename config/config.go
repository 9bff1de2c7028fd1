// Package config loads e-router settings from the environment and the
// function table from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"e-router/codec"
	"e-router/loadbalance"
)

// Config holds the environment driven configuration shared by the erouter
// commands. Command-line flags override individual fields.
type Config struct {
	ListenAddr      string        `env:"EROUTER_LISTEN_ADDR" envDefault:":7000"`
	AdminAddr       string        `env:"EROUTER_ADMIN_ADDR" envDefault:":7080"`
	FunctionsFile   string        `env:"EROUTER_FUNCTIONS_FILE"`
	Policy          string        `env:"EROUTER_POLICY" envDefault:"round_robin"`
	Codec           string        `env:"EROUTER_CODEC" envDefault:"json"`
	ForwardTimeout  time.Duration `env:"EROUTER_FORWARD_TIMEOUT" envDefault:"30s"`
	RateLimit       float64       `env:"EROUTER_RATE_LIMIT" envDefault:"0"`
	RateBurst       int           `env:"EROUTER_RATE_BURST" envDefault:"100"`
	ReportInterval  time.Duration `env:"EROUTER_REPORT_INTERVAL" envDefault:"10s"`
	EtcdEndpoints   []string      `env:"EROUTER_ETCD_ENDPOINTS" envSeparator:","`
	PoolSize        int           `env:"EROUTER_POOL_SIZE" envDefault:"2"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"console"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that have a closed set of values and clamps
// the numeric ones.
func (c *Config) Validate() error {
	switch c.Policy {
	case "", loadbalance.PolicyRoundRobin, loadbalance.PolicyWeightedRandom, loadbalance.PolicyConsistentHash:
	default:
		return fmt.Errorf("EROUTER_POLICY: unknown policy %q", c.Policy)
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		return fmt.Errorf("EROUTER_CODEC: %w", err)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("EROUTER_RATE_LIMIT must not be negative")
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 1
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return nil
}

// CodecType returns the wire codec named by Codec.
func (c *Config) CodecType() codec.CodecType {
	ct, _ := codec.ParseCodecType(c.Codec)
	return ct
}
