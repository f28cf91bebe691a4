// Package config provides relay configuration loaded from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/morezero/message-relay/pkg/bootstrap"
	"github.com/morezero/message-relay/pkg/classify"
)

const logPrefix = "config:LoadConfig"

// Config holds message-relay configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"message-relay"`
	// COMMSNkeySeed authenticates to COMMS with an nkey user seed.
	COMMSNkeySeed string `envconfig:"COMMS_NKEY_SEED"`

	RelaySubject      string `envconfig:"RELAY_SUBJECT" default:"relay.dispatch.v1"`
	EvaluationSubject string `envconfig:"EVALUATION_SUBJECT" default:"relay.evaluations"`

	// Timeouts
	RequestTimeout  time.Duration `envconfig:"RELAY_REQUEST_TIMEOUT" default:"60s"`
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"30s"`

	// Bootstrap topology file (JSON, YAML or TOML)
	BootstrapFile string `envconfig:"RELAY_BOOTSTRAP_FILE"`

	// Database. Empty DATABASE_URL keeps classifications in memory.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP health and metrics endpoint (RELAY_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr           string        `envconfig:"RELAY_HTTP_ADDR"`
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// Upstreams. Empty values fall back to the bootstrap topology.
	GatewayURL          string   `envconfig:"GATEWAY_URL"`
	UploaderURL         string   `envconfig:"UPLOADER_URL"`
	SchedulerRouterURL  string   `envconfig:"SCHEDULER_ROUTER_URL"`
	CUURLs              []string `envconfig:"CU_URLS"`
	CUVersionConstraint string   `envconfig:"CU_VERSION_CONSTRAINT"`
	// GatewayProbeRate caps ledger existence probes per second; 0 is unlimited.
	GatewayProbeRate float64 `envconfig:"GATEWAY_PROBE_RATE" default:"0"`

	// Signing
	SignerSeed string `envconfig:"SIGNER_SEED"`

	// Classification probe
	ProbeMaxAttempts int           `envconfig:"PROBE_MAX_ATTEMPTS" default:"6"`
	ProbeDelay       time.Duration `envconfig:"PROBE_DELAY" default:"500ms"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyTopology fills upstream settings left empty in the environment from the topology.
func (c *Config) ApplyTopology(rt *bootstrap.ResolvedTopology) {
	ep := rt.Endpoints()
	if c.GatewayURL == "" {
		c.GatewayURL = ep.Gateway
	}
	if c.UploaderURL == "" {
		c.UploaderURL = ep.Uploader
	}
	if c.SchedulerRouterURL == "" {
		c.SchedulerRouterURL = ep.SchedulerRouter
	}
	if len(c.CUURLs) == 0 {
		c.CUURLs = rt.ComputeUnitURLs()
	}
	if c.CUVersionConstraint == "" {
		c.CUVersionConstraint = rt.CUVersionConstraint()
	}
}

// ProbeRetryPolicy returns the classification probe policy. Call ValidateProbe first; the
// configured values are used as given.
func (c *Config) ProbeRetryPolicy() classify.RetryPolicy {
	policy := classify.DefaultRetryPolicy()
	policy.MaxAttempts = c.ProbeMaxAttempts
	policy.Delay = c.ProbeDelay
	return policy
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForServe checks required config when running the relay server. Call after
// ApplyTopology.
func (c *Config) ValidateForServe() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("%s - GATEWAY_URL is required for serve", logPrefix)
	}
	if c.UploaderURL == "" {
		return fmt.Errorf("%s - UPLOADER_URL is required for serve", logPrefix)
	}
	if c.SchedulerRouterURL == "" {
		return fmt.Errorf("%s - SCHEDULER_ROUTER_URL is required for serve", logPrefix)
	}
	if len(c.CUURLs) == 0 {
		return fmt.Errorf("%s - CU_URLS or topology computeUnits is required for serve", logPrefix)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - RELAY_REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("%s - UPSTREAM_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	return c.ValidateProbe()
}

// ValidateProbe checks the classification probe knobs against the retry ceiling.
func (c *Config) ValidateProbe() error {
	if c.ProbeMaxAttempts < 1 || c.ProbeMaxAttempts > classify.MaxProbeAttempts {
		return fmt.Errorf("%s - PROBE_MAX_ATTEMPTS must be between 1 and %d", logPrefix, classify.MaxProbeAttempts)
	}
	if c.ProbeDelay <= 0 {
		return fmt.Errorf("%s - PROBE_DELAY must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}
