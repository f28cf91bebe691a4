package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/morezero/message-relay/pkg/bootstrap"
)

const configTestPrefix = "config:config_test"

var relayEnvVars = []string{
	"COMMS_URL", "SERVICE_NAME", "COMMS_NKEY_SEED",
	"RELAY_SUBJECT", "EVALUATION_SUBJECT",
	"RELAY_REQUEST_TIMEOUT", "UPSTREAM_TIMEOUT", "RELAY_BOOTSTRAP_FILE",
	"DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"RELAY_HTTP_ADDR", "HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT",
	"GATEWAY_URL", "UPLOADER_URL", "SCHEDULER_ROUTER_URL", "CU_URLS", "CU_VERSION_CONSTRAINT",
	"GATEWAY_PROBE_RATE", "SIGNER_SEED", "PROBE_MAX_ATTEMPTS", "PROBE_DELAY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range relayEnvVars {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"COMMSURL", cfg.COMMSURL, "nats://127.0.0.1:4222"},
		{"COMMSName", cfg.COMMSName, "message-relay"},
		{"RelaySubject", cfg.RelaySubject, "relay.dispatch.v1"},
		{"EvaluationSubject", cfg.EvaluationSubject, "relay.evaluations"},
		{"RequestTimeout", cfg.RequestTimeout, 60 * time.Second},
		{"UpstreamTimeout", cfg.UpstreamTimeout, 30 * time.Second},
		{"DatabaseURL", cfg.DatabaseURL, ""},
		{"RunMigrations", cfg.RunMigrations, false},
		{"HTTPPort", cfg.HTTPPort, 8080},
		{"HealthCheckTimeout", cfg.HealthCheckTimeout, 5 * time.Second},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"ProbeMaxAttempts", cfg.ProbeMaxAttempts, 6},
		{"ProbeDelay", cfg.ProbeDelay, 500 * time.Millisecond},
	}
	for _, c := range checks {
		if diff := cmp.Diff(c.want, c.got); diff != "" {
			t.Errorf("%s - %s mismatch (-want +got):\n%s", configTestPrefix, c.name, diff)
		}
	}
	if cfg.ListenAddr() != ":8080" {
		t.Errorf("%s - ListenAddr = %q", configTestPrefix, cfg.ListenAddr())
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CU_URLS", "https://cu-1.example,https://cu-2.example")
	t.Setenv("PROBE_MAX_ATTEMPTS", "3")
	t.Setenv("PROBE_DELAY", "2s")
	t.Setenv("RELAY_HTTP_ADDR", "127.0.0.1:9090")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", configTestPrefix, err)
	}
	if diff := cmp.Diff([]string{"https://cu-1.example", "https://cu-2.example"}, cfg.CUURLs); diff != "" {
		t.Errorf("%s - CUURLs mismatch (-want +got):\n%s", configTestPrefix, diff)
	}
	policy := cfg.ProbeRetryPolicy()
	if policy.MaxAttempts != 3 || policy.Delay != 2*time.Second {
		t.Errorf("%s - retry policy = %+v", configTestPrefix, policy)
	}
	if cfg.ListenAddr() != "127.0.0.1:9090" {
		t.Errorf("%s - ListenAddr = %q", configTestPrefix, cfg.ListenAddr())
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("PROBE_DELAY", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Errorf("%s - expected error for invalid duration", configTestPrefix)
	}
}

func TestApplyTopology(t *testing.T) {
	rt := bootstrap.CreateResolvedTopology(&bootstrap.TopologyConfig{
		ComputeUnits:        []bootstrap.ComputeUnit{{URL: "https://cu-topology.example"}},
		CUVersionConstraint: "^1",
		Endpoints: bootstrap.Endpoints{
			Gateway:         "https://gw-topology.example",
			Uploader:        "https://up-topology.example",
			SchedulerRouter: "https://su-topology.example",
		},
	})

	cfg := &Config{GatewayURL: "https://gw-env.example"}
	cfg.ApplyTopology(rt)

	if cfg.GatewayURL != "https://gw-env.example" {
		t.Errorf("%s - env value should win, got %s", configTestPrefix, cfg.GatewayURL)
	}
	if cfg.UploaderURL != "https://up-topology.example" || cfg.SchedulerRouterURL != "https://su-topology.example" {
		t.Errorf("%s - topology endpoints not applied: %+v", configTestPrefix, cfg)
	}
	if diff := cmp.Diff([]string{"https://cu-topology.example"}, cfg.CUURLs); diff != "" {
		t.Errorf("%s - CUURLs mismatch (-want +got):\n%s", configTestPrefix, diff)
	}
	if cfg.CUVersionConstraint != "^1" {
		t.Errorf("%s - constraint = %q", configTestPrefix, cfg.CUVersionConstraint)
	}
}

func validServeConfig() *Config {
	return &Config{
		GatewayURL:         "https://gw",
		UploaderURL:        "https://up",
		SchedulerRouterURL: "https://su",
		CUURLs:             []string{"https://cu"},
		RequestTimeout:     time.Second,
		UpstreamTimeout:    time.Second,
		HealthCheckTimeout: time.Second,
		ProbeMaxAttempts:   6,
		ProbeDelay:         500 * time.Millisecond,
	}
}

func TestValidateForServe(t *testing.T) {
	if err := validServeConfig().ValidateForServe(); err != nil {
		t.Fatalf("%s - valid config rejected: %v", configTestPrefix, err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing gateway", func(c *Config) { c.GatewayURL = "" }},
		{"missing uploader", func(c *Config) { c.UploaderURL = "" }},
		{"missing router", func(c *Config) { c.SchedulerRouterURL = "" }},
		{"no compute units", func(c *Config) { c.CUURLs = nil }},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"zero upstream timeout", func(c *Config) { c.UpstreamTimeout = 0 }},
		{"zero health timeout", func(c *Config) { c.HealthCheckTimeout = 0 }},
		{"zero probe attempts", func(c *Config) { c.ProbeMaxAttempts = 0 }},
		{"negative probe delay", func(c *Config) { c.ProbeDelay = -time.Second }},
		{"zero retry delay", func(c *Config) { c.ProbeDelay = 0 }},
		{"attempts above ceiling", func(c *Config) { c.ProbeMaxAttempts = 7 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validServeConfig()
			tt.mutate(c)
			if err := c.ValidateForServe(); err == nil {
				t.Errorf("%s - expected error", configTestPrefix)
			}
		})
	}
}

func TestValidateForDB(t *testing.T) {
	if err := (&Config{}).ValidateForDB(); err == nil {
		t.Errorf("%s - expected error for empty DATABASE_URL", configTestPrefix)
	}
	if err := (&Config{DatabaseURL: "postgres://localhost/relay"}).ValidateForDB(); err != nil {
		t.Errorf("%s - unexpected error: %v", configTestPrefix, err)
	}
}

func TestRetryPolicyFromConfig_UsesConfiguredValues(t *testing.T) {
	c := validServeConfig()
	c.ProbeMaxAttempts = 3
	c.ProbeDelay = 50 * time.Millisecond
	if err := c.ValidateProbe(); err != nil {
		t.Fatalf("%s - ValidateProbe: %v", configTestPrefix, err)
	}
	policy := c.ProbeRetryPolicy()
	if policy.MaxAttempts != 3 || policy.Delay != 50*time.Millisecond {
		t.Errorf("%s - policy = %+v, want 3 attempts 50ms apart", configTestPrefix, policy)
	}

	c.ProbeMaxAttempts = 6
	if err := c.ValidateProbe(); err != nil {
		t.Errorf("%s - six attempts should be accepted: %v", configTestPrefix, err)
	}
}
