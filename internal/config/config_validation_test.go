package config

import (
	"strings"
	"testing"

	"ssw-logmanager/pkg/types"
)

func validConfig() *types.Config {
	config := &types.Config{
		Server:  types.ServerConfig{Enabled: true, Port: 8401},
		Metrics: types.MetricsConfig{Enabled: true, Port: 8001, Path: "/metrics"},
		Handlers: map[string]types.HandlerConfig{
			"console": {Sink: "stdout", Level: "INFO"},
			"loki": {Sink: "loki", Loki: &types.LokiSinkConfig{
				URL: "http://loki:3100",
			}},
		},
		Tasks: map[string][]types.TaskBinding{
			"etl": {{Handler: "console", Level: "DEBUG"}, {Handler: "loki"}},
		},
		Replication: types.ReplicationConfig{
			Operations: []types.ReplicationOperation{{
				Name:        "logs",
				Patterns:    []string{"/var/log/etl/*.log"},
				Destination: "/backup/etl",
			}},
		},
	}
	applyDefaults(config)
	return config
}

// TestValidConfigPasses tests that a valid configuration passes validation
func TestValidConfigPasses(t *testing.T) {
	if err := ValidateConfig(validConfig()); err != nil {
		t.Errorf("Valid config should pass validation, got error: %v", err)
	}
}

// TestInvalidConfigs tests each validation rule
func TestInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *types.Config)
		wantErr string
	}{
		{
			name:    "server port out of range",
			mutate:  func(c *types.Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "metrics port zero",
			mutate:  func(c *types.Config) { c.Metrics.Port = -1 },
			wantErr: "invalid metrics port",
		},
		{
			name:    "shared port",
			mutate:  func(c *types.Config) { c.Metrics.Port = c.Server.Port },
			wantErr: "cannot share port",
		},
		{
			name: "unknown tracing exporter",
			mutate: func(c *types.Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "zipkin"
			},
			wantErr: "invalid tracing exporter",
		},
		{
			name: "handler without sink",
			mutate: func(c *types.Config) {
				c.Handlers["broken"] = types.HandlerConfig{}
			},
			wantErr: "sink cannot be empty",
		},
		{
			name: "handler with bad level",
			mutate: func(c *types.Config) {
				c.Handlers["console"] = types.HandlerConfig{Sink: "stdout", Level: "LOUD"}
			},
			wantErr: "unknown level",
		},
		{
			name: "loki without url",
			mutate: func(c *types.Config) {
				c.Handlers["loki"] = types.HandlerConfig{Sink: "loki"}
			},
			wantErr: "loki URL cannot be empty",
		},
		{
			name: "email without recipients",
			mutate: func(c *types.Config) {
				c.Handlers["mail"] = types.HandlerConfig{Sink: "email", Email: &types.EmailSinkConfig{Host: "smtp"}}
			},
			wantErr: "requires host and recipients",
		},
		{
			name: "task with unknown handler",
			mutate: func(c *types.Config) {
				c.Tasks["etl"] = append(c.Tasks["etl"], types.TaskBinding{Handler: "ghost"})
			},
			wantErr: "unknown handler",
		},
		{
			name: "task binding twice",
			mutate: func(c *types.Config) {
				c.Tasks["etl"] = []types.TaskBinding{{Handler: "console"}, {Handler: "console"}}
			},
			wantErr: "more than once",
		},
		{
			name: "duplicate operation",
			mutate: func(c *types.Config) {
				c.Replication.Operations = append(c.Replication.Operations, c.Replication.Operations[0])
			},
			wantErr: "duplicate replication operation",
		},
		{
			name: "operation without patterns",
			mutate: func(c *types.Config) {
				c.Replication.Operations[0].Patterns = nil
			},
			wantErr: "has no patterns",
		},
		{
			name: "operation with unknown compression",
			mutate: func(c *types.Config) {
				c.Replication.Operations[0].Compression = "rar"
			},
			wantErr: "unsupported compression",
		},
		{
			name: "negative retries",
			mutate: func(c *types.Config) {
				n := -1
				c.Replication.Operations[0].MaxRetries = &n
			},
			wantErr: "max_retries must not be negative",
		},
		{
			name:    "bad teardown timeout",
			mutate:  func(c *types.Config) { c.TeardownTimeout = "later" },
			wantErr: "invalid teardown_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := ValidateConfig(config)
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestDisabledServerSkipsPortCheck tests that disabled servers are not validated
func TestDisabledServerSkipsPortCheck(t *testing.T) {
	config := validConfig()
	config.Server.Enabled = false
	config.Server.Port = 0

	if err := ValidateConfig(config); err != nil {
		t.Errorf("Expected disabled server to skip port validation, got %v", err)
	}
}
