package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"ssw-logmanager/pkg/compression"
	"ssw-logmanager/pkg/types"

	"gopkg.in/yaml.v2"
)

// Prefixo das variáveis de ambiente que sobrescrevem o arquivo
const envPrefix = "LOGMANAGER_"

// Valores padrão das operações de replicação
const (
	DefaultInterval   = 60 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = 5 * time.Second
)

// LoadConfig carrega a configuração a partir de arquivo YAML e variáveis de ambiente
func LoadConfig(configFile string) (*types.Config, error) {
	config := &types.Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, config); err != nil {
			return nil, err
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	return config, nil
}

// loadConfigFile carrega configuração de um arquivo YAML
func loadConfigFile(filename string, config *types.Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// applyDefaults aplica valores padrão à configuração
func applyDefaults(config *types.Config) {
	// App defaults
	if config.App.Name == "" {
		config.App.Name = "ssw-logmanager"
	}
	if config.App.Version == "" {
		config.App.Version = "v0.1.0"
	}
	if config.App.Environment == "" {
		config.App.Environment = "production"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "json"
	}

	// Server defaults
	if config.Server.Port == 0 {
		config.Server.Port = 8401
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.ReadTimeout == "" {
		config.Server.ReadTimeout = "30s"
	}
	if config.Server.WriteTimeout == "" {
		config.Server.WriteTimeout = "30s"
	}

	// Metrics defaults
	if config.Metrics.Port == 0 {
		config.Metrics.Port = 8001
	}
	if config.Metrics.Path == "" {
		config.Metrics.Path = "/metrics"
	}

	// Tracing defaults
	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = config.App.Name
	}
	if config.Tracing.ServiceVersion == "" {
		config.Tracing.ServiceVersion = config.App.Version
	}
	if config.Tracing.Environment == "" {
		config.Tracing.Environment = config.App.Environment
	}
	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = "otlp"
	}
	if config.Tracing.SampleRate == 0 {
		config.Tracing.SampleRate = 1.0
	}

	// Hot reload defaults
	if config.HotReload.WatchInterval == "" {
		config.HotReload.WatchInterval = "5s"
	}
	if config.HotReload.DebounceInterval == "" {
		config.HotReload.DebounceInterval = "1s"
	}

	// Replication defaults
	d := &config.Replication.Defaults
	if d.Interval == "" {
		d.Interval = DefaultInterval.String()
	}
	if d.MaxRetries == nil {
		v := DefaultMaxRetries
		d.MaxRetries = &v
	}
	if d.RetryDelay == "" {
		d.RetryDelay = DefaultRetryDelay.String()
	}
	if d.CreateDestDirs == nil {
		v := true
		d.CreateDestDirs = &v
	}
	if d.PreserveStructure == nil {
		v := false
		d.PreserveStructure = &v
	}
	if d.SkipUnchanged == nil {
		v := false
		d.SkipUnchanged = &v
	}
	if config.Replication.FinalCopyOnShutdown == nil {
		v := true
		config.Replication.FinalCopyOnShutdown = &v
	}
	if config.Replication.StopTimeout == "" {
		config.Replication.StopTimeout = "10s"
	}

	if config.TeardownTimeout == "" {
		config.TeardownTimeout = "30s"
	}
}

// applyEnvironmentOverrides aplica sobrescritas de variáveis de ambiente
func applyEnvironmentOverrides(config *types.Config) {
	// App overrides
	if level := getEnvString("LOG_LEVEL", ""); level != "" {
		config.App.LogLevel = level
	}
	if format := getEnvString("LOG_FORMAT", ""); format != "" {
		config.App.LogFormat = format
	}
	if env := getEnvString("ENVIRONMENT", ""); env != "" {
		config.App.Environment = env
	}

	// Server/API overrides
	config.Server.Enabled = getEnvBool("API_ENABLED", config.Server.Enabled)
	if port := getEnvInt("API_PORT", 0); port != 0 {
		config.Server.Port = port
	}
	if host := getEnvString("API_HOST", ""); host != "" {
		config.Server.Host = host
	}

	// Metrics overrides
	config.Metrics.Enabled = getEnvBool("METRICS_ENABLED", config.Metrics.Enabled)
	if port := getEnvInt("METRICS_PORT", 0); port != 0 {
		config.Metrics.Port = port
	}
	if path := getEnvString("METRICS_PATH", ""); path != "" {
		config.Metrics.Path = path
	}

	// Tracing overrides
	config.Tracing.Enabled = getEnvBool("TRACING_ENABLED", config.Tracing.Enabled)
	if endpoint := getEnvString("TRACING_ENDPOINT", ""); endpoint != "" {
		config.Tracing.Endpoint = endpoint
	}

	// Hot reload overrides
	config.HotReload.Enabled = getEnvBool("HOT_RELOAD_ENABLED", config.HotReload.Enabled)

	// Replication overrides
	if v := getEnvBool("FINAL_COPY_ON_SHUTDOWN", *config.Replication.FinalCopyOnShutdown); v != *config.Replication.FinalCopyOnShutdown {
		config.Replication.FinalCopyOnShutdown = &v
	}
	if interval := getEnvString("REPLICATION_INTERVAL", ""); interval != "" {
		config.Replication.Defaults.Interval = interval
	}
	if retries := getEnvInt("REPLICATION_MAX_RETRIES", -1); retries >= 0 {
		config.Replication.Defaults.MaxRetries = &retries
	}
	if user := getEnvString("WEBHDFS_USER", ""); user != "" {
		config.Replication.WebHDFS.User = user
	}
	if username := getEnvString("KAFKA_USERNAME", ""); username != "" {
		config.Replication.Kafka.Auth.Username = username
	}
	if password := getEnvString("KAFKA_PASSWORD", ""); password != "" {
		config.Replication.Kafka.Auth.Password = password
	}

	if timeout := getEnvString("TEARDOWN_TIMEOUT", ""); timeout != "" {
		config.TeardownTimeout = timeout
	}
}

// Funções auxiliares para variáveis de ambiente; key não inclui o prefixo

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(envPrefix + key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// ParseDuration aceita durações Go ("90s", "1m30s") ou segundos inteiros
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// DurationOr retorna a duração ou def quando vazia/inválida
func DurationOr(s string, def time.Duration) time.Duration {
	d, err := ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// BuildOperationSpec converts a configured operation into a spec, filling
// every unset field from defaults.
func BuildOperationSpec(op types.ReplicationOperation, defaults types.ReplicationDefaults) (types.OperationSpec, error) {
	spec := types.OperationSpec{
		Name:        op.Name,
		Patterns:    append([]string(nil), op.Patterns...),
		Destination: op.Destination,
		RootDir:     op.RootDir,
		Compression: op.Compression,
	}
	if spec.Compression == "" {
		spec.Compression = defaults.Compression
	}

	var err error
	if spec.Interval, err = ParseDuration(firstNonEmpty(op.Interval, defaults.Interval)); err != nil {
		return spec, fmt.Errorf("operation %s: invalid interval: %w", op.Name, err)
	}
	if spec.Interval == 0 {
		spec.Interval = DefaultInterval
	}

	if spec.Retry.Delay, err = ParseDuration(firstNonEmpty(op.RetryDelay, defaults.RetryDelay)); err != nil {
		return spec, fmt.Errorf("operation %s: invalid retry_delay: %w", op.Name, err)
	}
	if spec.Retry.MaxDelay, err = ParseDuration(firstNonEmpty(op.MaxRetryDelay, defaults.MaxRetryDelay)); err != nil {
		return spec, fmt.Errorf("operation %s: invalid max_retry_delay: %w", op.Name, err)
	}

	spec.Retry.MaxRetries = DefaultMaxRetries
	switch {
	case op.MaxRetries != nil:
		spec.Retry.MaxRetries = *op.MaxRetries
	case defaults.MaxRetries != nil:
		spec.Retry.MaxRetries = *defaults.MaxRetries
	}

	spec.Retry.BackoffMultiplier = op.BackoffMultiplier
	if spec.Retry.BackoffMultiplier == 0 {
		spec.Retry.BackoffMultiplier = defaults.BackoffMultiplier
	}

	spec.CreateDestDirs = boolOr(op.CreateDestDirs, defaults.CreateDestDirs, true)
	spec.PreserveStructure = boolOr(op.PreserveStructure, defaults.PreserveStructure, false)
	spec.SkipUnchanged = boolOr(op.SkipUnchanged, defaults.SkipUnchanged, false)

	return spec, nil
}

// BuildOperationSpecs converte todas as operações do arquivo
func BuildOperationSpecs(config *types.Config) ([]types.OperationSpec, error) {
	specs := make([]types.OperationSpec, 0, len(config.Replication.Operations))
	for _, op := range config.Replication.Operations {
		spec, err := BuildOperationSpec(op, config.Replication.Defaults)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolOr(v, def *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	if def != nil {
		return *def
	}
	return fallback
}

// ValidateConfig valida a configuração
func ValidateConfig(config *types.Config) error {
	if config.Server.Enabled && (config.Server.Port <= 0 || config.Server.Port > 65535) {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Metrics.Enabled && (config.Metrics.Port <= 0 || config.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", config.Metrics.Port)
	}

	if config.Server.Enabled && config.Metrics.Enabled && config.Server.Port == config.Metrics.Port {
		return fmt.Errorf("server and metrics cannot share port %d", config.Server.Port)
	}

	if config.Tracing.Enabled {
		switch config.Tracing.Exporter {
		case "otlp", "console":
		default:
			return fmt.Errorf("invalid tracing exporter: %s", config.Tracing.Exporter)
		}
		if config.Tracing.SampleRate < 0 || config.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing sample_rate must be between 0 and 1, got %g", config.Tracing.SampleRate)
		}
	}

	for name, handler := range config.Handlers {
		if err := validateHandler(name, handler); err != nil {
			return err
		}
	}

	for task, bindings := range config.Tasks {
		seen := make(map[string]bool, len(bindings))
		for _, b := range bindings {
			if _, ok := config.Handlers[b.Handler]; !ok {
				return fmt.Errorf("task %s references unknown handler %q", task, b.Handler)
			}
			if seen[b.Handler] {
				return fmt.Errorf("task %s binds handler %s more than once", task, b.Handler)
			}
			seen[b.Handler] = true
			if b.Level != "" {
				if _, err := types.ParseLevel(b.Level); err != nil {
					return fmt.Errorf("task %s, handler %s: %w", task, b.Handler, err)
				}
			}
		}
	}

	names := make(map[string]bool, len(config.Replication.Operations))
	for _, op := range config.Replication.Operations {
		if op.Name == "" {
			return fmt.Errorf("replication operation without name")
		}
		if names[op.Name] {
			return fmt.Errorf("duplicate replication operation %s", op.Name)
		}
		names[op.Name] = true

		spec, err := BuildOperationSpec(op, config.Replication.Defaults)
		if err != nil {
			return err
		}
		if err := validateOperation(spec); err != nil {
			return err
		}
	}

	for _, d := range []struct{ field, value string }{
		{"teardown_timeout", config.TeardownTimeout},
		{"replication.stop_timeout", config.Replication.StopTimeout},
		{"hot_reload.watch_interval", config.HotReload.WatchInterval},
	} {
		if _, err := ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.field, err)
		}
	}

	return nil
}

func validateHandler(name string, handler types.HandlerConfig) error {
	if handler.Sink == "" {
		return fmt.Errorf("handler %s: sink cannot be empty", name)
	}
	if handler.Level != "" {
		if _, err := types.ParseLevel(handler.Level); err != nil {
			return fmt.Errorf("handler %s: %w", name, err)
		}
	}

	switch strings.ToLower(handler.Sink) {
	case "loki":
		if handler.Loki == nil || handler.Loki.URL == "" {
			return fmt.Errorf("handler %s: loki URL cannot be empty", name)
		}
		if _, err := url.Parse(handler.Loki.URL); err != nil {
			return fmt.Errorf("handler %s: invalid loki URL: %w", name, err)
		}
	case "email":
		if handler.Email == nil || handler.Email.Host == "" || len(handler.Email.To) == 0 {
			return fmt.Errorf("handler %s: email sink requires host and recipients", name)
		}
	}
	return nil
}

// validateOperation checagens que não dependem do registry de copiers
func validateOperation(spec types.OperationSpec) error {
	if len(spec.Patterns) == 0 {
		return fmt.Errorf("operation %s has no patterns", spec.Name)
	}
	if spec.Destination == "" {
		return fmt.Errorf("operation %s has no destination", spec.Name)
	}
	if spec.Retry.MaxRetries < 0 {
		return fmt.Errorf("operation %s: max_retries must not be negative", spec.Name)
	}
	if spec.Retry.BackoffMultiplier != 0 && spec.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("operation %s: backoff_multiplier must be >= 1", spec.Name)
	}
	if _, err := compression.Parse(spec.Compression); err != nil {
		return fmt.Errorf("operation %s: %w", spec.Name, err)
	}
	return nil
}
