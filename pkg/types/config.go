// Package types - Configuration data structures
package types

// Config represents the complete application configuration structure.
//
// Formats, handlers and tasks feed the routing map; the replication section
// feeds the replication manager; the remaining sections configure the
// ambient services (HTTP API, metrics, tracing, hot reload).
type Config struct {
	// Core application settings
	App     AppConfig     `yaml:"app"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`

	HotReload HotReloadConfig `yaml:"hot_reload"`
	Gate      GateConfig      `yaml:"gate"`

	// Routing
	Formats  map[string]string        `yaml:"formats"`
	Handlers map[string]HandlerConfig `yaml:"handlers"`
	Tasks    map[string][]TaskBinding `yaml:"tasks"`

	// Replication
	Replication ReplicationConfig `yaml:"replication"`

	TeardownTimeout string `yaml:"teardown_timeout"`
}

// AppConfig contains core application settings.
type AppConfig struct {
	Name        string `yaml:"name"`        // Application name for identification
	Version     string `yaml:"version"`     // Application version
	Environment string `yaml:"environment"` // Deployment environment (dev, staging, prod)
	LogLevel    string `yaml:"log_level"`   // Diagnostics log level (trace, debug, info, warn, error)
	LogFormat   string `yaml:"log_format"`  // Diagnostics log format (json, text)
}

// ServerConfig contains admin HTTP server settings.
type ServerConfig struct {
	Enabled      bool   `yaml:"enabled"`       // Enable HTTP server
	Host         string `yaml:"host"`          // Server bind host
	Port         int    `yaml:"port"`          // Server bind port
	ReadTimeout  string `yaml:"read_timeout"`  // HTTP read timeout
	WriteTimeout string `yaml:"write_timeout"` // HTTP write timeout
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable metrics server
	Port    int    `yaml:"port"`    // Metrics server port
	Path    string `yaml:"path"`    // Metrics endpoint path
}

// TracingConfig configures distributed tracing
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	Exporter       string            `yaml:"exporter"` // "otlp", "console"
	Endpoint       string            `yaml:"endpoint"`
	Insecure       bool              `yaml:"insecure"`
	SampleRate     float64           `yaml:"sample_rate"`
	BatchTimeout   string            `yaml:"batch_timeout"`
	MaxBatchSize   int               `yaml:"max_batch_size"`
	Headers        map[string]string `yaml:"headers"`
}

// HotReloadConfig configuração do reload automático do arquivo de configuração
type HotReloadConfig struct {
	Enabled          bool   `yaml:"enabled"`
	WatchInterval    string `yaml:"watch_interval"`
	DebounceInterval string `yaml:"debounce_interval"`
	ValidateOnReload bool   `yaml:"validate_on_reload"`
}

// GateConfig nomes das variáveis de ambiente consultadas pelo gate distribuído
type GateConfig struct {
	DisableVar       string   `yaml:"disable_var"`
	RoleVar          string   `yaml:"role_var"`
	EnableRoles      []string `yaml:"enable_roles"`
	DisableRoles     []string `yaml:"disable_roles"`
	WorkerIndicators []string `yaml:"worker_indicators"`
	RankVars         []string `yaml:"rank_vars"`
}

// ReplicationConfig configuração do gerenciador de replicação
type ReplicationConfig struct {
	Defaults            ReplicationDefaults    `yaml:"defaults"`
	Operations          []ReplicationOperation `yaml:"operations"`
	FinalCopyOnShutdown *bool                  `yaml:"final_copy_on_shutdown"`
	StopTimeout         string                 `yaml:"stop_timeout"`
	WebHDFS             WebHDFSConfig          `yaml:"webhdfs"`
	Kafka               KafkaConfig            `yaml:"kafka"`
}

// ReplicationDefaults valores aplicados às operações que não os definem
type ReplicationDefaults struct {
	Interval          string  `yaml:"interval"`
	MaxRetries        *int    `yaml:"max_retries"`
	RetryDelay        string  `yaml:"retry_delay"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	MaxRetryDelay     string  `yaml:"max_retry_delay"`
	CreateDestDirs    *bool   `yaml:"create_dest_dirs"`
	PreserveStructure *bool   `yaml:"preserve_structure"`
	Compression       string  `yaml:"compression"`
	SkipUnchanged     *bool   `yaml:"skip_unchanged"`
}

// ReplicationOperation uma operação declarada no arquivo de configuração
type ReplicationOperation struct {
	Name              string   `yaml:"name" json:"name"`
	Patterns          []string `yaml:"patterns" json:"patterns"`
	Destination       string   `yaml:"destination" json:"destination"`
	RootDir           string   `yaml:"root_dir" json:"root_dir,omitempty"`
	Interval          string   `yaml:"interval" json:"interval,omitempty"`
	MaxRetries        *int     `yaml:"max_retries" json:"max_retries,omitempty"`
	RetryDelay        string   `yaml:"retry_delay" json:"retry_delay,omitempty"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier" json:"backoff_multiplier,omitempty"`
	MaxRetryDelay     string   `yaml:"max_retry_delay" json:"max_retry_delay,omitempty"`
	CreateDestDirs    *bool    `yaml:"create_dest_dirs" json:"create_dest_dirs,omitempty"`
	PreserveStructure *bool    `yaml:"preserve_structure" json:"preserve_structure,omitempty"`
	Compression       string   `yaml:"compression" json:"compression,omitempty"`
	SkipUnchanged     *bool    `yaml:"skip_unchanged" json:"skip_unchanged,omitempty"`
}

// WebHDFSConfig configuração do cliente WebHDFS
type WebHDFSConfig struct {
	User      string `yaml:"user"`
	Timeout   string `yaml:"timeout"`
	Overwrite *bool  `yaml:"overwrite"`
}

// KafkaConfig configuração do produtor usado por destinos kafka://
type KafkaConfig struct {
	ClientID     string    `yaml:"client_id"`
	RequiredAcks int       `yaml:"required_acks"`
	Compression  string    `yaml:"compression"`
	MaxMessageMB int       `yaml:"max_message_mb"`
	Timeout      string    `yaml:"timeout"`
	Auth         KafkaAuth `yaml:"auth"`
	TLS          KafkaTLS  `yaml:"tls"`
}

// KafkaAuth credenciais SASL
type KafkaAuth struct {
	Enabled   bool   `yaml:"enabled"`
	Mechanism string `yaml:"mechanism"` // "plain", "scram-sha-256", "scram-sha-512"
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// KafkaTLS configuração TLS do produtor
type KafkaTLS struct {
	Enabled            bool `yaml:"enabled"`
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}
