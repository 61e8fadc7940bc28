package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Level severidade de um registro, numeração compatível com loguru
type Level int

const (
	TraceLevel    Level = 5
	DebugLevel    Level = 10
	InfoLevel     Level = 20
	SuccessLevel  Level = 25
	WarningLevel  Level = 30
	ErrorLevel    Level = 40
	CriticalLevel Level = 50
)

var levelNames = map[Level]string{
	TraceLevel:    "TRACE",
	DebugLevel:    "DEBUG",
	InfoLevel:     "INFO",
	SuccessLevel:  "SUCCESS",
	WarningLevel:  "WARNING",
	ErrorLevel:    "ERROR",
	CriticalLevel: "CRITICAL",
}

// String retorna o nome canônico do nível ou o número quando não nomeado
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return strconv.Itoa(int(l))
}

// MarshalText permite usar Level em JSON/YAML como nome
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText aceita nomes ou números
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel converts a level name (case-insensitive) or a decimal number to a Level.
func ParseLevel(s string) (Level, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "TRACE":
		return TraceLevel, nil
	case "DEBUG":
		return DebugLevel, nil
	case "INFO":
		return InfoLevel, nil
	case "SUCCESS":
		return SuccessLevel, nil
	case "WARN", "WARNING":
		return WarningLevel, nil
	case "ERROR":
		return ErrorLevel, nil
	case "CRITICAL", "FATAL", "PANIC":
		return CriticalLevel, nil
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return Level(n), nil
	}
	return 0, fmt.Errorf("unknown level %q", s)
}

// HandlerConfig configuração de um handler (destino de saída compartilhado)
type HandlerConfig struct {
	Sink   string `yaml:"sink" json:"sink"`     // "stdout", "stderr", caminho de arquivo, "loki", "email"
	Level  string `yaml:"level" json:"level"`   // nível mínimo do handler
	Format string `yaml:"format" json:"format"` // nome de um format configurado ou template literal

	// Arquivo
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups,omitempty"`
	FileMode   string `yaml:"file_mode" json:"file_mode,omitempty"`
	Compress   bool   `yaml:"compress" json:"compress,omitempty"` // comprime backups rotacionados

	Loki  *LokiSinkConfig  `yaml:"loki" json:"loki,omitempty"`
	Email *EmailSinkConfig `yaml:"email" json:"email,omitempty"`
}

// LokiSinkConfig destino Loki para um handler
type LokiSinkConfig struct {
	URL          string            `yaml:"url" json:"url"`
	PushEndpoint string            `yaml:"push_endpoint" json:"push_endpoint,omitempty"`
	TenantID     string            `yaml:"tenant_id" json:"tenant_id,omitempty"`
	Labels       map[string]string `yaml:"labels" json:"labels,omitempty"`
	BatchSize    int               `yaml:"batch_size" json:"batch_size,omitempty"`
	BatchTimeout string            `yaml:"batch_timeout" json:"batch_timeout,omitempty"`
	Timeout      string            `yaml:"timeout" json:"timeout,omitempty"`
}

// EmailSinkConfig destino SMTP para um handler
type EmailSinkConfig struct {
	Host     string   `yaml:"host" json:"host"`
	Port     int      `yaml:"port" json:"port"`
	From     string   `yaml:"from" json:"from"`
	To       []string `yaml:"to" json:"to"`
	Subject  string   `yaml:"subject" json:"subject,omitempty"`
	Username string   `yaml:"username" json:"username,omitempty"`
	Password string   `yaml:"password" json:"-"`
	// MaxPerMinute limita mensagens enviadas; 0 = sem limite
	MaxPerMinute int `yaml:"max_per_minute" json:"max_per_minute,omitempty"`
}

// TaskBinding associação (handler, nível) declarada por uma task
type TaskBinding struct {
	Handler string `yaml:"handler" json:"handler"`
	Level   string `yaml:"level" json:"level"`
}

// BindingInfo binding efetivo visto a partir de um dos lados do mapa
type BindingInfo struct {
	Name      string `json:"name"`
	Level     Level  `json:"level"`
	Effective Level  `json:"effective"`
}

// HandlerView visão de um handler no mapa de roteamento
type HandlerView struct {
	Floor Level         `json:"floor"`
	Tasks []BindingInfo `json:"tasks"`
}

// Mappings snapshot das duas visões handler<->task
type Mappings struct {
	Handlers map[string]HandlerView   `json:"handlers"`
	Tasks    map[string][]BindingInfo `json:"tasks"`
}

// RetryPolicy política de retry de uma operação de cópia
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	Delay             time.Duration `json:"delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxDelay          time.Duration `json:"max_delay,omitempty"`
}

// OperationSpec definição de uma operação periódica de replicação
type OperationSpec struct {
	Name              string        `json:"name"`
	Patterns          []string      `json:"patterns"`
	Destination       string        `json:"destination"`
	RootDir           string        `json:"root_dir,omitempty"`
	Interval          time.Duration `json:"interval"`
	Retry             RetryPolicy   `json:"retry"`
	PreserveStructure bool          `json:"preserve_structure"`
	CreateDestDirs    bool          `json:"create_dest_dirs"`
	Compression       string        `json:"compression,omitempty"`
	SkipUnchanged     bool          `json:"skip_unchanged"`
}

// Estados de uma operação de replicação
const (
	OperationRunning  = "running"
	OperationStopping = "stopping"
	OperationStopped  = "stopped"
	OperationSkipped  = "skipped"
	OperationFailed   = "failed"
)

// CycleStats estatísticas de um ciclo de cópia
type CycleStats struct {
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// OperationStatus snapshot de uma operação registrada
type OperationStatus struct {
	Name           string        `json:"name"`
	State          string        `json:"state"`
	Reason         string        `json:"reason,omitempty"`
	Destination    string        `json:"destination"`
	Interval       time.Duration `json:"interval"`
	StartedAt      time.Time     `json:"started_at"`
	Cycles         int64         `json:"cycles"`
	LastCycle      CycleStats    `json:"last_cycle"`
	TotalSucceeded int64         `json:"total_succeeded"`
	TotalFailed    int64         `json:"total_failed"`
	LastError      string        `json:"last_error,omitempty"`
}

// Active informa se a operação tem um worker vivo
func (s OperationStatus) Active() bool {
	return s.State == OperationRunning || s.State == OperationStopping
}

// GateStatus resultado do gate distribuído com as variáveis consultadas
type GateStatus struct {
	Enabled   bool              `json:"enabled"`
	Reason    string            `json:"reason"`
	Variables map[string]string `json:"variables"`
}
