// Package sinks implements the outputs behind handlers: console streams,
// size-rotated local files, Grafana Loki and SMTP email. Remote sinks queue
// records and deliver them from their own goroutine so the emitting
// goroutine never waits on the network.
package sinks

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/pkg/circuit"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

// Descritores de sink reconhecidos além de caminhos de arquivo
const (
	SinkStdout = "stdout"
	SinkStderr = "stderr"
	SinkLoki   = "loki"
	SinkEmail  = "email"
)

// normalize aceita também os aliases "sys.stdout" e "sys.stderr"
func normalize(sink string) string {
	s := strings.ToLower(strings.TrimSpace(sink))
	return strings.TrimPrefix(s, "sys.")
}

// Kind classifica o descritor do sink
func Kind(sink string) string {
	switch normalize(sink) {
	case SinkStdout, SinkStderr:
		return "console"
	case SinkLoki:
		return "loki"
	case SinkEmail:
		return "email"
	default:
		return "file"
	}
}

// Open cria o sink descrito por cfg para o handler name
func Open(name string, cfg types.HandlerConfig, logger *logrus.Logger) (types.RecordSink, error) {
	switch normalize(cfg.Sink) {
	case "":
		return nil, fmt.Errorf("handler %s: sink is required", name)
	case SinkStdout:
		return NewConsoleSink(os.Stdout), nil
	case SinkStderr:
		return NewConsoleSink(os.Stderr), nil
	case SinkLoki:
		if cfg.Loki == nil {
			return nil, fmt.Errorf("handler %s: loki sink requires a loki section", name)
		}
		return NewLokiSink(name, *cfg.Loki, logger)
	case SinkEmail:
		if cfg.Email == nil {
			return nil, fmt.Errorf("handler %s: email sink requires an email section", name)
		}
		return NewEmailSink(name, *cfg.Email, logger)
	default:
		return NewLocalFileSink(name, cfg, logger)
	}
}

// ConsoleSink escreve uma linha por registro em stdout/stderr
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleSink cria um sink sobre w; Close não fecha w
func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

// Write escreve a linha, acrescentando a quebra de linha se faltar
func (cs *ConsoleSink) Write(level types.Level, line []byte) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, err := cs.w.Write(line); err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		_, err := cs.w.Write([]byte{'\n'})
		return err
	}
	return nil
}

// Close não faz nada; os streams do processo continuam abertos
func (cs *ConsoleSink) Close() error {
	return nil
}

func withNewline(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		return line
	}
	out := make([]byte, len(line)+1)
	copy(out, line)
	out[len(line)] = '\n'
	return out
}

func publishBreakerState(breaker string) func(from, to circuit.State) {
	return func(_, to circuit.State) {
		metrics.SetBreakerState(breaker, string(to))
	}
}
