package circuit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen é retornado (embrulhado) quando a chamada é recusada sem executar
var ErrOpen = errors.New("circuit breaker is open")

// State estado do breaker
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// BreakerConfig limites do breaker; zero usa os defaults de NewBreaker
type BreakerConfig struct {
	Name             string
	FailureThreshold int           // falhas seguidas até abrir
	SuccessThreshold int           // sondas bem sucedidas até fechar
	Timeout          time.Duration // quanto tempo fica aberto
	HalfOpenMaxCalls int           // sondas simultâneas em half-open
}

// Stats snapshot dos contadores
type Stats struct {
	State         State     `json:"state"`
	Failures      int64     `json:"failures"`
	Successes     int64     `json:"successes"`
	Requests      int64     `json:"requests"`
	Rejected      int64     `json:"rejected"`
	LastFailure   time.Time `json:"last_failure,omitempty"`
	NextRetryTime time.Time `json:"next_retry_time,omitempty"`
}

// Breaker corta as entregas para um destino remoto (Loki, SMTP) depois de
// falhas seguidas e volta a tentar com sondas após o timeout.
type Breaker struct {
	cfg    BreakerConfig
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     State
	streak    int64 // falhas seguidas no estado atual
	trials    int   // sondas em andamento (half-open)
	trialOK   int   // sondas bem sucedidas (half-open)
	openUntil time.Time
	counters  Stats
	onChange  func(from, to State)
}

// NewBreaker cria um breaker fechado
func NewBreaker(cfg BreakerConfig, logger *logrus.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{cfg: cfg, logger: logger, now: time.Now, state: StateClosed}
}

// Execute roda fn se o breaker permitir. fn roda fora do lock.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.counters.Requests++

	if b.state == StateOpen {
		if b.now().Before(b.openUntil) {
			b.counters.Rejected++
			return fmt.Errorf("%w: %s", ErrOpen, b.cfg.Name)
		}
		b.trials, b.trialOK = 0, 0
		b.transition(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.trials >= b.cfg.HalfOpenMaxCalls {
			b.counters.Rejected++
			return fmt.Errorf("%w: %s (half-open)", ErrOpen, b.cfg.Name)
		}
		b.trials++
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.counters.Failures++
		b.counters.LastFailure = b.now()
		b.streak++
		if b.state == StateHalfOpen || b.streak >= int64(b.cfg.FailureThreshold) {
			b.open()
		}
		return
	}

	b.counters.Successes++
	if b.state != StateHalfOpen {
		b.streak = 0
		return
	}
	b.trialOK++
	if b.trialOK >= b.cfg.SuccessThreshold {
		b.close()
	}
}

// requer b.mu
func (b *Breaker) open() {
	if b.state == StateOpen {
		return
	}
	b.openUntil = b.now().Add(b.cfg.Timeout)
	b.transition(StateOpen)

	b.logger.WithFields(logrus.Fields{
		"breaker":         b.cfg.Name,
		"failures":        b.streak,
		"next_retry_time": b.openUntil,
	}).Warn("Circuit breaker opened")
}

// requer b.mu
func (b *Breaker) close() {
	b.streak, b.trials, b.trialOK = 0, 0, 0
	b.openUntil = time.Time{}
	b.transition(StateClosed)
}

// requer b.mu
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
	b.logger.WithFields(logrus.Fields{
		"breaker": b.cfg.Name,
		"from":    from,
		"to":      to,
	}).Debug("Circuit breaker state changed")
}

// State estado atual
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// IsOpen indica se as chamadas estão sendo recusadas
func (b *Breaker) IsOpen() bool {
	return b.State() == StateOpen
}

// Reset força o fechamento
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.close()
}

// GetStats retorna os contadores
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := b.counters
	stats.State = b.state
	stats.NextRetryTime = b.openUntil
	return stats
}

// SetStateChangeCallback define o callback chamado (com o lock) a cada transição
func (b *Breaker) SetStateChangeCallback(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}
