// Package retry runs a single action with bounded retries and a backoff
// sleep that is interrupted as soon as the caller's context is cancelled.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"ssw-logmanager/pkg/types"
)

// ErrCancelled é retornado (embrulhado) quando o contexto é cancelado durante o backoff
var ErrCancelled = errors.New("retry cancelled")

// ExhaustedError todas as tentativas falharam
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Action uma tentativa; attempt começa em 1
type Action func(ctx context.Context, attempt int) error

// Executor executa ações com a política configurada
type Executor struct {
	Policy types.RetryPolicy

	// OnRetry é chamado antes de cada espera (opcional)
	OnRetry func(attempt int, delay time.Duration, err error)
}

// New cria um executor para a política
func New(policy types.RetryPolicy) *Executor {
	return &Executor{Policy: policy}
}

// Delay calcula a espera após a tentativa de número attempt (1-based)
func (e *Executor) Delay(attempt int) time.Duration {
	delay := e.Policy.Delay
	if e.Policy.BackoffMultiplier > 1 && attempt > 1 {
		scaled := float64(delay) * math.Pow(e.Policy.BackoffMultiplier, float64(attempt-1))
		if scaled > float64(math.MaxInt64) {
			delay = time.Duration(math.MaxInt64)
		} else {
			delay = time.Duration(scaled)
		}
	}
	if e.Policy.MaxDelay > 0 && delay > e.Policy.MaxDelay {
		delay = e.Policy.MaxDelay
	}
	return delay
}

// Execute runs action up to MaxRetries+1 times. It returns nil on the first
// success, an *ExhaustedError when every attempt failed, or an error wrapping
// ErrCancelled when ctx is cancelled before or between attempts.
func (e *Executor) Execute(ctx context.Context, action Action) error {
	maxRetries := e.Policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	total := maxRetries + 1

	var lastErr error
	for attempt := 1; attempt <= total; attempt++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err, lastErr)
		}

		lastErr = action(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == total {
			break
		}

		delay := e.Delay(attempt)
		if e.OnRetry != nil {
			e.OnRetry(attempt, delay, lastErr)
		}
		if err := sleep(ctx, delay); err != nil {
			return cancelled(err, lastErr)
		}
	}

	return &ExhaustedError{Attempts: total, Last: lastErr}
}

// Do atalho para uma execução única
func Do(ctx context.Context, policy types.RetryPolicy, action Action) error {
	return New(policy).Execute(ctx, action)
}

// sleep espera delay ou o cancelamento do contexto, o que vier primeiro
func sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cancelled(ctxErr, last error) error {
	if last != nil {
		return fmt.Errorf("%w: %w (last error: %v)", ErrCancelled, ctxErr, last)
	}
	return fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
}
