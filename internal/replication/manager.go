// Package replication runs the periodic log replication operations. Each
// operation owns one worker goroutine that resolves its patterns, copies
// every matched file to the destination with retry and waits for the next
// cycle. Per-file and per-cycle failures are logged and counted; they never
// leave the worker.
package replication

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/pkg/compression"
	"ssw-logmanager/pkg/copier"
	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/gate"
	"ssw-logmanager/pkg/patterns"
	"ssw-logmanager/pkg/task_manager"
	"ssw-logmanager/pkg/tracing"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

const component = "replication"

// Config configuração do gerenciador
type Config struct {
	// TempDir recebe os arquivos comprimidos antes do envio (os.TempDir quando vazio)
	TempDir string
	// PatternCacheSize tamanho do cache de padrões compilados
	PatternCacheSize int
	// TaskRetention tempo que workers finalizados ficam visíveis no task manager
	TaskRetention time.Duration
}

// Manager registro das operações de replicação
type Manager struct {
	config   Config
	copiers  *copier.Registry
	gate     *gate.Gate
	tracer   *tracing.TracingManager
	resolver *patterns.Resolver
	tasks    types.TaskManager
	logger   *logrus.Logger

	mu           sync.Mutex
	operations   map[string]*operation
	shuttingDown bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager cria o gerenciador. gate nil equivale a um gate habilitado e
// tracer nil desativa o rastreamento.
func NewManager(config Config, copiers *copier.Registry, g *gate.Gate, tracer *tracing.TracingManager, logger *logrus.Logger) (*Manager, error) {
	if copiers == nil {
		return nil, fmt.Errorf("copier registry is required")
	}
	if g == nil {
		g = gate.New(types.GateConfig{}, nil)
	}
	if tracer == nil {
		tracer = tracing.NewNoopManager(logger)
	}
	if config.PatternCacheSize <= 0 {
		config.PatternCacheSize = 256
	}

	resolver, err := patterns.NewResolver(config.PatternCacheSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:     config,
		copiers:    copiers,
		gate:       g,
		tracer:     tracer,
		resolver:   resolver,
		tasks:      task_manager.New(task_manager.Config{Retention: config.TaskRetention}, logger),
		logger:     logger,
		operations: make(map[string]*operation),
		ctx:        ctx,
		cancel:     cancel,
	}

	metrics.SetGateEnabled(g.Enabled())
	if !g.Enabled() {
		logger.WithField("reason", g.Reason()).Info("Replication disabled on this process")
	}

	return m, nil
}

// GateStatus decisão do gate com as variáveis consultadas
func (m *Manager) GateStatus() types.GateStatus {
	return m.gate.Status()
}

// Validate checks an operation definition without registering it.
func (m *Manager) Validate(spec types.OperationSpec) error {
	invalid := func(format string, args ...interface{}) error {
		return apperrors.ConfigError(component, "validate", fmt.Sprintf(format, args...)).
			WithMetadata("operation", spec.Name)
	}

	switch {
	case spec.Name == "":
		return invalid("operation name is required")
	case len(spec.Patterns) == 0:
		return invalid("operation %s has no patterns", spec.Name)
	case spec.Destination == "":
		return invalid("operation %s has no destination", spec.Name)
	case spec.Interval <= 0:
		return invalid("operation %s: interval must be positive, got %s", spec.Name, spec.Interval)
	case spec.Retry.MaxRetries < 0:
		return invalid("operation %s: max_retries must not be negative", spec.Name)
	case spec.Retry.Delay < 0:
		return invalid("operation %s: retry delay must not be negative", spec.Name)
	case spec.Retry.BackoffMultiplier != 0 && spec.Retry.BackoffMultiplier < 1:
		return invalid("operation %s: backoff multiplier must be >= 1, got %g", spec.Name, spec.Retry.BackoffMultiplier)
	case spec.Retry.MaxDelay < 0:
		return invalid("operation %s: max retry delay must not be negative", spec.Name)
	}

	for _, p := range spec.Patterns {
		if p == "" {
			return invalid("operation %s has an empty pattern", spec.Name)
		}
	}

	if spec.PreserveStructure && rootFor(spec) == "" {
		return invalid("operation %s preserves structure but has no usable root directory", spec.Name)
	}

	if err := m.copiers.Validate(spec.Destination); err != nil {
		return apperrors.ConfigError(component, "validate", err.Error()).
			WithMetadata("operation", spec.Name).Wrap(err)
	}

	if _, err := compression.Parse(spec.Compression); err != nil {
		return apperrors.ConfigError(component, "validate", err.Error()).
			WithMetadata("operation", spec.Name).Wrap(err)
	}

	return nil
}

// Start registers spec and spawns its worker. When the gate disables
// replication on this process the operation is registered as skipped and
// no worker is started; the returned error is nil in that case.
//
// The worker is bound to the manager's lifetime, not to ctx.
func (m *Manager) Start(ctx context.Context, spec types.OperationSpec) (types.OperationStatus, error) {
	if err := m.Validate(spec); err != nil {
		return types.OperationStatus{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown {
		return types.OperationStatus{}, apperrors.ConfigError(component, "start", "replication manager is shutting down").
			WithMetadata("operation", spec.Name)
	}

	if existing, ok := m.operations[spec.Name]; ok && existing.active() {
		return types.OperationStatus{}, apperrors.AlreadyRunningError(component, "start",
			fmt.Sprintf("operation %s is already running", spec.Name)).
			WithMetadata("state", existing.state)
	}

	op := newOperation(spec)

	if !m.gate.Enabled() {
		op.state = types.OperationSkipped
		op.reason = m.gate.Reason()
		m.operations[spec.Name] = op
		m.publishStatesLocked()

		m.logger.WithFields(logrus.Fields{
			"operation": spec.Name,
			"reason":    op.reason,
		}).Info("Replication operation skipped")
		return op.status(), nil
	}

	op.state = types.OperationRunning
	op.startedAt = time.Now()

	err := m.tasks.StartTask(m.ctx, taskID(spec.Name), func(workerCtx context.Context) error {
		return m.runWorker(workerCtx, op)
	})
	if err != nil {
		return types.OperationStatus{}, apperrors.AlreadyRunningError(component, "start", err.Error()).Wrap(err)
	}

	m.operations[spec.Name] = op
	m.publishStatesLocked()

	m.logger.WithFields(logrus.Fields{
		"operation":   spec.Name,
		"destination": spec.Destination,
		"interval":    spec.Interval,
		"patterns":    spec.Patterns,
	}).Info("Replication operation started")

	return op.status(), nil
}

// Stop cancels the named operation and waits at most timeout for its worker.
// It reports true when the worker stopped in time (or never ran). On false
// the operation stays registered as stopping and is removed once its worker
// exits.
func (m *Manager) Stop(name string, timeout time.Duration) (bool, error) {
	m.mu.Lock()
	op, ok := m.operations[name]
	if !ok {
		m.mu.Unlock()
		return false, apperrors.NotFoundError(component, "stop", fmt.Sprintf("operation %s not found", name))
	}

	if !op.active() {
		delete(m.operations, name)
		m.publishStatesLocked()
		m.mu.Unlock()

		m.logger.WithField("operation", name).Info("Replication operation removed")
		return true, nil
	}

	op.state = types.OperationStopping
	m.publishStatesLocked()
	m.mu.Unlock()

	stopped := m.tasks.StopTask(taskID(name), timeout)

	m.logger.WithFields(logrus.Fields{
		"operation": name,
		"stopped":   stopped,
	}).Info("Replication operation stop requested")

	return stopped, nil
}

// StopAll cancels every operation and waits up to timeout in total. It
// returns the sorted names of operations whose workers were still running
// when the deadline passed.
func (m *Manager) StopAll(timeout time.Duration) []string {
	return m.stopAllUntil(time.Now().Add(timeout))
}

func (m *Manager) stopAllUntil(deadline time.Time) []string {
	m.mu.Lock()
	pending := make(map[string]<-chan struct{})
	for name, op := range m.operations {
		if !op.active() {
			delete(m.operations, name)
			continue
		}
		op.state = types.OperationStopping
		pending[name] = m.tasks.Done(taskID(name))
	}
	m.publishStatesLocked()
	m.mu.Unlock()

	for name := range pending {
		m.tasks.StopTask(taskID(name), 0)
	}

	var stuck []string
	for name, done := range pending {
		if done == nil {
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			select {
			case <-done:
			default:
				stuck = append(stuck, name)
			}
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-done:
		case <-timer.C:
			stuck = append(stuck, name)
		}
		timer.Stop()
	}
	sort.Strings(stuck)

	if len(stuck) > 0 {
		m.logger.WithField("operations", stuck).Warn("Replication operations did not stop in time")
	} else if len(pending) > 0 {
		m.logger.WithField("count", len(pending)).Info("All replication operations stopped")
	}

	return stuck
}

// List snapshot de todas as operações, ordenado por nome
func (m *Manager) List() []types.OperationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]types.OperationStatus, 0, len(m.operations))
	for _, op := range m.operations {
		result = append(result, op.status())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Get snapshot de uma operação
func (m *Manager) Get(name string) (types.OperationStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.operations[name]
	if !ok {
		return types.OperationStatus{}, apperrors.NotFoundError(component, "get", fmt.Sprintf("operation %s not found", name))
	}
	return op.status(), nil
}

// TriggerNow runs one synchronous pass of the named operations, or of every
// running operation when no name is given, outside their schedule. Passes
// are serialized with the worker's own cycles.
func (m *Manager) TriggerNow(ctx context.Context, names ...string) error {
	targets, err := m.lookupRunning(names)
	if err != nil {
		return err
	}

	for _, op := range targets {
		stats, err := m.runCycle(ctx, op)
		if err != nil {
			return err
		}
		m.logger.WithFields(logrus.Fields{
			"operation": op.spec.Name,
			"succeeded": stats.Succeeded,
			"failed":    stats.Failed,
		}).Info("Triggered replication pass finished")
	}
	return nil
}

func (m *Manager) lookupRunning(names []string) ([]*operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var targets []*operation
	if len(names) == 0 {
		for _, op := range m.operations {
			if op.state == types.OperationRunning {
				targets = append(targets, op)
			}
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i].spec.Name < targets[j].spec.Name })
		return targets, nil
	}

	var errs []error
	for _, name := range names {
		op, ok := m.operations[name]
		if !ok {
			errs = append(errs, apperrors.NotFoundError(component, "trigger", fmt.Sprintf("operation %s not found", name)))
			continue
		}
		if op.state != types.OperationRunning {
			m.logger.WithFields(logrus.Fields{
				"operation": name,
				"state":     op.state,
			}).Debug("Skipping trigger for inactive operation")
			continue
		}
		targets = append(targets, op)
	}
	return targets, errors.Join(errs...)
}

// Shutdown rejects new operations, stops every worker and, when finalCopy
// is set, runs one last pass of the operations that were running. Stopping
// and the final pass share a single deadline of timeout, so a worker stuck in
// a retry backoff cannot stretch it. It returns the names of workers that did
// not stop in time. Calling it again is harmless.
func (m *Manager) Shutdown(ctx context.Context, timeout time.Duration, finalCopy bool) []string {
	deadline := time.Now().Add(timeout)

	m.mu.Lock()
	m.shuttingDown = true
	var final []*operation
	if finalCopy && m.gate.Enabled() {
		for _, op := range m.operations {
			if op.state == types.OperationRunning {
				final = append(final, op)
			}
		}
	}
	m.mu.Unlock()
	sort.Slice(final, func(i, j int) bool { return final[i].spec.Name < final[j].spec.Name })

	stuck := m.stopAllUntil(deadline)

	if len(final) > 0 {
		passCtx, cancel := context.WithDeadline(ctx, deadline)
		for _, op := range final {
			stats, err := m.runCycle(passCtx, op)
			if err != nil {
				m.logger.WithError(err).WithField("operation", op.spec.Name).Warn("Final replication pass interrupted")
				continue
			}
			m.logger.WithFields(logrus.Fields{
				"operation": op.spec.Name,
				"succeeded": stats.Succeeded,
				"failed":    stats.Failed,
			}).Info("Final replication pass finished")
		}
		cancel()
	}

	m.cancel()
	m.tasks.Cleanup(0)

	return stuck
}

// publishStatesLocked publica a contagem por estado; requer m.mu
func (m *Manager) publishStatesLocked() {
	counts := make(map[string]int)
	for _, op := range m.operations {
		counts[op.state]++
	}
	metrics.SetOperationStates(counts)
}

// finish é chamado pelo worker ao sair, com o erro de término (se houver)
func (m *Manager) finish(op *operation, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, registered := m.operations[op.spec.Name]
	if !registered || current != op {
		return
	}

	if op.state == types.OperationStopping {
		delete(m.operations, op.spec.Name)
		m.publishStatesLocked()
		m.logger.WithField("operation", op.spec.Name).Debug("Replication worker reaped")
		return
	}

	if err != nil {
		op.state = types.OperationFailed
		op.lastError = err.Error()
	} else {
		op.state = types.OperationStopped
	}
	m.publishStatesLocked()
}

func taskID(name string) string {
	return "replication:" + name
}

// rootFor diretório base para preserve_structure
func rootFor(spec types.OperationSpec) string {
	if spec.RootDir != "" {
		if abs, err := filepath.Abs(spec.RootDir); err == nil {
			return abs
		}
		return filepath.Clean(spec.RootDir)
	}

	bases := make([]string, 0, len(spec.Patterns))
	for _, p := range spec.Patterns {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		bases = append(bases, patterns.Base(abs))
	}
	return patterns.CommonAncestor(bases)
}
