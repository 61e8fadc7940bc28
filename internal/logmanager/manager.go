// Package logmanager is the façade over the routing map, the handler sinks
// and the replication manager. Records emitted through a TaskLogger reach a
// single logrus hook that asks the routing map, on the emitting goroutine,
// which handlers accept them.
package logmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"
	"time"

	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/internal/replication"
	"ssw-logmanager/internal/sinks"
	"ssw-logmanager/pkg/copier"
	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/gate"
	"ssw-logmanager/pkg/routing"
	"ssw-logmanager/pkg/tracing"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

const component = "logmanager"

// SinkFactory abre o sink de um handler
type SinkFactory func(name string, cfg types.HandlerConfig, logger *logrus.Logger) (types.RecordSink, error)

// Options configuração do LogManager
type Options struct {
	// Name valor do campo "name" em todos os registros
	Name    string
	Formats map[string]string

	Gate        *gate.Gate
	Copiers     *copier.Registry
	Tracer      *tracing.TracingManager
	Replication replication.Config

	FinalCopyOnShutdown bool
	StopTimeout         time.Duration

	// SinkFactory padrão é sinks.Open
	SinkFactory SinkFactory
}

// HandlerInfo visão pública de um handler registrado
type HandlerInfo struct {
	Name   string              `json:"name"`
	Config types.HandlerConfig `json:"config"`
	Floor  types.Level         `json:"floor"`
	Tasks  []string            `json:"tasks"`
}

type handler struct {
	name      string
	config    types.HandlerConfig
	sink      types.RecordSink
	formatter logrus.Formatter
	filter    routing.Predicate
}

// LogManager instância explícita; não há estado global
type LogManager struct {
	name   string
	opts   Options
	routes *routing.Map
	engine *logrus.Logger
	logger *logrus.Logger

	mu       sync.RWMutex
	handlers map[string]*handler
	formats  map[string]string

	replication *replication.Manager
	copiers     *copier.Registry
	ownsCopiers bool

	teardownOnce sync.Once
	teardownErr  error
}

// New cria o LogManager. logger recebe os diagnósticos internos; os
// registros das tasks passam por um logrus próprio.
func New(opts Options, logger *logrus.Logger) (*LogManager, error) {
	if opts.Name == "" {
		opts.Name = "logmanager"
	}
	if opts.SinkFactory == nil {
		opts.SinkFactory = sinks.Open
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 10 * time.Second
	}

	copiers := opts.Copiers
	ownsCopiers := false
	if copiers == nil {
		var err error
		copiers, err = copier.NewDefaultRegistry(types.ReplicationConfig{}, logger)
		if err != nil {
			return nil, err
		}
		ownsCopiers = true
	}

	g := opts.Gate
	if g == nil {
		g = gate.FromEnvironment(types.GateConfig{})
	}

	repl, err := replication.NewManager(opts.Replication, copiers, g, opts.Tracer, logger)
	if err != nil {
		return nil, err
	}

	lm := &LogManager{
		name:        opts.Name,
		opts:        opts,
		routes:      routing.New(),
		logger:      logger,
		handlers:    make(map[string]*handler),
		formats:     copyFormats(opts.Formats),
		replication: repl,
		copiers:     copiers,
		ownsCopiers: ownsCopiers,
	}

	engine := logrus.New()
	engine.SetOutput(io.Discard)
	engine.SetFormatter(discardFormatter{})
	engine.SetLevel(logrus.TraceLevel)
	engine.AddHook(&routingHook{lm: lm})
	lm.engine = engine

	return lm, nil
}

func copyFormats(formats map[string]string) map[string]string {
	out := make(map[string]string, len(formats))
	for k, v := range formats {
		out[k] = v
	}
	return out
}

// discardFormatter evita formatar registros que só os handlers escrevem
type discardFormatter struct{}

func (discardFormatter) Format(*logrus.Entry) ([]byte, error) { return nil, nil }

// routingHook entrega cada registro aos handlers que o aceitam
type routingHook struct {
	lm *LogManager
}

func (h *routingHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *routingHook) Fire(entry *logrus.Entry) error {
	h.lm.dispatch(entry)
	return nil
}

// dispatch roda na goroutine que emitiu o registro
func (lm *LogManager) dispatch(entry *logrus.Entry) {
	task, _ := entry.Data[TaskField].(string)
	level := LevelOf(entry)

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	for _, h := range lm.handlers {
		if !h.filter(task, level) {
			metrics.RecordRouted(h.name, false)
			continue
		}

		line, err := h.formatter.Format(entry)
		if err != nil {
			metrics.RecordSinkError(h.name, "format")
			continue
		}
		if err := h.sink.Write(level, line); err != nil {
			metrics.RecordSinkError(h.name, sinks.Kind(h.config.Sink))
			lm.logger.WithError(err).WithField("handler", h.name).Debug("Handler write failed")
			continue
		}
		metrics.RecordRouted(h.name, true)
	}
}

// prepareHandler valida a configuração e monta formatter (o sink é aberto à parte)
func (lm *LogManager) prepareHandler(name string, cfg types.HandlerConfig) (types.Level, logrus.Formatter, error) {
	if name == "" {
		return 0, nil, apperrors.ConfigError(component, "add_handler", "handler name is required")
	}
	if cfg.Sink == "" {
		return 0, nil, apperrors.ConfigError(component, "add_handler", fmt.Sprintf("handler %s: sink is required", name))
	}

	floor := types.TraceLevel
	if cfg.Level != "" {
		parsed, err := types.ParseLevel(cfg.Level)
		if err != nil {
			return 0, nil, apperrors.ConfigError(component, "add_handler", fmt.Sprintf("handler %s: %v", name, err))
		}
		floor = parsed
	}

	lm.mu.RLock()
	format, found := ResolveFormat(cfg.Format, lm.formats)
	lm.mu.RUnlock()
	if cfg.Format != "" && !found && !isBuiltinFormat(cfg.Format) {
		lm.logger.WithFields(logrus.Fields{
			"handler": name,
			"format":  cfg.Format,
		}).Warn("Format is not defined in the formats section, using it as is")
	}

	formatter, err := NewFormatter(format)
	if err != nil {
		return 0, nil, apperrors.ConfigError(component, "add_handler", fmt.Sprintf("handler %s: %v", name, err))
	}
	return floor, formatter, nil
}

func isBuiltinFormat(format string) bool {
	return format == FormatJSON || format == FormatText
}

// AddHandler registra um handler e abre seu sink
func (lm *LogManager) AddHandler(name string, cfg types.HandlerConfig) error {
	floor, formatter, err := lm.prepareHandler(name, cfg)
	if err != nil {
		return err
	}

	lm.mu.RLock()
	_, exists := lm.handlers[name]
	lm.mu.RUnlock()
	if exists {
		return apperrors.AlreadyExistsError(component, "add_handler", fmt.Sprintf("handler %s already exists", name))
	}

	sink, err := lm.opts.SinkFactory(name, cfg, lm.logger)
	if err != nil {
		return apperrors.ConfigError(component, "add_handler", err.Error()).Wrap(err)
	}

	lm.mu.Lock()
	if _, exists := lm.handlers[name]; exists {
		lm.mu.Unlock()
		sink.Close()
		return apperrors.AlreadyExistsError(component, "add_handler", fmt.Sprintf("handler %s already exists", name))
	}
	if err := lm.routes.AddHandler(name, floor); err != nil {
		lm.mu.Unlock()
		sink.Close()
		return err
	}
	lm.handlers[name] = &handler{
		name:      name,
		config:    cfg,
		sink:      sink,
		formatter: formatter,
		filter:    lm.routes.Filter(name),
	}
	lm.mu.Unlock()

	lm.logger.WithFields(logrus.Fields{
		"handler": name,
		"sink":    cfg.Sink,
		"level":   floor,
	}).Info("Handler added")
	return nil
}

// UpdateHandler replaces a handler's configuration. The sink is reopened
// only when its destination settings changed; bindings are kept.
func (lm *LogManager) UpdateHandler(name string, cfg types.HandlerConfig) error {
	floor, formatter, err := lm.prepareHandler(name, cfg)
	if err != nil {
		return err
	}

	lm.mu.RLock()
	current, exists := lm.handlers[name]
	lm.mu.RUnlock()
	if !exists {
		return apperrors.NotFoundError(component, "update_handler", fmt.Sprintf("handler %s does not exist", name))
	}

	var newSink types.RecordSink
	if !sameSink(current.config, cfg) {
		newSink, err = lm.opts.SinkFactory(name, cfg, lm.logger)
		if err != nil {
			return apperrors.ConfigError(component, "update_handler", err.Error()).Wrap(err)
		}
	}

	lm.mu.Lock()
	h, exists := lm.handlers[name]
	if !exists {
		lm.mu.Unlock()
		if newSink != nil {
			newSink.Close()
		}
		return apperrors.NotFoundError(component, "update_handler", fmt.Sprintf("handler %s does not exist", name))
	}
	if err := lm.routes.SetHandlerFloor(name, floor); err != nil {
		lm.mu.Unlock()
		if newSink != nil {
			newSink.Close()
		}
		return err
	}

	var oldSink types.RecordSink
	if newSink != nil {
		oldSink = h.sink
		h.sink = newSink
	}
	h.config = cfg
	h.formatter = formatter
	lm.mu.Unlock()

	if oldSink != nil {
		if err := oldSink.Close(); err != nil {
			lm.logger.WithError(err).WithField("handler", name).Warn("Failed to close replaced sink")
		}
	}

	lm.logger.WithFields(logrus.Fields{
		"handler":  name,
		"level":    floor,
		"reopened": newSink != nil,
	}).Info("Handler updated")
	return nil
}

// sameSink compara os campos que definem o destino do sink
func sameSink(a, b types.HandlerConfig) bool {
	return a.Sink == b.Sink &&
		a.MaxSizeMB == b.MaxSizeMB &&
		a.MaxBackups == b.MaxBackups &&
		a.FileMode == b.FileMode &&
		a.Compress == b.Compress &&
		reflect.DeepEqual(a.Loki, b.Loki) &&
		reflect.DeepEqual(a.Email, b.Email)
}

// RemoveHandler remove o handler, seus bindings e fecha o sink
func (lm *LogManager) RemoveHandler(name string) error {
	lm.mu.Lock()
	h, exists := lm.handlers[name]
	if !exists {
		lm.mu.Unlock()
		return apperrors.NotFoundError(component, "remove_handler", fmt.Sprintf("handler %s does not exist", name))
	}
	if err := lm.routes.RemoveHandler(name); err != nil {
		lm.mu.Unlock()
		return err
	}
	delete(lm.handlers, name)
	lm.mu.Unlock()

	if err := h.sink.Close(); err != nil {
		lm.logger.WithError(err).WithField("handler", name).Warn("Failed to close sink")
	}
	lm.logger.WithField("handler", name).Info("Handler removed")
	return nil
}

// Handlers lista os handlers registrados, ordenados por nome
func (lm *LogManager) Handlers() []HandlerInfo {
	snapshot := lm.routes.Snapshot()

	lm.mu.RLock()
	defer lm.mu.RUnlock()

	out := make([]HandlerInfo, 0, len(lm.handlers))
	for name, h := range lm.handlers {
		info := HandlerInfo{Name: name, Config: h.config}
		if view, ok := snapshot.Handlers[name]; ok {
			info.Floor = view.Floor
			for _, b := range view.Tasks {
				info.Tasks = append(info.Tasks, b.Name)
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetFormats substitui os formats nomeados. Handlers existentes mantêm o
// formatter até serem atualizados.
func (lm *LogManager) SetFormats(formats map[string]string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.formats = copyFormats(formats)
}

func parseBindings(op, task string, bindings []types.TaskBinding) ([]routing.Binding, error) {
	out := make([]routing.Binding, 0, len(bindings))
	seen := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		if b.Handler == "" {
			return nil, apperrors.ConfigError(component, op, fmt.Sprintf("task %s: binding without handler", task))
		}
		if seen[b.Handler] {
			return nil, apperrors.ConfigError(component, op, fmt.Sprintf("task %s: handler %s bound twice", task, b.Handler))
		}
		seen[b.Handler] = true

		level := types.TraceLevel
		if b.Level != "" {
			parsed, err := types.ParseLevel(b.Level)
			if err != nil {
				return nil, apperrors.ConfigError(component, op, fmt.Sprintf("task %s: %v", task, err))
			}
			level = parsed
		}
		out = append(out, routing.Binding{Handler: b.Handler, Level: level})
	}
	return out, nil
}

// AddTask registra uma task com seus bindings (tudo ou nada)
func (lm *LogManager) AddTask(name string, bindings []types.TaskBinding) error {
	if name == "" {
		return apperrors.ConfigError(component, "add_task", "task name is required")
	}
	parsed, err := parseBindings("add_task", name, bindings)
	if err != nil {
		return err
	}
	if err := lm.routes.AddTask(name, parsed); err != nil {
		return err
	}

	lm.logger.WithFields(logrus.Fields{
		"task":     name,
		"handlers": len(parsed),
	}).Info("Task added")
	return nil
}

// UpdateTask troca atomicamente os bindings de uma task existente
func (lm *LogManager) UpdateTask(name string, bindings []types.TaskBinding) error {
	parsed, err := parseBindings("update_task", name, bindings)
	if err != nil {
		return err
	}
	if err := lm.routes.ReplaceTask(name, parsed); err != nil {
		return err
	}

	lm.logger.WithFields(logrus.Fields{
		"task":     name,
		"handlers": len(parsed),
	}).Info("Task updated")
	return nil
}

// RemoveTask remove a task e seus bindings
func (lm *LogManager) RemoveTask(name string) error {
	if err := lm.routes.RemoveTask(name); err != nil {
		return err
	}
	lm.logger.WithField("task", name).Info("Task removed")
	return nil
}

// GetLogger retorna o logger de uma task registrada
func (lm *LogManager) GetLogger(task string) (*TaskLogger, error) {
	if !lm.routes.HasTask(task) {
		return nil, apperrors.NotFoundError(component, "get_logger", fmt.Sprintf("task %s does not exist", task))
	}
	return newTaskLogger(lm.engine, lm.name, task), nil
}

// GetMappings snapshot das duas visões do mapa de roteamento
func (lm *LogManager) GetMappings() types.Mappings {
	return lm.routes.Snapshot()
}

// StartReplication registra e inicia uma operação de replicação
func (lm *LogManager) StartReplication(ctx context.Context, spec types.OperationSpec) (types.OperationStatus, error) {
	return lm.replication.Start(ctx, spec)
}

// StartReplications starts every spec, continuing past failures, and
// returns the statuses of the operations that were registered together with
// the joined errors of the rest.
func (lm *LogManager) StartReplications(ctx context.Context, specs []types.OperationSpec) ([]types.OperationStatus, error) {
	var (
		started []types.OperationStatus
		errs    []error
	)
	for _, spec := range specs {
		status, err := lm.replication.Start(ctx, spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("operation %s: %w", spec.Name, err))
			continue
		}
		started = append(started, status)
	}
	return started, errors.Join(errs...)
}

// StopReplication para uma operação
func (lm *LogManager) StopReplication(name string, timeout time.Duration) (bool, error) {
	return lm.replication.Stop(name, timeout)
}

// StopAllReplication para todas as operações; retorna as que não pararam a tempo
func (lm *LogManager) StopAllReplication(timeout time.Duration) []string {
	return lm.replication.StopAll(timeout)
}

// ListReplicationOperations snapshot ordenado das operações
func (lm *LogManager) ListReplicationOperations() []types.OperationStatus {
	return lm.replication.List()
}

// GetReplication snapshot de uma operação
func (lm *LogManager) GetReplication(name string) (types.OperationStatus, error) {
	return lm.replication.Get(name)
}

// TriggerReplication executa agora uma passada das operações indicadas
// (ou de todas as ativas)
func (lm *LogManager) TriggerReplication(ctx context.Context, names ...string) error {
	return lm.replication.TriggerNow(ctx, names...)
}

// GateStatus decisão do gate distribuído
func (lm *LogManager) GateStatus() types.GateStatus {
	return lm.replication.GateStatus()
}

// Teardown stops every operation and runs the optional final copy, both
// within timeout, then closes all sinks and clears the routing map. Later calls return
// the first call's result.
func (lm *LogManager) Teardown(timeout time.Duration) error {
	lm.teardownOnce.Do(func() {
		if timeout <= 0 {
			timeout = lm.opts.StopTimeout
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		stuck := lm.replication.Shutdown(ctx, timeout, lm.opts.FinalCopyOnShutdown)
		cancel()
		if len(stuck) > 0 {
			lm.logger.WithField("operations", stuck).Warn("Replication workers still running at teardown")
		}

		lm.mu.Lock()
		handlers := lm.handlers
		lm.handlers = make(map[string]*handler)
		lm.routes.Clear()
		lm.mu.Unlock()

		var errs []error
		for name, h := range handlers {
			if err := h.sink.Close(); err != nil {
				errs = append(errs, fmt.Errorf("handler %s: %w", name, err))
			}
		}

		if lm.ownsCopiers {
			if err := lm.copiers.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		lm.teardownErr = errors.Join(errs...)
		lm.logger.WithField("handlers", len(handlers)).Info("Log manager torn down")
	})
	return lm.teardownErr
}
