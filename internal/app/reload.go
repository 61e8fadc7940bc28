package app

import (
	"errors"
	"fmt"
	"time"

	"ssw-logmanager/internal/config"
	"ssw-logmanager/internal/metrics"
	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/hotreload"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

// applyConfigChange aplica ao LogManager a diferença entre duas configurações.
//
// Order matters: formats first so changed handlers pick up new templates,
// then handlers are added before the tasks that bind them, and removed
// handlers go last since their bindings cascade away. Every step runs even
// when an earlier one fails; the failures are joined.
//
// The returned config is the one now in effect. Operations whose old worker
// did not exit in time keep their old definition there, so the next reload
// sees them as changed again and retries the restart.
func (app *App) applyConfigChange(old, new *types.Config, diff hotreload.ConfigDiff) (*types.Config, error) {
	var errs []error
	record := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	app.manager.SetFormats(new.Formats)

	for _, name := range diff.HandlersAdded {
		record(app.manager.AddHandler(name, new.Handlers[name]))
	}
	for _, name := range diff.HandlersChanged {
		record(app.manager.UpdateHandler(name, new.Handlers[name]))
	}

	for _, name := range diff.TasksRemoved {
		record(app.manager.RemoveTask(name))
	}
	for _, name := range diff.TasksAdded {
		record(app.manager.AddTask(name, new.Tasks[name]))
	}
	for _, name := range diff.TasksChanged {
		record(app.manager.UpdateTask(name, new.Tasks[name]))
	}

	for _, name := range diff.HandlersRemoved {
		record(app.manager.RemoveHandler(name))
	}

	pending, err := app.applyOperationChanges(new, diff)
	record(err)

	applied := withOperationsFrom(new, old, pending)
	app.configMu.Lock()
	app.config = applied
	app.configMu.Unlock()

	err = errors.Join(errs...)
	metrics.RecordConfigReload(err == nil)

	app.logger.WithFields(logrus.Fields{
		"changes": diff.Summary(),
		"errors":  len(errs),
		"pending": pending,
	}).Info("Configuration changes applied")
	return applied, err
}

// withOperationsFrom copia cfg trocando as operações names pela versão de from
func withOperationsFrom(cfg, from *types.Config, names []string) *types.Config {
	if len(names) == 0 {
		return cfg
	}

	previous := make(map[string]types.ReplicationOperation, len(from.Replication.Operations))
	for _, op := range from.Replication.Operations {
		previous[op.Name] = op
	}

	copied := *cfg
	copied.Replication.Operations = make([]types.ReplicationOperation, len(cfg.Replication.Operations))
	copy(copied.Replication.Operations, cfg.Replication.Operations)
	for _, name := range names {
		for i, op := range copied.Replication.Operations {
			if op.Name == name {
				if prev, ok := previous[name]; ok {
					copied.Replication.Operations[i] = prev
				}
				break
			}
		}
	}
	return &copied
}

// applyOperationChanges para as operações removidas ou alteradas e inicia as
// novas versões. Retorna as operações alteradas cuja nova versão não pôde
// iniciar porque o worker antigo não terminou a tempo.
func (app *App) applyOperationChanges(new *types.Config, diff hotreload.ConfigDiff) ([]string, error) {
	var errs []error
	var pending []string
	timeout := config.DurationOr(new.Replication.StopTimeout, 10*time.Second)

	stop := func(name string) bool {
		stopped, err := app.manager.StopReplication(name, timeout)
		if errors.Is(err, apperrors.ErrNotFound) {
			// nunca chegou a ser registrada
			return true
		}
		if err != nil {
			errs = append(errs, err)
			return false
		}
		return stopped
	}
	late := func(name string) error {
		return fmt.Errorf("operation %s did not stop within %s", name, timeout)
	}

	// após um stop atrasado a entrada só some quando o worker termina
	reaped := func(name string) bool {
		deadline := time.Now().Add(timeout)
		for {
			_, err := app.manager.GetReplication(name)
			if errors.Is(err, apperrors.ErrNotFound) {
				return true
			}
			if time.Now().After(deadline) {
				return false
			}
			time.Sleep(10 * time.Millisecond)
		}
	}

	for _, name := range diff.OperationsRemoved {
		if !stop(name) {
			errs = append(errs, late(name))
		}
	}

	byName := make(map[string]types.ReplicationOperation, len(new.Replication.Operations))
	for _, op := range new.Replication.Operations {
		byName[op.Name] = op
	}

	start := func(name string) {
		spec, err := config.BuildOperationSpec(byName[name], new.Replication.Defaults)
		if err != nil {
			errs = append(errs, err)
			return
		}
		if _, err := app.manager.StartReplication(app.ctx, spec); err != nil {
			errs = append(errs, fmt.Errorf("operation %s: %w", name, err))
		}
	}

	for _, name := range diff.OperationsChanged {
		if stop(name) || reaped(name) {
			start(name)
			continue
		}
		errs = append(errs, late(name))
		pending = append(pending, name)
		app.logger.WithField("operation", name).Warn("Previous worker still running, restart left for the next reload")
	}
	for _, name := range diff.OperationsAdded {
		start(name)
	}

	return pending, errors.Join(errs...)
}
