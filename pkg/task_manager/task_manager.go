package task_manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

// Config configuração do task manager
type Config struct {
	// CleanupInterval intervalo entre varreduras de workers finalizados
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	// Retention tempo que um worker finalizado continua visível em GetAllTasks
	Retention time.Duration `yaml:"retention"`
}

// taskManager implementação do gerenciador de workers nomeados
type taskManager struct {
	config Config
	tasks  map[string]*task
	mutex  sync.RWMutex
	logger *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // Rastreia goroutine de cleanup
}

// task representa um worker
type task struct {
	ID         string
	Fn         func(context.Context) error
	State      string
	StartedAt  time.Time
	StoppedAt  time.Time
	ErrorCount int64
	LastError  string
	Context    context.Context
	Cancel     context.CancelFunc
	Done       chan struct{}
}

func (t *task) alive() bool {
	select {
	case <-t.Done:
		return false
	default:
		return true
	}
}

func (t *task) status() types.TaskStatus {
	return types.TaskStatus{
		ID:         t.ID,
		State:      t.State,
		StartedAt:  t.StartedAt,
		StoppedAt:  t.StoppedAt,
		ErrorCount: t.ErrorCount,
		LastError:  t.LastError,
	}
}

// New cria uma nova instância do task manager
func New(config Config, logger *logrus.Logger) types.TaskManager {
	if config.CleanupInterval == 0 {
		config.CleanupInterval = 1 * time.Minute
	}
	if config.Retention == 0 {
		config.Retention = 1 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	tm := &taskManager{
		config: config,
		tasks:  make(map[string]*task),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	// Iniciar goroutine de limpeza com rastreamento
	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		tm.cleanupLoop()
	}()

	return tm
}

// StartTask inicia um worker. Um worker com o mesmo ID ainda vivo (inclusive
// em "stopping") impede o início.
func (tm *taskManager) StartTask(ctx context.Context, taskID string, fn func(context.Context) error) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if existing, exists := tm.tasks[taskID]; exists && existing.alive() {
		return fmt.Errorf("task %s is already running", taskID)
	}

	taskCtx, taskCancel := context.WithCancel(ctx)

	newTask := &task{
		ID:        taskID,
		Fn:        fn,
		State:     types.TaskStateRunning,
		StartedAt: time.Now(),
		Context:   taskCtx,
		Cancel:    taskCancel,
		Done:      make(chan struct{}),
	}

	tm.tasks[taskID] = newTask

	go tm.runTask(newTask)

	tm.logger.WithField("task_id", taskID).Debug("Task started")
	return nil
}

// runTask executa o worker; panics viram estado "failed" e nunca escapam
func (tm *taskManager) runTask(t *task) {
	defer close(t.Done)
	defer t.Cancel()

	defer func() {
		if r := recover(); r != nil {
			tm.mutex.Lock()
			t.State = types.TaskStateFailed
			t.StoppedAt = time.Now()
			t.ErrorCount++
			t.LastError = fmt.Sprintf("panic: %v", r)
			tm.mutex.Unlock()

			tm.logger.WithFields(logrus.Fields{
				"task_id": t.ID,
				"error":   r,
			}).Error("Task panicked")
		}
	}()

	// Executar função da tarefa (sem lock)
	err := t.Fn(t.Context)

	tm.mutex.Lock()
	t.StoppedAt = time.Now()
	cancelled := t.Context.Err() != nil
	switch {
	case err != nil && !cancelled:
		t.State = types.TaskStateFailed
		t.ErrorCount++
		t.LastError = err.Error()
		tm.mutex.Unlock()

		tm.logger.WithFields(logrus.Fields{
			"task_id": t.ID,
			"error":   err,
		}).Error("Task failed")
		return
	case cancelled:
		t.State = types.TaskStateStopped
	default:
		t.State = types.TaskStateCompleted
	}
	tm.mutex.Unlock()

	tm.logger.WithFields(logrus.Fields{
		"task_id": t.ID,
		"state":   t.State,
	}).Debug("Task finished")
}

// StopTask cancela o worker e espera no máximo timeout. Retorna true somente
// se o término foi observado dentro do prazo; caso contrário o worker fica em
// "stopping" e termina sozinho.
func (tm *taskManager) StopTask(taskID string, timeout time.Duration) bool {
	tm.mutex.Lock()
	t, exists := tm.tasks[taskID]
	if !exists {
		tm.mutex.Unlock()
		return true
	}
	if t.alive() {
		t.State = types.TaskStateStopping
	}
	t.Cancel()
	done := t.Done
	tm.mutex.Unlock()

	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			tm.logger.WithField("task_id", taskID).Debug("Task still stopping")
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		tm.logger.WithField("task_id", taskID).Debug("Task stopped")
		return true
	case <-timer.C:
		tm.logger.WithFields(logrus.Fields{
			"task_id": taskID,
			"timeout": timeout,
		}).Warn("Task stop timeout")
		return false
	}
}

// IsAlive informa se a goroutine do worker ainda não terminou
func (tm *taskManager) IsAlive(taskID string) bool {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	t, exists := tm.tasks[taskID]
	return exists && t.alive()
}

// Done canal fechado quando o worker termina; nil para IDs desconhecidos
func (tm *taskManager) Done(taskID string) <-chan struct{} {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	if t, exists := tm.tasks[taskID]; exists {
		return t.Done
	}
	return nil
}

// GetTaskStatus retorna o status de uma tarefa
func (tm *taskManager) GetTaskStatus(taskID string) types.TaskStatus {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	t, exists := tm.tasks[taskID]
	if !exists {
		return types.TaskStatus{
			ID:    taskID,
			State: types.TaskStateNotFound,
		}
	}
	return t.status()
}

// GetAllTasks retorna o status de todas as tarefas
func (tm *taskManager) GetAllTasks() map[string]types.TaskStatus {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	result := make(map[string]types.TaskStatus, len(tm.tasks))
	for id, t := range tm.tasks {
		result[id] = t.status()
	}
	return result
}

// cleanupLoop loop de limpeza de workers finalizados
func (tm *taskManager) cleanupLoop() {
	ticker := time.NewTicker(tm.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-tm.ctx.Done():
			return
		case <-ticker.C:
			tm.cleanupTasks()
		}
	}
}

// cleanupTasks remove workers finalizados há mais de Retention
func (tm *taskManager) cleanupTasks() {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	now := time.Now()
	for id, t := range tm.tasks {
		if !t.alive() && now.Sub(t.StoppedAt) > tm.config.Retention {
			delete(tm.tasks, id)
			tm.logger.WithField("task_id", id).Debug("Task cleaned up")
		}
	}
}

// Cleanup cancela todos os workers, espera até timeout no total e retorna os
// IDs que não terminaram a tempo.
func (tm *taskManager) Cleanup(timeout time.Duration) []string {
	tm.cancel()
	tm.wg.Wait()

	tm.mutex.Lock()
	pending := make(map[string]chan struct{})
	for id, t := range tm.tasks {
		if t.alive() {
			t.State = types.TaskStateStopping
			t.Cancel()
			pending[id] = t.Done
		}
	}
	tm.mutex.Unlock()

	deadline := time.Now().Add(timeout)

	var stuck []string
	for id, done := range pending {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			select {
			case <-done:
			default:
				stuck = append(stuck, id)
			}
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-done:
		case <-timer.C:
			stuck = append(stuck, id)
		}
		timer.Stop()
	}
	sort.Strings(stuck)

	if len(stuck) > 0 {
		tm.logger.WithField("tasks", stuck).Warn("Task manager cleanup timed out")
	} else {
		tm.logger.Debug("Task manager cleanup completed")
	}
	return stuck
}
