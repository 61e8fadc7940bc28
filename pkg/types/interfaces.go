// Package types - Interface definitions for pluggable components
package types

import (
	"context"
	"time"
)

// Copier defines the copy primitive used by replication workers.
//
// Implementations move one local file to a destination path expressed in the
// copier's own scheme (local path, webhdfs://, kafka://). Consistency and
// transport retries are internal to each implementation.
type Copier interface {
	// Copy copies source to destination, overwriting the destination
	Copy(ctx context.Context, source, destination string) error
	// MkdirAll ensures the destination directory exists
	MkdirAll(ctx context.Context, dir string) error
}

// RecordSink defines the interface for handler outputs.
//
// A sink receives records that already passed the routing predicate and
// were rendered by the handler's formatter.
type RecordSink interface {
	// Write delivers one formatted record
	Write(level Level, line []byte) error
	// Close flushes buffered data and releases resources
	Close() error
}

// TaskManager interface para gerenciamento de workers nomeados
type TaskManager interface {
	StartTask(ctx context.Context, taskID string, fn func(context.Context) error) error
	StopTask(taskID string, timeout time.Duration) bool
	IsAlive(taskID string) bool
	Done(taskID string) <-chan struct{}
	GetTaskStatus(taskID string) TaskStatus
	GetAllTasks() map[string]TaskStatus
	Cleanup(timeout time.Duration) []string
}

// TaskStatus representa o status de uma tarefa
type TaskStatus struct {
	ID         string    `json:"id"`
	State      string    `json:"state"` // "running", "stopping", "stopped", "failed", "completed"
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
	ErrorCount int64     `json:"error_count"`
	LastError  string    `json:"last_error,omitempty"`
}

const (
	TaskStateRunning   = "running"
	TaskStateStopping  = "stopping"
	TaskStateStopped   = "stopped"
	TaskStateCompleted = "completed"
	TaskStateFailed    = "failed"
	TaskStateNotFound  = "not_found"
)
