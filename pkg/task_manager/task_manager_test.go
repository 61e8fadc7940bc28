package task_manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

func newTestManager() types.TaskManager {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return New(Config{CleanupInterval: time.Minute}, logger)
}

func waitDone(t *testing.T, tm types.TaskManager, id string) {
	t.Helper()
	select {
	case <-tm.Done(id):
	case <-time.After(2 * time.Second):
		t.Fatalf("task %s did not finish", id)
	}
}

func TestTaskManagerBasicOperation(t *testing.T) {
	defer goleak.VerifyNone(t)

	tm := newTestManager()
	defer tm.Cleanup(time.Second)

	err := tm.StartTask(context.Background(), "test1", func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	waitDone(t, tm, "test1")

	status := tm.GetTaskStatus("test1")
	if status.State != types.TaskStateCompleted {
		t.Errorf("Expected state 'completed', got '%s'", status.State)
	}
	if tm.IsAlive("test1") {
		t.Error("Expected task to be dead after completion")
	}
}

func TestTaskManagerPanicRecovery(t *testing.T) {
	tm := newTestManager()
	defer tm.Cleanup(time.Second)

	err := tm.StartTask(context.Background(), "panic_task", func(ctx context.Context) error {
		panic("test panic")
	})
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	waitDone(t, tm, "panic_task")

	status := tm.GetTaskStatus("panic_task")
	if status.State != types.TaskStateFailed {
		t.Errorf("Expected state 'failed' after panic, got '%s'", status.State)
	}
	if len(status.LastError) < 5 || status.LastError[:5] != "panic" {
		t.Errorf("Expected panic error message, got '%s'", status.LastError)
	}
	if status.ErrorCount != 1 {
		t.Errorf("Expected error count 1, got %d", status.ErrorCount)
	}
}

func TestTaskManagerErrorHandling(t *testing.T) {
	tm := newTestManager()
	defer tm.Cleanup(time.Second)

	testErr := errors.New("test error")
	if err := tm.StartTask(context.Background(), "error_task", func(ctx context.Context) error {
		return testErr
	}); err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	waitDone(t, tm, "error_task")

	status := tm.GetTaskStatus("error_task")
	if status.State != types.TaskStateFailed {
		t.Errorf("Expected state 'failed', got '%s'", status.State)
	}
	if status.LastError != testErr.Error() {
		t.Errorf("Expected error '%s', got '%s'", testErr.Error(), status.LastError)
	}
}

func TestTaskManagerRejectsDuplicateWhileAlive(t *testing.T) {
	tm := newTestManager()
	defer tm.Cleanup(time.Second)

	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := tm.StartTask(context.Background(), "dup", block); err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}
	if err := tm.StartTask(context.Background(), "dup", block); err == nil {
		t.Error("Expected error starting a task that is still alive")
	}

	if !tm.StopTask("dup", time.Second) {
		t.Fatal("Expected task to stop within timeout")
	}
	if status := tm.GetTaskStatus("dup"); status.State != types.TaskStateStopped {
		t.Errorf("Expected state 'stopped', got '%s'", status.State)
	}

	// nome reutilizável após o término
	if err := tm.StartTask(context.Background(), "dup", block); err != nil {
		t.Errorf("Expected restart after stop to succeed: %v", err)
	}
}

func TestTaskManagerStopTimeoutReturnsFalseThenTerminates(t *testing.T) {
	tm := newTestManager()
	defer tm.Cleanup(time.Second)

	release := make(chan struct{})
	err := tm.StartTask(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}

	start := time.Now()
	if tm.StopTask("slow", 0) {
		t.Fatal("Expected StopTask with zero timeout to report false")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("StopTask with zero timeout blocked")
	}
	if status := tm.GetTaskStatus("slow"); status.State != types.TaskStateStopping {
		t.Errorf("Expected state 'stopping', got '%s'", status.State)
	}

	close(release)
	waitDone(t, tm, "slow")

	if tm.IsAlive("slow") {
		t.Error("Expected task to terminate after observing cancellation")
	}
}

func TestTaskManagerCleanupReportsStuckTasks(t *testing.T) {
	tm := newTestManager()

	release := make(chan struct{})
	_ = tm.StartTask(context.Background(), "quick", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	_ = tm.StartTask(context.Background(), "stuck", func(ctx context.Context) error {
		<-release
		return nil
	})

	stuck := tm.Cleanup(50 * time.Millisecond)
	if len(stuck) != 1 || stuck[0] != "stuck" {
		t.Errorf("Expected [stuck], got %v", stuck)
	}

	close(release)
	waitDone(t, tm, "stuck")
}

func TestTaskManagerConcurrentTasks(t *testing.T) {
	tm := newTestManager()
	defer tm.Cleanup(time.Second)

	const numTasks = 50
	var wg sync.WaitGroup
	wg.Add(numTasks)

	for i := 0; i < numTasks; i++ {
		go func(id string) {
			defer wg.Done()
			_ = tm.StartTask(context.Background(), id, func(ctx context.Context) error {
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}(fmt.Sprintf("task-%d", i))
	}
	wg.Wait()

	for i := 0; i < numTasks; i++ {
		waitDone(t, tm, fmt.Sprintf("task-%d", i))
	}

	completed := 0
	for _, status := range tm.GetAllTasks() {
		if status.State == types.TaskStateCompleted {
			completed++
		}
	}
	if completed != numTasks {
		t.Errorf("Expected %d completed tasks, got %d", numTasks, completed)
	}
}

func TestTaskManagerUnknownTask(t *testing.T) {
	tm := newTestManager()
	defer tm.Cleanup(time.Second)

	if status := tm.GetTaskStatus("ghost"); status.State != types.TaskStateNotFound {
		t.Errorf("Expected 'not_found', got '%s'", status.State)
	}
	if tm.Done("ghost") != nil {
		t.Error("Expected nil done channel for unknown task")
	}
	if !tm.StopTask("ghost", 0) {
		t.Error("Expected stopping an unknown task to report true")
	}
}
