package logmanager

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"ssw-logmanager/pkg/copier"
	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/gate"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	lines  []string
	levels []types.Level
	closed int
}

func (s *memSink) Write(level types.Level, line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, string(line))
	s.levels = append(s.levels, level)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *memSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines...)
}

func (s *memSink) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type sinkRecorder struct {
	mu     sync.Mutex
	sinks  map[string][]*memSink
	opened int
}

func (r *sinkRecorder) open(name string, cfg types.HandlerConfig, logger *logrus.Logger) (types.RecordSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &memSink{}
	r.sinks[name] = append(r.sinks[name], s)
	r.opened++
	return s, nil
}

func (r *sinkRecorder) last(name string) *memSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.sinks[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestManager(t *testing.T, env map[string]string) (*LogManager, *sinkRecorder) {
	t.Helper()

	rec := &sinkRecorder{sinks: make(map[string][]*memSink)}
	registry := copier.NewRegistry(newTestLogger())
	registry.Register(copier.SchemeFile, copier.NewLocalCopier())

	lm, err := New(Options{
		Name:        "test-app",
		Formats:     map[string]string{"short": "{level} {task} {message}"},
		Gate:        gate.New(types.GateConfig{}, env),
		Copiers:     registry,
		StopTimeout: time.Second,
		SinkFactory: rec.open,
	}, newTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = lm.Teardown(time.Second) })
	return lm, rec
}

func TestThresholdIsMaxOfFloorAndBinding(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("console", types.HandlerConfig{Sink: "stdout", Level: "INFO", Format: "short"}))
	require.NoError(t, lm.AddHandler("errors", types.HandlerConfig{Sink: "stderr", Level: "DEBUG", Format: "short"}))
	require.NoError(t, lm.AddTask("etl", []types.TaskBinding{
		{Handler: "console", Level: "DEBUG"},
		{Handler: "errors", Level: "ERROR"},
	}))

	log, err := lm.GetLogger("etl")
	require.NoError(t, err)

	log.Debug("debug line")
	log.Info("info line")
	log.Warning("warning line")
	log.Error("error line")

	assert.Equal(t, []string{
		"INFO etl info line\n",
		"WARNING etl warning line\n",
		"ERROR etl error line\n",
	}, rec.last("console").Lines())
	assert.Equal(t, []string{"ERROR etl error line\n"}, rec.last("errors").Lines())
}

func TestThresholdBoundaryIsInclusive(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("h", types.HandlerConfig{Sink: "stdout", Level: "SUCCESS", Format: "{level}"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "h"}}))

	log, err := lm.GetLogger("t")
	require.NoError(t, err)

	log.Info("below")
	log.Success("at")
	log.Log(types.Level(26), "above")

	assert.Equal(t, []string{"SUCCESS\n", "26\n"}, rec.last("h").Lines())
}

func TestRecordsOnlyReachBoundHandlers(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("a", types.HandlerConfig{Sink: "stdout", Format: "short"}))
	require.NoError(t, lm.AddHandler("b", types.HandlerConfig{Sink: "stdout", Format: "short"}))
	require.NoError(t, lm.AddTask("one", []types.TaskBinding{{Handler: "a"}}))
	require.NoError(t, lm.AddTask("two", []types.TaskBinding{{Handler: "b"}}))

	one, err := lm.GetLogger("one")
	require.NoError(t, err)
	two, err := lm.GetLogger("two")
	require.NoError(t, err)

	one.Info("from one")
	two.Info("from two")

	assert.Equal(t, []string{"INFO one from one\n"}, rec.last("a").Lines())
	assert.Equal(t, []string{"INFO two from two\n"}, rec.last("b").Lines())
}

func TestCriticalIsDeliveredWithoutExiting(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("h", types.HandlerConfig{Sink: "stdout", Format: "short"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "h", Level: "CRITICAL"}}))

	log, err := lm.GetLogger("t")
	require.NoError(t, err)
	log.Error("not enough")
	log.Critical("disk full")

	assert.Equal(t, []string{"CRITICAL t disk full\n"}, rec.last("h").Lines())
}

func TestGetLoggerUnknownTask(t *testing.T) {
	lm, _ := newTestManager(t, nil)

	_, err := lm.GetLogger("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestAddHandlerValidation(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("h", types.HandlerConfig{Sink: "stdout"}))

	err := lm.AddHandler("h", types.HandlerConfig{Sink: "stdout"})
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))

	err = lm.AddHandler("bad-level", types.HandlerConfig{Sink: "stdout", Level: "LOUD"})
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))

	err = lm.AddHandler("no-sink", types.HandlerConfig{})
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))

	err = lm.AddHandler("bad-format", types.HandlerConfig{Sink: "stdout", Format: "{bogus}"})
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))

	assert.Equal(t, 1, rec.opened)
}

func TestAddTaskIsAllOrNothing(t *testing.T) {
	lm, _ := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("h", types.HandlerConfig{Sink: "stdout"}))

	err := lm.AddTask("t", []types.TaskBinding{{Handler: "h"}, {Handler: "ghost"}})
	require.Error(t, err)

	_, err = lm.GetLogger("t")
	assert.Error(t, err)
	assert.Empty(t, lm.GetMappings().Handlers["h"].Tasks)

	err = lm.AddTask("t", []types.TaskBinding{{Handler: "h"}, {Handler: "h"}})
	assert.True(t, errors.Is(err, apperrors.ErrConfiguration))
}

func TestRemoveHandlerCascades(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("a", types.HandlerConfig{Sink: "stdout", Format: "short"}))
	require.NoError(t, lm.AddHandler("b", types.HandlerConfig{Sink: "stdout", Format: "short"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "a"}, {Handler: "b"}}))

	sinkA := rec.last("a")
	require.NoError(t, lm.RemoveHandler("a"))
	assert.Equal(t, 1, sinkA.Closed())

	mappings := lm.GetMappings()
	_, exists := mappings.Handlers["a"]
	assert.False(t, exists)
	require.Len(t, mappings.Tasks["t"], 1)
	assert.Equal(t, "b", mappings.Tasks["t"][0].Name)

	log, err := lm.GetLogger("t")
	require.NoError(t, err)
	log.Info("after removal")

	assert.Empty(t, sinkA.Lines())
	assert.Equal(t, []string{"INFO t after removal\n"}, rec.last("b").Lines())

	err = lm.RemoveHandler("a")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUpdateHandlerKeepsSinkWhenDestinationUnchanged(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("h", types.HandlerConfig{Sink: "stdout", Level: "ERROR", Format: "short"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "h"}}))
	log, err := lm.GetLogger("t")
	require.NoError(t, err)

	log.Info("dropped")
	require.NoError(t, lm.UpdateHandler("h", types.HandlerConfig{Sink: "stdout", Level: "INFO", Format: "{message}"}))
	log.Info("delivered")

	assert.Equal(t, 1, rec.opened)
	assert.Equal(t, []string{"delivered\n"}, rec.last("h").Lines())
	assert.Equal(t, types.InfoLevel, lm.GetMappings().Handlers["h"].Floor)

	first := rec.last("h")
	require.NoError(t, lm.UpdateHandler("h", types.HandlerConfig{Sink: "stderr"}))
	assert.Equal(t, 2, rec.opened)
	assert.Equal(t, 1, first.Closed())

	err = lm.UpdateHandler("missing", types.HandlerConfig{Sink: "stdout"})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestUpdateTaskReplacesBindings(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("a", types.HandlerConfig{Sink: "stdout", Format: "{message}"}))
	require.NoError(t, lm.AddHandler("b", types.HandlerConfig{Sink: "stdout", Format: "{message}"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "a"}}))

	require.NoError(t, lm.UpdateTask("t", []types.TaskBinding{{Handler: "b", Level: "WARNING"}}))

	log, err := lm.GetLogger("t")
	require.NoError(t, err)
	log.Info("quiet")
	log.Warning("loud")

	assert.Empty(t, rec.last("a").Lines())
	assert.Equal(t, []string{"loud\n"}, rec.last("b").Lines())

	err = lm.UpdateTask("missing", nil)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	require.NoError(t, lm.RemoveTask("t"))
	_, err = lm.GetLogger("t")
	assert.Error(t, err)
}

func TestJSONFormatCarriesSeverity(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("h", types.HandlerConfig{Sink: "stdout", Format: "json"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "h"}}))

	log, err := lm.GetLogger("t")
	require.NoError(t, err)
	log.WithField("rows", 42).Success("loaded")

	lines := rec.last("h").Lines()
	require.Len(t, lines, 1)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "SUCCESS", decoded["severity"])
	assert.Equal(t, "loaded", decoded["msg"])
	assert.Equal(t, "t", decoded["task"])
	assert.Equal(t, "test-app", decoded["name"])
	assert.Equal(t, float64(42), decoded["rows"])
	assert.NotContains(t, decoded, levelNoField)
}

func TestHandlersListing(t *testing.T) {
	lm, _ := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("b", types.HandlerConfig{Sink: "stdout", Level: "WARNING"}))
	require.NoError(t, lm.AddHandler("a", types.HandlerConfig{Sink: "stderr"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "b"}}))

	handlers := lm.Handlers()
	require.Len(t, handlers, 2)
	assert.Equal(t, "a", handlers[0].Name)
	assert.Equal(t, "b", handlers[1].Name)
	assert.Equal(t, types.WarningLevel, handlers[1].Floor)
	assert.Equal(t, []string{"t"}, handlers[1].Tasks)
}

func TestTeardownIsIdempotent(t *testing.T) {
	lm, rec := newTestManager(t, nil)

	require.NoError(t, lm.AddHandler("h", types.HandlerConfig{Sink: "stdout"}))
	require.NoError(t, lm.AddTask("t", []types.TaskBinding{{Handler: "h"}}))

	require.NoError(t, lm.Teardown(time.Second))
	require.NoError(t, lm.Teardown(time.Second))

	assert.Equal(t, 1, rec.last("h").Closed())
	assert.Empty(t, lm.GetMappings().Tasks)
	assert.Empty(t, lm.Handlers())
}

func TestStartReplicationSkippedWhenGateDisabled(t *testing.T) {
	lm, _ := newTestManager(t, map[string]string{"DISABLE_COPY": "1"})

	status, err := lm.StartReplication(context.Background(), types.OperationSpec{
		Name:        "logs",
		Patterns:    []string{t.TempDir() + "/*.log"},
		Destination: t.TempDir(),
		Interval:    time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, types.OperationSkipped, status.State)
	assert.True(t, strings.Contains(status.Reason, "DISABLE_COPY"))
	assert.False(t, lm.GateStatus().Enabled)
}

func TestStartReplicationsCollectsErrors(t *testing.T) {
	lm, _ := newTestManager(t, nil)

	started, err := lm.StartReplications(context.Background(), []types.OperationSpec{
		{Name: "ok", Patterns: []string{t.TempDir() + "/*.log"}, Destination: t.TempDir(), Interval: time.Hour},
		{Name: "", Patterns: []string{"*.log"}, Destination: t.TempDir(), Interval: time.Hour},
	})
	require.Error(t, err)
	require.Len(t, started, 1)
	assert.Equal(t, "ok", started[0].Name)

	ops := lm.ListReplicationOperations()
	require.Len(t, ops, 1)

	stopped, err := lm.StopReplication("ok", time.Second)
	require.NoError(t, err)
	assert.True(t, stopped)
}
