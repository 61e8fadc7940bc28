package routing

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateThresholdBoundary(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("console", types.TraceLevel))

	levels := []types.Level{
		types.TraceLevel, types.DebugLevel, types.InfoLevel, types.SuccessLevel,
		types.WarningLevel, types.ErrorLevel, types.CriticalLevel,
	}
	for _, lvl := range levels {
		task := fmt.Sprintf("task_%d", lvl)
		require.NoError(t, m.Bind(task, "console", lvl))

		assert.True(t, m.Evaluate("console", task, lvl), "level %s should pass", lvl)
		assert.False(t, m.Evaluate("console", task, lvl-1), "level %d should be filtered", lvl-1)
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("console", types.DebugLevel))
	require.NoError(t, m.AddTask("t1", nil))

	assert.False(t, m.Evaluate("console", "t1", types.CriticalLevel))
	assert.False(t, m.Evaluate("missing", "t1", types.CriticalLevel))
	assert.False(t, m.Evaluate("console", "missing", types.CriticalLevel))
}

func TestEffectiveThresholdUsesHandlerFloor(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("errors_only", types.ErrorLevel))
	require.NoError(t, m.AddTask("t1", []Binding{{Handler: "errors_only", Level: types.DebugLevel}}))

	assert.False(t, m.Evaluate("errors_only", "t1", types.WarningLevel))
	assert.True(t, m.Evaluate("errors_only", "t1", types.ErrorLevel))
}

func TestBindRequiresHandler(t *testing.T) {
	m := New()

	err := m.Bind("t1", "nope", types.InfoLevel)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestBindIsIdempotentAndOverwrites(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))

	require.NoError(t, m.Bind("t1", "h1", types.InfoLevel))
	require.NoError(t, m.Bind("t1", "h1", types.InfoLevel))
	require.NoError(t, m.Bind("t1", "h1", types.ErrorLevel))

	snap := m.Snapshot()
	require.Len(t, snap.Tasks["t1"], 1)
	assert.Equal(t, types.ErrorLevel, snap.Tasks["t1"][0].Level)
	require.Len(t, snap.Handlers["h1"].Tasks, 1)
	assert.Equal(t, types.ErrorLevel, snap.Handlers["h1"].Tasks[0].Level)
}

func TestUnbindMissingIsNoop(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))
	m.Unbind("t1", "h1")
	m.Unbind("t1", "unknown")
	assert.Empty(t, m.TasksFor("h1"))
}

func TestRemoveHandlerCascades(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))
	require.NoError(t, m.AddHandler("h2", types.TraceLevel))
	require.NoError(t, m.AddTask("t1", []Binding{
		{Handler: "h1", Level: types.InfoLevel},
		{Handler: "h2", Level: types.DebugLevel},
	}))

	require.NoError(t, m.RemoveHandler("h1"))

	assert.Equal(t, []string{"h2"}, m.HandlersFor("t1"))
	snap := m.Snapshot()
	_, exists := snap.Handlers["h1"]
	assert.False(t, exists)
	for _, b := range snap.Tasks["t1"] {
		assert.NotEqual(t, "h1", b.Name)
	}
}

func TestRemoveTaskCascades(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))
	require.NoError(t, m.AddTask("t1", []Binding{{Handler: "h1", Level: types.InfoLevel}}))
	require.NoError(t, m.AddTask("t2", []Binding{{Handler: "h1", Level: types.InfoLevel}}))

	require.NoError(t, m.RemoveTask("t1"))

	assert.Equal(t, []string{"t2"}, m.TasksFor("h1"))
	assert.False(t, m.HasTask("t1"))

	err := m.RemoveTask("t1")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDuplicateNames(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))
	require.NoError(t, m.AddTask("t1", nil))

	assert.True(t, errors.Is(m.AddHandler("h1", types.InfoLevel), apperrors.ErrAlreadyExists))
	assert.True(t, errors.Is(m.AddTask("t1", nil), apperrors.ErrAlreadyExists))
}

func TestAddTaskIsAllOrNothing(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))

	err := m.AddTask("t1", []Binding{
		{Handler: "h1", Level: types.InfoLevel},
		{Handler: "ghost", Level: types.InfoLevel},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.False(t, m.HasTask("t1"))
	assert.Empty(t, m.TasksFor("h1"))
}

func TestReplaceTaskSwapsBindings(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))
	require.NoError(t, m.AddHandler("h2", types.TraceLevel))
	require.NoError(t, m.AddTask("t1", []Binding{{Handler: "h1", Level: types.InfoLevel}}))

	require.NoError(t, m.ReplaceTask("t1", []Binding{{Handler: "h2", Level: types.ErrorLevel}}))
	assert.Equal(t, []string{"h2"}, m.HandlersFor("t1"))
	assert.Empty(t, m.TasksFor("h1"))

	// handler inexistente: estado anterior preservado
	err := m.ReplaceTask("t1", []Binding{{Handler: "ghost", Level: types.InfoLevel}})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.Equal(t, []string{"h2"}, m.HandlersFor("t1"))
}

func TestFilterReadsLiveState(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))
	require.NoError(t, m.AddTask("t1", []Binding{{Handler: "h1", Level: types.ErrorLevel}}))

	filter := m.Filter("h1")
	assert.False(t, filter("t1", types.InfoLevel))

	require.NoError(t, m.ReplaceTask("t1", []Binding{{Handler: "h1", Level: types.DebugLevel}}))
	assert.True(t, filter("t1", types.InfoLevel))

	require.NoError(t, m.SetHandlerFloor("h1", types.WarningLevel))
	assert.False(t, filter("t1", types.InfoLevel))
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.InfoLevel))
	require.NoError(t, m.AddTask("t1", []Binding{{Handler: "h1", Level: types.DebugLevel}}))

	snap := m.Snapshot()
	require.NoError(t, m.RemoveHandler("h1"))

	require.Len(t, snap.Tasks["t1"], 1)
	assert.Equal(t, types.InfoLevel, snap.Tasks["t1"][0].Effective)
}

// Leitores concorrentes nunca veem um binding em só uma das visões
func TestConcurrentMutationsKeepViewsConsistent(t *testing.T) {
	m := New()
	require.NoError(t, m.AddHandler("h1", types.TraceLevel))
	require.NoError(t, m.AddHandler("h2", types.TraceLevel))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			task := fmt.Sprintf("t%d", id)
			for j := 0; j < 200; j++ {
				_ = m.Bind(task, "h1", types.InfoLevel)
				_ = m.Bind(task, "h2", types.DebugLevel)
				m.Unbind(task, "h1")
			}
		}(i)
	}

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := m.Snapshot()
			for task, bindings := range snap.Tasks {
				for _, b := range bindings {
					found := false
					for _, bt := range snap.Handlers[b.Name].Tasks {
						if bt.Name == task {
							found = true
						}
					}
					if !found {
						t.Errorf("binding %s->%s missing from handler view", task, b.Name)
						return
					}
				}
			}
			m.Evaluate("h1", "t0", types.InfoLevel)
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()
}
