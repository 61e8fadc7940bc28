package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingCopier segura cada cópia até release ser fechado
type blockingCopier struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (b *blockingCopier) Copy(ctx context.Context, source, destination string) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return nil
}

func (b *blockingCopier) MkdirAll(ctx context.Context, dir string) error {
	return nil
}

func (b *blockingCopier) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// clearGateEnv garante que o gate avalie como habilitado
func clearGateEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DISABLE_COPY", "LOGMANAGER_ROLE", "SPARK_EXECUTOR_ID", "RAY_WORKER_ID", "RANK", "OMPI_COMM_WORLD_RANK"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func baseConfig(logDir string) string {
	return `
app:
  name: "test-app"
  version: "v1.0.0"
  log_level: "error"
  log_format: "text"

server:
  enabled: true
  port: 18401

metrics:
  enabled: false

formats:
  plain: "{level} {task} {message}"

handlers:
  audit:
    sink: ` + filepath.Join(logDir, "audit.log") + `
    level: INFO
    format: plain
  console:
    sink: stderr
    level: WARNING

tasks:
  ingest:
    - handler: audit
      level: DEBUG
    - handler: console

replication:
  final_copy_on_shutdown: false
`
}

func newTestApp(t *testing.T, content string) *App {
	t.Helper()
	clearGateEnv(t)

	app, err := New(writeConfig(t, t.TempDir(), content))
	require.NoError(t, err)
	t.Cleanup(func() { app.Stop() })
	return app
}

func doRequest(t *testing.T, app *App, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	return rec
}

// TestAppCreation tests the creation of a new app instance
func TestAppCreation(t *testing.T) {
	app := newTestApp(t, baseConfig(t.TempDir()))

	assert.Equal(t, "test-app", app.Config().App.Name)
	mappings := app.Manager().GetMappings()
	assert.Len(t, mappings.Handlers, 2)
	require.Len(t, mappings.Tasks["ingest"], 2)
	assert.Equal(t, "audit", mappings.Tasks["ingest"][0].Name)
	assert.Equal(t, types.InfoLevel, mappings.Tasks["ingest"][0].Effective)
}

// TestAppCreationWithInvalidConfig tests app creation with invalid config
func TestAppCreationWithInvalidConfig(t *testing.T) {
	app, err := New("/nonexistent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, app)

	dir := t.TempDir()
	path := writeConfig(t, dir, `
handlers:
  console:
    sink: stdout
tasks:
  ingest:
    - handler: ghost
`)
	app, err = New(path)
	assert.Error(t, err)
	assert.Nil(t, app)
}

// TestRecordsReachFileHandler tests routing through the configured handlers
func TestRecordsReachFileHandler(t *testing.T) {
	logDir := t.TempDir()
	app := newTestApp(t, baseConfig(logDir))

	log, err := app.Manager().GetLogger("ingest")
	require.NoError(t, err)
	log.Debug("filtered by handler floor")
	log.Info("rows loaded")

	require.NoError(t, app.Stop())

	data, err := os.ReadFile(filepath.Join(logDir, "audit.log"))
	require.NoError(t, err)
	assert.Equal(t, "INFO ingest rows loaded\n", string(data))
}

// TestHealthHandler tests the health check endpoint
func TestHealthHandler(t *testing.T) {
	app := newTestApp(t, baseConfig(t.TempDir()))

	rec := doRequest(t, app, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "v1.0.0", body["version"])
}

func TestHandlerEndpoints(t *testing.T) {
	logDir := t.TempDir()
	app := newTestApp(t, baseConfig(logDir))

	rec := doRequest(t, app, "POST", "/handlers", map[string]interface{}{
		"name": "errors", "sink": filepath.Join(logDir, "errors.log"), "level": "ERROR",
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, app, "POST", "/handlers", map[string]interface{}{"name": "errors", "sink": "stdout"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, app, "POST", "/handlers", map[string]interface{}{"name": "bad", "sink": "stdout", "level": "LOUD"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, app, "POST", "/handlers", map[string]interface{}{"name": "x", "unknown_field": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, app, "PUT", "/handlers/errors", map[string]interface{}{"sink": filepath.Join(logDir, "errors.log"), "level": "WARNING"})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, app, "PUT", "/handlers/missing", map[string]interface{}{"sink": "stdout"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, app, "GET", "/handlers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var handlers []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &handlers))
	assert.Len(t, handlers, 3)

	rec = doRequest(t, app, "DELETE", "/handlers/errors", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, app, "DELETE", "/handlers/errors", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaskEndpoints(t *testing.T) {
	app := newTestApp(t, baseConfig(t.TempDir()))

	rec := doRequest(t, app, "POST", "/tasks", map[string]interface{}{
		"name":     "export",
		"bindings": []map[string]string{{"handler": "console", "level": "ERROR"}},
	})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, app, "POST", "/tasks", map[string]interface{}{
		"name":     "orphan",
		"bindings": []map[string]string{{"handler": "ghost"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, app, "PUT", "/tasks/export", map[string]interface{}{
		"bindings": []map[string]string{{"handler": "audit"}},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, app, "GET", "/mappings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mappings types.Mappings
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &mappings))
	require.Len(t, mappings.Tasks["export"], 1)
	assert.Equal(t, "audit", mappings.Tasks["export"][0].Name)

	rec = doRequest(t, app, "DELETE", "/tasks/export", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, app, "PUT", "/tasks/export", map[string]interface{}{"bindings": []interface{}{}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplicationEndpoints(t *testing.T) {
	app := newTestApp(t, baseConfig(t.TempDir()))

	src := t.TempDir()
	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.log"), []byte("alpha"), 0644))

	op := map[string]interface{}{
		"name":        "logs",
		"patterns":    []string{filepath.Join(src, "*.log")},
		"destination": dst,
		"interval":    "1h",
	}
	rec := doRequest(t, app, "POST", "/replication", op)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, app, "POST", "/replication", op)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, app, "POST", "/replication", map[string]interface{}{"name": "broken", "destination": dst})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dst, "a.log"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(src, "b.log"), []byte("beta"), 0644))
	rec = doRequest(t, app, "POST", "/replication/logs/trigger", nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, err := os.Stat(filepath.Join(dst, "b.log"))
	assert.NoError(t, err)

	rec = doRequest(t, app, "POST", "/replication/missing/trigger", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, app, "GET", "/replication/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status types.OperationStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, types.OperationRunning, status.State)
	assert.GreaterOrEqual(t, status.Cycles, int64(2))

	rec = doRequest(t, app, "DELETE", "/replication/logs?timeout=2s", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, app, "DELETE", "/replication/logs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, app, "DELETE", "/replication/logs?timeout=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, app, "POST", "/replication/stop-all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"still_running":[]`)
}

func TestReplicationSkippedWhenGateDisabled(t *testing.T) {
	clearGateEnv(t)
	t.Setenv("DISABLE_COPY", "true")

	app, err := New(writeConfig(t, t.TempDir(), baseConfig(t.TempDir())))
	require.NoError(t, err)
	defer app.Stop()

	rec := doRequest(t, app, "GET", "/gate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var gateStatus types.GateStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &gateStatus))
	assert.False(t, gateStatus.Enabled)

	rec = doRequest(t, app, "POST", "/replication", map[string]interface{}{
		"name":        "logs",
		"patterns":    []string{filepath.Join(t.TempDir(), "*.log")},
		"destination": t.TempDir(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status types.OperationStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, types.OperationSkipped, status.State)
	assert.True(t, strings.Contains(status.Reason, "DISABLE_COPY"))
}

func TestConfigReloadAppliesDiff(t *testing.T) {
	clearGateEnv(t)
	logDir := t.TempDir()
	dir := t.TempDir()
	path := writeConfig(t, dir, baseConfig(logDir))

	app, err := New(path)
	require.NoError(t, err)
	defer app.Stop()

	updated := strings.Replace(baseConfig(logDir), `  console:
    sink: stderr
    level: WARNING
`, `  alerts:
    sink: stdout
    level: ERROR
`, 1)
	updated = strings.Replace(updated, "    - handler: console\n", "    - handler: alerts\n", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	rec := doRequest(t, app, "POST", "/config/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	mappings := app.Manager().GetMappings()
	_, hasConsole := mappings.Handlers["console"]
	assert.False(t, hasConsole)
	require.Len(t, mappings.Tasks["ingest"], 2)
	assert.Equal(t, "alerts", mappings.Tasks["ingest"][1].Name)
	assert.Equal(t, types.ErrorLevel, mappings.Tasks["ingest"][1].Effective)
	_, ok := app.Config().Handlers["alerts"]
	assert.True(t, ok)
}

func TestStatusAndStopAreSafe(t *testing.T) {
	app := newTestApp(t, baseConfig(t.TempDir()))

	rec := doRequest(t, app, "GET", "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, float64(2), status["handlers"])
	assert.Equal(t, float64(1), status["tasks"])

	assert.NoError(t, app.Stop())
	assert.NoError(t, app.Stop())
}

func TestConfigReloadRetriesOperationWhoseWorkerStoppedLate(t *testing.T) {
	clearGateEnv(t)
	logDir := t.TempDir()
	srcDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.log"), []byte("a"), 0644))

	withOperation := func(interval string) string {
		return strings.Replace(baseConfig(logDir), `replication:
  final_copy_on_shutdown: false
`, `replication:
  final_copy_on_shutdown: false
  stop_timeout: 50ms
  operations:
    - name: ship
      patterns:
        - `+filepath.Join(srcDir, "*.log")+`
      destination: block://bucket/out
      interval: `+interval+`
      max_retries: 0
`, 1)
	}

	path := writeConfig(t, t.TempDir(), withOperation("1h"))
	app, err := New(path)
	require.NoError(t, err)
	defer app.Stop()

	blocker := &blockingCopier{release: make(chan struct{})}
	app.copiers.Register("block", blocker)
	require.NoError(t, app.startConfiguredOperations())
	require.Eventually(t, func() bool { return blocker.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(withOperation("2h")), 0644))

	// o worker antigo está preso na cópia: a nova versão não pode iniciar
	rec := doRequest(t, app, "POST", "/config/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	status, err := app.Manager().GetReplication("ship")
	require.NoError(t, err)
	assert.Equal(t, types.OperationStopping, status.State)
	assert.Equal(t, "1h", app.Config().Replication.Operations[0].Interval)

	close(blocker.release)
	require.Eventually(t, func() bool {
		_, err := app.Manager().GetReplication("ship")
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	// o próximo reload vê a operação como alterada e inicia a nova versão
	rec = doRequest(t, app, "POST", "/config/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	status, err = app.Manager().GetReplication("ship")
	require.NoError(t, err)
	assert.Equal(t, types.OperationRunning, status.State)
	assert.Equal(t, 2*time.Hour, status.Interval)
	assert.Equal(t, "2h", app.Config().Replication.Operations[0].Interval)
}
