package app

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ssw-logmanager/internal/config"
	"ssw-logmanager/internal/metrics"
	apperrors "ssw-logmanager/pkg/errors"
	"ssw-logmanager/pkg/tracing"
	"ssw-logmanager/pkg/types"

	"github.com/gorilla/mux"
)

// statusRecorder guarda o status escrito pelo handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// metricsMiddleware records count and latency per route template
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RecordHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}

// registerHandlers configures the admin routes.
//
//   - GET /health, GET /status, GET /gate, GET /mappings
//   - GET|POST /handlers, PUT|DELETE /handlers/{name}
//   - GET|POST /tasks, PUT|DELETE /tasks/{name}
//   - GET|POST /replication, GET|DELETE /replication/{name}
//   - POST /replication/trigger, POST /replication/{name}/trigger
//   - POST /replication/stop-all
//   - POST /config/reload
//
// Errors are JSON bodies; configuration errors map to 400, unknown names to
// 404 and duplicates to 409.
func (app *App) registerHandlers(router *mux.Router) {
	router.Use(metricsMiddleware)
	if app.tracingManager != nil && app.tracingManager.Enabled() {
		router.Use(tracing.TraceHandler(app.tracingManager.GetTracer(), "admin_request"))
	}

	router.HandleFunc("/health", app.healthHandler).Methods("GET")
	router.HandleFunc("/status", app.statusHandler).Methods("GET")
	router.HandleFunc("/gate", app.gateHandler).Methods("GET")
	router.HandleFunc("/mappings", app.mappingsHandler).Methods("GET")

	router.HandleFunc("/handlers", app.listHandlersHandler).Methods("GET")
	router.HandleFunc("/handlers", app.addHandlerHandler).Methods("POST")
	router.HandleFunc("/handlers/{name}", app.updateHandlerHandler).Methods("PUT")
	router.HandleFunc("/handlers/{name}", app.removeHandlerHandler).Methods("DELETE")

	router.HandleFunc("/tasks", app.listTasksHandler).Methods("GET")
	router.HandleFunc("/tasks", app.addTaskHandler).Methods("POST")
	router.HandleFunc("/tasks/{name}", app.updateTaskHandler).Methods("PUT")
	router.HandleFunc("/tasks/{name}", app.removeTaskHandler).Methods("DELETE")

	router.HandleFunc("/replication", app.listReplicationHandler).Methods("GET")
	router.HandleFunc("/replication", app.startReplicationHandler).Methods("POST")
	router.HandleFunc("/replication/stop-all", app.stopAllReplicationHandler).Methods("POST")
	router.HandleFunc("/replication/trigger", app.triggerReplicationHandler).Methods("POST")
	router.HandleFunc("/replication/{name}", app.getReplicationHandler).Methods("GET")
	router.HandleFunc("/replication/{name}", app.stopReplicationHandler).Methods("DELETE")
	router.HandleFunc("/replication/{name}/trigger", app.triggerReplicationHandler).Methods("POST")

	router.HandleFunc("/config/reload", app.configReloadHandler).Methods("POST")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError traduz o código do AppError em status HTTP
func (app *App) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := map[string]interface{}{"error": err.Error()}

	if appErr, ok := apperrors.AsAppError(err); ok {
		body["code"] = appErr.Code
		switch appErr.Code {
		case apperrors.CodeConfigInvalid:
			status = http.StatusBadRequest
		case apperrors.CodeNotFound:
			status = http.StatusNotFound
		case apperrors.CodeAlreadyExists, apperrors.CodeAlreadyRunning:
			status = http.StatusConflict
		}
	}

	if status == http.StatusInternalServerError {
		app.logger.WithError(err).Error("Admin request failed")
		metrics.RecordError("app", "http")
	}
	writeJSON(w, status, body)
}

func (app *App) badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": fmt.Sprintf(format, args...),
		"code":  apperrors.CodeConfigInvalid,
	})
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (app *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   app.Config().App.Version,
	})
}

func (app *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	mappings := app.manager.GetMappings()
	status := map[string]interface{}{
		"app":         app.Config().App.Name,
		"version":     app.Config().App.Version,
		"handlers":    len(mappings.Handlers),
		"tasks":       len(mappings.Tasks),
		"replication": app.manager.ListReplicationOperations(),
		"gate":        app.manager.GateStatus(),
	}
	if app.reloader != nil {
		status["config_reload"] = app.reloader.GetStats()
	}
	writeJSON(w, http.StatusOK, status)
}

func (app *App) gateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.manager.GateStatus())
}

func (app *App) mappingsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.manager.GetMappings())
}

// Handlers

type handlerRequest struct {
	Name string `json:"name"`
	types.HandlerConfig
}

func (app *App) listHandlersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.manager.Handlers())
}

func (app *App) addHandlerHandler(w http.ResponseWriter, r *http.Request) {
	var req handlerRequest
	if err := decodeBody(r, &req); err != nil {
		app.badRequest(w, "invalid handler body: %v", err)
		return
	}
	if err := app.manager.AddHandler(req.Name, req.HandlerConfig); err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"handler": req.Name, "status": "created"})
}

func (app *App) updateHandlerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var cfg types.HandlerConfig
	if err := decodeBody(r, &cfg); err != nil {
		app.badRequest(w, "invalid handler body: %v", err)
		return
	}
	if err := app.manager.UpdateHandler(name, cfg); err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"handler": name, "status": "updated"})
}

func (app *App) removeHandlerHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := app.manager.RemoveHandler(name); err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"handler": name, "status": "removed"})
}

// Tasks

type taskRequest struct {
	Name     string              `json:"name"`
	Bindings []types.TaskBinding `json:"bindings"`
}

func (app *App) listTasksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.manager.GetMappings().Tasks)
}

func (app *App) addTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeBody(r, &req); err != nil {
		app.badRequest(w, "invalid task body: %v", err)
		return
	}
	if err := app.manager.AddTask(req.Name, req.Bindings); err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task": req.Name, "status": "created"})
}

func (app *App) updateTaskHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req taskRequest
	if err := decodeBody(r, &req); err != nil {
		app.badRequest(w, "invalid task body: %v", err)
		return
	}
	if err := app.manager.UpdateTask(name, req.Bindings); err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": name, "status": "updated"})
}

func (app *App) removeTaskHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := app.manager.RemoveTask(name); err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task": name, "status": "removed"})
}

// Replication

func (app *App) listReplicationHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, app.manager.ListReplicationOperations())
}

func (app *App) getReplicationHandler(w http.ResponseWriter, r *http.Request) {
	status, err := app.manager.GetReplication(mux.Vars(r)["name"])
	if err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// startReplicationHandler aceita o mesmo formato de operação do arquivo;
// campos omitidos usam replication.defaults
func (app *App) startReplicationHandler(w http.ResponseWriter, r *http.Request) {
	var op types.ReplicationOperation
	if err := decodeBody(r, &op); err != nil {
		app.badRequest(w, "invalid operation body: %v", err)
		return
	}

	spec, err := config.BuildOperationSpec(op, app.Config().Replication.Defaults)
	if err != nil {
		app.badRequest(w, "%v", err)
		return
	}

	status, err := app.manager.StartReplication(app.ctx, spec)
	if err != nil {
		app.writeError(w, err)
		return
	}

	code := http.StatusCreated
	if status.State == types.OperationSkipped {
		code = http.StatusOK
	}
	writeJSON(w, code, status)
}

func (app *App) stopReplicationHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	timeout, err := queryDuration(r, "timeout", 10*time.Second)
	if err != nil {
		app.badRequest(w, "invalid timeout: %v", err)
		return
	}

	stopped, err := app.manager.StopReplication(name, timeout)
	if err != nil {
		app.writeError(w, err)
		return
	}

	code := http.StatusOK
	if !stopped {
		code = http.StatusAccepted
	}
	writeJSON(w, code, map[string]interface{}{"operation": name, "stopped": stopped})
}

func (app *App) stopAllReplicationHandler(w http.ResponseWriter, r *http.Request) {
	timeout, err := queryDuration(r, "timeout", 10*time.Second)
	if err != nil {
		app.badRequest(w, "invalid timeout: %v", err)
		return
	}

	stillRunning := app.manager.StopAllReplication(timeout)
	if stillRunning == nil {
		stillRunning = []string{}
	}

	code := http.StatusOK
	if len(stillRunning) > 0 {
		code = http.StatusAccepted
	}
	writeJSON(w, code, map[string]interface{}{"still_running": stillRunning})
}

// triggerReplicationHandler roda uma passada síncrona; sem {name} dispara todas
func (app *App) triggerReplicationHandler(w http.ResponseWriter, r *http.Request) {
	var names []string
	if name, ok := mux.Vars(r)["name"]; ok {
		names = append(names, name)
	}

	if err := app.manager.TriggerReplication(r.Context(), names...); err != nil {
		app.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"triggered": names})
}

func (app *App) configReloadHandler(w http.ResponseWriter, r *http.Request) {
	if app.reloader == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no configuration file to reload"})
		return
	}
	if err := app.reloader.TriggerReload(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, app.reloader.GetStats())
}
