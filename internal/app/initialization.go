package app

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"ssw-logmanager/internal/config"
	"ssw-logmanager/internal/logmanager"
	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/internal/replication"
	"ssw-logmanager/pkg/copier"
	"ssw-logmanager/pkg/gate"
	"ssw-logmanager/pkg/hotreload"
	"ssw-logmanager/pkg/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// initializeComponents inicializa todos os componentes da aplicação
func (app *App) initializeComponents() error {
	metrics.Register()

	if err := app.initTracing(); err != nil {
		return err
	}
	if err := app.initLogManager(); err != nil {
		return err
	}
	if err := app.applyRouting(); err != nil {
		app.manager.Teardown(time.Second)
		app.copiers.Close()
		return err
	}
	if err := app.initHotReload(); err != nil {
		return err
	}

	app.initHTTPServer()
	app.initMetricsServer()
	return nil
}

// initTracing configura o tracing distribuído (noop quando desabilitado)
func (app *App) initTracing() error {
	tm, err := tracing.NewTracingManager(app.config.Tracing, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.tracingManager = tm
	return nil
}

// initLogManager cria registry de copiers, gate e o LogManager
func (app *App) initLogManager() error {
	copiers, err := copier.NewDefaultRegistry(app.config.Replication, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create copiers: %w", err)
	}
	app.copiers = copiers

	finalCopy := true
	if app.config.Replication.FinalCopyOnShutdown != nil {
		finalCopy = *app.config.Replication.FinalCopyOnShutdown
	}

	manager, err := logmanager.New(logmanager.Options{
		Name:                app.config.App.Name,
		Formats:             app.config.Formats,
		Gate:                gate.FromEnvironment(app.config.Gate),
		Copiers:             copiers,
		Tracer:              app.tracingManager,
		Replication:         replication.Config{TaskRetention: 5 * time.Minute},
		FinalCopyOnShutdown: finalCopy,
		StopTimeout:         config.DurationOr(app.config.Replication.StopTimeout, 10*time.Second),
	}, app.logger)
	if err != nil {
		copiers.Close()
		return fmt.Errorf("failed to create log manager: %w", err)
	}
	app.manager = manager

	status := manager.GateStatus()
	app.logger.WithFields(logrus.Fields{
		"enabled": status.Enabled,
		"reason":  status.Reason,
	}).Info("Replication gate evaluated")
	return nil
}

// applyRouting registra handlers e tasks do arquivo, em ordem de nome
func (app *App) applyRouting() error {
	handlerNames := make([]string, 0, len(app.config.Handlers))
	for name := range app.config.Handlers {
		handlerNames = append(handlerNames, name)
	}
	sort.Strings(handlerNames)

	for _, name := range handlerNames {
		if err := app.manager.AddHandler(name, app.config.Handlers[name]); err != nil {
			return fmt.Errorf("failed to add handler %s: %w", name, err)
		}
	}

	taskNames := make([]string, 0, len(app.config.Tasks))
	for name := range app.config.Tasks {
		taskNames = append(taskNames, name)
	}
	sort.Strings(taskNames)

	for _, name := range taskNames {
		if err := app.manager.AddTask(name, app.config.Tasks[name]); err != nil {
			return fmt.Errorf("failed to add task %s: %w", name, err)
		}
	}

	app.logger.WithFields(logrus.Fields{
		"handlers": len(handlerNames),
		"tasks":    len(taskNames),
	}).Info("Routing configured")
	return nil
}

// initHotReload cria o reloader; o watch só começa em Start quando habilitado
func (app *App) initHotReload() error {
	if app.configFile == "" {
		return nil
	}

	reloader, err := hotreload.NewConfigReloader(app.config.HotReload, app.configFile, app.config,
		config.LoadConfig, config.ValidateConfig, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create config reloader: %w", err)
	}
	reloader.SetCallbacks(app.applyConfigChange, func(err error) {
		metrics.RecordConfigReload(false)
		app.logger.WithError(err).Error("Config reload failed")
	})
	app.reloader = reloader
	return nil
}

// initHTTPServer configura o servidor HTTP administrativo
func (app *App) initHTTPServer() {
	if !app.config.Server.Enabled {
		return
	}

	router := mux.NewRouter()
	app.registerHandlers(router)

	app.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", app.config.Server.Host, app.config.Server.Port),
		Handler:           router,
		ReadTimeout:       config.DurationOr(app.config.Server.ReadTimeout, 30*time.Second),
		WriteTimeout:      config.DurationOr(app.config.Server.WriteTimeout, 30*time.Second),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// initMetricsServer configura o servidor de métricas Prometheus
func (app *App) initMetricsServer() {
	if !app.config.Metrics.Enabled {
		return
	}
	addr := fmt.Sprintf(":%d", app.config.Metrics.Port)
	app.metricsServer = metrics.NewMetricsServer(addr, app.config.Metrics.Path, app.logger)
}
