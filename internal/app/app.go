package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ssw-logmanager/internal/config"
	"ssw-logmanager/internal/logmanager"
	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/pkg/copier"
	"ssw-logmanager/pkg/hotreload"
	"ssw-logmanager/pkg/tracing"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

// App representa a aplicação principal
type App struct {
	config     *types.Config
	configFile string
	logger     *logrus.Logger

	manager        *logmanager.LogManager
	copiers        *copier.Registry
	tracingManager *tracing.TracingManager
	reloader       *hotreload.ConfigReloader

	// configMu protege config durante reloads
	configMu sync.RWMutex

	httpServer    *http.Server
	metricsServer *metrics.MetricsServer

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// New cria uma nova instância da aplicação
func New(configFile string) (*App, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return NewWithConfig(cfg, configFile, newLogger(cfg.App))
}

// NewWithConfig monta a aplicação a partir de uma configuração já carregada.
// configFile pode ser vazio; nesse caso não há hot reload.
func NewWithConfig(cfg *types.Config, configFile string, logger *logrus.Logger) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		config:     cfg,
		configFile: configFile,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

// newLogger configura o logger de diagnóstico
func newLogger(cfg types.AppConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Manager expõe o LogManager para quem embute a aplicação
func (app *App) Manager() *logmanager.LogManager {
	return app.manager
}

// Config configuração atualmente aplicada
func (app *App) Config() *types.Config {
	app.configMu.RLock()
	defer app.configMu.RUnlock()
	return app.config
}

// Handler router HTTP administrativo
func (app *App) Handler() http.Handler {
	if app.httpServer == nil {
		return nil
	}
	return app.httpServer.Handler
}

// Start inicia a aplicação
func (app *App) Start() error {
	app.logger.WithField("version", app.config.App.Version).Info("Starting SSW Log Manager")

	if app.metricsServer != nil {
		if err := app.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if err := app.startConfiguredOperations(); err != nil {
		// operações inválidas não impedem a aplicação de subir
		app.logger.WithError(err).Error("Some replication operations failed to start")
	}

	if app.reloader != nil && app.config.HotReload.Enabled {
		if err := app.reloader.Start(); err != nil {
			return fmt.Errorf("failed to start config reloader: %w", err)
		}
	}

	if app.httpServer != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.logger.WithField("addr", app.httpServer.Addr).Info("Starting HTTP server")
			if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				app.logger.WithError(err).Error("HTTP server error")
			}
		}()
	}

	app.logger.Info("SSW Log Manager started successfully")
	return nil
}

// startConfiguredOperations inicia as operações declaradas no arquivo
func (app *App) startConfiguredOperations() error {
	specs, err := config.BuildOperationSpecs(app.config)
	if err != nil {
		return err
	}
	if len(specs) == 0 {
		return nil
	}

	started, err := app.manager.StartReplications(app.ctx, specs)
	for _, status := range started {
		app.logger.WithFields(logrus.Fields{
			"operation": status.Name,
			"state":     status.State,
			"reason":    status.Reason,
		}).Debug("Configured replication operation registered")
	}
	return err
}

// Stop para a aplicação; chamadas seguintes retornam o mesmo resultado
func (app *App) Stop() error {
	app.stopOnce.Do(func() {
		app.stopErr = app.stop()
	})
	return app.stopErr
}

func (app *App) stop() error {
	app.logger.Info("Stopping SSW Log Manager")

	app.cancel()

	if app.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := app.httpServer.Shutdown(ctx); err != nil {
			app.logger.WithError(err).Warn("HTTP server shutdown error")
		}
		cancel()
	}

	if app.reloader != nil {
		if err := app.reloader.Stop(); err != nil {
			app.logger.WithError(err).Warn("Failed to stop config reloader")
		}
	}

	var firstErr error
	timeout := config.DurationOr(app.Config().TeardownTimeout, 30*time.Second)
	if err := app.manager.Teardown(timeout); err != nil {
		app.logger.WithError(err).Error("Log manager teardown reported errors")
		firstErr = err
	}

	if err := app.copiers.Close(); err != nil {
		app.logger.WithError(err).Error("Failed to close copiers")
		if firstErr == nil {
			firstErr = err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := app.tracingManager.Shutdown(ctx); err != nil {
		app.logger.WithError(err).Warn("Failed to shutdown tracing")
	}
	cancel()

	if app.metricsServer != nil {
		app.metricsServer.Stop()
	}

	app.wg.Wait()

	app.logger.Info("SSW Log Manager stopped")
	return firstErr
}

// Run executa a aplicação com graceful shutdown
func (app *App) Run() error {
	if err := app.Start(); err != nil {
		app.Stop()
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		app.logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case <-app.ctx.Done():
	}

	return app.Stop()
}
