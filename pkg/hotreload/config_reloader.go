package hotreload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// LoadFunc lê e normaliza o arquivo de configuração
type LoadFunc func(path string) (*types.Config, error)

// ValidateFunc valida uma configuração carregada
type ValidateFunc func(*types.Config) error

// ChangeFunc aplica a diferença entre a configuração antiga e a nova e
// retorna a configuração efetivamente aplicada, que passa a ser a base do
// próximo diff (nil = new). Pode ser parcial quando err != nil.
type ChangeFunc func(old, new *types.Config, diff ConfigDiff) (*types.Config, error)

// ConfigReloader gerencia o reload automático de configurações
type ConfigReloader struct {
	config           types.HotReloadConfig
	watchInterval    time.Duration
	debounceInterval time.Duration
	logger           *logrus.Logger
	configFile       string
	load             LoadFunc
	validate         ValidateFunc

	// File watcher
	watcher *fsnotify.Watcher

	// Callbacks
	onConfigChanged ChangeFunc
	onReloadError   func(error)

	// Current config
	currentConfig atomic.Pointer[types.Config]

	// reloadMux serializa reloads disparados por eventos, ticker e API
	reloadMux   sync.Mutex
	currentHash uint64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool

	statsMux sync.RWMutex
	stats    Stats
}

// Stats estatísticas do config reloader
type Stats struct {
	TotalReloads      int64     `json:"total_reloads"`
	SuccessfulReloads int64     `json:"successful_reloads"`
	FailedReloads     int64     `json:"failed_reloads"`
	LastReloadTime    time.Time `json:"last_reload_time"`
	LastSuccessTime   time.Time `json:"last_success_time"`
	LastError         string    `json:"last_error,omitempty"`
	ConfigVersion     string    `json:"config_version"`
	IsWatching        bool      `json:"is_watching"`
}

// NewConfigReloader cria uma nova instância do config reloader. initial é a
// configuração já aplicada pela aplicação.
func NewConfigReloader(config types.HotReloadConfig, configFile string, initial *types.Config,
	load LoadFunc, validate ValidateFunc, logger *logrus.Logger) (*ConfigReloader, error) {

	absPath, err := filepath.Abs(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	cr := &ConfigReloader{
		config:           config,
		watchInterval:    parseDurationOr(config.WatchInterval, 5*time.Second),
		debounceInterval: parseDurationOr(config.DebounceInterval, 1*time.Second),
		logger:           logger,
		configFile:       absPath,
		load:             load,
		validate:         validate,
	}
	cr.currentConfig.Store(initial)

	if hash, err := cr.calculateConfigHash(); err == nil {
		cr.currentHash = hash
		cr.stats.ConfigVersion = formatHash(hash)
	} else {
		logger.WithError(err).Warn("Failed to calculate initial config hash")
	}

	return cr, nil
}

// SetCallbacks define callbacks para eventos de reload
func (cr *ConfigReloader) SetCallbacks(onChanged ChangeFunc, onError func(error)) {
	cr.onConfigChanged = onChanged
	cr.onReloadError = onError
}

// Start inicia o watcher (fsnotify + verificação periódica por hash)
func (cr *ConfigReloader) Start() error {
	if !cr.config.Enabled {
		cr.logger.Info("Config reloader disabled")
		return nil
	}

	if cr.running.Load() {
		return fmt.Errorf("config reloader already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	// o diretório é observado para sobreviver a editores que substituem o arquivo
	configDir := filepath.Dir(cr.configFile)
	if err := watcher.Add(configDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	cr.watcher = watcher
	cr.ctx, cr.cancel = context.WithCancel(context.Background())

	cr.wg.Add(2)
	go cr.watchFileChanges()
	go cr.periodicCheck()

	cr.running.Store(true)
	cr.setWatching(true)

	cr.logger.WithFields(logrus.Fields{
		"config_file":    cr.configFile,
		"watch_interval": cr.watchInterval,
	}).Info("Config reloader started")

	return nil
}

// Stop para o config reloader
func (cr *ConfigReloader) Stop() error {
	if !cr.running.CompareAndSwap(true, false) {
		return nil
	}

	cr.cancel()
	cr.watcher.Close()
	cr.wg.Wait()
	cr.setWatching(false)

	cr.logger.Info("Config reloader stopped")
	return nil
}

// watchFileChanges monitora mudanças nos arquivos
func (cr *ConfigReloader) watchFileChanges() {
	defer cr.wg.Done()

	debounceTimer := time.NewTimer(time.Hour)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	pendingReload := false

	for {
		select {
		case <-cr.ctx.Done():
			return

		case event, ok := <-cr.watcher.Events:
			if !ok {
				return
			}

			if cr.shouldProcessEvent(event) {
				cr.logger.WithFields(logrus.Fields{
					"file":      event.Name,
					"operation": event.Op.String(),
				}).Debug("Config file change detected")

				if !debounceTimer.Stop() {
					select {
					case <-debounceTimer.C:
					default:
					}
				}
				debounceTimer.Reset(cr.debounceInterval)
				pendingReload = true
			}

		case err, ok := <-cr.watcher.Errors:
			if !ok {
				return
			}
			cr.logger.WithError(err).Error("File watcher error")

		case <-debounceTimer.C:
			if pendingReload {
				pendingReload = false
				if _, err := cr.reloadIfChanged(); err != nil {
					cr.logger.WithError(err).Error("Config reload failed")
				}
			}
		}
	}
}

// periodicCheck executa verificação periódica
func (cr *ConfigReloader) periodicCheck() {
	defer cr.wg.Done()

	ticker := time.NewTicker(cr.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cr.ctx.Done():
			return
		case <-ticker.C:
			if _, err := cr.reloadIfChanged(); err != nil {
				cr.logger.WithError(err).Error("Periodic config check failed")
			}
		}
	}
}

// shouldProcessEvent verifica se um evento deve ser processado
func (cr *ConfigReloader) shouldProcessEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	absPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return absPath == cr.configFile
}

// reloadIfChanged recarrega somente se o conteúdo do arquivo mudou
func (cr *ConfigReloader) reloadIfChanged() (bool, error) {
	cr.reloadMux.Lock()
	defer cr.reloadMux.Unlock()

	newHash, err := cr.calculateConfigHash()
	if err != nil {
		return false, fmt.Errorf("failed to calculate config hash: %w", err)
	}
	if newHash == cr.currentHash {
		return false, nil
	}

	cr.logger.WithFields(logrus.Fields{
		"old_hash": formatHash(cr.currentHash),
		"new_hash": formatHash(newHash),
	}).Info("Config change detected")

	return true, cr.performReload(newHash)
}

// TriggerReload força um reload imediato, mesmo sem mudança no arquivo
func (cr *ConfigReloader) TriggerReload() error {
	cr.reloadMux.Lock()
	defer cr.reloadMux.Unlock()

	newHash, err := cr.calculateConfigHash()
	if err != nil {
		return fmt.Errorf("failed to calculate config hash: %w", err)
	}

	cr.logger.Info("Manual config reload triggered")
	return cr.performReload(newHash)
}

// performReload executa o reload da configuração. Chamar com reloadMux travado.
func (cr *ConfigReloader) performReload(newHash uint64) error {
	startTime := time.Now()
	cr.statsMux.Lock()
	cr.stats.TotalReloads++
	cr.stats.LastReloadTime = startTime
	cr.statsMux.Unlock()

	newConfig, err := cr.load(cr.configFile)
	if err != nil {
		return cr.fail(fmt.Errorf("failed to load new config: %w", err))
	}

	if cr.config.ValidateOnReload && cr.validate != nil {
		if err := cr.validate(newConfig); err != nil {
			return cr.fail(fmt.Errorf("new config validation failed: %w", err))
		}
	}

	oldConfig := cr.currentConfig.Load()
	diff := ComputeDiff(oldConfig, newConfig)

	applied := newConfig
	if cr.onConfigChanged != nil && !diff.Empty() {
		result, err := cr.onConfigChanged(oldConfig, newConfig, diff)
		if result != nil {
			applied = result
		}
		if err != nil {
			// o hash é atualizado para não repetir a mesma falha a cada verificação;
			// o que ficou pendente volta a aparecer no diff do próximo reload
			cr.currentConfig.Store(applied)
			cr.currentHash = newHash
			return cr.fail(fmt.Errorf("failed to apply config changes: %w", err))
		}
	}

	cr.currentConfig.Store(applied)
	cr.currentHash = newHash

	cr.statsMux.Lock()
	cr.stats.SuccessfulReloads++
	cr.stats.LastSuccessTime = time.Now()
	cr.stats.ConfigVersion = formatHash(newHash)
	cr.stats.LastError = ""
	cr.statsMux.Unlock()

	cr.logger.WithFields(logrus.Fields{
		"reload_time":    time.Since(startTime),
		"config_version": formatHash(newHash),
		"changes":        diff.Summary(),
	}).Info("Config reload completed successfully")

	return nil
}

func (cr *ConfigReloader) fail(err error) error {
	cr.statsMux.Lock()
	cr.stats.FailedReloads++
	cr.stats.LastError = err.Error()
	cr.statsMux.Unlock()

	if cr.onReloadError != nil {
		cr.onReloadError(err)
	}
	return err
}

// calculateConfigHash calcula o hash do conteúdo do arquivo
func (cr *ConfigReloader) calculateConfigHash() (uint64, error) {
	file, err := os.Open(cr.configFile)
	if err != nil {
		return 0, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	hash := xxhash.New()
	if _, err := io.Copy(hash, file); err != nil {
		return 0, fmt.Errorf("failed to calculate hash: %w", err)
	}
	return hash.Sum64(), nil
}

func (cr *ConfigReloader) setWatching(v bool) {
	cr.statsMux.Lock()
	cr.stats.IsWatching = v
	cr.statsMux.Unlock()
}

// GetCurrentConfig retorna a configuração atual
func (cr *ConfigReloader) GetCurrentConfig() *types.Config {
	return cr.currentConfig.Load()
}

// GetStats retorna as estatísticas atuais
func (cr *ConfigReloader) GetStats() Stats {
	cr.statsMux.RLock()
	defer cr.statsMux.RUnlock()
	return cr.stats
}

func formatHash(h uint64) string {
	return strconv.FormatUint(h, 16)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
