package sinks

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"ssw-logmanager/pkg/compression"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

// LocalFileSink escreve registros em um arquivo, rotacionando por tamanho
type LocalFileSink struct {
	name       string
	path       string
	mode       os.FileMode
	maxSize    int64
	maxBackups int
	compress   bool
	logger     *logrus.Logger

	mu          sync.Mutex
	file        *os.File
	currentSize int64
	closed      bool
}

// NewLocalFileSink abre (ou cria) o arquivo do handler em modo append
func NewLocalFileSink(name string, cfg types.HandlerConfig, logger *logrus.Logger) (*LocalFileSink, error) {
	path := strings.TrimPrefix(cfg.Sink, "file://")

	mode := os.FileMode(0644)
	if cfg.FileMode != "" {
		parsed, err := strconv.ParseUint(cfg.FileMode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("handler %s: invalid file_mode %q: %w", name, cfg.FileMode, err)
		}
		mode = os.FileMode(parsed)
	}

	lfs := &LocalFileSink{
		name:       name,
		path:       path,
		mode:       mode,
		maxSize:    int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
		logger:     logger,
	}

	if err := lfs.open(); err != nil {
		return nil, err
	}
	return lfs, nil
}

func (lfs *LocalFileSink) open() error {
	if err := os.MkdirAll(filepath.Dir(lfs.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(lfs.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, lfs.mode)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	lfs.file = f
	lfs.currentSize = info.Size()
	return nil
}

// Write grava a linha e rotaciona quando o limite de tamanho seria excedido
func (lfs *LocalFileSink) Write(level types.Level, line []byte) error {
	line = withNewline(line)

	lfs.mu.Lock()
	defer lfs.mu.Unlock()

	if lfs.closed {
		return fmt.Errorf("file sink %s is closed", lfs.name)
	}

	if lfs.maxSize > 0 && lfs.currentSize > 0 && lfs.currentSize+int64(len(line)) > lfs.maxSize {
		if err := lfs.rotate(); err != nil {
			lfs.logger.WithError(err).WithField("filename", lfs.path).Error("Failed to rotate log file")
			if lfs.file == nil {
				return err
			}
		}
	}

	n, err := lfs.file.Write(line)
	lfs.currentSize += int64(n)
	return err
}

// rotate fecha o arquivo atual, renomeia e reabre; requer lfs.mu
func (lfs *LocalFileSink) rotate() error {
	lfs.logger.WithFields(logrus.Fields{
		"filename":     lfs.path,
		"current_size": lfs.currentSize,
		"max_size":     lfs.maxSize,
	}).Info("Rotating log file")

	if err := lfs.file.Close(); err != nil {
		lfs.logger.WithError(err).WithField("filename", lfs.path).Warn("Failed to close log file before rotation")
	}
	lfs.file = nil

	rotatedName := lfs.backupName()
	if err := os.Rename(lfs.path, rotatedName); err != nil {
		if openErr := lfs.open(); openErr != nil {
			return openErr
		}
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	if err := lfs.open(); err != nil {
		return err
	}

	if lfs.compress {
		compressed, err := compression.CompressFile(compression.AlgorithmGzip, rotatedName, filepath.Dir(rotatedName))
		if err != nil {
			lfs.logger.WithError(err).WithField("filename", rotatedName).Warn("Failed to compress rotated file")
		} else if err := os.Rename(compressed, rotatedName+".gz"); err != nil {
			os.Remove(compressed)
			lfs.logger.WithError(err).WithField("filename", rotatedName).Warn("Failed to store compressed rotated file")
		} else {
			os.Remove(rotatedName)
		}
	}

	lfs.cleanupOldFiles()
	return nil
}

// backupName nome do backup com timestamp; sufixo numérico evita colisão
func (lfs *LocalFileSink) backupName() string {
	base := lfs.path + "." + time.Now().Format("20060102-150405")
	name := base
	for i := 1; ; i++ {
		if _, err := os.Stat(name); os.IsNotExist(err) {
			if _, err := os.Stat(name + ".gz"); os.IsNotExist(err) {
				return name
			}
		}
		name = fmt.Sprintf("%s.%d", base, i)
	}
}

// Backups lista os backups existentes do mais antigo para o mais novo
func (lfs *LocalFileSink) Backups() []string {
	files, err := filepath.Glob(lfs.path + ".*")
	if err != nil {
		return nil
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var infos []fileInfo
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		infos = append(infos, fileInfo{path: f, modTime: info.ModTime()})
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].modTime.Equal(infos[j].modTime) {
			return infos[i].path < infos[j].path
		}
		return infos[i].modTime.Before(infos[j].modTime)
	})

	out := make([]string, len(infos))
	for i, fi := range infos {
		out[i] = fi.path
	}
	return out
}

// cleanupOldFiles mantém no máximo maxBackups backups
func (lfs *LocalFileSink) cleanupOldFiles() {
	if lfs.maxBackups <= 0 {
		return
	}

	backups := lfs.Backups()
	if len(backups) <= lfs.maxBackups {
		return
	}

	for _, file := range backups[:len(backups)-lfs.maxBackups] {
		if err := os.Remove(file); err != nil {
			lfs.logger.WithError(err).WithField("filename", file).Error("Failed to remove old log file")
		} else {
			lfs.logger.WithField("filename", file).Debug("Removed old log file")
		}
	}
}

// Close sincroniza e fecha o arquivo
func (lfs *LocalFileSink) Close() error {
	lfs.mu.Lock()
	defer lfs.mu.Unlock()

	if lfs.closed {
		return nil
	}
	lfs.closed = true

	if lfs.file == nil {
		return nil
	}
	if err := lfs.file.Sync(); err != nil {
		lfs.logger.WithError(err).WithField("filename", lfs.path).Warn("Failed to sync log file")
	}
	return lfs.file.Close()
}
