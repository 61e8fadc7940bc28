// Package copier provides the copy primitive used by replication workers.
// A destination string selects its transport by URL scheme: plain paths and
// file:// go to local disk, webhdfs:// and swebhdfs:// to a WebHDFS gateway,
// kafka:// to a Kafka topic.
package copier

import (
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

const (
	SchemeFile     = "file"
	SchemeWebHDFS  = "webhdfs"
	SchemeSWebHDFS = "swebhdfs"
	SchemeKafka    = "kafka"
)

// Registry resolve o copier de um destino pelo esquema da URL
type Registry struct {
	mu      sync.RWMutex
	copiers map[string]types.Copier
	logger  *logrus.Logger
}

// NewRegistry cria um registry vazio
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		copiers: make(map[string]types.Copier),
		logger:  logger,
	}
}

// NewDefaultRegistry registers the local, WebHDFS and Kafka transports
// configured from cfg.
func NewDefaultRegistry(cfg types.ReplicationConfig, logger *logrus.Logger) (*Registry, error) {
	r := NewRegistry(logger)

	r.Register(SchemeFile, NewLocalCopier())

	webhdfs, err := NewWebHDFSCopier(cfg.WebHDFS, logger)
	if err != nil {
		return nil, err
	}
	r.Register(SchemeWebHDFS, webhdfs)
	r.Register(SchemeSWebHDFS, webhdfs)

	kafka, err := NewKafkaCopier(cfg.Kafka, logger)
	if err != nil {
		return nil, err
	}
	r.Register(SchemeKafka, kafka)

	return r, nil
}

// Register associa um copier a um esquema, substituindo o anterior
func (r *Registry) Register(scheme string, c types.Copier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.copiers[strings.ToLower(scheme)] = c
}

// Schemes lista os esquemas registrados
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemes := make([]string, 0, len(r.copiers))
	for s := range r.copiers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// For retorna o copier responsável pelo destino
func (r *Registry) For(destination string) (types.Copier, error) {
	scheme := Scheme(destination)

	r.mu.RLock()
	c, ok := r.copiers[scheme]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unsupported destination scheme %q in %s", scheme, destination)
	}
	return c, nil
}

// Validate verifica se o destino tem um copier registrado
func (r *Registry) Validate(destination string) error {
	if strings.TrimSpace(destination) == "" {
		return fmt.Errorf("destination is empty")
	}
	_, err := r.For(destination)
	return err
}

// Close fecha os copiers que mantêm conexões
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[types.Copier]bool)
	var firstErr error
	for scheme, c := range r.copiers {
		if seen[c] {
			continue
		}
		seen[c] = true
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				if r.logger != nil {
					r.logger.WithError(err).WithField("scheme", scheme).Warn("Failed to close copier")
				}
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
	return firstErr
}

// Scheme extrai o esquema do destino; caminhos sem esquema são "file"
func Scheme(destination string) string {
	i := strings.Index(destination, "://")
	if i <= 0 {
		return SchemeFile
	}
	return strings.ToLower(destination[:i])
}

// Join appends a slash-separated relative path to a destination root,
// keeping the root's scheme and host intact.
func Join(root, rel string) string {
	rel = filepath.ToSlash(rel)
	if Scheme(root) == SchemeFile && !strings.HasPrefix(root, "file://") {
		return filepath.Join(root, filepath.FromSlash(rel))
	}

	u, err := url.Parse(root)
	if err != nil {
		return strings.TrimRight(root, "/") + "/" + strings.TrimLeft(rel, "/")
	}
	u.Path = path.Join("/", u.Path, rel)
	return u.String()
}

// Dir diretório pai de um destino
func Dir(destination string) string {
	if Scheme(destination) == SchemeFile && !strings.HasPrefix(destination, "file://") {
		return filepath.Dir(destination)
	}

	u, err := url.Parse(destination)
	if err != nil {
		return destination
	}
	u.Path = path.Dir(u.Path)
	return u.String()
}

// localPath converte file:///x em /x
func localPath(destination string) string {
	if strings.HasPrefix(destination, "file://") {
		if u, err := url.Parse(destination); err == nil {
			return filepath.FromSlash(u.Path)
		}
		return strings.TrimPrefix(destination, "file://")
	}
	return destination
}
