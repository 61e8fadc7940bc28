package copier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

const webhdfsPrefix = "/webhdfs/v1"

// WebHDFSCopier grava arquivos via API REST do WebHDFS. CREATE é feito em
// duas etapas: o namenode responde com redirect para o datanode, que recebe
// o conteúdo.
type WebHDFSCopier struct {
	client    *http.Client
	user      string
	overwrite bool
	logger    *logrus.Logger
}

// NewWebHDFSCopier cria o copier WebHDFS
func NewWebHDFSCopier(config types.WebHDFSConfig, logger *logrus.Logger) (*WebHDFSCopier, error) {
	timeout := 60 * time.Second
	if config.Timeout != "" {
		t, err := time.ParseDuration(config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid webhdfs timeout %q: %w", config.Timeout, err)
		}
		timeout = t
	}

	overwrite := true
	if config.Overwrite != nil {
		overwrite = *config.Overwrite
	}

	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
		// o redirect do namenode é seguido manualmente para reenviar o corpo
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &WebHDFSCopier{
		client:    client,
		user:      config.User,
		overwrite: overwrite,
		logger:    logger,
	}, nil
}

// Copy envia source para o caminho HDFS do destino
func (c *WebHDFSCopier) Copy(ctx context.Context, source, destination string) error {
	endpoint, err := c.endpoint(destination, "CREATE", url.Values{
		"overwrite": {strconv.FormatBool(c.overwrite)},
	})
	if err != nil {
		return err
	}

	// etapa 1: namenode
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhdfs create request failed: %w", err)
	}
	location := resp.Header.Get("Location")
	switch {
	case resp.StatusCode == http.StatusTemporaryRedirect && location != "":
	case resp.StatusCode == http.StatusCreated:
		// gateway sem redirect não aceitou corpo; repetir no mesmo endpoint
		location = endpoint
	default:
		defer resp.Body.Close()
		return c.remoteError("create", resp)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// etapa 2: datanode recebe o conteúdo
	f, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source: %w", err)
	}

	req, err = http.NewRequestWithContext(ctx, http.MethodPut, location, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err = c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhdfs upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return c.remoteError("upload", resp)
	}

	c.logger.WithFields(logrus.Fields{
		"source":      source,
		"destination": destination,
		"bytes":       info.Size(),
	}).Debug("WebHDFS upload completed")
	return nil
}

// MkdirAll cria o diretório HDFS (MKDIRS já cria os pais)
func (c *WebHDFSCopier) MkdirAll(ctx context.Context, dir string) error {
	endpoint, err := c.endpoint(dir, "MKDIRS", nil)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhdfs mkdirs request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.remoteError("mkdirs", resp)
	}

	var result struct {
		Boolean bool `json:"boolean"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("invalid webhdfs mkdirs response: %w", err)
	}
	if !result.Boolean {
		return fmt.Errorf("webhdfs mkdirs returned false for %s", dir)
	}
	return nil
}

// Close libera conexões ociosas
func (c *WebHDFSCopier) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// endpoint converte webhdfs://host:port/path na URL REST correspondente
func (c *WebHDFSCopier) endpoint(destination, op string, extra url.Values) (string, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return "", fmt.Errorf("invalid webhdfs destination %q: %w", destination, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("webhdfs destination %q has no host", destination)
	}

	httpScheme := "http"
	if u.Scheme == SchemeSWebHDFS {
		httpScheme = "https"
	}

	query := url.Values{"op": {op}}
	for k, v := range extra {
		query[k] = v
	}
	if c.user != "" {
		query.Set("user.name", c.user)
	} else if u.User != nil {
		query.Set("user.name", u.User.Username())
	}

	rest := url.URL{
		Scheme:   httpScheme,
		Host:     u.Host,
		Path:     webhdfsPrefix + u.Path,
		RawQuery: query.Encode(),
	}
	return rest.String(), nil
}

// RemoteError erro retornado pelo servidor WebHDFS
type RemoteError struct {
	Operation  string
	StatusCode int
	Exception  string
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Exception != "" {
		return fmt.Sprintf("webhdfs %s failed with status %d: %s: %s", e.Operation, e.StatusCode, e.Exception, e.Message)
	}
	return fmt.Sprintf("webhdfs %s failed with status %d", e.Operation, e.StatusCode)
}

func (c *WebHDFSCopier) remoteError(op string, resp *http.Response) error {
	remote := &RemoteError{Operation: op, StatusCode: resp.StatusCode}

	var body struct {
		RemoteException struct {
			Exception string `json:"exception"`
			Message   string `json:"message"`
		} `json:"RemoteException"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		remote.Exception = body.RemoteException.Exception
		remote.Message = body.RemoteException.Message
	}
	return remote
}

// IsRemoteError informa se err veio do servidor WebHDFS
func IsRemoteError(err error) bool {
	var remote *RemoteError
	return errors.As(err, &remote)
}
