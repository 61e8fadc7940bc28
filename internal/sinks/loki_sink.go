package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"ssw-logmanager/internal/metrics"
	"ssw-logmanager/pkg/circuit"
	"ssw-logmanager/pkg/compression"
	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
)

const defaultLokiPushEndpoint = "/loki/api/v1/push"

// LokiSink envia registros em lote para o Grafana Loki
type LokiSink struct {
	name       string
	config     types.LokiSinkConfig
	url        string
	batchSize  int
	flushEvery time.Duration
	logger     *logrus.Logger
	httpClient *http.Client
	breaker    *circuit.Breaker

	queue chan lokiEntry
	batch []lokiEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	closed       atomic.Bool
	droppedCount int64
	sentCount    int64
}

type lokiEntry struct {
	timestamp time.Time
	level     types.Level
	line      string
}

// LokiPayload estrutura do payload para Loki
type LokiPayload struct {
	Streams []LokiStream `json:"streams"`
}

// LokiStream representa um stream no Loki
type LokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

// NewLokiSink cria o sink e inicia o loop de envio
func NewLokiSink(name string, config types.LokiSinkConfig, logger *logrus.Logger) (*LokiSink, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("handler %s: loki url is required", name)
	}

	timeout := 10 * time.Second
	if config.Timeout != "" {
		t, err := time.ParseDuration(config.Timeout)
		if err != nil {
			return nil, fmt.Errorf("handler %s: invalid loki timeout: %w", name, err)
		}
		timeout = t
	}

	flushEvery := time.Second
	if config.BatchTimeout != "" {
		t, err := time.ParseDuration(config.BatchTimeout)
		if err != nil || t <= 0 {
			return nil, fmt.Errorf("handler %s: invalid loki batch_timeout %q", name, config.BatchTimeout)
		}
		flushEvery = t
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	endpoint := config.PushEndpoint
	if endpoint == "" {
		endpoint = defaultLokiPushEndpoint
	}

	ctx, cancel := context.WithCancel(context.Background())

	ls := &LokiSink{
		name:       name,
		config:     config,
		url:        strings.TrimRight(config.URL, "/") + endpoint,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		logger:     logger,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		breaker: circuit.NewBreaker(circuit.BreakerConfig{
			Name:             "loki_" + name,
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
		}, logger),
		queue:  make(chan lokiEntry, batchSize*10),
		batch:  make([]lokiEntry, 0, batchSize),
		ctx:    ctx,
		cancel: cancel,
	}

	ls.breaker.SetStateChangeCallback(publishBreakerState("loki_" + name))

	ls.wg.Add(1)
	go ls.processLoop()

	return ls, nil
}

// Write enfileira o registro; com a fila cheia o registro é descartado
func (ls *LokiSink) Write(level types.Level, line []byte) error {
	if ls.closed.Load() {
		return fmt.Errorf("loki sink %s is closed", ls.name)
	}

	entry := lokiEntry{
		timestamp: time.Now(),
		level:     level,
		line:      strings.TrimRight(string(line), "\n"),
	}

	select {
	case ls.queue <- entry:
		return nil
	default:
		atomic.AddInt64(&ls.droppedCount, 1)
		metrics.RecordError("loki_sink", "queue_full")
		return fmt.Errorf("loki sink %s queue is full", ls.name)
	}
}

// processLoop agrupa registros e envia por tamanho ou por tempo
func (ls *LokiSink) processLoop() {
	defer ls.wg.Done()

	ticker := time.NewTicker(ls.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ls.ctx.Done():
			// drena o que já foi aceito antes do flush final
			for {
				select {
				case entry := <-ls.queue:
					ls.batch = append(ls.batch, entry)
				default:
					ls.flushBatch()
					return
				}
			}
		case entry := <-ls.queue:
			ls.batch = append(ls.batch, entry)
			if len(ls.batch) >= ls.batchSize {
				ls.flushBatch()
			}
		case <-ticker.C:
			ls.flushBatch()
		}
	}
}

// flushBatch envia o lote atual; chamado apenas por processLoop
func (ls *LokiSink) flushBatch() {
	if len(ls.batch) == 0 {
		return
	}

	entries := make([]lokiEntry, len(ls.batch))
	copy(entries, ls.batch)
	ls.batch = ls.batch[:0]

	err := ls.breaker.Execute(func() error {
		return ls.sendToLoki(entries)
	})
	if err != nil {
		ls.logger.WithError(err).WithFields(logrus.Fields{
			"handler": ls.name,
			"entries": len(entries),
		}).Error("Failed to send batch to Loki")
		metrics.RecordSinkError(ls.name, "loki")
		atomic.AddInt64(&ls.droppedCount, int64(len(entries)))
		return
	}

	atomic.AddInt64(&ls.sentCount, int64(len(entries)))
	ls.logger.WithFields(logrus.Fields{
		"handler": ls.name,
		"entries": len(entries),
	}).Debug("Batch sent to Loki successfully")
}

// sendToLoki envia um lote comprimido com gzip
func (ls *LokiSink) sendToLoki(entries []lokiEntry) error {
	data, err := json.Marshal(LokiPayload{Streams: ls.groupByStream(entries)})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	body, err := compression.Compress(compression.AlgorithmGzip, data)
	if err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), ls.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ls.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", compression.AlgorithmGzip.ContentEncoding())
	if ls.config.TenantID != "" {
		req.Header.Set("X-Scope-OrgID", ls.config.TenantID)
	}

	resp, err := ls.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("loki returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// groupByStream agrupa por nível; labels configurados são comuns a todos
func (ls *LokiSink) groupByStream(entries []lokiEntry) []LokiStream {
	streamMap := make(map[types.Level]*LokiStream)
	for _, entry := range entries {
		stream, exists := streamMap[entry.level]
		if !exists {
			labels := make(map[string]string, len(ls.config.Labels)+2)
			for k, v := range ls.config.Labels {
				labels[sanitizeLabelName(k)] = v
			}
			if _, ok := labels["handler"]; !ok {
				labels["handler"] = ls.name
			}
			labels["level"] = strings.ToLower(entry.level.String())

			stream = &LokiStream{Stream: labels}
			streamMap[entry.level] = stream
		}
		stream.Values = append(stream.Values, []string{
			strconv.FormatInt(entry.timestamp.UnixNano(), 10),
			entry.line,
		})
	}

	levels := make([]types.Level, 0, len(streamMap))
	for l := range streamMap {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	streams := make([]LokiStream, 0, len(streamMap))
	for _, l := range levels {
		streams = append(streams, *streamMap[l])
	}
	return streams
}

// sanitizeLabelName troca caracteres inválidos para o Loki por '_'
func sanitizeLabelName(name string) string {
	var b strings.Builder
	for i, r := range name {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || (i > 0 && r >= '0' && r <= '9')
		if valid {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Dropped registros descartados (fila cheia ou envio falho)
func (ls *LokiSink) Dropped() int64 {
	return atomic.LoadInt64(&ls.droppedCount)
}

// Sent registros aceitos pelo Loki
func (ls *LokiSink) Sent() int64 {
	return atomic.LoadInt64(&ls.sentCount)
}

// Close para o loop após um flush final
func (ls *LokiSink) Close() error {
	ls.once.Do(func() {
		ls.closed.Store(true)
		ls.cancel()
		ls.wg.Wait()
		ls.httpClient.CloseIdleConnections()
	})
	return nil
}
