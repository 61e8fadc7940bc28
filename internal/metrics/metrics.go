package metrics

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// Counter para registros entregues a handlers
	RecordsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logmanager_records_routed_total",
			Help: "Total number of records delivered to a handler",
		},
		[]string{"handler"},
	)

	// Counter para registros barrados pelo filtro de um handler
	RecordsFilteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logmanager_records_filtered_total",
			Help: "Total number of records rejected by a handler filter",
		},
		[]string{"handler"},
	)

	// Counter para falhas de escrita em sinks
	SinkWriteErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logmanager_sink_write_errors_total",
			Help: "Total number of failed sink writes",
		},
		[]string{"handler", "sink_type"},
	)

	// Gauge com o estado do circuit breaker de sinks remotos (0 closed, 1 half_open, 2 open)
	SinkBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logmanager_sink_breaker_state",
			Help: "Circuit breaker state of remote sinks (0 closed, 1 half_open, 2 open)",
		},
		[]string{"breaker"},
	)

	// Counter para tentativas de cópia por resultado (success, retry, failure, skipped)
	CopyAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logmanager_copy_attempts_total",
			Help: "Total number of file copy attempts by result",
		},
		[]string{"operation", "result"},
	)

	// Histogram para duração dos ciclos de replicação
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logmanager_replication_cycle_duration_seconds",
			Help:    "Time spent in one replication cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 300.0},
		},
		[]string{"operation"},
	)

	// Gauge para operações registradas por estado
	ReplicationOperations = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logmanager_replication_operations",
			Help: "Number of registered replication operations by state",
		},
		[]string{"state"},
	)

	// Gauge com a decisão do gate distribuído (1 = habilitado)
	GateEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "logmanager_replication_gate_enabled",
			Help: "Whether background replication is permitted on this process (1 = enabled)",
		},
	)

	// Counter para reloads de configuração
	ConfigReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logmanager_config_reloads_total",
			Help: "Total number of configuration reloads by result",
		},
		[]string{"result"},
	)

	// Counter para requisições da API administrativa
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logmanager_http_requests_total",
			Help: "Total number of admin API requests",
		},
		[]string{"route", "method", "status"},
	)

	// Histogram para latência da API administrativa
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logmanager_http_request_duration_seconds",
			Help:    "Admin API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Counter para erros
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logmanager_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// Gauge para número de goroutines
	Goroutines = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "logmanager_goroutines",
			Help: "Number of goroutines",
		},
		func() float64 { return float64(runtime.NumGoroutine()) },
	)

	registerOnce sync.Once
)

// Register registra as métricas no registry padrão; chamadas repetidas são ignoradas
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RecordsRoutedTotal,
			RecordsFilteredTotal,
			SinkWriteErrorsTotal,
			SinkBreakerState,
			CopyAttemptsTotal,
			CycleDuration,
			ReplicationOperations,
			GateEnabled,
			ConfigReloadsTotal,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			ErrorsTotal,
			Goroutines,
		)
	})
}

// MetricsServer servidor HTTP para métricas Prometheus
type MetricsServer struct {
	server *http.Server
	logger *logrus.Logger
}

// NewMetricsServer cria um novo servidor de métricas
func NewMetricsServer(addr, path string, logger *logrus.Logger) *MetricsServer {
	Register()

	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start inicia o servidor de métricas
func (ms *MetricsServer) Start() error {
	ms.logger.WithField("addr", ms.server.Addr).Info("Starting metrics server")

	go func() {
		if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ms.logger.WithError(err).Error("Metrics server error")
		}
	}()

	return nil
}

// Stop para o servidor de métricas
func (ms *MetricsServer) Stop() error {
	ms.logger.Info("Stopping metrics server")
	return ms.server.Close()
}

// Funções auxiliares para métricas comuns

// RecordRouted registra um registro entregue ou filtrado
func RecordRouted(handler string, delivered bool) {
	if delivered {
		RecordsRoutedTotal.WithLabelValues(handler).Inc()
	} else {
		RecordsFilteredTotal.WithLabelValues(handler).Inc()
	}
}

// RecordSinkError registra falha de escrita em um sink
func RecordSinkError(handler, sinkType string) {
	SinkWriteErrorsTotal.WithLabelValues(handler, sinkType).Inc()
}

// SetBreakerState publica o estado de um breaker
func SetBreakerState(breaker, state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	SinkBreakerState.WithLabelValues(breaker).Set(v)
}

// RecordCopyAttempt registra o resultado de uma tentativa de cópia
func RecordCopyAttempt(operation, result string) {
	CopyAttemptsTotal.WithLabelValues(operation, result).Inc()
}

// RecordCycleDuration registra a duração de um ciclo
func RecordCycleDuration(operation string, duration time.Duration) {
	CycleDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetOperationStates substitui a contagem de operações por estado
func SetOperationStates(counts map[string]int) {
	ReplicationOperations.Reset()
	for state, n := range counts {
		ReplicationOperations.WithLabelValues(state).Set(float64(n))
	}
}

// SetGateEnabled publica a decisão do gate
func SetGateEnabled(enabled bool) {
	if enabled {
		GateEnabled.Set(1)
	} else {
		GateEnabled.Set(0)
	}
}

// RecordConfigReload registra um reload
func RecordConfigReload(success bool) {
	if success {
		ConfigReloadsTotal.WithLabelValues("success").Inc()
	} else {
		ConfigReloadsTotal.WithLabelValues("failure").Inc()
	}
}

// RecordHTTPRequest registra uma requisição da API administrativa
func RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
	HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordError registra um erro
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
