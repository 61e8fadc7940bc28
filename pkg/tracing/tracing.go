package tracing

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ssw-logmanager/pkg/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "ssw-logmanager"

// DefaultTracingConfig returns default tracing configuration
func DefaultTracingConfig() types.TracingConfig {
	return types.TracingConfig{
		Enabled:        false,
		ServiceName:    "ssw-logmanager",
		ServiceVersion: "v1.0.0",
		Environment:    "production",
		Exporter:       "otlp",
		Endpoint:       "http://localhost:4318/v1/traces",
		SampleRate:     1.0,
		BatchTimeout:   "5s",
		MaxBatchSize:   512,
		Headers:        make(map[string]string),
	}
}

// TracingManager manages distributed tracing
type TracingManager struct {
	config   types.TracingConfig
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewTracingManager creates a new tracing manager. A disabled config yields a
// manager whose spans are no-ops.
func NewTracingManager(config types.TracingConfig, logger *logrus.Logger) (*TracingManager, error) {
	if !config.Enabled {
		return NewNoopManager(logger), nil
	}

	tm := &TracingManager{
		config: config,
		logger: logger,
	}

	exporter, err := tm.createExporter()
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	batchTimeout := 5 * time.Second
	if config.BatchTimeout != "" {
		d, err := time.ParseDuration(config.BatchTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid tracing batch_timeout %q: %w", config.BatchTimeout, err)
		}
		batchTimeout = d
	}
	maxBatch := config.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 512
	}

	res, err := tm.createResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(batchTimeout),
			trace.WithMaxExportBatchSize(maxBatch),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(config.SampleRate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tm.provider = provider
	tm.tracer = provider.Tracer(instrumentationName)

	logger.WithFields(logrus.Fields{
		"service_name": config.ServiceName,
		"exporter":     config.Exporter,
		"endpoint":     config.Endpoint,
		"sample_rate":  config.SampleRate,
	}).Info("Distributed tracing initialized")

	return tm, nil
}

// NewNoopManager manager sem exportação
func NewNoopManager(logger *logrus.Logger) *TracingManager {
	return &TracingManager{
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer(instrumentationName),
	}
}

// NewWithProvider usa um provider já configurado (ex.: com SpanRecorder em testes)
func NewWithProvider(provider *trace.TracerProvider, logger *logrus.Logger) *TracingManager {
	return &TracingManager{
		config:   types.TracingConfig{Enabled: true},
		logger:   logger,
		provider: provider,
		tracer:   provider.Tracer(instrumentationName),
	}
}

// createExporter creates the appropriate trace exporter
func (tm *TracingManager) createExporter() (trace.SpanExporter, error) {
	switch strings.ToLower(tm.config.Exporter) {
	case "", "otlp":
		var opts []otlptracehttp.Option
		if strings.Contains(tm.config.Endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(tm.config.Endpoint))
		} else if tm.config.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(tm.config.Endpoint))
		}
		if tm.config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(tm.config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(tm.config.Headers))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))

	case "console":
		// coletor local para desenvolvimento
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint("localhost:4318"),
			otlptracehttp.WithInsecure(),
		))

	default:
		return nil, fmt.Errorf("unsupported exporter: %s", tm.config.Exporter)
	}
}

// createResource creates the trace resource
func (tm *TracingManager) createResource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(tm.config.ServiceName),
			semconv.ServiceVersion(tm.config.ServiceVersion),
			semconv.DeploymentEnvironment(tm.config.Environment),
		),
	)
}

// Enabled informa se spans são exportados
func (tm *TracingManager) Enabled() bool {
	return tm.provider != nil
}

// GetTracer returns the tracer instance
func (tm *TracingManager) GetTracer() oteltrace.Tracer {
	return tm.tracer
}

// StartCycle abre o span de um ciclo de replicação
func (tm *TracingManager) StartCycle(ctx context.Context, operation string, cycle int64) (context.Context, oteltrace.Span) {
	return tm.tracer.Start(ctx, "replication.cycle",
		oteltrace.WithAttributes(
			attribute.String("replication.operation", operation),
			attribute.Int64("replication.cycle", cycle),
		),
	)
}

// StartCopy abre o span da cópia de um arquivo
func (tm *TracingManager) StartCopy(ctx context.Context, source, destination string) (context.Context, oteltrace.Span) {
	return tm.tracer.Start(ctx, "replication.copy",
		oteltrace.WithAttributes(
			attribute.String("replication.source", source),
			attribute.String("replication.destination", destination),
		),
	)
}

// EndSpan registra o erro (se houver) e encerra o span
func EndSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown gracefully shuts down the tracing provider
func (tm *TracingManager) Shutdown(ctx context.Context) error {
	if tm.provider != nil {
		return tm.provider.Shutdown(ctx)
	}
	return nil
}

// TraceHandler is a middleware for HTTP tracing
func TraceHandler(tracer oteltrace.Tracer, operationName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, operationName)
			defer span.End()

			span.SetAttributes(
				semconv.HTTPMethod(r.Method),
				semconv.HTTPTarget(r.URL.Path),
				semconv.UserAgentOriginal(r.UserAgent()),
				semconv.ClientAddress(r.RemoteAddr),
			)

			otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(w.Header()))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExtractTraceInfo extracts trace information from context
func ExtractTraceInfo(ctx context.Context) (traceID, spanID string) {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		spanID = span.SpanContext().SpanID().String()
	}
	return
}

// InjectTraceFields acrescenta trace_id/span_id aos campos de log
func InjectTraceFields(ctx context.Context, fields logrus.Fields) logrus.Fields {
	traceID, spanID := ExtractTraceInfo(ctx)
	if traceID != "" {
		fields["trace_id"] = traceID
	}
	if spanID != "" {
		fields["span_id"] = spanID
	}
	return fields
}
