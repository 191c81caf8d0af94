package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"thermalcal/internal/logging"
)

// TracerName is the instrumentation scope of pipeline spans.
const TracerName = "thermalcal"

const (
	defaultServiceName  = "thermalcal-server"
	defaultOTLPEndpoint = "localhost:4317"
	shutdownTimeout     = 5 * time.Second
)

// Exporter names a span exporter.
type Exporter string

const (
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

// TracingConfig selects the exporter and sampling of pipeline spans.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    Exporter
	Endpoint    string // OTLP gRPC collector address
	SampleRatio float64
}

// TracingConfigFromEnv reads the THERMALCAL_TRACING_* variables and
// THERMALCAL_OTLP_ENDPOINT through getenv. Tracing is off unless enabled;
// malformed values are errors rather than silently replaced.
func TracingConfigFromEnv(getenv func(string) string) (TracingConfig, error) {
	cfg := TracingConfig{
		ServiceName: defaultServiceName,
		Exporter:    ExporterStdout,
		SampleRatio: 1,
	}
	if getenv == nil {
		return cfg, nil
	}

	if raw := getenv("THERMALCAL_TRACING_ENABLED"); raw != "" {
		on, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, fmt.Errorf("THERMALCAL_TRACING_ENABLED: %q is not a boolean", raw)
		}
		cfg.Enabled = on
	}
	if raw := getenv("THERMALCAL_TRACING_EXPORTER"); raw != "" {
		exp, err := parseExporter(raw)
		if err != nil {
			return cfg, fmt.Errorf("THERMALCAL_TRACING_EXPORTER: %w", err)
		}
		cfg.Exporter = exp
	}
	if raw := getenv("THERMALCAL_TRACING_SERVICE_NAME"); raw != "" {
		cfg.ServiceName = raw
	}
	if raw := getenv("THERMALCAL_TRACING_SAMPLE_RATIO"); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			return cfg, fmt.Errorf("THERMALCAL_TRACING_SAMPLE_RATIO: %q is not within [0, 1]", raw)
		}
		cfg.SampleRatio = ratio
	}
	cfg.Endpoint = getenv("THERMALCAL_OTLP_ENDPOINT")
	return cfg, nil
}

func parseExporter(s string) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stdout":
		return ExporterStdout, nil
	case "otlp", "otlpgrpc":
		return ExporterOTLP, nil
	}
	return "", fmt.Errorf("unsupported tracing exporter %q", s)
}

// Tracing owns the installed tracer provider. The zero value and nil are
// valid and flush nothing.
type Tracing struct {
	provider *sdktrace.TracerProvider
	log      logging.Logger
}

// StartTracing installs the global tracer provider and propagators for cfg.
// out receives stdout-exported spans; nil means os.Stdout.
func StartTracing(ctx context.Context, cfg TracingConfig, out io.Writer, log logging.Logger) (*Tracing, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return &Tracing{log: log}, nil
	}

	exp, err := newExporter(ctx, cfg, out)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "thermalcal"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", string(cfg.Exporter)),
		logging.String("service_name", cfg.ServiceName),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return &Tracing{provider: tp, log: log}, nil
}

func newExporter(ctx context.Context, cfg TracingConfig, out io.Writer) (sdktrace.SpanExporter, error) {
	kind, err := parseExporter(string(cfg.Exporter))
	if err != nil {
		return nil, err
	}
	if kind == ExporterOTLP {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	}
	if out == nil {
		out = os.Stdout
	}
	return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
}

// Shutdown flushes buffered spans, giving up after five seconds. Failures
// are logged.
func (t *Tracing) Shutdown(ctx context.Context) {
	if t == nil || t.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := t.provider.Shutdown(ctx); err != nil {
		t.log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// Tracer returns the tracer for pipeline spans.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan starts a pipeline span named stage.
func StartSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, stage, trace.WithAttributes(attrs...))
}

// EndSpan ends span, marking it failed when err is non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
