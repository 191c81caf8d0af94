package observability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestCollectorObserveCalibration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	c.ObserveCalibration("table", 100, 3, true)
	c.ObserveCalibration("table", 50, 0, false)
	c.ObserveCalibration("manual", 10, 1, true)
	c.ObserveUpload(4096)

	if got := testutil.ToFloat64(c.Calibrations.WithLabelValues("table")); got != 2 {
		t.Fatalf("table calibrations = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.CalibratedPixels); got != 160 {
		t.Fatalf("calibrated pixels = %v, want 160", got)
	}
	if got := testutil.ToFloat64(c.NonFinitePixels); got != 4 {
		t.Fatalf("non-finite pixels = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.IdentityFallbacks); got != 1 {
		t.Fatalf("identity fallbacks = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.UploadBytes); n != 1 {
		t.Fatalf("upload histogram series = %d", n)
	}
}

func TestNewCollectorReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("first NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	first.CalibratedPixels.Add(5)
	if got := testutil.ToFloat64(second.CalibratedPixels); got != 5 {
		t.Fatalf("second collector does not share counters: %v", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *Collector
	c.ObserveCalibration("table", 1, 0, false)
	c.ObserveUpload(1)

	rec := httptest.NewRecorder()
	c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	r := mux.NewRouter()
	r.Use(c.Middleware)
	r.HandleFunc("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}).Methods(http.MethodPost)
	r.Handle("/metrics", c.Handler())

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/items/"+id, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("code = %d", rec.Code)
		}
	}

	got := testutil.ToFloat64(c.HTTPRequests.WithLabelValues("/api/v1/items/{id}", http.MethodPost, "400"))
	if got != 2 {
		t.Fatalf("requests = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "thermalcal_http_requests_total") {
		t.Fatalf("metrics output missing request counter:\n%s", body)
	}
}

func TestTracingConfigFromEnv(t *testing.T) {
	env := map[string]string{
		"THERMALCAL_TRACING_ENABLED":      "TRUE",
		"THERMALCAL_TRACING_EXPORTER":     "OTLP",
		"THERMALCAL_TRACING_SAMPLE_RATIO": "0.25",
		"THERMALCAL_OTLP_ENDPOINT":        "collector:4317",
	}
	cfg, err := TracingConfigFromEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("TracingConfigFromEnv: %v", err)
	}
	want := TracingConfig{
		Enabled:     true,
		ServiceName: "thermalcal-server",
		Exporter:    ExporterOTLP,
		Endpoint:    "collector:4317",
		SampleRatio: 0.25,
	}
	if cfg != want {
		t.Fatalf("cfg = %+v, want %+v", cfg, want)
	}

	cfg, err = TracingConfigFromEnv(nil)
	if err != nil || cfg.Enabled || cfg.Exporter != ExporterStdout || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %+v, %v", cfg, err)
	}
}

func TestTracingConfigFromEnvRejectsMalformedValues(t *testing.T) {
	for key, value := range map[string]string{
		"THERMALCAL_TRACING_ENABLED":      "sometimes",
		"THERMALCAL_TRACING_EXPORTER":     "zipkin",
		"THERMALCAL_TRACING_SAMPLE_RATIO": "7",
	} {
		getenv := func(k string) string {
			if k == key {
				return value
			}
			return ""
		}
		if _, err := TracingConfigFromEnv(getenv); err == nil || !strings.Contains(err.Error(), key) {
			t.Errorf("%s=%s: err = %v, want an error naming the variable", key, value, err)
		}
	}
}

func TestStartTracingDisabled(t *testing.T) {
	tracing, err := StartTracing(context.Background(), TracingConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("StartTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a recording span")
	}
	EndSpan(span, nil)
	tracing.Shutdown(context.Background())

	var none *Tracing
	none.Shutdown(context.Background())
}

func TestStartTracingStdoutFlushesOnShutdown(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	cfg := TracingConfig{Enabled: true, ServiceName: "test", Exporter: ExporterStdout, SampleRatio: 1}
	tracing, err := StartTracing(context.Background(), cfg, &buf, nil)
	if err != nil {
		t.Fatalf("StartTracing: %v", err)
	}
	_, span := StartSpan(context.Background(), "encode")
	EndSpan(span, nil)
	tracing.Shutdown(context.Background())

	if !strings.Contains(buf.String(), `"encode"`) {
		t.Fatalf("exported spans missing encode:\n%s", buf.String())
	}
}

func TestStartTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := StartTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil, nil); err == nil {
		t.Fatalf("expected an error for an unknown exporter")
	}
}

func TestEndSpanRecordsFailure(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := StartSpan(context.Background(), "decode", attribute.Int64("upload.bytes", 42))
	EndSpan(span, errors.New("truncated strip"))

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	got := ended[0]
	if got.Status().Code != codes.Error || got.Status().Description != "truncated strip" {
		t.Fatalf("status = %+v", got.Status())
	}
	if len(got.Events()) != 1 || got.Events()[0].Name != "exception" {
		t.Fatalf("events = %+v, want one exception event", got.Events())
	}
	if len(got.Attributes()) != 1 || got.Attributes()[0].Value.AsInt64() != 42 {
		t.Fatalf("attributes = %v", got.Attributes())
	}
}

func TestTracerUsesGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	_, span := Tracer().Start(context.Background(), "calibrate")
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 || ended[0].Name() != "calibrate" {
		t.Fatalf("recorded spans = %v", ended)
	}
	if ended[0].InstrumentationScope().Name != TracerName {
		t.Fatalf("scope = %q", ended[0].InstrumentationScope().Name)
	}
}
