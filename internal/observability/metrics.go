// Package observability wires Prometheus metrics and OpenTelemetry tracing
// for the calibration server.
package observability

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the server's Prometheus metrics.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	Calibrations      *prometheus.CounterVec
	CalibratedPixels  prometheus.Counter
	NonFinitePixels   prometheus.Counter
	IdentityFallbacks prometheus.Counter
	UploadBytes       prometheus.Histogram
}

// NewCollector registers metrics against reg, defaulting to the global
// Prometheus registry when nil. Registering twice on the same registry
// returns the existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thermalcal_http_requests_total",
		Help: "Handled HTTP requests, labeled by route, method and status code.",
	}, []string{"route", "method", "code"}), "thermalcal_http_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "thermalcal_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"route", "method"}), "thermalcal_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	calibrations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "thermalcal_calibrations_total",
		Help: "Calibrations performed, labeled by coefficient mode.",
	}, []string{"mode"}), "thermalcal_calibrations_total")
	if err != nil {
		return nil, err
	}

	pixels, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermalcal_calibrated_pixels_total",
		Help: "Pixels passed through the affine calibration.",
	}), "thermalcal_calibrated_pixels_total")
	if err != nil {
		return nil, err
	}

	nonFinite, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermalcal_nonfinite_pixels_total",
		Help: "Calibrated pixels that are NaN or infinite.",
	}), "thermalcal_nonfinite_pixels_total")
	if err != nil {
		return nil, err
	}

	fallbacks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "thermalcal_identity_fallbacks_total",
		Help: "Table lookups with no entry that fell back to A=1, B=0.",
	}), "thermalcal_identity_fallbacks_total")
	if err != nil {
		return nil, err
	}

	uploads, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "thermalcal_upload_bytes",
		Help:    "Size of uploaded rasters in bytes.",
		Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
	}), "thermalcal_upload_bytes")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:          gatherer,
		HTTPRequests:      requests,
		HTTPDurations:     durations,
		Calibrations:      calibrations,
		CalibratedPixels:  pixels,
		NonFinitePixels:   nonFinite,
		IdentityFallbacks: fallbacks,
		UploadBytes:       uploads,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveCalibration records one calibration. matched is false when a table
// lookup fell back to the identity transform.
func (c *Collector) ObserveCalibration(mode string, pixels, nonFinite int, matched bool) {
	if c == nil {
		return
	}
	c.Calibrations.WithLabelValues(mode).Inc()
	c.CalibratedPixels.Add(float64(pixels))
	c.NonFinitePixels.Add(float64(nonFinite))
	if !matched {
		c.IdentityFallbacks.Inc()
	}
}

// ObserveUpload records the size of an uploaded file.
func (c *Collector) ObserveUpload(size int64) {
	if c == nil {
		return
	}
	c.UploadBytes.Observe(float64(size))
}

// Middleware records request counts and durations, labeled by the mux route
// template so path parameters do not explode cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := RouteName(r)
		c.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.code)).Inc()
		c.HTTPDurations.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// RouteName returns the path template of the matched mux route, or "unknown".
func RouteName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
			return tpl
		}
	}
	return "unknown"
}

type statusWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wrote {
		w.code = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
