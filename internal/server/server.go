// Package server exposes the calibration pipeline over HTTP: an upload page,
// a JSON preview endpoint and a GeoTIFF download endpoint.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"thermalcal/internal/config"
	"thermalcal/internal/logging"
	"thermalcal/internal/observability"
	"thermalcal/pkg/thermalcal"
)

// Options configures a Server.
type Options struct {
	// Table defaults to the built-in coefficient table.
	Table          *thermalcal.CoefficientTable
	Logger         logging.Logger
	Metrics        *observability.Collector
	MaxUploadBytes int64
	Workers        int
	PreserveNoData bool
	AllowedOrigins []string
	// Now defaults to time.Now; it supplies the flight time when none is given.
	Now func() time.Time
}

// OptionsFromConfig maps loaded configuration onto server options.
func OptionsFromConfig(cfg config.Config, table *thermalcal.CoefficientTable, log logging.Logger, metrics *observability.Collector) Options {
	return Options{
		Table:          table,
		Logger:         log,
		Metrics:        metrics,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Workers:        cfg.Workers,
		PreserveNoData: cfg.PreserveNoData,
		AllowedOrigins: cfg.AllowedOrigins,
	}
}

// Server serves the calibration UI and API. It holds no per-request state.
type Server struct {
	table          *thermalcal.CoefficientTable
	log            logging.Logger
	metrics        *observability.Collector
	maxUploadBytes int64
	workers        int
	preserveNoData bool
	origins        []string
	now            func() time.Time

	router *mux.Router
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	s := &Server{
		table:          opts.Table,
		log:            opts.Logger,
		metrics:        opts.Metrics,
		maxUploadBytes: opts.MaxUploadBytes,
		workers:        opts.Workers,
		preserveNoData: opts.PreserveNoData,
		origins:        opts.AllowedOrigins,
		now:            opts.Now,
	}
	if s.table == nil {
		s.table = thermalcal.DefaultCoefficientTable()
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = config.DefaultMaxUploadMB << 20
	}
	if s.now == nil {
		s.now = time.Now
	}
	if len(s.origins) == 0 {
		s.origins = []string{"*"}
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.metrics.Middleware)

	r.Handle("/", s.handle(s.handleIndex)).Methods(http.MethodGet)
	r.Handle("/healthz", s.handle(s.handleHealth)).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Handle("/coefficients", s.handle(s.handleCoefficients)).Methods(http.MethodGet)
	api.Handle("/preview", s.handle(s.handlePreview)).Methods(http.MethodPost)
	api.Handle("/calibrate", s.handle(s.handleCalibrate)).Methods(http.MethodPost)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler wrapped with CORS and panic recovery.
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedOrigins(s.origins),
		handlers.ExposedHeaders([]string{"Content-Disposition", headerNotice, headerRequestID}),
	)
	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{s.log}), handlers.PrintRecoveryStack(false))
	return recovery(cors(s.router))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "listening", logging.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info(ctx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// apiHandler is an HTTP handler that reports failures as errors.
type apiHandler func(w http.ResponseWriter, r *http.Request) error

// handle attaches a request-scoped logger and turns handler errors into JSON
// error replies.
func (s *Server) handle(h apiHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, id := logging.WithRequest(r.Context(), s.log, r.Header.Get(headerRequestID))
		w.Header().Set(headerRequestID, id)

		err := h(w, r.WithContext(ctx))
		if err == nil {
			return
		}
		code := statusOf(err)
		fields := []logging.Field{
			logging.String("route", observability.RouteName(r)),
			logging.Int("status", code),
			logging.Err(err),
		}
		if code >= http.StatusInternalServerError {
			s.log.Error(ctx, "request failed", fields...)
		} else {
			s.log.Info(ctx, "request rejected", fields...)
		}
		_ = writeJSON(w, code, errorResponse{Error: err.Error(), RequestID: id})
	})
}

type recoveryLogger struct {
	log logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.log.Error(context.Background(), "panic while serving request", logging.Any("panic", v))
}
