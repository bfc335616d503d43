package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/archive"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/clock"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/ledger"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/pipeline"
	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

// Pipeline is the subset of the orchestrator the API serves
type Pipeline interface {
	ProcessAndLog(ctx context.Context, r types.Reading) (pipeline.Result, error)
	Devices() []string
	Dashboard(deviceID string) (pipeline.Dashboard, bool)
	Ledger() *ledger.Logger
}

// Analytics summarizes archived readings
type Analytics interface {
	Summary(ctx context.Context, deviceID string, since time.Time) (archive.Summary, error)
}

// Server exposes the pipeline over HTTP
type Server struct {
	pipeline    Pipeline
	analytics   Analytics
	clock       clock.Clock
	corsOrigins []string
	metrics     bool
}

// Option customizes a Server
type Option func(*Server)

// WithAnalytics enables the analytics route
func WithAnalytics(a Analytics) Option {
	return func(s *Server) {
		s.analytics = a
	}
}

// WithClock sets the clock used for default timestamps and analytics windows
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithCORSOrigins sets the allowed cross-origin callers
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.corsOrigins = origins
	}
}

// WithMetrics toggles the /metrics route
func WithMetrics(enabled bool) Option {
	return func(s *Server) {
		s.metrics = enabled
	}
}

// NewServer creates an API server for p
func NewServer(p Pipeline, opts ...Option) *Server {
	s := &Server{
		pipeline:    p,
		clock:       clock.RealClock{},
		corsOrigins: []string{"*"},
		metrics:     true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router registers every route without middleware
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.metrics {
		r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/readings", s.postReading).Methods(http.MethodPost)
	v1.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	v1.HandleFunc("/data/{device_id}", s.getDashboard).Methods(http.MethodGet)
	v1.HandleFunc("/analytics/{device_id}", s.getAnalytics).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/logs", s.listLedgerLogs).Methods(http.MethodGet)
	v1.HandleFunc("/ledger/logs/{device_id}", s.listDeviceLedgerLogs).Methods(http.MethodGet)

	return r
}

// Handler wraps the router with CORS, panic recovery and access logging
func (s *Server) Handler() http.Handler {
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.corsOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)
	return handlers.CombinedLoggingHandler(accessLogWriter{}, recovery(cors(s.Router())))
}

// HTTPServer builds an http.Server for addr serving Handler
func (s *Server) HTTPServer(addr string, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}

// accessLogWriter forwards combined-format access lines to klog
type accessLogWriter struct{}

func (accessLogWriter) Write(p []byte) (int, error) {
	klog.V(3).InfoS("HTTP request", "access", strings.TrimSpace(string(p)))
	return len(p), nil
}

type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	klog.ErrorS(nil, "Recovered from handler panic", "detail", strings.TrimSpace(fmt.Sprintln(v...)))
}
