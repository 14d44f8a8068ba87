// Package control exposes the playout engine's HTTP control-plane surface
// (spec.md §6): start_channel/stop_channel/load_preview/switch_to_live,
// output-sink attach/detach, and block-plan admission, plus /healthz and
// /metrics. The router setup, writeJSON/writeError helpers, and
// route-group shape are grounded on yourflock-roost's per-service main.go
// pattern (e.g. server/services/broadcast/cmd/broadcast/main.go):
// go-chi/chi middleware stack, a thin `server` struct holding
// collaborators, one handler method per route.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/alxayo/playout-engine/internal/errors"
	"github.com/alxayo/playout-engine/internal/logger"
	"github.com/alxayo/playout-engine/internal/playout"
)

// PlayoutController is the subset of playout.Session's operations the
// control plane drives.
type PlayoutController interface {
	BeginSession() (playout.Reason, error)
	Stop() (playout.Reason, error)
	LoadPreview() (playout.Reason, error)
	SwitchToLive(check playout.ReadinessCheck) (playout.Reason, error)
	State() playout.State
}

// BlockAdmitter validates and admits an incoming block plan.
type BlockAdmitter interface {
	AdmitBlock(raw json.RawMessage) error
}

// SinkManager attaches/detaches named output sinks.
type SinkManager interface {
	AttachOutput(id string) error
	DetachOutput(id string) error
}

// Metrics holds the control plane's Prometheus collectors.
type Metrics struct {
	ControlOps   *prometheus.CounterVec
	ChannelState prometheus.Gauge
}

// NewMetrics builds a fresh Metrics set and registers it against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ControlOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playout_control_ops_total",
			Help: "Count of control-plane operations by name and outcome.",
		}, []string{"op", "outcome"}),
		ChannelState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "playout_channel_state",
			Help: "Current playout.State as an integer enum value.",
		}),
	}
	reg.MustRegister(m.ControlOps, m.ChannelState)
	return m
}

// Server is the HTTP control-plane server.
type Server struct {
	playoutCtl PlayoutController
	readiness  playout.ReadinessCheck
	blocks     BlockAdmitter
	sinks      SinkManager
	metrics    *Metrics
	registry   *prometheus.Registry

	// diagLimiter throttles verbose diagnostic log lines (e.g. repeated
	// rejected admission attempts) so a misbehaving caller cannot flood
	// the log at request rate.
	diagLimiter *rate.Limiter
	log         *slog.Logger
}

// New constructs a Server. registry is the Prometheus registry /metrics
// serves; pass prometheus.NewRegistry() for an isolated instance or
// prometheus.DefaultRegisterer's registry to share the process default.
// readiness is consulted on every switch_to_live request to confirm the
// segment about to take authority has actually buffered frames.
func New(ctl PlayoutController, readiness playout.ReadinessCheck, blocks BlockAdmitter, sinks SinkManager, registry *prometheus.Registry) *Server {
	return &Server{
		playoutCtl:  ctl,
		readiness:   readiness,
		blocks:      blocks,
		sinks:       sinks,
		metrics:     NewMetrics(registry),
		registry:    registry,
		diagLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		log:         logger.Logger().With("component", "control"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}

// Router builds the chi.Router exposing every control-plane route.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/channel/start", s.handleStartChannel)
	r.Post("/channel/stop", s.handleStopChannel)
	r.Post("/channel/preview/load", s.handleLoadPreview)
	r.Post("/channel/live/switch", s.handleSwitchToLive)
	r.Post("/channel/blocks", s.handleAdmitBlock)
	r.Post("/sinks/{id}/attach", s.handleAttachSink)
	r.Post("/sinks/{id}/detach", s.handleDetachSink)

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "playout-engine"})
}

func (s *Server) recordOutcome(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ControlOps.WithLabelValues(op, outcome).Inc()
	s.metrics.ChannelState.Set(float64(s.playoutCtl.State()))
}

func (s *Server) handleStartChannel(w http.ResponseWriter, r *http.Request) {
	reason, err := s.playoutCtl.BeginSession()
	s.recordOutcome("start_channel", err)
	if err != nil {
		s.throttledWarn("start_channel rejected", "reason", reason.String())
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reason": reason.String()})
}

func (s *Server) handleStopChannel(w http.ResponseWriter, r *http.Request) {
	reason, err := s.playoutCtl.Stop()
	s.recordOutcome("stop_channel", err)
	if err != nil {
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reason": reason.String()})
}

func (s *Server) handleLoadPreview(w http.ResponseWriter, r *http.Request) {
	reason, err := s.playoutCtl.LoadPreview()
	s.recordOutcome("load_preview", err)
	if err != nil {
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reason": reason.String()})
}

func (s *Server) handleSwitchToLive(w http.ResponseWriter, r *http.Request) {
	reason, err := s.playoutCtl.SwitchToLive(s.readiness)
	s.recordOutcome("switch_to_live", err)
	if err != nil {
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reason": reason.String()})
}

func (s *Server) handleAdmitBlock(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	err := s.blocks.AdmitBlock(raw)
	s.recordOutcome("admit_block", err)
	if err != nil {
		s.throttledWarn("block plan rejected", "error", err.Error())
		status := http.StatusUnprocessableEntity
		if errors.IsInvariantViolation(err) {
			status = http.StatusInternalServerError
		}
		writeError(w, status, "validation_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "admitted"})
}

func (s *Server) handleAttachSink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.sinks.AttachOutput(id)
	s.recordOutcome("attach_output_sink", err)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "attach_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "attached", "id": id})
}

func (s *Server) handleDetachSink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.sinks.DetachOutput(id)
	s.recordOutcome("detach_output_sink", err)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "detach_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "detached", "id": id})
}

// throttledWarn logs a diagnostic warning, rate-limited so a caller
// hammering a rejected operation cannot flood the log at request rate.
func (s *Server) throttledWarn(msg string, args ...interface{}) {
	if !s.diagLimiter.Allow() {
		return
	}
	s.log.Warn(msg, args...)
}
