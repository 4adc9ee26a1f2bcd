package ops

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cryptogate/cryptogate/internal/arbiter"
	"github.com/cryptogate/cryptogate/internal/breaker"
	"github.com/cryptogate/cryptogate/internal/lifecycle"
	"github.com/cryptogate/cryptogate/internal/pipeline"
	"github.com/cryptogate/cryptogate/internal/position"
	"github.com/cryptogate/cryptogate/internal/ratebudget"
	"github.com/cryptogate/cryptogate/internal/signal"
)

// HealthPayload is the /health response body.
type HealthPayload struct {
	Status     string              `json:"status"`
	Timestamp  time.Time           `json:"timestamp"`
	Arbiter    arbiter.Snapshot    `json:"arbiter"`
	RateBudget ratebudget.Snapshot `json:"rate_budget"`
	Breaker    breaker.Status      `json:"breaker"`
	Positions  []position.Position `json:"positions"`
}

// Server exposes signal ingestion, /health and /metrics.
type Server struct {
	log     zerolog.Logger
	arb     *arbiter.Arbiter
	budget  *ratebudget.Budget
	brk     *breaker.Breaker
	manager *lifecycle.Manager
	pipe    *pipeline.Pipeline

	httpSrv *http.Server
}

// New builds the ops server on the given listen address.
func New(addr string, pipe *pipeline.Pipeline, arb *arbiter.Arbiter, budget *ratebudget.Budget, brk *breaker.Breaker, manager *lifecycle.Manager, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{
		log:     log.With().Str("component", "ops").Logger(),
		arb:     arb,
		budget:  budget,
		brk:     brk,
		manager: manager,
		pipe:    pipe,
	}

	r := mux.NewRouter()
	r.HandleFunc("/signals", s.handleSignal).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpSrv.Addr).Msg("ops server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type signalRequest struct {
	ProducerID string  `json:"producer_id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// handleSignal ingests one producer signal and returns the admission decision.
// A denial is a 200 with Admitted=false; only malformed requests are 4xx.
func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	sig, err := signal.New(req.ProducerID, req.Symbol, signal.Direction(req.Direction), req.Confidence, time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	decision := s.pipe.Submit(r.Context(), sig)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(decision); err != nil {
		s.log.Error().Err(err).Msg("decision encode failed")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.brk.Check()
	payload := HealthPayload{
		Status:     "ok",
		Timestamp:  time.Now().UTC(),
		Arbiter:    s.arb.GetSnapshot(),
		RateBudget: s.budget.GetSnapshot(),
		Breaker:    status,
		Positions:  s.manager.Positions(),
	}
	if !status.TradingAllowed {
		payload.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error().Err(err).Msg("health encode failed")
	}
}
