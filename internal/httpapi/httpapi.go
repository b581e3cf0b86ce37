// Package httpapi exposes the pipeline's minimal status surface: a
// health probe, a status snapshot and Prometheus metrics, plus a
// POST /command endpoint for operator commands.
// This is deliberately not the teacher's dashboard/websocket/auth
// stack — just enough for an operator or load balancer to see the
// orchestrator is alive.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atlasquant/tradecore/internal/orchestrator"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "tradecore_tick_duration_seconds",
		Help: "Wall-clock duration of each pipeline tick.",
	})
	portfolioEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradecore_portfolio_equity",
		Help: "Current portfolio equity.",
	})
)

// Server wraps the HTTP status surface.
type Server struct {
	logger *zap.Logger
	runner *orchestrator.Runner
	srv    *http.Server
}

// New builds a Server listening on addr.
func New(logger *zap.Logger, runner *orchestrator.Runner, addr string) *Server {
	r := mux.NewRouter()
	s := &Server{logger: logger.Named("httpapi"), runner: runner}

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/command", s.handleCommand).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler := cors.New(cors.Options{AllowedMethods: []string{http.MethodGet, http.MethodPost}}).Handler(r)
	s.srv = &http.Server{Addr: addr, Handler: handler}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Iteration           int64     `json:"iteration"`
	LastTickTimestamp   time.Time `json:"last_tick_ts"`
	PortfolioEquity     string    `json:"portfolio_equity"`
	CircuitBreakerState string    `json:"cb_state"`
	OpenPositionsCount  int       `json:"open_positions_count"`
	Running             bool      `json:"running"`
}

func (s *Server) handleStatus(w http.ResponseWriter, req *http.Request) {
	st := s.runner.Status()
	portfolioEquity.Set(mustFloat(st.PortfolioEquity))
	tickDuration.Observe(st.LastTickDuration.Seconds())

	resp := statusResponse{
		Iteration:           st.Iteration,
		LastTickTimestamp:   st.LastTickAt,
		PortfolioEquity:     st.PortfolioEquity.String(),
		CircuitBreakerState: string(st.CircuitBreakerLevel),
		OpenPositionsCount:  st.OpenPositionsCount,
		Running:             st.Running,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// commandRequest is the command channel the out-of-scope operator
// control plane issues PAUSE/RESUME/FLATTEN/REDUCE(x%)/HALT through.
// Fraction is only read for "reduce", as the fraction in (0, 1] of
// each position to close.
type commandRequest struct {
	Command  string  `json:"command"`
	Fraction float64 `json:"fraction,omitempty"`
}

func (s *Server) handleCommand(w http.ResponseWriter, req *http.Request) {
	var body commandRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("invalid command body: %v", err), http.StatusBadRequest)
		return
	}

	switch body.Command {
	case "pause":
		s.runner.Command(orchestrator.CommandPause)
	case "resume":
		s.runner.Command(orchestrator.CommandResume)
	case "halt":
		s.runner.Command(orchestrator.CommandHalt)
	case "flatten":
		s.runner.Command(orchestrator.CommandFlatten)
	case "reduce":
		if body.Fraction <= 0 || body.Fraction > 1 {
			http.Error(w, "reduce requires a fraction in (0, 1]", http.StatusBadRequest)
			return
		}
		s.runner.Reduce(decimal.NewFromFloat(body.Fraction))
	default:
		http.Error(w, fmt.Sprintf("unknown command %q", body.Command), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func mustFloat(d interface{ Float64() (float64, bool) }) float64 {
	f, _ := d.Float64()
	return f
}

// ListenAndServe starts the HTTP server; it blocks until the server
// errors or is shut down.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Close shuts the server down immediately.
func (s *Server) Close() error {
	return s.srv.Close()
}
