package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"atlasbot/internal/feed"
	"atlasbot/internal/logger"
	"atlasbot/internal/risk"
	"atlasbot/internal/trader"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type Feed interface {
	Mode() feed.Mode
	ActiveURL() string
	Latency() time.Duration
	Reconnects() int64
}

type Ledger interface {
	Gating() risk.GatingStatus
	Equity() float64
	Cash() float64
	DailyPnL() float64
	TradeCountDay() int
	MakerFillRatio() float64
	MacroHitRate() float64
	PortfolioSnapshot() risk.Portfolio
}

type Weights interface {
	Weights() map[string]float64
}

type Positions interface {
	OpenPositions() map[string]int
}

type Deps struct {
	Feed      Feed
	Ledger    Ledger
	Weights   Weights
	Positions Positions
	Rejects   *trader.Rejects
	Gatherer  prometheus.Gatherer
}

// Status is the /status payload.
type Status struct {
	Mode           string             `json:"mode"`
	ActiveURL      string             `json:"active_url,omitempty"`
	LatencyMs      int64              `json:"latency_ms"`
	Reconnects     int64              `json:"reconnects"`
	Gating         risk.GatingStatus  `json:"gating"`
	EquityUSD      float64            `json:"equity_usd"`
	CashUSD        float64            `json:"cash_usd"`
	DailyPnL       float64            `json:"daily_pnl"`
	TradeCountDay  int                `json:"trade_count_day"`
	MakerFillRatio float64            `json:"maker_fill_ratio"`
	MacroHitRate   float64            `json:"macro_hit_rate"`
	Weights        map[string]float64 `json:"weights"`
	OpenPositions  map[string]int     `json:"open_positions"`
	Rejects        map[string]int     `json:"rejects"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Server is the read-only status endpoint. It never mutates trading state.
type Server struct {
	addr   string
	deps   Deps
	router *mux.Router
	log    *logger.Logger
}

func NewServer(addr string, deps Deps, log *logger.Logger) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{addr: addr, deps: deps, router: mux.NewRouter(), log: log}
	s.setupRoutes()
	return s
}

func (s *Server) logEntry() *logrus.Entry {
	return s.log.WithComponent("api")
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/portfolio", s.handlePortfolio).Methods("GET")
	s.router.HandleFunc("/rejects/{filter}", s.handleRejects).Methods("GET")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx ends, then shuts down with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logEntry().WithField("addr", s.addr).Info("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if s.deps.Ledger != nil && s.deps.Ledger.Gating().KillSwitch {
		status = http.StatusServiceUnavailable
		body["status"] = "killed"
	}
	respondStatus(w, status, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var st Status
	if f := s.deps.Feed; f != nil {
		st.Mode = f.Mode().String()
		st.ActiveURL = f.ActiveURL()
		st.LatencyMs = f.Latency().Milliseconds()
		st.Reconnects = f.Reconnects()
	}
	if l := s.deps.Ledger; l != nil {
		st.Gating = l.Gating()
		st.EquityUSD = l.Equity()
		st.CashUSD = l.Cash()
		st.DailyPnL = l.DailyPnL()
		st.TradeCountDay = l.TradeCountDay()
		st.MakerFillRatio = l.MakerFillRatio()
		st.MacroHitRate = l.MacroHitRate()
	}
	if s.deps.Weights != nil {
		st.Weights = s.deps.Weights.Weights()
	}
	if s.deps.Positions != nil {
		st.OpenPositions = s.deps.Positions.OpenPositions()
	}
	if s.deps.Rejects != nil {
		st.Rejects = s.deps.Rejects.Counts()
	}
	respondJSON(w, st)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		respondError(w, http.StatusServiceUnavailable, "ledger unavailable", "")
		return
	}
	respondJSON(w, s.deps.Ledger.PortfolioSnapshot())
}

func (s *Server) handleRejects(w http.ResponseWriter, r *http.Request) {
	filter := mux.Vars(r)["filter"]
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "invalid n", raw)
			return
		}
		n = v
	}
	rejects := []trader.Reject{}
	if s.deps.Rejects != nil {
		rejects = append(rejects, s.deps.Rejects.Last(filter, n)...)
	}
	respondJSON(w, rejects)
}

func respondJSON(w http.ResponseWriter, data any) {
	respondStatus(w, http.StatusOK, data)
}

func respondStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, detail string) {
	respondStatus(w, status, ErrorResponse{Error: msg, Message: detail})
}
