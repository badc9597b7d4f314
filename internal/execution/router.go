package execution

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"atlasbot/internal/logger"
	"atlasbot/internal/models"

	"github.com/sirupsen/logrus"
)

const (
	ModeMaker = "maker"
	ModeTaker = "taker"
)

type RouterConfig struct {
	Mode    string
	WaitMin time.Duration
	WaitMax time.Duration
}

// Order is one routing request. EdgeBps is the advice edge at decision
// time and gates the taker escalation.
type Order struct {
	Symbol  string
	Side    models.Side
	SizeUSD float64
	EdgeBps float64
	Spread  float64
}

// Outcome says how an order was routed.
type Outcome string

const (
	OutcomeMaker     Outcome = "maker"
	OutcomeTaker     Outcome = "taker"
	OutcomeAbandoned Outcome = "abandoned"
)

// Router sends orders to the configured backend. While simOnly is set
// (circuit breaker engaged) every order goes to the simulated venue.
type Router struct {
	backend Backend
	sim     Backend
	fees    *FeeBook
	cfg     RouterConfig
	log     *logger.Logger
	simOnly atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRouter(backend, sim Backend, fees *FeeBook, cfg RouterConfig, log *logger.Logger) *Router {
	if cfg.Mode == "" {
		cfg.Mode = ModeTaker
	}
	if cfg.WaitMin <= 0 {
		cfg.WaitMin = 2 * time.Second
	}
	if cfg.WaitMax < cfg.WaitMin {
		cfg.WaitMax = 30 * time.Second
	}
	if sim == nil {
		sim = backend
	}
	return &Router{backend: backend, sim: sim, fees: fees, cfg: cfg, log: log, sleep: sleepCtx}
}

func (r *Router) logEntry() *logrus.Entry {
	return r.log.WithComponent("router")
}

// SetSimOnly routes everything to the simulated venue until cleared.
func (r *Router) SetSimOnly(on bool) {
	if r.simOnly.Swap(on) != on {
		r.logEntry().WithField("sim_only", on).Warn("execution venue switched")
	}
}

func (r *Router) SimOnly() bool {
	return r.simOnly.Load()
}

// Venue is the backend the next order goes to.
func (r *Router) Venue() Backend {
	if r.simOnly.Load() {
		return r.sim
	}
	return r.backend
}

// Execute routes o per the configured mode. In maker mode an unfilled
// resting order is followed by exactly one taker order, and only when the
// edge still clears the taker fee; otherwise the order is abandoned and
// (nil, OutcomeAbandoned, nil) is returned.
func (r *Router) Execute(ctx context.Context, o Order) (*models.Fill, Outcome, error) {
	venue := r.Venue()
	if r.cfg.Mode != ModeMaker {
		fill, err := venue.SubmitOrder(ctx, o.Side, o.SizeUSD, o.Symbol)
		return fill, OutcomeTaker, err
	}

	fill, err := venue.SubmitMakerOrder(ctx, o.Side, o.SizeUSD, o.Symbol)
	if err != nil {
		r.logEntry().WithError(err).WithField("symbol", o.Symbol).Warn("maker order failed, treating as unfilled")
	}
	if fill != nil {
		return fill, OutcomeMaker, nil
	}

	p := FillProbability(o.EdgeBps, o.Spread)
	wait := MakerWait(p, r.cfg.WaitMin, r.cfg.WaitMax)
	entry := r.logEntry().WithFields(logrus.Fields{
		"symbol":    o.Symbol,
		"edge_bps":  o.EdgeBps,
		"fill_prob": p,
		"wait":      wait.String(),
	})
	entry.Debug("maker unfilled, waiting before taker")
	if err := r.sleep(ctx, wait); err != nil {
		return nil, OutcomeAbandoned, err
	}

	if taker := r.fees.TakerBps(); o.EdgeBps <= taker {
		entry.WithField("taker_bps", taker).Info("edge below taker fee, abandoning order")
		return nil, OutcomeAbandoned, nil
	}
	fill, err = venue.SubmitOrder(ctx, o.Side, o.SizeUSD, o.Symbol)
	return fill, OutcomeTaker, err
}

// FillProbability estimates the chance a resting order fills from the
// ratio of edge to spread.
func FillProbability(edgeBps, spreadBps float64) float64 {
	if spreadBps <= 0 || edgeBps <= 0 {
		return 0
	}
	return math.Min(1, 0.6*math.Pow(edgeBps/spreadBps, 1.3))
}

// MakerWait is inversely proportional to p, floored at lo and capped at hi.
func MakerWait(p float64, lo, hi time.Duration) time.Duration {
	wait := time.Duration(float64(time.Second) / math.Max(p, 1e-6))
	if wait < lo {
		wait = lo
	}
	if hi > 0 && wait > hi {
		wait = hi
	}
	return wait
}

// Close sends an immediate order for qty base units to the current venue,
// bypassing the maker policy. Exits use it so the sold quantity matches the
// held quantity whatever the fill price.
func (r *Router) Close(ctx context.Context, side models.Side, qty float64, symbol string) (*models.Fill, error) {
	return r.Venue().SubmitQty(ctx, side, qty, symbol)
}
