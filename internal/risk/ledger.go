package risk

import (
	"fmt"
	"sync"
	"time"

	"atlasbot/internal/logger"
	"atlasbot/internal/models"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// PriceSource marks open inventory. A failing lookup falls back to the
// price at hand.
type PriceSource interface {
	LatestPrice(symbol string) (float64, error)
}

type Config struct {
	StartCash       float64
	MaxGrossUSD     float64
	MaxDailyLoss    float64
	TakerRate       float64
	MinFeeUSD       float64
	BreakerDrawdown float64
	BreakerCooldown time.Duration
	KillDrawdown    float64
	SummaryInterval time.Duration
	LedgerInterval  time.Duration
	LedgerRetention time.Duration
	DataDir         string
	SummaryPath     string
}

// SymbolStats accumulates per-symbol fill economics.
type SymbolStats struct {
	Realised float64 `json:"realised"`
	Fees     float64 `json:"fees"`
	Slip     float64 `json:"slip"`
	Trades   int     `json:"trades"`
	Gross    float64 `json:"gross"`
}

// Ledger is the FIFO position and PnL book. Every mutation happens under mu.
type Ledger struct {
	cfg    Config
	prices PriceSource
	clock  clock.Clock
	log    *logger.Logger

	mu             sync.Mutex
	lots           map[string][]lot
	realised       map[string]float64
	openFees       map[string]float64
	stats          map[string]*SymbolStats
	trades         []models.Trade
	dailyPnL       float64
	cash           float64
	equity         float64
	freeMargin     float64
	dayStartEquity float64
	dayHighEquity  float64
	day            string
	dayTrades      int
	makerFills     int
	takerFills     int
	macroHits      int
	macroTotal     int
	lastSummary    time.Time

	// trades[:ledgerIdx] are durable; trades[:flushEnd] are durable or being
	// written. reflush holds indices below flushEnd annotated since.
	flushMu   sync.Mutex
	ledgerIdx int
	flushEnd  int
	reflush   map[int]struct{}

	breakerUntil time.Time
	killed       bool
}

func New(cfg Config, prices PriceSource, clk clock.Clock, log *logger.Logger) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = time.Hour
	}
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = 5 * time.Minute
	}
	now := clk.Now().UTC()
	return &Ledger{
		cfg:            cfg,
		prices:         prices,
		clock:          clk,
		log:            log,
		lots:           map[string][]lot{},
		realised:       map[string]float64{},
		openFees:       map[string]float64{},
		stats:          map[string]*SymbolStats{},
		reflush:        map[int]struct{}{},
		cash:           cfg.StartCash,
		equity:         cfg.StartCash,
		freeMargin:     cfg.StartCash,
		dayStartEquity: cfg.StartCash,
		dayHighEquity:  cfg.StartCash,
		day:            now.Format(time.DateOnly),
		lastSummary:    now,
	}
}

func (l *Ledger) logEntry() *logrus.Entry {
	return l.log.WithComponent("risk")
}

// RecordFill books one fill and returns a copy of the new record. Realised
// is net of fees and MTM marks the symbol at the fill price.
func (l *Ledger) RecordFill(symbol string, side models.Side, notional, price, fee, slip float64, maker bool) (models.Trade, error) {
	if price <= 0 || notional <= 0 {
		return models.Trade{}, fmt.Errorf("record fill %s: invalid notional %.4f at %.4f", symbol, notional, price)
	}

	l.mu.Lock()
	now := l.clock.Now().UTC()
	l.rollDay(now)

	qty := side.Sign() * notional / price
	lots, realised, matched := match(l.lots[symbol], qty, price)
	if len(lots) == 0 {
		delete(l.lots, symbol)
	} else {
		l.lots[symbol] = lots
	}

	var pnl float64
	if matched {
		pnl = realised - fee - l.openFees[symbol]
		delete(l.openFees, symbol)
		l.realised[symbol] += realised
		l.dailyPnL += pnl
	} else {
		l.openFees[symbol] += fee
	}

	if side == models.SideBuy {
		l.cash -= notional + fee
	} else {
		l.cash += notional - fee
	}

	mtm := unrealised(lots, price)
	l.revalue(symbol, price)

	if maker {
		l.makerFills++
	} else {
		l.takerFills++
	}
	l.dayTrades++

	st := l.stats[symbol]
	if st == nil {
		st = &SymbolStats{}
		l.stats[symbol] = st
	}
	st.Realised += pnl
	st.Fees += fee
	st.Slip += slip
	st.Trades++
	st.Gross = st.Realised + st.Fees + st.Slip

	tr := models.Trade{
		ID:        uuid.NewString(),
		Timestamp: now,
		Symbol:    symbol,
		Side:      side,
		Notional:  notional,
		Price:     price,
		Fee:       fee,
		Slip:      slip,
		Realised:  pnl,
		MTM:       mtm,
		Maker:     maker,
	}
	l.trades = append(l.trades, tr)

	row := l.summaryDue(now)
	l.mu.Unlock()

	if row != nil {
		l.writeSummary(row)
	}
	return tr, nil
}

// rollDay resets the day counters on a UTC date change. Caller holds mu.
func (l *Ledger) rollDay(now time.Time) {
	day := now.Format(time.DateOnly)
	if day == l.day {
		return
	}
	l.day = day
	l.dayTrades = 0
	l.dailyPnL = 0
	l.dayStartEquity = l.equity
	l.dayHighEquity = l.equity
	l.logEntry().WithFields(logrus.Fields{"day": day, "equity": l.equity}).Info("new trading day")
}

// revalue recomputes equity as cash plus inventory marked at market. The
// symbol being filled is marked at fillPrice. Caller holds mu.
func (l *Ledger) revalue(symbol string, fillPrice float64) {
	var inventory float64
	for sym, lots := range l.lots {
		px := fillPrice
		if sym != symbol {
			px = l.markPrice(sym, lots)
		}
		inventory += marketValue(lots, px)
	}
	l.equity = l.cash + inventory
	l.freeMargin = l.cash
	if l.equity > l.dayHighEquity {
		l.dayHighEquity = l.equity
	}
	l.checkKill()
}

func (l *Ledger) markPrice(symbol string, lots []lot) float64 {
	if l.prices != nil {
		if px, err := l.prices.LatestPrice(symbol); err == nil && px > 0 {
			return px
		}
	}
	return lots[len(lots)-1].price
}

// Mark refreshes equity from live prices without a fill, so drawdown
// protection sees price moves on idle inventory.
func (l *Ledger) Mark() {
	l.mu.Lock()
	now := l.clock.Now().UTC()
	l.rollDay(now)
	l.revalue("", 0)
	row := l.summaryDue(now)
	l.mu.Unlock()

	if row != nil {
		l.writeSummary(row)
	}
}

// AnnotateTrade applies fn to the record with the given ID. Only the
// annotation fields may be changed.
func (l *Ledger) AnnotateTrade(id string, fn func(*models.Trade)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.trades) - 1; i >= 0; i-- {
		if l.trades[i].ID != id {
			continue
		}
		tr := l.trades[i]
		fn(&tr)
		l.trades[i].Signals = tr.Signals
		l.trades[i].Return = tr.Return
		l.trades[i].Conflict = tr.Conflict
		l.trades[i].MacroHit = tr.MacroHit
		if i < l.flushEnd {
			l.reflush[i] = struct{}{}
		}
		return true
	}
	return false
}

func (l *Ledger) RecordMacroHit(hit bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.macroTotal++
	if hit {
		l.macroHits++
	}
}

func (l *Ledger) MacroHitRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.macroTotal == 0 {
		return 0
	}
	return float64(l.macroHits) / float64(l.macroTotal)
}

func (l *Ledger) MakerFillRatio() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.makerFills + l.takerFills
	if total == 0 {
		return 0
	}
	return float64(l.makerFills) / float64(total)
}

func (l *Ledger) FillCounts() (maker, taker int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.makerFills, l.takerFills
}

func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity
}

func (l *Ledger) FreeMargin() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.freeMargin
}

func (l *Ledger) DailyPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dailyPnL
}

// TradeCountDay is the number of fills booked since the last UTC rollover.
func (l *Ledger) TradeCountDay() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.clock.Now().UTC().Format(time.DateOnly) != l.day {
		return 0
	}
	return l.dayTrades
}

// Position is the net signed quantity held in symbol.
func (l *Ledger) Position(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return netQty(l.lots[symbol])
}

// Gross is the absolute entry notional of open lots in symbol.
func (l *Ledger) Gross(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var g float64
	for _, lt := range l.lots[symbol] {
		g += abs(lt.qty) * lt.price
	}
	return g
}

// TotalGross sums Gross over every symbol.
func (l *Ledger) TotalGross() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var g float64
	for _, lots := range l.lots {
		for _, lt := range lots {
			g += abs(lt.qty) * lt.price
		}
	}
	return g
}

// Realised is total realised PnL before fees.
func (l *Ledger) Realised() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var r float64
	for _, v := range l.realised {
		r += v
	}
	return r
}

func (l *Ledger) Stats() map[string]SymbolStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]SymbolStats, len(l.stats))
	for k, v := range l.stats {
		out[k] = *v
	}
	return out
}

// TotalMTM marks every open queue at the live price.
func (l *Ledger) TotalMTM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var m float64
	for sym, lots := range l.lots {
		m += unrealised(lots, l.markPrice(sym, lots))
	}
	return m
}

// LastFills returns copies of the newest n records, oldest first. n <= 0
// returns all of them.
func (l *Ledger) LastFills(n int) []models.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 || n > len(l.trades) {
		n = len(l.trades)
	}
	return append([]models.Trade(nil), l.trades[len(l.trades)-n:]...)
}

// TradeCount is the total number of records in the ledger.
func (l *Ledger) TradeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades)
}
