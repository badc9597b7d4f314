package execution

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"atlasbot/internal/logger"
	"atlasbot/internal/models"

	"github.com/sirupsen/logrus"
)

// Ledger is the part of the risk ledger a fill touches.
type Ledger interface {
	RecordFill(symbol string, side models.Side, notional, price, fee, slip float64, maker bool) (models.Trade, error)
	CheckCircuitBreaker() bool
}

// FillEvent is an executed order before fees are applied.
type FillEvent struct {
	OrderID   string
	Symbol    string
	Side      models.Side
	Notional  float64
	Price     float64
	Slip      float64
	Maker     bool
	LatencyMs float64
	Response  any
}

// FillRow is the durable record of one fill.
type FillRow struct {
	Timestamp string  `json:"timestamp"`
	TradeID   string  `json:"trade_id"`
	OrderID   string  `json:"order_id"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Notional  float64 `json:"notional"`
	Price     float64 `json:"price"`
	Fee       float64 `json:"fee"`
	Slip      float64 `json:"slip"`
	Realised  float64 `json:"realised"`
	MTM       float64 `json:"mtm"`
	Maker     bool    `json:"maker"`
	LatencyMs float64 `json:"latency_ms"`
	Response  any     `json:"api_response,omitempty"`
}

var fillHeader = []string{"timestamp", "trade_id", "order_id", "symbol", "side", "notional", "price", "fee", "slip", "realised", "mtm", "maker", "latency_ms"}

func (r FillRow) csv() []string {
	f := func(v float64, prec int) string { return strconv.FormatFloat(v, 'f', prec, 64) }
	return []string{
		r.Timestamp, r.TradeID, r.OrderID, r.Symbol, r.Side,
		f(r.Notional, 2), f(r.Price, 2), f(r.Fee, 4), f(r.Slip, 4),
		f(r.Realised, 4), f(r.MTM, 4), strconv.FormatBool(r.Maker), f(r.LatencyMs, 2),
	}
}

type FillLoggerConfig struct {
	PnLPath string
	RunDir  string
	FillDir string
}

// FillLogger is the single path every executed fill takes: one ledger
// update, one breaker check, then the durable rows.
type FillLogger struct {
	ledger  Ledger
	fees    *FeeBook
	writer  *ArtifactWriter
	cfg     FillLoggerConfig
	runPath string
	log     *logger.Logger
	now     func() time.Time
}

func NewFillLogger(ledger Ledger, fees *FeeBook, writer *ArtifactWriter, cfg FillLoggerConfig, log *logger.Logger) *FillLogger {
	now := time.Now
	runPath := ""
	if cfg.RunDir != "" {
		runPath = filepath.Join(cfg.RunDir, fmt.Sprintf("ledger_%s.csv", now().UTC().Format("2006-01-02_15-04-05")))
	}
	return &FillLogger{
		ledger:  ledger,
		fees:    fees,
		writer:  writer,
		cfg:     cfg,
		runPath: runPath,
		log:     log,
		now:     now,
	}
}

func (l *FillLogger) logEntry() *logrus.Entry {
	return l.log.WithComponent("fills")
}

// RunPath is this process's run ledger CSV.
func (l *FillLogger) RunPath() string {
	return l.runPath
}

// LogFill books ev and returns the durable row, whose TradeID names the
// ledger record. Artifact writes are queued and never block; a full queue
// drops the row with a warning.
func (l *FillLogger) LogFill(ev FillEvent) (FillRow, error) {
	fee := l.fees.Fee(ev.Notional, ev.Maker)
	tr, err := l.ledger.RecordFill(ev.Symbol, ev.Side, ev.Notional, ev.Price, fee, ev.Slip, ev.Maker)
	if err != nil {
		return FillRow{}, err
	}
	l.ledger.CheckCircuitBreaker()

	row := FillRow{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		TradeID:   tr.ID,
		OrderID:   ev.OrderID,
		Symbol:    ev.Symbol,
		Side:      string(ev.Side),
		Notional:  ev.Notional,
		Price:     ev.Price,
		Fee:       fee,
		Slip:      ev.Slip,
		Realised:  tr.Realised,
		MTM:       tr.MTM,
		Maker:     ev.Maker,
		LatencyMs: ev.LatencyMs,
		Response:  ev.Response,
	}

	l.logEntry().WithFields(logrus.Fields{
		"order_id": ev.OrderID,
		"trade_id": tr.ID,
		"symbol":   ev.Symbol,
		"side":     ev.Side,
		"price":    ev.Price,
		"notional": ev.Notional,
		"fee":      fee,
		"realised": tr.Realised,
		"maker":    ev.Maker,
	}).Info("TRADE")

	l.persist(row)
	return row, nil
}

func (l *FillLogger) persist(row FillRow) {
	if l.writer == nil {
		return
	}
	var errs []error
	if l.cfg.PnLPath != "" {
		errs = append(errs, l.writer.AppendCSV(l.cfg.PnLPath, fillHeader, row.csv()))
	}
	if l.runPath != "" {
		errs = append(errs, l.writer.AppendCSV(l.runPath, fillHeader, row.csv()))
	}
	if l.cfg.FillDir != "" {
		path := filepath.Join(l.cfg.FillDir, l.now().UTC().Format(time.DateOnly)+".jsonl")
		errs = append(errs, l.writer.AppendJSONL(path, row))
	}
	for _, err := range errs {
		if err != nil {
			l.logEntry().WithError(err).WithField("order_id", row.OrderID).Warn("fill artifact not written")
		}
	}
}
