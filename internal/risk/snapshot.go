package risk

import (
	"math"
	"strings"
	"time"
)

// PositionView is one symbol inside a portfolio snapshot.
type PositionView struct {
	Pos      float64 `json:"pos"`
	MTM      float64 `json:"mtm"`
	Realised float64 `json:"realised"`
}

type Portfolio struct {
	Timestamp   string                  `json:"timestamp"`
	EquityUSD   float64                 `json:"equity_usd"`
	CashUSD     float64                 `json:"cash_usd"`
	UnrealMTM   float64                 `json:"unreal_mtm_usd"`
	FeesUSD     float64                 `json:"fees_usd"`
	SlippageUSD float64                 `json:"slippage_usd"`
	PerSymbol   map[string]PositionView `json:"per_symbol"`
}

// PortfolioSnapshot is a consistent view of the whole book. Symbols without
// a live price are marked at their last lot price, as equity is.
func (l *Ledger) PortfolioSnapshot() Portfolio {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := Portfolio{
		Timestamp: l.clock.Now().UTC().Format(time.RFC3339Nano),
		PerSymbol: make(map[string]PositionView, len(l.lots)),
	}
	var unreal, inventory float64
	for sym, lots := range l.lots {
		px := l.markPrice(sym, lots)
		mtm := unrealised(lots, px)
		unreal += mtm
		inventory += marketValue(lots, px)
		snap.PerSymbol[sym] = PositionView{
			Pos:      round(netQty(lots), 8),
			MTM:      round(mtm, 4),
			Realised: round(l.realised[sym], 4),
		}
	}
	fees, slip := l.costTotals()
	snap.EquityUSD = round(l.cash+inventory, 4)
	snap.CashUSD = round(l.cash, 4)
	snap.UnrealMTM = round(unreal, 4)
	snap.FeesUSD = round(fees, 4)
	snap.SlippageUSD = round(slip, 4)
	return snap
}

// SummaryRow is the periodic PnL line: whole-book totals plus TAG.net and
// TAG.size per open symbol, TAG being the base asset.
func (l *Ledger) SummaryRow() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summaryRow(l.clock.Now().UTC())
}

// summaryRow builds the row. Caller holds mu.
func (l *Ledger) summaryRow(now time.Time) map[string]any {
	var realised float64
	for _, v := range l.realised {
		realised += v
	}
	fees, slip := l.costTotals()
	row := map[string]any{
		"ts":       now.Format(time.RFC3339Nano),
		"cash":     round(l.cash, 4),
		"realised": round(realised, 4),
		"fees":     round(fees, 4),
		"slip":     round(slip, 4),
	}

	var totalMTM, inventory float64
	for sym, lots := range l.lots {
		px := l.markPrice(sym, lots)
		mtm := unrealised(lots, px)
		totalMTM += mtm
		inventory += marketValue(lots, px)
		tag := strings.SplitN(sym, "-", 2)[0]
		row[tag+".net"] = round(l.realised[sym]+mtm, 4)
		row[tag+".size"] = round(netQty(lots), 8)
	}
	row["equity"] = round(l.cash+inventory, 4)
	row["mtm"] = round(totalMTM, 4)
	return row
}

// summaryDue returns a row when the summary interval has elapsed. Caller
// holds mu.
func (l *Ledger) summaryDue(now time.Time) map[string]any {
	if now.Sub(l.lastSummary) < l.cfg.SummaryInterval {
		return nil
	}
	l.lastSummary = now
	return l.summaryRow(now)
}

// costTotals sums fees and slippage across the ledger. Caller holds mu.
func (l *Ledger) costTotals() (fees, slip float64) {
	for _, tr := range l.trades {
		fees += tr.Fee
		slip += tr.Slip
	}
	return fees, slip
}

func round(x float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(x*p) / p
}
