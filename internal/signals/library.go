package signals

import (
	"context"
)

// Signal names used in weight vectors, rationale maps and trade records.
const (
	NameOrderFlow = "orderflow"
	NameMomentum  = "momentum"
	NameMacro     = "macro"
	NameBreakout  = "breakout"
)

// Library evaluates every signal for a symbol from shared feed state.
type Library struct {
	bars  BarSource
	flow  *OrderFlow
	macro *Macro
}

func NewLibrary(bars BarSource, flow *OrderFlow, macro *Macro) *Library {
	return &Library{bars: bars, flow: flow, macro: macro}
}

// Values returns each signal in roughly [-1, 1]. Missing inputs give 0.
func (l *Library) Values(ctx context.Context, symbol string) map[string]float64 {
	bars := l.bars.Bars(symbol, BreakoutWindow+1)
	out := map[string]float64{
		NameMomentum: Momentum(bars),
		NameBreakout: Breakout(bars),
	}
	if l.flow != nil {
		out[NameOrderFlow] = l.flow.Imbalance(symbol)
	} else {
		out[NameOrderFlow] = 0
	}
	if l.macro != nil {
		out[NameMacro] = l.macro.Bias(ctx, symbol)
	} else {
		out[NameMacro] = 0
	}
	return out
}

// SpreadBps is the clamped book spread, or the default without a book feed.
func (l *Library) SpreadBps(symbol string) float64 {
	if l.flow == nil {
		return DefaultSpreadBps
	}
	return l.flow.SpreadBps(symbol)
}
