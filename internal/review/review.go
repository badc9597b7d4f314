// Package review summarises a fill ledger CSV after a session.
package review

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// Summary mirrors the session review printed by the diag tool.
type Summary struct {
	Trades       int     `json:"trades"`
	WinRate      float64 `json:"win_rate"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// SummarizeFile reads a fill CSV. A missing or empty file yields a zero
// summary and no error.
func SummarizeFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Summary{}, nil
	}
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return Summarize(f)
}

// Summarize scores each row by realised + mtm. Drawdown is the deepest fall
// of the cumulative score below its running high, reported as a value <= 0.
func Summarize(r io.Reader) (Summary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Summary{}, nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, name := range header {
		col[name] = i
	}

	var (
		s          Summary
		wins       int
		cum, high  float64
		latencySum float64
		latencyN   int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Summary{}, fmt.Errorf("read row %d: %w", s.Trades+1, err)
		}
		pnl := field(row, col, "realised") + field(row, col, "mtm")
		s.Trades++
		if pnl > 0 {
			wins++
		}
		cum += pnl
		high = max(high, cum)
		s.MaxDrawdown = min(s.MaxDrawdown, cum-high)

		if i, ok := col["latency_ms"]; ok && i < len(row) {
			if v, err := strconv.ParseFloat(row[i], 64); err == nil {
				latencySum += v
				latencyN++
			}
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(wins) / float64(s.Trades)
	}
	if latencyN > 0 {
		s.AvgLatencyMs = latencySum / float64(latencyN)
	}
	return s, nil
}

func field(row []string, col map[string]int, name string) float64 {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return 0
	}
	v, err := strconv.ParseFloat(row[i], 64)
	if err != nil {
		return 0
	}
	return v
}
