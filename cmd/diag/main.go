// Command diag prints a session review of the fill ledger, the effective
// configuration and, when a bot is running, its gates and recent rejects.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"atlasbot/internal/api"
	"atlasbot/internal/config"
	"atlasbot/internal/review"
	"atlasbot/internal/trader"

	"github.com/spf13/pflag"
)

var rejectFilters = []string{
	trader.FilterConflict,
	trader.FilterEdge,
	trader.FilterData,
	trader.FilterSize,
	trader.FilterRisk,
	trader.FilterExec,
}

func main() {
	pnlPath := pflag.String("pnl", "", "fill ledger CSV to review (defaults to execution.pnl_path)")
	statusURL := pflag.String("status", "", "base URL of a running bot, e.g. http://localhost:9000")
	n := pflag.IntP("rejects", "n", 10, "rejects to show per filter")
	asJSON := pflag.Bool("json", false, "print JSON instead of CSV sections")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *pnlPath == "" {
		*pnlPath = cfg.Execution.PnLPath
	}

	summary, err := review.SummarizeFile(*pnlPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "review:", err)
		os.Exit(1)
	}

	out := report{Review: summary, Config: cfg.Report()}
	if *statusURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := out.fetch(ctx, *statusURL, *n); err != nil {
			fmt.Fprintln(os.Stderr, "status:", err)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	if err := out.writeCSV(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
}

type report struct {
	Review  review.Summary             `json:"review"`
	Config  config.Report              `json:"config"`
	Status  *api.Status                `json:"status,omitempty"`
	Rejects map[string][]trader.Reject `json:"rejects,omitempty"`
}

func (r *report) fetch(ctx context.Context, base string, n int) error {
	var st api.Status
	if err := getJSON(ctx, base+"/status", &st); err != nil {
		return err
	}
	r.Status = &st
	r.Rejects = map[string][]trader.Reject{}
	for _, filter := range rejectFilters {
		var rejects []trader.Reject
		if err := getJSON(ctx, fmt.Sprintf("%s/rejects/%s?n=%d", base, filter, n), &rejects); err != nil {
			return err
		}
		if len(rejects) > 0 {
			r.Rejects[filter] = rejects
		}
	}
	return nil
}

func getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// writeCSV prints one CSV block per section, each under a "# NAME" line.
func (r *report) writeCSV(w io.Writer) error {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }

	sections := []struct {
		name   string
		header []string
		rows   [][]string
	}{
		{"REVIEW", []string{"trades", "win_rate", "max_drawdown", "avg_latency_ms"}, [][]string{{
			strconv.Itoa(r.Review.Trades), f(r.Review.WinRate), f(r.Review.MaxDrawdown), f(r.Review.AvgLatencyMs),
		}}},
		{"CONFIG", []string{"key", "value"}, sortedRows(r.Config.Config)},
		{"MISSING", []string{"env"}, column(r.Config.Missing)},
	}
	if r.Status != nil {
		sections = append(sections, struct {
			name   string
			header []string
			rows   [][]string
		}{"GATES", []string{"gate", "status"}, [][]string{
			{"circuit_breaker", strconv.FormatBool(r.Status.Gating.CircuitBreaker)},
			{"kill_switch", strconv.FormatBool(r.Status.Gating.KillSwitch)},
		}})
	}
	if len(r.Rejects) > 0 {
		var rows [][]string
		for _, filter := range rejectFilters {
			for _, rej := range r.Rejects[filter] {
				rows = append(rows, []string{filter, rej.Timestamp.Format(time.RFC3339), rej.Symbol, rej.Reason, f(rej.EdgeBps)})
			}
		}
		sections = append(sections, struct {
			name   string
			header []string
			rows   [][]string
		}{"REJECTS", []string{"filter", "ts", "symbol", "reason", "edge_bps"}, rows})
	}

	cw := csv.NewWriter(w)
	for _, s := range sections {
		cw.Flush()
		if _, err := fmt.Fprintf(w, "# %s\n", s.name); err != nil {
			return err
		}
		if err := cw.Write(s.header); err != nil {
			return err
		}
		if err := cw.WriteAll(s.rows); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func sortedRows(m map[string]string) [][]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, m[k]})
	}
	return rows
}

func column(values []string) [][]string {
	rows := make([][]string, 0, len(values))
	for _, v := range values {
		rows = append(rows, []string{v})
	}
	return rows
}
