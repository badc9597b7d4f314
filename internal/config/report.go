package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
)

// reportEnv are the variables an operator is expected to set. Values are
// reported as set/unset only.
var reportEnv = []string{
	"COINBASE_API_KEY",
	"COINBASE_API_SECRET",
	"COINBASE_API_PASSPHRASE",
	"OPENAI_API_KEY",
	"PAPER_CASH",
	"MAX_GROSS_USD",
	"EXECUTION_MODE",
}

// Report describes the effective configuration for diagnostics.
type Report struct {
	Env     map[string]bool   `json:"env"`
	Config  map[string]string `json:"config"`
	Missing []string          `json:"missing"`
}

func (c *Config) Report() Report {
	r := Report{Env: map[string]bool{}, Config: map[string]string{}}
	for _, key := range reportEnv {
		set := os.Getenv(key) != ""
		r.Env[key] = set
		if !set {
			r.Missing = append(r.Missing, key)
		}
	}
	sort.Strings(r.Missing)

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	r.Config["SYMBOLS"] = strings.Join(c.Feed.Symbols, ",")
	r.Config["EXECUTION_BACKEND"] = c.Execution.Backend
	r.Config["EXECUTION_MODE"] = c.Execution.Mode
	r.Config["PAPER_CASH"] = f(c.Risk.StartCash)
	r.Config["MAX_GROSS_USD"] = f(c.Risk.MaxGrossUSD)
	r.Config["MAX_DAILY_LOSS"] = f(c.Risk.MaxDailyLoss)
	r.Config["FEE_BPS_MAKER"] = f(c.Fees.MakerBps)
	r.Config["FEE_BPS_TAKER"] = f(c.Fees.TakerBps)
	r.Config["SLIPPAGE_BPS"] = f(c.Execution.SlippageBps)
	r.Config["MIN_EDGE_BPS"] = f(c.Trading.MinEdgeBps)
	r.Config["CONFLICT_THRESH"] = f(c.Trading.ConflictThres)
	r.Config["CREDENTIALS"] = strconv.FormatBool(c.Exchange.Credentials.Present())
	return r
}
