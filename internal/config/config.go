package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Exchange  ExchangeConfig
	Feed      FeedConfig
	Macro     MacroConfig
	Decision  DecisionConfig
	Fees      FeesConfig
	Risk      RiskConfig
	Execution ExecutionConfig
	Trading   TradingConfig
	Runtime   RuntimeConfig
}

type ExchangeConfig struct {
	RestURL     string
	OrderURL    string
	WSPrimary   string
	WSSecondary string
	Timeout     time.Duration
	Credentials Credentials
}

// Credentials is the brokerage auth material. Empty fields mean the
// credential loader returned nothing.
type Credentials struct {
	APIKey     string
	Secret     string
	Passphrase string
}

func (c Credentials) Present() bool {
	return c.APIKey != "" && c.Secret != ""
}

type FeedConfig struct {
	Symbols      []string
	SeedTimeout  time.Duration
	PollInterval time.Duration
	BookInterval time.Duration
	BarHistory   int
	WarmBars     int
	BackoffMin   time.Duration
	BackoffMax   time.Duration
	StaleAfter   time.Duration
}

type MacroConfig struct {
	Enabled bool
	URL     string
	Model   string
	APIKey  string
	TTL     time.Duration
	Timeout time.Duration
}

type DecisionConfig struct {
	Weights          map[string]float64
	MinEdgeBps       float64
	SpreadWeight     float64
	VolWindow        int
	ReweightInterval time.Duration
	ReweightTrades   int
	Temperature      float64
	WeightsPath      string
	AuditPath        string
}

type FeesConfig struct {
	MakerBps float64
	TakerBps float64
	MinUSD   float64
	Refresh  time.Duration
}

// TakerRate is the taker fee as a fraction of notional.
func (f FeesConfig) TakerRate() float64 {
	return f.TakerBps / 10_000
}

type RiskConfig struct {
	StartCash        float64
	MaxGrossUSD      float64
	MaxDailyLoss     float64
	BreakerDrawdown  float64
	BreakerCooldown  time.Duration
	KillDrawdown     float64
	SummaryInterval  time.Duration
	LedgerInterval   time.Duration
	LedgerRetention  time.Duration
	DataDir          string
	SummaryPath      string
	MaxDayTrades     int
	DayTradeDampener float64
}

type ExecutionConfig struct {
	Backend       string
	Mode          string
	SlippageBps   float64
	MakerFillProb float64
	MakerWaitMin  time.Duration
	MakerWaitMax  time.Duration
	Retries       int
	RetryBackoff  time.Duration
	PnLPath       string
	RunDir        string
	FillDir       string
}

type TradingConfig struct {
	Cycle         time.Duration
	ConflictThres float64
	AllowConflict bool
	MinEdgeBps    float64
	RiskPerTrade  float64
	ATRPeriod     int
	KTP           float64
	KSL           float64
	MaxHold       time.Duration
	ExitPoll      time.Duration
	ReadyTimeout  time.Duration
	ReadyRetries  int
	RunFor        time.Duration
}

type RuntimeConfig struct {
	Log           LogConfig
	MetricsListen string
	SkipReadiness bool
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

var envRe = regexp.MustCompile(`\$\{(\w+)\}`)

// Load reads configs/config.yaml (or ./config.yaml), an optional .env file
// and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom("configs", ".")
}

func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}

	cfg.Exchange = ExchangeConfig{
		RestURL:     v.GetString("exchange.rest_url"),
		OrderURL:    v.GetString("exchange.order_url"),
		WSPrimary:   v.GetString("exchange.ws_primary"),
		WSSecondary: v.GetString("exchange.ws_secondary"),
		Timeout:     v.GetDuration("exchange.timeout"),
		Credentials: Credentials{
			APIKey:     envSub(v, "exchange.api_key"),
			Secret:     envSub(v, "exchange.secret"),
			Passphrase: envSub(v, "exchange.passphrase"),
		},
	}

	cfg.Feed = FeedConfig{
		Symbols:      splitList(v.GetStringSlice("feed.symbols")),
		SeedTimeout:  v.GetDuration("feed.seed_timeout"),
		PollInterval: v.GetDuration("feed.poll_interval"),
		BookInterval: v.GetDuration("feed.book_interval"),
		BarHistory:   v.GetInt("feed.bar_history"),
		WarmBars:     v.GetInt("feed.warm_bars"),
		BackoffMin:   v.GetDuration("feed.backoff_min"),
		BackoffMax:   v.GetDuration("feed.backoff_max"),
		StaleAfter:   v.GetDuration("feed.stale_after"),
	}

	cfg.Macro = MacroConfig{
		Enabled: v.GetBool("macro.enabled"),
		URL:     v.GetString("macro.url"),
		Model:   v.GetString("macro.model"),
		APIKey:  envSub(v, "macro.api_key"),
		TTL:     v.GetDuration("macro.ttl"),
		Timeout: v.GetDuration("macro.timeout"),
	}

	weights := map[string]float64{}
	for name := range v.GetStringMap("decision.weights") {
		weights[name] = v.GetFloat64("decision.weights." + name)
	}
	cfg.Decision = DecisionConfig{
		Weights:          weights,
		MinEdgeBps:       v.GetFloat64("decision.min_edge_bps"),
		SpreadWeight:     v.GetFloat64("decision.spread_weight"),
		VolWindow:        v.GetInt("decision.vol_window"),
		ReweightInterval: v.GetDuration("decision.reweight_interval"),
		ReweightTrades:   v.GetInt("decision.reweight_trades"),
		Temperature:      v.GetFloat64("decision.temperature"),
		WeightsPath:      v.GetString("decision.weights_path"),
		AuditPath:        v.GetString("decision.audit_path"),
	}

	cfg.Fees = FeesConfig{
		MakerBps: v.GetFloat64("fees.maker_bps"),
		TakerBps: v.GetFloat64("fees.taker_bps"),
		MinUSD:   v.GetFloat64("fees.min_usd"),
		Refresh:  v.GetDuration("fees.refresh"),
	}

	cfg.Risk = RiskConfig{
		StartCash:        v.GetFloat64("risk.start_cash"),
		MaxGrossUSD:      v.GetFloat64("risk.max_gross_usd"),
		MaxDailyLoss:     v.GetFloat64("risk.max_daily_loss"),
		BreakerDrawdown:  v.GetFloat64("risk.breaker_drawdown"),
		BreakerCooldown:  v.GetDuration("risk.breaker_cooldown"),
		KillDrawdown:     v.GetFloat64("risk.kill_drawdown"),
		SummaryInterval:  v.GetDuration("risk.summary_interval"),
		LedgerInterval:   v.GetDuration("risk.ledger_interval"),
		LedgerRetention:  v.GetDuration("risk.ledger_retention"),
		DataDir:          v.GetString("risk.data_dir"),
		SummaryPath:      v.GetString("risk.summary_path"),
		MaxDayTrades:     v.GetInt("risk.max_day_trades"),
		DayTradeDampener: v.GetFloat64("risk.day_trade_dampener"),
	}

	cfg.Execution = ExecutionConfig{
		Backend:       strings.ToLower(v.GetString("execution.backend")),
		Mode:          strings.ToLower(v.GetString("execution.mode")),
		SlippageBps:   v.GetFloat64("execution.slippage_bps"),
		MakerFillProb: v.GetFloat64("execution.maker_fill_prob"),
		MakerWaitMin:  v.GetDuration("execution.maker_wait_min"),
		MakerWaitMax:  v.GetDuration("execution.maker_wait_max"),
		Retries:       v.GetInt("execution.retries"),
		RetryBackoff:  v.GetDuration("execution.retry_backoff"),
		PnLPath:       v.GetString("execution.pnl_path"),
		RunDir:        v.GetString("execution.run_dir"),
		FillDir:       v.GetString("execution.fill_dir"),
	}

	cfg.Trading = TradingConfig{
		Cycle:         time.Duration(v.GetInt("trading.cycle_sec")) * time.Second,
		ConflictThres: v.GetFloat64("trading.conflict_thresh"),
		AllowConflict: v.GetBool("trading.allow_conflict"),
		MinEdgeBps:    v.GetFloat64("trading.min_edge_bps"),
		RiskPerTrade:  v.GetFloat64("trading.risk_per_trade"),
		ATRPeriod:     v.GetInt("trading.atr_period"),
		KTP:           v.GetFloat64("trading.k_tp"),
		KSL:           v.GetFloat64("trading.k_sl"),
		MaxHold:       v.GetDuration("trading.max_hold"),
		ExitPoll:      v.GetDuration("trading.exit_poll"),
		ReadyTimeout:  v.GetDuration("trading.ready_timeout"),
		ReadyRetries:  v.GetInt("trading.ready_retries"),
		RunFor:        v.GetDuration("trading.run_for"),
	}

	cfg.Runtime = RuntimeConfig{
		Log: LogConfig{
			Level:      v.GetString("runtime.log.level"),
			Format:     v.GetString("runtime.log.format"),
			File:       v.GetString("runtime.log.file"),
			MaxSize:    v.GetInt("runtime.log.max_size"),
			MaxBackups: v.GetInt("runtime.log.max_backups"),
			MaxAge:     v.GetInt("runtime.log.max_age"),
			Compress:   v.GetBool("runtime.log.compress"),
		},
		MetricsListen: v.GetString("runtime.metrics_listen"),
		SkipReadiness: envTrue("CI") || envTrue("MARKET_DATA_MOCK"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Feed.Symbols) == 0 {
		return errors.New("config: no symbols configured")
	}
	if c.Trading.Cycle <= 0 {
		return fmt.Errorf("config: cycle must be positive, got %s", c.Trading.Cycle)
	}
	switch c.Execution.Backend {
	case "sim", "paper":
	default:
		return fmt.Errorf("config: unknown execution backend %q", c.Execution.Backend)
	}
	switch c.Execution.Mode {
	case "maker", "taker":
	default:
		return fmt.Errorf("config: unknown execution mode %q", c.Execution.Mode)
	}
	if c.Risk.StartCash <= 0 {
		return fmt.Errorf("config: start cash must be positive, got %v", c.Risk.StartCash)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("exchange.rest_url", "https://api.exchange.coinbase.com")
	v.SetDefault("exchange.order_url", "https://api-public.sandbox.exchange.coinbase.com")
	v.SetDefault("exchange.ws_primary", "wss://ws-feed.exchange.coinbase.com")
	v.SetDefault("exchange.ws_secondary", "wss://advanced-trade-ws.coinbase.com")
	v.SetDefault("exchange.timeout", 15*time.Second)
	v.SetDefault("exchange.api_key", "${COINBASE_API_KEY}")
	v.SetDefault("exchange.secret", "${COINBASE_API_SECRET}")
	v.SetDefault("exchange.passphrase", "${COINBASE_API_PASSPHRASE}")

	v.SetDefault("feed.symbols", []string{"BTC-USD", "ETH-USD", "SOL-USD"})
	v.SetDefault("feed.seed_timeout", 3*time.Second)
	v.SetDefault("feed.poll_interval", 2*time.Second)
	v.SetDefault("feed.book_interval", 2*time.Second)
	v.SetDefault("feed.bar_history", 5000)
	v.SetDefault("feed.warm_bars", 300)
	v.SetDefault("feed.backoff_min", time.Second)
	v.SetDefault("feed.backoff_max", 60*time.Second)
	v.SetDefault("feed.stale_after", 15*time.Second)

	v.SetDefault("macro.enabled", true)
	v.SetDefault("macro.url", "https://api.openai.com/v1")
	v.SetDefault("macro.model", "gpt-4o-mini")
	v.SetDefault("macro.api_key", "${OPENAI_API_KEY}")
	v.SetDefault("macro.ttl", 60*time.Minute)
	v.SetDefault("macro.timeout", 10*time.Second)

	v.SetDefault("decision.weights", map[string]any{"orderflow": 0.5, "momentum": 0.3, "macro": 0.2})
	v.SetDefault("decision.min_edge_bps", 0.0)
	v.SetDefault("decision.spread_weight", 0.2)
	v.SetDefault("decision.vol_window", 30)
	v.SetDefault("decision.reweight_interval", time.Hour)
	v.SetDefault("decision.reweight_trades", 200)
	v.SetDefault("decision.temperature", 0.5)
	v.SetDefault("decision.weights_path", "data/weights.jsonl")
	v.SetDefault("decision.audit_path", "logs/decisions.jsonl")

	v.SetDefault("fees.maker_bps", 0.0)
	v.SetDefault("fees.taker_bps", 6.0)
	v.SetDefault("fees.min_usd", 0.01)
	v.SetDefault("fees.refresh", time.Hour)

	v.SetDefault("risk.start_cash", 10_000.0)
	v.SetDefault("risk.max_gross_usd", 1_000.0)
	v.SetDefault("risk.max_daily_loss", 100.0)
	v.SetDefault("risk.breaker_drawdown", 0.02)
	v.SetDefault("risk.breaker_cooldown", time.Hour)
	v.SetDefault("risk.kill_drawdown", 0.05)
	v.SetDefault("risk.summary_interval", 5*time.Minute)
	v.SetDefault("risk.ledger_interval", 60*time.Second)
	v.SetDefault("risk.ledger_retention", 24*time.Hour)
	v.SetDefault("risk.data_dir", "data")
	v.SetDefault("risk.summary_path", "logs/pnl_summary.jsonl")
	v.SetDefault("risk.max_day_trades", 100)
	v.SetDefault("risk.day_trade_dampener", 0.75)

	v.SetDefault("execution.backend", "sim")
	v.SetDefault("execution.mode", "taker")
	v.SetDefault("execution.slippage_bps", 4.0)
	v.SetDefault("execution.maker_fill_prob", 0.5)
	v.SetDefault("execution.maker_wait_min", 2*time.Second)
	v.SetDefault("execution.maker_wait_max", 30*time.Second)
	v.SetDefault("execution.retries", 3)
	v.SetDefault("execution.retry_backoff", time.Second)
	v.SetDefault("execution.pnl_path", "data/logs/pnl.csv")
	v.SetDefault("execution.run_dir", "data/runs")
	v.SetDefault("execution.fill_dir", "data/fills")

	v.SetDefault("trading.cycle_sec", 5)
	v.SetDefault("trading.conflict_thresh", 0.3)
	v.SetDefault("trading.allow_conflict", false)
	v.SetDefault("trading.min_edge_bps", 2.0)
	v.SetDefault("trading.risk_per_trade", 0.001)
	v.SetDefault("trading.atr_period", 10)
	v.SetDefault("trading.k_tp", 1.5)
	v.SetDefault("trading.k_sl", 1.0)
	v.SetDefault("trading.max_hold", 30*time.Minute)
	v.SetDefault("trading.exit_poll", time.Second)
	v.SetDefault("trading.ready_timeout", 60*time.Second)
	v.SetDefault("trading.ready_retries", 3)
	v.SetDefault("trading.run_for", time.Duration(0))

	v.SetDefault("runtime.log.level", "info")
	v.SetDefault("runtime.log.format", "text")
	v.SetDefault("runtime.log.file", "stdout")
	v.SetDefault("runtime.log.max_size", 50)
	v.SetDefault("runtime.log.max_backups", 5)
	v.SetDefault("runtime.log.max_age", 14)
	v.SetDefault("runtime.log.compress", true)
	v.SetDefault("runtime.metrics_listen", ":9000")
}

// bindLegacyEnv keeps the flat variable names operators already use.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("feed.symbols", "SYMBOLS", "FEED_SYMBOLS")
	_ = v.BindEnv("risk.start_cash", "PAPER_CASH", "RISK_START_CASH")
	_ = v.BindEnv("execution.mode", "EXECUTION_MODE")
	_ = v.BindEnv("execution.backend", "EXECUTION_BACKEND")
	_ = v.BindEnv("trading.cycle_sec", "CYCLE_SEC", "TRADING_CYCLE_SEC")
	_ = v.BindEnv("trading.min_edge_bps", "MIN_EDGE_BPS")
	_ = v.BindEnv("trading.conflict_thresh", "CONFLICT_THRESH")
	_ = v.BindEnv("trading.allow_conflict", "ALLOW_CONFLICT")
	_ = v.BindEnv("risk.max_gross_usd", "MAX_GROSS_USD")
	_ = v.BindEnv("runtime.log.level", "LOG_LEVEL")
}

func envSub(v *viper.Viper, key string) string {
	val := v.GetString(key)
	if val == "" {
		return ""
	}

	return envRe.ReplaceAllStringFunc(val, func(match string) string {
		envKey := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(envKey)
	})
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, strings.ToUpper(p))
			}
		}
	}
	return out
}

func envTrue(key string) bool {
	return strings.EqualFold(os.Getenv(key), "true")
}
