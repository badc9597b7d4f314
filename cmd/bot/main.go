package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atlasbot/internal/api"
	"atlasbot/internal/config"
	"atlasbot/internal/decision"
	"atlasbot/internal/exchange"
	"atlasbot/internal/exchange/coinbase/rest"
	"atlasbot/internal/exchange/coinbase/ws"
	"atlasbot/internal/execution"
	"atlasbot/internal/feed"
	"atlasbot/internal/logger"
	"atlasbot/internal/metrics"
	"atlasbot/internal/risk"
	"atlasbot/internal/signals"
	"atlasbot/internal/trader"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	backend := pflag.String("backend", "", "execution backend override (sim or paper)")
	runFor := pflag.DurationP("time", "t", 0, "stop after this long (0 runs until signalled)")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if *backend != "" {
		cfg.Execution.Backend = *backend
	}
	if *runFor > 0 {
		cfg.Trading.RunFor = *runFor
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case sig := <-sigCh:
			log.WithFields(logrus.Fields{"signal": sig.String()}).Info("shutdown requested")
			cancel()
		case <-ctx.Done():
		}
	}()

	log.WithFields(logrus.Fields{
		"symbols": cfg.Feed.Symbols,
		"backend": cfg.Execution.Backend,
		"mode":    cfg.Execution.Mode,
	}).Info("bot starting")

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("bot stopped with error")
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	creds := cfg.Exchange.Credentials
	clk := clock.New()

	market := rest.New(cfg.Exchange.RestURL, "", "", "", cfg.Exchange.Timeout, log)
	var orders exchange.OrderClient
	if creds.Present() {
		orders = rest.New(cfg.Exchange.OrderURL, creds.APIKey, creds.Secret, creds.Passphrase, cfg.Exchange.Timeout, log)
	}

	fm := feed.New(feed.Config{
		Symbols:      cfg.Feed.Symbols,
		PrimaryURL:   cfg.Exchange.WSPrimary,
		SecondaryURL: cfg.Exchange.WSSecondary,
		SeedTimeout:  cfg.Feed.SeedTimeout,
		PollInterval: cfg.Feed.PollInterval,
		StaleAfter:   cfg.Feed.StaleAfter,
		BarHistory:   cfg.Feed.BarHistory,
		WarmBars:     cfg.Feed.WarmBars,
	}, market, func(url string) feed.Stream {
		return ws.New(url, cfg.Feed.Symbols, log, cfg.Feed.BackoffMin, cfg.Feed.BackoffMax)
	}, log)

	flow := signals.NewOrderFlow(market, cfg.Feed.Symbols, cfg.Feed.BookInterval, log)
	advisor := signals.NewChatAdvisor(cfg.Macro.URL, cfg.Macro.Model, cfg.Macro.APIKey, cfg.Macro.Timeout)
	macroOn := cfg.Macro.Enabled && cfg.Macro.APIKey != ""
	if cfg.Macro.Enabled && !macroOn {
		log.WithComponent("macro").Info("no advisor api key, macro bias held at 0")
	}
	macro := signals.NewMacro(advisor, macroOn, cfg.Macro.TTL, cfg.Macro.Timeout, log)
	library := signals.NewLibrary(fm, flow, macro)

	fees := execution.NewFeeBook(cfg.Fees.MakerBps, cfg.Fees.TakerBps, cfg.Fees.MinUSD)
	ledger := risk.New(risk.Config{
		StartCash:       cfg.Risk.StartCash,
		MaxGrossUSD:     cfg.Risk.MaxGrossUSD,
		MaxDailyLoss:    cfg.Risk.MaxDailyLoss,
		TakerRate:       cfg.Fees.TakerRate(),
		MinFeeUSD:       cfg.Fees.MinUSD,
		BreakerDrawdown: cfg.Risk.BreakerDrawdown,
		BreakerCooldown: cfg.Risk.BreakerCooldown,
		KillDrawdown:    cfg.Risk.KillDrawdown,
		SummaryInterval: cfg.Risk.SummaryInterval,
		LedgerInterval:  cfg.Risk.LedgerInterval,
		LedgerRetention: cfg.Risk.LedgerRetention,
		DataDir:         cfg.Risk.DataDir,
		SummaryPath:     cfg.Risk.SummaryPath,
	}, fm, clk, log)

	writer := execution.NewArtifactWriter(4096)
	writer.Start(context.Background())
	fills := execution.NewFillLogger(ledger, fees, writer, execution.FillLoggerConfig{
		PnLPath: cfg.Execution.PnLPath,
		RunDir:  cfg.Execution.RunDir,
		FillDir: cfg.Execution.FillDir,
	}, log)

	backend, err := execution.NewBackend(cfg.Execution, creds, orders, fm, fills, log)
	if err != nil {
		return err
	}
	sim := execution.NewSim(fm, fills, cfg.Execution.SlippageBps, cfg.Execution.MakerFillProb, nil)
	router := execution.NewRouter(backend, sim, fees, execution.RouterConfig{
		Mode:    cfg.Execution.Mode,
		WaitMin: cfg.Execution.MakerWaitMin,
		WaitMax: cfg.Execution.MakerWaitMax,
	}, log)

	engine := decision.New(decision.Config{
		MinEdgeBps:       cfg.Decision.MinEdgeBps,
		SpreadWeight:     cfg.Decision.SpreadWeight,
		SlippageBps:      cfg.Execution.SlippageBps,
		VolWindow:        cfg.Decision.VolWindow,
		ReweightInterval: cfg.Decision.ReweightInterval,
		ReweightTrades:   cfg.Decision.ReweightTrades,
		Temperature:      cfg.Decision.Temperature,
	}, decision.NewWeights(cfg.Decision.Weights), decision.Deps{
		Signals: library,
		Market:  fm,
		Fees:    fees,
		Trades:  ledger,
		Store:   decision.NewWeightStore(cfg.Decision.WeightsPath),
		Audit:   logger.NewAudit(cfg.Decision.AuditPath, 50),
		Clock:   clk,
	}, log)
	if err := engine.Restore(); err != nil {
		log.WithComponent("decision").WithError(err).Warn("weights not restored, using configured weights")
	}

	mets := metrics.New(nil, metrics.Sources{Feed: fm, Ledger: ledger, Weights: engine})
	rejects := trader.NewRejects()

	tr := trader.New(trader.Config{
		Symbols:          cfg.Feed.Symbols,
		Cycle:            cfg.Trading.Cycle,
		ConflictThres:    cfg.Trading.ConflictThres,
		AllowConflict:    cfg.Trading.AllowConflict,
		MinEdgeBps:       cfg.Trading.MinEdgeBps,
		SlippageBps:      cfg.Execution.SlippageBps,
		MakerMode:        cfg.Execution.Mode == execution.ModeMaker,
		RiskPerTrade:     cfg.Trading.RiskPerTrade,
		ATRPeriod:        cfg.Trading.ATRPeriod,
		KTP:              cfg.Trading.KTP,
		KSL:              cfg.Trading.KSL,
		MaxHold:          cfg.Trading.MaxHold,
		ExitPoll:         cfg.Trading.ExitPoll,
		MaxDayTrades:     cfg.Risk.MaxDayTrades,
		DayTradeDampener: cfg.Risk.DayTradeDampener,
		ReadyTimeout:     cfg.Trading.ReadyTimeout,
		ReadyRetries:     cfg.Trading.ReadyRetries,
		SkipReadiness:    cfg.Runtime.SkipReadiness,
		RunFor:           cfg.Trading.RunFor,
	}, trader.Deps{
		Advisor: engine,
		Market:  fm,
		Ledger:  ledger,
		Router:  router,
		Fees:    fees,
		Rejects: rejects,
		Metrics: mets,
		Clock:   clk,
	}, log)

	srv := api.NewServer(cfg.Runtime.MetricsListen, api.Deps{
		Feed:      fm,
		Ledger:    ledger,
		Weights:   engine,
		Positions: tr,
		Rejects:   rejects,
	}, log)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	fm.Start(workerCtx)
	var wg conc.WaitGroup
	wg.Go(func() { flow.Run(workerCtx) })
	wg.Go(func() { engine.Run(workerCtx) })
	wg.Go(func() { ledger.Run(workerCtx) })
	wg.Go(func() { mets.Run(workerCtx, 5*time.Second) })
	wg.Go(func() {
		if err := srv.Run(workerCtx); err != nil {
			log.WithComponent("api").WithError(err).Error("status server failed")
		}
	})
	if backend.Name() == execution.BackendPaper {
		refresher := execution.NewFeeRefresher(fees, orders, cfg.Fees.Refresh, log)
		wg.Go(func() { refresher.Run(workerCtx) })
	}

	runErr := tr.Ready(ctx)
	if runErr == nil {
		tr.Run(ctx)
	}

	stopWorkers()
	fm.Wait()
	wg.Wait()
	finalize(ledger, log)
	if err := writer.Close(); err != nil {
		log.WithComponent("fills").WithError(err).Warn("fill artifacts incomplete")
	}
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// finalize appends the closing TOTAL snapshot and prints final equity.
func finalize(ledger *risk.Ledger, log *logger.Logger) {
	snap, err := ledger.WriteSnapshot("TOTAL")
	if err != nil {
		log.WithError(err).Warn("final snapshot not written")
	}
	log.WithFields(logrus.Fields{
		"equity": snap.EquityUSD,
		"cash":   snap.CashUSD,
		"fees":   snap.FeesUSD,
	}).Info("final portfolio")
	fmt.Printf("Final equity: $%.2f\n", snap.EquityUSD)
}
