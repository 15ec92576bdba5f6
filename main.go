// FILE: main.go
// Package main – Process entry point.
//
// Assembles the layered Config (defaults ← YAML ← env ← flags), starts the
// metrics/health server, installs signal handling, and dispatches to the
// backtest, live loop, liquidate, or portfolio command.
//
// Usage:
//   algotrade -mode backtest -strategy sma_crossover -symbols AAPL,MSFT \
//             -historical-dir data
//   algotrade -mode live -max-passes 10
//   algotrade -liquidate
//   algotrade -portfolio

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	loadDotEnv()

	var (
		mode          = flag.String("mode", "", "run mode: live or backtest")
		strategyID    = flag.String("strategy", "", "strategy id")
		symbols       = flag.String("symbols", "", "comma-separated symbols")
		configPath    = flag.String("config", "config.yaml", "path to YAML config file")
		interval      = flag.Int("interval", 0, "seconds between live cycles")
		maxPasses     = flag.Int("max-passes", -1, "live: stop after N cycles (0 = run forever)")
		backtestSteps = flag.Int("backtest-max-steps", -1, "backtest: cap replay steps (0 = full history)")
		historicalDir = flag.String("historical-dir", "", "backtest fixture directory")
		stateDB       = flag.String("state-db", "", "sqlite state file")
		eventsDir     = flag.String("events-dir", "", "event log directory")
		runID         = flag.String("run-id", "", "resume an existing run id (live)")
		logLevel      = flag.String("log-level", "", "console log level")
		port          = flag.Int("port", 0, "metrics/health port")
		liquidate     = flag.Bool("liquidate", false, "flatten all positions and exit")
		portfolio     = flag.Bool("portfolio", false, "print account and positions, then exit")
	)
	flag.Parse()

	explicitConfig := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicitConfig = true
		}
	})

	cfg, err := loadConfig(*configPath, explicitConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Flags win over file and env, but only when actually set.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "strategy":
			cfg.Strategy = *strategyID
		case "symbols":
			cfg.Symbols = normalizeSymbols(strings.Split(*symbols, ","))
		case "interval":
			cfg.IntervalSeconds = *interval
		case "max-passes":
			cfg.MaxPasses = *maxPasses
		case "backtest-max-steps":
			cfg.BacktestMaxSteps = *backtestSteps
		case "historical-dir":
			cfg.HistoricalDataDir = *historicalDir
		case "state-db":
			cfg.StateDBPath = *stateDB
		case "events-dir":
			cfg.EventsDir = *eventsDir
		case "log-level":
			cfg.LogLevel = *logLevel
		case "port":
			cfg.MetricsPort = *port
		}
	})

	log := newConsoleLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Operator commands run against the live venue and exit.
	if *portfolio || *liquidate {
		cfg.Mode = "live"
		if err := cfg.validate(); err != nil {
			log.Fatal().Err(err).Msg("invalid configuration")
		}
		if *portfolio {
			err = runPortfolio(ctx, cfg)
		} else {
			err = runLiquidate(ctx, cfg, log)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("command failed")
		}
		return
	}

	if err := cfg.validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	startMetricsServer(cfg.MetricsPort, log)

	id := *runID
	if id == "" {
		id = uuid.NewString()
	}

	switch cfg.Mode {
	case "backtest":
		result, err := runBacktest(ctx, cfg, id, log)
		if err != nil {
			log.Fatal().Err(err).Msg("backtest failed")
		}
		fmt.Printf("backtest: steps=%d orders=%d start=%.2f final=%.2f pnl=%+.2f return=%+.2f%%\n",
			result.Steps, result.Orders, result.StartEquity, result.FinalEquity,
			result.PnL, result.ReturnPct)
	case "live":
		if err := runLive(ctx, cfg, id, log); err != nil {
			log.Fatal().Err(err).Msg("live run failed")
		}
	}
}

// startMetricsServer serves /metrics and /healthz in the background.
func startMetricsServer(port int, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	addr := ":" + strconv.Itoa(port)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics server listening")
}
