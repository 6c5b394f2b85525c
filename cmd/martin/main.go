package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evgenss79/MARTIN/config"
	"github.com/evgenss79/MARTIN/internal/adapters/binance"
	"github.com/evgenss79/MARTIN/internal/adapters/notify"
	"github.com/evgenss79/MARTIN/internal/adapters/polymarket"
	"github.com/evgenss79/MARTIN/internal/adapters/storage"
	"github.com/evgenss79/MARTIN/internal/domain"
	"github.com/evgenss79/MARTIN/internal/execution"
	"github.com/evgenss79/MARTIN/internal/ops"
	"github.com/evgenss79/MARTIN/internal/orchestrator"
	"github.com/evgenss79/MARTIN/internal/stats"
	"github.com/evgenss79/MARTIN/internal/ta"
	"github.com/evgenss79/MARTIN/internal/timemode"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one orchestration cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ledger, err := storage.New(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open ledger", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer ledger.Close()

	// Overrides en runtime: settings > entorno > archivo.
	settings, err := ledger.Settings(context.Background())
	if err != nil {
		slog.Error("failed to read settings", "err", err)
		os.Exit(1)
	}
	effective := cfg.Resolve(settings)

	slog.Info("martin starting",
		"config", *configPath,
		"execution_mode", effective.Execution.Mode,
		"assets", effective.Trading.Assets,
		"price_cap", effective.Trading.PriceCap,
		"cap_min_ticks", effective.Trading.CapMinTicks,
		"confirm_delay_seconds", effective.Trading.ConfirmDelaySeconds,
		"tick_interval", effective.TickInterval(),
		"snap_interval", effective.SnapInterval(),
	)

	resolver, err := timemode.New(effective.App.Timezone, effective.DayNight.DayStartHour, effective.DayNight.DayEndHour)
	if err != nil {
		slog.Error("invalid timezone", "err", err)
		os.Exit(1)
	}
	loc := resolver.LocalTime(0).Location()

	poly := polymarket.NewClient(effective.APIs.CLOBBase, effective.APIs.GammaBase)
	candles := binance.NewClient(effective.APIs.BinanceBase)

	worker := ta.NewWorker(ta.WorkerConfig{
		Assets:        effective.Trading.Assets,
		WarmupSeconds: effective.Trading.WarmupSeconds,
		Interval:      effective.SnapInterval(),
	}, candles)

	statsSvc := stats.New(stats.Config{
		SwitchStreakAt:         effective.DayNight.SwitchStreakAt,
		StartStrictAfterNWins:  effective.DayNight.StartStrictAfterNWins,
		StrictQualityIncrement: effective.DayNight.StrictQualityIncr,
		NightMaxWinStreak:      effective.DayNight.NightMaxWinStreak,
		NightSessionMode:       domain.NightSessionMode(effective.DayNight.NightSessionMode),
		BaseDayMinQuality:      effective.DayNight.BaseDayMinQuality,
		BaseNightMinQuality:    effective.DayNight.BaseNightMinQuality,
		QuantileEnabled:        effective.RollingQuantile.Enabled,
		RollingDays:            effective.RollingQuantile.RollingDays,
		MaxSamples:             effective.RollingQuantile.MaxSamples,
		MinSamples:             effective.RollingQuantile.MinSamples,
		StrictFallbackMult:     effective.RollingQuantile.StrictFallbackMult,
		StrictDayQuantile:      effective.RollingQuantile.StrictDayQ,
		StrictNightQuantile:    effective.RollingQuantile.StrictNightQ,
	}, ledger)

	var executor execution.Executor
	if effective.Execution.Mode == "live" {
		slog.Warn("LIVE execution mode enabled — real orders will be placed")
		executor = execution.NewLive(poly, effective.Trading.PriceCap)
	} else {
		executor = execution.NewPaper(effective.Trading.PriceCap)
	}

	nightMode := domain.NightSessionMode(effective.DayNight.NightSessionMode)
	orch := orchestrator.New(
		orchestrator.Config{
			Assets:                effective.Trading.Assets,
			PriceCap:              effective.Trading.PriceCap,
			ConfirmDelaySeconds:   effective.Trading.ConfirmDelaySeconds,
			CapMinTicks:           effective.Trading.CapMinTicks,
			StakeAmount:           effective.Trading.StakeAmountUSDC,
			MaxResponseSeconds:    effective.DayNight.MaxResponseSeconds,
			NightAutotradeEnabled: effective.DayNight.NightAutotradeEnabled && nightMode != domain.NightSessionOff,
			NightMaxWinStreak:     effective.DayNight.NightMaxWinStreak,
			TickInterval:          effective.TickInterval(),
			SettlementTimeout:     time.Duration(effective.Settlement.TimeoutSeconds) * time.Second,
		},
		ledger,
		poly,
		poly,
		ta.NewEngine(),
		worker,
		notify.NewConsole(loc),
		executor,
		statsSvc,
		resolver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *once {
		orch.Tick(ctx)
		slog.Info("single cycle complete")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return ops.NewServer(effective.Ops.Listen, orch).Run(gctx) })

	if err := g.Wait(); err != nil {
		slog.Error("martin exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("martin stopped cleanly")
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
