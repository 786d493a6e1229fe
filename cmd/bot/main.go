package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/vitos/token_snipe_bot/internal/domain"
	"github.com/vitos/token_snipe_bot/internal/infrastructure/logger"
	"github.com/vitos/token_snipe_bot/internal/infrastructure/storage"
	"github.com/vitos/token_snipe_bot/internal/infrastructure/venue"
	"github.com/vitos/token_snipe_bot/internal/usecase"
	"github.com/vitos/token_snipe_bot/internal/web"
)

type Config struct {
	Venue struct {
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"venue"`
	Engine struct {
		InitialBalance    string  `yaml:"initial_balance"`
		MaxPositions      int     `yaml:"max_positions"`
		MonitorIntervalMs int     `yaml:"monitor_interval_ms"`
		PriceRefreshMs    int     `yaml:"price_refresh_ms"`
		ReconcileSec      int     `yaml:"reconcile_sec"`
		ReadinessPollMs   int     `yaml:"readiness_poll_ms"`
		ReadinessWaitSec  int     `yaml:"readiness_wait_sec"`
		EntryFeePct       float64 `yaml:"entry_fee_pct"`
		ExitFeePct        float64 `yaml:"exit_fee_pct"`
		ExitSlippagePct   float64 `yaml:"exit_slippage_pct"`
		SyncBalance       bool    `yaml:"sync_balance"`
	} `yaml:"engine"`
	Strategy struct {
		Name                string  `yaml:"name"`
		EntryMultiplierGate float64 `yaml:"entry_multiplier_gate"`
		MinLiquidity        float64 `yaml:"min_liquidity"`
		PositionFraction    float64 `yaml:"position_fraction"`
		MinPositionSize     string  `yaml:"min_position_size"`
		MaxPositionSize     string  `yaml:"max_position_size"`
		StopLossPct         float64 `yaml:"stop_loss_pct"`
		TakeProfitMult      float64 `yaml:"take_profit_mult"`
		TimeoutSec          int     `yaml:"timeout_sec"`
		TrailingStopPct     float64 `yaml:"trailing_stop_pct"`
		SilenceWindowSec    int     `yaml:"silence_window_sec"`
		MomentumDropTicks   int     `yaml:"momentum_drop_ticks"`
	} `yaml:"strategy"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseAmount(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func main() {
	// Secrets come from the environment; .env is optional.
	_ = godotenv.Load()

	// 1. Load Config
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	store, err := storage.NewSQLiteStore("bot.db")
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	// 4. Init Venue Adapter
	dex := venue.NewDexAdapter(
		os.Getenv("VENUE_API_KEY"),
		os.Getenv("WALLET_ADDRESS"),
		cfg.Venue.RESTEndpoint,
		cfg.Venue.WSEndpoint,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Init Ledger. If the venue balance is authoritative, start from
	// it; otherwise from the configured paper balance.
	initial := parseAmount(cfg.Engine.InitialBalance)
	var balanceSource domain.BalanceSource
	if cfg.Engine.SyncBalance {
		balanceSource = dex
		if real, err := dex.GetBalance(ctx); err != nil {
			log.Error("Failed to fetch venue balance, using configured", zap.Error(err))
		} else {
			initial = real
		}
	}
	ledger := usecase.NewLedger(initial, log)

	// 6. Init Strategy + Engine
	strategyCfg := usecase.StrategyConfig{
		EntryMultiplierGate: cfg.Strategy.EntryMultiplierGate,
		MinLiquidity:        cfg.Strategy.MinLiquidity,
		PositionFraction:    cfg.Strategy.PositionFraction,
		MinPositionSize:     parseAmount(cfg.Strategy.MinPositionSize),
		MaxPositionSize:     parseAmount(cfg.Strategy.MaxPositionSize),
		StopLossPct:         cfg.Strategy.StopLossPct,
		TakeProfitMult:      cfg.Strategy.TakeProfitMult,
		TimeoutSec:          cfg.Strategy.TimeoutSec,
		TrailingStopPct:     cfg.Strategy.TrailingStopPct,
		SilenceWindowSec:    cfg.Strategy.SilenceWindowSec,
		MomentumDropTicks:   cfg.Strategy.MomentumDropTicks,
	}
	strategyName := cfg.Strategy.Name
	if strategyName == "" {
		strategyName = "scalper"
	}
	strategy, err := usecase.NewStrategy(strategyName, strategyCfg)
	if err != nil {
		log.Fatal("Failed to init strategy", zap.Error(err))
	}

	engineCfg := usecase.EngineConfig{
		MaxPositions:          cfg.Engine.MaxPositions,
		MonitorInterval:       time.Duration(cfg.Engine.MonitorIntervalMs) * time.Millisecond,
		PriceRefreshInterval:  time.Duration(cfg.Engine.PriceRefreshMs) * time.Millisecond,
		ReconcileInterval:     time.Duration(cfg.Engine.ReconcileSec) * time.Second,
		ReadinessPollInterval: time.Duration(cfg.Engine.ReadinessPollMs) * time.Millisecond,
		ReadinessWaitTimeout:  time.Duration(cfg.Engine.ReadinessWaitSec) * time.Second,
		EntryFeePct:           cfg.Engine.EntryFeePct,
		ExitFeePct:            cfg.Engine.ExitFeePct,
		ExitSlippagePct:       cfg.Engine.ExitSlippagePct,
	}

	executor := usecase.NewRetryableExecutor(dex, log)
	svc := usecase.NewPositionService(
		engineCfg, strategyCfg, ledger, strategy, executor, dex, dex, store, balanceSource, log)

	log.Info("Engine ready",
		zap.String("strategy", strategy.ID()),
		zap.String("balance", initial.String()),
		zap.Int("max_positions", engineCfg.MaxPositions))

	// 7. Candidate feed: every new pool goes through admission on its
	// own goroutine so one slow readiness wait never blocks the stream.
	dex.OnCandidate(func(cand domain.TokenCandidate) {
		go func() {
			opened, reason := svc.TryOpenPosition(ctx, cand)
			if !opened {
				log.Debug("Candidate not opened",
					zap.String("mint", cand.Mint),
					zap.String("reason", reason))
			}
		}()
	})
	if err := dex.ConnectWS(); err != nil {
		log.Fatal("Failed to connect new-pool stream", zap.Error(err))
	}

	// 8. Workers + Web Server
	port := cfg.Server.Port
	if port == 0 {
		port = 8080 // Default
	}
	server := web.NewServer(port, svc, store, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.RunPriceRefresher(gctx) })
	g.Go(func() error { return svc.RunReconciler(gctx) })
	g.Go(func() error { return server.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	// 9. Wait for Shutdown
	if err := g.Wait(); err != nil {
		log.Error("Worker exited with error", zap.Error(err))
	}
	log.Info("Shutting down...")
}
