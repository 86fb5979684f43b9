package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/adapters/binanceclient"
	"cryptoTradeEngine/internal/adapters/logger"
	"cryptoTradeEngine/internal/adapters/sqlite"
	"cryptoTradeEngine/internal/cooldown"
	"cryptoTradeEngine/internal/engine"
	"cryptoTradeEngine/internal/events"
	"cryptoTradeEngine/internal/execution"
	"cryptoTradeEngine/internal/monitor"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/positions"
	"cryptoTradeEngine/internal/prices"
	"cryptoTradeEngine/internal/risk"
	"cryptoTradeEngine/internal/signals"
	"cryptoTradeEngine/internal/strategy"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}
	cfgStore := config.NewStore(cfg)

	// 2. Initialize Logger
	var appLogger ports.Logger
	if cfg.LogFormat == "std" {
		appLogger = logger.NewStdLogger(cfg.LogLevel)
	} else {
		appLogger = logger.NewLogrusLogger(cfg.LogLevel.String(), cfg.LogFormat)
	}
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String(), "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Exchange Gateway (Binance Adapter)
	gateway, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Shared state: event bus, position store, price cache, cooldown
	bus := events.NewBus(appLogger)
	store := positions.NewStore()
	cache := prices.NewCache()
	tracker := cooldown.NewTracker(cfg.CooldownLossThreshold, cfg.CooldownDuration)

	// 6. Risk gate and execution coordinator
	gate, err := risk.NewGate(cfgStore, tracker, store, cache, gateway, repo, bus, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize risk gate")
		log.Fatalf("FATAL: Failed to initialize risk gate: %v", err)
	}
	coord, err := execution.NewCoordinator(cfgStore, gateway, store, repo, repo, tracker, bus, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize execution coordinator")
		log.Fatalf("FATAL: Failed to initialize execution coordinator: %v", err)
	}

	// 7. Strategies and consensus
	trend, err := strategy.NewTrend(strategy.TrendConfig{
		ShortMAPeriod: cfg.ShortMAPeriod,
		LongMAPeriod:  cfg.LongMAPeriod,
		EMAPeriod:     cfg.EMAPeriod,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trend strategy")
		log.Fatalf("FATAL: Failed to initialize trend strategy: %v", err)
	}
	momentum, err := strategy.NewMomentum(strategy.MomentumConfig{
		RSIPeriod:  cfg.RSIPeriod,
		Overbought: cfg.RSIOverbought,
		Oversold:   cfg.RSIOversold,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize momentum strategy")
		log.Fatalf("FATAL: Failed to initialize momentum strategy: %v", err)
	}
	breakout, err := strategy.NewBreakout(strategy.BreakoutConfig{
		Lookback:  cfg.BreakoutLookback,
		ATRPeriod: cfg.ATRPeriod,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize breakout strategy")
		log.Fatalf("FATAL: Failed to initialize breakout strategy: %v", err)
	}
	consensus, err := strategy.NewConsensus([]ports.Strategy{trend, momentum, breakout}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize strategy consensus")
		log.Fatalf("FATAL: Failed to initialize strategy consensus: %v", err)
	}

	// 8. Periodic tasks
	chop := signals.NewChopDetector(cfg.ChopWindow, cfg.ChopThreshold)
	loop, err := signals.NewLoop(cfgStore, gateway, consensus, chop, gate, coord, cache, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize signal loop")
		log.Fatalf("FATAL: Failed to initialize signal loop: %v", err)
	}
	sltp, err := monitor.NewSLTPMonitor(cfgStore, store, cache, gateway, coord, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize SL/TP monitor")
		log.Fatalf("FATAL: Failed to initialize SL/TP monitor: %v", err)
	}

	// 9. Metrics endpoint
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			appLogger.Info(context.Background(), "Metrics endpoint listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				appLogger.Error(context.Background(), err, "Metrics endpoint stopped")
			}
		}()
	}

	// 10. Assemble and run the engine
	eng, err := engine.New(engine.Deps{
		CfgStore: cfgStore,
		Logger:   appLogger,
		Gateway:  gateway,
		Feed:     gateway,
		Store:    store,
		Cache:    cache,
		PosRepo:  repo,
		SnapRepo: repo,
		Tracker:  tracker,
		Gate:     gate,
		Coord:    coord,
		Loop:     loop,
		Monitor:  sltp,
		Bus:      bus,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to assemble engine")
		log.Fatalf("FATAL: Failed to assemble engine: %v", err)
	}

	if err := eng.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Engine exited with error")
		log.Fatalf("FATAL: Engine exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
