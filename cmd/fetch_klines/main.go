// Command fetch_klines exports recent candles for a symbol to CSV, useful
// for eyeballing what the signal loop actually sees.
package main

import (
	"context"
	"flag"
	"log"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/adapters/binanceclient"
	"cryptoTradeEngine/internal/adapters/logger"
	"cryptoTradeEngine/internal/utils"
)

var (
	symbol   = flag.String("symbol", "BTCUSDT", "symbol to fetch")
	interval = flag.String("interval", "1m", "candle timeframe")
	limit    = flag.Int("limit", 500, "number of candles to fetch")
	out      = flag.String("out", "", "output CSV path (default <symbol>_<interval>.csv)")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(cfg.LogLevel)
	ctx := context.Background()

	client, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}

	klines, err := client.RecentCandles(ctx, *symbol, *interval, *limit)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to fetch candles")
		log.Fatalf("FATAL: Failed to fetch candles: %v", err)
	}
	appLogger.Info(ctx, "Fetched candles", map[string]interface{}{"symbol": *symbol, "interval": *interval, "count": len(klines)})

	filename := *out
	if filename == "" {
		filename = *symbol + "_" + *interval + ".csv"
	}
	if err := utils.WriteKlinesToCSV(klines, filename); err != nil {
		appLogger.Error(ctx, err, "Failed to write CSV")
		log.Fatalf("FATAL: Failed to write CSV: %v", err)
	}
	appLogger.Info(ctx, "Candles written", map[string]interface{}{"file": filename})
}
