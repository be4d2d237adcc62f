package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"cdpcore/config"
	"cdpcore/core/events"
	"cdpcore/native/cdp"
	"cdpcore/observability/logging"
	"cdpcore/oracle"
	"cdpcore/rpc"
	"cdpcore/storage"
	"cdpcore/token"
)

const (
	defaultEngineAddress = "0x0000000000000000000000000000000000000c0d"
	feedAPIKeyEnv        = "CDP_FEED_API_KEY"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	rpcOverride := flag.String("rpc", "", "Override the configured RPC listen address")
	useMemDB := flag.Bool("memdb", false, "DEV ONLY: keep all state in memory")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithRotation("cdpd", cfg.Env, logging.Rotation{
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	if *rpcOverride != "" {
		cfg.RPCAddress = *rpcOverride
	}

	db, err := openDatabase(cfg, *useMemDB)
	if err != nil {
		logger.Error("Failed to open state database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	engineAddr := common.HexToAddress(defaultEngineAddress)
	if cfg.EngineAddress != "" {
		engineAddr = common.HexToAddress(cfg.EngineAddress)
	}
	var adminAddr common.Address
	if cfg.AdminAddress != "" {
		adminAddr = common.HexToAddress(cfg.AdminAddress)
	}

	timeout, err := cfg.OracleTimeout()
	if err != nil {
		logger.Error("Invalid oracle timeout", slog.Any("error", err))
		os.Exit(1)
	}

	assets := make([]cdp.Asset, 0, len(cfg.Assets))
	for _, assetCfg := range cfg.Assets {
		feed := buildFeed(assetCfg, logger)
		ledger := token.NewLedger(assetCfg.Symbol, 18, adminAddr)
		assets = append(assets, cdp.Asset{
			Symbol:       assetCfg.Symbol,
			Address:      common.HexToAddress(assetCfg.Address),
			FeedDecimals: assetCfg.FeedDecimals,
			Feed:         oracle.NewGuard(feed, timeout),
			Token:        ledger,
		})
	}
	registry, err := cdp.NewRegistry(assets)
	if err != nil {
		logger.Error("Failed to build collateral registry", slog.Any("error", err))
		os.Exit(1)
	}

	synth := token.NewLedger(cfg.Synth.Symbol, cfg.Synth.Decimals, engineAddr)
	engine := cdp.NewEngine(registry, cdp.NewKVState(db), synth, engineAddr)
	recorder := events.NewRecorder(0)
	engine.SetEmitter(recorder)

	server := rpc.NewServer(engine, recorder, logger, rpc.Options{
		BearerToken:       secretFromEnv(cfg.Auth.BearerTokenEnv),
		JWTSecret:         []byte(secretFromEnv(cfg.Auth.JWTSecretEnv)),
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("cdpd starting",
		"rpc", cfg.RPCAddress,
		"engine", engineAddr.Hex(),
		"collateral", len(assets),
		"oracleTimeout", timeout.String(),
	)
	if err := server.Start(ctx, cfg.RPCAddress); err != nil {
		logger.Error("RPC server failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("cdpd stopped")
}

func openDatabase(cfg *config.Config, memOnly bool) (storage.Database, error) {
	if memOnly {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
}

// buildFeed wires the configured HTTP endpoint, falling back to a manual
// feed that operators drive out of band.
func buildFeed(assetCfg config.AssetCfg, logger *slog.Logger) oracle.PriceFeed {
	if assetCfg.FeedEndpoint != "" {
		return oracle.NewHTTPFeed(nil, assetCfg.FeedEndpoint, os.Getenv(feedAPIKeyEnv))
	}
	logger.Warn("collateral asset has no feed endpoint, using manual feed", "asset", assetCfg.Symbol)
	return oracle.NewManualFeed()
}

func secretFromEnv(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}
