package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"omen/config"
	"omen/core"
	"omen/gateway"
	"omen/gateway/middleware"
	"omen/native/oracle"
	"omen/observability/logging"
	"omen/rpc"
	"omen/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OMEN_ENV"))
	logger := logging.Setup("omend", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	nodeCfg := core.Config{
		FeeRateBps:         cfg.FeeRateBps,
		OracleMaxSampleAge: time.Duration(cfg.OracleMaxAge) * time.Second,
	}
	if cfg.TreasuryOwner != "" {
		if nodeCfg.TreasuryOwner, err = config.ParseAddress(cfg.TreasuryOwner); err != nil {
			panic(fmt.Sprintf("Failed to parse treasury owner: %v", err))
		}
	}
	if cfg.OracleAdmin != "" {
		if nodeCfg.OracleAdmin, err = config.ParseAddress(cfg.OracleAdmin); err != nil {
			panic(fmt.Sprintf("Failed to parse oracle admin: %v", err))
		}
	}

	var source oracle.PriceSource = oracle.NewManualSource()
	if cfg.OracleFeedURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		source = oracle.NewHTTPSource(client, cfg.OracleFeedURL, cfg.OracleFeedAPIKey)
	}
	node, err := core.NewNode(db, source, nodeCfg)
	if err != nil {
		panic(fmt.Sprintf("Failed to start node: %v", err))
	}

	// Resolution loop: walk every due market each tick. A deferral (stale or
	// unreachable feed) advances the cursor past the stuck market so the ones
	// behind it still resolve; the stuck one is retried on the next tick.
	go func() {
		resolverLog := logging.WithComponent(logger, "resolver")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			cursor := uint64(0)
			for {
				id, due, err := node.NextDueMarket(cursor)
				if err != nil {
					resolverLog.Warn("Due market scan failed", slog.Any("error", err))
					break
				}
				if !due {
					break
				}
				cursor = id
				if err := node.Resolve(id); err != nil {
					resolverLog.Warn("Resolution deferred", slog.Uint64("market", id), slog.Any("error", err))
					continue
				}
				resolverLog.Info("Market resolved", slog.Uint64("market", id))
			}
		}
	}()

	router, err := gateway.New(gateway.Config{
		Node: node,
		RateLimiter: middleware.NewRateLimiter(middleware.RateLimit{
			RequestsPerMinute: cfg.GatewayRatePerMin,
			Burst:             cfg.GatewayRateBurst,
		}),
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to build gateway: %v", err))
	}

	go func() {
		gatewayLog := logging.WithComponent(logger, "gateway")
		gatewayLog.Info("Starting gateway", slog.String("address", cfg.GatewayAddress))
		if err := http.ListenAndServe(cfg.GatewayAddress, router); err != nil {
			gatewayLog.Error("Gateway stopped", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	rpcLog := logging.WithComponent(logger, "rpc")
	server := rpc.NewServer(node)
	rpcLog.Info("Starting JSON-RPC server", slog.String("address", cfg.RPCAddress))
	if err := server.Start(cfg.RPCAddress); err != nil {
		rpcLog.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
