// Command bridged runs the cross-chain relayer: it captures lock events from
// the configured chains into a durable queue and settles them on the matching
// destination chain.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"sheetchain/bridge"
	"sheetchain/bridge/store"
	"sheetchain/config"
	"sheetchain/gateway"
	"sheetchain/observability/logging"
	"sheetchain/sheet"
)

// destChainIDs maps numeric DestChain cells on the Bridge tab onto chain
// names for sheet-originated transfers.
var destChainIDs = map[string]string{
	"56": bridge.ChainBSC,
	"97": bridge.ChainBSC,
}

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	logger := logging.Setup("bridged", os.Getenv("SHEETCHAIN_ENV"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateRelayer(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	eventStore, err := store.Open(cfg.Bridge.DatabasePath)
	if err != nil {
		logger.Error("failed to open bridge database", "path", cfg.Bridge.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer eventStore.Close()

	sheetClient, err := sheet.NewHTTPClient(sheet.HTTPClientConfig{
		Endpoint:      cfg.Sheet.Endpoint,
		SpreadsheetID: cfg.Sheet.SpreadsheetID,
		Token:         cfg.Sheet.Token,
	})
	if err != nil {
		logger.Error("failed to build sheet client", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.Bridge.PollIntervalMS) * time.Millisecond
	worker := bridge.NewWorker(eventStore, interval)

	if cfg.Bridge.SheetRPCURL != "" && cfg.Bridge.SheetRelayerKey != "" {
		credit, err := bridge.NewSheetCredit(ctx, cfg.Bridge.SheetRPCURL, cfg.Bridge.SheetRelayerKey)
		if err != nil {
			logger.Error("failed to build sheet credit executor", "error", err)
			os.Exit(1)
		}
		worker.Register(bridge.Route{From: bridge.ChainSolana, To: bridge.ChainSheet}, credit)
		worker.Register(bridge.Route{From: bridge.ChainBSC, To: bridge.ChainSheet}, credit)
	}
	if cfg.Bridge.BSCRPCURL != "" && cfg.Bridge.BSCLockContract != "" && cfg.Bridge.BSCRelayerKey != "" {
		release, err := bridge.NewBSCRelease(ctx, cfg.Bridge.BSCRPCURL, cfg.Bridge.BSCLockContract, cfg.Bridge.BSCRelayerKey)
		if err != nil {
			logger.Error("failed to build bsc release executor", "error", err)
			os.Exit(1)
		}
		worker.Register(bridge.Route{From: bridge.ChainSheet, To: bridge.ChainBSC}, release)
	}
	if cfg.Bridge.SolanaRPCURL != "" && cfg.Bridge.SolanaRelayerKey != "" && cfg.Bridge.SolanaTokenMint != "" {
		transfer, err := bridge.NewSolanaTransfer(cfg.Bridge.SolanaRPCURL, cfg.Bridge.SolanaRelayerKey, cfg.Bridge.SolanaTokenMint)
		if err != nil {
			logger.Error("failed to build solana transfer executor", "error", err)
			os.Exit(1)
		}
		worker.Register(bridge.Route{From: bridge.ChainSheet, To: bridge.ChainSolana}, transfer)
	}

	var wg sync.WaitGroup
	runSupervised := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bridge.Run(ctx, name, fn)
		}()
	}

	sheetMonitor := bridge.NewSheetMonitor(sheetClient, eventStore, interval, destChainIDs)
	runSupervised("sheet-monitor", sheetMonitor.Run)

	if cfg.Bridge.SolanaRPCURL != "" && cfg.Bridge.SolanaLockProgram != "" {
		solMonitor, err := bridge.NewSolanaMonitor(cfg.Bridge.SolanaRPCURL, cfg.Bridge.SolanaLockProgram, eventStore, interval)
		if err != nil {
			logger.Error("failed to build solana monitor", "error", err)
			os.Exit(1)
		}
		runSupervised("solana-monitor", solMonitor.Run)
	}
	if cfg.Bridge.BSCRPCURL != "" && cfg.Bridge.BSCLockContract != "" {
		evmMonitor, err := bridge.NewEVMMonitor(cfg.Bridge.BSCRPCURL, cfg.Bridge.BSCLockContract, eventStore, interval)
		if err != nil {
			logger.Error("failed to build bsc monitor", "error", err)
			os.Exit(1)
		}
		runSupervised("bsc-monitor", evmMonitor.Run)
	}

	runSupervised("settlement", worker.Run)

	go func() {
		handler := gateway.New(gateway.Config{
			ChainID:     cfg.ChainID,
			NetworkName: cfg.NetworkName,
			Bridge: gateway.BridgeStatsFunc(func() (any, error) {
				return eventStore.Stats()
			}),
		})
		if err := gateway.Serve(ctx, cfg.GatewayAddress, handler); err != nil && err != context.Canceled {
			logger.Error("gateway stopped", "error", err)
		}
	}()

	logger.Info("relayer running", "poll_interval", interval.String(), "database", cfg.Bridge.DatabasePath)
	<-ctx.Done()
	wg.Wait()
	logger.Info("shutdown complete")
}
