// Command sheetchaind runs the JSON-RPC node over the sheet-backed ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"sheetchain/config"
	"sheetchain/core/claims"
	"sheetchain/core/ledger"
	"sheetchain/gateway"
	"sheetchain/observability/logging"
	"sheetchain/rpc"
	"sheetchain/sheet"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	logger := logging.Setup("sheetchaind", os.Getenv("SHEETCHAIN_ENV"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateNode(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	claimAmount, ok := new(big.Int).SetString(cfg.Claim.Amount, 10)
	if !ok || claimAmount.Sign() <= 0 {
		logger.Error("invalid claim amount", "amount", cfg.Claim.Amount)
		os.Exit(1)
	}

	client, err := sheet.NewHTTPClient(sheet.HTTPClientConfig{
		Endpoint:      cfg.Sheet.Endpoint,
		SpreadsheetID: cfg.Sheet.SpreadsheetID,
		Token:         cfg.Sheet.Token,
	})
	if err != nil {
		logger.Error("failed to build sheet client", "error", err)
		os.Exit(1)
	}

	accounts := ledger.New(client)
	processor := ledger.NewProcessor(accounts, client)
	claimSvc := claims.New(client, accounts, processor, cfg.Claim.MaxClaimants)
	sim := rpc.NewContractSim(claimSvc, claimAmount)

	server := rpc.NewServer(rpc.ServerConfig{
		ChainID:       new(big.Int).SetUint64(cfg.ChainID),
		NetworkName:   cfg.NetworkName,
		ClientVersion: fmt.Sprintf("%s/1.0.0", cfg.NetworkName),
		ClaimAmount:   claimAmount,
		BridgeAddress: cfg.Bridge.Address,
	}, accounts, processor, claimSvc, sim, client)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		handler := gateway.New(gateway.Config{
			ChainID:     cfg.ChainID,
			NetworkName: cfg.NetworkName,
			Claims:      claimSvc,
		})
		if err := gateway.Serve(ctx, cfg.GatewayAddress, handler); err != nil && err != context.Canceled {
			logger.Error("gateway stopped", "error", err)
		}
	}()

	logger.Info("starting rpc node", "chain_id", cfg.ChainID, "network", cfg.NetworkName, "rpc", cfg.RPCAddress)
	if err := server.Start(ctx, cfg.RPCAddress); err != nil && err != context.Canceled {
		logger.Error("rpc server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
