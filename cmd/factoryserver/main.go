package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ruteri/create2-factory-registry/cmd/flags"
	"github.com/ruteri/create2-factory-registry/executor"
	"github.com/ruteri/create2-factory-registry/httpserver"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/ruteri/create2-factory-registry/kms"
	"github.com/ruteri/create2-factory-registry/registry"
	"github.com/ruteri/create2-factory-registry/storage"
	"github.com/urfave/cli/v2"
)

// defaultSandboxBalance is one million ether.
const defaultSandboxBalance = "1000000000000000000000000"

var flagList []cli.Flag = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:     "owner",
		Required: true,
		Usage:    "address allowed to deploy through the registry",
	},
	&cli.StringFlag{
		Name:  "executor",
		Value: "evm",
		Usage: "construction executor: 'evm' (in-process sandbox) or 'chain'",
	},
	flags.RpcAddrFlag,
	&cli.StringFlag{
		Name:  "factory-address",
		Usage: "deployed factory stub (chain executor); a new stub is deployed when empty",
	},
	&cli.StringFlag{
		Name:    "deployer-key",
		Usage:   "hex key or @file signing chain transactions",
		EnvVars: []string{"FACTORY_DEPLOYER_KEY"},
	},
	&cli.StringSliceFlag{
		Name:  "deployer-shareholder",
		Usage: "shareholder address for Shamir recovery of the deployer key (repeatable)",
	},
	&cli.IntFlag{
		Name:  "deployer-threshold",
		Value: 2,
		Usage: "shares needed to recover the deployer key",
	},
	&cli.StringFlag{
		Name:  "deployer-address",
		Usage: "address the recovered deployer key must control",
	},
	&cli.StringFlag{
		Name:  "admin-listen-addr",
		Value: "127.0.0.1:8081",
		Usage: "address to listen on for the share recovery API",
	},
	&cli.IntFlag{
		Name:  "bootstrap-timeout",
		Value: 300,
		Usage: "timeout in seconds for deployer key recovery",
	},
	&cli.StringSliceFlag{
		Name:  "storage",
		Usage: "deployment journal location URI (file://, sqlite://, s3://, vault://, ipfs://; repeatable)",
	},
	&cli.StringFlag{
		Name:  "identity-method",
		Value: executor.DefaultIdentityMethod,
		Usage: "identity getter queried on new instances",
	},
	&cli.StringFlag{
		Name:  "sandbox-balance",
		Value: defaultSandboxBalance,
		Usage: "wei credited to the sandbox sender so deployments can carry value (evm executor; decimal or 0x-hex)",
	},
	&cli.Uint64Flag{
		Name:  "gas-limit",
		Value: executor.DefaultConstructionGas,
		Usage: "default construction gas limit (evm executor)",
	},
	flags.LogServiceFlagFn("factory-server"),
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:   "factory-server",
		Usage:  "Serve the CREATE2 deployment registry",
		Flags:  flagList,
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	ctx := cCtx.Context

	owner, err := parseAddress(cCtx.String("owner"))
	if err != nil {
		return fmt.Errorf("invalid owner: %w", err)
	}

	exec, err := setupExecutor(cCtx, logger)
	if err != nil {
		logger.Error("Failed to set up executor", "err", err)
		return err
	}
	logger.Info("Construction executor ready",
		"executor", cCtx.String("executor"),
		"factory", exec.FactoryAddress().Hex())

	var journal interfaces.DeploymentJournal
	if uris := cCtx.StringSlice("storage"); len(uris) > 0 {
		locations := make([]interfaces.StorageBackendLocation, len(uris))
		for i, uri := range uris {
			locations[i] = interfaces.StorageBackendLocation(uri)
		}

		backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
		if err != nil {
			logger.Error("Failed to create storage backend", "err", err)
			return err
		}
		journal = storage.NewJournal(backend, logger)
		logger.Info("Journaling deployments", "location", backend.LocationURI())
	} else {
		logger.Warn("No storage configured, registry state is kept in memory only")
	}

	reg, err := registry.Open(ctx, registry.Config{
		Owner:    owner,
		Executor: exec,
		Journal:  journal,
		Log:      logger,
	})
	if err != nil {
		logger.Error("Failed to open registry", "err", err)
		return err
	}

	events := make(chan interfaces.DeploymentEvent, 16)
	sub := reg.SubscribeDeployments(events)
	defer sub.Unsubscribe()
	go logDeployments(logger, events, sub.Err())

	server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr")), httpserver.NewHandler(reg, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop", "owner", owner.Hex(), "instances", reg.Length())
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

// logDeployments emits one log line per committed deployment.
func logDeployments(logger *slog.Logger, events <-chan interfaces.DeploymentEvent, errc <-chan error) {
	for {
		select {
		case ev := <-events:
			logger.Info("Deployment event",
				slog.Uint64("index", ev.Index),
				slog.String("identity", ev.Identity.Hex()),
				slog.String("address", ev.Address.Hex()),
				slog.String("salt", ev.Salt.String()))
		case <-errc:
			return
		}
	}
}

func setupExecutor(cCtx *cli.Context, logger *slog.Logger) (interfaces.ConstructionExecutor, error) {
	switch kind := cCtx.String("executor"); kind {
	case "evm":
		balance, err := parseSandboxBalance(cCtx.String("sandbox-balance"))
		if err != nil {
			return nil, err
		}
		return executor.NewEVMExecutor(executor.EVMConfig{
			OriginBalance:  balance,
			GasLimit:       cCtx.Uint64("gas-limit"),
			IdentityMethod: cCtx.String("identity-method"),
			Log:            logger,
		})

	case "chain":
		return setupChainExecutor(cCtx, logger)

	default:
		return nil, fmt.Errorf("invalid executor: %s", kind)
	}
}

func setupChainExecutor(cCtx *cli.Context, logger *slog.Logger) (interfaces.ConstructionExecutor, error) {
	ctx := cCtx.Context
	rpcAddress := cCtx.String(flags.RpcAddrFlag.Name)

	logger.Info("Connecting to Ethereum RPC", "address", rpcAddress)
	client, err := ethclient.DialContext(ctx, rpcAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not fetch chain id: %w", err)
	}

	key, err := deployerKey(cCtx, logger)
	if err != nil {
		return nil, err
	}

	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, err
	}

	var factory common.Address
	if addr := cCtx.String("factory-address"); addr != "" {
		if factory, err = parseAddress(addr); err != nil {
			return nil, fmt.Errorf("invalid factory address: %w", err)
		}
	} else {
		logger.Info("Deploying factory stub", "deployer", auth.From.Hex())
		if factory, err = executor.DeployFactory(ctx, client, auth); err != nil {
			return nil, err
		}
		logger.Info("Factory stub deployed", "factory", factory.Hex())
	}

	return executor.NewChainExecutor(ctx, client, executor.ChainConfig{
		Factory:        factory,
		Auth:           auth,
		IdentityMethod: cCtx.String("identity-method"),
		Log:            logger,
	})
}

// deployerKey loads the deployer key directly, or recovers it from shareholders
// through the admin API.
func deployerKey(cCtx *cli.Context, logger *slog.Logger) (*ecdsa.PrivateKey, error) {
	if value := cCtx.String("deployer-key"); value != "" {
		return flags.LoadPrivateKey(value)
	}

	holderValues := cCtx.StringSlice("deployer-shareholder")
	if len(holderValues) == 0 {
		return nil, errors.New("chain executor requires --deployer-key or --deployer-shareholder")
	}

	holders := make([]common.Address, len(holderValues))
	for i, value := range holderValues {
		holder, err := parseAddress(value)
		if err != nil {
			return nil, fmt.Errorf("invalid shareholder: %w", err)
		}
		holders[i] = holder
	}

	var expected common.Address
	if value := cCtx.String("deployer-address"); value != "" {
		var err error
		if expected, err = parseAddress(value); err != nil {
			return nil, fmt.Errorf("invalid deployer address: %w", err)
		}
	}

	shamirKMS, err := kms.NewShamirKMSRecovery(kms.ShamirConfig{
		Threshold:    cCtx.Int("deployer-threshold"),
		Shareholders: holders,
		Deployer:     expected,
	})
	if err != nil {
		return nil, err
	}

	adminHandler := httpserver.NewAdminHandler(logger, shamirKMS)
	adminSrv := &http.Server{
		Addr:              cCtx.String("admin-listen-addr"),
		Handler:           adminHandler.AdminRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting admin server for deployer key recovery", "listenAddress", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", "err", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = adminSrv.Shutdown(shutdownCtx)
	}()

	timeout := time.Duration(cCtx.Int("bootstrap-timeout")) * time.Second
	logger.Info("Waiting for deployer key shares", "threshold", cCtx.Int("deployer-threshold"), "timeout", timeout)

	ctx, cancel := context.WithTimeout(cCtx.Context, timeout)
	defer cancel()
	if err := adminHandler.WaitForBootstrap(ctx); err != nil {
		return nil, fmt.Errorf("deployer key recovery failed: %w", err)
	}

	logger.Info("Deployer key recovered")
	return shamirKMS.DeployerKey()
}

func parseAddress(value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", value)
	}
	return common.HexToAddress(value), nil
}

// parseSandboxBalance reads a non-negative wei amount. An empty string means no funding.
func parseSandboxBalance(value string) (*big.Int, error) {
	if value == "" {
		return nil, nil
	}
	balance, ok := math.ParseBig256(value)
	if !ok || balance.Sign() < 0 {
		return nil, fmt.Errorf("invalid sandbox balance %q", value)
	}
	return balance, nil
}
