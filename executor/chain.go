package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ruteri/create2-factory-registry/interfaces"
)

// ErrNoTransactOpts is returned when a chain executor has no signer configured.
var ErrNoTransactOpts = errors.New("no transact opts configured")

// ChainBackend is what the chain executor needs from an Ethereum client.
// Both *ethclient.Client and simulated.Client satisfy it.
type ChainBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// ChainConfig configures a ChainExecutor.
type ChainConfig struct {
	// Factory is the address of an already deployed factory stub.
	Factory common.Address

	// Auth signs deployment transactions.
	Auth *bind.TransactOpts

	// IdentityMethod is the getter queried on new instances. Empty means erc20.
	IdentityMethod string

	// Log is the structured logger. Defaults to slog.Default().
	Log *slog.Logger
}

// ChainExecutor sends construction transactions to a factory stub deployed on a
// live chain and waits for them to be mined.
type ChainExecutor struct {
	mu sync.Mutex

	backend ChainBackend
	factory *bind.BoundContract
	address common.Address
	auth    *bind.TransactOpts
	query   *IdentityQuery
	log     *slog.Logger
}

// NewChainExecutor binds to the factory stub at cfg.Factory and checks that it has code.
func NewChainExecutor(ctx context.Context, backend ChainBackend, cfg ChainConfig) (*ChainExecutor, error) {
	if cfg.Auth == nil {
		return nil, ErrNoTransactOpts
	}
	query, err := NewIdentityQuery(cfg.IdentityMethod)
	if err != nil {
		return nil, err
	}

	code, err := backend.CodeAt(ctx, cfg.Factory, nil)
	if err != nil {
		return nil, fmt.Errorf("could not fetch factory code: %w", err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("no factory deployed at %s", cfg.Factory.Hex())
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	return &ChainExecutor{
		backend: backend,
		factory: bind.NewBoundContract(cfg.Factory, abi.ABI{}, backend, backend, backend),
		address: cfg.Factory,
		auth:    cfg.Auth,
		query:   query,
		log:     log,
	}, nil
}

// DeployFactory deploys a fresh factory stub and waits until it is mined.
func DeployFactory(ctx context.Context, backend ChainBackend, auth *bind.TransactOpts) (common.Address, error) {
	if auth == nil {
		return common.Address{}, ErrNoTransactOpts
	}

	opts := *auth
	opts.Context = ctx
	address, tx, _, err := bind.DeployContract(&opts, abi.ABI{}, FactoryInitCode(), backend)
	if err != nil {
		return common.Address{}, fmt.Errorf("could not send factory deployment: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return common.Address{}, fmt.Errorf("factory deployment %s not mined: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Address{}, fmt.Errorf("factory deployment %s reverted", tx.Hash().Hex())
	}

	return address, nil
}

// FactoryAddress returns the on-chain factory stub address.
func (e *ChainExecutor) FactoryAddress() common.Address {
	return e.address
}

// Construct sends salt ++ initCode to the factory and waits for the receipt.
// A zero GasLimit lets the backend estimate gas, which fails fast for reverting
// constructors.
func (e *ChainExecutor) Construct(ctx context.Context, req interfaces.ConstructionRequest) (interfaces.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	calldata := make([]byte, 0, len(req.Salt)+len(req.InitCode))
	calldata = append(calldata, req.Salt[:]...)
	calldata = append(calldata, req.InitCode...)

	opts := *e.auth
	opts.Context = ctx
	opts.GasLimit = req.GasLimit
	opts.Value = req.Value

	tx, err := e.factory.RawTransact(&opts, calldata)
	if err != nil {
		return nil, fmt.Errorf("could not send construction transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, e.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("construction transaction %s not mined: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: transaction %s reverted", interfaces.ErrEmptyDeployment, tx.Hash().Hex())
	}

	code, err := e.backend.CodeAt(ctx, req.Target, receipt.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("could not fetch instance code: %w", err)
	}
	if len(code) == 0 {
		return nil, interfaces.ErrEmptyDeployment
	}

	e.log.Debug("Constructed instance on chain",
		slog.String("address", req.Target.Hex()),
		slog.String("tx", tx.Hash().Hex()),
		slog.Uint64("gasUsed", receipt.GasUsed))

	return &chainInstance{exec: e, address: req.Target}, nil
}

func (e *ChainExecutor) reportedIdentity(ctx context.Context, instance common.Address) (common.Address, error) {
	calldata, err := e.query.Calldata()
	if err != nil {
		return common.Address{}, err
	}

	ret, err := e.backend.CallContract(ctx, ethereum.CallMsg{
		From: e.auth.From,
		To:   &instance,
		Data: calldata,
	}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s() call failed: %w", e.query.Method(), err)
	}

	return e.query.Decode(ret)
}

type chainInstance struct {
	exec    *ChainExecutor
	address common.Address
}

func (i *chainInstance) Address() common.Address {
	return i.address
}

func (i *chainInstance) ReportedIdentity(ctx context.Context) (common.Address, error) {
	return i.exec.reportedIdentity(ctx, i.address)
}
