package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/holiman/uint256"
	"github.com/ruteri/create2-factory-registry/interfaces"
)

const (
	// DefaultConstructionGas is used when a construction request carries no gas limit.
	DefaultConstructionGas uint64 = 10_000_000

	// identityQueryGas bounds the read-only identity call.
	identityQueryGas uint64 = 100_000
)

// DefaultSandboxOrigin sends every transaction in the in-process EVM when no origin is configured.
var DefaultSandboxOrigin = common.HexToAddress("0x00000000000000000000000000000000000f4c70")

// EVMConfig configures an EVMExecutor.
type EVMConfig struct {
	// Origin is the sandbox account that deploys the factory stub and sends deployments.
	Origin common.Address

	// GasLimit is the default construction budget. Zero means DefaultConstructionGas.
	GasLimit uint64

	// OriginBalance is credited to Origin at startup so deployments can carry value.
	// Nil leaves Origin unfunded.
	OriginBalance *big.Int

	// IdentityMethod is the getter queried on new instances. Empty means erc20.
	IdentityMethod string

	// Log is the structured logger. Defaults to slog.Default().
	Log *slog.Logger
}

// EVMExecutor runs constructions in an in-process go-ethereum EVM. At creation it
// deploys the CREATE2 factory stub from Origin, so FactoryAddress is
// CreateAddress(Origin, 0). State lives in memory for the lifetime of the executor.
type EVMExecutor struct {
	mu sync.Mutex

	cfg        runtime.Config
	factory    common.Address
	query      *IdentityQuery
	defaultGas uint64
	log        *slog.Logger
}

// NewEVMExecutor creates the sandbox EVM and deploys the factory stub into it.
func NewEVMExecutor(cfg EVMConfig) (*EVMExecutor, error) {
	query, err := NewIdentityQuery(cfg.IdentityMethod)
	if err != nil {
		return nil, err
	}

	origin := cfg.Origin
	if origin == (common.Address{}) {
		origin = DefaultSandboxOrigin
	}
	defaultGas := cfg.GasLimit
	if defaultGas == 0 {
		defaultGas = DefaultConstructionGas
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	e := &EVMExecutor{
		cfg: runtime.Config{
			Origin:   origin,
			GasLimit: defaultGas,
			Value:    new(big.Int),
		},
		query:      query,
		defaultGas: defaultGas,
		log:        log,
	}

	// runtime.Create allocates the in-memory state on first use.
	_, factory, _, err := runtime.Create(FactoryInitCode(), &e.cfg)
	if err != nil {
		return nil, fmt.Errorf("could not deploy factory stub: %w", err)
	}
	e.cfg.State.Finalise(true)
	e.factory = factory

	if cfg.OriginBalance != nil {
		if err := e.Fund(origin, cfg.OriginBalance); err != nil {
			return nil, fmt.Errorf("could not fund sandbox origin: %w", err)
		}
	}

	log.Debug("Deployed in-process factory stub",
		slog.String("factory", factory.Hex()),
		slog.String("origin", origin.Hex()))

	return e, nil
}

// FactoryAddress returns the address of the factory stub.
func (e *EVMExecutor) FactoryAddress() common.Address {
	return e.factory
}

// Origin returns the sandbox sender account.
func (e *EVMExecutor) Origin() common.Address {
	return e.cfg.Origin
}

// Construct calls the factory stub with salt ++ initCode. A reverted or out-of-gas
// construction rolls the sandbox state back to where it was before the call.
func (e *EVMExecutor) Construct(ctx context.Context, req interfaces.ConstructionRequest) (interfaces.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit = e.defaultGas
	}
	value := new(big.Int)
	if req.Value != nil {
		if req.Value.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s", req.Value)
		}
		value.Set(req.Value)
	}

	calldata := make([]byte, 0, len(req.Salt)+len(req.InitCode))
	calldata = append(calldata, req.Salt[:]...)
	calldata = append(calldata, req.InitCode...)

	snapshot := e.cfg.State.Snapshot()
	ret, leftOverGas, err := e.call(e.factory, calldata, value, gasLimit)
	if err != nil {
		e.cfg.State.RevertToSnapshot(snapshot)
		if errors.Is(err, vm.ErrExecutionReverted) {
			return nil, fmt.Errorf("%w: factory call reverted", interfaces.ErrEmptyDeployment)
		}
		return nil, fmt.Errorf("factory call failed after %d gas: %w", gasLimit-leftOverGas, err)
	}

	deployed := common.BytesToAddress(ret)
	if len(ret) != 32 || deployed == (common.Address{}) || len(e.cfg.State.GetCode(deployed)) == 0 {
		e.cfg.State.RevertToSnapshot(snapshot)
		return nil, interfaces.ErrEmptyDeployment
	}
	e.cfg.State.Finalise(true)

	e.log.Debug("Constructed instance in sandbox",
		slog.String("address", deployed.Hex()),
		slog.Uint64("gasUsed", gasLimit-leftOverGas))

	return &evmInstance{exec: e, address: deployed}, nil
}

// Fund credits a sandbox account, typically Origin before value-carrying deployments.
func (e *EVMExecutor) Fund(account common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid funding amount %v", amount)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("funding amount %s overflows 256 bits", amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.cfg.State.AddBalance(account, value, tracing.BalanceChangeUnspecified)
	e.cfg.State.Finalise(true)
	return nil
}

// Balance returns the sandbox balance of account.
func (e *EVMExecutor) Balance(account common.Address) *big.Int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg.State.GetBalance(account).ToBig()
}

// Code returns the runtime code deployed at account.
func (e *EVMExecutor) Code(account common.Address) []byte {
	e.mu.Lock()
	defer e.mu.Unlock()

	return common.CopyBytes(e.cfg.State.GetCode(account))
}

// reportedIdentity queries the identity getter and discards any state changes it made.
func (e *EVMExecutor) reportedIdentity(ctx context.Context, instance common.Address) (common.Address, error) {
	if err := ctx.Err(); err != nil {
		return common.Address{}, err
	}
	calldata, err := e.query.Calldata()
	if err != nil {
		return common.Address{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.cfg.State.Snapshot()
	ret, _, err := e.call(instance, calldata, new(big.Int), identityQueryGas)
	e.cfg.State.RevertToSnapshot(snapshot)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s() call failed: %w", e.query.Method(), err)
	}

	return e.query.Decode(ret)
}

// call runs a message from Origin. Callers hold e.mu.
func (e *EVMExecutor) call(to common.Address, input []byte, value *big.Int, gasLimit uint64) ([]byte, uint64, error) {
	cfg := e.cfg
	cfg.Value = value
	cfg.GasLimit = gasLimit
	return runtime.Call(to, input, &cfg)
}

type evmInstance struct {
	exec    *EVMExecutor
	address common.Address
}

func (i *evmInstance) Address() common.Address {
	return i.address
}

func (i *evmInstance) ReportedIdentity(ctx context.Context) (common.Address, error) {
	return i.exec.reportedIdentity(ctx, i.address)
}
