package interfaces

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrEmptyDeployment is returned by executors when construction left no code at the target address.
var ErrEmptyDeployment = errors.New("construction produced no code at target address")

// Instance is a freshly constructed child contract. The registry knows nothing about
// it beyond its address and its ability to report the identity it was built for.
type Instance interface {
	// Address returns where the instance lives.
	Address() common.Address

	// ReportedIdentity performs a read-only query for the identity attribute.
	ReportedIdentity(ctx context.Context) (common.Address, error)
}

// ConstructionRequest describes a single CREATE2 construction.
type ConstructionRequest struct {
	Target   common.Address
	InitCode []byte
	Salt     Salt
	Value    *big.Int
	GasLimit uint64
}

// ConstructionExecutor runs init code at a deterministic address.
type ConstructionExecutor interface {
	// FactoryAddress is the deployer address used for CREATE2 derivation.
	FactoryAddress() common.Address

	// Construct executes the init code. Construction is all-or-nothing: on error
	// nothing was deployed, except where ErrEmptyDeployment reports an empty result.
	Construct(ctx context.Context, req ConstructionRequest) (Instance, error)
}

// DeploymentJournal is the durable, append-only log of committed registry entries.
type DeploymentJournal interface {
	// Append persists the record. It must not return before the record is durable.
	Append(ctx context.Context, record DeploymentRecord) error

	// Load returns all records in index order.
	Load(ctx context.Context) ([]DeploymentRecord, error)
}
