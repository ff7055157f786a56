package api

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ruteri/create2-factory-registry/interfaces"
)

// CreateRequest is the body of POST /api/v1/deployments.
type CreateRequest struct {
	// Identity is the key the new instance must report.
	Identity common.Address `json:"identity"`

	// InitCode is the construction payload, 0x-hex.
	InitCode hexutil.Bytes `json:"init_code"`

	// Salt is the 32-byte CREATE2 salt, 0x-hex.
	Salt interfaces.Salt `json:"salt"`

	// Value is forwarded to the constructor, decimal or 0x-hex. Optional.
	Value string `json:"value,omitempty"`

	// GasLimit bounds construction. Zero lets the executor choose.
	GasLimit uint64 `json:"gas_limit,omitempty"`
}

// ParsedValue returns Value as a big integer. An empty value is nil.
func (r *CreateRequest) ParsedValue() (*big.Int, error) {
	if r.Value == "" {
		return nil, nil
	}
	value, ok := math.ParseBig256(r.Value)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", r.Value)
	}
	return value, nil
}

// CreateResponse is returned after a successful deployment.
type CreateResponse struct {
	Address common.Address `json:"address"`
	Index   uint64         `json:"index"`
}

// PredictRequest is the body of POST /api/v1/predict.
type PredictRequest struct {
	InitCode hexutil.Bytes   `json:"init_code"`
	Salt     interfaces.Salt `json:"salt"`
}

// AddressResponse carries a single instance address.
type AddressResponse struct {
	Address common.Address `json:"address"`
}

// IdentityResponse is returned by identity lookups.
type IdentityResponse struct {
	Identity common.Address `json:"identity"`
	Address  common.Address `json:"address"`
}

// LengthResponse carries the number of registered instances.
type LengthResponse struct {
	Length int `json:"length"`
}

// ListResponse carries every registered instance in insertion order.
type ListResponse struct {
	Addresses []common.Address `json:"addresses"`
}

// FactoryInfoResponse describes the deployment factory.
type FactoryInfoResponse struct {
	Factory common.Address `json:"factory"`
	Owner   common.Address `json:"owner"`
	Length  int            `json:"length"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ShareSubmission is the body of POST /admin/share.
type ShareSubmission struct {
	Share hexutil.Bytes `json:"share"`
}

// AdminStatusResponse reports deployer key recovery progress.
type AdminStatusResponse struct {
	State     string `json:"state"`
	Threshold int    `json:"threshold"`
	Received  int    `json:"received"`

	// Deployer is set once the key is unlocked.
	Deployer *common.Address `json:"deployer,omitempty"`
}
