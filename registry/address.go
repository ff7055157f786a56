package registry

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/create2-factory-registry/interfaces"
)

// PredictAddress computes the CREATE2 address keccak256(0xff ++ factory ++ salt ++ keccak256(initCode))[12:].
// It has no side effects and can be evaluated off-line before a deployment is submitted.
func PredictAddress(factory common.Address, salt interfaces.Salt, initCode []byte) common.Address {
	return crypto.CreateAddress2(factory, salt, crypto.Keccak256(initCode))
}

// InitCodeHash returns keccak256(initCode), the value recorded alongside each deployment.
func InitCodeHash(initCode []byte) common.Hash {
	return crypto.Keccak256Hash(initCode)
}
