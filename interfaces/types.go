// Package interfaces defines the core interfaces and types for the deployment registry.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Salt is the caller-chosen 32-byte value mixed into the CREATE2 address.
type Salt [32]byte

// NewSaltFromBytes creates a salt from exactly 32 bytes.
func NewSaltFromBytes(source []byte) (Salt, error) {
	if len(source) != 32 {
		return Salt{}, errors.New("invalid salt length: must be 32 bytes")
	}

	var salt Salt
	copy(salt[:], source)
	return salt, nil
}

// NewSaltFromHex parses a 64-character hex string, with or without 0x prefix.
func NewSaltFromHex(source string) (Salt, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return Salt{}, errors.New("invalid salt length: hex string must be 64 characters")
	}

	saltBytes, err := hex.DecodeString(clean)
	if err != nil {
		return Salt{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewSaltFromBytes(saltBytes)
}

// RandomSalt draws a fresh salt from crypto/rand.
func RandomSalt() (Salt, error) {
	var salt Salt
	if _, err := rand.Read(salt[:]); err != nil {
		return Salt{}, fmt.Errorf("could not generate salt: %w", err)
	}
	return salt, nil
}

// String returns the 0x-prefixed hex representation.
func (s Salt) String() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Bytes returns the raw 32 bytes.
func (s Salt) Bytes() []byte {
	return s[:]
}

// MarshalText implements encoding.TextMarshaler.
func (s Salt) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Salt) UnmarshalText(text []byte) error {
	parsed, err := NewSaltFromHex(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DeploymentRecord is one committed registry entry, as persisted in the journal.
type DeploymentRecord struct {
	Index        uint64         `json:"index"`
	Identity     common.Address `json:"identity"`
	Address      common.Address `json:"address"`
	Salt         Salt           `json:"salt"`
	InitCodeHash common.Hash    `json:"init_code_hash"`
	Factory      common.Address `json:"factory"`
	Deployer     common.Address `json:"deployer"`
	Timestamp    time.Time      `json:"timestamp"`
}

// DeploymentEvent is published for off-chain indexers after every successful deployment.
type DeploymentEvent struct {
	Identity common.Address
	Address  common.Address
	Salt     Salt
	Index    uint64
}

// CreateRequest carries the inputs of a registry deployment.
type CreateRequest struct {
	// Caller is the authenticated principal invoking the deployment.
	Caller common.Address

	// Identity is the key the caller claims the new instance is for.
	Identity common.Address

	// InitCode is the construction payload, including ABI-encoded constructor arguments.
	InitCode []byte

	// Salt is mixed into the deterministic address.
	Salt Salt

	// Value is forwarded to the constructor. May be nil.
	Value *big.Int

	// GasLimit bounds construction. Zero lets the executor choose.
	GasLimit uint64
}
