package kms

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hashicorp/vault/shamir"
)

var (
	ErrLocked              = errors.New("deployer key is locked: need more shares")
	ErrAlreadyUnlocked     = errors.New("deployer key is already unlocked")
	ErrUnknownShareholder  = errors.New("not a registered shareholder")
	ErrDeployerKeyMismatch = errors.New("reconstructed key does not match the expected deployer")
)

// ShamirConfig contains configuration parameters for a ShamirKMS.
type ShamirConfig struct {
	// Threshold is the minimum number of shares required to rebuild the key.
	Threshold int

	// Shareholders are the accounts allowed to submit shares.
	Shareholders []common.Address

	// Deployer, when set, is the address the rebuilt key must control.
	Deployer common.Address
}

// ShamirKMS holds the deployer key once enough shares have been submitted.
type ShamirKMS struct {
	mu             sync.RWMutex
	key            *ecdsa.PrivateKey
	threshold      int
	expected       common.Address
	shareholders   map[common.Address]struct{}
	receivedShares map[common.Address][]byte
}

// SplitKey splits key into parts shares, any threshold of which rebuild it.
func SplitKey(key *ecdsa.PrivateKey, parts, threshold int) ([][]byte, error) {
	if threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if parts < threshold {
		return nil, errors.New("total shares must be at least equal to threshold")
	}

	secret := crypto.FromECDSA(key)
	defer wipeBytes(secret)

	shares, err := shamir.Split(secret, parts, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split deployer key: %w", err)
	}
	return shares, nil
}

// NewShamirKMSRecovery creates a locked KMS waiting for shares.
func NewShamirKMSRecovery(config ShamirConfig) (*ShamirKMS, error) {
	if config.Threshold < 2 {
		return nil, errors.New("threshold must be at least 2")
	}
	if len(config.Shareholders) < config.Threshold {
		return nil, errors.New("shareholders must be at least equal to threshold")
	}

	k := &ShamirKMS{
		threshold:      config.Threshold,
		expected:       config.Deployer,
		shareholders:   make(map[common.Address]struct{}, len(config.Shareholders)),
		receivedShares: make(map[common.Address][]byte),
	}
	for _, holder := range config.Shareholders {
		if holder == (common.Address{}) {
			return nil, errors.New("invalid zero shareholder address")
		}
		k.shareholders[holder] = struct{}{}
	}
	return k, nil
}

// SubmitShare records the share of an authenticated shareholder. A holder
// submitting again replaces its earlier share. Once the threshold is met the key
// is rebuilt; a failed rebuild discards all collected shares.
func (k *ShamirKMS) SubmitShare(holder common.Address, share []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key != nil {
		return ErrAlreadyUnlocked
	}
	if _, ok := k.shareholders[holder]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShareholder, holder.Hex())
	}
	if len(share) == 0 {
		return errors.New("empty share")
	}

	k.receivedShares[holder] = append([]byte(nil), share...)
	return k.tryReconstruct()
}

func (k *ShamirKMS) tryReconstruct() error {
	if len(k.receivedShares) < k.threshold {
		return nil
	}

	shares := make([][]byte, 0, len(k.receivedShares))
	for _, share := range k.receivedShares {
		shares = append(shares, share)
	}
	defer k.resetShares()

	secret, err := shamir.Combine(shares)
	if err != nil {
		return fmt.Errorf("failed to reconstruct deployer key: %w", err)
	}
	defer wipeBytes(secret)

	key, err := crypto.ToECDSA(secret)
	if err != nil {
		return fmt.Errorf("failed to reconstruct deployer key: %w", err)
	}
	if k.expected != (common.Address{}) {
		if got := crypto.PubkeyToAddress(key.PublicKey); got != k.expected {
			return fmt.Errorf("%w: got %s, want %s", ErrDeployerKeyMismatch, got.Hex(), k.expected.Hex())
		}
	}

	k.key = key
	return nil
}

func (k *ShamirKMS) resetShares() {
	for holder := range k.receivedShares {
		wipeBytes(k.receivedShares[holder])
	}
	k.receivedShares = make(map[common.Address][]byte)
}

func (k *ShamirKMS) IsUnlocked() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.key != nil
}

// Threshold returns the number of shares needed and the number collected so far.
func (k *ShamirKMS) Threshold() (needed, received int) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.threshold, len(k.receivedShares)
}

// DeployerKey returns the rebuilt key.
func (k *ShamirKMS) DeployerKey() (*ecdsa.PrivateKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.key == nil {
		return nil, ErrLocked
	}
	return k.key, nil
}

// Securely wipe data from memory
func wipeBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
