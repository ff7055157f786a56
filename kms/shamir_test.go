package kms

import (
	"crypto/ecdsa"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShareholders(t *testing.T, n int) []common.Address {
	t.Helper()
	holders := make([]common.Address, n)
	for i := range holders {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		holders[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	return holders
}

func splitTestKey(t *testing.T, parts, threshold int) (*ecdsa.PrivateKey, [][]byte) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	shares, err := SplitKey(key, parts, threshold)
	require.NoError(t, err)
	return key, shares
}

func TestSplitKey_Validation(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = SplitKey(key, 5, 6)
	assert.Error(t, err, "Should fail when threshold > total shares")

	_, err = SplitKey(key, 5, 1)
	assert.Error(t, err, "Should fail when threshold < 2")

	shares, err := SplitKey(key, 5, 3)
	require.NoError(t, err)
	assert.Len(t, shares, 5)
}

func TestNewShamirKMSRecovery_Validation(t *testing.T) {
	_, err := NewShamirKMSRecovery(ShamirConfig{Threshold: 1, Shareholders: newShareholders(t, 3)})
	assert.Error(t, err)

	_, err = NewShamirKMSRecovery(ShamirConfig{Threshold: 3, Shareholders: newShareholders(t, 2)})
	assert.Error(t, err)

	_, err = NewShamirKMSRecovery(ShamirConfig{Threshold: 2, Shareholders: []common.Address{{}, {0x01}}})
	assert.Error(t, err)

	k, err := NewShamirKMSRecovery(ShamirConfig{Threshold: 2, Shareholders: newShareholders(t, 3)})
	require.NoError(t, err)
	assert.False(t, k.IsUnlocked(), "KMS should start in locked state")
	_, err = k.DeployerKey()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestShamirKMS_ShareSubmission(t *testing.T) {
	key, shares := splitTestKey(t, 5, 3)
	holders := newShareholders(t, 5)

	k, err := NewShamirKMSRecovery(ShamirConfig{
		Threshold:    3,
		Shareholders: holders,
		Deployer:     crypto.PubkeyToAddress(key.PublicKey),
	})
	require.NoError(t, err)

	err = k.SubmitShare(common.Address{0x99}, shares[0])
	assert.ErrorIs(t, err, ErrUnknownShareholder)

	require.NoError(t, k.SubmitShare(holders[0], shares[0]))
	// Resubmission replaces rather than counts twice.
	require.NoError(t, k.SubmitShare(holders[0], shares[0]))
	needed, received := k.Threshold()
	assert.Equal(t, 3, needed)
	assert.Equal(t, 1, received)

	require.NoError(t, k.SubmitShare(holders[2], shares[2]))
	assert.False(t, k.IsUnlocked())

	require.NoError(t, k.SubmitShare(holders[4], shares[4]))
	require.True(t, k.IsUnlocked())

	rebuilt, err := k.DeployerKey()
	require.NoError(t, err)
	assert.Equal(t, crypto.FromECDSA(key), crypto.FromECDSA(rebuilt))

	_, received = k.Threshold()
	assert.Equal(t, 0, received, "shares are wiped after reconstruction")

	err = k.SubmitShare(holders[1], shares[1])
	assert.ErrorIs(t, err, ErrAlreadyUnlocked)
}

func TestShamirKMS_WrongShares(t *testing.T) {
	key, shares := splitTestKey(t, 3, 2)
	_, foreign := splitTestKey(t, 3, 2)
	holders := newShareholders(t, 3)

	k, err := NewShamirKMSRecovery(ShamirConfig{
		Threshold:    2,
		Shareholders: holders,
		Deployer:     crypto.PubkeyToAddress(key.PublicKey),
	})
	require.NoError(t, err)

	// Mixing shares of a different key rebuilds garbage, which the expected
	// deployer address catches.
	require.NoError(t, k.SubmitShare(holders[0], shares[0]))
	err = k.SubmitShare(holders[1], foreign[1])
	assert.Error(t, err)
	assert.False(t, k.IsUnlocked())

	_, received := k.Threshold()
	assert.Equal(t, 0, received)

	// A clean retry succeeds.
	require.NoError(t, k.SubmitShare(holders[1], shares[1]))
	require.NoError(t, k.SubmitShare(holders[2], shares[2]))
	assert.True(t, k.IsUnlocked())
}
