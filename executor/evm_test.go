package executor

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEVM(t *testing.T) *EVMExecutor {
	t.Helper()
	exec, err := NewEVMExecutor(EVMConfig{})
	require.NoError(t, err)
	return exec
}

func constructionFor(exec *EVMExecutor, salt interfaces.Salt, initCode []byte) interfaces.ConstructionRequest {
	return interfaces.ConstructionRequest{
		Target:   crypto.CreateAddress2(exec.FactoryAddress(), salt, crypto.Keccak256(initCode)),
		InitCode: initCode,
		Salt:     salt,
	}
}

func TestEVMExecutor_FactoryDeployment(t *testing.T) {
	exec := newTestEVM(t)

	assert.Equal(t, crypto.CreateAddress(DefaultSandboxOrigin, 0), exec.FactoryAddress())
	assert.NotEmpty(t, exec.Code(exec.FactoryAddress()))
	assert.Equal(t, DefaultSandboxOrigin, exec.Origin())
}

func TestEVMExecutor_ConstructAtPredictedAddress(t *testing.T) {
	exec := newTestEVM(t)
	identity := common.HexToAddress("0x1111111111111111111111111111111111111111")
	initCode := IdentityChildInitCode(identity)
	salt := interfaces.Salt{0x01}

	req := constructionFor(exec, salt, initCode)
	instance, err := exec.Construct(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, req.Target, instance.Address())
	assert.NotEmpty(t, exec.Code(req.Target))

	reported, err := instance.ReportedIdentity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, identity, reported)
}

func TestEVMExecutor_SaltReuse(t *testing.T) {
	exec := newTestEVM(t)
	initCode := IdentityChildInitCode(common.HexToAddress("0x2222222222222222222222222222222222222222"))
	salt := interfaces.Salt{0x02}

	_, err := exec.Construct(context.Background(), constructionFor(exec, salt, initCode))
	require.NoError(t, err)

	_, err = exec.Construct(context.Background(), constructionFor(exec, salt, initCode))
	assert.ErrorIs(t, err, interfaces.ErrEmptyDeployment)

	// A different salt lands at a different address.
	other := interfaces.Salt{0x03}
	instance, err := exec.Construct(context.Background(), constructionFor(exec, other, initCode))
	require.NoError(t, err)
	assert.NotEqual(t, constructionFor(exec, salt, initCode).Target, instance.Address())
}

func TestEVMExecutor_RevertingConstructor(t *testing.T) {
	exec := newTestEVM(t)
	initCode := IdentityChildInitCode(common.Address{})
	req := constructionFor(exec, interfaces.Salt{}, initCode)

	_, err := exec.Construct(context.Background(), req)
	assert.ErrorIs(t, err, interfaces.ErrEmptyDeployment)
	assert.Empty(t, exec.Code(req.Target))
}

func TestEVMExecutor_GasExhaustion(t *testing.T) {
	exec := newTestEVM(t)
	initCode := IdentityChildInitCode(common.HexToAddress("0x3333333333333333333333333333333333333333"))
	req := constructionFor(exec, interfaces.Salt{}, initCode)
	req.GasLimit = 30_000

	_, err := exec.Construct(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, exec.Code(req.Target))

	// The same salt is still usable with enough gas.
	req.GasLimit = 0
	instance, err := exec.Construct(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.Target, instance.Address())
}

func TestEVMExecutor_ValueForwarding(t *testing.T) {
	exec := newTestEVM(t)
	initCode := IdentityChildInitCode(common.HexToAddress("0x4444444444444444444444444444444444444444"))
	req := constructionFor(exec, interfaces.Salt{0x04}, initCode)
	req.Value = big.NewInt(1000)

	// Origin has no funds yet.
	_, err := exec.Construct(context.Background(), req)
	require.Error(t, err)

	require.NoError(t, exec.Fund(exec.Origin(), big.NewInt(5000)))
	instance, err := exec.Construct(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(1000), exec.Balance(instance.Address()))
	assert.Equal(t, big.NewInt(4000), exec.Balance(exec.Origin()))
	assert.Zero(t, exec.Balance(exec.FactoryAddress()).Sign())
}

func TestEVMExecutor_OriginBalance(t *testing.T) {
	exec, err := NewEVMExecutor(EVMConfig{OriginBalance: big.NewInt(1_000_000)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_000_000), exec.Balance(exec.Origin()))

	req := constructionFor(exec, interfaces.Salt{0x05}, IdentityChildInitCode(common.HexToAddress("0x5555555555555555555555555555555555555555")))
	req.Value = big.NewInt(1)
	instance, err := exec.Construct(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), exec.Balance(instance.Address()))

	_, err = NewEVMExecutor(EVMConfig{OriginBalance: big.NewInt(-1)})
	assert.Error(t, err)
}

func TestEVMExecutor_NegativeValue(t *testing.T) {
	exec := newTestEVM(t)
	req := constructionFor(exec, interfaces.Salt{}, IdentityChildInitCode(common.HexToAddress("0x01")))
	req.Value = big.NewInt(-1)

	_, err := exec.Construct(context.Background(), req)
	assert.Error(t, err)
	assert.Error(t, exec.Fund(exec.Origin(), big.NewInt(-1)))
}

func TestEVMExecutor_IdentityOfCodelessAccount(t *testing.T) {
	exec := newTestEVM(t)
	instance := &evmInstance{exec: exec, address: common.HexToAddress("0xdead")}

	// An empty account returns no data, which cannot be decoded as an address.
	_, err := instance.ReportedIdentity(context.Background())
	assert.Error(t, err)
}

func TestEVMExecutor_CancelledContext(t *testing.T) {
	exec := newTestEVM(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Construct(ctx, constructionFor(exec, interfaces.Salt{}, IdentityChildInitCode(common.HexToAddress("0x01"))))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewIdentityQuery(t *testing.T) {
	query, err := NewIdentityQuery("")
	require.NoError(t, err)
	assert.Equal(t, DefaultIdentityMethod, query.Method())

	calldata, err := query.Calldata()
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256([]byte("erc20()"))[:4], calldata)

	identity := common.HexToAddress("0x5555555555555555555555555555555555555555")
	decoded, err := query.Decode(common.LeftPadBytes(identity.Bytes(), 32))
	require.NoError(t, err)
	assert.Equal(t, identity, decoded)

	_, err = query.Decode(nil)
	assert.Error(t, err)

	_, err = NewIdentityQuery("not a method")
	assert.Error(t, err)

	custom, err := NewIdentityQuery("token")
	require.NoError(t, err)
	calldata, err = custom.Calldata()
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256([]byte("token()"))[:4], calldata)
}
