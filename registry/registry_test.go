package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/create2-factory-registry/executor"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/ruteri/create2-factory-registry/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var (
	testOwner   = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	testFactory = common.HexToAddress("0x0000000000000000000000000000000000000fac")
	identityA   = common.HexToAddress("0x0000000000000000000000000000000000000aaa")
	identityB   = common.HexToAddress("0x0000000000000000000000000000000000000bbb")
	identityC   = common.HexToAddress("0x0000000000000000000000000000000000000ccc")
	identityD   = common.HexToAddress("0x0000000000000000000000000000000000000ddd")
	fixedTime   = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newMockRegistry(t *testing.T, journal interfaces.DeploymentJournal) (*Registry, *MockExecutor) {
	t.Helper()
	exec := &MockExecutor{Factory: testFactory}
	cfg := Config{
		Owner:    testOwner,
		Executor: exec,
		Now:      func() time.Time { return fixedTime },
	}
	if journal != nil {
		cfg.Journal = journal
	}
	reg, err := New(cfg)
	require.NoError(t, err)
	return reg, exec
}

// expectDeployment wires the mock executor to produce an instance at the CREATE2
// address of (salt, initCode) reporting the given identity.
func expectDeployment(exec *MockExecutor, salt interfaces.Salt, initCode []byte, reported common.Address) common.Address {
	target := PredictAddress(exec.Factory, salt, initCode)
	instance := &MockInstance{Addr: target}
	instance.On("ReportedIdentity", mock.Anything).Return(reported, nil)
	exec.On("Construct", mock.Anything, mock.MatchedBy(func(req interfaces.ConstructionRequest) bool {
		return req.Target == target && req.Salt == salt
	})).Return(instance, nil).Once()
	return target
}

func createReq(identity common.Address, salt interfaces.Salt, initCode []byte) interfaces.CreateRequest {
	return interfaces.CreateRequest{
		Caller:   testOwner,
		Identity: identity,
		InitCode: initCode,
		Salt:     salt,
	}
}

func TestPredictAddress(t *testing.T) {
	initCode := []byte{0x60, 0x00, 0x60, 0x00, 0xf3}
	salt := interfaces.Salt{0x01}

	expected := crypto.CreateAddress2(testFactory, salt, crypto.Keccak256(initCode))
	assert.Equal(t, expected, PredictAddress(testFactory, salt, initCode))
	assert.Equal(t, common.BytesToHash(crypto.Keccak256(initCode)), InitCodeHash(initCode))

	// EIP-1014 example 0: zero factory, zero salt, init code 0x00.
	assert.Equal(t,
		common.HexToAddress("0x4D1A2e2bB4F88F0250f26Ffff098B0b30B26BF38"),
		PredictAddress(common.Address{}, interfaces.Salt{}, []byte{0x00}))

	assert.NotEqual(t, PredictAddress(testFactory, salt, initCode), PredictAddress(testFactory, interfaces.Salt{0x02}, initCode))
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Owner: testOwner})
	assert.Error(t, err)

	_, err = New(Config{Executor: &MockExecutor{}})
	assert.Error(t, err)
}

func TestRegistry_EmptyState(t *testing.T) {
	reg, _ := newMockRegistry(t, nil)

	assert.Equal(t, 0, reg.Length())
	assert.Empty(t, reg.All())

	_, err := reg.Last()
	assert.ErrorIs(t, err, ErrNoInstancesDeployed)

	_, err = reg.At(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, ok := reg.ByIdentity(identityA)
	assert.False(t, ok)

	assert.Equal(t, testOwner, reg.Owner())
	assert.Equal(t, testFactory, reg.FactoryAddress())
}

func TestRegistry_DeployTwoInstances(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()

	initA := []byte("instance-a")
	initB := []byte("instance-b")
	s1 := interfaces.Salt{0x01}
	s2 := interfaces.Salt{0x02}

	expectedA := expectDeployment(exec, s1, initA, identityA)
	expectedB := expectDeployment(exec, s2, initB, identityB)

	a, err := reg.Create(ctx, createReq(identityA, s1, initA))
	require.NoError(t, err)
	assert.Equal(t, expectedA, a)
	assert.Equal(t, reg.PredictAddress(s1, initA), a)

	assert.Equal(t, 1, reg.Length())
	last, err := reg.Last()
	require.NoError(t, err)
	assert.Equal(t, a, last)
	got, ok := reg.ByIdentity(identityA)
	require.True(t, ok)
	assert.Equal(t, a, got)

	b, err := reg.Create(ctx, createReq(identityB, s2, initB))
	require.NoError(t, err)
	assert.Equal(t, expectedB, b)

	assert.Equal(t, 2, reg.Length())
	last, err = reg.Last()
	require.NoError(t, err)
	assert.Equal(t, b, last)
	got, ok = reg.ByIdentity(identityA)
	require.True(t, ok)
	assert.Equal(t, a, got)

	first, err := reg.At(0)
	require.NoError(t, err)
	assert.Equal(t, a, first)
	second, err := reg.At(1)
	require.NoError(t, err)
	assert.Equal(t, b, second)
	_, err = reg.At(2)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	assert.Equal(t, []common.Address{a, b}, reg.All())
	exec.AssertExpectations(t)
}

func TestRegistry_IdentityOverwrite(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()

	first := expectDeployment(exec, interfaces.Salt{0x01}, []byte("v1"), identityA)
	second := expectDeployment(exec, interfaces.Salt{0x02}, []byte("v2"), identityA)

	_, err := reg.Create(ctx, createReq(identityA, interfaces.Salt{0x01}, []byte("v1")))
	require.NoError(t, err)
	_, err = reg.Create(ctx, createReq(identityA, interfaces.Salt{0x02}, []byte("v2")))
	require.NoError(t, err)

	got, ok := reg.ByIdentity(identityA)
	require.True(t, ok)
	assert.Equal(t, second, got)
	assert.Equal(t, []common.Address{first, second}, reg.All())
}

func TestRegistry_Unauthorized(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)

	req := createReq(identityA, interfaces.Salt{}, []byte("code"))
	req.Caller = common.HexToAddress("0xbad")

	_, err := reg.Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, reg.Length())
	exec.AssertNotCalled(t, "Construct", mock.Anything, mock.Anything)
}

func TestRegistry_InputValidation(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()

	_, err := reg.Create(ctx, createReq(common.Address{}, interfaces.Salt{}, []byte("code")))
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	_, err = reg.Create(ctx, createReq(identityA, interfaces.Salt{}, nil))
	assert.ErrorIs(t, err, ErrEmptyInitCode)

	assert.Equal(t, 0, reg.Length())
	exec.AssertNotCalled(t, "Construct", mock.Anything, mock.Anything)
}

func TestRegistry_DeployFailed(t *testing.T) {
	ctx := context.Background()
	initCode := []byte("reverts")
	salt := interfaces.Salt{0x07}

	testCases := []struct {
		name  string
		setup func(exec *MockExecutor)
	}{
		{
			name: "executor error",
			setup: func(exec *MockExecutor) {
				exec.On("Construct", mock.Anything, mock.Anything).
					Return(nil, fmt.Errorf("%w: reverted", interfaces.ErrEmptyDeployment))
			},
		},
		{
			name: "nil instance",
			setup: func(exec *MockExecutor) {
				exec.On("Construct", mock.Anything, mock.Anything).Return(nil, nil)
			},
		},
		{
			name: "instance at unexpected address",
			setup: func(exec *MockExecutor) {
				exec.On("Construct", mock.Anything, mock.Anything).
					Return(&MockInstance{Addr: common.HexToAddress("0x1234")}, nil)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg, exec := newMockRegistry(t, nil)
			tc.setup(exec)

			events := make(chan interfaces.DeploymentEvent, 1)
			sub := reg.SubscribeDeployments(events)
			defer sub.Unsubscribe()

			_, err := reg.Create(ctx, createReq(identityA, salt, initCode))
			assert.ErrorIs(t, err, ErrDeployFailed)
			assert.Equal(t, 0, reg.Length())
			_, ok := reg.ByIdentity(identityA)
			assert.False(t, ok)

			select {
			case ev := <-events:
				t.Fatalf("unexpected event %+v", ev)
			default:
			}
		})
	}
}

func TestRegistry_AddressCollision(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()
	salt := interfaces.Salt{0x09}
	initCode := []byte("same")

	expectDeployment(exec, salt, initCode, identityA)
	_, err := reg.Create(ctx, createReq(identityA, salt, initCode))
	require.NoError(t, err)

	_, err = reg.Create(ctx, createReq(identityB, salt, initCode))
	assert.ErrorIs(t, err, ErrDeployFailed)
	assert.Equal(t, 1, reg.Length())
	exec.AssertNumberOfCalls(t, "Construct", 1)
}

func TestRegistry_IdentityMismatch(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()

	expectDeployment(exec, interfaces.Salt{0x0c}, []byte("reports-ddd"), identityD)

	_, err := reg.Create(ctx, createReq(identityC, interfaces.Salt{0x0c}, []byte("reports-ddd")))
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.Equal(t, 0, reg.Length())
	_, ok := reg.ByIdentity(identityC)
	assert.False(t, ok)
	_, ok = reg.ByIdentity(identityD)
	assert.False(t, ok)
}

func TestRegistry_IdentityQueryError(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	initCode := []byte("no-getter")
	target := PredictAddress(testFactory, interfaces.Salt{}, initCode)

	instance := &MockInstance{Addr: target}
	instance.On("ReportedIdentity", mock.Anything).Return(common.Address{}, errors.New("execution reverted"))
	exec.On("Construct", mock.Anything, mock.Anything).Return(instance, nil)

	_, err := reg.Create(context.Background(), createReq(identityA, interfaces.Salt{}, initCode))
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	assert.Equal(t, 0, reg.Length())
}

func TestRegistry_LengthCountsOnlySuccesses(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		salt := interfaces.Salt{byte(i + 1)}
		expectDeployment(exec, salt, []byte("ok"), identityA)
		_, err := reg.Create(ctx, createReq(identityA, salt, []byte("ok")))
		require.NoError(t, err)
	}

	expectDeployment(exec, interfaces.Salt{0xee}, []byte("wrong"), identityD)
	_, err := reg.Create(ctx, createReq(identityC, interfaces.Salt{0xee}, []byte("wrong")))
	require.ErrorIs(t, err, ErrIdentityMismatch)

	req := createReq(identityA, interfaces.Salt{0xef}, []byte("ok"))
	req.Caller = identityB
	_, err = reg.Create(ctx, req)
	require.ErrorIs(t, err, ErrUnauthorized)

	assert.Equal(t, 3, reg.Length())
}

func TestRegistry_DeploymentEvents(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	salt := interfaces.Salt{0x05}
	target := expectDeployment(exec, salt, []byte("evt"), identityA)

	events := make(chan interfaces.DeploymentEvent, 1)
	sub := reg.SubscribeDeployments(events)
	defer sub.Unsubscribe()

	_, err := reg.Create(context.Background(), createReq(identityA, salt, []byte("evt")))
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, interfaces.DeploymentEvent{Identity: identityA, Address: target, Salt: salt, Index: 0}, ev)
	case <-time.After(time.Second):
		t.Fatal("no deployment event")
	}
}

func TestRegistry_StalledSubscriberDoesNotBlock(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()

	events := make(chan interfaces.DeploymentEvent)
	sub := reg.SubscribeDeployments(events)
	defer sub.Unsubscribe()

	var targets []common.Address
	for i := byte(0); i < 3; i++ {
		targets = append(targets, expectDeployment(exec, interfaces.Salt{0x60 + i}, []byte{i}, identityA))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := byte(0); i < 3; i++ {
			_, err := reg.Create(ctx, createReq(identityA, interfaces.Salt{0x60 + i}, []byte{i}))
			assert.NoError(t, err)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Create blocked on a subscriber that is not reading")
	}
	assert.Equal(t, 3, reg.Length())

	// Queued events arrive in commit order once the subscriber reads.
	for i, target := range targets {
		select {
		case ev := <-events:
			assert.Equal(t, target, ev.Address)
			assert.Equal(t, uint64(i), ev.Index)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestRegistry_JournalAppend(t *testing.T) {
	journal := &MockJournal{}
	reg, exec := newMockRegistry(t, journal)
	salt := interfaces.Salt{0x0a}
	initCode := []byte("journaled")
	target := expectDeployment(exec, salt, initCode, identityA)

	journal.On("Append", mock.Anything, interfaces.DeploymentRecord{
		Index:        0,
		Identity:     identityA,
		Address:      target,
		Salt:         salt,
		InitCodeHash: InitCodeHash(initCode),
		Factory:      testFactory,
		Deployer:     testOwner,
		Timestamp:    fixedTime,
	}).Return(nil).Once()

	_, err := reg.Create(context.Background(), createReq(identityA, salt, initCode))
	require.NoError(t, err)
	journal.AssertExpectations(t)
}

func TestRegistry_JournalFailureLeavesStateUnchanged(t *testing.T) {
	journal := &MockJournal{}
	reg, exec := newMockRegistry(t, journal)
	salt := interfaces.Salt{0x0b}
	expectDeployment(exec, salt, []byte("lost"), identityA)
	journal.On("Append", mock.Anything, mock.Anything).Return(interfaces.ErrBackendUnavailable)

	_, err := reg.Create(context.Background(), createReq(identityA, salt, []byte("lost")))
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, 0, reg.Length())
	_, ok := reg.ByIdentity(identityA)
	assert.False(t, ok)
}

func TestOpen_ReplaysJournal(t *testing.T) {
	a := common.HexToAddress("0xa1")
	b := common.HexToAddress("0xb1")
	c := common.HexToAddress("0xa2")

	journal := &MockJournal{}
	journal.On("Load", mock.Anything).Return([]interfaces.DeploymentRecord{
		{Index: 0, Identity: identityA, Address: a, Factory: testFactory},
		{Index: 1, Identity: identityB, Address: b, Factory: testFactory},
		{Index: 2, Identity: identityA, Address: c, Factory: testFactory},
	}, nil)

	reg, err := Open(context.Background(), Config{
		Owner:    testOwner,
		Executor: &MockExecutor{Factory: testFactory},
		Journal:  journal,
	})
	require.NoError(t, err)

	assert.Equal(t, []common.Address{a, b, c}, reg.All())
	got, ok := reg.ByIdentity(identityA)
	require.True(t, ok)
	assert.Equal(t, c, got)
	last, err := reg.Last()
	require.NoError(t, err)
	assert.Equal(t, c, last)

	index, ok := reg.IndexOf(b)
	require.True(t, ok)
	assert.Equal(t, uint64(1), index)
	_, ok = reg.IndexOf(identityA)
	assert.False(t, ok)
}

func TestOpen_CorruptJournal(t *testing.T) {
	testCases := []struct {
		name    string
		records []interfaces.DeploymentRecord
	}{
		{
			name: "index gap",
			records: []interfaces.DeploymentRecord{
				{Index: 0, Identity: identityA, Address: common.HexToAddress("0x01"), Factory: testFactory},
				{Index: 2, Identity: identityB, Address: common.HexToAddress("0x02"), Factory: testFactory},
			},
		},
		{
			name: "foreign factory",
			records: []interfaces.DeploymentRecord{
				{Index: 0, Identity: identityA, Address: common.HexToAddress("0x01"), Factory: common.HexToAddress("0x99")},
			},
		},
		{
			name: "duplicate address",
			records: []interfaces.DeploymentRecord{
				{Index: 0, Identity: identityA, Address: common.HexToAddress("0x01"), Factory: testFactory},
				{Index: 1, Identity: identityB, Address: common.HexToAddress("0x01"), Factory: testFactory},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			journal := &MockJournal{}
			journal.On("Load", mock.Anything).Return(tc.records, nil)

			_, err := Open(context.Background(), Config{
				Owner:    testOwner,
				Executor: &MockExecutor{Factory: testFactory},
				Journal:  journal,
			})
			assert.ErrorIs(t, err, ErrCorruptJournal)
		})
	}
}

func TestOpen_LoadError(t *testing.T) {
	journal := &MockJournal{}
	journal.On("Load", mock.Anything).Return(nil, interfaces.ErrBackendUnavailable)

	_, err := Open(context.Background(), Config{
		Owner:    testOwner,
		Executor: &MockExecutor{Factory: testFactory},
		Journal:  journal,
	})
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
}

func TestRegistry_ConcurrentReaders(t *testing.T) {
	reg, exec := newMockRegistry(t, nil)
	ctx := context.Background()

	const deployments = 20
	for i := 0; i < deployments; i++ {
		expectDeployment(exec, interfaces.Salt{byte(i)}, []byte("c"), identityA)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < deployments; i++ {
			_, err := reg.Create(ctx, createReq(identityA, interfaces.Salt{byte(i)}, []byte("c")))
			assert.NoError(t, err)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				n := reg.Length()
				if n == 0 {
					continue
				}
				_, err := reg.At(uint64(n - 1))
				assert.NoError(t, err)
				_, err = reg.Last()
				assert.NoError(t, err)
				_, ok := reg.ByIdentity(identityA)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, deployments, reg.Length())
	last, err := reg.Last()
	require.NoError(t, err)
	got, _ := reg.ByIdentity(identityA)
	assert.Equal(t, last, got)
}

func TestRegistry_WithEVMExecutor(t *testing.T) {
	exec, err := executor.NewEVMExecutor(executor.EVMConfig{})
	require.NoError(t, err)

	reg, err := New(Config{Owner: testOwner, Executor: exec})
	require.NoError(t, err)
	ctx := context.Background()

	initA := executor.IdentityChildInitCode(identityA)
	s1 := interfaces.Salt{0x01}

	// Prediction is independent of the call.
	predicted := crypto.CreateAddress2(exec.FactoryAddress(), s1, crypto.Keccak256(initA))
	a, err := reg.Create(ctx, createReq(identityA, s1, initA))
	require.NoError(t, err)
	assert.Equal(t, predicted, a)

	// Salt reuse collides.
	_, err = reg.Create(ctx, createReq(identityA, s1, initA))
	assert.ErrorIs(t, err, ErrDeployFailed)

	// Reverting constructor.
	_, err = reg.Create(ctx, createReq(identityB, interfaces.Salt{0x02}, executor.IdentityChildInitCode(common.Address{})))
	assert.ErrorIs(t, err, ErrDeployFailed)

	// Init code reporting 0xDDD registered as 0xCCC.
	mismatched := executor.IdentityChildInitCode(identityD)
	_, err = reg.Create(ctx, createReq(identityC, interfaces.Salt{0x03}, mismatched))
	assert.ErrorIs(t, err, ErrIdentityMismatch)
	_, ok := reg.ByIdentity(identityC)
	assert.False(t, ok)
	// The orphaned instance stays deployed.
	assert.NotEmpty(t, exec.Code(reg.PredictAddress(interfaces.Salt{0x03}, mismatched)))

	// Gas exhaustion.
	req := createReq(identityB, interfaces.Salt{0x04}, executor.IdentityChildInitCode(identityB))
	req.GasLimit = 30_000
	_, err = reg.Create(ctx, req)
	assert.ErrorIs(t, err, ErrDeployFailed)

	// Value forwarding.
	require.NoError(t, exec.Fund(exec.Origin(), big.NewInt(1_000_000)))
	req.GasLimit = 0
	req.Value = big.NewInt(777)
	b, err := reg.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(777), exec.Balance(b))

	assert.Equal(t, []common.Address{a, b}, reg.All())
}

func TestOpen_FileJournalRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	openRegistry := func() *Registry {
		backend, err := storage.NewFileBackend(dir, nil)
		require.NoError(t, err)
		exec, err := executor.NewEVMExecutor(executor.EVMConfig{})
		require.NoError(t, err)

		reg, err := Open(ctx, Config{
			Owner:    testOwner,
			Executor: exec,
			Journal:  storage.NewJournal(backend, nil),
		})
		require.NoError(t, err)
		return reg
	}

	reg := openRegistry()
	first, err := reg.Create(ctx, createReq(identityA, interfaces.Salt{0x01}, executor.IdentityChildInitCode(identityA)))
	require.NoError(t, err)
	second, err := reg.Create(ctx, createReq(identityB, interfaces.Salt{0x02}, executor.IdentityChildInitCode(identityB)))
	require.NoError(t, err)

	restarted := openRegistry()
	assert.Equal(t, []common.Address{first, second}, restarted.All())
	got, ok := restarted.ByIdentity(identityB)
	require.True(t, ok)
	assert.Equal(t, second, got)

	// New deployments continue the journal after the replayed entries.
	third, err := restarted.Create(ctx, createReq(identityC, interfaces.Salt{0x03}, executor.IdentityChildInitCode(identityC)))
	require.NoError(t, err)
	index, ok := restarted.IndexOf(third)
	require.True(t, ok)
	assert.Equal(t, uint64(2), index)

	assert.Equal(t, 3, openRegistry().Length())
}

// switchableBackend takes a replica offline or makes its writes fail.
type switchableBackend struct {
	interfaces.StorageBackend
	down      atomic.Bool
	failStore atomic.Bool
}

func (b *switchableBackend) Available(ctx context.Context) bool {
	return !b.down.Load() && b.StorageBackend.Available(ctx)
}

func (b *switchableBackend) Fetch(ctx context.Context, key string) ([]byte, error) {
	if b.down.Load() {
		return nil, interfaces.ErrBackendUnavailable
	}
	return b.StorageBackend.Fetch(ctx, key)
}

func (b *switchableBackend) Store(ctx context.Context, key string, data []byte) error {
	if b.down.Load() || b.failStore.Load() {
		return fmt.Errorf("%w: %s", interfaces.ErrBackendUnavailable, b.Name())
	}
	return b.StorageBackend.Store(ctx, key, data)
}

func TestOpen_ReplicatedJournalSurvivesReplicaOutages(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	newReplica := func(name string) *switchableBackend {
		backend, err := storage.NewFileBackend(filepath.Join(dir, name), discardLog)
		require.NoError(t, err)
		return &switchableBackend{StorageBackend: backend}
	}
	a, b := newReplica("a"), newReplica("b")

	exec, err := executor.NewEVMExecutor(executor.EVMConfig{Log: discardLog})
	require.NoError(t, err)
	open := func() (*Registry, error) {
		multi := storage.NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, discardLog)
		return Open(ctx, Config{
			Owner:    testOwner,
			Executor: exec,
			Journal:  storage.NewJournal(multi, discardLog),
			Log:      discardLog,
		})
	}
	create := func(reg *Registry, identity common.Address, salt byte) (common.Address, error) {
		return reg.Create(ctx, createReq(identity, interfaces.Salt{salt}, executor.IdentityChildInitCode(identity)))
	}

	// A deployment is not confirmed unless every replica journaled it.
	b.down.Store(true)
	reg, err := open()
	require.NoError(t, err)
	_, err = create(reg, identityA, 0x01)
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.Equal(t, 0, reg.Length())

	b.down.Store(false)
	confirmed, err := create(reg, identityB, 0x02)
	require.NoError(t, err)

	// Restart with the other replica down: the confirmed deployment is still there
	// and nothing new can be committed.
	a.down.Store(true)
	reg, err = open()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{confirmed}, reg.All())
	_, err = create(reg, identityC, 0x03)
	assert.ErrorIs(t, err, ErrCommitFailed)

	a.down.Store(false)
	reg, err = open()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{confirmed}, reg.All())
	got, ok := reg.ByIdentity(identityB)
	require.True(t, ok)
	assert.Equal(t, confirmed, got)
	_, ok = reg.ByIdentity(identityC)
	assert.False(t, ok)

	// A write that reached only one replica leaves the replicas disagreeing.
	b.failStore.Store(true)
	_, err = create(reg, identityD, 0x04)
	assert.ErrorIs(t, err, ErrCommitFailed)
	_, err = open()
	assert.ErrorIs(t, err, ErrCorruptJournal)

	// The next commit at that index rewrites the unacknowledged record everywhere.
	b.failStore.Store(false)
	repaired, err := create(reg, identityA, 0x05)
	require.NoError(t, err)

	reg, err = open()
	require.NoError(t, err)
	assert.Equal(t, []common.Address{confirmed, repaired}, reg.All())
}

func TestOpen_DivergentReplicas(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := storage.NewFileBackend(filepath.Join(dir, "a"), discardLog)
	require.NoError(t, err)
	b, err := storage.NewFileBackend(filepath.Join(dir, "b"), discardLog)
	require.NoError(t, err)

	record := func(address common.Address) interfaces.DeploymentRecord {
		return interfaces.DeploymentRecord{Index: 0, Identity: identityA, Address: address, Factory: testFactory}
	}
	require.NoError(t, storage.NewJournal(a, discardLog).Append(ctx, record(common.HexToAddress("0x01"))))
	require.NoError(t, storage.NewJournal(b, discardLog).Append(ctx, record(common.HexToAddress("0x02"))))

	_, err = Open(ctx, Config{
		Owner:    testOwner,
		Executor: &MockExecutor{Factory: testFactory},
		Journal:  storage.NewJournal(storage.NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, discardLog), discardLog),
	})
	assert.ErrorIs(t, err, ErrCorruptJournal)
	assert.ErrorIs(t, err, interfaces.ErrReplicaDivergence)
}
