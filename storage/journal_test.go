package storage

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/create2-factory-registry/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testRecord(index uint64) interfaces.DeploymentRecord {
	return interfaces.DeploymentRecord{
		Index:        index,
		Identity:     common.HexToAddress("0xaaa"),
		Address:      common.BigToAddress(new(big.Int).SetUint64(0x1000 + index)),
		Salt:         interfaces.Salt{byte(index)},
		InitCodeHash: common.HexToHash("0x1234"),
		Factory:      common.HexToAddress("0xfac"),
		Deployer:     common.HexToAddress("0xf0"),
		Timestamp:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestJournal_AppendAndLoad(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)
	journal := NewJournal(backend, discardLogger())
	ctx := context.Background()

	records, err := journal.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	for i := uint64(0); i < 3; i++ {
		require.NoError(t, journal.Append(ctx, testRecord(i)))
	}

	records, err = journal.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, record := range records {
		assert.Equal(t, testRecord(uint64(i)), record)
	}

	// A second journal over the same directory sees the same records.
	reopened := NewJournal(backend, nil)
	again, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, again)
}

func TestJournal_NoOverwrite(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir(), discardLogger())
	require.NoError(t, err)
	journal := NewJournal(backend, discardLogger())
	ctx := context.Background()

	require.NoError(t, journal.Append(ctx, testRecord(0)))
	err = journal.Append(ctx, testRecord(0))
	assert.ErrorIs(t, err, ErrRecordExists)
}

func TestJournal_RewritesUnacknowledgedRecord(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := NewFileBackend(filepath.Join(dir, "a"), discardLogger())
	require.NoError(t, err)
	b, err := NewFileBackend(filepath.Join(dir, "b"), discardLogger())
	require.NoError(t, err)

	flaky := &MockStorageBackend{name: "flaky"}
	flaky.On("Available", mock.Anything).Return(true)
	flaky.On("Fetch", mock.Anything, JournalKey(0)).Return(nil, interfaces.ErrContentNotFound).Once()
	flaky.On("Store", mock.Anything, JournalKey(0), mock.Anything).Return(interfaces.ErrBackendUnavailable).Once()

	journal := NewJournal(NewMultiStorageBackend([]interfaces.StorageBackend{a, flaky}, discardLogger()), discardLogger())
	err = journal.Append(ctx, testRecord(0))
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	flaky.AssertExpectations(t)

	// The record reached a only. The retry writes the new record over it.
	replacement := testRecord(0)
	replacement.Address = common.HexToAddress("0xbeef")
	journal.backend = NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, discardLogger())
	require.NoError(t, journal.Append(ctx, replacement))

	records, err := NewJournal(NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, discardLogger()), discardLogger()).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, replacement.Address, records[0].Address)

	// Acknowledged records stay protected.
	assert.ErrorIs(t, journal.Append(ctx, testRecord(0)), ErrRecordExists)
}

func TestJournal_DivergentReplicas(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := NewFileBackend(filepath.Join(dir, "a"), discardLogger())
	require.NoError(t, err)
	b, err := NewFileBackend(filepath.Join(dir, "b"), discardLogger())
	require.NoError(t, err)

	require.NoError(t, NewJournal(a, discardLogger()).Append(ctx, testRecord(0)))
	require.NoError(t, NewJournal(b, discardLogger()).Append(ctx, testRecord(0)))
	require.NoError(t, NewJournal(a, discardLogger()).Append(ctx, testRecord(1)))

	_, err = NewJournal(NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, discardLogger()), discardLogger()).Load(ctx)
	assert.ErrorIs(t, err, interfaces.ErrReplicaDivergence)

	// With a unreachable only b is consulted.
	down := &MockStorageBackend{name: "down"}
	down.On("Available", mock.Anything).Return(false)
	records, err := NewJournal(NewMultiStorageBackend([]interfaces.StorageBackend{down, b}, discardLogger()), discardLogger()).Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestJournal_RecordFormat(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	journal := NewJournal(backend, discardLogger())

	require.NoError(t, journal.Append(context.Background(), testRecord(7)))

	data, err := os.ReadFile(filepath.Join(dir, "deployments", "00000007.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"index":7`)
	assert.Contains(t, string(data), `"salt":"0x07`)
	assert.Contains(t, string(data), `"init_code_hash":"0x`)
}

func TestJournal_CorruptRecord(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	require.NoError(t, backend.Store(context.Background(), JournalKey(0), []byte("{not json")))

	_, err = NewJournal(backend, discardLogger()).Load(context.Background())
	assert.Error(t, err)
}

func TestJournal_BackendErrors(t *testing.T) {
	ctx := context.Background()

	failing := &MockStorageBackend{name: "failing"}
	failing.On("Fetch", mock.Anything, JournalKey(0)).Return(nil, interfaces.ErrBackendUnavailable)

	journal := NewJournal(failing, discardLogger())
	_, err := journal.Load(ctx)
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)

	err = journal.Append(ctx, testRecord(0))
	assert.ErrorIs(t, err, interfaces.ErrBackendUnavailable)
	failing.AssertNotCalled(t, "Store", mock.Anything, mock.Anything, mock.Anything)
}

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "file://"+dir, backend.LocationURI())

	_, err = backend.Fetch(ctx, "missing.json")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, backend.Store(ctx, "nested/key.json", []byte("v1")))
	require.NoError(t, backend.Store(ctx, "nested/key.json", []byte("v2")))
	data, err := backend.Fetch(ctx, "nested/key.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	for _, key := range []string{"", "..", "../escape", "/abs/path"} {
		assert.ErrorIs(t, backend.Store(ctx, key, []byte("x")), ErrInvalidKey, key)
	}
}

func TestStorageBackendFactory(t *testing.T) {
	factory := NewStorageBackendFactory(discardLogger())
	dir := t.TempDir()

	backend, err := factory.StorageBackendFor(interfaces.StorageBackendLocation("file://" + dir))
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, backend)

	backend, err = factory.StorageBackendFor("s3://bucket/journal?region=eu-west-1&endpoint=http://localhost:9000&pathstyle=true")
	require.NoError(t, err)
	assert.Equal(t, "s3-bucket", backend.Name())

	backend, err = factory.StorageBackendFor("vault://token@localhost:8200/secret/factory?tls=false")
	require.NoError(t, err)
	assert.Equal(t, "vault-secret-factory", backend.Name())
	assert.Equal(t, "vault://localhost:8200/secret/factory", backend.LocationURI())

	backend, err = factory.StorageBackendFor("ipfs://localhost:5001/journal?timeout=5s")
	require.NoError(t, err)
	assert.Equal(t, "ipfs-localhost-5001", backend.Name())
	assert.Equal(t, "ipfs://localhost:5001/journal?timeout=5s", backend.LocationURI())

	_, err = factory.StorageBackendFor("ipfs://localhost:5001/?timeout=soon")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("ftp://example.com/x")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.StorageBackendFor("vault://localhost:8200")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	multi, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		interfaces.StorageBackendLocation("file://" + filepath.Join(dir, "a")),
		interfaces.StorageBackendLocation("file://" + filepath.Join(dir, "b")),
	})
	require.NoError(t, err)
	assert.IsType(t, &MultiStorageBackend{}, multi)

	single, err := factory.CreateMultiBackend([]interfaces.StorageBackendLocation{
		interfaces.StorageBackendLocation("file://" + filepath.Join(dir, "c")),
	})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, single)

	_, err = factory.CreateMultiBackend(nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)

	_, err = factory.CreateMultiBackend([]interfaces.StorageBackendLocation{"ftp://nope"})
	assert.Error(t, err)
}

func TestMultiStorageBackend_ReplicatedJournal(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileBackend(filepath.Join(dir, "a"), discardLogger())
	require.NoError(t, err)
	b, err := NewFileBackend(filepath.Join(dir, "b"), discardLogger())
	require.NoError(t, err)

	ctx := context.Background()
	journal := NewJournal(NewMultiStorageBackend([]interfaces.StorageBackend{a, b}, discardLogger()), discardLogger())
	require.NoError(t, journal.Append(ctx, testRecord(0)))
	require.NoError(t, journal.Append(ctx, testRecord(1)))

	// Every replica holds the full journal.
	for _, replica := range []*FileBackend{a, b} {
		records, err := NewJournal(replica, discardLogger()).Load(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	}
}

func TestSQLiteBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	backend, err := NewSQLiteBackend(path, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	assert.True(t, backend.Available(ctx))
	assert.Equal(t, "sqlite", backend.Name())
	assert.Equal(t, "sqlite://"+path, backend.LocationURI())

	_, err = backend.Fetch(ctx, "missing.json")
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)

	require.NoError(t, backend.Store(ctx, "deployments/00000000.json", []byte("v1")))
	require.NoError(t, backend.Store(ctx, "deployments/00000000.json", []byte("v2")))
	data, err := backend.Fetch(ctx, "deployments/00000000.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, backend.Close())
	assert.False(t, backend.Available(ctx))
}

func TestSQLiteBackend_JournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	backend, err := NewStorageBackendFactory(discardLogger()).StorageBackendFor(interfaces.StorageBackendLocation("sqlite://" + path))
	require.NoError(t, err)
	require.IsType(t, &SQLiteBackend{}, backend)

	journal := NewJournal(backend, discardLogger())
	require.NoError(t, journal.Append(ctx, testRecord(0)))
	require.NoError(t, journal.Append(ctx, testRecord(1)))
	require.NoError(t, backend.(*SQLiteBackend).Close())

	reopened, err := NewSQLiteBackend(path, discardLogger())
	require.NoError(t, err)
	defer reopened.Close()

	records, err := NewJournal(reopened, discardLogger()).Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, testRecord(1).Address, records[1].Address)

	_, err = NewStorageBackendFactory(discardLogger()).StorageBackendFor("sqlite://")
	assert.ErrorIs(t, err, interfaces.ErrInvalidLocationURI)
}
