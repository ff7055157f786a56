package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ruteri/create2-factory-registry/interfaces"
)

var (
	// ErrInvalidKey is returned for storage keys that are empty or escape the backend root.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrRecordExists is returned when appending at an index that is already journaled.
	ErrRecordExists = errors.New("journal record already exists")
)

// JournalKey returns the storage key of the record at index.
func JournalKey(index uint64) string {
	return fmt.Sprintf("deployments/%08d.json", index)
}

// Journal is an append-only deployment journal over a keyed storage backend.
// Records are stored one per key in index order and never rewritten.
//
// A record whose store failed may have reached some replicas. Such keys were never
// acknowledged, so the next Append at that index in this process rewrites them.
type Journal struct {
	mu      sync.Mutex
	backend interfaces.StorageBackend
	log     *slog.Logger

	unacked map[string]bool
}

// NewJournal creates a journal over backend.
func NewJournal(backend interfaces.StorageBackend, log *slog.Logger) *Journal {
	if log == nil {
		log = slog.Default()
	}
	return &Journal{backend: backend, log: log, unacked: make(map[string]bool)}
}

// Append stores record under its index. Existing records are never overwritten.
func (j *Journal) Append(ctx context.Context, record interfaces.DeploymentRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	key := JournalKey(record.Index)

	if !j.unacked[key] {
		_, err := j.backend.Fetch(ctx, key)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrRecordExists, key)
		case !errors.Is(err, interfaces.ErrContentNotFound):
			return fmt.Errorf("could not check %s: %w", key, err)
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("could not encode record: %w", err)
	}

	if err := j.backend.Store(ctx, key, data); err != nil {
		j.unacked[key] = true
		return fmt.Errorf("could not store %s: %w", key, err)
	}
	delete(j.unacked, key)

	j.log.Debug("Journaled deployment",
		slog.String("key", key),
		slog.String("backend", j.backend.Name()))

	return nil
}

// Load reads records from index 0 until the first missing key. Over a
// MultiStorageBackend a key the reachable replicas disagree on fails with
// interfaces.ErrReplicaDivergence.
func (j *Journal) Load(ctx context.Context) ([]interfaces.DeploymentRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var records []interfaces.DeploymentRecord
	for index := uint64(0); ; index++ {
		key := JournalKey(index)
		data, err := j.backend.Fetch(ctx, key)
		if errors.Is(err, interfaces.ErrContentNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not fetch %s: %w", key, err)
		}

		var record interfaces.DeploymentRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("could not decode %s: %w", key, err)
		}
		records = append(records, record)
	}

	j.log.Debug("Loaded deployment journal",
		slog.Int("records", len(records)),
		slog.String("backend", j.backend.Name()))

	return records, nil
}
