package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/create2-factory-registry/interfaces"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// MultiStorageBackend implements interfaces.StorageBackend over a set of replicas.
// Writes must reach every replica. Reads consult every reachable replica and fail
// when they disagree.
type MultiStorageBackend struct {
	backends []interfaces.StorageBackend
	log      *slog.Logger
}

// NewMultiStorageBackend creates a new multi-storage backend over backends.
func NewMultiStorageBackend(backends []interfaces.StorageBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiStorageBackend{
		backends: backends,
		log:      logger,
	}
}

// Fetch reads key from every reachable replica. Replicas that are unavailable or
// fail are skipped. The answers of the remaining replicas must agree: all missing
// yields ErrContentNotFound, identical data is returned, anything else is
// ErrReplicaDivergence.
func (m *MultiStorageBackend) Fetch(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	var (
		errs     []error
		data     []byte
		holders  []string
		missing  []string
		diverged bool
	)

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		value, err := backend.Fetch(ctx, key)
		switch {
		case err == nil:
			if len(holders) > 0 && !bytes.Equal(data, value) {
				diverged = true
			}
			data = value
			holders = append(holders, backend.Name())
		case errors.Is(err, interfaces.ErrContentNotFound):
			missing = append(missing, backend.Name())
		default:
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Debug("Failed to fetch from backend",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key),
				"err", err)
		}
	}

	if diverged || (len(holders) > 0 && len(missing) > 0) {
		m.log.Error("Storage replicas disagree",
			slog.String("key", key),
			slog.Any("holders", holders),
			slog.Any("missing", missing))
		return nil, fmt.Errorf("%w: %s (present in %v, missing in %v)", interfaces.ErrReplicaDivergence, key, holders, missing)
	}
	if len(holders) > 0 {
		m.log.Debug("Fetched content",
			slog.String("key", key),
			slog.Int("replicas", len(holders)),
			slog.Duration("duration", time.Since(start)))
		return data, nil
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, key)
	}

	m.log.Error("No backend could serve content",
		slog.String("key", key),
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("%w: no backend could serve %s: %v", interfaces.ErrBackendUnavailable, key, errors.Join(errs...))
}

// Store writes data to every replica in parallel. It fails unless every replica
// accepted the write. Nothing is written when a replica is unavailable up front.
func (m *MultiStorageBackend) Store(ctx context.Context, key string, data []byte) error {
	start := time.Now()

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Warn("Refusing to store with a replica unavailable",
				slog.String("backend_name", backend.Name()),
				slog.String("key", key))
			return fmt.Errorf("%w: %s is unavailable, not storing %s", interfaces.ErrBackendUnavailable, backend.Name(), key)
		}
	}

	stored := atomic.NewInt32(0)
	errs := make([]error, len(m.backends))

	// Failures are collected rather than returned so every replica gets the write
	// attempt and the caller sees all of them.
	var g errgroup.Group
	for i, backend := range m.backends {
		g.Go(func() error {
			if err := backend.Store(ctx, key, data); err != nil {
				errs[i] = fmt.Errorf("%s: %w", backend.Name(), err)
				m.log.Warn("Failed to store to backend",
					slog.String("backend_name", backend.Name()),
					slog.String("key", key),
					"err", err)
				return nil
			}
			stored.Inc()
			return nil
		})
	}
	_ = g.Wait()

	if failed := errors.Join(errs...); failed != nil {
		m.log.Error("Replicated store incomplete",
			slog.String("key", key),
			slog.Int("stored", int(stored.Load())),
			slog.Int("replicas", len(m.backends)),
			slog.Duration("duration", time.Since(start)))
		return fmt.Errorf("%w: stored %s on %d of %d replicas: %v", interfaces.ErrBackendUnavailable, key, stored.Load(), len(m.backends), failed)
	}

	m.log.Debug("Stored content",
		slog.String("key", key),
		slog.Int("backends", int(stored.Load())),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if any backend is available
func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns the name of this backend
func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns a combined URI of all backends.
func (m *MultiStorageBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}
