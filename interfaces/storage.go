package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrContentNotFound is returned when requested content cannot be found in the storage backend.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")

	// ErrReplicaDivergence is returned when reachable replicas disagree about the value of a key.
	ErrReplicaDivergence = errors.New("storage replicas diverged")
)

// StorageBackendLocation is a backend URI such as file:///var/lib/factory or s3://bucket/prefix.
type StorageBackendLocation string

// StorageBackend provides keyed blob storage.
type StorageBackend interface {
	// Fetch retrieves data by key. Returns ErrContentNotFound for missing keys.
	Fetch(ctx context.Context, key string) ([]byte, error)

	// Store saves data under key, replacing any previous value.
	Store(ctx context.Context, key string, data []byte) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}

// StorageBackendFactory creates storage backends.
type StorageBackendFactory interface {
	// StorageBackendFor creates backend from URI.
	// Supports file://, s3://, vault://
	StorageBackendFor(locationURI StorageBackendLocation) (StorageBackend, error)

	// CreateMultiBackend creates aggregated storage backend.
	CreateMultiBackend(locationURIs []StorageBackendLocation) (StorageBackend, error)
}
