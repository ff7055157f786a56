// Package storage provides keyed blob storage with pluggable backends and the
// append-only deployment journal built on top of it.
//
// Backends implement interfaces.StorageBackend:
//
//   - File system storage for local development and single-host deployments
//   - SQLite database file
//   - S3-compatible storage for cloud deployments
//   - HashiCorp Vault KV v2 storage
//   - IPFS mutable file system storage
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/factory/
//   - sqlite:///var/lib/factory/journal.db
//   - s3://[ACCESS:SECRET@]bucket-name/prefix/?region=us-west-2&endpoint=http://minio:9000&pathstyle=true
//   - vault://[TOKEN@]vault.example.com:8200/secret/factory
//   - ipfs://127.0.0.1:5001/factory?timeout=30s
//
// Several URIs can be combined with StorageBackendFactory.CreateMultiBackend. The
// resulting MultiStorageBackend treats them as replicas: a write must reach every
// replica, and a read fails with interfaces.ErrReplicaDivergence when the
// reachable replicas disagree.
//
// # Journal
//
// Journal stores one JSON-encoded interfaces.DeploymentRecord per key, named
// deployments/%08d.json after the record index. Load reads keys in order until the
// first missing one. Append refuses to overwrite an existing record.
//
//	backend, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
//	if err != nil {
//	    return err
//	}
//	journal := storage.NewJournal(backend, logger)
//	reg, err := registry.Open(ctx, registry.Config{Owner: owner, Executor: exec, Journal: journal})
package storage
