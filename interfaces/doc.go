// Package interfaces defines core interfaces and types for the deterministic
// deployment registry, separating interface definitions from implementations.
//
// # Construction Interfaces
//
// ConstructionExecutor: Runs caller-supplied init code at a CREATE2 address derived
// from the factory address, a salt and the init code hash. Implementations exist for
// an in-process EVM and for a factory contract deployed on a live chain.
//
// Instance: The narrow capability the registry relies on after construction, namely
// the address and a read-only query for the identity the instance was built for.
//
// # Storage Interfaces
//
// StorageBackend: Keyed blob storage across multiple backend types (file, S3, Vault, IPFS).
//
// StorageBackendFactory: Creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
//
// DeploymentJournal: Append-only log of committed deployments, replayed on startup.
//
// # Types
//
//   - Salt: 32-byte CREATE2 salt with hex text encoding
//   - DeploymentRecord: one committed registry entry
//   - DeploymentEvent: notification emitted for indexers
//   - CreateRequest: inputs of a deployment
package interfaces
