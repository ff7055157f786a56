// Package registry implements the deterministic deployment registry: it deploys child
// contracts at CREATE2 addresses through a ConstructionExecutor, validates the identity
// each instance reports, and keeps an append-only index of everything it deployed.
//
// # State
//
// The registry holds an ordered list of instance addresses and a map from identity
// key to the most recent instance registered for it. Re-deploying for an identity
// overwrites the map entry while the earlier instance stays in the ordered list.
// Neither structure ever shrinks.
//
// # Create
//
// Create runs in two phases under the write lock:
//
//  1. Construct: derive the CREATE2 address, hand the init code to the executor and
//     require an instance at exactly that address.
//  2. Validate and commit: query the instance for its identity, compare it with the
//     caller's key, append the record to the journal and only then update memory.
//
// Failures in either phase leave the registry unchanged. An instance that was built
// but failed validation remains deployed and unregistered; construction is not
// undone.
//
// # Usage Example
//
//	exec, _ := executor.NewEVMExecutor(executor.EVMConfig{Origin: owner})
//	reg, err := registry.Open(ctx, registry.Config{
//	    Owner:    owner,
//	    Executor: exec,
//	    Journal:  storage.NewJournal(backend, logger),
//	    Log:      logger,
//	})
//
//	addr, err := reg.Create(ctx, interfaces.CreateRequest{
//	    Caller:   owner,
//	    Identity: erc20,
//	    InitCode: initCode,
//	    Salt:     salt,
//	})
//	switch {
//	case errors.Is(err, registry.ErrDeployFailed):
//	    // pick a fresh salt or fix the init code
//	case errors.Is(err, registry.ErrIdentityMismatch):
//	    // constructor arguments do not match the identity
//	}
package registry
