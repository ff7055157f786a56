package registry

import "errors"

var (
	// ErrUnauthorized is returned when a non-owner attempts a deployment.
	ErrUnauthorized = errors.New("caller is not the registry owner")

	// ErrDeployFailed is returned when construction produced no instance at the predicted address.
	ErrDeployFailed = errors.New("deployment failed")

	// ErrIdentityMismatch is returned when the constructed instance reports a different identity.
	ErrIdentityMismatch = errors.New("instance identity mismatch")

	// ErrNoInstancesDeployed is returned by Last on an empty registry.
	ErrNoInstancesDeployed = errors.New("no instances deployed")

	// ErrIndexOutOfRange is returned by At for indices at or past Length.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInvalidIdentity is returned for the zero identity key.
	ErrInvalidIdentity = errors.New("invalid identity key")

	// ErrEmptyInitCode is returned when no init code is supplied.
	ErrEmptyInitCode = errors.New("empty init code")

	// ErrCommitFailed is returned when a validated deployment could not be journaled.
	ErrCommitFailed = errors.New("could not commit deployment")

	// ErrCorruptJournal is returned by Open when the journal does not replay cleanly.
	ErrCorruptJournal = errors.New("corrupt deployment journal")
)
