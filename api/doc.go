/*
Package api defines the wire types and request authentication of the factory
registry HTTP API.

Request and response bodies are JSON. Binary fields (init code, salts, shares)
are 0x-prefixed hex; constructor value is a decimal or 0x-hex string.

# Authentication

Mutating requests carry an X-Factory-Signature header of the form
"<address>:<signature>", where signature is a secp256k1 recoverable signature
over keccak256(method + " " + path + "\n" + body). VerifyRequest recovers the
signer and rejects headers whose claimed address does not match. The recovered
address is the caller the registry authorizes.

Signatures do not carry a nonce. Replaying a deployment request re-derives the
same CREATE2 address and fails as a collision.

The clients subpackage implements Go clients for the registry and admin APIs.
*/
package api
