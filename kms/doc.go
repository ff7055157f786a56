// Package kms recovers the chain deployer key from Shamir shares.
//
// The deployer key signs factory transactions on a live chain. It is split
// offline with SplitKey and never written to disk by the server; on startup the
// shareholders submit their shares and the key is rebuilt in memory once the
// threshold is met.
package kms
