// Package main (cmd/admin) manages Shamir shares of the chain deployer key.
//
// Offline, an operator generates or loads the deployer key and splits it:
//
//	admin split-key --key-file deployer.key --shamir-threshold 2 --shamir-total-shares 3
//
// Each shareholder keeps one share and a personal secp256k1 key whose address is
// passed to the server with --deployer-shareholder. When the server starts in
// recovery mode, shareholders submit their shares:
//
//	admin submit-share --key-file shareholder.key --share-file deployer-share-0.hex
package main
