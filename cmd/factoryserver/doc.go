// Package main (cmd/factoryserver) runs the deployment registry server.
//
// The evm executor runs constructions in an in-process sandbox and needs no
// chain. Its sender starts with --sandbox-balance wei so creates can carry value. The chain executor sends them to a factory stub on a live network;
// its signing key comes from --deployer-key, or from Shamir shares collected on
// --admin-listen-addr when --deployer-shareholder is set.
//
// With one or more --storage locations every committed deployment is journaled
// and replayed on restart. Several locations are replicas: a create is only
// acknowledged once all of them stored it, and startup fails when the reachable
// ones disagree.
package main
