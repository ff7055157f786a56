// Package common holds process-wide helpers shared by the factory server and client.
package common

// Version is overridden at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"

// PackageName is used as the metrics namespace.
const PackageName = "create2_factory_registry"
