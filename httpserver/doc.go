/*
Package httpserver exposes the deployment registry over HTTP.

# Registry API Endpoints

  - POST /api/v1/deployments - Deploy and register an instance (signed)
  - GET /api/v1/deployments - List registered instances in order
  - GET /api/v1/deployments/length - Number of registered instances
  - GET /api/v1/deployments/last - Most recently registered instance
  - GET /api/v1/deployments/{index} - Instance at a position
  - GET /api/v1/identities/{identity} - Instance registered for an identity
  - POST /api/v1/predict - CREATE2 address of (salt, init code)
  - GET /api/v1/factory - Factory address, owner and length
  - GET /livez, /readyz, /drain, /undrain - Health and draining

Deployments carry an X-Factory-Signature header; the recovered signer is the
caller the registry authorizes. Registry errors map to statuses: unauthorized
403, deploy failure 422, identity mismatch 409, missing entries 404.

# Admin API Endpoints

When the chain deployer key is held as Shamir shares, a separate admin listener
collects them before the registry starts:

  - GET /admin/status - Recovery progress
  - POST /admin/share - Submit a share (signed by a shareholder)

# Example Usage

	handler := httpserver.NewHandler(reg, logger)
	server, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:               ":8080",
		MetricsAddr:              ":8090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
	}, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}
	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
