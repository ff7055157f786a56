/*
Package clients provides Go clients for the factory registry server.

FactoryClient covers the registry API: Create signs deployment requests with the
caller's key, the query methods need no key. Error statuses are mapped back to
the registry sentinel errors, so errors.Is(err, registry.ErrDeployFailed) works
on the client side.

AdminClient submits deployer key shares to a server started in recovery mode.

ResolveServerURL turns an srv:// server name into the http URL of the preferred
SRV target:

	server, err := clients.ResolveServerURL(ctx, "srv://_factory._tcp.example.com", clients.DefaultResolver)
	client := clients.NewFactoryClient(server, key)
	addr, err := client.Create(ctx, api.CreateRequest{...})
*/
package clients
