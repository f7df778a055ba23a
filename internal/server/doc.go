// Package server hosts the Fiber HTTP service, the request middleware chain and
// the site registry that maps Host headers to per-site runtimes. Each Site owns
// its cache store, worker registration, strategy executor, notification center
// and sync queue; the proxy and routes packages consume them through the
// ProxyHandler interface and CurrentSite. Keep exports narrow and accept
// explicit dependencies so tests can assemble sites against httptest origins.
package server
