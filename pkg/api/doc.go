// Package api serves the process's operational HTTP endpoints.
//
// The surface is deliberately small: /healthz, /readyz, and /livez answer
// from the component health registry in pkg/metrics, and /metrics serves
// Prometheus text exposition. Reconciliation itself is driven by the
// scheduler and the CLI, not over HTTP.
//
// Start binds the listener and returns; serving happens in the background
// until Shutdown drains it. The server registers itself as the "api"
// health component when the listener binds and flips it unhealthy on
// shutdown, so readiness drops before the port closes.
//
//	srv := api.NewServer(":9090")
//	if err := srv.Start(); err != nil {
//		return err
//	}
//	defer srv.Shutdown(ctx)
package api
