// Package gateway orchestrates the onebot-gateway components.
//
// # Overview
//
// The gateway owns the session supervisor, the event dispatcher and the
// applications, and runs them under a single context:
//
//	type Gateway struct {
//	    handle     *session.Handle
//	    supervisor *session.Supervisor
//	    dispatcher *dispatch.Dispatcher
//	    client     *onebot.Client
//	    gscore     *gscore.Adapter
//	    httpServer *http.Server
//	    // ...
//	}
//
// Applications receive the shared [onebot.Client], which submits actions
// through the session handle. When the backend connection drops, in-flight
// actions complete with a "Connection lost" response and the supervisor
// reconnects after a fixed delay.
//
// # HTTP
//
// When server.http_addr is set the gateway serves:
//
//   - GET /health - Liveness check, always 200 "OK"
//   - GET /health/ready - 200 with a JSON status while connected, 503 otherwise
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return gw.Run(ctx) // returns nil once ctx is cancelled
//
// Shutdown order follows context cancellation: the supervisor tears down the
// live session (failing pending actions), dispatcher workers exit, the HTTP
// server drains for up to five seconds and the GSCore daemon is awaited.
package gateway
