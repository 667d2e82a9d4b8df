// Package session owns the connection to the primary OneBot backend.
//
// # Overview
//
// A Supervisor keeps one WebSocket session alive at a time. Each session runs
// three units under a shared cancellable context:
//
//   - reader: classifies inbound frames into responses and events
//   - writer: drains the outbound queue, registering each request before sending
//   - sweeper: expires requests that have waited longer than the request timeout
//
// The first unit to stop cancels the others. The supervisor then fails every
// pending request with a "Connection lost" response, waits the reconnect delay
// and dials again. Reconnects are unbounded.
//
// # Handle
//
// Applications submit commands through a Handle created once at startup:
//
//	handle := session.NewHandle(logger)
//	sup := session.NewSupervisor(cfg, handle, dispatcher, logger)
//	go sup.Launch(ctx)
//
//	resp, err := handle.Submit(ctx, "get_login_info", nil)
//
// Submit returns ErrNotConnected when no session is live. Once a request is
// queued it always completes: with the backend's response, a timeout
// response, or a connection-lost response.
//
// # Correlation
//
// Every request carries a fresh UUID echo. The Table maps echoes to waiting
// callers; whoever removes an entry (reader, sweeper or teardown) completes it,
// so a caller is completed at most once.
package session
