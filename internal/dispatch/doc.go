// Package dispatch delivers gateway events to applications.
//
// Every application gets its own unbounded queue and worker goroutine:
//
//	d := dispatch.New(dispatch.Config{}, logger, logApp, pingApp)
//	go d.Run(ctx)
//	d.Dispatch(ev) // never blocks
//
// Calls into a single application never overlap, so applications need no
// locking for their own state. A slow application builds a backlog but still
// receives every event, in order. Errors and panics are logged with the
// application's name and do not reach the session or other applications.
package dispatch
