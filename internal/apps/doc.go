// Package apps holds the gateway's built-in applications.
//
//   - Logger writes every chat message to the log, resolving group names once.
//   - Ping answers "ping" from the owner or main group and "!perf" anywhere.
//   - MatrixMirror copies messages from selected groups into a Matrix room.
package apps
