// Package realtime implements the QMS realtime update client.
//
// The client:
//   - Maintains one WebSocket per session (user, optional department, room)
//   - Reconnects after unexpected closes with bounded exponential backoff
//   - Dispatches tagged updates to subscribers registered in a Registry
//   - Sends dashboard-refresh and interaction-tracking commands when open
//
// Asynchronous failures (lost connections, malformed frames, failing
// handlers, sends while closed) are logged and counted, never returned.
package realtime
