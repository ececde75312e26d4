// Package api is a minimal client for the QMS REST API.
//
// Only the system health endpoint is implemented; the listener calls it as a
// preflight before opening the realtime socket.
package api
