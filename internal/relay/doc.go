// Package relay republishes received realtime updates to Redis pub/sub so
// other local services can consume them without their own QMS socket.
package relay
