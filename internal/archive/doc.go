// Package archive persists received realtime updates to Postgres.
//
// The writer subscribes to every update type, buffers rows in memory and
// batch-inserts them into realtime_updates with pgx. Dispatch never waits
// on the database: when the buffer is full new rows are dropped and counted.
package archive
