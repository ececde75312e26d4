// Package database opens the Postgres pool used by the update archive.
package database
