// Package storage persists message templates.
//
// Backends (Config.Driver):
//   - "sqlite": single-file database via modernc.org/sqlite (default)
//   - "postgres": shared database via lib/pq
//   - "file": JSON snapshot, no database needed
//   - "memory": process-local, for tests and dry runs
package storage
