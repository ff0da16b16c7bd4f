// Package stores persists run history for strata.
// It includes SQLite-based storage with WAL mode and embedded migrations for
// runs, unit results, produced capabilities, events, and audit entries, plus
// a Recorder that writes engine runs as they happen.
package stores
