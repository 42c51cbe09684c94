// Package stores provides the persistence layer for streamtune. It includes
// a SQLite-based store with embedded migrations for tuning sessions, their
// trials and the failing candidates kept for inspection.
package stores
