// Package store owns the persisted pool state: credential records, the
// versioned pool-config record, and quota-ledger rows. It is pure data
// access; visibility, cooldown and quota policy live with their components.
//
// Two implementations are provided: a SQLite-backed store for the daemon and
// an in-memory store with identical semantics for tests and embedding.
package store
