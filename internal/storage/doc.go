// Package storage persists event receipts and delivery outcomes.
//
// Two drivers share one Store interface: a dependency-free JSONL file
// backend and a SQLite backend (behind the "sqlite" build tag). Storage is
// optional; when disabled the rest of the app runs on in-memory state only.
package storage
