// Package sqlite provides the document, chunk and scheduled-task stores on
// a single SQLite database.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO, through jmoiron/sqlx for struct scanning and IN-clause
// expansion.
//
// # Schema
//
// The schema is managed through versioned migrations embedded from the
// migrations/ directory. Each applied version is recorded in
// schema_migrations.
//
// # Consistency
//
// A document and its complete chunk set are written in one transaction, so a
// crash never leaves a partially written chunk set behind. Chunk embeddings
// are not stored here; they live in the vector index snapshot and the
// embedding cache directory.
package sqlite
