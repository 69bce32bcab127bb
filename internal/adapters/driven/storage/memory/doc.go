// Package memory provides in-memory document and task stores.
//
// They back ephemeral knowledge bases (storage.backend = "memory") and
// service tests. Nothing survives process exit.
package memory
