// Package services implements the driving ports: hybrid search, the
// reindex orchestrator, watch sessions and the rescan scheduler.
//
// Services depend only on driven port interfaces. Storage, indexes,
// embedding backends and the filesystem watcher are injected.
package services
