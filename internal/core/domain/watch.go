package domain

import "time"

// FileOp describes what happened to a watched path.
type FileOp uint8

// File operations, combinable as flags.
const (
	FileCreate FileOp = 1 << iota
	FileWrite
	FileRemove
	FileRename
)

// String returns a short label for the operation set.
func (o FileOp) String() string {
	switch {
	case o&FileRemove != 0:
		return "remove"
	case o&FileRename != 0:
		return "rename"
	case o&FileCreate != 0:
		return "create"
	case o&FileWrite != 0:
		return "write"
	default:
		return "unknown"
	}
}

// FileEvent is a filesystem change observed by a watcher.
type FileEvent struct {
	Path string    `json:"path"`
	Op   FileOp    `json:"-"`
	At   time.Time `json:"at"`
}

// WatchActivity is the observable state of one watch session.
type WatchActivity struct {
	SessionID    string     `json:"session_id"`
	Paths        []string   `json:"paths"`
	StartedAt    time.Time  `json:"started_at"`
	EventCount   int        `json:"event_count"`
	ReindexCount int        `json:"reindex_count"`
	Pending      int        `json:"pending"`
	LastEvent    *FileEvent `json:"last_event,omitempty"`
	LastEventOp  string     `json:"last_event_op,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}
