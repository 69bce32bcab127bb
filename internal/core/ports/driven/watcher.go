package driven

import "github.com/custodia-labs/sercha-kb/internal/core/domain"

// FileWatcher delivers filesystem change notifications.
type FileWatcher interface {
	// Add starts watching a file or directory tree.
	Add(path string) error

	// Events returns the change notification channel.
	Events() <-chan domain.FileEvent

	// Errors returns the watcher error channel.
	Errors() <-chan error

	// Close stops watching and closes both channels.
	Close() error
}

// WatcherFactory creates a watcher for a new watch session.
type WatcherFactory func() (FileWatcher, error)
