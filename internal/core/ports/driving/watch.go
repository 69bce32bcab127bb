package driving

import (
	"context"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// WatchTracker runs debounced filesystem watch sessions.
type WatchTracker interface {
	// Start begins watching paths and returns the new session's activity.
	Start(ctx context.Context, paths []string) (*domain.WatchActivity, error)

	// Stop ends a session and cancels its pending debounced reindexes.
	Stop(sessionID string) error

	// List returns the activity of every running session.
	List() []domain.WatchActivity

	// Close stops every session.
	Close() error
}
