package mcp

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	resp *domain.SearchResponse
	err  error
	last domain.SearchRequest
}

func (m *mockSearchService) Search(_ context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	m.last = req
	if m.err != nil {
		return nil, m.err
	}
	if m.resp == nil {
		return &domain.SearchResponse{Query: req.Query, TopK: 10, Results: []domain.SearchResult{}}, nil
	}
	return m.resp, nil
}

// mockReindexer is a mock implementation of driving.Reindexer.
type mockReindexer struct {
	summary *domain.ReindexSummary
	stats   domain.ManifestStats
	err     error
	paths   []string
	opts    domain.ReindexOptions
}

func (m *mockReindexer) Reindex(_ context.Context, paths []string, opts domain.ReindexOptions) (*domain.ReindexSummary, error) {
	m.paths, m.opts = paths, opts
	if m.err != nil {
		return nil, m.err
	}
	if m.summary == nil {
		return &domain.ReindexSummary{}, nil
	}
	return m.summary, nil
}

func (m *mockReindexer) Stats(_ context.Context) (domain.ManifestStats, error) {
	return m.stats, m.err
}

func (m *mockReindexer) Supports(string) bool { return true }
func (m *mockReindexer) Excluded(string) bool { return false }

// mockWatchTracker is a mock implementation of driving.WatchTracker.
type mockWatchTracker struct {
	sessions map[string]domain.WatchActivity
	err      error
}

func newMockWatchTracker() *mockWatchTracker {
	return &mockWatchTracker{sessions: map[string]domain.WatchActivity{}}
}

func (m *mockWatchTracker) Start(_ context.Context, paths []string) (*domain.WatchActivity, error) {
	if m.err != nil {
		return nil, m.err
	}
	a := domain.WatchActivity{
		SessionID: "session-1",
		Paths:     paths,
		StartedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	m.sessions[a.SessionID] = a
	return &a, nil
}

func (m *mockWatchTracker) Stop(id string) error {
	if _, ok := m.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}

func (m *mockWatchTracker) List() []domain.WatchActivity {
	out := make([]domain.WatchActivity, 0, len(m.sessions))
	for _, a := range m.sessions {
		out = append(out, a)
	}
	return out
}

func (m *mockWatchTracker) Close() error { return nil }
