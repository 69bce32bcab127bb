package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query   string             `json:"query" jsonschema:"the natural-language search query"`
	K       int                `json:"k,omitempty" jsonschema:"number of results to return (1-100)"`
	Alpha   *float64           `json:"alpha,omitempty" jsonschema:"1 ranks by meaning only, 0 by keywords only"`
	Filters domain.FilterInput `json:"filters,omitempty" jsonschema:"restrict results by content type, author, slug, tags or update date"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Query   string               `json:"query"`
	TopK    int                  `json:"top_k"`
	Results []SearchResultOutput `json:"results"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	Title        string   `json:"title"`
	Snippet      string   `json:"snippet"`
	ContentType  string   `json:"content_type"`
	Slug         string   `json:"slug,omitempty"`
	RouteHint    string   `json:"route_hint,omitempty"`
	SourcePath   string   `json:"source_path"`
	PageOrOffset string   `json:"page_or_offset"`
	Tags         []string `json:"tags"`
	Updated      string   `json:"updated,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
	Partial      bool     `json:"partial,omitempty"`
	Score        float64  `json:"score"`
}

// ReindexInput is the input schema for the reindex tool.
type ReindexInput struct {
	Paths []string `json:"paths,omitempty" jsonschema:"files or directories to reindex; empty rescans every configured root"`
	Force bool     `json:"force,omitempty" jsonschema:"re-import files even when unchanged"`
}

// ReindexOutput is the output schema for the reindex tool.
type ReindexOutput struct {
	Indexed    int                 `json:"indexed"`
	Updated    int                 `json:"updated"`
	Skipped    int                 `json:"skipped"`
	Deleted    int                 `json:"deleted"`
	Errors     int                 `json:"errors"`
	Partial    int                 `json:"partial"`
	DurationMS int64               `json:"duration_ms"`
	Results    []domain.PathResult `json:"results,omitempty"`
}

// WatchInput is the input schema for the watch tool.
type WatchInput struct {
	Paths []string `json:"paths" jsonschema:"files or directories to watch"`
}

// WatchOutput is the output schema for the watch tool.
type WatchOutput struct {
	SessionID string   `json:"session_id"`
	Watching  []string `json:"watching"`
}

// UnwatchInput is the input schema for the unwatch tool.
type UnwatchInput struct {
	SessionID string `json:"session_id" jsonschema:"the session id returned by watch"`
}

// UnwatchOutput is the output schema for the unwatch tool.
type UnwatchOutput struct {
	Stopped string `json:"stopped"`
}

// WatchListOutput is the output schema for the watch_list tool.
type WatchListOutput struct {
	Sessions []SessionOutput `json:"sessions"`
}

// SessionOutput describes one watch session.
type SessionOutput struct {
	SessionID    string   `json:"session_id"`
	Paths        []string `json:"paths"`
	StartedAt    string   `json:"started_at"`
	EventCount   int      `json:"event_count"`
	ReindexCount int      `json:"reindex_count"`
	Pending      int      `json:"pending"`
	LastEventOp  string   `json:"last_event_op,omitempty"`
	LastError    string   `json:"last_error,omitempty"`
}

// StatsOutput is the output schema for the stats tool.
type StatsOutput struct {
	Files            int            `json:"files"`
	Chunks           int            `json:"chunks"`
	ByType           map[string]int `json:"by_type"`
	AvgChunkLen      float64        `json:"avg_chunk_len"`
	EmbeddingsCached int            `json:"embeddings_cached"`
	PartialFiles     int            `json:"partial_files"`
	Duplicates       int            `json:"duplicates"`
	LastIndexedAt    string         `json:"last_indexed_at,omitempty"`
}

type emptyInput struct{}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Hybrid semantic and keyword search over the indexed local files, with citations",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reindex",
		Description: "Bring the index in line with the filesystem for the given paths, or every configured root",
	}, s.handleReindex)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "stats",
		Description: "Corpus statistics: files, chunks, types, cached embeddings",
	}, s.handleStats)

	if s.ports.Watch == nil {
		return
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "watch",
		Description: "Watch paths and reindex changed files after a quiet period",
	}, s.handleWatch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "unwatch",
		Description: "Stop a watch session",
	}, s.handleUnwatch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "watch_list",
		Description: "List running watch sessions and their activity",
	}, s.handleWatchList)
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	filters, err := input.Filters.Filters()
	if err != nil {
		return nil, SearchOutput{}, toolError("search", err)
	}

	resp, err := s.ports.Search.Search(ctx, domain.SearchRequest{
		Query:   input.Query,
		K:       input.K,
		Alpha:   input.Alpha,
		Filters: filters,
	})
	if err != nil {
		return nil, SearchOutput{}, toolError("search", err)
	}

	output := SearchOutput{
		Query:   resp.Query,
		TopK:    resp.TopK,
		Results: make([]SearchResultOutput, len(resp.Results)),
	}
	for i := range resp.Results {
		r := &resp.Results[i]
		output.Results[i] = SearchResultOutput{
			Title:        r.Title,
			Snippet:      r.Snippet,
			ContentType:  r.ContentType,
			Slug:         r.Slug,
			RouteHint:    r.RouteHint,
			SourcePath:   r.SourcePath,
			PageOrOffset: r.PageOrOffset,
			Tags:         r.Tags,
			Updated:      formatTime(r.Updated),
			Confidence:   r.Confidence,
			Partial:      r.Partial,
			Score:        r.Score,
		}
	}

	return nil, output, nil
}

// handleReindex handles the reindex tool invocation. A provider failure
// returns the error; the partial counts are lost with it.
func (s *Server) handleReindex(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ReindexInput,
) (*mcp.CallToolResult, ReindexOutput, error) {
	summary, err := s.ports.Reindex.Reindex(ctx, input.Paths, domain.ReindexOptions{Force: input.Force})
	if err != nil {
		return nil, ReindexOutput{}, toolError("reindex", err)
	}
	return nil, ReindexOutput{
		Indexed:    summary.Indexed,
		Updated:    summary.Updated,
		Skipped:    summary.Skipped,
		Deleted:    summary.Deleted,
		Errors:     summary.Errors,
		Partial:    summary.Partial,
		DurationMS: summary.Duration.Milliseconds(),
		Results:    summary.Results,
	}, nil
}

func (s *Server) handleStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ emptyInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.ports.Reindex.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, toolError("stats", err)
	}
	return nil, statsOutput(stats), nil
}

func (s *Server) handleWatch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input WatchInput,
) (*mcp.CallToolResult, WatchOutput, error) {
	activity, err := s.ports.Watch.Start(ctx, input.Paths)
	if err != nil {
		return nil, WatchOutput{}, toolError("watch", err)
	}
	return nil, WatchOutput{SessionID: activity.SessionID, Watching: activity.Paths}, nil
}

func (s *Server) handleUnwatch(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input UnwatchInput,
) (*mcp.CallToolResult, UnwatchOutput, error) {
	if err := s.ports.Watch.Stop(input.SessionID); err != nil {
		return nil, UnwatchOutput{}, toolError("unwatch", err)
	}
	return nil, UnwatchOutput{Stopped: input.SessionID}, nil
}

func (s *Server) handleWatchList(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ emptyInput,
) (*mcp.CallToolResult, WatchListOutput, error) {
	return nil, WatchListOutput{Sessions: sessionOutputs(s.ports.Watch.List())}, nil
}

func statsOutput(stats domain.ManifestStats) StatsOutput {
	byType := stats.ByType
	if byType == nil {
		byType = map[string]int{}
	}
	return StatsOutput{
		Files:            stats.Files,
		Chunks:           stats.Chunks,
		ByType:           byType,
		AvgChunkLen:      stats.AvgChunkLen,
		EmbeddingsCached: stats.EmbeddingsCached,
		PartialFiles:     stats.PartialFiles,
		Duplicates:       stats.Duplicates,
		LastIndexedAt:    formatTime(stats.LastIndexedAt),
	}
}

func sessionOutputs(sessions []domain.WatchActivity) []SessionOutput {
	out := make([]SessionOutput, len(sessions))
	for i, a := range sessions {
		out[i] = SessionOutput{
			SessionID:    a.SessionID,
			Paths:        a.Paths,
			StartedAt:    a.StartedAt.UTC().Format(time.RFC3339),
			EventCount:   a.EventCount,
			ReindexCount: a.ReindexCount,
			Pending:      a.Pending,
			LastEventOp:  a.LastEventOp,
			LastError:    a.LastError,
		}
	}
	return out
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
