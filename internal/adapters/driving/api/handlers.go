package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/custodia-labs/sercha-kb/internal/core/domain"
	"github.com/custodia-labs/sercha-kb/internal/core/ports/driving"
)

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query   string             `json:"query"`
	K       int                `json:"k"`
	Alpha   *float64           `json:"alpha"`
	Filters domain.FilterInput `json:"filters"`
}

// ReindexRequest is the body of POST /api/v1/reindex. An empty body
// rescans every configured root.
type ReindexRequest struct {
	Paths []string `json:"paths"`
	Force bool     `json:"force"`
}

// WatchRequest is the body of POST /api/v1/watch.
type WatchRequest struct {
	Paths []string `json:"paths"`
}

// WatchResponse acknowledges a new watch session.
type WatchResponse struct {
	SessionID string   `json:"session_id"`
	Watching  []string `json:"watching"`
}

// CheckHandler answers liveness probes.
type CheckHandler struct{}

// NewCheckHandler creates a CheckHandler.
func NewCheckHandler() *CheckHandler {
	return &CheckHandler{}
}

// HandleHealthy reports that the server is up.
func (h CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// SearchHandler serves hybrid search.
type SearchHandler struct {
	search driving.SearchService
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(search driving.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

// HandleSearch runs a search request.
func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	var params SearchRequest
	if err := c.BodyParser(&params); err != nil {
		return ErrBadRequest()
	}

	filters, err := params.Filters.Filters()
	if err != nil {
		return err
	}

	resp, err := h.search.Search(c.UserContext(), domain.SearchRequest{
		Query:   params.Query,
		K:       params.K,
		Alpha:   params.Alpha,
		Filters: filters,
	})
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

// IndexHandler serves reindexing and corpus stats.
type IndexHandler struct {
	reindex driving.Reindexer
}

// NewIndexHandler creates an IndexHandler.
func NewIndexHandler(reindex driving.Reindexer) *IndexHandler {
	return &IndexHandler{reindex: reindex}
}

// HandleReindex runs a reindex batch and returns its summary.
func (h *IndexHandler) HandleReindex(c *fiber.Ctx) error {
	var params ReindexRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&params); err != nil {
			return ErrBadRequest()
		}
	}

	summary, err := h.reindex.Reindex(c.UserContext(), params.Paths, domain.ReindexOptions{Force: params.Force})
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

// HandleStats returns the manifest statistics.
func (h *IndexHandler) HandleStats(c *fiber.Ctx) error {
	stats, err := h.reindex.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(stats)
}

// WatchHandler manages watch sessions.
type WatchHandler struct {
	watch driving.WatchTracker
}

// NewWatchHandler creates a WatchHandler.
func NewWatchHandler(watch driving.WatchTracker) *WatchHandler {
	return &WatchHandler{watch: watch}
}

// HandleStart starts a watch session.
func (h *WatchHandler) HandleStart(c *fiber.Ctx) error {
	var params WatchRequest
	if err := c.BodyParser(&params); err != nil {
		return ErrBadRequest()
	}

	activity, err := h.watch.Start(c.UserContext(), params.Paths)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(WatchResponse{
		SessionID: activity.SessionID,
		Watching:  activity.Paths,
	})
}

// HandleList returns every running session.
func (h *WatchHandler) HandleList(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"sessions": h.watch.List()})
}

// HandleStop ends the session named in the path.
func (h *WatchHandler) HandleStop(c *fiber.Ctx) error {
	if err := h.watch.Stop(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
