package syncrun

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/holovitals/synccore/pkg/pagination"
)

// Handler exposes manual sync triggers and run history over HTTP.
type Handler struct {
	orch *Orchestrator
	runs Repository
}

// NewHandler creates a sync run handler.
func NewHandler(orch *Orchestrator, runs Repository) *Handler {
	return &Handler{orch: orch, runs: runs}
}

// RegisterRoutes binds sync routes to the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/connections/:id/sync", h.TriggerSync)
	g.GET("/connections/:id/runs", h.ListRuns)
	g.GET("/runs/:id", h.GetRun)
}

// TriggerSync handles POST /connections/:id/sync?mode=incremental|full.
// The run executes synchronously and the terminal summary is returned.
func (h *Handler) TriggerSync(c echo.Context) error {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection id")
	}

	mode := c.QueryParam("mode")
	if mode == "" {
		mode = string(RunIncremental)
	}

	var run *SyncRun
	switch RunType(mode) {
	case RunIncremental:
		run, err = h.orch.RunIncrementalSync(c.Request().Context(), connectionID)
	case RunFull:
		run, err = h.orch.RunFullSync(c.Request().Context(), connectionID)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "mode must be incremental or full")
	}

	switch {
	case errors.Is(err, ErrRunInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil && run == nil:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// A failed or cancelled run is still a completed request; the summary
	// carries the detail.
	return c.JSON(http.StatusOK, run)
}

// GetRun handles GET /runs/:id.
func (h *Handler) GetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	run, err := h.runs.GetByID(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, run)
}

// ListRuns handles GET /connections/:id/runs.
func (h *Handler) ListRuns(c echo.Context) error {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection id")
	}
	p := pagination.FromContext(c)
	runs, total, err := h.runs.ListByConnection(c.Request().Context(), connectionID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if runs == nil {
		runs = []*SyncRun{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(runs, total, p.Limit, p.Offset))
}
