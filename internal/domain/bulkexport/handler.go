package bulkexport

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/holovitals/synccore/pkg/pagination"
)

// Runner executes a bulk export through the sync pipeline. Implemented by
// the sync orchestrator, which owns the run lock and the ingest path.
type Runner interface {
	RunBulkExport(ctx context.Context, connectionID uuid.UUID, scope Scope, types []string, since *time.Time) (*BulkExportJob, error)
}

// Handler exposes bulk export kickoff and status over HTTP.
type Handler struct {
	runner Runner
	repo   Repository
}

// NewHandler creates a bulk export handler.
func NewHandler(runner Runner, repo Repository) *Handler {
	return &Handler{runner: runner, repo: repo}
}

// RegisterRoutes binds bulk export routes to the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/connections/:id/export", h.StartExport)
	g.GET("/connections/:id/exports", h.ListExports)
	g.GET("/exports/:id", h.GetExport)
}

type startExportRequest struct {
	Scope Scope      `json:"scope"`
	Types []string   `json:"types"`
	Since *time.Time `json:"since"`
}

// StartExport handles POST /connections/:id/export. The export runs to a
// terminal state before responding; poll GET /exports/:id from another
// client to watch progress.
func (h *Handler) StartExport(c echo.Context) error {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection id")
	}
	req := startExportRequest{Scope: ScopePatient}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !req.Scope.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scope")
	}

	job, err := h.runner.RunBulkExport(c.Request().Context(), connectionID, req.Scope, req.Types, req.Since)
	if err != nil && job == nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, ErrExportTimeout) {
		return c.JSON(http.StatusGatewayTimeout, job)
	}
	return c.JSON(http.StatusOK, job)
}

// GetExport handles GET /exports/:id.
func (h *Handler) GetExport(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid export id")
	}
	job, err := h.repo.GetByID(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "export not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, job)
}

// ListExports handles GET /connections/:id/exports.
func (h *Handler) ListExports(c echo.Context) error {
	connectionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection id")
	}
	p := pagination.FromContext(c)
	jobs, total, err := h.repo.ListByConnection(c.Request().Context(), connectionID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if jobs == nil {
		jobs = []*BulkExportJob{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(jobs, total, p.Limit, p.Offset))
}
