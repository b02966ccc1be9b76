package conflict

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/holovitals/synccore/pkg/pagination"
)

// Handler exposes conflict review and resolution over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler creates a conflict handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes binds conflict routes to the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/conflicts", h.ListConflicts)
	g.GET("/conflicts/:id", h.GetConflict)
	g.POST("/conflicts/:id/resolve", h.ResolveConflict)
}

// ListConflicts handles GET /conflicts. Filters are optional; no matching
// conflicts is an empty list, not an error.
func (h *Handler) ListConflicts(c echo.Context) error {
	var resourceID *uuid.UUID
	if raw := c.QueryParam("resource_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid resource_id")
		}
		resourceID = &id
	}
	p := pagination.FromContext(c)
	recs, total, err := h.engine.List(c.Request().Context(), c.QueryParam("resource_type"), resourceID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, p.Limit, p.Offset))
}

// GetConflict handles GET /conflicts/:id.
func (h *Handler) GetConflict(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conflict id")
	}
	rec, err := h.engine.repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "conflict not found")
	}
	return c.JSON(http.StatusOK, rec)
}

type resolveRequest struct {
	Strategy     Strategy `json:"strategy"`
	ResolvedBy   string   `json:"resolved_by"`
	Reason       string   `json:"reason"`
	MergeProfile string   `json:"merge_profile"`
}

// ResolveConflict handles POST /conflicts/:id/resolve.
func (h *Handler) ResolveConflict(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid conflict id")
	}
	var req resolveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	err = h.engine.Resolve(c.Request().Context(), id, req.Strategy, req.ResolvedBy, ResolveOptions{
		Reason:       req.Reason,
		MergeProfile: req.MergeProfile,
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrStaleConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conflict not found")
	case errors.Is(err, ErrUnknownMergeProfile):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	rec, err := h.engine.repo.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}
