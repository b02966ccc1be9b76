package connection

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/holovitals/synccore/pkg/pagination"
)

// Handler exposes connection management over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a connection handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes binds connection routes to the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/connections", h.CreateConnection)
	g.GET("/connections", h.ListConnections)
	g.GET("/connections/:id", h.GetConnection)
	g.POST("/connections/:id/disconnect", h.DisconnectConnection)
}

type createRequest struct {
	UserID             uuid.UUID  `json:"user_id"`
	Vendor             string     `json:"vendor"`
	Endpoint           string     `json:"endpoint"`
	AccessToken        string     `json:"access_token"`
	RefreshToken       string     `json:"refresh_token"`
	TokenExpiresAt     *time.Time `json:"token_expires_at"`
	SyncCadenceSeconds int64      `json:"sync_cadence_seconds"`
}

// CreateConnection handles POST /connections.
func (h *Handler) CreateConnection(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conn := &Connection{
		UserID:         req.UserID,
		Vendor:         req.Vendor,
		Endpoint:       req.Endpoint,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		TokenExpiresAt: req.TokenExpiresAt,
		SyncCadence:    time.Duration(req.SyncCadenceSeconds) * time.Second,
	}
	if err := h.svc.Create(c.Request().Context(), conn); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, conn)
}

// ListConnections handles GET /connections?user_id=.
func (h *Handler) ListConnections(c echo.Context) error {
	userID, err := uuid.Parse(c.QueryParam("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id query parameter is required")
	}
	p := pagination.FromContext(c)
	conns, total, err := h.svc.ListByUser(c.Request().Context(), userID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if conns == nil {
		conns = []*Connection{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(conns, total, p.Limit, p.Offset))
}

// GetConnection handles GET /connections/:id.
func (h *Handler) GetConnection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection id")
	}
	conn, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "connection not found")
	}
	return c.JSON(http.StatusOK, conn)
}

// DisconnectConnection handles POST /connections/:id/disconnect.
func (h *Handler) DisconnectConnection(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid connection id")
	}
	if err := h.svc.Disconnect(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "connection not found")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": string(StatusDisconnected)})
}
