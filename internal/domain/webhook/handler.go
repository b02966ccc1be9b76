package webhook

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/holovitals/synccore/pkg/pagination"
)

// Handler exposes webhook subscription management over HTTP.
type Handler struct {
	svc *Service
}

// NewHandler creates a webhook handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes binds webhook routes to the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/webhooks", h.RegisterSubscription)
	g.GET("/webhooks", h.ListSubscriptions)
	g.GET("/webhooks/:id", h.GetSubscription)
	g.DELETE("/webhooks/:id", h.DeleteSubscription)
	g.GET("/webhooks/:id/deliveries", h.ListDeliveries)
}

type registerRequest struct {
	Provider     string            `json:"provider"`
	ConnectionID uuid.UUID         `json:"connection_id"`
	URL          string            `json:"url"`
	Secret       string            `json:"secret"`
	Events       []string          `json:"events"`
	Backoff      Backoff           `json:"backoff"`
	MaxAttempts  int               `json:"max_attempts"`
	RetryDelayMS int64             `json:"retry_delay_ms"`
	TimeoutMS    int64             `json:"timeout_ms"`
	Headers      map[string]string `json:"headers"`
}

// RegisterSubscription handles POST /webhooks.
func (h *Handler) RegisterSubscription(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sub := &Subscription{
		Provider:     req.Provider,
		ConnectionID: req.ConnectionID,
		URL:          req.URL,
		Secret:       req.Secret,
		Events:       req.Events,
		Backoff:      req.Backoff,
		MaxAttempts:  req.MaxAttempts,
		RetryDelay:   time.Duration(req.RetryDelayMS) * time.Millisecond,
		Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
		Headers:      req.Headers,
	}
	if err := h.svc.Register(c.Request().Context(), sub); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, sub)
}

// ListSubscriptions handles GET /webhooks?provider=&connection_id=.
func (h *Handler) ListSubscriptions(c echo.Context) error {
	var connectionID *uuid.UUID
	if raw := c.QueryParam("connection_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid connection_id")
		}
		connectionID = &id
	}
	p := pagination.FromContext(c)
	subs, total, err := h.svc.List(c.Request().Context(), c.QueryParam("provider"), connectionID, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(subs, total, p.Limit, p.Offset))
}

// GetSubscription handles GET /webhooks/:id.
func (h *Handler) GetSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subscription id")
	}
	sub, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
	}
	return c.JSON(http.StatusOK, sub)
}

// DeleteSubscription handles DELETE /webhooks/:id.
func (h *Handler) DeleteSubscription(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subscription id")
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "subscription not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDeliveries handles GET /webhooks/:id/deliveries.
func (h *Handler) ListDeliveries(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid subscription id")
	}
	p := pagination.FromContext(c)
	logs, total, err := h.svc.Deliveries(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, total, p.Limit, p.Offset))
}
