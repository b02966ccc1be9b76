package identity

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler exposes identity resolution and challenge flows over HTTP.
type Handler struct {
	svc    *Service
	linker ConnectionLinker
}

// NewHandler creates an identity handler.
func NewHandler(svc *Service, linker ConnectionLinker) *Handler {
	return &Handler{svc: svc, linker: linker}
}

// RegisterRoutes binds identity routes to the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/identities/resolve", h.ResolveIdentity)
	g.GET("/identities/:id", h.GetIdentity)
	g.POST("/identities/:id/challenges", h.CreateChallenge)
	g.POST("/identities/challenges/verify", h.VerifyChallenge)
}

type resolveIdentityRequest struct {
	UserID uuid.UUID       `json:"user_id"`
	Fields CandidateFields `json:"fields"`
}

// ResolveIdentity handles POST /identities/resolve.
func (h *Handler) ResolveIdentity(c echo.Context) error {
	var req resolveIdentityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.svc.Resolve(c.Request().Context(), req.UserID, req.Fields)
	if errors.Is(err, ErrAmbiguousMatch) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// GetIdentity handles GET /identities/:id.
func (h *Handler) GetIdentity(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid identity id")
	}
	rec, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "identity not found")
	}
	return c.JSON(http.StatusOK, rec)
}

type challengeResponse struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Questions   []string  `json:"questions"`
	ExpiresAt   string    `json:"expires_at"`
	Token       string    `json:"token"`
}

// CreateChallenge handles POST /identities/:id/challenges.
func (h *Handler) CreateChallenge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid identity id")
	}
	ch, token, err := h.svc.CreateChallenge(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "identity not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusCreated, challengeResponse{
		ChallengeID: ch.ID,
		Questions:   ch.Questions,
		ExpiresAt:   ch.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"),
		Token:       token,
	})
}

type verifyChallengeRequest struct {
	Token   string   `json:"token"`
	Answers []string `json:"answers"`

	// ConnectionID, when set, re-links that connection to the verified
	// identity.
	ConnectionID *uuid.UUID `json:"connection_id,omitempty"`
}

// VerifyChallenge handles POST /identities/challenges/verify.
func (h *Handler) VerifyChallenge(c echo.Context) error {
	var req verifyChallengeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var identityID uuid.UUID
	var err error
	if req.ConnectionID != nil {
		identityID, err = h.svc.Recover(c.Request().Context(), h.linker, req.Token, req.Answers, *req.ConnectionID)
	} else {
		identityID, err = h.svc.VerifyChallenge(c.Request().Context(), req.Token, req.Answers)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidChallengeToken):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrChallengeExpired), errors.Is(err, ErrChallengeExhausted):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, ErrChallengeFailed):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrChallengeNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"identity_id": identityID.String()})
}
