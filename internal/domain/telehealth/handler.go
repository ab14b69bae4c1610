package telehealth

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/domain/consent"
	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
	"github.com/Yostina-hub/git-import-whys-sub001/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	participants := append([]string{auth.RolePatient}, auth.FrontDesk...)

	read := api.Group("", auth.RequireRole(auth.FrontDesk...))
	read.GET("/telehealth/sessions/:id", h.Get)
	read.GET("/telehealth/rooms/:room", h.GetByRoom)
	read.GET("/appointments/:id/telehealth", h.GetByAppointment)

	join := api.Group("", auth.RequireRole(participants...))
	join.POST("/telehealth/sessions/:id/ticket", h.Ticket)
	join.POST("/telehealth/sessions/:id/quality", h.RecordQuality)
	join.GET("/telehealth/ice-servers", h.ICEServers)

	clinical := api.Group("", auth.RequireRole(auth.ClinicalStaff...))
	clinical.POST("/telehealth/sessions/:id/end", h.End)
	clinical.GET("/telehealth/sessions/:id/quality", h.ListQuality)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrSessionClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, consent.ErrConsentRequired):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetByRoom(c echo.Context) error {
	sess, err := h.svc.GetByRoom(c.Request().Context(), c.Param("room"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) GetByAppointment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.GetByAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) Ticket(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req struct {
		PeerID string `json:"peer_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ticket, err := h.svc.IssueTicket(c.Request().Context(), id, req.PeerID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, ticket)
}

func (h *Handler) ICEServers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"ice_servers": h.svc.ICEServers()})
}

func (h *Handler) End(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.End(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (h *Handler) RecordQuality(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var q QualityReport
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RecordQuality(c.Request().Context(), id, &q); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *Handler) ListQuality(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	reports, err := h.svc.ListQuality(c.Request().Context(), id, pagination.FromContext(c).Limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reports)
}
