package queue

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Yostina-hub/git-import-whys-sub001/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	desk := api.Group("", auth.RequireRole(auth.FrontDesk...))
	desk.POST("/queue/tickets", h.TakeTicket)
	desk.GET("/queue/tickets/:id", h.Get)
	desk.GET("/queue/:department/board", h.Board)
	desk.POST("/queue/tickets/:id/skip", h.Skip)
	desk.POST("/queue/tickets/:id/requeue", h.Requeue)
	desk.POST("/queue/tickets/:id/cancel", h.Cancel)

	clinical := api.Group("", auth.RequireRole(auth.ClinicalStaff...))
	clinical.POST("/queue/tickets/:id/triage", h.Triage)
	clinical.POST("/queue/:department/call-next", h.CallNext)
	clinical.POST("/queue/tickets/:id/start", h.StartConsult)
	clinical.POST("/queue/tickets/:id/complete", h.Complete)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrQueueEmpty):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

type takeTicketRequest struct {
	PatientID  uuid.UUID `json:"patient_id"`
	Department string    `json:"department"`
	Priority   string    `json:"priority"`
}

func (h *Handler) TakeTicket(c echo.Context) error {
	var req takeTicketRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.TakeTicket(c.Request().Context(), req.PatientID, req.Department, req.Priority)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Get(c echo.Context) error { return h.step(c, h.svc.Get) }
func (h *Handler) StartConsult(c echo.Context) error { return h.step(c, h.svc.StartConsult) }
func (h *Handler) Complete(c echo.Context) error { return h.step(c, h.svc.Complete) }
func (h *Handler) Skip(c echo.Context) error { return h.step(c, h.svc.Skip) }
func (h *Handler) Requeue(c echo.Context) error { return h.step(c, h.svc.Requeue) }
func (h *Handler) Cancel(c echo.Context) error { return h.step(c, h.svc.Cancel) }

func (h *Handler) step(c echo.Context, fn func(context.Context, uuid.UUID) (*Ticket, error)) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := fn(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

type triageRequest struct {
	Priority string `json:"priority"`
}

func (h *Handler) Triage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req triageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.Triage(c.Request().Context(), id, req.Priority)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) CallNext(c echo.Context) error {
	t, err := h.svc.CallNext(c.Request().Context(), c.Param("department"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Board(c echo.Context) error {
	b, err := h.svc.Board(c.Request().Context(), c.Param("department"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}
