package billing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

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
	g := api.Group("", auth.RequireRole(auth.BillingStaff...))
	g.GET("/invoices", h.ListInvoices)
	g.GET("/invoices/:id", h.GetInvoice)
	g.POST("/invoices", h.CreateInvoice)
	g.POST("/invoices/:id/items", h.AddLineItem)
	g.DELETE("/invoices/:id/items/:item", h.RemoveLineItem)
	g.POST("/invoices/:id/issue", h.Issue)
	g.POST("/invoices/:id/cancel", h.Cancel)
	g.POST("/invoices/:id/payments", h.RecordPayment)

	g.GET("/price-list", h.ListPrices)
	g.GET("/price-list/:code", h.GetPrice)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.PUT("/price-list/:code", h.SetPrice)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPriceNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotEditable), errors.Is(err, ErrOverpayment):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func invoiceID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) CreateInvoice(c echo.Context) error {
	var inv Invoice
	if err := c.Bind(&inv); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateInvoice(c.Request().Context(), &inv); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	params := map[string]string{}
	for _, k := range []string{"patient", "status", "number", "issued", "created", "_sort"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.svc.SearchInvoices(c.Request().Context(), params, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) AddLineItem(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	var in LineItemInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.AddLineItem(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) RemoveLineItem(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	itemID, err := uuid.Parse(c.Param("item"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid item id")
	}
	inv, err := h.svc.RemoveLineItem(c.Request().Context(), id, itemID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Issue(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.Issue(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.Cancel(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := invoiceID(c)
	if err != nil {
		return err
	}
	var p Payment
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if p.ReceivedBy == nil {
		if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
			p.ReceivedBy = &uid
		}
	}
	inv, err := h.svc.RecordPayment(c.Request().Context(), id, &p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) ListPrices(c echo.Context) error {
	items, err := h.svc.ListPrices(c.Request().Context(), c.QueryParam("all") != "true")
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPrice(c echo.Context) error {
	item, err := h.svc.GetPrice(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) SetPrice(c echo.Context) error {
	item := PriceListItem{Active: true}
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	item.ServiceCode = c.Param("code")
	if err := h.svc.SetPrice(c.Request().Context(), &item); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, item)
}
