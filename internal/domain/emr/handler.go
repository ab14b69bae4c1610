package emr

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
	clinical := api.Group("", auth.RequireRole(auth.ClinicalStaff...))
	clinical.GET("/patients/:id/chart", h.Chart)

	clinical.GET("/patients/:id/notes", h.ListNotes)
	clinical.POST("/patients/:id/notes", h.CreateNote)
	clinical.GET("/notes/:id", h.GetNote)
	clinical.PUT("/notes/:id", h.UpdateNote)

	clinical.GET("/patients/:id/vitals", h.ListVitals)
	clinical.POST("/patients/:id/vitals", h.RecordVitals)

	clinical.GET("/patients/:id/medications", h.ListMedications)
	clinical.GET("/patients/:id/allergies", h.ListAllergies)
	clinical.POST("/patients/:id/allergies", h.RecordAllergy)
	clinical.PATCH("/allergies/:id", h.UpdateAllergy)

	physician := api.Group("", auth.RequireRole(auth.RolePhysician))
	physician.POST("/notes/:id/sign", h.SignNote)
	physician.POST("/notes/:id/amend", h.AmendNote)
	physician.POST("/patients/:id/medications", h.Prescribe)
	physician.POST("/medications/:id/status", h.SetMedicationStatus)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNoteLocked), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDuplicateAllergy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func (h *Handler) Chart(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	chart, err := h.svc.Chart(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, chart)
}

// -- Notes --

func (h *Handler) CreateNote(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	var n ClinicalNote
	if err := c.Bind(&n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n.PatientID = patientID
	n.AuthorID = auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateNote(c.Request().Context(), &n); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) GetNote(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	n, err := h.svc.GetNote(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListNotes(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) UpdateNote(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var content ClinicalNote
	if err := c.Bind(&content); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.UpdateNote(c.Request().Context(), id, &content)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) SignNote(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	n, err := h.svc.SignNote(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

type amendRequest struct {
	ClinicalNote
	Reason string `json:"reason"`
}

func (h *Handler) AmendNote(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req amendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, err := h.svc.AmendNote(c.Request().Context(), id, &req.ClinicalNote, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, n)
}

// -- Vitals --

func (h *Handler) RecordVitals(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	var v VitalSigns
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	v.PatientID = patientID
	if user := auth.UserIDFromContext(c.Request().Context()); user != "" {
		v.RecordedBy = &user
	}
	if err := h.svc.RecordVitals(c.Request().Context(), &v); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVitals(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVitals(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Medications --

func (h *Handler) Prescribe(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	var m Medication
	if err := c.Bind(&m); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m.PatientID = patientID
	if user := auth.UserIDFromContext(c.Request().Context()); user != "" {
		m.PrescriberID = &user
	}
	if err := h.svc.Prescribe(c.Request().Context(), &m); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, m)
}

func (h *Handler) ListMedications(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListMedications(c.Request().Context(), patientID, c.QueryParam("status"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetMedicationStatus(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m, err := h.svc.SetMedicationStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

// -- Allergies --

func (h *Handler) RecordAllergy(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	var a Allergy
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a.PatientID = patientID
	if user := auth.UserIDFromContext(c.Request().Context()); user != "" {
		a.NotedBy = &user
	}
	if err := h.svc.RecordAllergy(c.Request().Context(), &a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAllergies(c echo.Context) error {
	patientID, err := idParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAllergies(c.Request().Context(), patientID, c.QueryParam("status"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdateAllergy(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var upd Allergy
	if err := c.Bind(&upd); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.UpdateAllergy(c.Request().Context(), id, &upd)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}
