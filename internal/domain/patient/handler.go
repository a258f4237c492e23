package patient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psicoagenda/agenda/internal/platform/db"
	"github.com/psicoagenda/agenda/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.SearchPatients)
	api.POST("/patients", h.CreatePatient)
	api.GET("/patients/:document", h.GetPatient)
	api.PUT("/patients/:document", h.UpdatePatient)
	api.DELETE("/patients/:document", h.DeletePatient)
	api.GET("/patients/:document/notes", h.ListNotes)
	api.POST("/patients/:document/notes", h.AddNote)
	api.DELETE("/notes/:id", h.DeleteNote)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	p, err := h.svc.GetPatient(c.Request().Context(), c.Param("document"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchPatients(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) UpdatePatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p.Document = c.Param("document")
	if err := h.svc.UpdatePatient(c.Request().Context(), &p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePatient(c echo.Context) error {
	if err := h.svc.DeletePatient(c.Request().Context(), c.Param("document")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type noteRequest struct {
	NoteDate      string `json:"note_date"`
	DiagnosisCode string `json:"diagnosis_code"`
	Body          string `json:"body"`
}

func (h *Handler) AddNote(c echo.Context) error {
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n := &ClinicalNote{
		PatientDocument: c.Param("document"),
		DiagnosisCode:   req.DiagnosisCode,
		Body:            req.Body,
	}
	if req.NoteDate != "" {
		d, err := db.ParseDate(req.NoteDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "note_date must be YYYY-MM-DD")
		}
		n.NoteDate = d
	}
	if err := h.svc.AddNote(c.Request().Context(), n); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	items, err := h.svc.ListNotes(c.Request().Context(), c.Param("document"))
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ClinicalNote{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeleteNote(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteNote(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
