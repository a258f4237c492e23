package rental

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psicoagenda/agenda/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/packages", h.ListPackages)
	api.POST("/packages", h.CreatePackage)
	api.GET("/packages/summary", h.Summary)
	api.GET("/packages/:id", h.GetPackage)
	api.DELETE("/packages/:id", h.DeletePackage)
	api.GET("/packages/:id/consumptions", h.ListConsumptions)
}

type packageRequest struct {
	PurchasedOn string `json:"purchased_on"`
	Credits     int    `json:"credits"`
	TotalCost   int64  `json:"total_cost"`
	Notes       string `json:"notes"`
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "package not found")
	case errors.Is(err, ErrPackageInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) CreatePackage(c echo.Context) error {
	var req packageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &Package{Credits: req.Credits, TotalCost: req.TotalCost, Notes: req.Notes}
	if req.PurchasedOn != "" {
		on, err := db.ParseDate(req.PurchasedOn)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "purchased_on must be YYYY-MM-DD")
		}
		p.PurchasedOn = on
	}
	if err := h.svc.CreatePackage(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPackages(c echo.Context) error {
	items, err := h.svc.ListPackages(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Package{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPackage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPackage(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePackage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeletePackage(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListConsumptions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListConsumptions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Consumption{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Summary(c echo.Context) error {
	s, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s)
}
