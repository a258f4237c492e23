package backup

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/backups", h.Run)
	api.GET("/backups", h.List)
}

func (h *Handler) Run(c echo.Context) error {
	rec, err := h.mgr.Run(c.Request().Context())
	if errors.Is(err, ErrUnsupportedDriver) {
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rec)
}

// List returns the stored backups and the last recorded run.
func (h *Handler) List(c echo.Context) error {
	items, err := h.mgr.List()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp := map[string]any{"backups": items}
	if last, err := h.mgr.Last(); err == nil {
		resp["last"] = last
	}
	return c.JSON(http.StatusOK, resp)
}
