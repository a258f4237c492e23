package agenda

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/psicoagenda/agenda/internal/domain/catalog"
	"github.com/psicoagenda/agenda/internal/platform/db"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/appointments", h.ListAppointments)
	api.POST("/appointments", h.CreateAppointment)
	api.GET("/appointments/:id", h.GetAppointment)
	api.PUT("/appointments/:id", h.UpdateAppointment)
	api.DELETE("/appointments/:id", h.CancelAppointment)
	api.PATCH("/appointments/:id/status", h.SetStatus)
	api.POST("/appointments/:id/paid", h.MarkPaid)
	api.GET("/patients/:document/appointments", h.ListPatientAppointments)

	api.GET("/blocks", h.ListBlocks)
	api.POST("/blocks", h.CreateBlock)
	api.PUT("/blocks/:id", h.UpdateBlock)
	api.DELETE("/blocks/:id", h.DeleteBlock)

	api.GET("/hours", h.GetHours)
	api.PUT("/hours", h.SetHours)
	api.GET("/config", h.GetConfig)
	api.PUT("/config", h.UpdateConfig)

	api.GET("/agenda/week", h.WeekGrid)
	api.GET("/agenda/free", h.FreeSlots)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidSlotSize):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrAppointmentConflict), errors.Is(err, ErrTimeBlocked),
		errors.Is(err, ErrBlockCoversAppointment), errors.Is(err, ErrBlockOverlap),
		errors.Is(err, ErrInvoiced):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Appointments --

type appointmentRequest struct {
	PatientDocument string           `json:"patient_document"`
	ServiceID       *uuid.UUID       `json:"service_id"`
	StartsAt        string           `json:"starts_at"`
	Modality        catalog.Modality `json:"modality"`
	Channel         Channel          `json:"channel"`
	Price           int64            `json:"price"`
	Paid            bool             `json:"paid"`
	Status          Status           `json:"status"`
	Motive          string           `json:"motive"`
	Notes           string           `json:"notes"`
}

func (r appointmentRequest) appointment() (*Appointment, error) {
	a := &Appointment{
		PatientDocument: r.PatientDocument,
		ServiceID:       r.ServiceID,
		Modality:        r.Modality,
		Channel:         r.Channel,
		Price:           r.Price,
		Paid:            r.Paid,
		Status:          r.Status,
		Motive:          r.Motive,
		Notes:           r.Notes,
	}
	if r.StartsAt != "" {
		at, err := ParseWhen(r.StartsAt)
		if err != nil {
			return nil, err
		}
		a.StartsAt = at
	}
	return a, nil
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var req appointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := req.appointment()
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.CreateAppointment(c.Request().Context(), a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req appointmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := req.appointment()
	if err != nil {
		return httpError(err)
	}
	a.ID = id
	if err := h.svc.UpdateAppointment(c.Request().Context(), a); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.CancelAppointment(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// rangeParams reads from/to query dates. to is exclusive and defaults to
// seven days after from; from defaults to the current Monday.
func rangeParams(c echo.Context) (time.Time, time.Time, error) {
	from := MondayOf(time.Now())
	if v := c.QueryParam("from"); v != "" {
		t, err := db.ParseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = t
	}
	to := from.AddDate(0, 0, 7)
	if v := c.QueryParam("to"); v != "" {
		t, err := db.ParseDate(v)
		if err != nil {
			return time.Time{}, time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = t
	}
	return from, to, nil
}

func (h *Handler) ListAppointments(c echo.Context) error {
	from, to, err := rangeParams(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListAppointments(c.Request().Context(), from, to)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListPatientAppointments(c echo.Context) error {
	items, err := h.svc.ListPatientAppointments(c.Request().Context(), c.Param("document"))
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req struct {
		Status Status `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetAppointmentStatus(c.Request().Context(), id, req.Status); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MarkPaid sets the paid flag. An empty body marks the appointment paid.
func (h *Handler) MarkPaid(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	req := struct {
		Paid *bool `json:"paid"`
	}{}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	paid := true
	if req.Paid != nil {
		paid = *req.Paid
	}
	if err := h.svc.MarkPaid(c.Request().Context(), id, paid); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Blocks --

type blockRequest struct {
	StartsAt string `json:"starts_at"`
	EndsAt   string `json:"ends_at"`
	Reason   string `json:"reason"`
}

func (r blockRequest) block() (*Block, error) {
	b := &Block{Reason: r.Reason}
	var err error
	if r.StartsAt != "" {
		if b.StartsAt, err = ParseWhen(r.StartsAt); err != nil {
			return nil, err
		}
	}
	if r.EndsAt != "" {
		if b.EndsAt, err = ParseWhen(r.EndsAt); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (h *Handler) CreateBlock(c echo.Context) error {
	var req blockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := req.block()
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.CreateBlock(c.Request().Context(), b); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) UpdateBlock(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req blockRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := req.block()
	if err != nil {
		return httpError(err)
	}
	b.ID = id
	if err := h.svc.UpdateBlock(c.Request().Context(), b); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBlock(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBlock(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListBlocks(c echo.Context) error {
	from, to, err := rangeParams(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListBlocks(c.Request().Context(), from, to)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Block{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Hours and config --

func (h *Handler) GetHours(c echo.Context) error {
	hours, err := h.svc.OperatingHours(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	if hours == nil {
		hours = []OperatingHours{}
	}
	return c.JSON(http.StatusOK, hours)
}

func (h *Handler) SetHours(c echo.Context) error {
	var hours []OperatingHours
	if err := c.Bind(&hours); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetOperatingHours(c.Request().Context(), hours); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hours)
}

func (h *Handler) GetConfig(c echo.Context) error {
	cfg, err := h.svc.ProfessionalConfig(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

func (h *Handler) UpdateConfig(c echo.Context) error {
	var cfg ProfessionalConfig
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateProfessionalConfig(c.Request().Context(), &cfg); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cfg)
}

// -- Grid --

func weekParams(c echo.Context) (time.Time, int, error) {
	start := time.Now()
	if v := c.QueryParam("start"); v != "" {
		t, err := db.ParseDate(v)
		if err != nil {
			return time.Time{}, 0, echo.NewHTTPError(http.StatusBadRequest, "start must be YYYY-MM-DD")
		}
		start = t
	}
	slot := 0
	if v := c.QueryParam("slot"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return time.Time{}, 0, echo.NewHTTPError(http.StatusBadRequest, "slot must be a number of minutes")
		}
		slot = n
	}
	return start, slot, nil
}

func (h *Handler) WeekGrid(c echo.Context) error {
	start, slot, err := weekParams(c)
	if err != nil {
		return err
	}
	g, err := h.svc.WeekGrid(c.Request().Context(), start, slot)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) FreeSlots(c echo.Context) error {
	start, slot, err := weekParams(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.FreeSlots(c.Request().Context(), start, slot)
	if err != nil {
		return httpError(err)
	}
	out := make([]string, len(slots))
	for i, t := range slots {
		out[i] = db.FormatTimestamp(t)
	}
	return c.JSON(http.StatusOK, out)
}
