// Package reporting answers read-only questions about the practice: the
// financial report, the rental package summary and a set of canned
// measures.
package reporting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/psicoagenda/agenda/internal/domain/rental"
	"github.com/psicoagenda/agenda/internal/platform/db"
)

// MeasureDefinition defines a reporting measure with its SQL query.
type MeasureDefinition struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SQL         string `json:"sql"`
}

// MeasureReport holds the results of evaluating a measure.
type MeasureReport struct {
	MeasureID   string           `json:"measure_id"`
	MeasureName string           `json:"measure_name"`
	GeneratedAt time.Time        `json:"generated_at"`
	Results     []map[string]any `json:"results"`
}

// PredefinedMeasures is the list of available reporting measures. The SQL
// runs unchanged on SQLite and PostgreSQL.
var PredefinedMeasures = []MeasureDefinition{
	{
		ID:          "patient-count",
		Name:        "Patient Count",
		Description: "Registered patients and how many of them have at least one appointment",
		SQL: `SELECT COUNT(*) AS total,
			COUNT(CASE WHEN EXISTS (SELECT 1 FROM appointments a WHERE a.patient_document = p.document) THEN 1 END) AS with_appointments
			FROM patients p`,
	},
	{
		ID:          "appointments-by-status",
		Name:        "Appointments by Status",
		Description: "Number of appointments grouped by status",
		SQL:         `SELECT status, COUNT(*) AS total FROM appointments GROUP BY status ORDER BY total DESC, status`,
	},
	{
		ID:          "appointments-by-channel",
		Name:        "Appointments by Channel",
		Description: "Number of appointments grouped by channel and modality",
		SQL:         `SELECT channel, modality, COUNT(*) AS total FROM appointments GROUP BY channel, modality ORDER BY channel, modality`,
	},
	{
		ID:          "services-by-modality",
		Name:        "Services by Modality",
		Description: "Catalog entries grouped by modality and company",
		SQL:         `SELECT modality, company, COUNT(*) AS total FROM services GROUP BY modality, company ORDER BY modality, company`,
	},
}

// FindMeasure looks up a measure by ID.
func FindMeasure(id string) *MeasureDefinition {
	for i := range PredefinedMeasures {
		if PredefinedMeasures[i].ID == id {
			return &PredefinedMeasures[i]
		}
	}
	return nil
}

// PackageSummarizer reports the rental package ledger.
type PackageSummarizer interface {
	Summary(ctx context.Context) (*rental.Summary, error)
}

// Reporter runs reports against the agenda database.
type Reporter struct {
	db       *db.DB
	packages PackageSummarizer
}

func NewReporter(d *db.DB, packages PackageSummarizer) *Reporter {
	return &Reporter{db: d, packages: packages}
}

// Evaluate runs a measure and returns its rows keyed by column name.
func (r *Reporter) Evaluate(ctx context.Context, m *MeasureDefinition) (*MeasureReport, error) {
	results, err := r.executeSQL(ctx, m.SQL)
	if err != nil {
		return nil, fmt.Errorf("measure %s: %w", m.ID, err)
	}
	return &MeasureReport{
		MeasureID:   m.ID,
		MeasureName: m.Name,
		GeneratedAt: time.Now(),
		Results:     results,
	}, nil
}

// executeSQL runs a SQL query and returns results as a slice of maps.
func (r *Reporter) executeSQL(ctx context.Context, query string) ([]map[string]any, error) {
	rows, err := r.db.Conn(ctx).Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	results := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, name := range cols {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
				continue
			}
			row[name] = values[i]
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// Handler provides HTTP handlers for the reporting API.
type Handler struct {
	reporter *Reporter
}

func NewHandler(r *Reporter) *Handler {
	return &Handler{reporter: r}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports")
	g.GET("/finance", h.Finance)
	g.GET("/packages", h.Packages)
	g.GET("/measures", h.ListMeasures)
	g.GET("/measures/:id/evaluate", h.EvaluateMeasure)
}

func (h *Handler) ListMeasures(c echo.Context) error {
	return c.JSON(http.StatusOK, PredefinedMeasures)
}

func (h *Handler) EvaluateMeasure(c echo.Context) error {
	m := FindMeasure(c.Param("id"))
	if m == nil {
		return echo.NewHTTPError(http.StatusNotFound, "measure not found")
	}
	report, err := h.reporter.Evaluate(c.Request().Context(), m)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("query failed: %v", err))
	}
	return c.JSON(http.StatusOK, report)
}

// Finance reports [from, to). Both default to the current calendar year.
func (h *Handler) Finance(c echo.Context) error {
	now := time.Now()
	from := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.Local)
	to := from.AddDate(1, 0, 0)
	if v := c.QueryParam("from"); v != "" {
		t, err := db.ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		from = t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := db.ParseDate(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "to must be YYYY-MM-DD")
		}
		to = t
	}
	if !from.Before(to) {
		return echo.NewHTTPError(http.StatusBadRequest, "from must be before to")
	}

	report, err := h.reporter.Finance(c.Request().Context(), from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) Packages(c echo.Context) error {
	s, err := h.reporter.packages.Summary(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, s)
}
