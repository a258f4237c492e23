package billing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func httpCode(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func postInvoice(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_GenerateInvoice(t *testing.T) {
	svc, repo := newTestService()
	h, e := NewHandler(svc), echo.New()
	repo.pending["Sura"] = []Item{{AppointmentID: uuid.New(), Price: 90000}}

	body := `{"company":"Sura","from":"2026-03-01","to":"2026-04-01"}`
	c, rec := postInvoice(e, body)
	if err := h.GenerateInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var inv Invoice
	if err := json.Unmarshal(rec.Body.Bytes(), &inv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if inv.Number != "2026-0001" || inv.Total != 90000 {
		t.Errorf("unexpected invoice %+v", inv)
	}

	c, _ = postInvoice(e, body)
	if code := httpCode(t, h.GenerateInvoice(c)); code != http.StatusConflict {
		t.Errorf("expected 409 when nothing is left, got %d", code)
	}

	c, _ = postInvoice(e, `{"company":"Sura","from":"marzo","to":"2026-04-01"}`)
	if code := httpCode(t, h.GenerateInvoice(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", code)
	}
}

func TestHandler_GetInvoice_NotFound(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.NewString())
	if code := httpCode(t, h.GetInvoice(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListInvoices_Empty(t *testing.T) {
	svc, _ := newTestService()
	h, e := NewHandler(svc), echo.New()

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/invoices", nil), rec)
	if err := h.ListInvoices(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", rec.Body.String())
	}
}
