package patient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	return httpErr.Code
}

func TestHandler_CreatePatient(t *testing.T) {
	h, e := newTestHandler()
	body := `{"document":"1020304050","first_name":"Ana","last_name":"Gómez"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(req, httptest.NewRecorder())
	if code := httpCode(t, h.CreatePatient(c)); code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", code)
	}
}

func TestHandler_CreatePatient_BadRequest(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"document":"1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	if code := httpCode(t, h.CreatePatient(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("document")
	c.SetParamValues("missing")

	if code := httpCode(t, h.GetPatient(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_SearchPatients(t *testing.T) {
	h, e := newTestHandler()
	h.svc.CreatePatient(context.Background(), validPatient())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients?q=ana", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.SearchPatients(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Data  []Patient `json:"data"`
		Total int       `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Errorf("expected 1 match, got %+v", resp)
	}
}

func TestHandler_AddNote(t *testing.T) {
	h, e := newTestHandler()
	p := validPatient()
	h.svc.CreatePatient(context.Background(), p)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note_date":"2026-03-02","body":"Evolución favorable"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("document")
	c.SetParamValues(p.Document)

	if err := h.AddNote(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_AddNote_BadDate(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note_date":"02/03/2026","body":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("document")
	c.SetParamValues("1020304050")

	if code := httpCode(t, h.AddNote(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_DeletePatient(t *testing.T) {
	h, e := newTestHandler()
	p := validPatient()
	h.svc.CreatePatient(context.Background(), p)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("document")
	c.SetParamValues(p.Document)

	if err := h.DeletePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_DeletePatient_InvoicedAppointments(t *testing.T) {
	h, e := newTestHandler()
	p := validPatient()
	h.svc.CreatePatient(context.Background(), p)
	h.svc.SetCanceller(&recordingCanceller{err: fmt.Errorf("%w: appointment 42", ErrInUse)})

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("document")
	c.SetParamValues(p.Document)

	if code := httpCode(t, h.DeletePatient(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
	if _, err := h.svc.GetPatient(context.Background(), p.Document); err != nil {
		t.Errorf("patient should be kept: %v", err)
	}
}
