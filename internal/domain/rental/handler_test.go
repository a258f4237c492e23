package rental

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _, _ := newTestService()
	return NewHandler(svc), echo.New()
}

func assertHTTPCode(t *testing.T, err error, want int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != want {
		t.Errorf("expected %d, got %d", want, httpErr.Code)
	}
}

func TestHandler_CreatePackage(t *testing.T) {
	h, e := newTestHandler()
	body := `{"purchased_on":"2026-03-01","credits":8,"total_cost":160000}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreatePackage(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Package
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Credits != 8 || p.ID == uuid.Nil {
		t.Errorf("unexpected package: %+v", p)
	}
}

func TestHandler_CreatePackage_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad date", `{"purchased_on":"01/03/2026","credits":8}`},
		{"no credits", `{"purchased_on":"2026-03-01","credits":0}`},
		{"missing date", `{"credits":3}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			c := e.NewContext(req, httptest.NewRecorder())
			assertHTTPCode(t, h.CreatePackage(c), http.StatusBadRequest)
		})
	}
}

func TestHandler_GetPackage_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	assertHTTPCode(t, h.GetPackage(c), http.StatusNotFound)
}

func TestHandler_GetPackage_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	assertHTTPCode(t, h.GetPackage(c), http.StatusBadRequest)
}

func TestHandler_DeletePackage_InUse(t *testing.T) {
	h, e := newTestHandler()
	ctx := context.Background()
	p := mustCreatePackage(t, h.svc, day(2026, 1, 1), 2, 0)
	if err := h.svc.Consume(ctx, uuid.New(), day(2026, 1, 2)); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	assertHTTPCode(t, h.DeletePackage(c), http.StatusConflict)
}

func TestHandler_ListPackages_Empty(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListPackages(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("expected empty JSON array, got %q", rec.Body.String())
	}
}

func TestHandler_Summary(t *testing.T) {
	h, e := newTestHandler()
	mustCreatePackage(t, h.svc, day(2026, 1, 1), 4, 400)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Summary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var s Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.TotalCredits != 4 || s.CostPerCredit != 100 {
		t.Errorf("unexpected summary: %+v", s)
	}
}
