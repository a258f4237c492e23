package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, UserIDFromContext(c.Request().Context()))
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, path, header string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)
	return rec, mw(okHandler)(c)
}

func assertUnauthorized(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestTokenMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, TokenMiddleware(testSigningKey), "/api/v1/appointments", "")
	assertUnauthorized(t, err)
}

func TestTokenMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, TokenMiddleware(testSigningKey), "/api/v1/appointments", tt.header)
			assertUnauthorized(t, err)
		})
	}
}

func TestTokenMiddleware_IssuedTokenAccepted(t *testing.T) {
	tokenStr, err := IssueToken(testSigningKey, "therapist", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	rec, err := runMiddleware(t, TokenMiddleware(testSigningKey), "/api/v1/appointments", "Bearer "+tokenStr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "therapist" {
		t.Errorf("expected subject therapist in context, got %q", rec.Body.String())
	}
}

func TestTokenMiddleware_Rejects(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		claims Claims
		key    []byte
	}{
		{
			name: "expired",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    Issuer,
				Subject:   "therapist",
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
			}},
			key: testSigningKey,
		},
		{
			name: "wrong issuer",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "someone-else",
				Subject:   "therapist",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}},
			key: testSigningKey,
		},
		{
			name: "no expiry",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{
				Issuer:  Issuer,
				Subject: "therapist",
			}},
			key: testSigningKey,
		},
		{
			name: "wrong key",
			claims: Claims{RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    Issuer,
				Subject:   "therapist",
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			}},
			key: []byte("another-secret-key-of-enough-length"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokenStr := createTestToken(t, tt.claims, tt.key)
			_, err := runMiddleware(t, TokenMiddleware(testSigningKey), "/api/v1/appointments", "Bearer "+tokenStr)
			assertUnauthorized(t, err)
		})
	}
}

func TestTokenMiddleware_SkipsHealth(t *testing.T) {
	rec, err := runMiddleware(t, TokenMiddleware(testSigningKey), "/health", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestDevMiddleware_NoToken(t *testing.T) {
	rec, err := runMiddleware(t, DevMiddleware(testSigningKey), "/api/v1/patients", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != DevUser {
		t.Errorf("expected %q, got %q", DevUser, rec.Body.String())
	}
}

func TestDevMiddleware_ValidatesProvidedToken(t *testing.T) {
	_, err := runMiddleware(t, DevMiddleware(testSigningKey), "/api/v1/patients", "Bearer not-a-jwt")
	assertUnauthorized(t, err)
}

func TestIssueToken_Validation(t *testing.T) {
	if _, err := IssueToken(nil, "x", time.Hour); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := IssueToken(testSigningKey, "", time.Hour); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := IssueToken(testSigningKey, "x", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestParseToken_RoundTrip(t *testing.T) {
	tokenStr, err := IssueToken(testSigningKey, "therapist", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := ParseToken(testSigningKey, tokenStr)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "therapist" || claims.Issuer != Issuer {
		t.Errorf("unexpected claims: %+v", claims.RegisteredClaims)
	}
}

func TestTokenMiddleware_WebSocketQueryToken(t *testing.T) {
	token, err := IssueToken(testSigningKey, "agenda-ui", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	mw := TokenMiddleware(testSigningKey)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/live?access_token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	if err := mw(okHandler)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("expected handshake token accepted, got %v", err)
	}
	if rec.Body.String() != "agenda-ui" {
		t.Errorf("expected subject agenda-ui, got %q", rec.Body.String())
	}

	// Plain requests must still use the header.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/appointments?access_token="+token, nil)
	_, err = runMiddleware(t, mw, "/api/v1/appointments", "")
	assertUnauthorized(t, mw(okHandler)(e.NewContext(req, httptest.NewRecorder())))
	assertUnauthorized(t, err)
}
