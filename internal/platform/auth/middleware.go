// Package auth guards the local API with short HS256 tokens. The server is
// single-user, so a token only carries the subject it was issued to.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Issuer is stamped on every token and required when validating.
const Issuer = "agenda-server"

// DevUser is the subject assigned to unauthenticated requests in development.
const DevUser = "dev-user"

type contextKey string

const UserIDKey contextKey = "user_id"

type Claims struct {
	jwt.RegisteredClaims
}

// IssueToken signs a token for subject valid for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("token secret is empty")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates tokenStr and returns its claims.
func ParseToken(secret []byte, tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		// Browsers cannot set headers on a WebSocket handshake.
		if isUpgrade(c.Request()) {
			if tok := c.QueryParam("access_token"); tok != "" {
				return tok, nil
			}
		}
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func withUser(c echo.Context, subject string) {
	c.Set(string(UserIDKey), subject)
	ctx := context.WithValue(c.Request().Context(), UserIDKey, subject)
	c.SetRequest(c.Request().WithContext(ctx))
}

// TokenMiddleware rejects requests without a valid bearer token. Paths
// reported by AuthSkipper pass through untouched.
func TokenMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}
			claims, err := ParseToken(secret, tokenStr)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			withUser(c, claims.Subject)
			return next(c)
		}
	}
}

// DevMiddleware lets requests without an Authorization header through as
// DevUser. A provided token is still validated when secret is set.
func DevMiddleware(secret []byte) echo.MiddlewareFunc {
	strict := TokenMiddleware(secret)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		checked := strict(next)
		return func(c echo.Context) error {
			if c.Request().Header.Get("Authorization") == "" || len(secret) == 0 {
				withUser(c, DevUser)
				return next(c)
			}
			return checked(c)
		}
	}
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}
