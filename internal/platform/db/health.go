package db

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	Dialect      string `json:"dialect"`
	OpenConns    int    `json:"open_conns"`
	InUse        int    `json:"in_use"`
	Idle         int    `json:"idle"`
	MaxOpenConns int    `json:"max_open_conns"`
	WaitCount    int64  `json:"wait_count"`
	WaitDuration string `json:"wait_duration"`
	Healthy      bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(d *DB) *PoolStats {
	stat := d.Stats()
	return &PoolStats{
		Dialect:      string(d.Dialect),
		OpenConns:    stat.OpenConnections,
		InUse:        stat.InUse,
		Idle:         stat.Idle,
		MaxOpenConns: stat.MaxOpenConnections,
		WaitCount:    stat.WaitCount,
		WaitDuration: stat.WaitDuration.String(),
		Healthy:      stat.OpenConnections > 0,
	}
}

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(d *DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		err := d.PingContext(ctx)
		stats := GetPoolStats(d)

		if err != nil {
			stats.Healthy = false
			return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
				"pool":   stats,
			})
		}

		stats.Healthy = true
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"pool":   stats,
		})
	}
}
