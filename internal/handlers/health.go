package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"legalup_payments/internal/services"
)

type HealthHandler struct {
	db    *gorm.DB
	cache *services.RedisCache
}

func NewHealthHandler(db *gorm.DB, cache *services.RedisCache) *HealthHandler {
	return &HealthHandler{db: db, cache: cache}
}

// Healthz fails only when the database is unreachable
func (h *HealthHandler) Healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"database": "ok", "cache": "ok"}
	code := http.StatusOK

	if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unreachable"
		code = http.StatusServiceUnavailable
	}
	if h.cache == nil {
		checks["cache"] = "disabled"
	} else if err := h.cache.Ping(ctx); err != nil {
		// lookups fall through to the database
		checks["cache"] = "unreachable"
	}

	return c.JSON(code, checks)
}
