package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	checks map[string]Pinger
}

func NewHandler(checks map[string]Pinger) *Handler { return &Handler{checks: checks} }

func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	deps := map[string]string{}
	for name, p := range h.checks {
		if err := p.PingContext(ctx); err != nil {
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}
	return c.JSON(code, map[string]any{
		"status": status,
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
		"deps":   deps,
	})
}
