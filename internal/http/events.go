package http

import (
	"encoding/json"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/hookpipe/hookpipe/internal/dispatcher"
)

type ingestReq struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ingestEventHandler accepts a domain event over HTTP and fans it out.
// Enqueue failures for individual webhooks are isolated and logged; the
// producer only ever sees 202.
func ingestEventHandler(disp *dispatcher.Dispatcher) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var req ingestReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		req.Type = strings.TrimSpace(req.Type)
		if req.Type == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing event type"})
		}
		if len(req.Payload) == 0 {
			req.Payload = json.RawMessage(`{}`)
		}

		n, err := disp.Dispatch(c.Request().Context(), tid, req.Type, req.Payload)
		if err != nil {
			log.Errorf("dispatch failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusAccepted, map[string]any{
			"accepted": true,
			"type":     req.Type,
			"enqueued": n,
		})
	}
}
