package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/hookpipe/hookpipe/internal/http/middleware"
	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/service/registry"
)

func tenantID(c echo.Context) (int64, bool) {
	id, ok := middleware.TenantIDFromCtx(c)
	return id, ok && id > 0
}

func pagination(c echo.Context) (limit, offset int) {
	limit, offset = 50, 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func registryError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "webhook not found"})
	case errors.Is(err, registry.ErrValidation):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Errorf("registry error: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
	}
}

func createWebhookHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var spec registry.CreateSpec
		if err := c.Bind(&spec); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		wh, err := svc.Create(c.Request().Context(), tid, spec)
		if err != nil {
			return registryError(c, err)
		}
		// Secret is included here and never again.
		return c.JSON(http.StatusCreated, wh)
	}
}

func listWebhooksHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit, offset := pagination(c)

		var st model.WebhookStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.WebhookStatus(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		rows, err := svc.List(c.Request().Context(), tid, st, limit, offset)
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}

func getWebhookHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		wh, err := svc.Get(c.Request().Context(), tid, c.Param("id"))
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, wh)
	}
}

func updateWebhookHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		var patch registry.Patch
		if err := c.Bind(&patch); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}

		wh, err := svc.Update(c.Request().Context(), tid, c.Param("id"), patch)
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, wh)
	}
}

func deleteWebhookHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if err := svc.Delete(c.Request().Context(), tid, c.Param("id")); err != nil {
			return registryError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func rotateSecretHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		secret, err := svc.RotateSecret(c.Request().Context(), tid, c.Param("id"))
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]string{"secret": secret})
	}
}

func testWebhookHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		res, err := svc.TestDelivery(c.Request().Context(), tid, c.Param("id"))
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func webhookLogsHandler(svc *registry.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		tid, ok := tenantID(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit, offset := pagination(c)

		var st model.DeliveryStatus
		if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
			tmp := model.DeliveryStatus(raw)
			if tmp.Valid() {
				st = tmp
			}
		}

		rows, err := svc.Logs(c.Request().Context(), tid, c.Param("id"), st, limit, offset)
		if err != nil {
			return registryError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
