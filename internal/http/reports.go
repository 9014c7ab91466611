package http

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/hookpipe/hookpipe/internal/model"
	"github.com/hookpipe/hookpipe/internal/repository"
)

func listDeliveriesHandler(chRepo repository.CHDeliveriesRepository) echo.HandlerFunc {
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

		webhookID := strings.TrimSpace(c.QueryParam("webhook_id"))

		rows, err := chRepo.ListByTenant(
			c.Request().Context(),
			tid,
			webhookID,
			st,
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
