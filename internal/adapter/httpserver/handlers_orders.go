package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/orderfeed/internal/domain"
	apperrors "github.com/pscheid92/orderfeed/internal/platform/errors"
)

// breakerRetryAfter matches the snapshot breaker's open delay.
const breakerRetryAfter = "30"

// handleOrders returns the most recently updated orders, newest first.
// ?limit=n narrows the result; values above SNAPSHOT_LIMIT are capped.
// Every store failure is a 500, including a fast fail from the open breaker.
func (s *Server) handleOrders(c echo.Context) error {
	limit, err := s.parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}

	records, err := s.snapshots.Snapshot(c.Request().Context(), limit)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		c.Response().Header().Set("Retry-After", breakerRetryAfter)
		return apperrors.InternalError("orders temporarily unavailable", err)
	}
	if err != nil {
		return apperrors.InternalError(err.Error(), err)
	}

	if records == nil {
		records = []domain.Record{}
	}
	if err := c.JSON(http.StatusOK, records); err != nil {
		return fmt.Errorf("failed to write orders response: %w", err)
	}
	return nil
}

func (s *Server) parseLimit(raw string) (int, error) {
	maxLimit := s.config.SnapshotLimit
	if raw == "" {
		return maxLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, apperrors.ValidationError("limit must be a positive integer").WithField("limit", raw)
	}
	return min(limit, maxLimit), nil
}
