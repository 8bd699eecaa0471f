package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/status"
)

// buyerID extracts the authenticated buyer from the request. Identity is
// established upstream by the API gateway; this service trusts the header.
func buyerID(c echo.Context) string {
	return c.Request().Header.Get("X-Buyer-ID")
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"error": "X-Buyer-ID header is required",
	})
}

// writeError maps domain sentinel errors onto HTTP status codes.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, status.ErrTicketTypeNotFound),
		errors.Is(err, status.ErrReservationNotFound),
		errors.Is(err, status.ErrSagaNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})

	case errors.Is(err, status.ErrInsufficientInventory),
		errors.Is(err, status.ErrAlreadyTerminal),
		errors.Is(err, status.ErrSagaInProgress):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})

	case errors.Is(err, status.ErrSagaBuyerMismatch):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})

	case errors.Is(err, status.ErrPaymentDeclined),
		errors.Is(err, status.ErrPaymentTimeout):
		return c.JSON(http.StatusPaymentRequired, map[string]string{"error": err.Error()})

	case errors.Is(err, status.ErrPurchaseOrphaned):
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error":  err.Error(),
			"orphan": true,
		})

	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
}
