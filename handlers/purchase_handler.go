package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/saga"
	"ticket-checkout/internal/status"
)

type PurchaseHandler struct {
	orchestrator *saga.Orchestrator
}

func NewPurchaseHandler(orchestrator *saga.Orchestrator) *PurchaseHandler {
	return &PurchaseHandler{orchestrator: orchestrator}
}

// Purchase - Run the full reserve-charge-confirm flow in one call. Repeating
// a correlation id replays the stored outcome instead of buying twice.
func (h *PurchaseHandler) Purchase(c echo.Context) error {
	buyer := buyerID(c)
	if buyer == "" {
		return unauthorized(c)
	}

	var req saga.PurchaseRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	req.BuyerID = buyer

	result, err := h.orchestrator.Purchase(c.Request().Context(), req)
	if err != nil {
		if result != nil {
			return writePurchaseFailure(c, result, err)
		}
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// GetPurchase - Fetch the stored saga record for a correlation id
func (h *PurchaseHandler) GetPurchase(c echo.Context) error {
	buyer := buyerID(c)
	if buyer == "" {
		return unauthorized(c)
	}

	record, err := h.orchestrator.Get(c.Request().Context(), c.PathParam("id"))
	if err != nil {
		return writeError(c, err)
	}
	if record.BuyerID != buyer {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Not your purchase"})
	}

	return c.JSON(http.StatusOK, record)
}

// writePurchaseFailure reports a failed saga with both the failure class in
// the status code and the terminal outcome in the body.
func writePurchaseFailure(c echo.Context, result *saga.PurchaseResult, err error) error {
	body := map[string]any{
		"error":          err.Error(),
		"correlation_id": result.CorrelationID,
		"outcome":        result.Outcome,
	}
	if result.FailureReason != "" {
		body["failure_reason"] = result.FailureReason
	}

	switch {
	case errors.Is(err, status.ErrPurchaseOrphaned):
		body["orphan"] = true
		return c.JSON(http.StatusInternalServerError, body)
	case errors.Is(err, status.ErrPaymentDeclined), errors.Is(err, status.ErrPaymentTimeout):
		return c.JSON(http.StatusPaymentRequired, body)
	case errors.Is(err, status.ErrTicketTypeNotFound):
		return c.JSON(http.StatusNotFound, body)
	case errors.Is(err, status.ErrInsufficientInventory):
		return c.JSON(http.StatusConflict, body)
	default:
		return c.JSON(http.StatusConflict, body)
	}
}
