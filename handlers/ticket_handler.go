package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/ledger"
	"ticket-checkout/internal/reservation"
)

type TicketHandler struct {
	store  reservation.Store
	ledger ledger.Ledger
}

func NewTicketHandler(store reservation.Store, ldg ledger.Ledger) *TicketHandler {
	return &TicketHandler{store: store, ledger: ldg}
}

// ListTickets - Issued tickets for the calling buyer, with ticket type info
func (h *TicketHandler) ListTickets(c echo.Context) error {
	buyer := buyerID(c)
	if buyer == "" {
		return unauthorized(c)
	}

	ctx := c.Request().Context()
	tickets, err := h.store.TicketsByBuyer(ctx, buyer)
	if err != nil {
		return writeError(c, err)
	}

	result := make([]map[string]any, 0, len(tickets))
	for _, ticket := range tickets {
		entry := map[string]any{
			"id":             ticket.ID,
			"reservation_id": ticket.ReservationID,
			"ticket_type_id": ticket.TicketTypeID,
			"quantity":       ticket.Quantity,
			"unit_price":     ticket.UnitPrice,
			"issued_at":      ticket.IssuedAt,
		}

		if tt, err := h.ledger.Get(ctx, ticket.TicketTypeID); err == nil {
			entry["ticket_type_name"] = tt.Name
			entry["event_id"] = tt.EventID
		}

		result = append(result, entry)
	}

	return c.JSON(http.StatusOK, result)
}
