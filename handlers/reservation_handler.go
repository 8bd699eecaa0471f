package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/reservation"
	"ticket-checkout/monitoring"
)

type ReservationHandler struct {
	store   reservation.Store
	monitor *monitoring.Monitor
	ttl     time.Duration
}

func NewReservationHandler(store reservation.Store, monitor *monitoring.Monitor, ttl time.Duration) *ReservationHandler {
	return &ReservationHandler{
		store:   store,
		monitor: monitor,
		ttl:     ttl,
	}
}

// CreateReservation - Hold quantity of one ticket type for the buyer
func (h *ReservationHandler) CreateReservation(c echo.Context) error {
	buyer := buyerID(c)
	if buyer == "" {
		return unauthorized(c)
	}

	var req struct {
		TicketTypeID string `json:"ticket_type_id"`
		Quantity     int64  `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	res, err := h.store.Create(c.Request().Context(), req.TicketTypeID, buyer, req.Quantity, h.ttl)
	if err != nil {
		h.monitor.TrackReservation("create", "error")
		return writeError(c, err)
	}

	h.monitor.TrackReservation("create", "success")
	return c.JSON(http.StatusCreated, res)
}

// GetReservation - Fetch one reservation by id
func (h *ReservationHandler) GetReservation(c echo.Context) error {
	buyer := buyerID(c)
	if buyer == "" {
		return unauthorized(c)
	}

	res, err := h.store.Get(c.Request().Context(), c.PathParam("id"))
	if err != nil {
		return writeError(c, err)
	}
	if res.BuyerID != buyer {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Not your reservation"})
	}

	return c.JSON(http.StatusOK, res)
}

// ReleaseReservation - Voluntarily give the hold back. Safe to repeat.
func (h *ReservationHandler) ReleaseReservation(c echo.Context) error {
	buyer := buyerID(c)
	if buyer == "" {
		return unauthorized(c)
	}

	ctx := c.Request().Context()
	id := c.PathParam("id")

	res, err := h.store.Get(ctx, id)
	if err != nil {
		return writeError(c, err)
	}
	if res.BuyerID != buyer {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Not your reservation"})
	}

	if err := h.store.Release(ctx, id); err != nil {
		h.monitor.TrackReservation("release", "error")
		return writeError(c, err)
	}

	h.monitor.TrackReservation("release", "success")
	return c.JSON(http.StatusOK, map[string]string{
		"id":     id,
		"status": "released",
	})
}
