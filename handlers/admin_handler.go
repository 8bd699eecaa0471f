package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-checkout/internal/ledger"
	"ticket-checkout/internal/saga"
	"ticket-checkout/models"
)

// AdminHandler is the operator surface: catalog sync into the ledger and
// manual saga reconciliation.
type AdminHandler struct {
	ledger       ledger.Ledger
	orchestrator *saga.Orchestrator
}

func NewAdminHandler(ldg ledger.Ledger, orchestrator *saga.Orchestrator) *AdminHandler {
	return &AdminHandler{ledger: ldg, orchestrator: orchestrator}
}

// UpsertTicketType - Seed or replace a ticket type pool (catalog sync)
func (h *AdminHandler) UpsertTicketType(c echo.Context) error {
	var tt models.TicketType
	if err := c.Bind(&tt); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if tt.ID == "" || tt.Total <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "id and a positive total are required",
		})
	}
	if tt.Available == 0 {
		tt.Available = tt.Total
	}

	if err := h.ledger.Register(c.Request().Context(), &tt); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, tt)
}

// GetTicketType - Current pool state for one ticket type
func (h *AdminHandler) GetTicketType(c echo.Context) error {
	tt, err := h.ledger.Get(c.Request().Context(), c.PathParam("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, tt)
}

// ListOrphans - Sagas with captured payments awaiting confirmation
func (h *AdminHandler) ListOrphans(c echo.Context) error {
	records, err := h.orchestrator.Orphans(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// Reconcile - Retry confirmation for all orphaned sagas now
func (h *AdminHandler) Reconcile(c echo.Context) error {
	promoted, err := h.orchestrator.Reconcile(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"promoted": promoted})
}
