package ledger

import (
	"context"

	"ticket-checkout/models"
)

// Ledger owns per-ticket-type capacity and is the single source of truth for
// oversell prevention. TryReserve checks and decrements in one indivisible
// step; callers never read available and write it back.
type Ledger interface {
	// Register seeds or replaces a ticket-type pool. This is the catalog
	// sync boundary: the catalog service owns event/type definitions, the
	// ledger owns their capacity counters.
	Register(ctx context.Context, tt *models.TicketType) error

	Get(ctx context.Context, ticketTypeID string) (*models.TicketType, error)

	// TryReserve atomically decrements available by quantity when
	// available >= quantity, otherwise returns ErrInsufficientInventory.
	TryReserve(ctx context.Context, ticketTypeID string, quantity int64) error

	// Release atomically increments available by quantity, capped at total.
	Release(ctx context.Context, ticketTypeID string, quantity int64) error
}
