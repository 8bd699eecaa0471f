package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ticket-checkout/models"
)

// Store holds time-bounded claims against the inventory ledger. State
// transitions out of active happen exactly once; terminal states are sticky,
// which is what makes Release, Expire and Confirm safe to repeat when the
// orchestrator and the sweeper race.
type Store interface {
	// Create reserves capacity via the ledger first and only then persists
	// an active reservation. Nothing is persisted on ledger failure; a
	// persistence failure after a successful decrement releases the hold
	// before returning.
	Create(ctx context.Context, ticketTypeID, buyerID string, quantity int64, ttl time.Duration) (*models.Reservation, error)

	Get(ctx context.Context, id string) (*models.Reservation, error)

	// Confirm transitions active -> confirmed and issues the ticket group.
	// Confirming an already confirmed reservation returns the same ticket
	// without issuing a duplicate.
	Confirm(ctx context.Context, id string) (*models.Ticket, error)

	// Release transitions active -> released and returns the held quantity
	// to the ledger. A second Release is a no-op.
	Release(ctx context.Context, id string) error

	// Expire is the sweeper's variant of Release: same capacity effect,
	// state recorded as expired for audit distinction.
	Expire(ctx context.Context, id string) error

	// ListExpired returns ids of active reservations whose expiry has
	// passed, up to limit.
	ListExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)

	// TicketsByBuyer lists issued tickets for one buyer.
	TicketsByBuyer(ctx context.Context, buyerID string) ([]*models.Ticket, error)
}

func newReservationID() string {
	return "res-" + newUUID()
}

// ticketIDFor derives the ticket id from the reservation id, making ticket
// issuance deterministic and idempotent.
func ticketIDFor(reservationID string) string {
	return "tkt-" + strings.TrimPrefix(reservationID, "res-")
}

func validateCreate(ticketTypeID, buyerID string, quantity int64, ttl time.Duration) error {
	if ticketTypeID == "" {
		return fmt.Errorf("reservation: ticket type id is required")
	}
	if buyerID == "" {
		return fmt.Errorf("reservation: buyer id is required")
	}
	if quantity <= 0 {
		return fmt.Errorf("reservation: quantity must be positive, got %d", quantity)
	}
	if ttl <= 0 {
		return fmt.Errorf("reservation: ttl must be positive, got %s", ttl)
	}
	return nil
}
