package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketType identifies one priced inventory pool for an event. Available is
// mutated only through ledger operations, never read-then-written by callers.
type TicketType struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     int64           `json:"total"`
	Available int64           `json:"available"`
}

type ReservationState string

const (
	ReservationActive    ReservationState = "active"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationReleased  ReservationState = "released"
	ReservationExpired   ReservationState = "expired"
)

// Terminal reports whether no further transition may leave the state.
func (s ReservationState) Terminal() bool {
	return s == ReservationConfirmed || s == ReservationReleased || s == ReservationExpired
}

// Reservation is a temporary claim on N units of one ticket type for one
// buyer. It exclusively owns its quantity until it leaves the active state.
type Reservation struct {
	ID           string           `json:"id"`
	TicketTypeID string           `json:"ticket_type_id"`
	BuyerID      string           `json:"buyer_id"`
	Quantity     int64            `json:"quantity"`
	State        ReservationState `json:"state"`
	CreatedAt    time.Time        `json:"created_at"`
	ExpiresAt    time.Time        `json:"expires_at"`
}

// Ticket is an issued, paid-for unit group. One Ticket carries the full
// quantity of its originating reservation and its id is derived from the
// reservation id, so re-issuing is idempotent.
type Ticket struct {
	ID            string          `json:"id"`
	ReservationID string          `json:"reservation_id"`
	TicketTypeID  string          `json:"ticket_type_id"`
	BuyerID       string          `json:"buyer_id"`
	Quantity      int64           `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	IssuedAt      time.Time       `json:"issued_at"`
}
