package status

import "errors"

var (
	ErrTicketTypeNotFound    = errors.New("inventory: ticket type not found")
	ErrInsufficientInventory = errors.New("inventory: insufficient inventory")

	ErrReservationNotFound = errors.New("reservation: reservation not found")
	ErrAlreadyTerminal     = errors.New("reservation: already in terminal state")

	ErrPaymentDeclined = errors.New("payment: payment declined")
	ErrPaymentTimeout  = errors.New("payment: payment timed out")

	ErrSagaNotFound      = errors.New("saga: purchase record not found")
	ErrSagaInProgress    = errors.New("saga: purchase already in progress")
	ErrSagaBuyerMismatch = errors.New("saga: correlation id belongs to a different buyer")
	ErrPurchaseOrphaned  = errors.New("saga: payment captured but confirmation incomplete")
	ErrCompensationFault = errors.New("saga: compensation failed")
)
