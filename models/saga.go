package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SagaStep string

const (
	StepReceived   SagaStep = "received"
	StepReserving  SagaStep = "reserving"
	StepCharging   SagaStep = "charging"
	StepConfirming SagaStep = "confirming"
	StepDone       SagaStep = "done"
)

type SagaOutcome string

const (
	OutcomePending      SagaOutcome = "pending"
	OutcomeCommitted    SagaOutcome = "committed"
	OutcomeCompensated  SagaOutcome = "compensated"
	OutcomeFailedOrphan SagaOutcome = "failed_orphan"
)

// Terminal reports whether the saga reached one of its final outcomes.
func (o SagaOutcome) Terminal() bool {
	return o == OutcomeCommitted || o == OutcomeCompensated || o == OutcomeFailedOrphan
}

type LineItem struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int64  `json:"quantity"`
}

// PurchaseSaga is the execution record of one purchase attempt, keyed by
// correlation id. It is retained after completion so client retries replay
// the stored outcome instead of re-executing any step.
type PurchaseSaga struct {
	CorrelationID  string          `json:"correlation_id"`
	BuyerID        string          `json:"buyer_id"`
	LineItems      []LineItem      `json:"line_items"`
	ReservationIDs []string        `json:"reservation_ids"`
	Step           SagaStep        `json:"step"`
	Outcome        SagaOutcome     `json:"outcome"`
	TicketIDs      []string        `json:"ticket_ids,omitempty"`
	TotalCharged   decimal.Decimal `json:"total_charged"`
	ChargeID       string          `json:"charge_id,omitempty"`
	FailureCode    string          `json:"failure_code,omitempty"`
	FailureReason  string          `json:"failure_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
