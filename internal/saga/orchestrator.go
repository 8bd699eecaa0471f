package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ticket-checkout/internal/ledger"
	"ticket-checkout/internal/notify"
	"ticket-checkout/internal/payment"
	"ticket-checkout/internal/reservation"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
	"ticket-checkout/monitoring"
	"ticket-checkout/utils"
)

const (
	failureCodeInsufficient = "insufficient_inventory"
	failureCodeUnknownType  = "ticket_type_not_found"
	failureCodeDeclined     = "payment_declined"
	failureCodeTimeout      = "payment_timeout"
	failureCodeOrphaned     = "confirmation_incomplete"
)

type PurchaseRequest struct {
	CorrelationID string                   `json:"correlation_id"`
	BuyerID       string                   `json:"buyer_id"`
	LineItems     []models.LineItem        `json:"line_items"`
	Instrument    models.PaymentInstrument `json:"payment"`
}

type PurchaseResult struct {
	CorrelationID string             `json:"correlation_id"`
	Outcome       models.SagaOutcome `json:"outcome"`
	TicketIDs     []string           `json:"ticket_ids,omitempty"`
	TotalCharged  decimal.Decimal    `json:"total_charged"`
	ChargeID      string             `json:"charge_id,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
}

// Orchestrator drives the purchase state machine: reserve every line item,
// charge once, confirm every reservation. Reserve and charge failures
// compensate by releasing all holds; a confirm failure after capture never
// compensates because the money is already taken, it parks the saga for the
// reconciler instead.
type Orchestrator struct {
	ledger   ledger.Ledger
	store    reservation.Store
	repo     Repo
	gateway  payment.Adapter
	breaker  *utils.CircuitBreaker
	notifier *notify.Notifier
	monitor  *monitoring.Monitor

	reservationTTL time.Duration
	paymentTimeout time.Duration
	stallWindow    time.Duration
}

func NewOrchestrator(
	ldg ledger.Ledger,
	store reservation.Store,
	repo Repo,
	gateway payment.Adapter,
	notifier *notify.Notifier,
	monitor *monitoring.Monitor,
	reservationTTL, paymentTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		ledger:         ldg,
		store:          store,
		repo:           repo,
		gateway:        gateway,
		breaker:        utils.NewCircuitBreaker("payment-gateway"),
		notifier:       notifier,
		monitor:        monitor,
		reservationTTL: reservationTTL,
		paymentTimeout: paymentTimeout,
		// A live saga refreshes its record on every step, and no step
		// outlasts the payment deadline; anything older is a dead process.
		stallWindow: 2 * paymentTimeout,
	}
}

func (o *Orchestrator) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	now := time.Now()
	record := &models.PurchaseSaga{
		CorrelationID: correlationID,
		BuyerID:       req.BuyerID,
		LineItems:     req.LineItems,
		Step:          models.StepReceived,
		Outcome:       models.OutcomePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	existing, started, err := o.repo.Begin(ctx, record)
	if err != nil {
		return nil, err
	}
	if !started {
		// Correlation ids are scoped to the buyer that created them; a
		// replay by anyone else must not surface the stored outcome.
		if existing.BuyerID != req.BuyerID {
			return nil, status.ErrSagaBuyerMismatch
		}
		if existing.Outcome.Terminal() {
			return resultOf(existing), errorOf(existing)
		}
		return nil, status.ErrSagaInProgress
	}

	result, err := o.execute(ctx, record, req.Instrument)
	if record.Outcome.Terminal() {
		o.monitor.TrackSagaOutcome(string(record.Outcome))
	}
	return result, err
}

func (o *Orchestrator) execute(ctx context.Context, record *models.PurchaseSaga, instrument models.PaymentInstrument) (*PurchaseResult, error) {
	if err := o.reserveAll(ctx, record); err != nil {
		return resultOf(record), err
	}

	if err := o.charge(ctx, record, instrument); err != nil {
		return resultOf(record), err
	}

	if err := o.confirmAll(ctx, record); err != nil {
		return resultOf(record), err
	}

	record.Step = models.StepDone
	record.Outcome = models.OutcomeCommitted
	o.save(ctx, record)

	o.notifier.PurchaseCommitted(record.BuyerID, record.CorrelationID, record.TicketIDs)
	slog.Info("purchase committed",
		"correlation_id", record.CorrelationID,
		"buyer_id", record.BuyerID,
		"tickets", len(record.TicketIDs),
		"total", record.TotalCharged.String(),
	)

	return resultOf(record), nil
}

func (o *Orchestrator) reserveAll(ctx context.Context, record *models.PurchaseSaga) error {
	record.Step = models.StepReserving
	o.save(ctx, record)

	total := decimal.Zero
	for _, item := range record.LineItems {
		tt, err := o.ledger.Get(ctx, item.TicketTypeID)
		if err != nil {
			o.compensate(ctx, record, failureCodeUnknownType, err.Error())
			return err
		}

		res, err := o.store.Create(ctx, item.TicketTypeID, record.BuyerID, item.Quantity, o.reservationTTL)
		if err != nil {
			code := failureCodeInsufficient
			if errors.Is(err, status.ErrTicketTypeNotFound) {
				code = failureCodeUnknownType
			}
			o.compensate(ctx, record, code, err.Error())
			return err
		}

		record.ReservationIDs = append(record.ReservationIDs, res.ID)
		total = total.Add(tt.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
	}

	record.TotalCharged = total
	o.save(ctx, record)
	return nil
}

func (o *Orchestrator) charge(ctx context.Context, record *models.PurchaseSaga, instrument models.PaymentInstrument) error {
	record.Step = models.StepCharging
	o.save(ctx, record)

	chargeCtx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
	defer cancel()

	started := time.Now()
	raw, err := o.breaker.Execute(chargeCtx, func() (any, error) {
		return o.gateway.Charge(chargeCtx, instrument, record.TotalCharged, record.CorrelationID)
	})
	o.monitor.TrackCharge(time.Since(started))

	if err != nil {
		// Transport faults, deadline expiry and an open breaker are all
		// indistinguishable from the buyer's side: the charge did not
		// happen, so compensation is safe.
		o.compensate(ctx, record, failureCodeTimeout, err.Error())
		return status.ErrPaymentTimeout
	}

	charge, ok := raw.(*models.ChargeResult)
	if !ok || charge == nil {
		o.compensate(ctx, record, failureCodeTimeout, "gateway returned no result")
		return status.ErrPaymentTimeout
	}

	if charge.Status != models.ChargeApproved {
		o.compensate(ctx, record, failureCodeDeclined, charge.Reason)
		return fmt.Errorf("%w: %s", status.ErrPaymentDeclined, charge.Reason)
	}

	record.ChargeID = charge.ChargeID
	o.save(ctx, record)
	return nil
}

func (o *Orchestrator) confirmAll(ctx context.Context, record *models.PurchaseSaga) error {
	record.Step = models.StepConfirming
	o.save(ctx, record)

	ticketIDs, err := o.confirmReservations(ctx, record)
	record.TicketIDs = ticketIDs
	if err != nil {
		record.Outcome = models.OutcomeFailedOrphan
		record.FailureCode = failureCodeOrphaned
		record.FailureReason = err.Error()
		o.save(ctx, record)

		if orphanErr := o.repo.AddOrphan(ctx, record.CorrelationID); orphanErr != nil {
			slog.Error("failed to index orphaned saga",
				"correlation_id", record.CorrelationID, "error", orphanErr)
		}

		o.notifier.PurchaseFailed(record.BuyerID, record.CorrelationID, "confirmation pending")
		slog.Error("purchase orphaned: payment captured, confirmation incomplete",
			"correlation_id", record.CorrelationID,
			"charge_id", record.ChargeID,
			"error", err,
		)
		return fmt.Errorf("%w: %s", status.ErrPurchaseOrphaned, err)
	}

	return nil
}

// confirmReservations confirms every reservation of the saga and returns the
// ticket ids issued so far. Confirm is idempotent, so partial progress here
// is retried safely by the reconciler.
func (o *Orchestrator) confirmReservations(ctx context.Context, record *models.PurchaseSaga) ([]string, error) {
	ticketIDs := make([]string, 0, len(record.ReservationIDs))
	for _, id := range record.ReservationIDs {
		ticket, err := o.store.Confirm(ctx, id)
		if err != nil {
			return ticketIDs, fmt.Errorf("confirm reservation %s: %w", id, err)
		}
		ticketIDs = append(ticketIDs, ticket.ID)
	}
	return ticketIDs, nil
}

// compensate releases every reservation the saga created and records the
// terminal COMPENSATED outcome. Release failures are logged and skipped so
// one stuck reservation cannot block the others; the sweeper picks up
// whatever is left when its TTL lapses.
func (o *Orchestrator) compensate(ctx context.Context, record *models.PurchaseSaga, code, reason string) {
	faults := 0
	for _, id := range record.ReservationIDs {
		if err := o.store.Release(ctx, id); err != nil && !errors.Is(err, status.ErrAlreadyTerminal) {
			faults++
			slog.Error("compensation release failed",
				"correlation_id", record.CorrelationID,
				"reservation_id", id,
				"error", fmt.Errorf("%w: %v", status.ErrCompensationFault, err),
			)
		}
	}

	record.Outcome = models.OutcomeCompensated
	record.FailureCode = code
	record.FailureReason = reason
	if faults > 0 {
		// The stuck holds still carry a TTL; the sweeper reclaims them.
		record.FailureReason = fmt.Sprintf("%s; %d release(s) failed, holds expire by TTL", reason, faults)
	}
	o.save(ctx, record)

	o.notifier.PurchaseFailed(record.BuyerID, record.CorrelationID, reason)
	slog.Info("purchase compensated",
		"correlation_id", record.CorrelationID,
		"code", code,
		"reason", reason,
	)
}

func (o *Orchestrator) save(ctx context.Context, record *models.PurchaseSaga) {
	record.UpdatedAt = time.Now()
	if err := o.repo.Save(ctx, record); err != nil {
		slog.Error("failed to persist saga record",
			"correlation_id", record.CorrelationID, "error", err)
	}
}

// Reconcile retries confirmation for every orphaned saga and promotes the
// ones that complete to COMMITTED. Returns the number promoted.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	orphans, err := o.repo.ListOrphans(ctx)
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, correlationID := range orphans {
		record, err := o.repo.Get(ctx, correlationID)
		if err != nil {
			slog.Error("reconciler: cannot load orphaned saga",
				"correlation_id", correlationID, "error", err)
			continue
		}

		ticketIDs, err := o.confirmReservations(ctx, record)
		record.TicketIDs = ticketIDs
		if err != nil {
			o.save(ctx, record)
			slog.Warn("reconciler: confirmation still failing",
				"correlation_id", correlationID, "error", err)
			continue
		}

		record.Step = models.StepDone
		record.Outcome = models.OutcomeCommitted
		record.FailureCode = ""
		record.FailureReason = ""
		o.save(ctx, record)

		if err := o.repo.RemoveOrphan(ctx, correlationID); err != nil {
			slog.Error("reconciler: failed to clear orphan index",
				"correlation_id", correlationID, "error", err)
		}

		o.monitor.TrackSagaOutcome(string(models.OutcomeCommitted))
		o.notifier.PurchaseCommitted(record.BuyerID, correlationID, record.TicketIDs)
		promoted++
	}

	return promoted, nil
}

// RecoverStalled resolves sagas a dead process left non-terminal. A recorded
// charge means the money is captured, so the saga joins the orphan index and
// the reconciler finishes the confirmations; without one the charge never
// completed and the holds are released. Returns the number resolved.
func (o *Orchestrator) RecoverStalled(ctx context.Context) (int, error) {
	ids, err := o.repo.ListStalled(ctx, time.Now().Add(-o.stallWindow))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, correlationID := range ids {
		record, err := o.repo.Get(ctx, correlationID)
		if err != nil {
			slog.Error("recovery: cannot load stalled saga",
				"correlation_id", correlationID, "error", err)
			continue
		}
		if record.Outcome.Terminal() {
			continue
		}

		if record.ChargeID != "" {
			record.Outcome = models.OutcomeFailedOrphan
			record.FailureCode = failureCodeOrphaned
			record.FailureReason = "interrupted before confirmation completed"
			o.save(ctx, record)

			if err := o.repo.AddOrphan(ctx, correlationID); err != nil {
				slog.Error("recovery: failed to index orphaned saga",
					"correlation_id", correlationID, "error", err)
			}
			slog.Warn("recovered stalled saga as orphan",
				"correlation_id", correlationID, "charge_id", record.ChargeID)
		} else {
			o.compensate(ctx, record, failureCodeTimeout, "interrupted before charge completed")
			slog.Warn("recovered stalled saga by compensation",
				"correlation_id", correlationID)
		}

		o.monitor.TrackSagaOutcome(string(record.Outcome))
		recovered++
	}
	return recovered, nil
}

// Orphans lists the saga records currently awaiting reconciliation.
func (o *Orchestrator) Orphans(ctx context.Context) ([]*models.PurchaseSaga, error) {
	ids, err := o.repo.ListOrphans(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*models.PurchaseSaga, 0, len(ids))
	for _, id := range ids {
		record, err := o.repo.Get(ctx, id)
		if err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Get returns the stored saga record for a correlation id.
func (o *Orchestrator) Get(ctx context.Context, correlationID string) (*models.PurchaseSaga, error) {
	return o.repo.Get(ctx, correlationID)
}

func validateRequest(req PurchaseRequest) error {
	if req.BuyerID == "" {
		return fmt.Errorf("purchase: buyer id is required")
	}
	if len(req.LineItems) == 0 {
		return fmt.Errorf("purchase: at least one line item is required")
	}
	for _, item := range req.LineItems {
		if item.TicketTypeID == "" {
			return fmt.Errorf("purchase: line item ticket type id is required")
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("purchase: line item quantity must be positive, got %d", item.Quantity)
		}
	}
	return nil
}

func resultOf(record *models.PurchaseSaga) *PurchaseResult {
	return &PurchaseResult{
		CorrelationID: record.CorrelationID,
		Outcome:       record.Outcome,
		TicketIDs:     record.TicketIDs,
		TotalCharged:  record.TotalCharged,
		ChargeID:      record.ChargeID,
		FailureReason: record.FailureReason,
	}
}

// errorOf reconstructs the sentinel error for a replayed terminal saga so
// retries observe the same failure class as the original attempt.
func errorOf(record *models.PurchaseSaga) error {
	switch record.Outcome {
	case models.OutcomeCommitted:
		return nil
	case models.OutcomeFailedOrphan:
		return status.ErrPurchaseOrphaned
	}

	switch record.FailureCode {
	case failureCodeUnknownType:
		return status.ErrTicketTypeNotFound
	case failureCodeDeclined:
		return fmt.Errorf("%w: %s", status.ErrPaymentDeclined, record.FailureReason)
	case failureCodeTimeout:
		return status.ErrPaymentTimeout
	default:
		return status.ErrInsufficientInventory
	}
}
