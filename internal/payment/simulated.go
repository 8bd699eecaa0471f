package payment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ticket-checkout/internal/status"
	"ticket-checkout/models"
	"ticket-checkout/utils"
)

const minCardNumberLen = 12

// SimulatedGateway stands in for a real payment processor. Decline rules:
// non-positive amounts and malformed card numbers are rejected outright,
// and amounts above the configured limit decline as insufficient funds.
// Results are remembered per idempotency key.
type SimulatedGateway struct {
	limit   decimal.Decimal
	latency time.Duration

	mu        sync.Mutex
	processed map[string]*models.ChargeResult
}

func NewSimulatedGateway(limit decimal.Decimal, latency time.Duration) *SimulatedGateway {
	return &SimulatedGateway{
		limit:     limit,
		latency:   latency,
		processed: make(map[string]*models.ChargeResult),
	}
}

func (g *SimulatedGateway) Charge(ctx context.Context, instrument models.PaymentInstrument, amount decimal.Decimal, idempotencyKey string) (*models.ChargeResult, error) {
	if idempotencyKey != "" {
		g.mu.Lock()
		prior, ok := g.processed[idempotencyKey]
		g.mu.Unlock()
		if ok {
			replay := *prior
			return &replay, nil
		}
	}

	if g.latency > 0 {
		select {
		case <-time.After(g.latency):
		case <-ctx.Done():
			return nil, status.ErrPaymentTimeout
		}
	} else if err := ctx.Err(); err != nil {
		return nil, status.ErrPaymentTimeout
	}

	result := g.evaluate(instrument, amount)

	if idempotencyKey != "" {
		g.mu.Lock()
		g.processed[idempotencyKey] = result
		g.mu.Unlock()
	}

	slog.Info("charge processed",
		"charge_id", result.ChargeID,
		"status", result.Status,
		"amount", amount.String(),
		"card", instrument.MaskedCard(),
	)

	replay := *result
	return &replay, nil
}

func (g *SimulatedGateway) evaluate(instrument models.PaymentInstrument, amount decimal.Decimal) *models.ChargeResult {
	result := &models.ChargeResult{
		ChargeID:    newChargeID(),
		Amount:      amount,
		ProcessedAt: time.Now(),
	}

	switch {
	case amount.LessThanOrEqual(decimal.Zero):
		result.Status = models.ChargeDeclined
		result.Reason = "invalid amount"
	case len(instrument.CardNumber) < minCardNumberLen:
		result.Status = models.ChargeDeclined
		result.Reason = "invalid card number"
	case amount.GreaterThan(g.limit):
		result.Status = models.ChargeDeclined
		result.Reason = "insufficient funds"
	default:
		result.Status = models.ChargeApproved
	}

	return result
}

func newChargeID() string {
	code, err := utils.GenerateCode(4)
	if err != nil {
		code = "FALLBACK"
	}
	return "PAY-" + code
}
