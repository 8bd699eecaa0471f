package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"ticket-checkout/models"
)

// Adapter is the external capability boundary for charging a payment
// instrument. Implementations must honor the context deadline and must
// return the original result when the same idempotency key is charged
// again, so the orchestrator never risks a double charge on retry.
type Adapter interface {
	Charge(ctx context.Context, instrument models.PaymentInstrument, amount decimal.Decimal, idempotencyKey string) (*models.ChargeResult, error)
}
