package saga

import (
	"context"
	"time"

	"ticket-checkout/models"
)

// Repo persists purchase saga records keyed by correlation id. Begin is the
// concurrency gate: exactly one caller per correlation id observes
// started=true and runs the saga, every other caller gets the stored record.
type Repo interface {
	// Begin atomically claims the correlation id. When the id is new the
	// given record is stored and started is true. When a record already
	// exists it is returned and started is false.
	Begin(ctx context.Context, record *models.PurchaseSaga) (existing *models.PurchaseSaga, started bool, err error)

	// Save overwrites the record for its correlation id.
	Save(ctx context.Context, record *models.PurchaseSaga) error

	Get(ctx context.Context, correlationID string) (*models.PurchaseSaga, error)

	// AddOrphan marks a correlation id for reconciliation.
	AddOrphan(ctx context.Context, correlationID string) error

	RemoveOrphan(ctx context.Context, correlationID string) error

	ListOrphans(ctx context.Context) ([]string, error)

	// ListStalled returns correlation ids of non-terminal sagas whose last
	// update is older than the given time. These are sagas a dead process
	// left behind mid-purchase.
	ListStalled(ctx context.Context, olderThan time.Time) ([]string, error)
}
