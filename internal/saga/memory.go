package saga

import (
	"context"
	"sort"
	"sync"
	"time"

	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

type MemoryRepo struct {
	mu      sync.Mutex
	sagas   map[string]*models.PurchaseSaga
	orphans map[string]struct{}
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		sagas:   make(map[string]*models.PurchaseSaga),
		orphans: make(map[string]struct{}),
	}
}

func (r *MemoryRepo) Begin(ctx context.Context, record *models.PurchaseSaga) (*models.PurchaseSaga, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sagas[record.CorrelationID]; ok {
		out := *existing
		return &out, false, nil
	}

	stored := *record
	r.sagas[record.CorrelationID] = &stored
	return nil, true, nil
}

func (r *MemoryRepo) Save(ctx context.Context, record *models.PurchaseSaga) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *record
	r.sagas[record.CorrelationID] = &stored
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, correlationID string) (*models.PurchaseSaga, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.sagas[correlationID]
	if !ok {
		return nil, status.ErrSagaNotFound
	}

	out := *record
	return &out, nil
}

func (r *MemoryRepo) AddOrphan(ctx context.Context, correlationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orphans[correlationID] = struct{}{}
	return nil
}

func (r *MemoryRepo) RemoveOrphan(ctx context.Context, correlationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.orphans, correlationID)
	return nil
}

func (r *MemoryRepo) ListStalled(ctx context.Context, olderThan time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, record := range r.sagas {
		if !record.Outcome.Terminal() && record.UpdatedAt.Before(olderThan) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepo) ListOrphans(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.orphans))
	for id := range r.orphans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
