package ledger

import (
	"context"
	"fmt"
	"sync"

	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

// pool serializes counter updates for one ticket type. Contention on one
// type never blocks reservations against another.
type pool struct {
	mu sync.Mutex
	tt models.TicketType
}

type MemoryLedger struct {
	mu    sync.RWMutex
	pools map[string]*pool
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{pools: make(map[string]*pool)}
}

func (l *MemoryLedger) Register(ctx context.Context, tt *models.TicketType) error {
	if tt.ID == "" {
		return fmt.Errorf("ledger: ticket type id is required")
	}
	if tt.Total < 0 || tt.Available < 0 || tt.Available > tt.Total {
		return fmt.Errorf("ledger: invalid capacity for ticket type %s", tt.ID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pools[tt.ID] = &pool{tt: *tt}
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, ticketTypeID string) (*models.TicketType, error) {
	p, err := l.pool(ticketTypeID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	tt := p.tt
	return &tt, nil
}

func (l *MemoryLedger) TryReserve(ctx context.Context, ticketTypeID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("ledger: quantity must be positive, got %d", quantity)
	}

	p, err := l.pool(ticketTypeID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tt.Available < quantity {
		return status.ErrInsufficientInventory
	}
	p.tt.Available -= quantity
	return nil
}

func (l *MemoryLedger) Release(ctx context.Context, ticketTypeID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("ledger: quantity must be positive, got %d", quantity)
	}

	p, err := l.pool(ticketTypeID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tt.Available += quantity
	if p.tt.Available > p.tt.Total {
		p.tt.Available = p.tt.Total
	}
	return nil
}

func (l *MemoryLedger) pool(ticketTypeID string) (*pool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.pools[ticketTypeID]
	if !ok {
		return nil, status.ErrTicketTypeNotFound
	}
	return p, nil
}
