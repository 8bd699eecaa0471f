package reservation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ticket-checkout/internal/ledger"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

func newUUID() string {
	return uuid.NewString()
}

// MemoryStore keeps reservations and tickets in process memory. It backs the
// "memory" deployment mode and the concurrency property tests; the Redis
// store is the production backend.
type MemoryStore struct {
	ledger ledger.Ledger

	mu           sync.Mutex
	reservations map[string]*models.Reservation
	tickets      map[string]*models.Ticket
	byBuyer      map[string][]string
}

func NewMemoryStore(l ledger.Ledger) *MemoryStore {
	return &MemoryStore{
		ledger:       l,
		reservations: make(map[string]*models.Reservation),
		tickets:      make(map[string]*models.Ticket),
		byBuyer:      make(map[string][]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, ticketTypeID, buyerID string, quantity int64, ttl time.Duration) (*models.Reservation, error) {
	if err := validateCreate(ticketTypeID, buyerID, quantity, ttl); err != nil {
		return nil, err
	}

	if err := s.ledger.TryReserve(ctx, ticketTypeID, quantity); err != nil {
		return nil, err
	}

	now := time.Now()
	res := &models.Reservation{
		ID:           newReservationID(),
		TicketTypeID: ticketTypeID,
		BuyerID:      buyerID,
		Quantity:     quantity,
		State:        models.ReservationActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	s.mu.Lock()
	s.reservations[res.ID] = res
	s.mu.Unlock()

	out := *res
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.reservations[id]
	if !ok {
		return nil, status.ErrReservationNotFound
	}
	out := *res
	return &out, nil
}

func (s *MemoryStore) Confirm(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.Lock()
	res, ok := s.reservations[id]
	if !ok {
		s.mu.Unlock()
		return nil, status.ErrReservationNotFound
	}

	switch res.State {
	case models.ReservationActive:
		res.State = models.ReservationConfirmed
		s.mu.Unlock()
		return s.issueTicket(ctx, res)
	case models.ReservationConfirmed:
		ticket, ok := s.tickets[ticketIDFor(id)]
		s.mu.Unlock()
		if !ok {
			// Confirmed but not yet issued; re-issue deterministically.
			return s.issueTicket(ctx, res)
		}
		out := *ticket
		return &out, nil
	default:
		s.mu.Unlock()
		return nil, status.ErrAlreadyTerminal
	}
}

func (s *MemoryStore) issueTicket(ctx context.Context, res *models.Reservation) (*models.Ticket, error) {
	tt, err := s.ledger.Get(ctx, res.TicketTypeID)
	if err != nil {
		return nil, fmt.Errorf("reservation: confirm %s: %w", res.ID, err)
	}

	ticket := &models.Ticket{
		ID:            ticketIDFor(res.ID),
		ReservationID: res.ID,
		TicketTypeID:  res.TicketTypeID,
		BuyerID:       res.BuyerID,
		Quantity:      res.Quantity,
		UnitPrice:     tt.UnitPrice,
		IssuedAt:      time.Now(),
	}

	s.mu.Lock()
	if existing, ok := s.tickets[ticket.ID]; ok {
		out := *existing
		s.mu.Unlock()
		return &out, nil
	}
	s.tickets[ticket.ID] = ticket
	s.byBuyer[ticket.BuyerID] = append(s.byBuyer[ticket.BuyerID], ticket.ID)
	s.mu.Unlock()

	out := *ticket
	return &out, nil
}

func (s *MemoryStore) Release(ctx context.Context, id string) error {
	return s.terminate(ctx, id, models.ReservationReleased)
}

func (s *MemoryStore) Expire(ctx context.Context, id string) error {
	return s.terminate(ctx, id, models.ReservationExpired)
}

func (s *MemoryStore) terminate(ctx context.Context, id string, target models.ReservationState) error {
	s.mu.Lock()
	res, ok := s.reservations[id]
	if !ok {
		s.mu.Unlock()
		return status.ErrReservationNotFound
	}

	switch res.State {
	case models.ReservationActive:
		res.State = target
		ticketTypeID, quantity := res.TicketTypeID, res.Quantity
		s.mu.Unlock()
		if err := s.ledger.Release(ctx, ticketTypeID, quantity); err != nil {
			return fmt.Errorf("reservation: release capacity for %s: %w", id, err)
		}
		return nil
	case models.ReservationReleased, models.ReservationExpired:
		// Capacity already returned exactly once; nothing more to do.
		s.mu.Unlock()
		return nil
	default:
		s.mu.Unlock()
		return status.ErrAlreadyTerminal
	}
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0)
	for id, res := range s.reservations {
		if res.State == models.ReservationActive && !res.ExpiresAt.After(now) {
			ids = append(ids, id)
			if limit > 0 && int64(len(ids)) >= limit {
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) TicketsByBuyer(ctx context.Context, buyerID string) ([]*models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byBuyer[buyerID]
	tickets := make([]*models.Ticket, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tickets[id]; ok {
			out := *t
			tickets = append(tickets, &out)
		}
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	return tickets, nil
}
