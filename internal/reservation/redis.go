package reservation

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ticket-checkout/internal/ledger"
	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

const activeIndexKey = "reservations:active"

// transitionScript moves a reservation out of active exactly once. It
// returns the previous state, so the caller knows whether this call owned
// the transition (and with it the single ledger release).
const transitionScript = `
local state = redis.call("HGET", KEYS[1], "state")
if state == false then
  return "missing"
end
if state ~= "active" then
  return state
end
redis.call("HSET", KEYS[1], "state", ARGV[1])
redis.call("ZREM", KEYS[2], ARGV[2])
return "active"
`

type RedisStore struct {
	Redis  *redis.Client
	Ledger ledger.Ledger
}

func NewRedisStore(redisClient *redis.Client, l ledger.Ledger) *RedisStore {
	return &RedisStore{Redis: redisClient, Ledger: l}
}

func reservationKey(id string) string {
	return fmt.Sprintf("reservation:%s", id)
}

func ticketKey(id string) string {
	return fmt.Sprintf("ticket:%s", id)
}

func buyerTicketsKey(buyerID string) string {
	return fmt.Sprintf("tickets:buyer:%s", buyerID)
}

func (s *RedisStore) Create(ctx context.Context, ticketTypeID, buyerID string, quantity int64, ttl time.Duration) (*models.Reservation, error) {
	if err := validateCreate(ticketTypeID, buyerID, quantity, ttl); err != nil {
		return nil, err
	}

	if err := s.Ledger.TryReserve(ctx, ticketTypeID, quantity); err != nil {
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

	_, err := s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, reservationKey(res.ID),
			"id", res.ID,
			"ticket_type_id", res.TicketTypeID,
			"buyer_id", res.BuyerID,
			"quantity", res.Quantity,
			"state", string(res.State),
			"created_at", res.CreatedAt.Unix(),
			"expires_at", res.ExpiresAt.Unix(),
		)
		pipe.ZAdd(ctx, activeIndexKey, redis.Z{
			Score:  float64(res.ExpiresAt.Unix()),
			Member: res.ID,
		})
		return nil
	})
	if err != nil {
		// The decrement succeeded but the claim was never written; hand
		// the capacity back so no units are stranded.
		if relErr := s.Ledger.Release(ctx, ticketTypeID, quantity); relErr != nil {
			return nil, fmt.Errorf("reservation: persist failed (%v) and release failed: %w", err, relErr)
		}
		return nil, fmt.Errorf("reservation: persist failed: %w", err)
	}

	return res, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Reservation, error) {
	data, err := s.Redis.HGetAll(ctx, reservationKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, status.ErrReservationNotFound
	}
	return parseReservation(data)
}

func parseReservation(data map[string]string) (*models.Reservation, error) {
	quantity, err := strconv.ParseInt(data["quantity"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("reservation: bad quantity: %w", err)
	}
	createdAt, _ := strconv.ParseInt(data["created_at"], 10, 64)
	expiresAt, _ := strconv.ParseInt(data["expires_at"], 10, 64)

	return &models.Reservation{
		ID:           data["id"],
		TicketTypeID: data["ticket_type_id"],
		BuyerID:      data["buyer_id"],
		Quantity:     quantity,
		State:        models.ReservationState(data["state"]),
		CreatedAt:    time.Unix(createdAt, 0),
		ExpiresAt:    time.Unix(expiresAt, 0),
	}, nil
}

// transition runs the exactly-once state change and reports the state the
// reservation held before this call.
func (s *RedisStore) transition(ctx context.Context, id string, target models.ReservationState) (string, error) {
	prev, err := s.Redis.Eval(ctx, transitionScript,
		[]string{reservationKey(id), activeIndexKey},
		string(target), id,
	).Text()
	if err != nil {
		return "", fmt.Errorf("reservation: transition script failed: %w", err)
	}
	return prev, nil
}

func (s *RedisStore) Confirm(ctx context.Context, id string) (*models.Ticket, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	prev, err := s.transition(ctx, id, models.ReservationConfirmed)
	if err != nil {
		return nil, err
	}

	switch prev {
	case "missing":
		return nil, status.ErrReservationNotFound
	case string(models.ReservationActive):
		return s.issueTicket(ctx, res)
	case string(models.ReservationConfirmed):
		ticket, err := s.getTicket(ctx, ticketIDFor(id))
		if err == nil {
			return ticket, nil
		}
		// Confirmed but the ticket write never landed; re-issue with the
		// same derived id.
		return s.issueTicket(ctx, res)
	default:
		return nil, status.ErrAlreadyTerminal
	}
}

func (s *RedisStore) issueTicket(ctx context.Context, res *models.Reservation) (*models.Ticket, error) {
	tt, err := s.Ledger.Get(ctx, res.TicketTypeID)
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

	_, err = s.Redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ticketKey(ticket.ID),
			"id", ticket.ID,
			"reservation_id", ticket.ReservationID,
			"ticket_type_id", ticket.TicketTypeID,
			"buyer_id", ticket.BuyerID,
			"quantity", ticket.Quantity,
			"unit_price", ticket.UnitPrice.String(),
			"issued_at", ticket.IssuedAt.Unix(),
		)
		pipe.SAdd(ctx, buyerTicketsKey(ticket.BuyerID), ticket.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reservation: issue ticket for %s: %w", res.ID, err)
	}

	return ticket, nil
}

func (s *RedisStore) getTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	data, err := s.Redis.HGetAll(ctx, ticketKey(ticketID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("reservation: ticket %s not found", ticketID)
	}

	quantity, _ := strconv.ParseInt(data["quantity"], 10, 64)
	issuedAt, _ := strconv.ParseInt(data["issued_at"], 10, 64)
	price, err := decimal.NewFromString(data["unit_price"])
	if err != nil {
		return nil, fmt.Errorf("reservation: bad unit_price on ticket %s: %w", ticketID, err)
	}

	return &models.Ticket{
		ID:            data["id"],
		ReservationID: data["reservation_id"],
		TicketTypeID:  data["ticket_type_id"],
		BuyerID:       data["buyer_id"],
		Quantity:      quantity,
		UnitPrice:     price,
		IssuedAt:      time.Unix(issuedAt, 0),
	}, nil
}

func (s *RedisStore) Release(ctx context.Context, id string) error {
	return s.terminate(ctx, id, models.ReservationReleased)
}

func (s *RedisStore) Expire(ctx context.Context, id string) error {
	return s.terminate(ctx, id, models.ReservationExpired)
}

func (s *RedisStore) terminate(ctx context.Context, id string, target models.ReservationState) error {
	res, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	prev, err := s.transition(ctx, id, target)
	if err != nil {
		return err
	}

	switch prev {
	case "missing":
		return status.ErrReservationNotFound
	case string(models.ReservationActive):
		// This call owned the transition, so it owns the single release.
		if err := s.Ledger.Release(ctx, res.TicketTypeID, res.Quantity); err != nil {
			return fmt.Errorf("reservation: release capacity for %s: %w", id, err)
		}
		return nil
	case string(models.ReservationReleased), string(models.ReservationExpired):
		return nil
	default:
		return status.ErrAlreadyTerminal
	}
}

func (s *RedisStore) ListExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := s.Redis.ZRangeByScore(ctx, activeIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("reservation: list expired: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) TicketsByBuyer(ctx context.Context, buyerID string) ([]*models.Ticket, error) {
	ids, err := s.Redis.SMembers(ctx, buyerTicketsKey(buyerID)).Result()
	if err != nil {
		return nil, err
	}

	tickets := make([]*models.Ticket, 0, len(ids))
	for _, id := range ids {
		ticket, err := s.getTicket(ctx, id)
		if err != nil {
			continue
		}
		tickets = append(tickets, ticket)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ID < tickets[j].ID })
	return tickets, nil
}
