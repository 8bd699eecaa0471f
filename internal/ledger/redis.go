package ledger

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

// tryReserveScript performs the conditional decrement in one indivisible
// server-side step. Returns the new available count, -1 when the pool is
// short, -2 when the ticket type is unknown.
const tryReserveScript = `
local avail = tonumber(redis.call("HGET", KEYS[1], "available"))
if avail == nil then
  return -2
end
local qty = tonumber(ARGV[1])
if avail < qty then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "available", -qty)
`

// releaseScript increments available capped at total. Returns the new
// available count, -2 when the ticket type is unknown.
const releaseScript = `
local total = tonumber(redis.call("HGET", KEYS[1], "total"))
if total == nil then
  return -2
end
local avail = redis.call("HINCRBY", KEYS[1], "available", tonumber(ARGV[1]))
if avail > total then
  redis.call("HSET", KEYS[1], "available", total)
  return total
end
return avail
`

type RedisLedger struct {
	Redis *redis.Client
}

func NewRedisLedger(redisClient *redis.Client) *RedisLedger {
	return &RedisLedger{Redis: redisClient}
}

func inventoryKey(ticketTypeID string) string {
	return fmt.Sprintf("inventory:%s", ticketTypeID)
}

func (l *RedisLedger) Register(ctx context.Context, tt *models.TicketType) error {
	if tt.ID == "" {
		return fmt.Errorf("ledger: ticket type id is required")
	}
	if tt.Total < 0 || tt.Available < 0 || tt.Available > tt.Total {
		return fmt.Errorf("ledger: invalid capacity for ticket type %s", tt.ID)
	}

	return l.Redis.HSet(ctx, inventoryKey(tt.ID),
		"id", tt.ID,
		"event_id", tt.EventID,
		"name", tt.Name,
		"unit_price", tt.UnitPrice.String(),
		"total", tt.Total,
		"available", tt.Available,
	).Err()
}

func (l *RedisLedger) Get(ctx context.Context, ticketTypeID string) (*models.TicketType, error) {
	data, err := l.Redis.HGetAll(ctx, inventoryKey(ticketTypeID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, status.ErrTicketTypeNotFound
	}

	price, err := decimal.NewFromString(data["unit_price"])
	if err != nil {
		return nil, fmt.Errorf("ledger: bad unit_price for %s: %w", ticketTypeID, err)
	}
	total, _ := strconv.ParseInt(data["total"], 10, 64)
	available, _ := strconv.ParseInt(data["available"], 10, 64)

	return &models.TicketType{
		ID:        data["id"],
		EventID:   data["event_id"],
		Name:      data["name"],
		UnitPrice: price,
		Total:     total,
		Available: available,
	}, nil
}

func (l *RedisLedger) TryReserve(ctx context.Context, ticketTypeID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("ledger: quantity must be positive, got %d", quantity)
	}

	res, err := l.Redis.Eval(ctx, tryReserveScript, []string{inventoryKey(ticketTypeID)}, quantity).Int64()
	if err != nil {
		return fmt.Errorf("ledger: reserve script failed: %w", err)
	}

	switch res {
	case -2:
		return status.ErrTicketTypeNotFound
	case -1:
		return status.ErrInsufficientInventory
	default:
		return nil
	}
}

func (l *RedisLedger) Release(ctx context.Context, ticketTypeID string, quantity int64) error {
	if quantity <= 0 {
		return fmt.Errorf("ledger: quantity must be positive, got %d", quantity)
	}

	res, err := l.Redis.Eval(ctx, releaseScript, []string{inventoryKey(ticketTypeID)}, quantity).Int64()
	if err != nil {
		return fmt.Errorf("ledger: release script failed: %w", err)
	}
	if res == -2 {
		return status.ErrTicketTypeNotFound
	}
	return nil
}
