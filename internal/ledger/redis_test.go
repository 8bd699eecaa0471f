package ledger

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

func setupTestRedisLedger() (*RedisLedger, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()
	return NewRedisLedger(db), mock
}

func TestRedisLedger_TryReserve_Success(t *testing.T) {
	l, mock := setupTestRedisLedger()
	defer mock.ClearExpect()

	mock.ExpectEval(tryReserveScript, []string{"inventory:tt-vip"}, int64(2)).SetVal(int64(8))

	err := l.TryReserve(context.Background(), "tt-vip", 2)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_TryReserve_Insufficient(t *testing.T) {
	l, mock := setupTestRedisLedger()
	defer mock.ClearExpect()

	mock.ExpectEval(tryReserveScript, []string{"inventory:tt-vip"}, int64(5)).SetVal(int64(-1))

	err := l.TryReserve(context.Background(), "tt-vip", 5)

	assert.ErrorIs(t, err, status.ErrInsufficientInventory)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_TryReserve_UnknownType(t *testing.T) {
	l, mock := setupTestRedisLedger()
	defer mock.ClearExpect()

	mock.ExpectEval(tryReserveScript, []string{"inventory:tt-ghost"}, int64(1)).SetVal(int64(-2))

	err := l.TryReserve(context.Background(), "tt-ghost", 1)

	assert.ErrorIs(t, err, status.ErrTicketTypeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Release(t *testing.T) {
	l, mock := setupTestRedisLedger()
	defer mock.ClearExpect()

	mock.ExpectEval(releaseScript, []string{"inventory:tt-vip"}, int64(2)).SetVal(int64(10))

	err := l.Release(context.Background(), "tt-vip", 2)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Register(t *testing.T) {
	l, mock := setupTestRedisLedger()
	defer mock.ClearExpect()

	tt := &models.TicketType{
		ID:        "tt-vip",
		EventID:   "evt-1",
		Name:      "VIP",
		UnitPrice: decimal.RequireFromString("150.50"),
		Total:     100,
		Available: 100,
	}

	mock.ExpectHSet("inventory:tt-vip",
		"id", "tt-vip",
		"event_id", "evt-1",
		"name", "VIP",
		"unit_price", "150.5",
		"total", int64(100),
		"available", int64(100),
	).SetVal(6)

	err := l.Register(context.Background(), tt)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Get(t *testing.T) {
	l, mock := setupTestRedisLedger()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("inventory:tt-vip").SetVal(map[string]string{
		"id":         "tt-vip",
		"event_id":   "evt-1",
		"name":       "VIP",
		"unit_price": "150.5",
		"total":      "100",
		"available":  "97",
	})

	tt, err := l.Get(context.Background(), "tt-vip")

	require.NoError(t, err)
	assert.Equal(t, "tt-vip", tt.ID)
	assert.Equal(t, int64(97), tt.Available)
	assert.True(t, tt.UnitPrice.Equal(decimal.RequireFromString("150.5")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisLedger_Get_Missing(t *testing.T) {
	l, mock := setupTestRedisLedger()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("inventory:tt-ghost").SetVal(map[string]string{})

	_, err := l.Get(context.Background(), "tt-ghost")

	assert.ErrorIs(t, err, status.ErrTicketTypeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
