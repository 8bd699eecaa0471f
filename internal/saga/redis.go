package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"ticket-checkout/internal/status"
	"ticket-checkout/models"
)

const (
	orphanSetKey    = "sagas:orphans"
	pendingIndexKey = "sagas:pending"
)

// RedisRepo stores saga records as JSON with a retention TTL. The SetNX on
// Begin is what serializes concurrent purchases sharing a correlation id.
type RedisRepo struct {
	Redis     *redis.Client
	Retention time.Duration
}

func NewRedisRepo(client *redis.Client, retention time.Duration) *RedisRepo {
	return &RedisRepo{Redis: client, Retention: retention}
}

func sagaKey(correlationID string) string {
	return fmt.Sprintf("saga:%s", correlationID)
}

func (r *RedisRepo) Begin(ctx context.Context, record *models.PurchaseSaga) (*models.PurchaseSaga, bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("marshal saga %s: %w", record.CorrelationID, err)
	}

	claimed, err := r.Redis.SetNX(ctx, sagaKey(record.CorrelationID), data, r.Retention).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim saga %s: %w", record.CorrelationID, err)
	}
	if claimed {
		// Index the live saga so a process crash leaves a findable record.
		if err := r.indexPending(ctx, record); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	existing, err := r.Get(ctx, record.CorrelationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *RedisRepo) Save(ctx context.Context, record *models.PurchaseSaga) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal saga %s: %w", record.CorrelationID, err)
	}

	if err := r.Redis.Set(ctx, sagaKey(record.CorrelationID), data, r.Retention).Err(); err != nil {
		return fmt.Errorf("save saga %s: %w", record.CorrelationID, err)
	}

	if record.Outcome.Terminal() {
		if err := r.Redis.ZRem(ctx, pendingIndexKey, record.CorrelationID).Err(); err != nil {
			return fmt.Errorf("unindex saga %s: %w", record.CorrelationID, err)
		}
		return nil
	}
	return r.indexPending(ctx, record)
}

func (r *RedisRepo) indexPending(ctx context.Context, record *models.PurchaseSaga) error {
	err := r.Redis.ZAdd(ctx, pendingIndexKey, redis.Z{
		Score:  float64(record.UpdatedAt.Unix()),
		Member: record.CorrelationID,
	}).Err()
	if err != nil {
		return fmt.Errorf("index saga %s: %w", record.CorrelationID, err)
	}
	return nil
}

func (r *RedisRepo) Get(ctx context.Context, correlationID string) (*models.PurchaseSaga, error) {
	data, err := r.Redis.Get(ctx, sagaKey(correlationID)).Bytes()
	if err == redis.Nil {
		return nil, status.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get saga %s: %w", correlationID, err)
	}

	var record models.PurchaseSaga
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode saga %s: %w", correlationID, err)
	}
	return &record, nil
}

func (r *RedisRepo) AddOrphan(ctx context.Context, correlationID string) error {
	return r.Redis.SAdd(ctx, orphanSetKey, correlationID).Err()
}

func (r *RedisRepo) RemoveOrphan(ctx context.Context, correlationID string) error {
	return r.Redis.SRem(ctx, orphanSetKey, correlationID).Err()
}

func (r *RedisRepo) ListOrphans(ctx context.Context) ([]string, error) {
	ids, err := r.Redis.SMembers(ctx, orphanSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list orphaned sagas: %w", err)
	}
	return ids, nil
}

func (r *RedisRepo) ListStalled(ctx context.Context, olderThan time.Time) ([]string, error) {
	ids, err := r.Redis.ZRangeByScore(ctx, pendingIndexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(olderThan.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list stalled sagas: %w", err)
	}
	return ids, nil
}
