package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/thebtf/maestro/pkg/models"
)

// quotaKeyTTL keeps stale period hashes around long enough for billing
// reconciliation before Redis expires them.
const quotaKeyTTL = 90 * 24 * time.Hour

// RedisStore is a Redis-backed quota Store for multi-instance deployments
// where several orchestrator processes meter the same users.
type RedisStore struct {
	pool     *redis.Pool
	defaults Defaults
}

// NewRedisStore creates a quota store on the Redis instance at addr.
func NewRedisStore(addr string, defaults Defaults) *RedisStore {
	pool := &redis.Pool{
		MaxIdle:     4,
		IdleTimeout: 4 * time.Minute,
		Dial: func() (redis.Conn, error) {
			return redis.Dial("tcp", addr)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
	return &RedisStore{pool: pool, defaults: defaults}
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.pool.Close()
}

func quotaKey(userID, period string) string {
	return "maestro:quota:" + userID + ":" + period
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, userID, period string) (*models.QuotaState, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	values, err := redis.StringMap(conn.Do("HGETALL", quotaKey(userID, period)))
	if err != nil {
		return nil, fmt.Errorf("load quota hash: %w", err)
	}

	state := &models.QuotaState{
		UserID:         userID,
		Period:         period,
		TokenCeiling:   r.defaults.TokenCeiling,
		CostCeilingUSD: r.defaults.CostCeilingUSD,
		OverageAllowed: r.defaults.OverageAllowed,
		ResetsAt:       periodReset(time.Now()),
	}
	if v, ok := values["token_ceiling"]; ok {
		state.TokenCeiling, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := values["cost_ceiling_usd"]; ok {
		state.CostCeilingUSD, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := values["tokens_consumed"]; ok {
		state.TokensConsumed, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := values["cost_consumed_usd"]; ok {
		state.CostConsumedUSD, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := values["overage_allowed"]; ok {
		state.OverageAllowed = v == "1"
	}
	return state, nil
}

// AddUsage implements Store. Increments are applied atomically via
// HINCRBY/HINCRBYFLOAT in a single MULTI block.
func (r *RedisStore) AddUsage(ctx context.Context, userID, period string, tokens int64, costUSD float64) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	key := quotaKey(userID, period)
	if err := conn.Send("MULTI"); err != nil {
		return err
	}
	if err := conn.Send("HINCRBY", key, "tokens_consumed", tokens); err != nil {
		return err
	}
	if err := conn.Send("HINCRBYFLOAT", key, "cost_consumed_usd", costUSD); err != nil {
		return err
	}
	if err := conn.Send("EXPIRE", key, int64(quotaKeyTTL.Seconds())); err != nil {
		return err
	}
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("apply quota usage: %w", err)
	}
	return nil
}
