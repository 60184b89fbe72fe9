package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/goliatone/go-pipeline"
)

const (
	entityPrefix     = "entity:"
	slaPrefix        = "sla:"
	slaActiveIdx     = "sla:active:"   // entity id → active clock id
	slaBreachIdx     = "sla:breach:"   // zset scored by BreachAt
	escalationPrefix = "esc:"          // list per entity
	escalationLevel  = "esc:level:"    // counter per entity
	deliveryPrefix   = "delivery:"     // list per event+endpoint
)

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// RedisStore backs every store interface with one Redis connection.
// Keys are namespaced per tenant so tenants never see each other's
// records.
type RedisStore struct {
	client *redis.Client
	clock  pipeline.Clock
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, clock: pipeline.SystemClock()}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func tenantKey(tenant, prefix, id string) string {
	return pipeline.NormalizeID(tenant) + ":" + prefix + id
}

// Load implements pipeline.EntityStore.
func (s *RedisStore) Load(ctx context.Context, tenant, id string) (*pipeline.Entity, error) {
	var e pipeline.Entity
	if err := s.getJSON(ctx, tenantKey(tenant, entityPrefix, id), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Save implements pipeline.EntityStore. The version check and write run
// inside a WATCH transaction so concurrent writers conflict instead of
// clobbering each other.
func (s *RedisStore) Save(ctx context.Context, tenant string, e *pipeline.Entity, expectedVersion int) (int, error) {
	key := tenantKey(tenant, entityPrefix, e.ID)
	newVersion := expectedVersion + 1

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		if err != redis.Nil {
			var current pipeline.Entity
			if uerr := json.Unmarshal(data, &current); uerr != nil {
				return fmt.Errorf("decode %s: %w", key, uerr)
			}
			if current.Version != expectedVersion {
				return pipeline.CloneError(pipeline.ErrVersionConflict, "entity version conflict", nil, map[string]any{
					"entity_id": e.ID,
					"expected":  expectedVersion,
					"actual":    current.Version,
				})
			}
		}

		cp := e.Clone()
		cp.Version = newVersion
		cp.UpdatedAt = s.clock.Now()
		payload, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("encode entity %s: %w", e.ID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if err == redis.TxFailedErr {
			return 0, pipeline.CloneError(pipeline.ErrVersionConflict, "entity modified concurrently", err, map[string]any{
				"entity_id": e.ID,
			})
		}
		return 0, err
	}
	return newVersion, nil
}

// CountActiveOwned implements pipeline.EntityStore. The scan is keyed on
// the tenant's entity namespace; owner counts stay approximate under
// heavy churn, which least_loaded tolerates.
func (s *RedisStore) CountActiveOwned(ctx context.Context, tenant, ownerID string) (int, error) {
	owner := pipeline.NormalizeID(ownerID)
	pattern := pipeline.NormalizeID(tenant) + ":" + entityPrefix + "*"
	count := 0
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return 0, err
		}
		var e pipeline.Entity
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if e.IsActive() && pipeline.NormalizeID(e.OwnerID) == owner {
			count++
		}
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}

// Create implements pipeline.SlaStore.
func (s *RedisStore) Create(ctx context.Context, tenant string, clock *pipeline.SlaClock) error {
	payload, err := json.Marshal(clock)
	if err != nil {
		return fmt.Errorf("encode sla clock %s: %w", clock.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, tenantKey(tenant, slaPrefix, clock.ID), payload, 0)
		pipe.Set(ctx, tenantKey(tenant, slaActiveIdx, clock.EntityID), clock.ID, 0)
		pipe.ZAdd(ctx, pipeline.NormalizeID(tenant)+":"+slaBreachIdx, &redis.Z{
			Score:  float64(clock.BreachAt.UnixNano()),
			Member: clock.ID,
		})
		return nil
	})
	return err
}

// ActiveClock implements pipeline.SlaStore.
func (s *RedisStore) ActiveClock(ctx context.Context, tenant, entityID string) (*pipeline.SlaClock, error) {
	clockID, err := s.client.Get(ctx, tenantKey(tenant, slaActiveIdx, entityID)).Result()
	if err == redis.Nil {
		return nil, pipeline.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var clock pipeline.SlaClock
	if err := s.getJSON(ctx, tenantKey(tenant, slaPrefix, clockID), &clock); err != nil {
		return nil, err
	}
	if clock.Status != pipeline.SlaStatusActive {
		return nil, pipeline.ErrNotFound
	}
	return &clock, nil
}

// Resolve implements pipeline.SlaStore.
func (s *RedisStore) Resolve(ctx context.Context, tenant, clockID string) (bool, error) {
	return s.swapStatus(ctx, tenant, clockID, pipeline.SlaStatusResolved)
}

// MarkBreached implements pipeline.SlaStore.
func (s *RedisStore) MarkBreached(ctx context.Context, tenant, clockID string) (bool, error) {
	return s.swapStatus(ctx, tenant, clockID, pipeline.SlaStatusBreached)
}

func (s *RedisStore) swapStatus(ctx context.Context, tenant, clockID string, to pipeline.SlaStatus) (bool, error) {
	key := tenantKey(tenant, slaPrefix, clockID)
	swapped := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return pipeline.ErrNotFound
		}
		if err != nil {
			return err
		}
		var clock pipeline.SlaClock
		if err := json.Unmarshal(data, &clock); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if clock.Status != pipeline.SlaStatusActive {
			return nil
		}
		clock.Status = to
		payload, err := json.Marshal(&clock)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.Del(ctx, tenantKey(tenant, slaActiveIdx, clock.EntityID))
			pipe.ZRem(ctx, pipeline.NormalizeID(tenant)+":"+slaBreachIdx, clock.ID)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)
	if err != nil {
		if errors.Is(err, pipeline.ErrNotFound) {
			return false, pipeline.ErrNotFound
		}
		if err == redis.TxFailedErr {
			// someone else swapped first
			return false, nil
		}
		return false, err
	}
	return swapped, nil
}

// ListBreachable implements pipeline.SlaStore via the breach-time index.
func (s *RedisStore) ListBreachable(ctx context.Context, tenant string, now time.Time, limit int) ([]*pipeline.SlaClock, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, pipeline.NormalizeID(tenant)+":"+slaBreachIdx, opt).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*pipeline.SlaClock, 0, len(ids))
	for _, id := range ids {
		var clock pipeline.SlaClock
		if err := s.getJSON(ctx, tenantKey(tenant, slaPrefix, id), &clock); err != nil {
			if errors.Is(err, pipeline.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if clock.Status == pipeline.SlaStatusActive {
			out = append(out, &clock)
		}
	}
	return out, nil
}

// Append implements pipeline.EscalationStore. The level counter INCR is
// atomic, so concurrent appends for the same entity never collide or gap.
func (s *RedisStore) Append(ctx context.Context, tenant string, esc *pipeline.Escalation) (*pipeline.Escalation, error) {
	level, err := s.client.Incr(ctx, tenantKey(tenant, escalationLevel, esc.EntityID)).Result()
	if err != nil {
		return nil, err
	}
	cp := *esc
	cp.Level = int(level)
	payload, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("encode escalation %s: %w", cp.ID, err)
	}
	if err := s.client.RPush(ctx, tenantKey(tenant, escalationPrefix, esc.EntityID), payload).Err(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// MaxLevel implements pipeline.EscalationStore.
func (s *RedisStore) MaxLevel(ctx context.Context, tenant, entityID string) (int, error) {
	level, err := s.client.Get(ctx, tenantKey(tenant, escalationLevel, entityID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return level, nil
}

// ListByEntity implements pipeline.EscalationStore.
func (s *RedisStore) ListByEntity(ctx context.Context, tenant, entityID string) ([]*pipeline.Escalation, error) {
	rows, err := s.client.LRange(ctx, tenantKey(tenant, escalationPrefix, entityID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*pipeline.Escalation, 0, len(rows))
	for _, row := range rows {
		var esc pipeline.Escalation
		if err := json.Unmarshal([]byte(row), &esc); err != nil {
			return nil, fmt.Errorf("decode escalation row: %w", err)
		}
		out = append(out, &esc)
	}
	return out, nil
}

// AppendDelivery implements pipeline.DeliveryLog.Append. Attempts for
// one event+endpoint pair share a list, preserving append order.
func (s *RedisStore) AppendDelivery(ctx context.Context, attempt *pipeline.DeliveryAttempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("encode delivery attempt %s: %w", attempt.ID, err)
	}
	key := deliveryPrefix + attempt.EventID + ":" + attempt.EndpointID
	return s.client.RPush(ctx, key, payload).Err()
}

// ListDeliveries implements pipeline.DeliveryLog.ListByEvent.
func (s *RedisStore) ListDeliveries(ctx context.Context, eventID, endpointID string) ([]*pipeline.DeliveryAttempt, error) {
	rows, err := s.client.LRange(ctx, deliveryPrefix+eventID+":"+endpointID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*pipeline.DeliveryAttempt, 0, len(rows))
	for _, row := range rows {
		var a pipeline.DeliveryAttempt
		if err := json.Unmarshal([]byte(row), &a); err != nil {
			return nil, fmt.Errorf("decode delivery row: %w", err)
		}
		out = append(out, &a)
	}
	return out, nil
}

// DeliveryLog adapts the store to the pipeline.DeliveryLog interface.
func (s *RedisStore) DeliveryLog() pipeline.DeliveryLog {
	return redisDeliveryLog{s}
}

type redisDeliveryLog struct{ s *RedisStore }

func (l redisDeliveryLog) Append(ctx context.Context, attempt *pipeline.DeliveryAttempt) error {
	return l.s.AppendDelivery(ctx, attempt)
}

func (l redisDeliveryLog) ListByEvent(ctx context.Context, eventID, endpointID string) ([]*pipeline.DeliveryAttempt, error) {
	return l.s.ListDeliveries(ctx, eventID, endpointID)
}

func (s *RedisStore) getJSON(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return fmt.Errorf("%w: key=%s", pipeline.ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
