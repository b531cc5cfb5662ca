package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/resilience"
)

// RedisOptions tunes how a Redis store issues round trips.
type RedisOptions struct {
	// AtomicBatches wraps every Batch in MULTI/EXEC.
	AtomicBatches bool
	// OpTimeout bounds each round trip on top of the caller's deadline.
	OpTimeout      time.Duration
	CircuitBreaker resilience.CircuitBreakerConfig
}

// Redis is a Store over sets and sorted sets of a Redis server.
type Redis struct {
	rdb     redis.Cmdable
	opts    RedisOptions
	breaker *resilience.CircuitBreaker
	logger  *slog.Logger
}

func NewRedis(rdb redis.Cmdable, opts RedisOptions) *Redis {
	return &Redis{
		rdb:     rdb,
		opts:    opts,
		breaker: resilience.NewCircuitBreaker("redis-store", opts.CircuitBreaker),
		logger:  slog.Default().With("component", "redis-store"),
	}
}

// BreakerState reports whether round trips are currently short-circuited.
func (r *Redis) BreakerState() resilience.State {
	return r.breaker.GetState()
}

func (r *Redis) Batch(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	return r.do(ctx, "batch", func(ctx context.Context) error {
		_, err := r.pipelined(ctx, r.opts.AtomicBatches, func(pipe redis.Pipeliner) error {
			for _, op := range ops {
				switch op.Kind {
				case OpSetAdd:
					pipe.SAdd(ctx, op.Key, op.Member)
				case OpSetRemove:
					pipe.SRem(ctx, op.Key, op.Member)
				case OpWeightedUpsert:
					pipe.ZAdd(ctx, op.Key, redis.Z{Score: op.Weight, Member: op.Member})
				case OpWeightedRemove:
					pipe.ZRem(ctx, op.Key, op.Member)
				case OpDeleteKey:
					pipe.Del(ctx, op.Key)
				default:
					return fmt.Errorf("unsupported batch op %v", op.Kind)
				}
			}
			return nil
		})
		return err
	})
}

func (r *Redis) SetCardinality(ctx context.Context, key string) (int64, error) {
	var n int64
	err := r.do(ctx, "scard", func(ctx context.Context) error {
		var err error
		n, err = r.rdb.SCard(ctx, key).Result()
		return err
	})
	return n, err
}

func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := r.do(ctx, "smembers", func(ctx context.Context) error {
		var err error
		members, err = r.rdb.SMembers(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}

func (r *Redis) WeightedCardinality(ctx context.Context, key string) (int64, error) {
	var n int64
	err := r.do(ctx, "zcard", func(ctx context.Context) error {
		var err error
		n, err = r.rdb.ZCard(ctx, key).Result()
		return err
	})
	return n, err
}

func (r *Redis) WeightedCardinalities(ctx context.Context, keys ...string) ([]int64, error) {
	counts := make([]int64, len(keys))
	if len(keys) == 0 {
		return counts, nil
	}
	err := r.do(ctx, "zcard", func(ctx context.Context) error {
		cmds := make([]*redis.IntCmd, len(keys))
		_, err := r.pipelined(ctx, false, func(pipe redis.Pipeliner) error {
			for i, key := range keys {
				cmds[i] = pipe.ZCard(ctx, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i, cmd := range cmds {
			counts[i] = cmd.Val()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *Redis) UnionWeighted(ctx context.Context, dest string, weights map[string]float64, ttl time.Duration) (int64, error) {
	if len(weights) == 0 {
		return 0, r.DeleteKey(ctx, dest)
	}
	keys := make([]string, 0, len(weights))
	for key := range weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	multipliers := make([]float64, len(keys))
	for i, key := range keys {
		multipliers[i] = weights[key]
	}

	var n int64
	err := r.do(ctx, "zunionstore", func(ctx context.Context) error {
		var union *redis.IntCmd
		_, err := r.pipelined(ctx, true, func(pipe redis.Pipeliner) error {
			union = pipe.ZUnionStore(ctx, dest, &redis.ZStore{
				Keys:      keys,
				Weights:   multipliers,
				Aggregate: "SUM",
			})
			if ttl > 0 {
				pipe.Expire(ctx, dest, ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		n = union.Val()
		return nil
	})
	return n, err
}

func (r *Redis) RangeDescending(ctx context.Context, key string, offset, count int64) ([]ScoredMember, error) {
	if count <= 0 || offset < 0 {
		return []ScoredMember{}, nil
	}
	var zs []redis.Z
	err := r.do(ctx, "zrevrange", func(ctx context.Context) error {
		var err error
		zs, err = r.rdb.ZRevRangeWithScores(ctx, key, offset, offset+count-1).Result()
		return err
	})
	if err != nil {
		return nil, err
	}
	page := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		page = append(page, ScoredMember{Member: fmt.Sprint(z.Member), Score: z.Score})
	}
	return page, nil
}

func (r *Redis) DeleteKey(ctx context.Context, key string) error {
	return r.do(ctx, "del", func(ctx context.Context) error {
		return r.rdb.Del(ctx, key).Err()
	})
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.do(ctx, "ping", func(ctx context.Context) error {
		return r.rdb.Ping(ctx).Err()
	})
}

// do runs one round trip through the circuit breaker under the per-op
// deadline and classifies any failure as ErrStoreUnavailable. A failure
// after the caller's own context ended is not held against the server.
func (r *Redis) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := r.breaker.Execute(func() error {
		opCtx := ctx
		if r.opts.OpTimeout > 0 {
			var cancel context.CancelFunc
			opCtx, cancel = context.WithTimeout(ctx, r.opts.OpTimeout)
			defer cancel()
		}
		err := fn(opCtx)
		if err != nil && ctx.Err() != nil {
			return resilience.Neutral(err)
		}
		return err
	})
	if err != nil {
		r.logger.Debug("round trip failed", "op", op, "error", err)
		return apperrors.Unavailable(op, err)
	}
	return nil
}

func (r *Redis) pipelined(ctx context.Context, atomic bool, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	if atomic {
		return r.rdb.TxPipelined(ctx, fn)
	}
	return r.rdb.Pipelined(ctx, fn)
}
