package store

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/resilience"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Open returns the backend cfg names. rdb is only used by the redis backend,
// whose circuit breaker state is published through m.
func Open(cfg config.StoreConfig, rdb redis.Cmdable, m *metrics.Metrics) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		slog.Warn("using in-process memory store; the index is lost on exit")
		return NewMemory(), nil
	case BackendRedis, "":
		if rdb == nil {
			return nil, fmt.Errorf("redis store backend requires a redis client")
		}
		return NewRedis(rdb, RedisOptions{
			AtomicBatches: cfg.AtomicBatches,
			OpTimeout:     cfg.OpTimeout,
			CircuitBreaker: resilience.CircuitBreakerConfig{
				FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
				ResetTimeout:     cfg.CircuitBreaker.ResetTimeout,
				OnStateChange: func(name string, _, to resilience.State) {
					m.SetBreakerState(name, int(to))
				},
			},
		}), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
