package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
)

// Memory is an in-process Store. Every call, batches included, executes
// under one lock, so batches are atomic.
type Memory struct {
	mu       sync.Mutex
	sets     map[string]map[string]struct{}
	weighted map[string]map[string]float64
	expiry   map[string]time.Time
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		sets:     make(map[string]map[string]struct{}),
		weighted: make(map[string]map[string]float64),
		expiry:   make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *Memory) Batch(ctx context.Context, ops ...Op) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Unavailable("batch", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		m.expireLocked(op.Key)
		switch op.Kind {
		case OpSetAdd:
			set, ok := m.sets[op.Key]
			if !ok {
				set = make(map[string]struct{})
				m.sets[op.Key] = set
			}
			set[op.Member] = struct{}{}
		case OpSetRemove:
			if set, ok := m.sets[op.Key]; ok {
				delete(set, op.Member)
				if len(set) == 0 {
					m.deleteLocked(op.Key)
				}
			}
		case OpWeightedUpsert:
			zset, ok := m.weighted[op.Key]
			if !ok {
				zset = make(map[string]float64)
				m.weighted[op.Key] = zset
			}
			zset[op.Member] = op.Weight
		case OpWeightedRemove:
			if zset, ok := m.weighted[op.Key]; ok {
				delete(zset, op.Member)
				if len(zset) == 0 {
					m.deleteLocked(op.Key)
				}
			}
		case OpDeleteKey:
			m.deleteLocked(op.Key)
		default:
			return fmt.Errorf("unsupported batch op %v", op.Kind)
		}
	}
	return nil
}

func (m *Memory) SetCardinality(ctx context.Context, key string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Unavailable("scard", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	return int64(len(m.sets[key])), nil
}

func (m *Memory) SetMembers(ctx context.Context, key string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Unavailable("smembers", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	members := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *Memory) WeightedCardinality(ctx context.Context, key string) (int64, error) {
	counts, err := m.WeightedCardinalities(ctx, key)
	if err != nil {
		return 0, err
	}
	return counts[0], nil
}

func (m *Memory) WeightedCardinalities(ctx context.Context, keys ...string) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Unavailable("zcard", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make([]int64, len(keys))
	for i, key := range keys {
		m.expireLocked(key)
		counts[i] = int64(len(m.weighted[key]))
	}
	return counts, nil
}

func (m *Memory) UnionWeighted(ctx context.Context, dest string, weights map[string]float64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Unavailable("zunionstore", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Summed in sorted key order so repeated unions round identically.
	keys := make([]string, 0, len(weights))
	for key := range weights {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	union := make(map[string]float64)
	for _, key := range keys {
		m.expireLocked(key)
		multiplier := weights[key]
		for member, score := range m.weighted[key] {
			union[member] += score * multiplier
		}
	}
	m.deleteLocked(dest)
	if len(union) == 0 {
		return 0, nil
	}
	m.weighted[dest] = union
	if ttl > 0 {
		m.expiry[dest] = m.now().Add(ttl)
	}
	return int64(len(union)), nil
}

func (m *Memory) RangeDescending(ctx context.Context, key string, offset, count int64) ([]ScoredMember, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Unavailable("zrevrange", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key)
	zset := m.weighted[key]
	if count <= 0 || offset < 0 || offset >= int64(len(zset)) {
		return []ScoredMember{}, nil
	}
	ranked := make([]ScoredMember, 0, len(zset))
	for member, score := range zset {
		ranked = append(ranked, ScoredMember{Member: member, Score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Member > ranked[j].Member
	})
	end := offset + count
	if end > int64(len(ranked)) {
		end = int64(len(ranked))
	}
	return ranked[offset:end], nil
}

func (m *Memory) DeleteKey(ctx context.Context, key string) error {
	return m.Batch(ctx, DeleteKey(key))
}

func (m *Memory) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Unavailable("ping", err)
	}
	return nil
}

// Snapshot is a point-in-time copy of a Memory store's contents.
type Snapshot struct {
	Sets     map[string][]string
	Weighted map[string]map[string]float64
}

// Snapshot copies every live key. Set members are sorted.
func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.expiry {
		m.expireLocked(key)
	}
	snap := Snapshot{
		Sets:     make(map[string][]string, len(m.sets)),
		Weighted: make(map[string]map[string]float64, len(m.weighted)),
	}
	for key, set := range m.sets {
		members := make([]string, 0, len(set))
		for member := range set {
			members = append(members, member)
		}
		sort.Strings(members)
		snap.Sets[key] = members
	}
	for key, zset := range m.weighted {
		cp := make(map[string]float64, len(zset))
		for member, score := range zset {
			cp[member] = score
		}
		snap.Weighted[key] = cp
	}
	return snap
}

// Keys returns every live key, sorted.
func (m *Memory) Keys() []string {
	snap := m.Snapshot()
	keys := make([]string, 0, len(snap.Sets)+len(snap.Weighted))
	for key := range snap.Sets {
		keys = append(keys, key)
	}
	for key := range snap.Weighted {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) expireLocked(key string) {
	deadline, ok := m.expiry[key]
	if ok && !m.now().Before(deadline) {
		m.deleteLocked(key)
	}
}

func (m *Memory) deleteLocked(key string) {
	delete(m.sets, key)
	delete(m.weighted, key)
	delete(m.expiry, key)
}
