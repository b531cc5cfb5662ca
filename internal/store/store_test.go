package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/resilience"
)

type storeFactory func(t *testing.T) Store

func newMemoryStore(t *testing.T) Store {
	return NewMemory()
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedis(rdb, RedisOptions{AtomicBatches: true, OpTimeout: time.Second})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, newMemoryStore)
}

func TestRedisStoreContract(t *testing.T) {
	runStoreContract(t, newRedisStore)
}

func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("batch and cardinalities", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		err := s.Batch(ctx,
			SetAdd("members", "d1"),
			SetAdd("members", "d2"),
			WeightedUpsert("cat", "d1", 0.5),
			WeightedUpsert("cat", "d2", 0.25),
			WeightedUpsert("dog", "d2", 1),
		)
		if err != nil {
			t.Fatalf("Batch: %v", err)
		}
		if n, _ := s.SetCardinality(ctx, "members"); n != 2 {
			t.Errorf("SetCardinality = %d, want 2", n)
		}
		counts, err := s.WeightedCardinalities(ctx, "dog", "missing", "cat")
		if err != nil {
			t.Fatalf("WeightedCardinalities: %v", err)
		}
		want := []int64{1, 0, 2}
		for i := range want {
			if counts[i] != want[i] {
				t.Errorf("counts[%d] = %d, want %d", i, counts[i], want[i])
			}
		}
		if n, _ := s.WeightedCardinality(ctx, "cat"); n != 2 {
			t.Errorf("WeightedCardinality = %d, want 2", n)
		}
	})

	t.Run("removing last member drops the key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustBatch(t, s, SetAdd("doc:1", "cat"), WeightedUpsert("cat", "1", 1))
		mustBatch(t, s, SetRemove("doc:1", "cat"), WeightedRemove("cat", "1"))
		members, err := s.SetMembers(ctx, "doc:1")
		if err != nil {
			t.Fatal(err)
		}
		if len(members) != 0 {
			t.Errorf("expected no members, got %v", members)
		}
		page, _ := s.RangeDescending(ctx, "cat", 0, 10)
		if len(page) != 0 {
			t.Errorf("expected empty posting set, got %v", page)
		}
	})

	t.Run("set members sorted", func(t *testing.T) {
		s := newStore(t)
		mustBatch(t, s, SetAdd("doc:9", "zebra"), SetAdd("doc:9", "apple"), SetAdd("doc:9", "mango"))
		members, err := s.SetMembers(context.Background(), "doc:9")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"apple", "mango", "zebra"}
		if len(members) != len(want) {
			t.Fatalf("members = %v", members)
		}
		for i := range want {
			if members[i] != want[i] {
				t.Errorf("members[%d] = %q, want %q", i, members[i], want[i])
			}
		}
	})

	t.Run("weighted union", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustBatch(t, s,
			WeightedUpsert("a", "d1", 0.5),
			WeightedUpsert("a", "d2", 0.25),
			WeightedUpsert("b", "d2", 1),
			WeightedUpsert("b", "d3", 0.5),
		)
		n, err := s.UnionWeighted(ctx, "scratch", map[string]float64{"a": 2, "b": 1}, 0)
		if err != nil {
			t.Fatalf("UnionWeighted: %v", err)
		}
		if n != 3 {
			t.Fatalf("union cardinality = %d, want 3", n)
		}
		page, err := s.RangeDescending(ctx, "scratch", 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		want := []ScoredMember{{"d2", 1.5}, {"d1", 1.0}, {"d3", 0.5}}
		assertPage(t, page, want)
	})

	t.Run("union replaces destination", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustBatch(t, s, WeightedUpsert("dest", "stale", 9), WeightedUpsert("a", "d1", 1))
		if _, err := s.UnionWeighted(ctx, "dest", map[string]float64{"a": 1}, 0); err != nil {
			t.Fatal(err)
		}
		page, _ := s.RangeDescending(ctx, "dest", 0, 10)
		assertPage(t, page, []ScoredMember{{"d1", 1}})

		n, err := s.UnionWeighted(ctx, "dest", map[string]float64{}, 0)
		if err != nil || n != 0 {
			t.Fatalf("empty union: n=%d err=%v", n, err)
		}
		if n, _ := s.WeightedCardinality(ctx, "dest"); n != 0 {
			t.Errorf("dest should be gone, cardinality %d", n)
		}
	})

	t.Run("union sums in key order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		t1, t2, t3 := 0.3, 0.2, 0.1
		mustBatch(t, s,
			WeightedUpsert("t1", "d1", t1),
			WeightedUpsert("t2", "d1", t2),
			WeightedUpsert("t3", "d1", t3),
			WeightedUpsert("t4", "d2", (t1+t2)+t3),
		)
		weights := map[string]float64{"t1": 1, "t2": 1, "t3": 1, "t4": 1}
		for i := 0; i < 20; i++ {
			if _, err := s.UnionWeighted(ctx, "dest", weights, 0); err != nil {
				t.Fatal(err)
			}
			page, _ := s.RangeDescending(ctx, "dest", 0, 10)
			assertPage(t, page, []ScoredMember{{"d2", (t1 + t2) + t3}, {"d1", (t1 + t2) + t3}})
		}
	})

	t.Run("range order, ties and paging", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustBatch(t, s,
			WeightedUpsert("z", "a", 1),
			WeightedUpsert("z", "b", 2),
			WeightedUpsert("z", "c", 1),
			WeightedUpsert("z", "d", 3),
		)
		all, _ := s.RangeDescending(ctx, "z", 0, 10)
		assertPage(t, all, []ScoredMember{{"d", 3}, {"b", 2}, {"c", 1}, {"a", 1}})

		first, _ := s.RangeDescending(ctx, "z", 0, 2)
		second, _ := s.RangeDescending(ctx, "z", 2, 2)
		assertPage(t, append(first, second...), all)

		beyond, err := s.RangeDescending(ctx, "z", 10, 5)
		if err != nil || len(beyond) != 0 {
			t.Errorf("beyond end: %v %v", beyond, err)
		}
		none, _ := s.RangeDescending(ctx, "z", 0, 0)
		if len(none) != 0 {
			t.Errorf("zero count returned %v", none)
		}
	})

	t.Run("delete key", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustBatch(t, s, WeightedUpsert("k", "m", 1))
		if err := s.DeleteKey(ctx, "k"); err != nil {
			t.Fatal(err)
		}
		if err := s.DeleteKey(ctx, "never-existed"); err != nil {
			t.Fatalf("deleting a missing key must succeed: %v", err)
		}
		if n, _ := s.WeightedCardinality(ctx, "k"); n != 0 {
			t.Errorf("cardinality after delete = %d", n)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.SetCardinality(ctx, "members")
		if !errors.Is(err, apperrors.ErrStoreUnavailable) {
			t.Errorf("expected ErrStoreUnavailable, got %v", err)
		}
	})
}

func TestMemoryScratchExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()
	mustBatch(t, m, WeightedUpsert("a", "d1", 1))
	if _, err := m.UnionWeighted(ctx, "tmp", map[string]float64{"a": 1}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if n, _ := m.WeightedCardinality(ctx, "tmp"); n != 1 {
		t.Fatalf("tmp should exist before expiry")
	}
	now = now.Add(time.Minute)
	if n, _ := m.WeightedCardinality(ctx, "tmp"); n != 0 {
		t.Errorf("tmp should be expired")
	}
	if keys := m.Keys(); len(keys) != 1 || keys[0] != "a" {
		t.Errorf("keys = %v, want [a]", keys)
	}
}

func TestRedisScratchExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewRedis(rdb, RedisOptions{})
	ctx := context.Background()
	mustBatch(t, s, WeightedUpsert("a", "d1", 1))
	if _, err := s.UnionWeighted(ctx, "tmp", map[string]float64{"a": 1}, time.Minute); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("tmp"); ttl != time.Minute {
		t.Errorf("ttl = %v, want 1m", ttl)
	}
	mr.FastForward(time.Minute)
	if mr.Exists("tmp") {
		t.Error("tmp should have expired")
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := NewRedis(rdb, RedisOptions{OpTimeout: time.Second})
	mr.Close()

	err := s.Batch(context.Background(), SetAdd("members", "d1"))
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRedisCallerCancellationKeepsBreakerClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	s := NewRedis(rdb, RedisOptions{
		OpTimeout:      time.Second,
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute},
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 10; i++ {
		_, err := s.SetCardinality(cancelled, "members")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("call %d: expected context.Canceled, got %v", i, err)
		}
	}
	expired, cancelExpired := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancelExpired()
	for i := 0; i < 10; i++ {
		s.SetCardinality(expired, "members")
	}

	if state := s.BreakerState(); state != resilience.StateClosed {
		t.Fatalf("breaker state = %v after caller cancellations", state)
	}
	if _, err := s.SetCardinality(context.Background(), "members"); err != nil {
		t.Errorf("healthy call after cancellations: %v", err)
	}
}

func TestRedisServerFailuresOpenBreaker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := NewRedis(rdb, RedisOptions{
		OpTimeout:      time.Second,
		CircuitBreaker: resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
	})
	mr.Close()

	for i := 0; i < 2; i++ {
		s.SetCardinality(context.Background(), "members")
	}
	if state := s.BreakerState(); state != resilience.StateOpen {
		t.Errorf("breaker state = %v after server failures, want open", state)
	}
}

func TestKeyspace(t *testing.T) {
	k := NewKeyspace("idx:")
	if got := k.Membership(); got != "idx:indexed:" {
		t.Errorf("Membership = %q", got)
	}
	if got := k.Postings("indexed"); got == k.Membership() {
		t.Errorf("posting key for term %q aliases the membership set", "indexed")
	}
	if got := k.DocTerms("42"); got != "idx:doc:42" {
		t.Errorf("DocTerms = %q", got)
	}
	a, b := k.Scratch(), k.Scratch()
	if a == b {
		t.Errorf("scratch keys collide: %q", a)
	}
	if len(a) <= len("idx:temp:") || a[:len("idx:temp:")] != "idx:temp:" {
		t.Errorf("scratch key %q outside temp namespace", a)
	}
}

func mustBatch(t *testing.T, s Store, ops ...Op) {
	t.Helper()
	if err := s.Batch(context.Background(), ops...); err != nil {
		t.Fatalf("Batch: %v", err)
	}
}

func assertPage(t *testing.T, got, want []ScoredMember) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("page = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].Member != want[i].Member || got[i].Score != want[i].Score {
			t.Errorf("page[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOpen(t *testing.T) {
	st, err := Open(config.StoreConfig{Backend: BackendMemory}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Errorf("memory backend returned %T", st)
	}
	if _, err := Open(config.StoreConfig{Backend: BackendRedis}, nil, nil); err == nil {
		t.Error("redis backend without a client should fail")
	}
	if _, err := Open(config.StoreConfig{Backend: "etcd"}, nil, nil); err == nil {
		t.Error("unknown backend should fail")
	}
}
