package indexer

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
)

const benchContent = "benchmark document body for measuring indexing throughput against the store"

// BenchmarkIndex measures Index throughput at various pre-loaded corpus sizes.
func BenchmarkIndex(b *testing.B) {
	for _, preload := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("preload_%d", preload), func(b *testing.B) {
			ctx := context.Background()
			ix := newTestIndexer(store.NewMemory())
			for i := 0; i < preload; i++ {
				ix.Index(ctx, fmt.Sprintf("preload-%d", i), "preloading documents for benchmark warmup phase")
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := ix.Index(ctx, fmt.Sprintf("bench-%d", i), benchContent); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkReindex measures the remove-then-index update path on one document.
func BenchmarkReindex(b *testing.B) {
	ctx := context.Background()
	ix := newTestIndexer(store.NewMemory())
	ix.Index(ctx, "doc", benchContent)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ix.Reindex(ctx, "doc", benchContent); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkIndexRedis includes the pipelined round trips to a Redis server.
func BenchmarkIndexRedis(b *testing.B) {
	mr := miniredis.RunT(b)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	ix := newTestIndexer(store.NewRedis(rdb, store.RedisOptions{}))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ix.Index(ctx, fmt.Sprintf("bench-%d", i), benchContent); err != nil {
			b.Fatal(err)
		}
	}
}
