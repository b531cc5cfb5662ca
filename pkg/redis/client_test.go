package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(config.RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestFlushByPatternSpansScanPages(t *testing.T) {
	c, mr := newTestClient(t)
	for i := 0; i < 3*scanPageSize+7; i++ {
		mr.Set(fmt.Sprintf("idx:cache:%d", i), "x")
	}
	mr.ZAdd("idx:cat", 0.5, "1")

	n, err := c.FlushByPattern(context.Background(), "idx:cache:*")
	if err != nil {
		t.Fatalf("FlushByPattern: %v", err)
	}
	if n != 3*scanPageSize+7 {
		t.Errorf("deleted %d keys", n)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "idx:cat" {
		t.Errorf("remaining keys = %v", keys)
	}
}

func TestGetMissingKeyIsNil(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := c.Get(ctx, "absent"); !IsNilError(err) {
		t.Fatalf("expected nil error, got %v", err)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatal(err)
	}
	if v, err := c.Get(ctx, "k"); err != nil || v != "v" {
		t.Errorf("Get = %q, %v", v, err)
	}
}

func TestDelRemovesOnlyNamedKeys(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Set("a", "1")
	mr.Set("b", "2")
	if err := c.Del(context.Background(), "a", "missing"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 1 || keys[0] != "b" {
		t.Errorf("remaining keys = %v", keys)
	}
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewClient(config.RedisConfig{Addr: addr}); err == nil {
		t.Fatal("expected connection error")
	}
}
