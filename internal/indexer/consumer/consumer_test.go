package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
)

var keys = store.NewKeyspace("idx:")

type statuses map[string]string

func (s statuses) SetStatus(_ context.Context, id, status string) error {
	s[id] = status
	return nil
}

type countingCache struct{ calls int }

func (c *countingCache) Invalidate(context.Context) (int64, error) {
	c.calls++
	return 0, nil
}

func encode(t *testing.T, ev ingestion.DocumentEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHandleMessageAppliesEvents(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	ix := indexer.New(mem, keys, tokenizer.New(config.TokenizerConfig{MinLength: 2}), config.IndexConfig{RetryAttempts: 1}, nil)
	st, cache := statuses{}, &countingCache{}
	handle := HandleMessage(ix, st, cache)

	events := []ingestion.DocumentEvent{
		{Op: ingestion.OpIndex, DocumentID: "1", Content: "alpha beta", EmittedAt: time.Now()},
		{Op: ingestion.OpReindex, DocumentID: "1", Content: "gamma"},
	}
	for _, ev := range events {
		if err := handle(ctx, []byte(ev.DocumentID), encode(t, ev)); err != nil {
			t.Fatalf("%s: %v", ev.Op, err)
		}
	}
	snap := mem.Snapshot()
	if _, stale := snap.Weighted[keys.Postings("alpha")]; stale {
		t.Error("reindex event left the alpha posting")
	}
	if st["1"] != ingestion.StatusIndexed {
		t.Errorf("status = %q", st["1"])
	}

	remove := ingestion.DocumentEvent{Op: ingestion.OpRemove, DocumentID: "1"}
	if err := handle(ctx, []byte("1"), encode(t, remove)); err != nil {
		t.Fatal(err)
	}
	if st["1"] != ingestion.StatusRemoved {
		t.Errorf("status after remove = %q", st["1"])
	}
	if keys := mem.Keys(); len(keys) != 0 {
		t.Errorf("store not empty after remove: %v", keys)
	}
	if cache.calls != 3 {
		t.Errorf("cache invalidated %d times, want 3", cache.calls)
	}
}

func TestHandleMessageDropsMalformedEvents(t *testing.T) {
	handle := HandleMessage(failingIndexer{}, nil, nil)
	for _, payload := range [][]byte{
		[]byte("{not json"),
		[]byte(`{"op":"upsert","document_id":"1"}`),
		[]byte(`{"op":"index","document_id":""}`),
	} {
		if err := handle(context.Background(), nil, payload); err != nil {
			t.Errorf("payload %s: expected drop, got %v", payload, err)
		}
	}
}

func TestHandleMessageMarksFailure(t *testing.T) {
	st := statuses{}
	handle := HandleMessage(failingIndexer{}, st, nil)
	ev := ingestion.DocumentEvent{Op: ingestion.OpReindex, DocumentID: "1", Content: "x"}
	err := handle(context.Background(), []byte("1"), encode(t, ev))
	if !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Fatalf("expected store error, got %v", err)
	}
	if st["1"] != ingestion.StatusFailed {
		t.Errorf("status = %q, want FAILED", st["1"])
	}
}

type failingIndexer struct{}

var errDown = apperrors.Unavailable("exec", errors.New("connection refused"))

func (failingIndexer) Index(context.Context, string, string) (int, error)   { return 0, errDown }
func (failingIndexer) Reindex(context.Context, string, string) (int, error) { return 0, errDown }
func (failingIndexer) Remove(context.Context, string) (int, error)          { return 0, errDown }
