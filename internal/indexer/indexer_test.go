package indexer

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
)

var keys = store.NewKeyspace("idx:")

func newTestIndexer(st store.Store) *Indexer {
	tok := tokenizer.New(config.TokenizerConfig{MinLength: 2})
	return New(st, keys, tok, config.IndexConfig{RetryAttempts: 1}, nil)
}

func TestIndexWritesPostingsMembershipAndBackRefs(t *testing.T) {
	mem := store.NewMemory()
	ix := newTestIndexer(mem)

	n, err := ix.Index(context.Background(), "1", "the cat sat on the cat mat")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if n != 3 {
		t.Fatalf("Index returned %d terms, want 3", n)
	}

	snap := mem.Snapshot()
	if got := snap.Sets[keys.Membership()]; !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("membership = %v", got)
	}
	if got := snap.Sets[keys.DocTerms("1")]; !reflect.DeepEqual(got, []string{"cat", "mat", "sat"}) {
		t.Errorf("back-references = %v", got)
	}
	wantTF := map[string]float64{"cat": 0.5, "sat": 0.25, "mat": 0.25}
	for term, tf := range wantTF {
		if got := snap.Weighted[keys.Postings(term)]["1"]; got != tf {
			t.Errorf("tf(%s) = %v, want %v", term, got, tf)
		}
	}
}

func TestIndexThenRemoveRestoresState(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	ix := newTestIndexer(mem)
	if _, err := ix.Index(ctx, "a", "redis sorted sets power search"); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.Index(ctx, "b", "search engines rank documents"); err != nil {
		t.Fatal(err)
	}
	before := mem.Snapshot()

	if _, err := ix.Index(ctx, "c", "ranked search over sorted sets, with sets"); err != nil {
		t.Fatal(err)
	}
	n, err := ix.Remove(ctx, "c")
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if n != 5 {
		t.Errorf("Remove returned %d, want 5", n)
	}
	after := mem.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Errorf("state not restored:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestRemoveUnknownDocument(t *testing.T) {
	ix := newTestIndexer(store.NewMemory())
	n, err := ix.Remove(context.Background(), "ghost")
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
}

func TestBareIndexLeavesStalePostingsReindexDoesNot(t *testing.T) {
	ctx := context.Background()

	mem := store.NewMemory()
	ix := newTestIndexer(mem)
	mustIndex(t, ix, "1", "alpha beta")
	mustIndex(t, ix, "1", "gamma")
	if _, ok := mem.Snapshot().Weighted[keys.Postings("alpha")]["1"]; !ok {
		t.Error("bare Index is expected to leave the stale alpha posting")
	}

	mem = store.NewMemory()
	ix = newTestIndexer(mem)
	mustIndex(t, ix, "1", "alpha beta")
	n, err := ix.Reindex(ctx, "1", "gamma")
	if err != nil || n != 1 {
		t.Fatalf("Reindex: n=%d err=%v", n, err)
	}
	snap := mem.Snapshot()
	for _, stale := range []string{"alpha", "beta"} {
		if _, ok := snap.Weighted[keys.Postings(stale)]; ok {
			t.Errorf("Reindex left a posting set for %q", stale)
		}
	}
	if got := snap.Weighted[keys.Postings("gamma")]["1"]; got != 1 {
		t.Errorf("tf(gamma) = %v, want 1", got)
	}
	if got := snap.Sets[keys.DocTerms("1")]; !reflect.DeepEqual(got, []string{"gamma"}) {
		t.Errorf("back-references = %v", got)
	}
}

func TestIndexWithoutTermsWritesNothing(t *testing.T) {
	mem := store.NewMemory()
	ix := newTestIndexer(mem)
	n, err := ix.Index(context.Background(), "1", "the and of a")
	if err != nil || n != 0 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if keys := mem.Keys(); len(keys) != 0 {
		t.Errorf("expected empty store, got keys %v", keys)
	}
}

func TestReindexWithoutTermsRemoves(t *testing.T) {
	mem := store.NewMemory()
	ix := newTestIndexer(mem)
	mustIndex(t, ix, "1", "alpha beta")
	if _, err := ix.Reindex(context.Background(), "1", "   "); err != nil {
		t.Fatal(err)
	}
	if keys := mem.Keys(); len(keys) != 0 {
		t.Errorf("expected empty store, got keys %v", keys)
	}
}

func TestIndexErrors(t *testing.T) {
	ctx := context.Background()
	ix := newTestIndexer(store.NewMemory())
	if _, err := ix.Index(ctx, "", "text"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("empty id: expected ErrInvalidInput, got %v", err)
	}

	tokErr := errors.New("tokenizer exploded")
	ix = New(store.NewMemory(), keys, failingTokenizer{tokErr}, config.IndexConfig{}, nil)
	if _, err := ix.Index(ctx, "1", "text"); !errors.Is(err, tokErr) {
		t.Errorf("expected tokenizer error to surface unchanged, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	ix = newTestIndexer(store.NewMemory())
	if _, err := ix.Index(cancelled, "1", "alpha"); !errors.Is(err, apperrors.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestBatchRetry(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{Store: mem, failures: 2}
	tok := tokenizer.New(config.TokenizerConfig{MinLength: 2})
	ix := New(flaky, keys, tok, config.IndexConfig{RetryAttempts: 3, RetryInitialDelay: 1}, nil)

	if _, err := ix.Index(context.Background(), "1", "alpha"); err != nil {
		t.Fatalf("Index with retries: %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("batch calls = %d, want 3", flaky.calls)
	}
}

func TestTermFrequencies(t *testing.T) {
	got := TermFrequencies([]string{"cat", "sat", "cat", "mat"})
	want := map[string]float64{"cat": 0.5, "sat": 0.25, "mat": 0.25}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if len(TermFrequencies(nil)) != 0 {
		t.Error("expected empty map for no terms")
	}
}

func mustIndex(t *testing.T, ix *Indexer, docID, content string) {
	t.Helper()
	if _, err := ix.Index(context.Background(), docID, content); err != nil {
		t.Fatalf("Index(%s): %v", docID, err)
	}
}

type failingTokenizer struct{ err error }

func (f failingTokenizer) Tokenize(string) ([]string, error) { return nil, f.err }

type flakyStore struct {
	store.Store
	failures int
	calls    int
}

func (f *flakyStore) Batch(ctx context.Context, ops ...store.Op) error {
	f.calls++
	if f.calls <= f.failures {
		return apperrors.Unavailable("batch", errors.New("connection reset"))
	}
	return f.Store.Batch(ctx, ops...)
}
