package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/kvsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/kvsearch/pkg/postgres"
)

func TestContentHash(t *testing.T) {
	a := ContentHash("the cat sat")
	if a != ContentHash("the cat sat") {
		t.Error("hash must be deterministic")
	}
	if a == ContentHash("the cat sat.") {
		t.Error("different content must hash differently")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
	if got := ContentHash(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("empty hash = %s", got)
	}
}

// newTestRepository connects to the Postgres named by KVS_TEST_POSTGRES_HOST
// using the local development credentials. Rows are namespaced by a per-test
// id prefix and removed afterwards.
func newTestRepository(t *testing.T) (*Repository, string) {
	t.Helper()
	host := os.Getenv("KVS_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("KVS_TEST_POSTGRES_HOST not set")
	}
	cfg := config.Default().Postgres
	cfg.Host = host
	db, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo := New(db)
	ctx := context.Background()
	if err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	prefix := fmt.Sprintf("test-%d-", time.Now().UnixNano())
	t.Cleanup(func() {
		db.DB.ExecContext(context.Background(), `DELETE FROM documents WHERE id LIKE $1`, prefix+"%")
	})
	return repo, prefix
}

func requireStatus(t *testing.T, repo *Repository, docID, want string) {
	t.Helper()
	got, err := repo.Status(context.Background(), docID)
	if err != nil {
		t.Fatalf("Status(%s): %v", docID, err)
	}
	if got != want {
		t.Errorf("Status(%s) = %s, want %s", docID, got, want)
	}
}

func TestUpsertSkipsOnlyIndexedIdenticalContent(t *testing.T) {
	repo, prefix := newTestRepository(t)
	ctx := context.Background()
	id := prefix + "doc"

	changed, err := repo.Upsert(ctx, id, "the cat sat")
	if err != nil || !changed {
		t.Fatalf("first upsert: changed=%v err=%v", changed, err)
	}
	requireStatus(t, repo, id, ingestion.StatusPending)

	// Still pending, so the write goes through again.
	if changed, err := repo.Upsert(ctx, id, "the cat sat"); err != nil || !changed {
		t.Fatalf("pending upsert: changed=%v err=%v", changed, err)
	}

	if err := repo.SetStatus(ctx, id, ingestion.StatusIndexed); err != nil {
		t.Fatal(err)
	}
	if changed, err := repo.Upsert(ctx, id, "the cat sat"); err != nil || changed {
		t.Fatalf("unchanged upsert: changed=%v err=%v", changed, err)
	}
	requireStatus(t, repo, id, ingestion.StatusIndexed)

	if changed, err := repo.Upsert(ctx, id, "the dog sat"); err != nil || !changed {
		t.Fatalf("edited upsert: changed=%v err=%v", changed, err)
	}
	requireStatus(t, repo, id, ingestion.StatusPending)
}

func TestMarkRemovingUnknownOrRemoved(t *testing.T) {
	repo, prefix := newTestRepository(t)
	ctx := context.Background()
	id := prefix + "doc"

	if err := repo.MarkRemoving(ctx, id); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Fatalf("unknown document: %v", err)
	}
	if _, err := repo.Status(ctx, id); apperrors.HTTPStatusCode(err) != 404 {
		t.Fatalf("status of unknown document: %v", err)
	}

	if _, err := repo.Upsert(ctx, id, "the cat sat"); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkRemoving(ctx, id); err != nil {
		t.Fatalf("MarkRemoving: %v", err)
	}
	requireStatus(t, repo, id, ingestion.StatusRemoving)

	if err := repo.SetStatus(ctx, id, ingestion.StatusRemoved); err != nil {
		t.Fatal(err)
	}
	if err := repo.MarkRemoving(ctx, id); !errors.Is(err, apperrors.ErrDocumentNotFound) {
		t.Errorf("removed document: %v", err)
	}
}

func TestScanLiveSkipsRemovedInIDOrder(t *testing.T) {
	repo, prefix := newTestRepository(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		if _, err := repo.Upsert(ctx, prefix+id, "content "+id); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.SetStatus(ctx, prefix+"b", ingestion.StatusRemoved); err != nil {
		t.Fatal(err)
	}

	var got []string
	err := repo.ScanLive(ctx, func(docID, content string) error {
		if strings.HasPrefix(docID, prefix) {
			got = append(got, strings.TrimPrefix(docID, prefix)+"="+content)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ScanLive: %v", err)
	}
	want := []string{"a=content a", "c=content c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("scanned %v, want %v", got, want)
	}

	stop := errors.New("stop")
	if err := repo.ScanLive(ctx, func(string, string) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("ScanLive should return the callback error, got %v", err)
	}
}
