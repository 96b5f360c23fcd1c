package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStoreTest(t *testing.T) (*RedisStore, *miniredis.Miniredis, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(rdb, "gac", "test", time.Hour)
	return store, mr, func() {
		rdb.Close()
		mr.Close()
	}
}

// exerciseStore runs the behaviour every backend shares.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty load: expected ErrNotFound, got %v", err)
	}

	rec := testRecord()
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Tokens != rec.Tokens || *got.User != *rec.User {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	rec.Tokens.AccessToken = "T2"
	rec.User = nil
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("load after overwrite: %v", err)
	}
	if got.Tokens.AccessToken != "T2" || got.User != nil {
		t.Fatalf("overwrite not applied: %+v", got)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("load after clear: expected ErrNotFound, got %v", err)
	}

	if err := store.Save(ctx, nil); !errors.Is(err, ErrNilRecord) {
		t.Fatalf("nil save: expected ErrNilRecord, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Save(ctx, testRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	a, _ := store.Load(ctx)
	a.User.Email = "mutated@x"
	b, _ := store.Load(ctx)
	if b.User.Email != "a@x" {
		t.Fatal("loaded record aliases stored state")
	}
}

func TestRedisStore(t *testing.T) {
	store, _, done := newRedisStoreTest(t)
	defer done()
	exerciseStore(t, store)
}

func TestRedisStoreAppliesTTL(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()

	if err := store.Save(context.Background(), testRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL(store.Key()); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired record to be gone, got %v", err)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()
	ctx := context.Background()

	mr.SetError("LOADING")
	if err := store.Save(ctx, testRecord()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("save: expected ErrUnavailable, got %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("load: expected ErrUnavailable, got %v", err)
	}
	mr.SetError("")
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping after recovery: %v", err)
	}
}

func TestRedisStoreCorruptBlob(t *testing.T) {
	store, mr, done := newRedisStoreTest(t)
	defer done()

	if err := mr.Set(store.Key(), "\x09garbage"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestFileStorePlain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.bin")
	store := NewFileStore(path, nil)
	exerciseStore(t, store)

	if err := store.Save(context.Background(), testRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("expected 0600, got %v", perm)
	}
}

func TestFileStoreSealed(t *testing.T) {
	sealer := testSealer(t, "correct horse battery")
	path := filepath.Join(t.TempDir(), "session.bin")
	exerciseStore(t, NewFileStore(path, sealer))

	store := NewFileStore(path, sealer)
	if err := store.Save(context.Background(), testRecord()); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if containsBytes(raw, []byte("asmith")) {
		t.Fatal("sealed file leaks plaintext profile")
	}

	other := NewFileStore(path, testSealer(t, "wrong passphrase!"))
	if _, err := other.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("wrong passphrase: expected ErrCorrupt, got %v", err)
	}
}

func TestFileStoreUnreadable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be makes every read fail.
	path := filepath.Join(dir, "session.bin")
	if err := os.Mkdir(path, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	store := NewFileStore(path, nil)
	if _, err := store.Load(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func containsBytes(haystack, needle []byte) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if string(haystack[i:i+len(needle)]) == string(needle) {
			return true
		}
	}
	return false
}
