package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newEntry(url, body string) *Entry {
	return &Entry{
		URL:        url,
		Method:     http.MethodGet,
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Headers:    http.Header{"Content-Type": []string{"text/plain"}},
		Data:       []byte(body),
		CachedAt:   time.Now(),
	}
}

func get(url string) *http.Request {
	return httptest.NewRequest(http.MethodGet, url, nil)
}

// runStorageTests exercises the Storage contract against any backend.
// newStorage must return an empty storage.
func runStorageTests(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Run("open creates once", func(t *testing.T) {
		storage := newStorage(t)
		ctx := context.Background()

		if _, err := storage.Open(ctx, "v1"); err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if _, err := storage.Open(ctx, "v1"); err != nil {
			t.Fatalf("second Open() error = %v", err)
		}
		if _, err := storage.Open(ctx, "v2"); err != nil {
			t.Fatalf("Open(v2) error = %v", err)
		}

		names, err := storage.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys() error = %v", err)
		}
		if len(names) != 2 || names[0] != "v1" || names[1] != "v2" {
			t.Errorf("Keys() = %v, want [v1 v2]", names)
		}

		if ok, _ := storage.Has(ctx, "v1"); !ok {
			t.Error("Has(v1) = false")
		}
		if ok, _ := storage.Has(ctx, "v9"); ok {
			t.Error("Has(v9) = true")
		}
	})

	t.Run("open rejects empty name", func(t *testing.T) {
		storage := newStorage(t)
		if _, err := storage.Open(context.Background(), ""); err == nil {
			t.Error("Open(\"\") should fail")
		}
	})

	t.Run("put match keys", func(t *testing.T) {
		storage := newStorage(t)
		ctx := context.Background()

		store, _ := storage.Open(ctx, "v1")
		if store.Name() != "v1" {
			t.Errorf("Name() = %q", store.Name())
		}

		if err := store.Put(ctx, newEntry("http://localhost/b", "b")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		if err := store.Put(ctx, newEntry("http://localhost/a", "a")); err != nil {
			t.Fatalf("Put() error = %v", err)
		}

		entry, err := store.Match(ctx, get("http://localhost/a#frag"))
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if string(entry.Data) != "a" {
			t.Errorf("Data = %q, want a", entry.Data)
		}

		keys, _ := store.Keys(ctx)
		if len(keys) != 2 || keys[0] != "http://localhost/b" || keys[1] != "http://localhost/a" {
			t.Errorf("Keys() = %v, want insertion order", keys)
		}

		if _, err := store.Match(ctx, get("http://localhost/missing")); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Match(missing) error = %v, want ErrCacheMiss", err)
		}

		post := httptest.NewRequest(http.MethodPost, "http://localhost/a", nil)
		if _, err := store.Match(ctx, post); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Match(POST) error = %v, want ErrCacheMiss", err)
		}
	})

	t.Run("put replaces in place", func(t *testing.T) {
		storage := newStorage(t)
		ctx := context.Background()
		store, _ := storage.Open(ctx, "v1")

		_ = store.Put(ctx, newEntry("http://localhost/a", "old"))
		_ = store.Put(ctx, newEntry("http://localhost/b", "b"))
		_ = store.Put(ctx, newEntry("http://localhost/a", "new"))

		entry, err := store.Match(ctx, get("http://localhost/a"))
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if string(entry.Data) != "new" {
			t.Errorf("Data = %q, want new", entry.Data)
		}

		keys, _ := store.Keys(ctx)
		if len(keys) != 2 || keys[0] != "http://localhost/a" {
			t.Errorf("Keys() = %v, want [a b] without duplicates", keys)
		}
	})

	t.Run("put all is atomic", func(t *testing.T) {
		storage := newStorage(t)
		ctx := context.Background()
		store, _ := storage.Open(ctx, "v1")

		partial := newEntry("http://localhost/range", "part")
		partial.StatusCode = http.StatusPartialContent

		err := store.PutAll(ctx, []*Entry{newEntry("http://localhost/ok", "ok"), partial})
		if !errors.Is(err, ErrPartialResponse) {
			t.Fatalf("PutAll() error = %v, want ErrPartialResponse", err)
		}

		keys, _ := store.Keys(ctx)
		if len(keys) != 0 {
			t.Errorf("Keys() = %v, want nothing written", keys)
		}

		dup := []*Entry{newEntry("http://localhost/x", "1"), newEntry("http://localhost/x", "2")}
		if err := store.PutAll(ctx, dup); !errors.Is(err, ErrDuplicateRequest) {
			t.Errorf("PutAll(dup) error = %v, want ErrDuplicateRequest", err)
		}
	})

	t.Run("delete entry", func(t *testing.T) {
		storage := newStorage(t)
		ctx := context.Background()
		store, _ := storage.Open(ctx, "v1")
		_ = store.Put(ctx, newEntry("http://localhost/a", "a"))

		deleted, err := store.Delete(ctx, get("http://localhost/a"))
		if err != nil || !deleted {
			t.Fatalf("Delete() = %v, %v; want true, nil", deleted, err)
		}
		deleted, _ = store.Delete(ctx, get("http://localhost/a"))
		if deleted {
			t.Error("second Delete() = true")
		}
		keys, _ := store.Keys(ctx)
		if len(keys) != 0 {
			t.Errorf("Keys() = %v after delete", keys)
		}
	})

	t.Run("storage match searches all stores in order", func(t *testing.T) {
		storage := newStorage(t)
		ctx := context.Background()

		old, _ := storage.Open(ctx, "v0")
		cur, _ := storage.Open(ctx, "v1")
		_ = old.Put(ctx, newEntry("http://localhost/shared", "from-v0"))
		_ = cur.Put(ctx, newEntry("http://localhost/shared", "from-v1"))
		_ = cur.Put(ctx, newEntry("http://localhost/only-v1", "v1"))

		entry, err := storage.Match(ctx, get("http://localhost/shared"))
		if err != nil {
			t.Fatalf("Match() error = %v", err)
		}
		if string(entry.Data) != "from-v0" {
			t.Errorf("Data = %q, want oldest store first", entry.Data)
		}

		entry, err = storage.Match(ctx, get("http://localhost/only-v1"))
		if err != nil || string(entry.Data) != "v1" {
			t.Errorf("Match(only-v1) = %v, %v", entry, err)
		}

		if _, err := storage.Match(ctx, get("http://localhost/none")); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Match(none) error = %v, want ErrCacheMiss", err)
		}

		resp := entry.Response(get("http://localhost/only-v1"))
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "v1" {
			t.Errorf("response body = %q", body)
		}
	})

	t.Run("storage match on empty storage", func(t *testing.T) {
		storage := newStorage(t)
		if _, err := storage.Match(context.Background(), get("http://localhost/")); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Match() error = %v, want ErrCacheMiss", err)
		}
	})

	t.Run("delete store", func(t *testing.T) {
		storage := newStorage(t)
		ctx := context.Background()

		store, _ := storage.Open(ctx, "v0")
		_ = store.Put(ctx, newEntry("http://localhost/a", "a"))
		_, _ = storage.Open(ctx, "v1")

		deleted, err := storage.Delete(ctx, "v0")
		if err != nil || !deleted {
			t.Fatalf("Delete(v0) = %v, %v", deleted, err)
		}
		deleted, _ = storage.Delete(ctx, "v0")
		if deleted {
			t.Error("second Delete(v0) = true")
		}

		names, _ := storage.Keys(ctx)
		if len(names) != 1 || names[0] != "v1" {
			t.Errorf("Keys() = %v, want [v1]", names)
		}

		if _, err := storage.Match(ctx, get("http://localhost/a")); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Match() after delete error = %v, want ErrCacheMiss", err)
		}

		reopened, _ := storage.Open(ctx, "v0")
		keys, _ := reopened.Keys(ctx)
		if len(keys) != 0 {
			t.Errorf("reopened store has keys %v, want empty", keys)
		}
	})
}
