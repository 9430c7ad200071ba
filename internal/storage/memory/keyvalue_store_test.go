package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyValueStoreSetGet(t *testing.T) {
	store := NewKeyValueStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("get failed: ok=%v err=%v", ok, err)
	}
	if string(value) != "v" {
		t.Fatalf("unexpected value: %q", value)
	}

	if _, ok, _ := store.Get(ctx, "missing"); ok {
		t.Fatal("missing key must not be found")
	}
}

func TestKeyValueStoreTTL(t *testing.T) {
	store := NewKeyValueStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expired key must not be readable")
	}
}

func TestKeyValueStoreSetNX(t *testing.T) {
	store := NewKeyValueStore()
	ctx := context.Background()

	acquired, err := store.SetNX(ctx, "k", []byte("first"), 0)
	if err != nil || !acquired {
		t.Fatalf("first setnx: acquired=%v err=%v", acquired, err)
	}
	acquired, err = store.SetNX(ctx, "k", []byte("second"), 0)
	if err != nil {
		t.Fatalf("second setnx failed: %v", err)
	}
	if acquired {
		t.Fatal("second setnx must not acquire existing key")
	}

	value, _, _ := store.Get(ctx, "k")
	if string(value) != "first" {
		t.Fatalf("value must stay from the first writer: %q", value)
	}
}

func TestKeyValueStoreSetNXAfterExpiry(t *testing.T) {
	store := NewKeyValueStore()
	ctx := context.Background()

	if _, err := store.SetNX(ctx, "k", []byte("first"), 10*time.Millisecond); err != nil {
		t.Fatalf("setnx failed: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	acquired, err := store.SetNX(ctx, "k", []byte("second"), 0)
	if err != nil || !acquired {
		t.Fatalf("setnx must succeed on expired key: acquired=%v err=%v", acquired, err)
	}
}

func TestKeyValueStoreGetDelExactlyOnce(t *testing.T) {
	store := NewKeyValueStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	const readers = 32
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.GetDel(ctx, "k")
			if err != nil {
				t.Errorf("getdel failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("exactly one reader must win, got %d", wins)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("key must be deleted after getdel")
	}
}

func TestKeyValueStoreRefresh(t *testing.T) {
	store := NewKeyValueStore()
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if err := store.Refresh(ctx, "k", 50*time.Millisecond); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("refreshed key must survive the original ttl")
	}

	// Refresh несуществующего ключа — no-op.
	if err := store.Refresh(ctx, "missing", time.Minute); err != nil {
		t.Fatalf("refresh of missing key must not fail: %v", err)
	}
}
