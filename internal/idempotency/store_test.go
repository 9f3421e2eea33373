package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/veropath/grantflow/model"
)

func testRequest() model.Request {
	return model.Request{
		ID:          "req-123",
		Kind:        model.KindSystemAccess,
		RequesterID: "user-alice",
		Status:      "request_pending",
		SystemID:    "erp",
		Version:     1,
	}
}

// --- MemoryStore ---

func TestMemoryStore_CheckNotFound(t *testing.T) {
	store := NewMemoryStore()

	result, found, err := store.Check(context.Background(), "idem:user-alice:key1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestMemoryStore_SaveAndCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "idem:user-alice:key1"
	hash := "hash-abc"

	if err := store.Save(ctx, key, hash, testRequest(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	result, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if result == nil {
		t.Fatal("result is nil")
	}
	if result.ID != "req-123" || result.Status != "request_pending" {
		t.Errorf("result = %+v", result)
	}
}

func TestMemoryStore_ConflictOnHashMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "idem:user-alice:key1"

	if err := store.Save(ctx, key, "hash-abc", testRequest(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	// Same key, different body is a conflict, not a replay.
	_, found, err := store.Check(ctx, key, "hash-different")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !found {
		t.Error("found = false, want true (key exists)")
	}
	if model.ErrorCode(err) != model.ErrConflict {
		t.Errorf("error code = %s, want %s", model.ErrorCode(err), model.ErrConflict)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	key := "idem:user-alice:key1"

	if err := store.Save(ctx, key, "hash-abc", testRequest(), 1*time.Millisecond); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	result, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil (expired)", result)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 (expired entry removed)", store.Len())
	}
}

// --- RedisStore ---

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisStore_SaveAndCheck(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "idem:user-alice:key1"
	hash := "hash-abc"

	if err := store.Save(ctx, key, hash, testRequest(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	result, found, err := store.Check(ctx, key, hash)
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if result.ID != "req-123" || result.SystemID != "erp" {
		t.Errorf("result = %+v", result)
	}
}

func TestRedisStore_CheckNotFound(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)

	result, found, err := store.Check(context.Background(), "idem:user-alice:key1", "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
}

func TestRedisStore_ConflictOnHashMismatch(t *testing.T) {
	_, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "idem:user-alice:key1"

	if err := store.Save(ctx, key, "hash-abc", testRequest(), 5*time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	_, found, err := store.Check(ctx, key, "hash-different")
	if err == nil {
		t.Fatal("expected conflict error")
	}
	if !found {
		t.Error("found = false, want true")
	}
	if model.ErrorCode(err) != model.ErrConflict {
		t.Errorf("error code = %s, want %s", model.ErrorCode(err), model.ErrConflict)
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	mr, client := newTestRedis(t)
	store := NewRedisStore(client)
	ctx := context.Background()
	key := "idem:user-alice:key1"

	if err := store.Save(ctx, key, "hash-abc", testRequest(), 1*time.Second); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	mr.FastForward(2 * time.Second)

	_, found, err := store.Check(ctx, key, "hash-abc")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if found {
		t.Error("found = true, want false (expired)")
	}
}

// --- Helpers ---

func TestFormatKey(t *testing.T) {
	key := FormatKey("user-alice", "submit-42")
	want := "idem:user-alice:submit-42"
	if key != want {
		t.Errorf("key = %q, want %q", key, want)
	}
}

func TestHashInput_stable(t *testing.T) {
	a := map[string]any{"kind": "ticket", "priority": "high"}
	b := map[string]any{"priority": "high", "kind": "ticket"}

	if HashInput(a) != HashInput(b) {
		t.Error("hash differs for equal maps")
	}
	if HashInput(a) == HashInput(map[string]any{"kind": "ticket"}) {
		t.Error("hash equal for different inputs")
	}
}
