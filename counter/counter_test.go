package counter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
	"github.com/realapp/denorm/store/memstore"
)

func newTestAggregator(t *testing.T) (*Aggregator, *memstore.Store, *bytes.Buffer, store.PK) {
	t.Helper()
	backend := memstore.New()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	pk, sk := keys.Post("p1")
	key := store.Key(pk, sk)
	if err := backend.Write(context.Background(), store.Put("post", store.Item{
		keys.PartitionKey: store.String(pk),
		keys.SortKey:      store.String(sk),
	}, store.Always)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return New(backend, logger), backend, &buf, key
}

func read(t *testing.T, backend store.Backend, key store.PK, field string) int64 {
	t.Helper()
	item, err := backend.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return item.N(field)
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	agg, backend, _, key := newTestAggregator(t)

	for i := 0; i < 3; i++ {
		if err := agg.Increment(ctx, key, "onymousLikeCount"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := read(t, backend, key, "onymousLikeCount"); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
}

func TestIncrement_MissingItemIsNotCreated(t *testing.T) {
	ctx := context.Background()
	agg, backend, buf, _ := newTestAggregator(t)
	gone := store.Key("post/gone", keys.NoSort)

	if err := agg.Increment(ctx, gone, "flagCount"); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := backend.Get(ctx, gone); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected no phantom item")
	}
	if !strings.Contains(buf.String(), "post/gone") {
		t.Errorf("expected warning naming the entity, got %q", buf.String())
	}
}

func TestDecrement_Floor(t *testing.T) {
	ctx := context.Background()
	agg, backend, buf, key := newTestAggregator(t)
	field := "onymousLikeCount"

	_ = agg.Increment(ctx, key, field)
	_ = agg.Increment(ctx, key, field)

	tests := []struct {
		wantApplied bool
		wantValue   int64
	}{
		{true, 1},
		{true, 0},
		{false, 0},
		{false, 0},
	}

	for i, tt := range tests {
		applied, err := agg.Decrement(ctx, key, field)
		if err != nil {
			t.Fatalf("decrement %d: unexpected error: %v", i, err)
		}
		if applied != tt.wantApplied {
			t.Errorf("decrement %d: expected applied=%v, got %v", i, tt.wantApplied, applied)
		}
		if got := read(t, backend, key, field); got != tt.wantValue {
			t.Errorf("decrement %d: expected %d, got %d", i, tt.wantValue, got)
		}
	}

	logs := buf.String()
	if strings.Count(logs, "failed to decrement") != 2 {
		t.Errorf("expected 2 floor warnings, got logs %q", logs)
	}
	if !strings.Contains(logs, "post/p1") || !strings.Contains(logs, field) {
		t.Errorf("expected warning naming entity and field, got %q", logs)
	}
}

func TestDecrement_AbsentFieldIsFloor(t *testing.T) {
	ctx := context.Background()
	agg, backend, _, key := newTestAggregator(t)

	applied, err := agg.Decrement(ctx, key, "anonymousLikeCount")
	if err != nil || applied {
		t.Fatalf("expected swallowed floor, got applied=%v err=%v", applied, err)
	}
	item, _ := backend.Get(ctx, key)
	if item.Has("anonymousLikeCount") {
		t.Error("expected field to stay absent")
	}
}

func TestDecrement_InternalFloorError(t *testing.T) {
	ctx := context.Background()
	agg, _, _, key := newTestAggregator(t)

	if err := agg.decrement(ctx, key, "n"); !errors.Is(err, ErrCounterFloorReached) {
		t.Errorf("expected ErrCounterFloorReached, got %v", err)
	}
}

func TestDecrement_StoreErrorPropagates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agg, _, _, key := newTestAggregator(t)
	cancel()

	if _, err := agg.Decrement(ctx, key, "n"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	agg, backend, _, key := newTestAggregator(t)

	_ = agg.Increment(ctx, key, "commentsUnviewedCount")
	_ = agg.Increment(ctx, key, "commentsUnviewedCount")
	if err := agg.Clear(ctx, key, "commentsUnviewedCount"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := read(t, backend, key, "commentsUnviewedCount"); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	if err := agg.Clear(ctx, store.Key("post/gone", keys.NoSort), "commentsUnviewedCount"); err != nil {
		t.Errorf("expected clear of missing item to be a no-op, got %v", err)
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	agg, backend, buf, key := newTestAggregator(t)
	other := store.Key(keys.Post("p2"))
	if err := backend.Write(ctx, store.Put("post", store.Item{
		keys.PartitionKey: store.String("post/p2"),
		keys.SortKey:      store.String(keys.NoSort),
	}, store.Always)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	gone := store.Key("post/gone", keys.NoSort)

	// Guarded field at zero on key, missing item, and plain increments elsewhere.
	err := agg.Apply(ctx,
		Down(key, "requested"),
		Up(key, "followers"),
		Up(gone, "followers"),
		Up(other, "followers"),
		Up(other, "followers"),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := read(t, backend, key, "followers"); got != 1 {
		t.Errorf("expected followers 1 on p1, got %d", got)
	}
	if got := read(t, backend, other, "followers"); got != 2 {
		t.Errorf("expected followers 2 on p2, got %d", got)
	}
	if item, _ := backend.Get(ctx, key); item.Has("requested") {
		t.Error("expected guarded field to stay absent")
	}
	if _, err := backend.Get(ctx, gone); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected no phantom item")
	}
	logs := buf.String()
	if !strings.Contains(logs, "failed to decrement") || !strings.Contains(logs, "post/gone") {
		t.Errorf("expected floor and missing-item warnings, got %q", logs)
	}

	// With the guard satisfied both fields move in one write.
	if err := agg.Apply(ctx, Up(key, "requested")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	writes := backend.Writes()
	if err := agg.Apply(ctx, Down(key, "requested"), Up(key, "followers")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.Writes() != writes+1 {
		t.Errorf("expected a single write, got %d", backend.Writes()-writes)
	}
	if read(t, backend, key, "requested") != 0 || read(t, backend, key, "followers") != 2 {
		t.Error("unexpected counters after guarded apply")
	}
}

func TestApply_TwoGuardedFieldsOnOneItem(t *testing.T) {
	agg, _, _, key := newTestAggregator(t)
	err := agg.Apply(context.Background(), Down(key, "a"), Down(key, "b"))
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Errorf("expected ErrInvalidTransaction, got %v", err)
	}
}

func TestApply_StoreErrorAppliesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	agg, backend, _, key := newTestAggregator(t)
	cancel()

	if err := agg.Apply(ctx, Up(key, "followers")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := read(t, backend, key, "followers"); got != 0 {
		t.Errorf("expected nothing applied, got %d", got)
	}
}
