package card

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/realapp/denorm/store"
	"github.com/realapp/denorm/store/memstore"
)

func newTestManager() (*Manager, *memstore.Store) {
	backend := memstore.New()
	return NewManager(NewStore(backend), nil), backend
}

func exists(t *testing.T, s *Store, spec Spec) bool {
	t.Helper()
	_, err := s.Get(context.Background(), spec.CardID())
	if errors.Is(err, store.ErrNotFound) {
		return false
	}
	if err != nil {
		t.Fatalf("get card: %v", err)
	}
	return true
}

func TestTransition(t *testing.T) {
	tests := []struct {
		old, new int64
		want     Action
	}{
		{0, 0, ActionNone},
		{0, 1, ActionAdd},
		{0, 5, ActionAdd},
		{2, 1, ActionNone},
		{2, 2, ActionNone},
		{1, 0, ActionRemove},
		{3, 0, ActionRemove},
		{-1, 0, ActionNone},
	}

	for _, tt := range tests {
		if got := Transition(tt.old, tt.new); got != tt.want {
			t.Errorf("Transition(%d, %d) = %s, want %s", tt.old, tt.new, got, tt.want)
		}
	}
}

func TestCardID_Deterministic(t *testing.T) {
	if got := PostLikes("u1", "p1").CardID(); got != "u1:POST_LIKES:p1" {
		t.Errorf("unexpected card id %q", got)
	}
	if got := RequestedFollowers("u1").CardID(); got != "u1:REQUESTED_FOLLOWERS" {
		t.Errorf("unexpected card id %q", got)
	}
	if PostLikes("u1", "p1").CardID() == PostViews("u1", "p1").CardID() {
		t.Error("expected distinct ids per card type")
	}
}

func TestReconcileThresholdCard_Sequence(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager()
	spec := PostLikes("u1", "p1")

	values := []int64{0, 2, 1, 0, 1}
	want := []bool{false, true, true, false, true}

	var prev int64
	for i, v := range values {
		if err := m.ReconcileThresholdCard(ctx, spec, prev, v); err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if got := exists(t, m.Store(), spec); got != want[i] {
			t.Errorf("step %d (value %d): expected card present=%v, got %v", i, v, want[i], got)
		}
		prev = v
	}
}

func TestReconcileThresholdCard_AlreadyInDesiredState(t *testing.T) {
	ctx := context.Background()
	m, backend := newTestManager()
	spec := CommentActivity("u1", "p1")

	// Add twice, remove twice: all succeed, one card at most.
	for i := 0; i < 2; i++ {
		if err := m.ReconcileThresholdCard(ctx, spec, 0, 1); err != nil {
			t.Fatalf("add %d: unexpected error: %v", i, err)
		}
	}
	if backend.Len() != 1 {
		t.Errorf("expected 1 card, got %d items", backend.Len())
	}
	for i := 0; i < 2; i++ {
		if err := m.ReconcileThresholdCard(ctx, spec, 1, 0); err != nil {
			t.Fatalf("remove %d: unexpected error: %v", i, err)
		}
	}
	if backend.Len() != 0 {
		t.Errorf("expected no cards, got %d items", backend.Len())
	}
}

func TestStore_AddIfAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memstore.New())
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	spec := PostViews("u1", "p1")

	added, err := s.AddIfAbsent(ctx, spec)
	if err != nil || !added {
		t.Fatalf("expected first add to write, got added=%v err=%v", added, err)
	}
	added, err = s.AddIfAbsent(ctx, spec)
	if err != nil || added {
		t.Fatalf("expected second add to be a no-op, got added=%v err=%v", added, err)
	}

	c, err := s.Get(ctx, spec.CardID())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.OwnerID != "u1" || c.SubjectID != "p1" || c.Type != TypePostViews {
		t.Errorf("unexpected card %+v", c)
	}
	if c.CreatedAt != "2024-01-01T00:00:00.000000Z" {
		t.Errorf("unexpected createdAt %q", c.CreatedAt)
	}
	round, err := c.Spec()
	if err != nil || round != spec {
		t.Errorf("expected spec round trip, got %+v (%v)", round, err)
	}
}

func TestCard_SpecInvalidType(t *testing.T) {
	c := Card{Type: "junk", OwnerID: "u1"}
	if _, err := c.Spec(); !errors.Is(err, store.ErrInvalidDiscriminator) {
		t.Errorf("expected ErrInvalidDiscriminator, got %v", err)
	}
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	s := NewStore(memstore.New())
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	_, _ = s.AddIfAbsent(ctx, PostLikes("u1", "p1"))
	_, _ = s.AddIfAbsent(ctx, RequestedFollowers("u1"))
	_, _ = s.AddIfAbsent(ctx, PostLikes("u2", "p9"))

	var ids []string
	for c, err := range s.List(ctx, "u1") {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ids = append(ids, c.CardID)
	}
	if len(ids) != 2 || ids[0] != "u1:POST_LIKES:p1" || ids[1] != "u1:REQUESTED_FOLLOWERS" {
		t.Errorf("unexpected cards %v", ids)
	}
}

func TestRemoveCardsForSubject(t *testing.T) {
	ctx := context.Background()
	m, backend := newTestManager()
	s := m.Store()

	for _, spec := range PostSpecs("u1", "p1") {
		if _, err := s.AddIfAbsent(ctx, spec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	unrelated := []Spec{PostLikes("u1", "p2"), RequestedFollowers("u1")}
	for _, spec := range unrelated {
		_, _ = s.AddIfAbsent(ctx, spec)
	}

	if err := m.RemoveCardsForSubject(ctx, "u1", "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, spec := range PostSpecs("u1", "p1") {
		if exists(t, s, spec) {
			t.Errorf("expected %s removed", spec.CardID())
		}
	}
	for _, spec := range unrelated {
		if !exists(t, s, spec) {
			t.Errorf("expected %s kept", spec.CardID())
		}
	}
	if backend.Len() != 2 {
		t.Errorf("expected 2 remaining items, got %d", backend.Len())
	}

	// Nothing left to remove is still success.
	if err := m.RemoveCardsForSubject(ctx, "u1", "p1"); err != nil {
		t.Errorf("expected idempotent removal, got %v", err)
	}
}
