package follow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
	"github.com/realapp/denorm/store/memstore"
)

func newTestStore() (*Store, *memstore.Store) {
	backend := memstore.New()
	s := NewStore(backend)
	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		tick = tick.Add(time.Minute)
		return tick
	}
	return s, backend
}

func collect(t *testing.T, seq func(yield func(Edge, error) bool)) []string {
	t.Helper()
	var out []string
	for e, err := range seq {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out = append(out, fmt.Sprintf("%s>%s:%s", e.FollowerUserID, e.FollowedUserID, e.Status))
	}
	return out
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"REQUESTED", "FOLLOWING", "DENIED"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q): unexpected error %v", s, err)
		}
	}
	if _, err := ParseStatus("BLOCKED"); !errors.Is(err, store.ErrInvalidDiscriminator) {
		t.Errorf("expected ErrInvalidDiscriminator, got %v", err)
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore()

	if _, err := s.Get(ctx, "a", "b"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	e, err := s.Create(ctx, "a", "b", StatusRequested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.FollowedAt == "" {
		t.Error("expected followedAt to be stamped")
	}

	got, err := s.Get(ctx, "a", "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *got != *e {
		t.Errorf("expected %+v, got %+v", e, got)
	}

	item, _ := backend.Get(ctx, e.Key())
	want := map[string]string{
		keys.GSIA1PartitionKey: "follower/a",
		keys.GSIA2PartitionKey: "followed/b",
		keys.GSIA1SortKey:      "REQUESTED/" + e.FollowedAt,
		keys.GSIA2SortKey:      "REQUESTED/" + e.FollowedAt,
	}
	for attr, v := range want {
		if item.S(attr) != v {
			t.Errorf("%s: expected %q, got %q", attr, v, item.S(attr))
		}
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	first, _ := s.Create(ctx, "a", "b", StatusFollowing)
	if _, err := s.Create(ctx, "a", "b", StatusRequested); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// The original edge is untouched.
	got, _ := s.Get(ctx, "a", "b")
	if got.Status != StatusFollowing || got.FollowedAt != first.FollowedAt {
		t.Errorf("expected original edge kept, got %+v", got)
	}

	// The reverse direction is a different edge.
	if _, err := s.Create(ctx, "b", "a", StatusFollowing); err != nil {
		t.Errorf("expected reverse edge to be created, got %v", err)
	}
}

func TestCreate_InvalidStatus(t *testing.T) {
	s, backend := newTestStore()
	if _, err := s.Create(context.Background(), "a", "b", "junk"); !errors.Is(err, store.ErrInvalidDiscriminator) {
		t.Errorf("expected ErrInvalidDiscriminator, got %v", err)
	}
	if backend.Len() != 0 {
		t.Error("expected nothing written")
	}
}

func TestUpdateStatus_RewritesBothIndexKeys(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore()

	e, _ := s.Create(ctx, "a", "b", StatusRequested)
	updated, err := s.UpdateStatus(ctx, *e, StatusFollowing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusFollowing || updated.FollowedAt != e.FollowedAt {
		t.Errorf("unexpected edge %+v", updated)
	}

	item, _ := backend.Get(ctx, e.Key())
	wantSort := "FOLLOWING/" + e.FollowedAt
	if item.S(keys.GSIA1SortKey) != wantSort || item.S(keys.GSIA2SortKey) != wantSort {
		t.Errorf("expected both index sort keys %q, got %q and %q",
			wantSort, item.S(keys.GSIA1SortKey), item.S(keys.GSIA2SortKey))
	}
	if item.S("followStatus") != "FOLLOWING" {
		t.Errorf("expected status FOLLOWING, got %q", item.S("followStatus"))
	}
}

func TestUpdateStatus_Deleted(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore()

	e, _ := s.Create(ctx, "a", "b", StatusRequested)
	_ = s.Delete(ctx, *e)

	if _, err := s.UpdateStatus(ctx, *e, StatusFollowing); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if backend.Len() != 0 {
		t.Error("expected update not to resurrect the edge")
	}
}

func TestDelete_NotIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	e, _ := s.Create(ctx, "a", "b", StatusFollowing)
	if err := s.Delete(ctx, *e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(ctx, *e); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestEnumerate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	// Followers of "star", created in order f1..f4.
	_, _ = s.Create(ctx, "f1", "star", StatusFollowing)
	_, _ = s.Create(ctx, "f2", "star", StatusRequested)
	_, _ = s.Create(ctx, "f3", "star", StatusFollowing)
	_, _ = s.Create(ctx, "f4", "star", StatusDenied)
	// Followed by f1.
	_, _ = s.Create(ctx, "f1", "other", StatusRequested)

	tests := []struct {
		name string
		seq  func(yield func(Edge, error) bool)
		want string
	}{
		{
			name: "followed, all statuses ordered by status then time",
			seq:  s.ByFollowed(ctx, "star", ""),
			want: "[f4>star:DENIED f1>star:FOLLOWING f3>star:FOLLOWING f2>star:REQUESTED]",
		},
		{
			name: "followed, FOLLOWING only",
			seq:  s.ByFollowed(ctx, "star", StatusFollowing),
			want: "[f1>star:FOLLOWING f3>star:FOLLOWING]",
		},
		{
			name: "follower, all statuses",
			seq:  s.ByFollower(ctx, "f1", ""),
			want: "[f1>star:FOLLOWING f1>other:REQUESTED]",
		},
		{
			name: "follower, no match",
			seq:  s.ByFollower(ctx, "f1", StatusDenied),
			want: "[]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fmt.Sprint(collect(t, tt.seq)); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestEnumerate_RestartableAndTracksStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	e, _ := s.Create(ctx, "f1", "star", StatusRequested)
	seq := s.ByFollowed(ctx, "star", StatusFollowing)

	if got := collect(t, seq); len(got) != 0 {
		t.Fatalf("expected no FOLLOWING edges, got %v", got)
	}
	_, _ = s.UpdateStatus(ctx, *e, StatusFollowing)

	// Ranging again re-runs the query.
	if got := collect(t, seq); len(got) != 1 {
		t.Errorf("expected 1 FOLLOWING edge after update, got %v", got)
	}
}

func TestDirectivesJoinTransactions(t *testing.T) {
	ctx := context.Background()
	s, backend := newTestStore()

	d, e, err := s.CreateDirective("a", "b", StatusFollowing)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	userPK, userSK := keys.User("b")
	err = backend.TransactWrite(ctx, d, store.Check("followed user", store.Key(userPK, userSK), store.IfExists()))
	if !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected the missing user to abort the batch, got %v", err)
	}
	if backend.Len() != 0 {
		t.Fatal("expected no edge written")
	}

	_ = backend.Write(ctx, store.Put("user", store.Item{
		keys.PartitionKey: store.String(userPK),
		keys.SortKey:      store.String(userSK),
	}, store.Always))
	if err := backend.TransactWrite(ctx, d, store.Check("followed user", store.Key(userPK, userSK), store.IfExists())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := backend.TransactWrite(ctx, UpdateStatusDirective(e, StatusDenied)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := backend.TransactWrite(ctx, DeleteDirective(e)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := backend.TransactWrite(ctx, DeleteDirective(e)); !errors.Is(err, store.ErrPreconditionFailed) {
		t.Errorf("expected delete of missing edge to fail, got %v", err)
	}
}
