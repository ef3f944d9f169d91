package memstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
	"github.com/realapp/denorm/store/memstore"
)

func item(pk, sk string, attrs ...any) store.Item {
	it := store.Item{
		keys.PartitionKey: store.String(pk),
		keys.SortKey:      store.String(sk),
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		name := attrs[i].(string)
		switch v := attrs[i+1].(type) {
		case string:
			it[name] = store.String(v)
		case int:
			it[name] = store.Number(int64(v))
		}
	}
	return it
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	if _, err := s.Get(ctx, store.Key("post/p1", "-")); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Write(ctx, store.Put("post", item("post/p1", "-", "text", "hi"), store.IfNotExists())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Write(ctx, store.Put("post", item("post/p1", "-"), store.IfNotExists())); !errors.Is(err, store.ErrPreconditionFailed) {
		t.Errorf("expected second create to fail, got %v", err)
	}

	got, err := s.Get(ctx, store.Key("post/p1", "-"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.S("text") != "hi" {
		t.Errorf("expected text 'hi', got %q", got.S("text"))
	}

	if err := s.Write(ctx, store.Delete("post", store.Key("post/p1", "-"), store.IfExists())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Write(ctx, store.Delete("post", store.Key("post/p1", "-"), store.IfExists())); !errors.Is(err, store.ErrPreconditionFailed) {
		t.Errorf("expected delete of absent item to fail, got %v", err)
	}
	if err := s.Write(ctx, store.Delete("post", store.Key("post/p1", "-"), store.Always)); err != nil {
		t.Errorf("expected unconditional delete of absent item to succeed, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_ = s.Write(ctx, store.Put("post", item("post/p1", "-", "text", "hi"), store.Always))

	got, _ := s.Get(ctx, store.Key("post/p1", "-"))
	got["text"] = store.String("mutated")

	again, _ := s.Get(ctx, store.Key("post/p1", "-"))
	if again.S("text") != "hi" {
		t.Error("expected stored item to be isolated from callers")
	}
}

func TestUpdateAddSetRemove(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	key := store.Key("post/p1", "-")

	// Upsert when unconditional, ADD on absent attribute starts from 0.
	err := s.Write(ctx, store.Update("post", key, store.Changes{
		Add: map[string]int64{"likeCount": 1},
		Set: map[string]types.AttributeValue{"flag": store.String("x")},
	}, store.Always))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.Get(ctx, key)
	if got.N("likeCount") != 1 || got.S("flag") != "x" {
		t.Errorf("unexpected item %v", got)
	}
	if got.S(keys.PartitionKey) != "post/p1" {
		t.Error("expected upserted item to carry its key")
	}

	err = s.Write(ctx, store.Update("post", key, store.Changes{Remove: []string{"flag"}}, store.IfExists()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = s.Get(ctx, key)
	if got.Has("flag") {
		t.Error("expected flag removed")
	}
}

func TestGuardedDecrement(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	key := store.Key("post/p1", "-")
	dec := store.Update("post", key, store.Changes{Add: map[string]int64{"n": -1}}, store.IfAtLeast("n", 1))

	// Absent item and absent attribute both fail.
	if err := s.Write(ctx, dec); !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected failure on absent item, got %v", err)
	}
	_ = s.Write(ctx, store.Put("post", item("post/p1", "-"), store.Always))
	if err := s.Write(ctx, dec); !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected failure on absent attribute, got %v", err)
	}

	_ = s.Write(ctx, store.Update("post", key, store.Changes{Add: map[string]int64{"n": 1}}, store.Always))
	if err := s.Write(ctx, dec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Write(ctx, dec); !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected failure at floor, got %v", err)
	}
	got, _ := s.Get(ctx, key)
	if got.N("n") != 0 {
		t.Errorf("expected 0, got %d", got.N("n"))
	}
}

func TestTransactWrite_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_ = s.Write(ctx, store.Put("msg", item("chatMessage/m1", "-", "text", "old"), store.Always))

	err := s.TransactWrite(ctx,
		store.Update("message", store.Key("chatMessage/m1", "-"), store.Changes{
			Set: map[string]types.AttributeValue{"text": store.String("new")},
		}, store.IfExists()),
		store.Update("chat", store.Key("chat/c1", "-"), store.Changes{
			Set: map[string]types.AttributeValue{"lastMessageActivityAt": store.String("t")},
		}, store.IfExists()),
	)

	var txErr *store.TransactionError
	if !errors.As(err, &txErr) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
	if txErr.Index != 1 || txErr.Label != "chat" {
		t.Errorf("expected directive 1 (chat), got %d (%s)", txErr.Index, txErr.Label)
	}

	got, _ := s.Get(ctx, store.Key("chatMessage/m1", "-"))
	if got.S("text") != "old" {
		t.Errorf("expected message text unchanged, got %q", got.S("text"))
	}
	if _, err := s.Get(ctx, store.Key("chat/c1", "-")); !errors.Is(err, store.ErrNotFound) {
		t.Error("expected chat to remain absent")
	}
}

func TestTransactWrite_Applies(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_ = s.Write(ctx, store.Put("chat", item("chat/c1", "-"), store.Always))

	err := s.TransactWrite(ctx,
		store.Put("message", item("chatMessage/m1", "-", "text", "hi"), store.IfNotExists()),
		store.Update("chat", store.Key("chat/c1", "-"), store.Changes{
			Set: map[string]types.AttributeValue{"lastMessageActivityAt": store.String("t")},
		}, store.IfExists()),
		store.Check("member", store.Key("chat/c1", "member/u1"), store.IfNotExists()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	chat, _ := s.Get(ctx, store.Key("chat/c1", "-"))
	if chat.S("lastMessageActivityAt") != "t" {
		t.Error("expected chat updated")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 items (check writes nothing), got %d", s.Len())
	}
}

func TestQuery_OrderFilterPrefixAndPaging(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()

	for i, status := range []string{"FOLLOWING", "REQUESTED", "FOLLOWING", "FOLLOWING"} {
		follower := fmt.Sprintf("u%d", i)
		it := item("following/"+follower+"/star", "-",
			keys.GSIA2PartitionKey, "followed/star",
			keys.GSIA2SortKey, keys.StatusSort(status, fmt.Sprintf("2024-01-0%dT00:00:00Z", 4-i)),
			"followerUserId", follower,
		)
		_ = s.Write(ctx, store.Put("edge", it, store.Always))
	}
	// Noise in another partition.
	_ = s.Write(ctx, store.Put("edge", item("following/x/other", "-",
		keys.GSIA2PartitionKey, "followed/other",
		keys.GSIA2SortKey, "FOLLOWING/2024-01-01T00:00:00Z"), store.Always))

	q := store.Query{
		Index:         keys.IndexA2,
		PartitionAttr: keys.GSIA2PartitionKey,
		Partition:     "followed/star",
		SortAttr:      keys.GSIA2SortKey,
		SortPrefix:    keys.StatusPrefix("FOLLOWING"),
		Limit:         2,
	}

	page, err := s.QueryPage(ctx, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 2 || page.Cursor == "" {
		t.Fatalf("expected a full first page with cursor, got %d items cursor=%q", len(page.Items), page.Cursor)
	}
	// Ascending by followedAt: u3 (01), u2 (02), u0 (04).
	if page.Items[0].S("followerUserId") != "u3" || page.Items[1].S("followerUserId") != "u2" {
		t.Errorf("unexpected order %s, %s", page.Items[0].S("followerUserId"), page.Items[1].S("followerUserId"))
	}

	q.Cursor = page.Cursor
	page, err = s.QueryPage(ctx, q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 || page.Cursor != "" || page.Items[0].S("followerUserId") != "u0" {
		t.Errorf("unexpected last page: %d items cursor=%q", len(page.Items), page.Cursor)
	}

	// Full lazy iteration, descending, restartable.
	q.Cursor = ""
	q.Descending = true
	seq := s.Query(ctx, q)
	for run := 0; run < 2; run++ {
		var got []string
		for it, err := range seq {
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got = append(got, it.S("followerUserId"))
		}
		if fmt.Sprint(got) != "[u0 u2 u3]" {
			t.Errorf("run %d: expected [u0 u2 u3], got %v", run, got)
		}
	}

	// Equality filter.
	q.SortPrefix = ""
	q.Filter = map[string]string{"followerUserId": "u1"}
	var filtered int
	for range s.Query(ctx, q) {
		filtered++
	}
	if filtered != 1 {
		t.Errorf("expected 1 filtered item, got %d", filtered)
	}
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := memstore.New()

	if err := s.Write(ctx, store.Put("post", item("post/p1", "-"), store.Always)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if s.Len() != 0 {
		t.Error("expected nothing written")
	}
}
