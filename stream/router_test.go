package stream_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/stream"
)

var seq int

func rec(name, pk, sk string) events.DynamoDBEventRecord {
	seq++
	img := map[string]events.DynamoDBAttributeValue{
		keys.PartitionKey: events.NewStringAttribute(pk),
		keys.SortKey:      events.NewStringAttribute(sk),
	}
	r := events.DynamoDBEventRecord{
		EventID:   name + ":" + pk,
		EventName: name,
		Change:    events.DynamoDBStreamRecord{Keys: img, SequenceNumber: fmt.Sprintf("%021d", seq)},
	}
	switch name {
	case "INSERT":
		r.Change.NewImage = img
	case "REMOVE":
		r.Change.OldImage = img
	default:
		r.Change.OldImage, r.Change.NewImage = img, img
	}
	return r
}

func TestNewRouter(t *testing.T) {
	// Test with nil logger (should not panic)
	if r := stream.NewRouter(nil); r == nil {
		t.Fatal("expected non-nil Router")
	}
}

func TestRouter_DispatchesByKind(t *testing.T) {
	var calls []string
	capture := stream.HandlerFunc(func(_ context.Context, e stream.Event) error {
		pk, _ := e.Key.Strings()
		calls = append(calls, fmt.Sprintf("%s %s %s", e.Kind, e.Op, pk))
		return nil
	})
	r := stream.NewRouter(nil).
		Register(keys.KindUser, capture).
		Register(keys.KindFollow, capture)

	resp, err := r.HandleStream(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		rec("INSERT", "user/u1", "profile"),
		rec("INSERT", "card/u1:POST_LIKES:p1", keys.NoSort),
		rec("REMOVE", "following/u1/u2", keys.NoSort),
		rec("UNKNOWN", "user/u1", "profile"),
		rec("MODIFY", "somethingElse/x", keys.NoSort),
	}})
	if err != nil || len(resp.BatchItemFailures) != 0 {
		t.Fatalf("unexpected failure: %v %+v", err, resp.BatchItemFailures)
	}

	want := "[user INSERT user/u1 follow REMOVE following/u1/u2]"
	if got := fmt.Sprint(calls); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestRouter_ErrorStopsBatch(t *testing.T) {
	boom := errors.New("boom")
	var seen int
	r := stream.NewRouter(nil).Register(keys.KindUser, stream.HandlerFunc(func(_ context.Context, e stream.Event) error {
		seen++
		if pk, _ := e.Key.Strings(); pk == "user/bad" {
			return boom
		}
		return nil
	}))

	bad := rec("MODIFY", "user/bad", "profile")
	resp, err := r.HandleStream(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
		rec("MODIFY", "user/ok", "profile"),
		bad,
		rec("MODIFY", "user/later", "profile"),
	}})
	if err != nil {
		t.Fatalf("expected failures reported in the response, got %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != bad.Change.SequenceNumber {
		t.Errorf("expected the failed record reported, got %+v", resp.BatchItemFailures)
	}
	if seen != 2 {
		t.Errorf("expected processing to stop at the failed record, saw %d", seen)
	}
}

func TestRouter_DuplicateRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	noop := stream.HandlerFunc(func(context.Context, stream.Event) error { return nil })
	stream.NewRouter(nil).Register(keys.KindPost, noop).Register(keys.KindPost, noop)
}
