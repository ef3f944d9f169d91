package feed

import (
	"context"
	"fmt"
	"iter"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/internal/metrics"
	"github.com/realapp/denorm/store"
)

// Post is the part of a post a feed entry copies.
type Post struct {
	PostID         string `dynamodbav:"postId"`
	PostedByUserID string `dynamodbav:"postedByUserId"`
	PostedAt       string `dynamodbav:"postedAt"`
}

// Entry is one post in one viewer's feed.
type Entry struct {
	ViewerID string `dynamodbav:"userId"`
	Post
}

type record struct {
	Entry
	PartitionKey      string `dynamodbav:"partitionKey"`
	SortKey           string `dynamodbav:"sortKey"`
	GSIA1PartitionKey string `dynamodbav:"gsiA1PartitionKey"`
	GSIA1SortKey      string `dynamodbav:"gsiA1SortKey"`
	GSIK2PartitionKey string `dynamodbav:"gsiK2PartitionKey"`
	GSIK2SortKey      string `dynamodbav:"gsiK2SortKey"`
}

// Store holds feed entries.
type Store struct {
	backend store.Backend
}

// NewStore creates a feed entry Store.
func NewStore(backend store.Backend) *Store {
	return &Store{backend: backend}
}

// Put writes the entry for post in viewerID's feed, overwriting any previous copy.
func (s *Store) Put(ctx context.Context, viewerID string, p Post) error {
	pk, sk := keys.FeedEntry(viewerID, p.PostID)
	item, err := store.Marshal(record{
		Entry:             Entry{ViewerID: viewerID, Post: p},
		PartitionKey:      pk,
		SortKey:           sk,
		GSIA1PartitionKey: keys.Feed(viewerID),
		GSIA1SortKey:      p.PostedAt,
		GSIK2PartitionKey: keys.FeedBySource(viewerID, p.PostedByUserID),
		GSIK2SortKey:      p.PostedAt,
	})
	if err != nil {
		return fmt.Errorf("encode feed entry: %w", err)
	}
	if err := s.backend.Write(ctx, store.Put("feed", item, store.Always)); err != nil {
		return fmt.Errorf("put feed entry %s/%s: %w", viewerID, p.PostID, err)
	}
	metrics.FeedWrites.WithLabelValues("put").Inc()
	return nil
}

// Delete removes postID from viewerID's feed. A missing entry is success.
func (s *Store) Delete(ctx context.Context, viewerID, postID string) error {
	d := store.Delete("feed", store.Key(keys.FeedEntry(viewerID, postID)), store.Always)
	if err := s.backend.Write(ctx, d); err != nil {
		return fmt.Errorf("delete feed entry %s/%s: %w", viewerID, postID, err)
	}
	metrics.FeedWrites.WithLabelValues("delete").Inc()
	return nil
}

// Newest enumerates viewerID's feed, newest first.
func (s *Store) Newest(ctx context.Context, viewerID string) iter.Seq2[Entry, error] {
	return store.Decode(s.backend.Query(ctx, recencyQuery(viewerID)), store.Unmarshal[Entry])
}

// BySource enumerates the entries in viewerID's feed posted by sourceUserID.
func (s *Store) BySource(ctx context.Context, viewerID, sourceUserID string) iter.Seq2[Entry, error] {
	return store.Decode(s.backend.Query(ctx, store.Query{
		Index:         keys.IndexK2,
		PartitionAttr: keys.GSIK2PartitionKey,
		Partition:     keys.FeedBySource(viewerID, sourceUserID),
		SortAttr:      keys.GSIK2SortKey,
	}), store.Unmarshal[Entry])
}

func recencyQuery(viewerID string) store.Query {
	return store.Query{
		Index:         keys.IndexA1,
		PartitionAttr: keys.GSIA1PartitionKey,
		Partition:     keys.Feed(viewerID),
		SortAttr:      keys.GSIA1SortKey,
		Descending:    true,
	}
}
