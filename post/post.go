// Package post stores posts and reacts to post, like, view and flag changes by
// maintaining the derived views that hang off them: feeds, counters and cards.
package post

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/feed"
	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// Status is the lifecycle state of a post.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusArchived  Status = "ARCHIVED"
	StatusDeleted   Status = "DELETED"
)

// ParseStatus validates a post status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusCompleted, StatusArchived, StatusDeleted:
		return st, nil
	}
	return "", fmt.Errorf("%w: post status %q", store.ErrInvalidDiscriminator, s)
}

// Counter fields embedded on posts.
const (
	FieldOnymousLikeCount      = "onymousLikeCount"
	FieldAnonymousLikeCount    = "anonymousLikeCount"
	FieldCommentsUnviewedCount = "commentsUnviewedCount"
	FieldFlagCount             = "flagCount"
	FieldViewedByCount         = "viewedByCount"
)

// Post is a stored post.
type Post struct {
	PostID         string `dynamodbav:"postId"`
	PostedByUserID string `dynamodbav:"postedByUserId"`
	PostedAt       string `dynamodbav:"postedAt"`
	Status         Status `dynamodbav:"postStatus"`
	Text           string `dynamodbav:"text,omitempty"`

	OnymousLikeCount      int64 `dynamodbav:"onymousLikeCount,omitempty"`
	AnonymousLikeCount    int64 `dynamodbav:"anonymousLikeCount,omitempty"`
	CommentsUnviewedCount int64 `dynamodbav:"commentsUnviewedCount,omitempty"`
	FlagCount             int64 `dynamodbav:"flagCount,omitempty"`
	ViewedByCount         int64 `dynamodbav:"viewedByCount,omitempty"`
}

// Key returns the post's primary key.
func (p Post) Key() store.PK {
	return store.Key(keys.Post(p.PostID))
}

// FeedPost is the reference a feed entry copies.
func (p Post) FeedPost() feed.Post {
	return feed.Post{PostID: p.PostID, PostedByUserID: p.PostedByUserID, PostedAt: p.PostedAt}
}

// LikeCount is the total of both like counters.
func (p Post) LikeCount() int64 {
	return p.OnymousLikeCount + p.AnonymousLikeCount
}

type record struct {
	Post
	PartitionKey      string `dynamodbav:"partitionKey"`
	SortKey           string `dynamodbav:"sortKey"`
	GSIA2PartitionKey string `dynamodbav:"gsiA2PartitionKey"`
	GSIA2SortKey      string `dynamodbav:"gsiA2SortKey"`
}

// Decode reads a post from a stored item, validating its status.
func Decode(item store.Item) (Post, error) {
	p, err := store.Unmarshal[Post](item)
	if err != nil {
		return Post{}, fmt.Errorf("decode post: %w", err)
	}
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return Post{}, err
	}
	return p, nil
}

// Store holds posts.
type Store struct {
	backend store.Backend
}

// NewStore creates a post Store.
func NewStore(backend store.Backend) *Store {
	return &Store{backend: backend}
}

// Get returns the post, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, postID string) (*Post, error) {
	item, err := s.backend.Get(ctx, store.Key(keys.Post(postID)))
	if err != nil {
		return nil, err
	}
	p, err := Decode(item)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a new post. It fails with store.ErrAlreadyExists if the id is taken.
func (s *Store) Create(ctx context.Context, p Post) error {
	if _, err := ParseStatus(string(p.Status)); err != nil {
		return err
	}
	pk, sk := keys.Post(p.PostID)
	item, err := store.Marshal(record{
		Post:              p,
		PartitionKey:      pk,
		SortKey:           sk,
		GSIA2PartitionKey: keys.PostedBy(p.PostedByUserID),
		GSIA2SortKey:      keys.StatusSort(string(p.Status), p.PostedAt),
	})
	if err != nil {
		return fmt.Errorf("encode post: %w", err)
	}
	err = s.backend.Write(ctx, store.Put("post", item, store.IfNotExists()))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	return nil
}

// SetStatus moves an existing post to status, keeping the posted-by index in step.
func (s *Store) SetStatus(ctx context.Context, p Post, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}
	err := s.backend.Write(ctx, store.Update("post", p.Key(), store.Changes{
		Set: map[string]types.AttributeValue{
			"postStatus":      store.String(string(status)),
			keys.GSIA2SortKey: store.String(keys.StatusSort(string(status), p.PostedAt)),
		},
	}, store.IfExists()))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("set post status: %w", err)
	}
	return nil
}

// ByUser enumerates a user's posts with the given status, oldest first.
func (s *Store) ByUser(ctx context.Context, userID string, status Status) iter.Seq2[Post, error] {
	return store.Decode(s.backend.Query(ctx, store.Query{
		Index:         keys.IndexA2,
		PartitionAttr: keys.GSIA2PartitionKey,
		Partition:     keys.PostedBy(userID),
		SortAttr:      keys.GSIA2SortKey,
		SortPrefix:    keys.StatusPrefix(string(status)),
	}), Decode)
}

// Completed enumerates a user's visible posts as feed references.
func (s *Store) Completed(ctx context.Context, userID string) iter.Seq2[feed.Post, error] {
	return func(yield func(feed.Post, error) bool) {
		for p, err := range s.ByUser(ctx, userID, StatusCompleted) {
			if err != nil {
				yield(feed.Post{}, err)
				return
			}
			if !yield(p.FeedPost(), nil) {
				return
			}
		}
	}
}
