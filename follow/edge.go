// Package follow stores follow edges and keeps their two inverted orderings
// (by follower, by followed) in step with each edge's status.
package follow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// Status is the state of a follow edge.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusFollowing Status = "FOLLOWING"
	StatusDenied    Status = "DENIED"
)

// ParseStatus validates a stored or requested status.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusRequested, StatusFollowing, StatusDenied:
		return st, nil
	}
	return "", fmt.Errorf("%w: follow status %q", store.ErrInvalidDiscriminator, s)
}

// Edge is a directed follow relationship.
type Edge struct {
	FollowerUserID string `dynamodbav:"followerUserId"`
	FollowedUserID string `dynamodbav:"followedUserId"`
	Status         Status `dynamodbav:"followStatus"`

	// FollowedAt is set once at creation and orders both indexes within a status.
	FollowedAt string `dynamodbav:"followedAt"`
}

// Key returns the edge's primary key.
func (e Edge) Key() store.PK {
	return store.Key(keys.Following(e.FollowerUserID, e.FollowedUserID))
}

type record struct {
	Edge
	PartitionKey      string `dynamodbav:"partitionKey"`
	SortKey           string `dynamodbav:"sortKey"`
	GSIA1PartitionKey string `dynamodbav:"gsiA1PartitionKey"`
	GSIA1SortKey      string `dynamodbav:"gsiA1SortKey"`
	GSIA2PartitionKey string `dynamodbav:"gsiA2PartitionKey"`
	GSIA2SortKey      string `dynamodbav:"gsiA2SortKey"`
}

// Decode reads an edge from a stored item, validating its status.
func Decode(item store.Item) (Edge, error) {
	e, err := store.Unmarshal[Edge](item)
	if err != nil {
		return Edge{}, fmt.Errorf("decode edge: %w", err)
	}
	if _, err := ParseStatus(string(e.Status)); err != nil {
		return Edge{}, err
	}
	return e, nil
}

// Store is the EdgeStore.
type Store struct {
	backend store.Backend
	now     func() time.Time
}

// NewStore creates an edge Store.
func NewStore(backend store.Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Get returns the edge follower -> followed, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, followerID, followedID string) (*Edge, error) {
	item, err := s.backend.Get(ctx, store.Key(keys.Following(followerID, followedID)))
	if err != nil {
		return nil, err
	}
	e, err := Decode(item)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateDirective builds the conditional insert of a new edge, stamping followedAt.
func (s *Store) CreateDirective(followerID, followedID string, status Status) (store.Directive, Edge, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return store.Directive{}, Edge{}, err
	}
	e := Edge{
		FollowerUserID: followerID,
		FollowedUserID: followedID,
		Status:         status,
		FollowedAt:     keys.Timestamp(s.now()),
	}
	pk, sk := keys.Following(followerID, followedID)
	item, err := store.Marshal(record{
		Edge:              e,
		PartitionKey:      pk,
		SortKey:           sk,
		GSIA1PartitionKey: keys.Follower(followerID),
		GSIA1SortKey:      keys.StatusSort(string(status), e.FollowedAt),
		GSIA2PartitionKey: keys.Followed(followedID),
		GSIA2SortKey:      keys.StatusSort(string(status), e.FollowedAt),
	})
	if err != nil {
		return store.Directive{}, Edge{}, fmt.Errorf("encode edge: %w", err)
	}
	return store.Put("follow", item, store.IfNotExists()), e, nil
}

// Create inserts a new edge. It fails with store.ErrAlreadyExists if the pair already has one.
func (s *Store) Create(ctx context.Context, followerID, followedID string, status Status) (*Edge, error) {
	d, e, err := s.CreateDirective(followerID, followedID, status)
	if err != nil {
		return nil, err
	}
	err = s.backend.Write(ctx, d)
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil, store.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create edge: %w", err)
	}
	return &e, nil
}

// UpdateStatusDirective rewrites the status and both index sort keys in one update.
func UpdateStatusDirective(e Edge, status Status) store.Directive {
	sortKey := store.String(keys.StatusSort(string(status), e.FollowedAt))
	return store.Update("follow", e.Key(), store.Changes{
		Set: map[string]types.AttributeValue{
			"followStatus":    store.String(string(status)),
			keys.GSIA1SortKey: sortKey,
			keys.GSIA2SortKey: sortKey,
		},
	}, store.IfExists())
}

// UpdateStatus moves an existing edge to status. It fails with store.ErrNotFound if
// the edge was deleted concurrently.
func (s *Store) UpdateStatus(ctx context.Context, e Edge, status Status) (*Edge, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return nil, err
	}
	err := s.backend.Write(ctx, UpdateStatusDirective(e, status))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update edge status: %w", err)
	}
	e.Status = status
	return &e, nil
}

// DeleteDirective removes an edge that must exist.
func DeleteDirective(e Edge) store.Directive {
	return store.Delete("follow", e.Key(), store.IfExists())
}

// Delete removes an edge. It is not idempotent: a missing edge is store.ErrNotFound.
func (s *Store) Delete(ctx context.Context, e Edge) error {
	err := s.backend.Write(ctx, DeleteDirective(e))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete edge: %w", err)
	}
	return nil
}

// ByFollower enumerates the edges whose follower is userID, ordered by (status, followedAt).
// An empty status selects every status.
func (s *Store) ByFollower(ctx context.Context, userID string, status Status) iter.Seq2[Edge, error] {
	return s.enumerate(ctx, keys.IndexA1, keys.GSIA1PartitionKey, keys.Follower(userID), keys.GSIA1SortKey, status)
}

// ByFollowed enumerates the edges whose followed user is userID, ordered by (status, followedAt).
// An empty status selects every status.
func (s *Store) ByFollowed(ctx context.Context, userID string, status Status) iter.Seq2[Edge, error] {
	return s.enumerate(ctx, keys.IndexA2, keys.GSIA2PartitionKey, keys.Followed(userID), keys.GSIA2SortKey, status)
}

func (s *Store) enumerate(ctx context.Context, index, partitionAttr, partition, sortAttr string, status Status) iter.Seq2[Edge, error] {
	q := store.Query{
		Index:         index,
		PartitionAttr: partitionAttr,
		Partition:     partition,
		SortAttr:      sortAttr,
	}
	if status != "" {
		q.SortPrefix = keys.StatusPrefix(string(status))
	}
	return store.Decode(s.backend.Query(ctx, q), Decode)
}
