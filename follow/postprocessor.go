package follow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/realapp/denorm/counter"
	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// User counter fields maintained from edge changes.
const (
	FieldFollowerCount           = "followerCount"
	FieldFollowedCount           = "followedCount"
	FieldFollowersRequestedCount = "followersRequestedCount"
)

// Counters applies counter deltas atomically.
type Counters interface {
	Apply(ctx context.Context, deltas ...counter.Delta) error
}

// FeedSync copies or purges one user's posts in another user's feed.
type FeedSync interface {
	AddUsersPostsToFeed(ctx context.Context, viewerID, sourceUserID string) error
	DeleteUsersPostsFromFeed(ctx context.Context, viewerID, sourceUserID string) error
}

// Postprocessor reacts to edge changes by updating user counters and feeds.
type Postprocessor struct {
	counters Counters
	feeds    FeedSync
	logger   *slog.Logger
}

// NewPostprocessor creates a Postprocessor.
func NewPostprocessor(counters Counters, feeds FeedSync, logger *slog.Logger) *Postprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postprocessor{
		counters: counters,
		feeds:    feeds,
		logger:   logger,
	}
}

// Handle applies the side effects of an edge moving from old to new. A nil old is an
// insert and a nil new is a removal. The feed sync is idempotent and runs first; the
// counter deltas are applied last in a single transaction, so a failed record can be
// retried without counting twice.
func (p *Postprocessor) Handle(ctx context.Context, old, new *Edge) error {
	var oldStatus, newStatus Status
	var e Edge
	if old != nil {
		oldStatus, e = old.Status, *old
	}
	if new != nil {
		newStatus, e = new.Status, *new
	}
	if oldStatus == newStatus {
		return nil
	}

	var deltas []counter.Delta
	for _, change := range []struct {
		status Status
		enter  bool
	}{{oldStatus, false}, {newStatus, true}} {
		if change.status == "" {
			continue
		}
		ds, err := countersFor(e, change.status, change.enter)
		if err != nil {
			return err
		}
		deltas = append(deltas, ds...)
	}

	switch {
	case newStatus == StatusFollowing:
		if err := p.feeds.AddUsersPostsToFeed(ctx, e.FollowerUserID, e.FollowedUserID); err != nil {
			return fmt.Errorf("add posts to feed: %w", err)
		}
	case oldStatus == StatusFollowing:
		if err := p.feeds.DeleteUsersPostsFromFeed(ctx, e.FollowerUserID, e.FollowedUserID); err != nil {
			return fmt.Errorf("purge posts from feed: %w", err)
		}
	}

	if err := p.counters.Apply(ctx, deltas...); err != nil {
		return err
	}

	p.logger.Info("follow edge processed",
		"follower", e.FollowerUserID,
		"followed", e.FollowedUserID,
		"oldStatus", oldStatus,
		"newStatus", newStatus,
	)
	return nil
}

// countersFor returns the user counter deltas for an edge entering or leaving status.
func countersFor(e Edge, status Status, enter bool) ([]counter.Delta, error) {
	follower := store.Key(keys.User(e.FollowerUserID))
	followed := store.Key(keys.User(e.FollowedUserID))

	delta := counter.Down
	if enter {
		delta = counter.Up
	}
	switch status {
	case StatusFollowing:
		return []counter.Delta{delta(followed, FieldFollowerCount), delta(follower, FieldFollowedCount)}, nil
	case StatusRequested:
		return []counter.Delta{delta(followed, FieldFollowersRequestedCount)}, nil
	case StatusDenied:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: follow status %q", store.ErrInvalidDiscriminator, status)
}
