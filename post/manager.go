package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/realapp/denorm/card"
	"github.com/realapp/denorm/feed"
	"github.com/realapp/denorm/store"
)

// Counters is the guarded counter surface the manager needs.
type Counters interface {
	Increment(ctx context.Context, key store.PK, field string) error
	Decrement(ctx context.Context, key store.PK, field string) (bool, error)
	Clear(ctx context.Context, key store.PK, field string) error
}

// Cards reconciles and removes cards.
type Cards interface {
	ReconcileThresholdCard(ctx context.Context, spec card.Spec, old, new int64) error
	Remove(ctx context.Context, spec card.Spec) error
	RemoveCardsForSubject(ctx context.Context, ownerID, subjectID string) error
}

// Fanout pushes and retracts posts in feeds.
type Fanout interface {
	AddPostToFollowersFeeds(ctx context.Context, p feed.Post) error
	DeletePostFromFollowersFeeds(ctx context.Context, authorID, postID string) error
}

// Usernames resolves a user id to a username.
type Usernames interface {
	Username(ctx context.Context, userID string) (string, error)
}

// FlagPolicy decides when flags force a post into ARCHIVED.
type FlagPolicy struct {
	// AdminUsernames are users whose single flag archives a post.
	AdminUsernames []string

	// MinViews is the view count above which crowd flagging applies.
	MinViews int64

	// Ratio is the share of viewers that must flag, in percent.
	Ratio int64
}

// DefaultFlagPolicy archives once more than 10% of more than 5 viewers have flagged.
func DefaultFlagPolicy() FlagPolicy {
	return FlagPolicy{MinViews: 5, Ratio: 10}
}

func (f FlagPolicy) crowdsourced(p Post) bool {
	return p.ViewedByCount > f.MinViews && p.FlagCount*100 > p.ViewedByCount*f.Ratio
}

func (f FlagPolicy) isAdmin(username string) bool {
	for _, u := range f.AdminUsernames {
		if u == username {
			return true
		}
	}
	return false
}

// Manager applies the side effects of post lifecycle and reaction events.
type Manager struct {
	posts    *Store
	counters Counters
	cards    Cards
	feeds    Fanout
	users    Usernames
	flags    FlagPolicy
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(posts *Store, counters Counters, cards Cards, feeds Fanout, users Usernames, flags FlagPolicy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		posts:    posts,
		counters: counters,
		cards:    cards,
		feeds:    feeds,
		users:    users,
		flags:    flags,
		logger:   logger,
	}
}

// OnCreate fans a post out if it is created already visible.
func (m *Manager) OnCreate(ctx context.Context, p Post) error {
	if p.Status != StatusCompleted {
		return nil
	}
	return m.feeds.AddPostToFollowersFeeds(ctx, p.FeedPost())
}

// OnStatusChange pushes a post into feeds when it becomes visible and retracts it when
// it stops being visible. A post moving to DELETED also loses its cards.
func (m *Manager) OnStatusChange(ctx context.Context, old, new Post) error {
	if old.Status == new.Status {
		return nil
	}
	switch {
	case new.Status == StatusCompleted:
		return m.feeds.AddPostToFollowersFeeds(ctx, new.FeedPost())
	case old.Status == StatusCompleted:
		if err := m.feeds.DeletePostFromFollowersFeeds(ctx, new.PostedByUserID, new.PostID); err != nil {
			return err
		}
	}
	if new.Status == StatusDeleted {
		return m.cards.RemoveCardsForSubject(ctx, new.PostedByUserID, new.PostID)
	}
	return nil
}

// OnDelete retracts a removed post from every feed and removes its cards.
func (m *Manager) OnDelete(ctx context.Context, p Post) error {
	return errors.Join(
		m.feeds.DeletePostFromFollowersFeeds(ctx, p.PostedByUserID, p.PostID),
		m.cards.RemoveCardsForSubject(ctx, p.PostedByUserID, p.PostID),
	)
}

// OnLikeAdd increments the like counter matching the like's status. An unknown
// status is store.ErrInvalidDiscriminator and nothing is written.
func (m *Manager) OnLikeAdd(ctx context.Context, l Like) error {
	field, err := l.counterField()
	if err != nil {
		return err
	}
	return m.counters.Increment(ctx, postKey(l.PostID), field)
}

// OnLikeDelete decrements the like counter matching the like's status. A counter
// already at zero is logged by the aggregator, not returned.
func (m *Manager) OnLikeDelete(ctx context.Context, l Like) error {
	field, err := l.counterField()
	if err != nil {
		return err
	}
	_, err = m.counters.Decrement(ctx, postKey(l.PostID), field)
	return err
}

// OnViewAdd handles a recorded view. The owner viewing their post clears its unviewed
// comment count and its cards; anyone else adds to the viewed-by count.
func (m *Manager) OnViewAdd(ctx context.Context, v View) error {
	p, err := m.posts.Get(ctx, v.PostID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("view of missing post", "postId", v.PostID, "viewer", v.ViewedByUserID)
		return nil
	}
	if err != nil {
		return err
	}

	if v.ViewedByUserID != p.PostedByUserID {
		return m.counters.Increment(ctx, p.Key(), FieldViewedByCount)
	}

	if err := m.counters.Clear(ctx, p.Key(), FieldCommentsUnviewedCount); err != nil {
		return err
	}
	for _, spec := range card.PostSpecs(p.PostedByUserID, p.PostID) {
		if err := m.cards.Remove(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// OnFlagAdd archives the post when the flag policy says so, counting the new flag,
// and then increments flagCount. The increment is the last write so a retried record
// only repeats the archive, which is idempotent.
func (m *Manager) OnFlagAdd(ctx context.Context, postID, flaggerUserID string) error {
	p, err := m.posts.Get(ctx, postID)
	if errors.Is(err, store.ErrNotFound) {
		m.logger.Warn("flag of missing post", "postId", postID, "flagger", flaggerUserID)
		return nil
	}
	if err != nil {
		return err
	}

	if p.Status != StatusArchived && p.Status != StatusDeleted {
		if err := m.archiveIfFlagged(ctx, *p, flaggerUserID); err != nil {
			return err
		}
	}
	return m.counters.Increment(ctx, p.Key(), FieldFlagCount)
}

func (m *Manager) archiveIfFlagged(ctx context.Context, p Post, flaggerUserID string) error {
	p.FlagCount++

	reason := ""
	if m.flags.crowdsourced(p) {
		reason = "crowdsourced"
	} else if len(m.flags.AdminUsernames) > 0 {
		username, err := m.users.Username(ctx, flaggerUserID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("look up flagger: %w", err)
		}
		if m.flags.isAdmin(username) {
			reason = "admin"
		}
	}
	if reason == "" {
		return nil
	}

	m.logger.Warn("force archiving post from flagging",
		"postId", p.PostID,
		"reason", reason,
		"flagCount", p.FlagCount,
		"viewedByCount", p.ViewedByCount,
	)
	err := m.posts.SetStatus(ctx, p, StatusArchived)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

// OnCountersChange reconciles the post's cards with the counters of its old and new images.
func (m *Manager) OnCountersChange(ctx context.Context, old, new Post) error {
	owner, id := new.PostedByUserID, new.PostID
	return errors.Join(
		m.cards.ReconcileThresholdCard(ctx, card.CommentActivity(owner, id), old.CommentsUnviewedCount, new.CommentsUnviewedCount),
		m.cards.ReconcileThresholdCard(ctx, card.PostLikes(owner, id), old.LikeCount(), new.LikeCount()),
		m.cards.ReconcileThresholdCard(ctx, card.PostViews(owner, id), old.ViewedByCount, new.ViewedByCount),
	)
}

func postKey(postID string) store.PK {
	return Post{PostID: postID}.Key()
}
