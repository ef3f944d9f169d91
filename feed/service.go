// Package feed maintains per-viewer feeds by pushing post references to followers
// on write and retracting them on delete or unfollow.
package feed

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/realapp/denorm/follow"
	"github.com/realapp/denorm/store"
)

// Followers enumerates the followers of a user.
type Followers interface {
	ByFollowed(ctx context.Context, userID string, status follow.Status) iter.Seq2[follow.Edge, error]
}

// Posts enumerates a user's visible posts.
type Posts interface {
	Completed(ctx context.Context, userID string) iter.Seq2[Post, error]
}

// Service is the feed fan-out service and feed query surface.
type Service struct {
	entries   *Store
	followers Followers
	posts     Posts
	logger    *slog.Logger
}

// NewService creates a feed Service.
func NewService(entries *Store, followers Followers, posts Posts, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		entries:   entries,
		followers: followers,
		posts:     posts,
		logger:    logger,
	}
}

// AddPostToFollowersFeeds puts p in its author's feed and in the feed of every
// follower whose edge is FOLLOWING. Re-running it rewrites the same entries.
func (s *Service) AddPostToFollowersFeeds(ctx context.Context, p Post) error {
	if err := s.entries.Put(ctx, p.PostedByUserID, p); err != nil {
		return err
	}

	fanout := 1
	for e, err := range s.followers.ByFollowed(ctx, p.PostedByUserID, follow.StatusFollowing) {
		if err != nil {
			return fmt.Errorf("enumerate followers of %s: %w", p.PostedByUserID, err)
		}
		if err := s.entries.Put(ctx, e.FollowerUserID, p); err != nil {
			return err
		}
		fanout++
	}

	s.logger.Debug("post fanned out", "postId", p.PostID, "feeds", fanout)
	return nil
}

// DeletePostFromFollowersFeeds removes postID from the author's feed and from every
// follower's feed whatever the edge status. Entries already gone are success.
func (s *Service) DeletePostFromFollowersFeeds(ctx context.Context, authorID, postID string) error {
	if err := s.entries.Delete(ctx, authorID, postID); err != nil {
		return err
	}

	for e, err := range s.followers.ByFollowed(ctx, authorID, "") {
		if err != nil {
			return fmt.Errorf("enumerate followers of %s: %w", authorID, err)
		}
		if err := s.entries.Delete(ctx, e.FollowerUserID, postID); err != nil {
			return err
		}
	}
	return nil
}

// AddUsersPostsToFeed copies every visible post of sourceUserID into viewerID's feed.
func (s *Service) AddUsersPostsToFeed(ctx context.Context, viewerID, sourceUserID string) error {
	var n int
	for p, err := range s.posts.Completed(ctx, sourceUserID) {
		if err != nil {
			return fmt.Errorf("enumerate posts of %s: %w", sourceUserID, err)
		}
		if err := s.entries.Put(ctx, viewerID, p); err != nil {
			return err
		}
		n++
	}
	s.logger.Debug("posts added to feed", "viewer", viewerID, "source", sourceUserID, "count", n)
	return nil
}

// DeleteUsersPostsFromFeed purges every post of sourceUserID from viewerID's feed.
func (s *Service) DeleteUsersPostsFromFeed(ctx context.Context, viewerID, sourceUserID string) error {
	var n int
	for e, err := range s.entries.BySource(ctx, viewerID, sourceUserID) {
		if err != nil {
			return fmt.Errorf("enumerate feed of %s: %w", viewerID, err)
		}
		if err := s.entries.Delete(ctx, viewerID, e.PostID); err != nil {
			return err
		}
		n++
	}
	s.logger.Debug("posts purged from feed", "viewer", viewerID, "source", sourceUserID, "count", n)
	return nil
}

// PageRequest selects one page of a feed.
type PageRequest struct {
	// Limit is the page size (0 = store default).
	Limit int32

	// Cursor resumes after a previous page.
	Cursor string
}

// Page is one page of a feed, newest first.
type Page struct {
	Entries []Entry

	// Cursor is empty on the last page.
	Cursor string
}

// ListFeed returns one page of viewerID's feed, newest first.
func (s *Service) ListFeed(ctx context.Context, viewerID string, req PageRequest) (Page, error) {
	q := recencyQuery(viewerID)
	q.Limit = req.Limit
	q.Cursor = req.Cursor

	res, err := s.entries.backend.QueryPage(ctx, q)
	if err != nil {
		return Page{}, fmt.Errorf("list feed of %s: %w", viewerID, err)
	}
	page := Page{Entries: make([]Entry, 0, len(res.Items)), Cursor: res.Cursor}
	for _, item := range res.Items {
		e, err := store.Unmarshal[Entry](item)
		if err != nil {
			return Page{}, fmt.Errorf("decode feed entry: %w", err)
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

// Feed enumerates viewerID's whole feed, newest first. Ranging again re-reads it.
func (s *Service) Feed(ctx context.Context, viewerID string) iter.Seq2[Entry, error] {
	return s.entries.Newest(ctx, viewerID)
}
