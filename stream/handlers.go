package stream

import (
	"context"
	"errors"

	"github.com/realapp/denorm/follow"
	"github.com/realapp/denorm/post"
	"github.com/realapp/denorm/store"
	"github.com/realapp/denorm/user"
)

// FollowPostprocessor reacts to follow edge changes.
type FollowPostprocessor interface {
	Handle(ctx context.Context, old, new *follow.Edge) error
}

// UserPostprocessor reacts to profile changes.
type UserPostprocessor interface {
	Handle(ctx context.Context, old, new *user.User) error
}

// PostManager reacts to post, like, view and flag changes.
type PostManager interface {
	OnCreate(ctx context.Context, p post.Post) error
	OnStatusChange(ctx context.Context, old, new post.Post) error
	OnDelete(ctx context.Context, p post.Post) error
	OnCountersChange(ctx context.Context, old, new post.Post) error
	OnLikeAdd(ctx context.Context, l post.Like) error
	OnLikeDelete(ctx context.Context, l post.Like) error
	OnViewAdd(ctx context.Context, v post.View) error
	OnFlagAdd(ctx context.Context, postID, flaggerUserID string) error
}

// images decodes the old and new images of e. A missing image decodes to nil.
func images[T any](e Event, decode func(store.Item) (T, error)) (old, new *T, err error) {
	if e.Old != nil {
		v, err := decode(e.Old)
		if err != nil {
			return nil, nil, err
		}
		old = &v
	}
	if e.New != nil {
		v, err := decode(e.New)
		if err != nil {
			return nil, nil, err
		}
		new = &v
	}
	return old, new, nil
}

// FollowHandler feeds edge changes to p.
func FollowHandler(p FollowPostprocessor) Handler {
	return HandlerFunc(func(ctx context.Context, e Event) error {
		old, new, err := images(e, follow.Decode)
		if err != nil {
			return err
		}
		return p.Handle(ctx, old, new)
	})
}

// UserHandler feeds profile changes to p.
func UserHandler(p UserPostprocessor) Handler {
	return HandlerFunc(func(ctx context.Context, e Event) error {
		old, new, err := images(e, user.Decode)
		if err != nil {
			return err
		}
		return p.Handle(ctx, old, new)
	})
}

// PostHandler feeds post lifecycle and counter changes to m.
func PostHandler(m PostManager) Handler {
	return HandlerFunc(func(ctx context.Context, e Event) error {
		old, new, err := images(e, post.Decode)
		if err != nil {
			return err
		}
		switch {
		case old == nil && new != nil:
			return m.OnCreate(ctx, *new)
		case new == nil && old != nil:
			return m.OnDelete(ctx, *old)
		case old != nil && new != nil:
			return errors.Join(
				m.OnStatusChange(ctx, *old, *new),
				m.OnCountersChange(ctx, *old, *new),
			)
		}
		return nil
	})
}

// LikeHandler counts likes added and removed.
func LikeHandler(m PostManager) Handler {
	return HandlerFunc(func(ctx context.Context, e Event) error {
		switch e.Op {
		case OpInsert:
			l, err := post.DecodeLike(e.New)
			if err != nil {
				return err
			}
			return m.OnLikeAdd(ctx, l)
		case OpRemove:
			l, err := post.DecodeLike(e.Old)
			if err != nil {
				return err
			}
			return m.OnLikeDelete(ctx, l)
		}
		return nil
	})
}

// ViewHandler handles first views of a post. Repeat views modify the record and are ignored.
func ViewHandler(m PostManager) Handler {
	return HandlerFunc(func(ctx context.Context, e Event) error {
		if e.Op != OpInsert {
			return nil
		}
		v, err := post.DecodeView(store.Item(e.Key))
		if err != nil {
			return err
		}
		return m.OnViewAdd(ctx, v)
	})
}

// FlagHandler handles new flags on a post.
func FlagHandler(m PostManager) Handler {
	return HandlerFunc(func(ctx context.Context, e Event) error {
		if e.Op != OpInsert {
			return nil
		}
		f, err := post.DecodeFlag(store.Item(e.Key))
		if err != nil {
			return err
		}
		return m.OnFlagAdd(ctx, f.PostID, f.FlaggedByUserID)
	})
}
