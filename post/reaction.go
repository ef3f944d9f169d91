package post

import (
	"fmt"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// LikeStatus distinguishes public from anonymous likes.
type LikeStatus string

const (
	LikeOnymous   LikeStatus = "ONYMOUSLY_LIKED"
	LikeAnonymous LikeStatus = "ANONYMOUSLY_LIKED"
)

// Like is a user's like of a post.
type Like struct {
	LikedByUserID  string     `dynamodbav:"likedByUserId"`
	PostID         string     `dynamodbav:"postId"`
	PostedByUserID string     `dynamodbav:"postedByUserId"`
	Status         LikeStatus `dynamodbav:"likeStatus"`
	LikedAt        string     `dynamodbav:"likedAt,omitempty"`
}

// counterField maps the like status to the post counter it contributes to.
func (l Like) counterField() (string, error) {
	switch l.Status {
	case LikeOnymous:
		return FieldOnymousLikeCount, nil
	case LikeAnonymous:
		return FieldAnonymousLikeCount, nil
	}
	return "", fmt.Errorf("%w: like status %q", store.ErrInvalidDiscriminator, l.Status)
}

// DecodeLike reads a like from a stored item. The status is validated when the like is applied.
func DecodeLike(item store.Item) (Like, error) {
	l, err := store.Unmarshal[Like](item)
	if err != nil {
		return Like{}, fmt.Errorf("decode like: %w", err)
	}
	return l, nil
}

// View records that a user viewed a post.
type View struct {
	PostID         string
	ViewedByUserID string
}

// DecodeView reads a view from its key: post/{postId} + view/{userId}.
func DecodeView(item store.Item) (View, error) {
	pk, sk := item.Key().Strings()
	v := View{
		PostID:         keys.TrimPrefix(pk, "post/"),
		ViewedByUserID: keys.TrimPrefix(sk, "view/"),
	}
	if v.PostID == "" || v.ViewedByUserID == "" {
		return View{}, fmt.Errorf("decode view: unexpected key %s %s", pk, sk)
	}
	return v, nil
}

// Flag records that a user flagged a post.
type Flag struct {
	PostID          string
	FlaggedByUserID string
}

// DecodeFlag reads a flag from its key: post/{postId} + flag/{userId}.
func DecodeFlag(item store.Item) (Flag, error) {
	pk, sk := item.Key().Strings()
	f := Flag{
		PostID:          keys.TrimPrefix(pk, "post/"),
		FlaggedByUserID: keys.TrimPrefix(sk, "flag/"),
	}
	if f.PostID == "" || f.FlaggedByUserID == "" {
		return Flag{}, fmt.Errorf("decode flag: unexpected key %s %s", pk, sk)
	}
	return f, nil
}
