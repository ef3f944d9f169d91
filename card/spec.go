package card

import (
	"fmt"

	"github.com/realapp/denorm/internal/keys"
)

// Type is the kind of condition a card announces.
type Type string

const (
	TypeCommentActivity    Type = "COMMENT_ACTIVITY"
	TypePostLikes          Type = "POST_LIKES"
	TypePostViews          Type = "POST_VIEWS"
	TypeRequestedFollowers Type = "REQUESTED_FOLLOWERS"
)

// subjectTypes are the card types scoped to a post.
var subjectTypes = []Type{TypeCommentActivity, TypePostLikes, TypePostViews}

// Spec describes a card. Two specs with the same owner, type and subject are the same card.
type Spec struct {
	Type      Type
	OwnerID   string
	SubjectID string
	Title     string
	Action    string
}

// CardID is the deterministic identifier of the card.
func (s Spec) CardID() string {
	return keys.CardID(s.OwnerID, string(s.Type), s.SubjectID)
}

// CommentActivity announces unviewed comments on a post.
func CommentActivity(ownerID, postID string) Spec {
	return Spec{
		Type:      TypeCommentActivity,
		OwnerID:   ownerID,
		SubjectID: postID,
		Title:     "You have new comments",
		Action:    fmt.Sprintf("https://real.app/user/%s/post/%s/comments", ownerID, postID),
	}
}

// PostLikes announces new likes on a post.
func PostLikes(ownerID, postID string) Spec {
	return Spec{
		Type:      TypePostLikes,
		OwnerID:   ownerID,
		SubjectID: postID,
		Title:     "You have new likes",
		Action:    fmt.Sprintf("https://real.app/user/%s/post/%s/likes", ownerID, postID),
	}
}

// PostViews announces new views on a post.
func PostViews(ownerID, postID string) Spec {
	return Spec{
		Type:      TypePostViews,
		OwnerID:   ownerID,
		SubjectID: postID,
		Title:     "You have new views",
		Action:    fmt.Sprintf("https://real.app/user/%s/post/%s/views", ownerID, postID),
	}
}

// RequestedFollowers announces pending follow requests. It is scoped to the owner only.
func RequestedFollowers(ownerID string) Spec {
	return Spec{
		Type:    TypeRequestedFollowers,
		OwnerID: ownerID,
		Title:   "You have pending follow requests",
		Action:  "https://real.app/follower_requests",
	}
}

// PostSpecs returns every card a post can carry, in a fixed order.
func PostSpecs(ownerID, postID string) []Spec {
	return []Spec{
		CommentActivity(ownerID, postID),
		PostLikes(ownerID, postID),
		PostViews(ownerID, postID),
	}
}

// specFor rebuilds a spec from its identifying parts.
func specFor(typ Type, ownerID, subjectID string) (Spec, bool) {
	switch typ {
	case TypeCommentActivity:
		return CommentActivity(ownerID, subjectID), true
	case TypePostLikes:
		return PostLikes(ownerID, subjectID), true
	case TypePostViews:
		return PostViews(ownerID, subjectID), true
	case TypeRequestedFollowers:
		return RequestedFollowers(ownerID), true
	}
	return Spec{}, false
}
