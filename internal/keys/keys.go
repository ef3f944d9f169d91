// Package keys defines the single-table key layout shared by every store.
package keys

import (
	"strings"
	"time"
)

// Table key and index attribute names.
const (
	PartitionKey = "partitionKey"
	SortKey      = "sortKey"

	GSIA1PartitionKey = "gsiA1PartitionKey"
	GSIA1SortKey      = "gsiA1SortKey"
	GSIA2PartitionKey = "gsiA2PartitionKey"
	GSIA2SortKey      = "gsiA2SortKey"
	GSIK1PartitionKey = "gsiK1PartitionKey"
	GSIK1SortKey      = "gsiK1SortKey"
	GSIK2PartitionKey = "gsiK2PartitionKey"
	GSIK2SortKey      = "gsiK2SortKey"
)

// Index names.
const (
	IndexA1 = "GSI-A1"
	IndexA2 = "GSI-A2"
	IndexK1 = "GSI-K1"
	IndexK2 = "GSI-K2"
)

// TimeLayout is a fixed-width UTC layout, so timestamps sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t for use in sort keys and timestamp attributes.
func Timestamp(t time.Time) string { return t.UTC().Format(TimeLayout) }

// NoSort is the sort key of items that are alone in their partition.
const NoSort = "-"

// Kind identifies the entity type an item belongs to.
type Kind string

const (
	KindUnknown     Kind = ""
	KindUser        Kind = "user"
	KindFeedEntry   Kind = "feedEntry"
	KindFollow      Kind = "follow"
	KindPost        Kind = "post"
	KindPostView    Kind = "postView"
	KindPostFlag    Kind = "postFlag"
	KindLike        Kind = "like"
	KindCard        Kind = "card"
	KindChat        Kind = "chat"
	KindChatMember  Kind = "chatMember"
	KindChatMessage Kind = "chatMessage"
)

// Classify derives the entity kind from an item's primary key.
func Classify(pk, sk string) Kind {
	prefix, _, ok := strings.Cut(pk, "/")
	if !ok {
		return KindUnknown
	}
	switch prefix {
	case "user":
		switch {
		case sk == "profile":
			return KindUser
		case strings.HasPrefix(sk, "feed/"):
			return KindFeedEntry
		}
	case "following":
		return KindFollow
	case "post":
		switch {
		case sk == NoSort:
			return KindPost
		case strings.HasPrefix(sk, "view/"):
			return KindPostView
		case strings.HasPrefix(sk, "flag/"):
			return KindPostFlag
		}
	case "like":
		return KindLike
	case "card":
		return KindCard
	case "chat":
		switch {
		case sk == NoSort:
			return KindChat
		case strings.HasPrefix(sk, "member/"):
			return KindChatMember
		}
	case "chatMessage":
		return KindChatMessage
	}
	return KindUnknown
}

// User returns the primary key of a user profile item.
func User(userID string) (pk, sk string) {
	return "user/" + userID, "profile"
}

// Following returns the primary key of the follow edge follower -> followed.
func Following(followerID, followedID string) (pk, sk string) {
	return "following/" + followerID + "/" + followedID, NoSort
}

// Follower is the by-follower index partition (GSI-A1) of a user.
func Follower(userID string) string { return "follower/" + userID }

// Followed is the by-followed index partition (GSI-A2) of a user.
func Followed(userID string) string { return "followed/" + userID }

// StatusSort builds the sort key shared by both follow indexes and the posts-by-user index.
func StatusSort(status, at string) string { return status + "/" + at }

// StatusPrefix is the sort-key prefix selecting one status.
func StatusPrefix(status string) string { return status + "/" }

// FeedEntry returns the primary key of a viewer's feed entry for a post.
func FeedEntry(viewerID, postID string) (pk, sk string) {
	return "user/" + viewerID, "feed/" + postID
}

// Feed is the recency-ordered index partition (GSI-A1) of a viewer's feed.
func Feed(viewerID string) string { return "feed/" + viewerID }

// FeedBySource is the GSI-K2 partition holding one author's posts in one viewer's feed.
func FeedBySource(viewerID, postedByUserID string) string {
	return "feed/" + viewerID + "/" + postedByUserID
}

// Post returns the primary key of a post.
func Post(postID string) (pk, sk string) { return "post/" + postID, NoSort }

// PostedBy is the GSI-A2 partition listing a user's posts.
func PostedBy(userID string) string { return "postedBy/" + userID }

// PostView returns the primary key of a post view record.
func PostView(postID, userID string) (pk, sk string) { return "post/" + postID, "view/" + userID }

// PostFlag returns the primary key of a user's flag on a post.
func PostFlag(postID, userID string) (pk, sk string) { return "post/" + postID, "flag/" + userID }

// Like returns the primary key of a like.
func Like(likedByUserID, postID string) (pk, sk string) {
	return "like/" + likedByUserID + "/" + postID, NoSort
}

// Card returns the primary key of a card.
func Card(cardID string) (pk, sk string) { return "card/" + cardID, NoSort }

// CardID derives a card identifier from its owner and subject. An empty
// subjectID produces an owner-scoped id.
func CardID(ownerID, subjectType, subjectID string) string {
	if subjectID == "" {
		return ownerID + ":" + subjectType
	}
	return ownerID + ":" + subjectType + ":" + subjectID
}

// CardOwner is the GSI-A1 partition listing a user's cards.
func CardOwner(ownerID string) string { return "user/" + ownerID }

// CardSubject is the GSI-K1 partition listing an owner's cards about one subject.
func CardSubject(ownerID, subjectID string) string { return "card/" + ownerID + "/" + subjectID }

// Chat returns the primary key of a chat.
func Chat(chatID string) (pk, sk string) { return "chat/" + chatID, NoSort }

// ChatMember returns the primary key of a chat membership.
func ChatMember(chatID, userID string) (pk, sk string) { return "chat/" + chatID, "member/" + userID }

// ChatMemberPrefix is the sort-key prefix of chat memberships.
const ChatMemberPrefix = "member/"

// ChatMessage returns the primary key of a chat message.
func ChatMessage(messageID string) (pk, sk string) { return "chatMessage/" + messageID, NoSort }

// ChatMessages is the GSI-A1 partition listing a chat's messages.
func ChatMessages(chatID string) string { return "chatMessage/" + chatID }

// TrimPrefix returns s without prefix, or "" if s does not carry it.
func TrimPrefix(s, prefix string) string {
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return s[len(prefix):]
}
