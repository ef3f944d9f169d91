// Package user holds the user profile projection and keeps the views derived
// from it in step: the requested-followers card and the search index.
package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// Counter fields on the user profile. They are owned by the follow postprocessor.
const (
	FieldFollowerCount           = "followerCount"
	FieldFollowedCount           = "followedCount"
	FieldFollowersRequestedCount = "followersRequestedCount"
)

// User is the part of a profile this module reads.
type User struct {
	UserID        string `dynamodbav:"userId"`
	Username      string `dynamodbav:"username,omitempty"`
	FullName      string `dynamodbav:"fullName,omitempty"`
	Bio           string `dynamodbav:"bio,omitempty"`
	Email         string `dynamodbav:"email,omitempty"`
	PhoneNumber   string `dynamodbav:"phoneNumber,omitempty"`
	PrivacyStatus string `dynamodbav:"privacyStatus,omitempty"`

	FollowerCount           int64 `dynamodbav:"followerCount,omitempty"`
	FollowedCount           int64 `dynamodbav:"followedCount,omitempty"`
	FollowersRequestedCount int64 `dynamodbav:"followersRequestedCount,omitempty"`
}

// Key returns the profile's primary key.
func (u User) Key() store.PK {
	return store.Key(keys.User(u.UserID))
}

// SearchDoc is the document indexed for the user. Empty fields are left out.
func (u User) SearchDoc() map[string]string {
	doc := make(map[string]string, 7)
	for k, v := range map[string]string{
		"userId":        u.UserID,
		"username":      u.Username,
		"fullName":      u.FullName,
		"bio":           u.Bio,
		"email":         u.Email,
		"phoneNumber":   u.PhoneNumber,
		"privacyStatus": u.PrivacyStatus,
	} {
		if v != "" {
			doc[k] = v
		}
	}
	return doc
}

type record struct {
	User
	PartitionKey string `dynamodbav:"partitionKey"`
	SortKey      string `dynamodbav:"sortKey"`
}

// Decode reads a user from a stored item.
func Decode(item store.Item) (User, error) {
	u, err := store.Unmarshal[User](item)
	if err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	return u, nil
}

// Store reads and creates user profiles.
type Store struct {
	backend store.Backend
}

// NewStore creates a user Store.
func NewStore(backend store.Backend) *Store {
	return &Store{backend: backend}
}

// Get returns the user, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, userID string) (*User, error) {
	item, err := s.backend.Get(ctx, store.Key(keys.User(userID)))
	if err != nil {
		return nil, err
	}
	u, err := Decode(item)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Username resolves a user id to its username.
func (s *Store) Username(ctx context.Context, userID string) (string, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.Username, nil
}

// Create inserts a new profile. It fails with store.ErrAlreadyExists if the id is taken.
func (s *Store) Create(ctx context.Context, u User) error {
	pk, sk := keys.User(u.UserID)
	item, err := store.Marshal(record{User: u, PartitionKey: pk, SortKey: sk})
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	err = s.backend.Write(ctx, store.Put("user", item, store.IfNotExists()))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}
