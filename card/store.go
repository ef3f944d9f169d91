package card

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// Card is a stored card.
type Card struct {
	CardID    string `dynamodbav:"cardId"`
	OwnerID   string `dynamodbav:"userId"`
	Type      Type   `dynamodbav:"cardType"`
	SubjectID string `dynamodbav:"subjectId,omitempty"`
	Title     string `dynamodbav:"title"`
	Action    string `dynamodbav:"action"`
	CreatedAt string `dynamodbav:"createdAt"`
}

// Spec returns the spec the card was created from.
func (c Card) Spec() (Spec, error) {
	spec, ok := specFor(c.Type, c.OwnerID, c.SubjectID)
	if !ok {
		return Spec{}, fmt.Errorf("%w: card type %q", store.ErrInvalidDiscriminator, c.Type)
	}
	return spec, nil
}

type record struct {
	Card
	PartitionKey      string `dynamodbav:"partitionKey"`
	SortKey           string `dynamodbav:"sortKey"`
	GSIA1PartitionKey string `dynamodbav:"gsiA1PartitionKey"`
	GSIA1SortKey      string `dynamodbav:"gsiA1SortKey"`
	GSIK1PartitionKey string `dynamodbav:"gsiK1PartitionKey,omitempty"`
	GSIK1SortKey      string `dynamodbav:"gsiK1SortKey,omitempty"`
}

// Store is the card query surface.
type Store struct {
	backend store.Backend
	now     func() time.Time
}

// NewStore creates a card Store.
func NewStore(backend store.Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

func cardKey(cardID string) store.PK {
	return store.Key(keys.Card(cardID))
}

// Get returns the card with the given id, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, cardID string) (*Card, error) {
	item, err := s.backend.Get(ctx, cardKey(cardID))
	if err != nil {
		return nil, err
	}
	c, err := store.Unmarshal[Card](item)
	if err != nil {
		return nil, fmt.Errorf("decode card: %w", err)
	}
	return &c, nil
}

// AddIfAbsent creates the card unless it already exists. It reports whether a card was written.
func (s *Store) AddIfAbsent(ctx context.Context, spec Spec) (bool, error) {
	cardID := spec.CardID()
	createdAt := keys.Timestamp(s.now())
	pk, sk := keys.Card(cardID)

	rec := record{
		Card: Card{
			CardID:    cardID,
			OwnerID:   spec.OwnerID,
			Type:      spec.Type,
			SubjectID: spec.SubjectID,
			Title:     spec.Title,
			Action:    spec.Action,
			CreatedAt: createdAt,
		},
		PartitionKey:      pk,
		SortKey:           sk,
		GSIA1PartitionKey: keys.CardOwner(spec.OwnerID),
		GSIA1SortKey:      "card/" + createdAt,
	}
	if spec.SubjectID != "" {
		rec.GSIK1PartitionKey = keys.CardSubject(spec.OwnerID, spec.SubjectID)
		rec.GSIK1SortKey = string(spec.Type)
	}

	item, err := store.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode card: %w", err)
	}
	err = s.backend.Write(ctx, store.Put("card", item, store.IfNotExists()))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("add card %s: %w", cardID, err)
	}
	return true, nil
}

// RemoveIfPresent deletes the card if it exists. It reports whether a card was deleted.
func (s *Store) RemoveIfPresent(ctx context.Context, spec Spec) (bool, error) {
	return s.remove(ctx, spec.CardID())
}

func (s *Store) remove(ctx context.Context, cardID string) (bool, error) {
	err := s.backend.Write(ctx, store.Delete("card", cardKey(cardID), store.IfExists()))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove card %s: %w", cardID, err)
	}
	return true, nil
}

// List returns the owner's cards, oldest first.
func (s *Store) List(ctx context.Context, ownerID string) iter.Seq2[Card, error] {
	return store.Decode(s.backend.Query(ctx, store.Query{
		Index:         keys.IndexA1,
		PartitionAttr: keys.GSIA1PartitionKey,
		Partition:     keys.CardOwner(ownerID),
		SortAttr:      keys.GSIA1SortKey,
		SortPrefix:    "card/",
	}), store.Unmarshal[Card])
}

// ForSubject returns the owner's cards about one subject.
func (s *Store) ForSubject(ctx context.Context, ownerID, subjectID string) iter.Seq2[Card, error] {
	return store.Decode(s.backend.Query(ctx, store.Query{
		Index:         keys.IndexK1,
		PartitionAttr: keys.GSIK1PartitionKey,
		Partition:     keys.CardSubject(ownerID, subjectID),
		SortAttr:      keys.GSIK1SortKey,
	}), store.Unmarshal[Card])
}
