package user

import (
	"context"
	"log/slog"
	"maps"

	"github.com/realapp/denorm/card"
)

// Cards reconciles threshold cards.
type Cards interface {
	ReconcileThresholdCard(ctx context.Context, spec card.Spec, old, new int64) error
}

// Index is the search index the profile is mirrored to.
type Index interface {
	Upsert(ctx context.Context, docID string, doc map[string]string) error
	Delete(ctx context.Context, docID string) error
}

// Postprocessor reacts to profile changes.
type Postprocessor struct {
	cards  Cards
	index  Index
	logger *slog.Logger
}

// NewPostprocessor creates a Postprocessor. A nil index disables search sync.
func NewPostprocessor(cards Cards, index Index, logger *slog.Logger) *Postprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postprocessor{
		cards:  cards,
		index:  index,
		logger: logger,
	}
}

// Handle applies one profile change. old is nil on insert, new is nil on remove.
// Search failures are logged; card failures are returned.
func (p *Postprocessor) Handle(ctx context.Context, old, new *User) error {
	if old == nil && new == nil {
		return nil
	}
	p.syncSearch(ctx, old, new)
	return p.reconcileRequestedFollowersCard(ctx, old, new)
}

func (p *Postprocessor) reconcileRequestedFollowersCard(ctx context.Context, old, new *User) error {
	var before, after int64
	if old != nil {
		before = old.FollowersRequestedCount
	}
	if new != nil {
		after = new.FollowersRequestedCount
	}
	return p.cards.ReconcileThresholdCard(ctx, card.RequestedFollowers(userID(old, new)), before, after)
}

func (p *Postprocessor) syncSearch(ctx context.Context, old, new *User) {
	if p.index == nil {
		return
	}

	var err error
	op := "upsert"
	switch {
	case new == nil:
		op = "delete"
		err = p.index.Delete(ctx, old.UserID)
	case old == nil:
		err = p.index.Upsert(ctx, new.UserID, new.SearchDoc())
	default:
		doc := new.SearchDoc()
		if maps.Equal(old.SearchDoc(), doc) {
			return
		}
		err = p.index.Upsert(ctx, new.UserID, doc)
	}
	if err != nil {
		p.logger.Warn("failed to sync user to search index", "userId", userID(old, new), "op", op, "error", err)
	}
}

func userID(old, new *User) string {
	if new != nil {
		return new.UserID
	}
	return old.UserID
}
