// Package card maintains notification cards: deterministically keyed projections
// that exist exactly while a counter on their subject is above zero.
package card

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/realapp/denorm/internal/metrics"
)

// Action is the outcome of comparing two counter observations.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	default:
		return "none"
	}
}

// Transition decides the card action for a counter that moved from old to new.
// Only crossing the zero boundary matters; absent counters are passed as 0.
func Transition(old, new int64) Action {
	switch {
	case old <= 0 && new > 0:
		return ActionAdd
	case old > 0 && new <= 0:
		return ActionRemove
	default:
		return ActionNone
	}
}

// Manager reconciles cards with the counters they project.
type Manager struct {
	store  *Store
	logger *slog.Logger
}

// NewManager creates a Manager.
func NewManager(s *Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  s,
		logger: logger,
	}
}

// Store returns the card store the manager writes to.
func (m *Manager) Store() *Store {
	return m.store
}

// ReconcileThresholdCard adds or removes the card for spec when the counter crossed zero.
// A card already in the desired state is success.
func (m *Manager) ReconcileThresholdCard(ctx context.Context, spec Spec, old, new int64) error {
	action := Transition(old, new)
	metrics.CardTransitions.WithLabelValues(string(spec.Type), action.String()).Inc()

	switch action {
	case ActionAdd:
		added, err := m.store.AddIfAbsent(ctx, spec)
		if err != nil {
			return err
		}
		m.logger.Debug("card reconciled", "cardId", spec.CardID(), "action", action, "changed", added)
	case ActionRemove:
		return m.Remove(ctx, spec)
	}
	return nil
}

// Remove deletes the card for spec if present.
func (m *Manager) Remove(ctx context.Context, spec Spec) error {
	removed, err := m.store.RemoveIfPresent(ctx, spec)
	if err != nil {
		return err
	}
	m.logger.Debug("card removed", "cardId", spec.CardID(), "changed", removed)
	return nil
}

// RemoveCardsForSubject removes every card derived from the subject, whatever the
// current counters say. Known subject card ids are removed directly, then the
// subject index is swept for anything else.
func (m *Manager) RemoveCardsForSubject(ctx context.Context, ownerID, subjectID string) error {
	done := make(map[string]bool)
	for _, typ := range subjectTypes {
		spec, _ := specFor(typ, ownerID, subjectID)
		if err := m.Remove(ctx, spec); err != nil {
			return err
		}
		done[spec.CardID()] = true
	}

	for c, err := range m.store.ForSubject(ctx, ownerID, subjectID) {
		if err != nil {
			return fmt.Errorf("enumerate cards for %s: %w", subjectID, err)
		}
		if done[c.CardID] {
			continue
		}
		if _, err := m.store.remove(ctx, c.CardID); err != nil {
			return err
		}
		done[c.CardID] = true
	}
	return nil
}
