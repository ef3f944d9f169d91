// Package counter applies guarded increments and decrements to the denormalized
// counters embedded on posts, users and chats.
//
// Counters never go below zero. A decrement that would is rejected by the store,
// logged as a warning naming the entity and field, counted, and swallowed: derived
// counters are best-effort and must not fail the action that triggered them.
package counter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/internal/metrics"
	"github.com/realapp/denorm/store"
)

// ErrCounterFloorReached is returned internally when a decrement finds the counter at zero.
var ErrCounterFloorReached = errors.New("denorm: counter floor reached")

// Aggregator mutates counter fields on existing items.
type Aggregator struct {
	backend store.Backend
	logger  *slog.Logger
}

// New creates an Aggregator.
func New(backend store.Backend, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		backend: backend,
		logger:  logger,
	}
}

// IncrementDirective adds 1 to field on the item at key. An absent field counts from 0.
func IncrementDirective(key store.PK, field string) store.Directive {
	return store.Update("increment "+field, key, store.Changes{Add: map[string]int64{field: 1}}, store.IfExists())
}

// DecrementDirective subtracts 1 from field, guarded by field >= 1.
func DecrementDirective(key store.PK, field string) store.Directive {
	return store.Update("decrement "+field, key, store.Changes{Add: map[string]int64{field: -1}}, store.IfAtLeast(field, 1))
}

// Increment adds 1 to field. An item that no longer exists is logged and skipped
// rather than recreated as a bare counter.
func (a *Aggregator) Increment(ctx context.Context, key store.PK, field string) error {
	err := a.backend.Write(ctx, IncrementDirective(key, field))
	if errors.Is(err, store.ErrPreconditionFailed) {
		pk, _ := key.Strings()
		a.logger.Warn("failed to increment counter, item is gone",
			"entity", pk,
			"field", field,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("increment %s: %w", field, err)
	}
	return nil
}

// Decrement subtracts 1 from field and reports whether it was applied. A counter
// already at zero is left unchanged and reported as not applied, never as an error.
func (a *Aggregator) Decrement(ctx context.Context, key store.PK, field string) (bool, error) {
	err := a.decrement(ctx, key, field)
	if errors.Is(err, ErrCounterFloorReached) {
		pk, sk := key.Strings()
		a.logger.Warn("failed to decrement counter below zero",
			"entity", pk,
			"field", field,
		)
		metrics.CounterFloorReached.WithLabelValues(string(keys.Classify(pk, sk)), field).Inc()
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (a *Aggregator) decrement(ctx context.Context, key store.PK, field string) error {
	err := a.backend.Write(ctx, DecrementDirective(key, field))
	if errors.Is(err, store.ErrPreconditionFailed) {
		return ErrCounterFloorReached
	}
	if err != nil {
		return fmt.Errorf("decrement %s: %w", field, err)
	}
	return nil
}

// Delta is a signed change to one counter field. Negative deltas are guarded by the floor.
type Delta struct {
	Key   store.PK
	Field string
	N     int64
}

// Up is a +1 delta.
func Up(key store.PK, field string) Delta { return Delta{Key: key, Field: field, N: 1} }

// Down is a -1 delta.
func Down(key store.PK, field string) Delta { return Delta{Key: key, Field: field, N: -1} }

// Apply writes deltas in one transaction, one update per item. A delta whose item is
// gone or whose counter would drop below zero is logged and left out, and the rest is
// retried, so either every remaining delta lands or none does. Each item may carry at
// most one negative delta.
func (a *Aggregator) Apply(ctx context.Context, deltas ...Delta) error {
	groups, err := groupDeltas(deltas)
	if err != nil {
		return err
	}
	for len(groups) > 0 {
		ds := make([]store.Directive, len(groups))
		for i, g := range groups {
			ds[i] = g.directive()
		}
		err := a.backend.TransactWrite(ctx, ds...)
		if err == nil {
			return nil
		}
		var txErr *store.TransactionError
		if !errors.As(err, &txErr) || !errors.Is(err, store.ErrPreconditionFailed) {
			return fmt.Errorf("apply counters: %w", err)
		}
		groups = a.shed(groups, txErr.Index)
	}
	return nil
}

// shed drops the part of group i that failed its condition: the guarded field when
// there is one, otherwise the whole group.
func (a *Aggregator) shed(groups []*deltaGroup, i int) []*deltaGroup {
	g := groups[i]
	pk, sk := g.key.Strings()
	if g.floor != "" {
		a.logger.Warn("failed to decrement counter below zero",
			"entity", pk,
			"field", g.floor,
		)
		metrics.CounterFloorReached.WithLabelValues(string(keys.Classify(pk, sk)), g.floor).Inc()
		delete(g.add, g.floor)
		g.floor = ""
		if len(g.add) > 0 {
			return groups
		}
	} else {
		a.logger.Warn("failed to increment counter, item is gone",
			"entity", pk,
			"fields", g.fields(),
		)
	}
	return append(groups[:i], groups[i+1:]...)
}

type deltaGroup struct {
	key   store.PK
	add   map[string]int64
	order []string
	floor string
}

func (g *deltaGroup) fields() []string {
	var out []string
	for _, f := range g.order {
		if _, ok := g.add[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

func (g *deltaGroup) directive() store.Directive {
	cond := store.IfExists()
	if g.floor != "" {
		cond = store.IfAtLeast(g.floor, -g.add[g.floor])
	}
	pk, _ := g.key.Strings()
	return store.Update("counters "+pk, g.key, store.Changes{Add: g.add}, cond)
}

func groupDeltas(deltas []Delta) ([]*deltaGroup, error) {
	var groups []*deltaGroup
	byKey := make(map[[2]string]*deltaGroup)
	for _, d := range deltas {
		if d.N == 0 {
			continue
		}
		pk, sk := d.Key.Strings()
		g, ok := byKey[[2]string{pk, sk}]
		if !ok {
			g = &deltaGroup{key: d.Key, add: make(map[string]int64)}
			byKey[[2]string{pk, sk}] = g
			groups = append(groups, g)
		}
		if _, seen := g.add[d.Field]; !seen {
			g.order = append(g.order, d.Field)
		}
		g.add[d.Field] += d.N
	}
	for _, g := range groups {
		for _, f := range g.order {
			n := g.add[f]
			switch {
			case n == 0:
				delete(g.add, f)
			case n < 0 && g.floor != "":
				pk, _ := g.key.Strings()
				return nil, fmt.Errorf("%w: %s has more than one guarded counter", store.ErrInvalidTransaction, pk)
			case n < 0:
				g.floor = f
			}
		}
	}
	kept := groups[:0]
	for _, g := range groups {
		if len(g.add) > 0 {
			kept = append(kept, g)
		}
	}
	return kept, nil
}

// Clear resets field to zero on an existing item.
func (a *Aggregator) Clear(ctx context.Context, key store.PK, field string) error {
	d := store.Update("clear "+field, key, store.Changes{
		Set: map[string]types.AttributeValue{field: store.Number(0)},
	}, store.IfExists())
	err := a.backend.Write(ctx, d)
	if errors.Is(err, store.ErrPreconditionFailed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear %s: %w", field, err)
	}
	return nil
}
