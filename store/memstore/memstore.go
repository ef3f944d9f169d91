// Package memstore provides an in-memory store.Backend with the same condition,
// update and transaction semantics as the DynamoDB store.
package memstore

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

type itemKey struct {
	pk, sk string
}

// Store is an in-memory table. The zero value is not usable; call New.
type Store struct {
	mu    sync.Mutex
	items map[itemKey]store.Item

	// writes counts applied directives.
	writes int
}

var _ store.Backend = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{items: make(map[itemKey]store.Item)}
}

// Len returns the number of items held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Writes returns the number of directives applied so far.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Get returns a copy of the item at key.
func (s *Store) Get(ctx context.Context, key store.PK) (store.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[toItemKey(key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(item), nil
}

// Write applies one directive if its condition holds.
func (s *Store) Write(ctx context.Context, d store.Directive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateTransaction([]store.Directive{d}); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.holds(d) {
		return store.ErrPreconditionFailed
	}
	s.apply(d)
	return nil
}

// TransactWrite checks every condition against the current state before applying anything.
func (s *Store) TransactWrite(ctx context.Context, ds ...store.Directive) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := store.ValidateTransaction(ds); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, d := range ds {
		if !s.holds(d) {
			return &store.TransactionError{Index: i, Label: d.Label, Reason: store.ReasonConditionalCheckFailed}
		}
	}
	for _, d := range ds {
		s.apply(d)
	}
	return nil
}

// Query pages through QueryPage until the cursor runs out.
func (s *Store) Query(ctx context.Context, q store.Query) iter.Seq2[store.Item, error] {
	return func(yield func(store.Item, error) bool) {
		for {
			page, err := s.QueryPage(ctx, q)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, item := range page.Items {
				if !yield(item, nil) {
					return
				}
			}
			if page.Cursor == "" {
				return
			}
			q.Cursor = page.Cursor
		}
	}
}

// QueryPage returns one page of matching items ordered by the sort attribute.
func (s *Store) QueryPage(ctx context.Context, q store.Query) (store.Page, error) {
	if err := ctx.Err(); err != nil {
		return store.Page{}, err
	}
	if q.PartitionAttr == "" || q.Partition == "" {
		return store.Page{}, fmt.Errorf("denorm: query has no partition")
	}
	start, err := store.DecodeCursor(q.Cursor)
	if err != nil {
		return store.Page{}, err
	}

	s.mu.Lock()
	var matched []store.Item
	for _, item := range s.items {
		if matches(item, q) {
			matched = append(matched, clone(item))
		}
	}
	s.mu.Unlock()

	sortAttr := q.SortAttr
	if sortAttr == "" {
		sortAttr = keys.SortKey
	}
	less := func(a, b store.Item) bool {
		return compare(a, b, sortAttr) < 0
	}
	if q.Descending {
		less = func(a, b store.Item) bool {
			return compare(a, b, sortAttr) > 0
		}
	}
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	// Resume strictly after the cursor position, which need not still exist.
	if start != nil {
		after := store.Item(start)
		i := 0
		for i < len(matched) && !less(after, matched[i]) {
			i++
		}
		matched = matched[i:]
	}

	limit := int(q.Limit)
	if limit <= 0 {
		limit = int(store.DefaultConfig().PageSize)
	}
	if len(matched) <= limit {
		return store.Page{Items: matched}, nil
	}

	page := store.Page{Items: matched[:limit]}
	last := page.Items[limit-1]
	lastKey := map[string]types.AttributeValue{
		keys.PartitionKey: last[keys.PartitionKey],
		keys.SortKey:      last[keys.SortKey],
	}
	if v, ok := last[sortAttr]; ok {
		lastKey[sortAttr] = v
	}
	if page.Cursor, err = store.EncodeCursor(lastKey); err != nil {
		return store.Page{}, err
	}
	return page, nil
}

// compare orders items by sort attribute, then table key.
func compare(a, b store.Item, sortAttr string) int {
	if c := strings.Compare(a.S(sortAttr), b.S(sortAttr)); c != 0 {
		return c
	}
	if c := strings.Compare(a.S(keys.PartitionKey), b.S(keys.PartitionKey)); c != 0 {
		return c
	}
	return strings.Compare(a.S(keys.SortKey), b.S(keys.SortKey))
}

func matches(item store.Item, q store.Query) bool {
	if item.S(q.PartitionAttr) != q.Partition {
		return false
	}
	if q.SortAttr != "" {
		if !item.Has(q.SortAttr) || !strings.HasPrefix(item.S(q.SortAttr), q.SortPrefix) {
			return false
		}
	}
	for attr, want := range q.Filter {
		if item.S(attr) != want {
			return false
		}
	}
	return true
}

// holds evaluates a directive's condition. Callers hold s.mu.
func (s *Store) holds(d store.Directive) bool {
	current, exists := s.items[toItemKey(d.Target())]
	switch d.Cond.Kind {
	case store.CondExists:
		return exists
	case store.CondNotExists:
		return !exists
	case store.CondAtLeast:
		if !exists || !current.Has(d.Cond.Attr) {
			return false
		}
		return current.N(d.Cond.Attr) >= d.Cond.Min
	default:
		return true
	}
}

// apply performs a directive whose condition holds. Callers hold s.mu.
func (s *Store) apply(d store.Directive) {
	k := toItemKey(d.Target())
	switch d.Op {
	case store.OpPut:
		s.items[k] = clone(d.Item)
	case store.OpDelete:
		delete(s.items, k)
	case store.OpUpdate:
		item, ok := s.items[k]
		if !ok {
			item = store.Item{
				keys.PartitionKey: store.String(k.pk),
				keys.SortKey:      store.String(k.sk),
			}
		} else {
			item = clone(item)
		}
		for attr, v := range d.Changes.Set {
			item[attr] = v
		}
		for attr, delta := range d.Changes.Add {
			item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(item.N(attr)+delta, 10)}
		}
		for _, attr := range d.Changes.Remove {
			delete(item, attr)
		}
		s.items[k] = item
	case store.OpCheck:
		return
	}
	s.writes++
}

func toItemKey(key store.PK) itemKey {
	pk, sk := key.Strings()
	return itemKey{pk: pk, sk: sk}
}

func clone(item store.Item) store.Item {
	out := make(store.Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}
