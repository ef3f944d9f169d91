package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CondKind enumerates the preconditions a directive may carry.
type CondKind int

const (
	// CondAlways applies the directive unconditionally.
	CondAlways CondKind = iota

	// CondExists requires the target item to exist.
	CondExists

	// CondNotExists requires the target item to be absent.
	CondNotExists

	// CondAtLeast requires the target's number attribute Attr to be >= Min.
	// An absent attribute fails the condition.
	CondAtLeast
)

// Condition is a directive precondition.
type Condition struct {
	Kind CondKind
	Attr string
	Min  int64
}

// Always is the empty condition.
var Always = Condition{}

// IfExists requires the target item to exist.
func IfExists() Condition { return Condition{Kind: CondExists} }

// IfNotExists requires the target item to be absent.
func IfNotExists() Condition { return Condition{Kind: CondNotExists} }

// IfAtLeast requires a number attribute of the target to be at least n.
func IfAtLeast(attr string, n int64) Condition {
	return Condition{Kind: CondAtLeast, Attr: attr, Min: n}
}

func (c Condition) String() string {
	switch c.Kind {
	case CondExists:
		return "exists"
	case CondNotExists:
		return "not exists"
	case CondAtLeast:
		return fmt.Sprintf("%s >= %d", c.Attr, c.Min)
	default:
		return "always"
	}
}

// Changes describes an update. Add on an absent attribute starts from 0.
type Changes struct {
	Set    map[string]types.AttributeValue
	Add    map[string]int64
	Remove []string
}

func (c Changes) empty() bool {
	return len(c.Set) == 0 && len(c.Add) == 0 && len(c.Remove) == 0
}

// Op is the kind of write a directive performs.
type Op int

const (
	OpPut Op = iota + 1
	OpUpdate
	OpDelete
	OpCheck
)

func (o Op) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCheck:
		return "check"
	default:
		return "unknown"
	}
}

// Directive is one conditional write, usable alone or as part of a transaction.
type Directive struct {
	Op Op

	// Label names the directive in transaction failures.
	Label string

	// Key targets update, delete and check directives.
	Key PK

	// Item is the full item written by a put. It must carry the table key.
	Item Item

	// Changes is the update applied by an update directive.
	Changes Changes

	Cond Condition
}

// Put writes a whole item.
func Put(label string, item Item, cond Condition) Directive {
	return Directive{Op: OpPut, Label: label, Item: item, Cond: cond}
}

// Update applies changes to the item at key.
func Update(label string, key PK, changes Changes, cond Condition) Directive {
	return Directive{Op: OpUpdate, Label: label, Key: key, Changes: changes, Cond: cond}
}

// Delete removes the item at key.
func Delete(label string, key PK, cond Condition) Directive {
	return Directive{Op: OpDelete, Label: label, Key: key, Cond: cond}
}

// Check asserts a condition on the item at key without writing it.
func Check(label string, key PK, cond Condition) Directive {
	return Directive{Op: OpCheck, Label: label, Key: key, Cond: cond}
}

// Target returns the primary key the directive writes.
func (d Directive) Target() PK {
	if d.Op == OpPut {
		return d.Item.Key()
	}
	return d.Key
}

// validate checks the directive is well formed.
func (d Directive) validate() error {
	pk, sk := d.Target().Strings()
	if pk == "" || sk == "" {
		return fmt.Errorf("%w: %s directive %q has no key", ErrInvalidTransaction, d.Op, d.Label)
	}
	switch d.Op {
	case OpPut, OpDelete, OpCheck:
	case OpUpdate:
		if d.Changes.empty() {
			return fmt.Errorf("%w: update directive %q has no changes", ErrInvalidTransaction, d.Label)
		}
	default:
		return fmt.Errorf("%w: directive %q has unknown op", ErrInvalidTransaction, d.Label)
	}
	if d.Op == OpCheck && d.Cond.Kind == CondAlways {
		return fmt.Errorf("%w: check directive %q has no condition", ErrInvalidTransaction, d.Label)
	}
	return nil
}

// ValidateTransaction rejects batches the store would refuse: empty, larger than
// MaxTransactItems, malformed, or touching one item twice.
func ValidateTransaction(ds []Directive) error {
	if len(ds) == 0 {
		return fmt.Errorf("%w: empty batch", ErrInvalidTransaction)
	}
	if len(ds) > MaxTransactItems {
		return fmt.Errorf("%w: %d directives exceeds %d", ErrInvalidTransaction, len(ds), MaxTransactItems)
	}
	seen := make(map[[2]string]int, len(ds))
	for i, d := range ds {
		if err := d.validate(); err != nil {
			return err
		}
		pk, sk := d.Target().Strings()
		if j, ok := seen[[2]string{pk, sk}]; ok {
			return fmt.Errorf("%w: directives %d and %d target the same item", ErrInvalidTransaction, j, i)
		}
		seen[[2]string{pk, sk}] = i
	}
	return nil
}
