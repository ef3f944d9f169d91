package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/internal/keys"
)

// exprBuilder allocates expression attribute placeholders.
type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byAttr map[string]string
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
		byAttr: make(map[string]string),
	}
}

// name returns the placeholder for an attribute name, reusing it on repeat.
func (b *exprBuilder) name(attr string) string {
	if p, ok := b.byAttr[attr]; ok {
		return p
	}
	p := fmt.Sprintf("#n%d", len(b.names))
	b.names[p] = attr
	b.byAttr[attr] = p
	return p
}

// value returns a fresh placeholder bound to v.
func (b *exprBuilder) value(v types.AttributeValue) string {
	p := fmt.Sprintf(":v%d", len(b.values))
	b.values[p] = v
	return p
}

// attrNames returns nil for an empty map; DynamoDB rejects empty maps.
func (b *exprBuilder) attrNames() map[string]string {
	if len(b.names) == 0 {
		return nil
	}
	return b.names
}

func (b *exprBuilder) attrValues() map[string]types.AttributeValue {
	if len(b.values) == 0 {
		return nil
	}
	return b.values
}

// condition compiles a Condition, returning "" for CondAlways.
func (b *exprBuilder) condition(c Condition) string {
	switch c.Kind {
	case CondExists:
		return fmt.Sprintf("attribute_exists(%s)", b.name(keys.PartitionKey))
	case CondNotExists:
		return fmt.Sprintf("attribute_not_exists(%s)", b.name(keys.PartitionKey))
	case CondAtLeast:
		return fmt.Sprintf("%s >= %s", b.name(c.Attr), b.value(Number(c.Min)))
	default:
		return ""
	}
}

// update compiles Changes into an update expression. Attributes are visited
// in sorted order so the expression is stable.
func (b *exprBuilder) update(ch Changes) string {
	var clauses []string

	if len(ch.Set) > 0 {
		var sets []string
		for _, attr := range sortedKeys(ch.Set) {
			sets = append(sets, fmt.Sprintf("%s = %s", b.name(attr), b.value(ch.Set[attr])))
		}
		clauses = append(clauses, "SET "+strings.Join(sets, ", "))
	}

	if len(ch.Add) > 0 {
		var adds []string
		for _, attr := range sortedKeys(ch.Add) {
			adds = append(adds, fmt.Sprintf("%s %s", b.name(attr), b.value(Number(ch.Add[attr]))))
		}
		clauses = append(clauses, "ADD "+strings.Join(adds, ", "))
	}

	if len(ch.Remove) > 0 {
		removes := make([]string, 0, len(ch.Remove))
		for _, attr := range ch.Remove {
			removes = append(removes, b.name(attr))
		}
		clauses = append(clauses, "REMOVE "+strings.Join(removes, ", "))
	}

	return strings.Join(clauses, " ")
}

// keyCondition compiles the key condition of a query.
func (b *exprBuilder) keyCondition(q Query) string {
	expr := fmt.Sprintf("%s = %s", b.name(q.PartitionAttr), b.value(String(q.Partition)))
	if q.SortAttr != "" && q.SortPrefix != "" {
		expr += fmt.Sprintf(" AND begins_with(%s, %s)", b.name(q.SortAttr), b.value(String(q.SortPrefix)))
	}
	return expr
}

// filter compiles equality filters, returning "" when there are none.
func (b *exprBuilder) filter(f map[string]string) string {
	if len(f) == 0 {
		return ""
	}
	var parts []string
	for _, attr := range sortedKeys(f) {
		parts = append(parts, fmt.Sprintf("%s = %s", b.name(attr), b.value(String(f[attr]))))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
