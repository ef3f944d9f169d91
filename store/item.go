package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"iter"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/realapp/denorm/internal/keys"
)

// PK represents a DynamoDB primary key.
type PK map[string]types.AttributeValue

// Key builds a table primary key.
func Key(pk, sk string) PK {
	return PK{
		keys.PartitionKey: &types.AttributeValueMemberS{Value: pk},
		keys.SortKey:      &types.AttributeValueMemberS{Value: sk},
	}
}

// Strings returns the partition and sort key values.
func (k PK) Strings() (pk, sk string) {
	return stringAttr(k, keys.PartitionKey), stringAttr(k, keys.SortKey)
}

// Item is a raw DynamoDB item.
type Item map[string]types.AttributeValue

// Key extracts the table primary key of the item.
func (i Item) Key() PK {
	pk, sk := i.S(keys.PartitionKey), i.S(keys.SortKey)
	return Key(pk, sk)
}

// S returns a string attribute, or "" when absent or of another type.
func (i Item) S(attr string) string {
	return stringAttr(i, attr)
}

// N returns a number attribute as int64. Absent attributes read as 0.
func (i Item) N(attr string) int64 {
	if v, ok := i[attr].(*types.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(v.Value, 10, 64)
		return n
	}
	return 0
}

// Has reports whether the attribute is present.
func (i Item) Has(attr string) bool {
	_, ok := i[attr]
	return ok
}

func stringAttr(m map[string]types.AttributeValue, attr string) string {
	if v, ok := m[attr].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// String is shorthand for a string attribute value.
func String(s string) types.AttributeValue { return &types.AttributeValueMemberS{Value: s} }

// Number is shorthand for a number attribute value.
func Number(n int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// Query selects items from one partition of the table or one of its indexes.
type Query struct {
	// Index is the optional GSI to query.
	Index string

	// PartitionAttr and Partition select the partition.
	PartitionAttr string
	Partition     string

	// SortAttr and SortPrefix optionally restrict the sort key with begins_with.
	SortAttr   string
	SortPrefix string

	// Filter is an optional set of string equality filters applied after the key condition.
	Filter map[string]string

	// Descending reverses sort order.
	Descending bool

	// Limit is the page size (0 = Config.PageSize).
	Limit int32

	// Cursor resumes after the last item of a previous page.
	Cursor string
}

// Page is one page of query results.
type Page struct {
	Items []Item

	// Cursor is empty when the query is exhausted.
	Cursor string
}

// Backend is the key-value transactional store the domain packages are written against.
type Backend interface {
	// Get returns the item at key, or ErrNotFound.
	Get(ctx context.Context, key PK) (Item, error)

	// Write applies a single conditional directive. A failed condition returns ErrPreconditionFailed.
	Write(ctx context.Context, d Directive) error

	// Query returns a lazy sequence over every matching item. Ranging over it again re-runs the query.
	Query(ctx context.Context, q Query) iter.Seq2[Item, error]

	// QueryPage returns a single page of matching items.
	QueryPage(ctx context.Context, q Query) (Page, error)

	// TransactWrite applies every directive or none of them.
	TransactWrite(ctx context.Context, ds ...Directive) error
}

// EncodeCursor turns a last-evaluated key into an opaque cursor.
func EncodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	var flat map[string]string
	if err := attributevalue.UnmarshalMap(key, &flat); err != nil {
		return "", err
	}
	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor reverses EncodeCursor.
func DecodeCursor(cursor string) (PK, error) {
	if cursor == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, ErrInvalidCursor
	}
	key, err := attributevalue.MarshalMap(flat)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return key, nil
}

// Marshal encodes a dynamodbav-tagged struct as an item.
func Marshal(v any) (Item, error) {
	m, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, err
	}
	return Item(m), nil
}

// Unmarshal decodes an item into a dynamodbav-tagged struct.
func Unmarshal[T any](item Item) (T, error) {
	var v T
	err := attributevalue.UnmarshalMap(item, &v)
	return v, err
}

// Decode maps a sequence of items through decode, stopping at the first error.
func Decode[T any](seq iter.Seq2[Item, error], decode func(Item) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for item, err := range seq {
			if err != nil {
				yield(zero, err)
				return
			}
			v, err := decode(item)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}
