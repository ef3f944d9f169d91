package store

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client is the subset of the DynamoDB API the Store uses. *dynamodb.Client satisfies it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Store is the DynamoDB Backend.
type Store struct {
	client Client
	config Config
}

var _ Backend = (*Store)(nil)

// New creates a new Store instance.
func New(client Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// TableName returns the table the store writes to.
func (s *Store) TableName() string {
	return s.config.TableName
}

// Get retrieves an item by key, returning ErrNotFound if missing.
func (s *Store) Get(ctx context.Context, key PK) (Item, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TableName),
		Key:            key,
		ConsistentRead: aws.Bool(s.config.ConsistentRead),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	return Item(result.Item), nil
}

// Write applies one conditional directive.
func (s *Store) Write(ctx context.Context, d Directive) error {
	if err := d.validate(); err != nil {
		return err
	}

	var err error
	b := newExprBuilder()
	switch d.Op {
	case OpPut:
		input := &dynamodb.PutItemInput{
			TableName: aws.String(s.config.TableName),
			Item:      d.Item,
		}
		if cond := b.condition(d.Cond); cond != "" {
			input.ConditionExpression = aws.String(cond)
		}
		input.ExpressionAttributeNames = b.attrNames()
		input.ExpressionAttributeValues = b.attrValues()
		_, err = s.client.PutItem(ctx, input)

	case OpUpdate:
		input := &dynamodb.UpdateItemInput{
			TableName:        aws.String(s.config.TableName),
			Key:              d.Key,
			UpdateExpression: aws.String(b.update(d.Changes)),
		}
		if cond := b.condition(d.Cond); cond != "" {
			input.ConditionExpression = aws.String(cond)
		}
		input.ExpressionAttributeNames = b.attrNames()
		input.ExpressionAttributeValues = b.attrValues()
		_, err = s.client.UpdateItem(ctx, input)

	case OpDelete:
		input := &dynamodb.DeleteItemInput{
			TableName: aws.String(s.config.TableName),
			Key:       d.Key,
		}
		if cond := b.condition(d.Cond); cond != "" {
			input.ConditionExpression = aws.String(cond)
		}
		input.ExpressionAttributeNames = b.attrNames()
		input.ExpressionAttributeValues = b.attrValues()
		_, err = s.client.DeleteItem(ctx, input)

	case OpCheck:
		// A lone check is a transaction of one.
		return s.TransactWrite(ctx, d)
	}

	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrPreconditionFailed
		}
		return err
	}
	return nil
}

// Query returns a lazy sequence over all matching items, paging as it goes.
func (s *Store) Query(ctx context.Context, q Query) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		input, err := s.queryInput(q)
		if err != nil {
			yield(nil, err)
			return
		}

		paginator := dynamodb.NewQueryPaginator(s.client, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, raw := range page.Items {
				if !yield(Item(raw), nil) {
					return
				}
			}
		}
	}
}

// QueryPage returns a single page of results.
func (s *Store) QueryPage(ctx context.Context, q Query) (Page, error) {
	input, err := s.queryInput(q)
	if err != nil {
		return Page{}, err
	}

	result, err := s.client.Query(ctx, input)
	if err != nil {
		return Page{}, err
	}

	page := Page{Items: make([]Item, 0, len(result.Items))}
	for _, raw := range result.Items {
		page.Items = append(page.Items, Item(raw))
	}
	if page.Cursor, err = EncodeCursor(result.LastEvaluatedKey); err != nil {
		return Page{}, fmt.Errorf("encode cursor: %w", err)
	}
	return page, nil
}

func (s *Store) queryInput(q Query) (*dynamodb.QueryInput, error) {
	if q.PartitionAttr == "" || q.Partition == "" {
		return nil, fmt.Errorf("denorm: query has no partition")
	}

	b := newExprBuilder()
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.config.TableName),
		KeyConditionExpression: aws.String(b.keyCondition(q)),
		ScanIndexForward:       aws.Bool(!q.Descending),
	}
	if filter := b.filter(q.Filter); filter != "" {
		input.FilterExpression = aws.String(filter)
	}
	input.ExpressionAttributeNames = b.attrNames()
	input.ExpressionAttributeValues = b.attrValues()

	if q.Index != "" {
		input.IndexName = aws.String(q.Index)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = s.config.PageSize
	}
	input.Limit = aws.Int32(limit)

	startKey, err := DecodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	if startKey != nil {
		input.ExclusiveStartKey = startKey
	}
	return input, nil
}

// TransactWrite submits every directive as one all-or-nothing transaction.
func (s *Store) TransactWrite(ctx context.Context, ds ...Directive) error {
	if err := ValidateTransaction(ds); err != nil {
		return err
	}

	items := make([]types.TransactWriteItem, 0, len(ds))
	for _, d := range ds {
		items = append(items, s.transactItem(d))
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	return mapTransactionError(err, ds)
}

// transactItem compiles one directive. Every item gets its own placeholder namespace.
func (s *Store) transactItem(d Directive) types.TransactWriteItem {
	b := newExprBuilder()
	table := aws.String(s.config.TableName)

	var cond *string
	if c := b.condition(d.Cond); c != "" {
		cond = aws.String(c)
	}

	switch d.Op {
	case OpPut:
		return types.TransactWriteItem{Put: &types.Put{
			TableName:                 table,
			Item:                      d.Item,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}}
	case OpUpdate:
		update := b.update(d.Changes)
		return types.TransactWriteItem{Update: &types.Update{
			TableName:                 table,
			Key:                       d.Key,
			UpdateExpression:          aws.String(update),
			ConditionExpression:       cond,
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}}
	case OpDelete:
		return types.TransactWriteItem{Delete: &types.Delete{
			TableName:                 table,
			Key:                       d.Key,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}}
	default:
		return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
			TableName:                 table,
			Key:                       d.Key,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  b.attrNames(),
			ExpressionAttributeValues: b.attrValues(),
		}}
	}
}

// mapTransactionError turns a cancelled transaction into a TransactionError naming the
// first directive whose cancellation reason is not "None".
func mapTransactionError(err error, ds []Directive) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code == nil || *reason.Code == "None" {
				continue
			}
			label := ""
			if i < len(ds) {
				label = ds[i].Label
			}
			return &TransactionError{Index: i, Label: label, Reason: *reason.Code}
		}
		return &TransactionError{Index: -1, Reason: aws.ToString(txErr.Message)}
	}

	return err
}
