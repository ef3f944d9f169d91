// Package store provides the single-table DynamoDB layer the denormalization core is built on.
//
// Every write is a [Directive]: a put, update, delete or condition check carrying one
// [Condition]. Directives are applied alone with [Backend.Write] or together, all or
// nothing, with [Backend.TransactWrite]. Queries return lazy, restartable iterators that
// page through the table or one of its indexes.
//
// # Backends
//
// [Store] talks to DynamoDB through the [Client] interface, which *dynamodb.Client
// satisfies. The memstore subpackage provides an in-memory [Backend] with the same
// condition and transaction semantics for tests and local runs.
//
// # Transactions
//
// A batch holds 1 to [MaxTransactItems] directives, no two targeting the same item.
// When any condition fails nothing is applied and a [*TransactionError] names the
// failing directive by index and label:
//
//	err := backend.TransactWrite(ctx,
//	    store.Update("message", msgKey, changes, store.IfExists()),
//	    store.Update("chat", chatKey, touch, store.IfExists()),
//	)
//	var txErr *store.TransactionError
//	if errors.As(err, &txErr) {
//	    // txErr.Label == "chat" when the chat is gone
//	}
//
// # Errors
//
//   - [ErrNotFound] - item doesn't exist
//   - [ErrAlreadyExists] - conditional create found the item present
//   - [ErrPreconditionFailed] - a directive condition did not hold
//   - [ErrInvalidDiscriminator] - enum-like field with an unknown value
//   - [ErrTransactionConflict] - transaction cancelled for another reason
//   - [ErrInvalidTransaction] - malformed batch
//   - [ErrInvalidCursor] - pagination cursor cannot be decoded
package store
