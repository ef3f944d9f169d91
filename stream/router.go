// Package stream routes DynamoDB stream records to the postprocessor for the
// entity kind they change.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/internal/metrics"
)

// Handler applies the side effects of one item change.
type Handler interface {
	Handle(ctx context.Context, e Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, e Event) error

func (f HandlerFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// Router dispatches events by entity kind. Handlers are registered at startup.
type Router struct {
	handlers map[keys.Kind]Handler
	logger   *slog.Logger
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[keys.Kind]Handler),
		logger:   logger,
	}
}

// Register binds h to kind. Registering a kind twice panics.
func (r *Router) Register(kind keys.Kind, h Handler) *Router {
	if _, ok := r.handlers[kind]; ok {
		panic(fmt.Sprintf("stream: handler already registered for kind %q", kind))
	}
	r.handlers[kind] = h
	return r
}

// Route hands e to the handler for its kind. Kinds without a handler are skipped.
func (r *Router) Route(ctx context.Context, e Event) error {
	label := string(e.Kind)
	if label == "" {
		label = "unknown"
	}

	h, ok := r.handlers[e.Kind]
	if !ok {
		metrics.StreamRecords.WithLabelValues(label, metrics.ResultSkipped).Inc()
		return nil
	}

	start := time.Now()
	err := h.Handle(ctx, e)
	metrics.StreamLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StreamRecords.WithLabelValues(label, metrics.ResultFailed).Inc()
		return err
	}
	metrics.StreamRecords.WithLabelValues(label, metrics.ResultOK).Inc()
	return nil
}

// HandleStream processes a batch of stream records in order.
// This function is designed to be used as an AWS Lambda handler with
// ReportBatchItemFailures enabled: processing stops at the first failed record,
// which is reported so redelivery resumes from it and earlier records are not
// applied again.
func (r *Router) HandleStream(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	var resp events.DynamoDBEventResponse
	for _, record := range event.Records {
		e, ok := EventFromRecord(record)
		if !ok {
			r.logger.Debug("skipping stream record", "eventID", record.EventID, "eventName", record.EventName)
			continue
		}
		if err := r.Route(ctx, e); err != nil {
			pk, sk := e.Key.Strings()
			r.logger.Error("failed to process record",
				"eventID", record.EventID,
				"sequenceNumber", record.Change.SequenceNumber,
				"kind", e.Kind,
				"op", e.Op,
				"partitionKey", pk,
				"sortKey", sk,
				"error", err,
			)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{
				ItemIdentifier: record.Change.SequenceNumber,
			})
			return resp, nil // Will retry from this record, eventually DLQ
		}
	}
	return resp, nil
}
