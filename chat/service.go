// Package chat persists chat messages together with the chat's activity
// fields and notifies members of every message change.
//
// Each message change and its chat update commit in one transaction, so a
// message never exists without the chat reflecting it. Member notification
// follows the commit and never fails the change.
package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/internal/metrics"
	"github.com/realapp/denorm/notify"
	"github.com/realapp/denorm/store"
)

// ErrNotAuthor is returned when a user changes a message they did not write.
var ErrNotAuthor = errors.New("denorm: not the message author")

// Notification events.
const (
	EventMessageAdded   = "chatMessageAdded"
	EventMessageEdited  = "chatMessageEdited"
	EventMessageDeleted = "chatMessageDeleted"
)

// Dispatcher delivers a notification to chat members.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notify.Notification, members iter.Seq2[string, error], also ...string) notify.Report
}

// Service applies message changes.
type Service struct {
	store      *Store
	dispatcher Dispatcher
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a Service.
func NewService(s *Store, dispatcher Dispatcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      s,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Store returns the chat store the service writes to.
func (s *Service) Store() *Store {
	return s.store
}

// AddMessage writes a message by userID and bumps the chat's activity and count.
// also lists members to notify even if membership enumeration lags behind.
func (s *Service) AddMessage(ctx context.Context, chatID, userID, text string, tags []TextTag, also ...string) (*Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("add message: empty author")
	}
	return s.add(ctx, chatID, userID, text, tags, also)
}

// AddSystemMessage writes a message with no author. Every member is notified.
func (s *Service) AddSystemMessage(ctx context.Context, chatID, text string, also ...string) (*Message, error) {
	return s.add(ctx, chatID, "", text, nil, also)
}

func (s *Service) add(ctx context.Context, chatID, userID, text string, tags []TextTag, also []string) (*Message, error) {
	m := Message{
		MessageID: s.newID(),
		ChatID:    chatID,
		UserID:    userID,
		Text:      text,
		TextTags:  tags,
		CreatedAt: keys.Timestamp(s.now()),
	}
	item, err := messageItem(m)
	if err != nil {
		return nil, err
	}

	err = s.store.backend.TransactWrite(ctx,
		store.Put("message", item, store.IfNotExists()),
		store.Update("chat", store.Key(keys.Chat(chatID)), store.Changes{
			Set: map[string]types.AttributeValue{FieldLastMessageActivityAt: store.String(m.CreatedAt)},
			Add: map[string]int64{FieldMessagesCount: 1},
		}, store.IfExists()),
	)
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}

	s.notify(ctx, EventMessageAdded, m, also)
	return &m, nil
}

// EditMessage replaces the text of a message. Only its author may edit it.
func (s *Service) EditMessage(ctx context.Context, messageID, userID, text string, tags []TextTag) (*Message, error) {
	m, err := s.authored(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}

	at := keys.Timestamp(s.now())
	changes := store.Changes{Set: map[string]types.AttributeValue{
		"text":         store.String(text),
		"lastEditedAt": store.String(at),
	}}
	if len(tags) > 0 {
		av, err := attributevalue.Marshal(tags)
		if err != nil {
			return nil, fmt.Errorf("encode text tags: %w", err)
		}
		changes.Set["textTags"] = av
	} else {
		changes.Remove = []string{"textTags"}
	}

	err = s.store.backend.TransactWrite(ctx,
		store.Update("message", m.Key(), changes, store.IfExists()),
		touchChat(m.ChatID, at),
	)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	m.Text, m.TextTags, m.LastEditedAt = text, tags, at
	s.notify(ctx, EventMessageEdited, *m, nil)
	return m, nil
}

// DeleteMessage removes a message. Only its author may delete it.
func (s *Service) DeleteMessage(ctx context.Context, messageID, userID string) error {
	m, err := s.authored(ctx, messageID, userID)
	if err != nil {
		return err
	}

	at := keys.Timestamp(s.now())
	err = s.store.backend.TransactWrite(ctx,
		store.Delete("message", m.Key(), store.IfExists()),
		uncountChat(m.ChatID, at),
	)
	var txErr *store.TransactionError
	if errors.As(err, &txErr) && txErr.Index == 1 && errors.Is(err, store.ErrPreconditionFailed) {
		// The count is already at zero, or the chat is gone and the retry fails too.
		s.logger.Warn("failed to decrement counter below zero",
			"entity", "chat/"+m.ChatID,
			"field", FieldMessagesCount,
		)
		metrics.CounterFloorReached.WithLabelValues(string(keys.KindChat), FieldMessagesCount).Inc()
		err = s.store.backend.TransactWrite(ctx,
			store.Delete("message", m.Key(), store.IfExists()),
			touchChat(m.ChatID, at),
		)
	}
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	s.notify(ctx, EventMessageDeleted, *m, nil)
	return nil
}

func (s *Service) authored(ctx context.Context, messageID, userID string) (*Message, error) {
	m, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.UserID == "" || m.UserID != userID {
		return nil, ErrNotAuthor
	}
	return m, nil
}

func touchChat(chatID, at string) store.Directive {
	return store.Update("chat", store.Key(keys.Chat(chatID)), store.Changes{
		Set: map[string]types.AttributeValue{FieldLastMessageActivityAt: store.String(at)},
	}, store.IfExists())
}

// uncountChat touches the chat and takes one message off its count, guarded at zero.
func uncountChat(chatID, at string) store.Directive {
	d := touchChat(chatID, at)
	d.Changes.Add = map[string]int64{FieldMessagesCount: -1}
	d.Cond = store.IfAtLeast(FieldMessagesCount, 1)
	return d
}

func (s *Service) notify(ctx context.Context, event string, m Message, also []string) {
	n := notify.Notification{
		Event:    event,
		AuthorID: m.UserID,
		Payload: map[string]any{
			"chatId":    m.ChatID,
			"messageId": m.MessageID,
		},
	}
	report := s.dispatcher.Dispatch(ctx, n, s.store.Members(ctx, m.ChatID), also...)
	if err := report.Err(); err != nil {
		s.logger.Warn("chat notification incomplete",
			"event", event,
			"messageId", m.MessageID,
			"sent", len(report.Sent),
			"failed", len(report.Failed),
			"error", err,
		)
	}
}
