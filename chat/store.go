package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/store"
)

// Chat fields maintained by message changes.
const (
	FieldLastMessageActivityAt = "lastMessageActivityAt"
	FieldMessagesCount         = "messagesCount"
)

// Chat is a conversation between members.
type Chat struct {
	ChatID                string `dynamodbav:"chatId"`
	CreatedAt             string `dynamodbav:"createdAt"`
	LastMessageActivityAt string `dynamodbav:"lastMessageActivityAt,omitempty"`
	MessagesCount         int64  `dynamodbav:"messagesCount,omitempty"`
}

// Member is one user's membership of a chat.
type Member struct {
	ChatID   string `dynamodbav:"chatId"`
	UserID   string `dynamodbav:"userId"`
	JoinedAt string `dynamodbav:"joinedAt"`
}

// TextTag is a user mention inside message text.
type TextTag struct {
	Tag    string `dynamodbav:"tag"`
	UserID string `dynamodbav:"userId"`
}

// Message is a chat message. UserID is empty for system messages.
type Message struct {
	MessageID    string    `dynamodbav:"messageId"`
	ChatID       string    `dynamodbav:"chatId"`
	UserID       string    `dynamodbav:"userId,omitempty"`
	Text         string    `dynamodbav:"text"`
	TextTags     []TextTag `dynamodbav:"textTags,omitempty"`
	CreatedAt    string    `dynamodbav:"createdAt"`
	LastEditedAt string    `dynamodbav:"lastEditedAt,omitempty"`
}

// Key returns the message's primary key.
func (m Message) Key() store.PK {
	return store.Key(keys.ChatMessage(m.MessageID))
}

type chatRecord struct {
	Chat
	PartitionKey string `dynamodbav:"partitionKey"`
	SortKey      string `dynamodbav:"sortKey"`
}

type memberRecord struct {
	Member
	PartitionKey string `dynamodbav:"partitionKey"`
	SortKey      string `dynamodbav:"sortKey"`
}

type messageRecord struct {
	Message
	PartitionKey      string `dynamodbav:"partitionKey"`
	SortKey           string `dynamodbav:"sortKey"`
	GSIA1PartitionKey string `dynamodbav:"gsiA1PartitionKey"`
	GSIA1SortKey      string `dynamodbav:"gsiA1SortKey"`
}

// Store holds chats, memberships and messages.
type Store struct {
	backend store.Backend
	now     func() time.Time
}

// NewStore creates a chat Store.
func NewStore(backend store.Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// Create writes a chat and its initial members in one transaction. It fails with
// store.ErrAlreadyExists if the chat id is taken.
func (s *Store) Create(ctx context.Context, chatID string, memberIDs ...string) (*Chat, error) {
	if len(memberIDs) >= store.MaxTransactItems {
		return nil, fmt.Errorf("%w: %d members", store.ErrInvalidTransaction, len(memberIDs))
	}
	at := keys.Timestamp(s.now())
	c := Chat{ChatID: chatID, CreatedAt: at}
	pk, sk := keys.Chat(chatID)
	item, err := store.Marshal(chatRecord{Chat: c, PartitionKey: pk, SortKey: sk})
	if err != nil {
		return nil, fmt.Errorf("encode chat: %w", err)
	}

	ds := []store.Directive{store.Put("chat", item, store.IfNotExists())}
	for _, userID := range memberIDs {
		d, err := memberDirective(chatID, userID, at)
		if err != nil {
			return nil, err
		}
		ds = append(ds, d)
	}

	err = s.backend.TransactWrite(ctx, ds...)
	var txErr *store.TransactionError
	if errors.As(err, &txErr) && txErr.Index == 0 && errors.Is(err, store.ErrPreconditionFailed) {
		return nil, store.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &c, nil
}

func memberDirective(chatID, userID, at string) (store.Directive, error) {
	pk, sk := keys.ChatMember(chatID, userID)
	item, err := store.Marshal(memberRecord{
		Member:       Member{ChatID: chatID, UserID: userID, JoinedAt: at},
		PartitionKey: pk,
		SortKey:      sk,
	})
	if err != nil {
		return store.Directive{}, fmt.Errorf("encode member: %w", err)
	}
	return store.Put("member "+userID, item, store.IfNotExists()), nil
}

// AddMember adds userID to an existing chat.
func (s *Store) AddMember(ctx context.Context, chatID, userID string) error {
	d, err := memberDirective(chatID, userID, keys.Timestamp(s.now()))
	if err != nil {
		return err
	}
	err = s.backend.TransactWrite(ctx,
		store.Check("chat", store.Key(keys.Chat(chatID)), store.IfExists()),
		d,
	)
	var txErr *store.TransactionError
	if errors.As(err, &txErr) && errors.Is(err, store.ErrPreconditionFailed) {
		if txErr.Index == 0 {
			return store.ErrNotFound
		}
		return store.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// Get returns the chat, or store.ErrNotFound.
func (s *Store) Get(ctx context.Context, chatID string) (*Chat, error) {
	item, err := s.backend.Get(ctx, store.Key(keys.Chat(chatID)))
	if err != nil {
		return nil, err
	}
	c, err := store.Unmarshal[Chat](item)
	if err != nil {
		return nil, fmt.Errorf("decode chat: %w", err)
	}
	return &c, nil
}

// Members lazily enumerates the user ids of a chat's members.
func (s *Store) Members(ctx context.Context, chatID string) iter.Seq2[string, error] {
	pk, _ := keys.Chat(chatID)
	items := s.backend.Query(ctx, store.Query{
		PartitionAttr: keys.PartitionKey,
		Partition:     pk,
		SortAttr:      keys.SortKey,
		SortPrefix:    keys.ChatMemberPrefix,
	})
	return store.Decode(items, func(item store.Item) (string, error) {
		return keys.TrimPrefix(item.S(keys.SortKey), keys.ChatMemberPrefix), nil
	})
}

// GetMessage returns the message, or store.ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	item, err := s.backend.Get(ctx, store.Key(keys.ChatMessage(messageID)))
	if err != nil {
		return nil, err
	}
	m, err := store.Unmarshal[Message](item)
	if err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}

// Messages lazily enumerates a chat's messages, oldest first.
func (s *Store) Messages(ctx context.Context, chatID string) iter.Seq2[Message, error] {
	return store.Decode(s.backend.Query(ctx, store.Query{
		Index:         keys.IndexA1,
		PartitionAttr: keys.GSIA1PartitionKey,
		Partition:     keys.ChatMessages(chatID),
		SortAttr:      keys.GSIA1SortKey,
	}), store.Unmarshal[Message])
}

func messageItem(m Message) (store.Item, error) {
	pk, sk := keys.ChatMessage(m.MessageID)
	item, err := store.Marshal(messageRecord{
		Message:           m,
		PartitionKey:      pk,
		SortKey:           sk,
		GSIA1PartitionKey: keys.ChatMessages(m.ChatID),
		GSIA1SortKey:      m.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return item, nil
}
