package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// MsgIDHeader lets JetStream de-duplicate redelivered publishes.
const MsgIDHeader = "Nats-Msg-Id"

// Publisher is the part of *nats.Conn the sender uses.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSender publishes notifications to the per-user subject notifications.{userId}.
type NATSSender struct {
	pub Publisher
}

// NewNATSSender creates a NATSSender.
func NewNATSSender(pub Publisher) *NATSSender {
	return &NATSSender{pub: pub}
}

// Subject is the subject a user's notifications are published on.
func Subject(userID string) string { return "notifications." + userID }

func (s *NATSSender) Channel() string { return "nats" }

// Send publishes n with a fresh message id.
func (s *NATSSender) Send(ctx context.Context, userID string, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := nats.NewMsg(Subject(userID))
	msg.Data = data
	msg.Header.Set(MsgIDHeader, uuid.NewString())

	if err := s.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	return nil
}
