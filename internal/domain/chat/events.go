package chat

import "time"

// DomainEvent is published through the outbox once the owning operation
// committed.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

type MessageSent struct {
	MessageID      string      `json:"message_id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Kind           ContentKind `json:"kind"`
	At             time.Time   `json:"at"`
}

func (e MessageSent) EventName() string     { return "chat.message.sent" }
func (e MessageSent) AggregateID() string   { return e.ConversationID }
func (e MessageSent) OccurredAt() time.Time { return e.At }

type MessageDeleted struct {
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	RequesterID    string       `json:"requester_id"`
	Mode           DeletionMode `json:"mode"`
	At             time.Time    `json:"at"`
}

func (e MessageDeleted) EventName() string     { return "chat.message.deleted" }
func (e MessageDeleted) AggregateID() string   { return e.ConversationID }
func (e MessageDeleted) OccurredAt() time.Time { return e.At }

type ConversationCreated struct {
	ConversationID string           `json:"conversation_id"`
	Type           ConversationType `json:"type"`
	Participants   []string         `json:"participants"`
	At             time.Time        `json:"at"`
}

func (e ConversationCreated) EventName() string     { return "chat.conversation.created" }
func (e ConversationCreated) AggregateID() string   { return e.ConversationID }
func (e ConversationCreated) OccurredAt() time.Time { return e.At }
