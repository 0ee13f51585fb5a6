package pipeline

import (
	"context"
	"errors"

	"guildchat/internal/domain/chat"
	"guildchat/internal/realtime"
)

var (
	// ErrVersionConflict signals a lost compare-and-set on the conversation's
	// last-message cache.
	ErrVersionConflict = errors.New("pipeline: conversation version conflict")
	// ErrDirectExists signals a concurrent create of the same direct pair.
	ErrDirectExists = errors.New("pipeline: direct conversation already exists")
)

// ConversationStore is the durable record of conversations and their
// participant sets.
type ConversationStore interface {
	ByID(ctx context.Context, id string) (*chat.Conversation, error)
	FindDirectBetween(ctx context.Context, userA, userB string) (*chat.Conversation, error)
	Create(ctx context.Context, conv *chat.Conversation) error
	ListForUser(ctx context.Context, userID string, page, limit int) ([]*chat.Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)

	// UpdateLastMessage applies the summary only when it is newer than the
	// cached one, serializing concurrent sends per conversation.
	UpdateLastMessage(ctx context.Context, conversationID string, summary chat.MessageSummary) error
	// ReplaceLastMessage unconditionally swaps the cache under a version
	// check, used when a delete invalidated the cached entry.
	ReplaceLastMessage(ctx context.Context, conversationID string, summary *chat.MessageSummary, expectVersion int64) error
}

// MessageStore persists messages. Append assigns the canonical identifier.
type MessageStore interface {
	Append(ctx context.Context, msg *chat.Message) error
	ByID(ctx context.Context, id string) (*chat.Message, error)
	Update(ctx context.Context, msg *chat.Message) error
	// List returns messages newest-first, optionally before a cursor id.
	List(ctx context.Context, conversationID string, limit int, beforeID string) ([]chat.Message, error)
	// LatestVisible returns the most recent message that is neither
	// tombstoned nor hidden by its own sender; nil when the conversation has
	// none left.
	LatestVisible(ctx context.Context, conversationID string) (*chat.Message, error)
}

// Broadcaster is the slice of the connection registry the pipeline pushes
// through.
type Broadcaster interface {
	BroadcastToConversation(ctx context.Context, conversationID string, evt realtime.Event, skip ...string) error
	SendToUser(userID string, evt realtime.Event) bool
}

// EventSink records domain events for asynchronous publication.
type EventSink interface {
	Record(ctx context.Context, events ...chat.DomainEvent) error
}

// AttachmentChecker verifies that an attachment reference points at an
// already-uploaded object.
type AttachmentChecker interface {
	Check(ctx context.Context, storagePath string) error
}
