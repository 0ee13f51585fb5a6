package realtime

import (
	"time"

	"guildchat/internal/app/dto"
)

// Event types pushed over the per-session stream.
const (
	EventMessageNew      = "message:new"
	EventMessageDeleted  = "message:deleted"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventPresenceChanged = "presence:changed"
	EventConversationNew = "conversation:new"
)

// Event is the wire envelope for one server-to-client push. Alert is decided
// per recipient by the notification router.
type Event struct {
	Type           string            `json:"type"`
	Alert          bool              `json:"alert,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	UserID         string            `json:"user_id,omitempty"`
	MessageID      string            `json:"message_id,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	Online         *bool             `json:"online,omitempty"`
	LastActiveAt   *time.Time        `json:"last_active_at,omitempty"`
	Message        *dto.ChatMessage  `json:"message,omitempty"`
	Conversation   *dto.Conversation `json:"conversation,omitempty"`
}

func NewMessageEvent(msg dto.ChatMessage) Event {
	return Event{
		Type:           EventMessageNew,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Message:        &msg,
	}
}

func MessageDeletedEvent(conversationID, messageID, mode string) Event {
	return Event{
		Type:           EventMessageDeleted,
		ConversationID: conversationID,
		MessageID:      messageID,
		Mode:           mode,
	}
}

func TypingEvent(start bool, conversationID, userID string) Event {
	typ := EventTypingStop
	if start {
		typ = EventTypingStart
	}
	return Event{Type: typ, ConversationID: conversationID, UserID: userID}
}

func PresenceEvent(userID string, online bool, lastActiveAt time.Time) Event {
	evt := Event{Type: EventPresenceChanged, UserID: userID, Online: &online}
	if !lastActiveAt.IsZero() {
		at := lastActiveAt
		evt.LastActiveAt = &at
	}
	return evt
}

func ConversationEvent(conv dto.Conversation) Event {
	return Event{
		Type:           EventConversationNew,
		ConversationID: conv.ID,
		Conversation:   &conv,
	}
}
