package dto

import (
	"time"

	"guildchat/internal/domain/chat"
)

// Conversation describes chat thread metadata.
type Conversation struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title,omitempty"`
	Participants []Participant  `json:"participants"`
	Active       bool           `json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	LastMessage  *LastMessage   `json:"last_message,omitempty"`
}

// Participant pairs a user with their join time.
type Participant struct {
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// LastMessage is the cached conversation preview.
type LastMessage struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Preview   string    `json:"preview"`
	SentAt    time.Time `json:"sent_at"`
}

// ConversationList is a paginated collection.
type ConversationList struct {
	Items []Conversation `json:"items"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// Attachment references an already-uploaded object.
type Attachment struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	StoragePath string `json:"storage_path"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Kind           string        `json:"kind"`
	Body           string        `json:"body,omitempty"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	SentAt         time.Time     `json:"sent_at"`
	Reads          []ReadReceipt `json:"reads,omitempty"`
}

// ReadReceipt records a participant's read position.
type ReadReceipt struct {
	UserID string    `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// ChatMessageList is a cursor-paginated message list.
type ChatMessageList struct {
	Items      []ChatMessage `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// FromConversation maps the domain aggregate to its wire shape.
func FromConversation(conv *chat.Conversation) Conversation {
	out := Conversation{
		ID:        conv.ID,
		Type:      string(conv.Type),
		Title:     conv.Title,
		Active:    conv.Active,
		CreatedAt: conv.CreatedAt,
	}
	out.Participants = make([]Participant, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		out.Participants = append(out.Participants, Participant{UserID: p.UserID, JoinedAt: p.JoinedAt})
	}
	if conv.LastMessage != nil {
		out.LastMessage = &LastMessage{
			MessageID: conv.LastMessage.MessageID,
			SenderID:  conv.LastMessage.SenderID,
			Preview:   conv.LastMessage.Preview,
			SentAt:    conv.LastMessage.SentAt,
		}
	}
	return out
}

// FromMessage maps the domain message to its wire shape.
func FromMessage(msg *chat.Message) ChatMessage {
	out := ChatMessage{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Kind:           string(msg.Content.Kind),
		Body:           msg.Content.Body,
		SentAt:         msg.SentAt,
	}
	for _, a := range msg.Content.Attachments {
		out.Attachments = append(out.Attachments, Attachment{
			Name:        a.Name,
			Size:        a.Size,
			ContentType: a.ContentType,
			StoragePath: a.StoragePath,
		})
	}
	for _, r := range msg.Reads {
		out.Reads = append(out.Reads, ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return out
}
