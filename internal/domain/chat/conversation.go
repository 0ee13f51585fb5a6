package chat

import (
	"errors"
	"sort"
	"strings"
	"time"
)

var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrNotParticipant       = errors.New("chat: not a conversation participant")
	ErrInvalidParticipants  = errors.New("chat: a conversation needs at least two distinct participants")
	ErrDirectParticipants   = errors.New("chat: a direct conversation has exactly two participants")
	ErrTitleOnGroupOnly     = errors.New("chat: only group conversations carry a title")
	ErrConversationInactive = errors.New("chat: conversation is inactive")
)

type ConversationType string

const (
	TypeDirect ConversationType = "direct"
	TypeGroup  ConversationType = "group"
)

// Participant binds a user to a conversation with the moment they joined.
type Participant struct {
	UserID   string
	JoinedAt time.Time
}

// MessageSummary is the cached last-message preview on a conversation.
type MessageSummary struct {
	MessageID string
	SenderID  string
	Preview   string
	SentAt    time.Time
}

// Conversation is a chat thread shared by its participants. It is never
// hard-deleted, only deactivated.
type Conversation struct {
	ID           string
	Type         ConversationType
	Title        string
	Participants []Participant
	Active       bool
	CreatedAt    time.Time
	LastMessage  *MessageSummary
	Version      int64
}

type CreateConversationParams struct {
	ID           string
	Type         ConversationType
	Title        string
	Participants []string
	Now          time.Time
}

// NewConversation validates and builds a conversation aggregate.
func NewConversation(params CreateConversationParams) (*Conversation, error) {
	ids := normalizeUserIDs(params.Participants)
	if len(ids) < 2 {
		return nil, ErrInvalidParticipants
	}
	switch params.Type {
	case TypeDirect:
		if len(ids) != 2 {
			return nil, ErrDirectParticipants
		}
		if strings.TrimSpace(params.Title) != "" {
			return nil, ErrTitleOnGroupOnly
		}
	case TypeGroup:
	default:
		return nil, errors.New("chat: unknown conversation type")
	}
	now := params.Now.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}
	participants := make([]Participant, 0, len(ids))
	for _, id := range ids {
		participants = append(participants, Participant{UserID: id, JoinedAt: now})
	}
	return &Conversation{
		ID:           params.ID,
		Type:         params.Type,
		Title:        strings.TrimSpace(params.Title),
		Participants: participants,
		Active:       true,
		CreatedAt:    now,
		Version:      1,
	}, nil
}

// HasParticipant reports whether the user belongs to the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs returns the participant user ids in stored order.
func (c *Conversation) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// LastActivity is the ordering key for conversation lists: last message time
// when present, creation time otherwise.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage != nil && !c.LastMessage.SentAt.IsZero() {
		return c.LastMessage.SentAt
	}
	return c.CreatedAt
}

// Deactivate hides the conversation without destroying it.
func (c *Conversation) Deactivate() {
	c.Active = false
}

// DirectKey is the canonical lookup key for the unordered pair of a direct
// conversation.
func DirectKey(a, b string) string {
	pair := normalizeUserIDs([]string{a, b})
	return strings.Join(pair, "|")
}

func normalizeUserIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
