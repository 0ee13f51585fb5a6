package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"guildchat/internal/app/pipeline"
	"guildchat/internal/domain/chat"
)

// ConversationStore is the in-memory implementation used by the default run
// mode and tests.
type ConversationStore struct {
	mu     sync.RWMutex
	items  map[string]*chat.Conversation
	direct map[string]string
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		items:  make(map[string]*chat.Conversation),
		direct: make(map[string]string),
	}
}

func (s *ConversationStore) ByID(ctx context.Context, id string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.items[id]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	return cloneConversation(conv), nil
}

func (s *ConversationStore) FindDirectBetween(ctx context.Context, userA, userB string) (*chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.direct[chat.DirectKey(userA, userB)]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	return cloneConversation(s.items[id]), nil
}

func (s *ConversationStore) Create(ctx context.Context, conv *chat.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv.Type == chat.TypeDirect {
		ids := conv.ParticipantIDs()
		key := chat.DirectKey(ids[0], ids[1])
		if _, ok := s.direct[key]; ok {
			return pipeline.ErrDirectExists
		}
		s.direct[key] = conv.ID
	}
	s.items[conv.ID] = cloneConversation(conv)
	return nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID string, page, limit int) ([]*chat.Conversation, error) {
	s.mu.RLock()
	matches := make([]*chat.Conversation, 0)
	for _, conv := range s.items {
		if conv.Active && conv.HasParticipant(userID) {
			matches = append(matches, cloneConversation(conv))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].LastActivity().After(matches[j].LastActivity())
	})
	start := (page - 1) * limit
	if start >= len(matches) {
		return []*chat.Conversation{}, nil
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	return matches[start:end], nil
}

func (s *ConversationStore) Participants(ctx context.Context, conversationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.items[conversationID]
	if !ok {
		return nil, chat.ErrConversationNotFound
	}
	return conv.ParticipantIDs(), nil
}

func (s *ConversationStore) UpdateLastMessage(ctx context.Context, conversationID string, summary chat.MessageSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.items[conversationID]
	if !ok {
		return chat.ErrConversationNotFound
	}
	if conv.LastMessage != nil && conv.LastMessage.SentAt.After(summary.SentAt) {
		// a newer send already won
		return nil
	}
	sum := summary
	conv.LastMessage = &sum
	conv.Version++
	return nil
}

func (s *ConversationStore) ReplaceLastMessage(ctx context.Context, conversationID string, summary *chat.MessageSummary, expectVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.items[conversationID]
	if !ok {
		return chat.ErrConversationNotFound
	}
	if conv.Version != expectVersion {
		return pipeline.ErrVersionConflict
	}
	if summary == nil {
		conv.LastMessage = nil
	} else {
		sum := *summary
		conv.LastMessage = &sum
	}
	conv.Version++
	return nil
}

func (s *ConversationStore) Deactivate(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.items[conversationID]
	if !ok {
		return chat.ErrConversationNotFound
	}
	conv.Deactivate()
	return nil
}

// MessageStore keeps the message log in memory, ordered per conversation by
// append order.
type MessageStore struct {
	mu     sync.RWMutex
	items  map[string]*chat.Message
	byConv map[string][]string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{
		items:  make(map[string]*chat.Message),
		byConv: make(map[string][]string),
	}
}

// Append assigns the canonical identifier and persists the message.
func (s *MessageStore) Append(ctx context.Context, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = uuid.NewString()
	s.items[msg.ID] = cloneMessage(msg)
	s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], msg.ID)
	return nil
}

func (s *MessageStore) ByID(ctx context.Context, id string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.items[id]
	if !ok {
		return nil, chat.ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (s *MessageStore) Update(ctx context.Context, msg *chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[msg.ID]; !ok {
		return chat.ErrMessageNotFound
	}
	s.items[msg.ID] = cloneMessage(msg)
	return nil
}

func (s *MessageStore) List(ctx context.Context, conversationID string, limit int, beforeID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := s.byConv[conversationID]
	end := len(order)
	if beforeID != "" {
		for i, id := range order {
			if id == beforeID {
				end = i
				break
			}
		}
	}
	out := make([]chat.Message, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *cloneMessage(s.items[order[i]]))
	}
	return out, nil
}

func (s *MessageStore) LatestVisible(ctx context.Context, conversationID string) (*chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order := s.byConv[conversationID]
	for i := len(order) - 1; i >= 0; i-- {
		msg := s.items[order[i]]
		if msg.Tombstoned || msg.HiddenFor(msg.SenderID) {
			continue
		}
		return cloneMessage(msg), nil
	}
	return nil, nil
}

func cloneConversation(conv *chat.Conversation) *chat.Conversation {
	out := *conv
	out.Participants = append([]chat.Participant(nil), conv.Participants...)
	if conv.LastMessage != nil {
		sum := *conv.LastMessage
		out.LastMessage = &sum
	}
	return &out
}

func cloneMessage(msg *chat.Message) *chat.Message {
	out := *msg
	out.Content.Attachments = append([]chat.Attachment(nil), msg.Content.Attachments...)
	out.Reads = append([]chat.ReadReceipt(nil), msg.Reads...)
	out.HiddenBy = append([]string(nil), msg.HiddenBy...)
	return &out
}

var (
	_ pipeline.ConversationStore = (*ConversationStore)(nil)
	_ pipeline.MessageStore      = (*MessageStore)(nil)
)
