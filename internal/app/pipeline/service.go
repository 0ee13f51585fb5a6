package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"guildchat/internal/app/dto"
	"guildchat/internal/domain/chat"
	"guildchat/internal/realtime"
)

const lastMessageRetries = 3

// Service validates, persists and fans out messages. Broadcast, Events and
// Attachments tolerate nil for reduced wirings (tests, tooling).
type Service struct {
	Conversations ConversationStore
	Messages      MessageStore
	Broadcast     Broadcaster
	Events        EventSink
	Attachments   AttachmentChecker
	Logger        *slog.Logger
	DeleteWindow  time.Duration
	Now           func() time.Time
}

// Send persists a message and pushes it to the other participants. The
// canonical message returns on the caller's own request path; the sender is
// excluded from the broadcast because it already holds an optimistic copy.
func (s *Service) Send(ctx context.Context, conversationID, senderID string, content chat.Content) (*chat.Message, error) {
	conv, err := s.Conversations.ByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.Active {
		return nil, chat.ErrConversationInactive
	}
	if !conv.HasParticipant(senderID) {
		return nil, chat.ErrNotParticipant
	}
	if err := content.Validate(); err != nil {
		return nil, err
	}
	if s.Attachments != nil {
		for _, a := range content.Attachments {
			if err := s.Attachments.Check(ctx, a.StoragePath); err != nil {
				return nil, err
			}
		}
	}

	msg := &chat.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Content:        content,
		SentAt:         s.now(),
	}
	if err := s.Messages.Append(ctx, msg); err != nil {
		return nil, err
	}

	// best-effort: a failed cache update never fails the send
	if err := s.Conversations.UpdateLastMessage(ctx, conv.ID, msg.Summary()); err != nil && s.Logger != nil {
		s.Logger.Warn("last message cache update failed", "conversation_id", conv.ID, "error", err)
	}

	s.record(ctx, chat.MessageSent{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		SenderID:       senderID,
		Kind:           content.Kind,
		At:             msg.SentAt,
	})
	s.push(ctx, conv.ID, realtime.NewMessageEvent(dto.FromMessage(msg)), senderID)
	return msg, nil
}

// Delete applies one of the two deletion modes. Mode self hides the message
// for the requester only; mode everyone tombstones it within the window and
// removes it from every participant's view.
func (s *Service) Delete(ctx context.Context, messageID, requesterID string, mode chat.DeletionMode) error {
	msg, err := s.Messages.ByID(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := s.Conversations.ByID(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(requesterID) {
		return chat.ErrNotParticipant
	}

	switch mode {
	case chat.DeleteForSelf:
		if err := msg.HideFor(requesterID); err != nil {
			return err
		}
		if err := s.Messages.Update(ctx, msg); err != nil {
			return err
		}
		// a sender self-hiding the cached preview invalidates it for the
		// whole conversation, same as a tombstone
		if requesterID == msg.SenderID && conv.LastMessage != nil && conv.LastMessage.MessageID == msg.ID {
			s.recomputeLastMessage(ctx, conv.ID)
		}
		// narrow push: only the requester's own session converges, other
		// participants keep the message
		if s.Broadcast != nil {
			s.Broadcast.SendToUser(requesterID, realtime.MessageDeletedEvent(conv.ID, msg.ID, string(chat.DeleteForSelf)))
		}
	case chat.DeleteForEveryone:
		if err := msg.Tombstone(requesterID, s.now(), s.deleteWindow()); err != nil {
			return err
		}
		if err := s.Messages.Update(ctx, msg); err != nil {
			return err
		}
		if conv.LastMessage != nil && conv.LastMessage.MessageID == msg.ID {
			s.recomputeLastMessage(ctx, conv.ID)
		}
		s.push(ctx, conv.ID, realtime.MessageDeletedEvent(conv.ID, msg.ID, string(chat.DeleteForEveryone)))
	default:
		return chat.ErrUnknownDeletionMode
	}

	s.record(ctx, chat.MessageDeleted{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		RequesterID:    requesterID,
		Mode:           mode,
		At:             s.now(),
	})
	return nil
}

// ListMessages returns the requester's view of the history, newest-first,
// with tombstones and self-deleted entries filtered out.
func (s *Service) ListMessages(ctx context.Context, conversationID, requesterID string, limit int, beforeID string) ([]chat.Message, string, error) {
	conv, err := s.Conversations.ByID(ctx, conversationID)
	if err != nil {
		return nil, "", err
	}
	if !conv.HasParticipant(requesterID) {
		return nil, "", chat.ErrNotParticipant
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	raw, err := s.Messages.List(ctx, conversationID, limit, beforeID)
	if err != nil {
		return nil, "", err
	}
	visible := make([]chat.Message, 0, len(raw))
	for _, msg := range raw {
		if msg.VisibleTo(requesterID) {
			visible = append(visible, msg)
		}
	}
	next := ""
	if len(raw) == limit {
		next = raw[len(raw)-1].ID
	}
	return visible, next, nil
}

// MarkRead upserts the user's read receipt on the given message, defaulting
// to the conversation's latest one.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID, messageID string) (time.Time, error) {
	conv, err := s.Conversations.ByID(ctx, conversationID)
	if err != nil {
		return time.Time{}, err
	}
	if !conv.HasParticipant(userID) {
		return time.Time{}, chat.ErrNotParticipant
	}
	if messageID == "" {
		if conv.LastMessage == nil {
			return time.Time{}, nil
		}
		messageID = conv.LastMessage.MessageID
	}
	msg, err := s.Messages.ByID(ctx, messageID)
	if err != nil {
		return time.Time{}, err
	}
	if msg.ConversationID != conv.ID {
		return time.Time{}, chat.ErrMessageNotFound
	}
	at := s.now()
	msg.MarkRead(userID, at)
	if err := s.Messages.Update(ctx, msg); err != nil {
		return time.Time{}, err
	}
	return at, nil
}

// CreateConversation starts a thread. For direct conversations the existing
// one between the pair returns instead of a duplicate; the second result
// reports whether a conversation was actually created.
func (s *Service) CreateConversation(ctx context.Context, creatorID string, participantIDs []string, typ chat.ConversationType, title string) (*chat.Conversation, bool, error) {
	ids := append([]string{creatorID}, participantIDs...)
	if typ == chat.TypeDirect {
		if conv, err := s.findDirect(ctx, ids); err != nil {
			return nil, false, err
		} else if conv != nil {
			return conv, false, nil
		}
	}
	conv, err := chat.NewConversation(chat.CreateConversationParams{
		ID:           uuid.NewString(),
		Type:         typ,
		Title:        title,
		Participants: ids,
		Now:          s.now(),
	})
	if err != nil {
		return nil, false, err
	}
	if err := s.Conversations.Create(ctx, conv); err != nil {
		if errors.Is(err, ErrDirectExists) {
			// lost the race; the winner's conversation is the one
			if existing, ferr := s.findDirect(ctx, ids); ferr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	s.record(ctx, chat.ConversationCreated{
		ConversationID: conv.ID,
		Type:           conv.Type,
		Participants:   conv.ParticipantIDs(),
		At:             conv.CreatedAt,
	})
	s.push(ctx, conv.ID, realtime.ConversationEvent(dto.FromConversation(conv)), creatorID)
	return conv, true, nil
}

// ListConversations pages a user's conversations by last activity.
func (s *Service) ListConversations(ctx context.Context, userID string, page, limit int) ([]*chat.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}
	return s.Conversations.ListForUser(ctx, userID, page, limit)
}

// IsParticipant gates fire-and-forget signals (typing) without loading the
// full aggregate at the call site.
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) bool {
	conv, err := s.Conversations.ByID(ctx, conversationID)
	if err != nil {
		return false
	}
	return conv.HasParticipant(userID)
}

func (s *Service) findDirect(ctx context.Context, ids []string) (*chat.Conversation, error) {
	distinct := make([]string, 0, 2)
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}
	if len(distinct) != 2 {
		return nil, chat.ErrDirectParticipants
	}
	conv, err := s.Conversations.FindDirectBetween(ctx, distinct[0], distinct[1])
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return conv, nil
}

// recomputeLastMessage swaps the cache to the most recent still-visible
// message under a version check, retrying a bounded number of times against
// concurrent sends.
func (s *Service) recomputeLastMessage(ctx context.Context, conversationID string) {
	for attempt := 0; attempt < lastMessageRetries; attempt++ {
		conv, err := s.Conversations.ByID(ctx, conversationID)
		if err != nil {
			break
		}
		latest, err := s.Messages.LatestVisible(ctx, conversationID)
		if err != nil {
			break
		}
		var summary *chat.MessageSummary
		if latest != nil {
			sum := latest.Summary()
			summary = &sum
		}
		err = s.Conversations.ReplaceLastMessage(ctx, conversationID, summary, conv.Version)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrVersionConflict) {
			break
		}
	}
	if s.Logger != nil {
		s.Logger.Warn("last message recompute failed", "conversation_id", conversationID)
	}
}

func (s *Service) push(ctx context.Context, conversationID string, evt realtime.Event, skip ...string) {
	if s.Broadcast == nil {
		return
	}
	if err := s.Broadcast.BroadcastToConversation(ctx, conversationID, evt, skip...); err != nil && s.Logger != nil {
		s.Logger.Warn("broadcast failed", "conversation_id", conversationID, "type", evt.Type, "error", err)
	}
}

func (s *Service) record(ctx context.Context, events ...chat.DomainEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Record(ctx, events...); err != nil && s.Logger != nil {
		s.Logger.Warn("event record failed", "error", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) deleteWindow() time.Duration {
	if s.DeleteWindow > 0 {
		return s.DeleteWindow
	}
	return chat.DeleteEveryoneWindow
}
