package scylla

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"guildchat/internal/app/pipeline"
	"guildchat/internal/domain/chat"
)

const visibleScanBatch = 50

// MessageStore persists the message log in Scylla. Canonical identifiers are
// timeuuids assigned on append so the clustering order is also the send
// order.
type MessageStore struct {
	session *gocql.Session
	logger  *slog.Logger
}

func NewMessageStore(session *gocql.Session, logger *slog.Logger) *MessageStore {
	return &MessageStore{session: session, logger: logger}
}

func (s *MessageStore) Append(ctx context.Context, msg *chat.Message) error {
	if s.session == nil {
		return errors.New("scylla session not initialized")
	}
	convID, err := gocql.ParseUUID(msg.ConversationID)
	if err != nil {
		return err
	}
	id := gocql.TimeUUID()
	attachments, err := encodeAttachments(msg.Content.Attachments)
	if err != nil {
		return err
	}
	at := msg.SentAt.UTC()
	if err := s.session.
		Query(`INSERT INTO messages (conversation_id, message_id, sender_id, kind, body, attachments, sent_at, tombstoned) VALUES (?, ?, ?, ?, ?, ?, ?, false)`,
			convID, id, msg.SenderID, string(msg.Content.Kind), msg.Content.Body, attachments, at).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return err
	}
	if err := s.session.
		Query(`INSERT INTO message_index (message_id, conversation_id) VALUES (?, ?)`, id, convID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		return err
	}
	msg.ID = id.String()
	return nil
}

func (s *MessageStore) ByID(ctx context.Context, id string) (*chat.Message, error) {
	if s.session == nil {
		return nil, errors.New("scylla session not initialized")
	}
	msgID, err := gocql.ParseUUID(strings.TrimSpace(id))
	if err != nil {
		return nil, chat.ErrMessageNotFound
	}
	var convID gocql.UUID
	if err := s.session.
		Query(`SELECT conversation_id FROM message_index WHERE message_id = ? LIMIT 1`, msgID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(&convID); err != nil {
		return nil, notFound(err)
	}

	var row messageRow
	if err := s.session.
		Query(`SELECT conversation_id, message_id, sender_id, kind, body, attachments, sent_at, reads, hidden_by, tombstoned, deleted_at FROM messages WHERE conversation_id = ? AND message_id = ? LIMIT 1`,
			convID, msgID).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(row.fields()...); err != nil {
		return nil, notFound(err)
	}
	return row.toDomain()
}

func (s *MessageStore) Update(ctx context.Context, msg *chat.Message) error {
	if s.session == nil {
		return errors.New("scylla session not initialized")
	}
	convID, err := gocql.ParseUUID(msg.ConversationID)
	if err != nil {
		return err
	}
	msgID, err := gocql.ParseUUID(msg.ID)
	if err != nil {
		return err
	}
	reads := make(map[string]time.Time, len(msg.Reads))
	for _, r := range msg.Reads {
		reads[r.UserID] = r.ReadAt
	}
	var deletedAt *time.Time
	if !msg.DeletedAt.IsZero() {
		at := msg.DeletedAt.UTC()
		deletedAt = &at
	}
	return s.session.
		Query(`UPDATE messages SET reads = ?, hidden_by = ?, tombstoned = ?, deleted_at = ? WHERE conversation_id = ? AND message_id = ?`,
			reads, msg.HiddenBy, msg.Tombstoned, deletedAt, convID, msgID).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec()
}

func (s *MessageStore) List(ctx context.Context, conversationID string, limit int, beforeID string) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errors.New("scylla session not initialized")
	}
	convID, err := gocql.ParseUUID(conversationID)
	if err != nil {
		return nil, chat.ErrConversationNotFound
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var iter *gocql.Iter
	if trimmed := strings.TrimSpace(beforeID); trimmed != "" {
		before, err := gocql.ParseUUID(trimmed)
		if err != nil {
			return nil, chat.ErrMessageNotFound
		}
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, kind, body, attachments, sent_at, reads, hidden_by, tombstoned, deleted_at FROM messages WHERE conversation_id = ? AND message_id < ? ORDER BY message_id DESC LIMIT ?`,
				convID, before, limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	} else {
		iter = s.session.
			Query(`SELECT conversation_id, message_id, sender_id, kind, body, attachments, sent_at, reads, hidden_by, tombstoned, deleted_at FROM messages WHERE conversation_id = ? ORDER BY message_id DESC LIMIT ?`,
				convID, limit).
			WithContext(ctx).
			Consistency(gocql.One).
			Iter()
	}

	messages := make([]chat.Message, 0, limit)
	var row messageRow
	for iter.Scan(row.fields()...) {
		msg, err := row.toDomain()
		if err != nil {
			continue
		}
		messages = append(messages, *msg)
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *MessageStore) LatestVisible(ctx context.Context, conversationID string) (*chat.Message, error) {
	cursor := ""
	for {
		batch, err := s.List(ctx, conversationID, visibleScanBatch, cursor)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, nil
		}
		for i := range batch {
			msg := &batch[i]
			if msg.Tombstoned || msg.HiddenFor(msg.SenderID) {
				continue
			}
			return msg, nil
		}
		if len(batch) < visibleScanBatch {
			return nil, nil
		}
		cursor = batch[len(batch)-1].ID
	}
}

type messageRow struct {
	ConversationID gocql.UUID
	MessageID      gocql.UUID
	SenderID       string
	Kind           string
	Body           string
	Attachments    string
	SentAt         time.Time
	Reads          map[string]time.Time
	HiddenBy       []string
	Tombstoned     bool
	DeletedAt      *time.Time
}

func (r *messageRow) fields() []any {
	return []any{
		&r.ConversationID, &r.MessageID, &r.SenderID, &r.Kind, &r.Body,
		&r.Attachments, &r.SentAt, &r.Reads, &r.HiddenBy, &r.Tombstoned, &r.DeletedAt,
	}
}

func (r *messageRow) toDomain() (*chat.Message, error) {
	attachments, err := decodeAttachments(r.Attachments)
	if err != nil {
		return nil, err
	}
	msg := &chat.Message{
		ID:             r.MessageID.String(),
		ConversationID: r.ConversationID.String(),
		SenderID:       r.SenderID,
		Content: chat.Content{
			Kind:        chat.ContentKind(r.Kind),
			Body:        r.Body,
			Attachments: attachments,
		},
		SentAt:     r.SentAt,
		HiddenBy:   append([]string(nil), r.HiddenBy...),
		Tombstoned: r.Tombstoned,
	}
	if r.DeletedAt != nil {
		msg.DeletedAt = *r.DeletedAt
	}
	for userID, at := range r.Reads {
		msg.Reads = append(msg.Reads, chat.ReadReceipt{UserID: userID, ReadAt: at})
	}
	return msg, nil
}

func encodeAttachments(attachments []chat.Attachment) (string, error) {
	if len(attachments) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeAttachments(raw string) ([]chat.Attachment, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []chat.Attachment
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func notFound(err error) error {
	if err == gocql.ErrNotFound {
		return chat.ErrMessageNotFound
	}
	return err
}

var _ pipeline.MessageStore = (*MessageStore)(nil)
