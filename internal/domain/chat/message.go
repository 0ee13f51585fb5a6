package chat

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrMessageNotFound     = errors.New("chat: message not found")
	ErrEmptyContent        = errors.New("chat: message content is empty")
	ErrNotOriginalSender   = errors.New("chat: only the sender can delete for everyone")
	ErrDeleteWindowExpired = errors.New("chat: delete-for-everyone window expired")
	ErrAlreadyDeleted      = errors.New("chat: message already deleted in that mode")
	ErrUnknownDeletionMode = errors.New("chat: unknown deletion mode")
	ErrInvalidAttachment   = errors.New("chat: attachment requires a storage path")
)

// DeleteEveryoneWindow bounds how long after sending a message may still be
// removed from every participant's view.
const DeleteEveryoneWindow = 5 * time.Minute

const previewLimit = 500

type ContentKind string

const (
	ContentText ContentKind = "text"
	ContentFile ContentKind = "file"
)

// Attachment references an already-uploaded object; upload handling happens
// elsewhere.
type Attachment struct {
	Name        string
	Size        int64
	ContentType string
	StoragePath string
}

// Content is a tagged variant: plain text, or text plus attachments. Consumers
// switch on Kind instead of probing shape.
type Content struct {
	Kind        ContentKind
	Body        string
	Attachments []Attachment
}

func TextContent(body string) Content {
	return Content{Kind: ContentText, Body: strings.TrimSpace(body)}
}

func FileContent(body string, attachments ...Attachment) Content {
	return Content{Kind: ContentFile, Body: strings.TrimSpace(body), Attachments: attachments}
}

// Validate enforces non-empty text or at least one attachment.
func (c Content) Validate() error {
	switch c.Kind {
	case ContentText:
		if strings.TrimSpace(c.Body) == "" {
			return ErrEmptyContent
		}
	case ContentFile:
		if len(c.Attachments) == 0 {
			return ErrEmptyContent
		}
		for _, a := range c.Attachments {
			if strings.TrimSpace(a.StoragePath) == "" {
				return ErrInvalidAttachment
			}
		}
	default:
		return ErrEmptyContent
	}
	return nil
}

// Preview returns the truncated text used for last-message caches.
func (c Content) Preview() string {
	text := strings.TrimSpace(c.Body)
	if text == "" && c.Kind == ContentFile && len(c.Attachments) > 0 {
		text = c.Attachments[0].Name
	}
	runes := []rune(text)
	if len(runes) <= previewLimit {
		return string(runes)
	}
	return string(runes[:previewLimit])
}

type DeletionMode string

const (
	DeleteForSelf     DeletionMode = "self"
	DeleteForEveryone DeletionMode = "everyone"
)

func ParseDeletionMode(raw string) (DeletionMode, error) {
	switch DeletionMode(strings.ToLower(strings.TrimSpace(raw))) {
	case DeleteForSelf:
		return DeleteForSelf, nil
	case DeleteForEveryone:
		return DeleteForEveryone, nil
	}
	return "", ErrUnknownDeletionMode
}

// ReadReceipt records when a participant read the message.
type ReadReceipt struct {
	UserID string
	ReadAt time.Time
}

// Message is a persisted chat message. The canonical ID is assigned by the
// store at persistence time. Tombstoned messages stay in storage.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Content        Content
	SentAt         time.Time
	Reads          []ReadReceipt
	HiddenBy       []string
	Tombstoned     bool
	DeletedAt      time.Time
}

// HideFor applies a delete-for-sender: the message disappears for that user
// only. The transition happens at most once per user.
func (m *Message) HideFor(userID string) error {
	if m.Tombstoned {
		return ErrAlreadyDeleted
	}
	if m.HiddenFor(userID) {
		return ErrAlreadyDeleted
	}
	m.HiddenBy = append(m.HiddenBy, userID)
	return nil
}

// Tombstone applies a delete-for-everyone. Only the original sender may do it
// and only within the window measured from the send time.
func (m *Message) Tombstone(requesterID string, now time.Time, window time.Duration) error {
	if requesterID != m.SenderID {
		return ErrNotOriginalSender
	}
	if m.Tombstoned {
		return ErrAlreadyDeleted
	}
	if window <= 0 {
		window = DeleteEveryoneWindow
	}
	if now.Sub(m.SentAt) > window {
		return ErrDeleteWindowExpired
	}
	m.Tombstoned = true
	m.DeletedAt = now.UTC()
	return nil
}

// HiddenFor reports whether the user self-deleted the message.
func (m *Message) HiddenFor(userID string) bool {
	for _, id := range m.HiddenBy {
		if id == userID {
			return true
		}
	}
	return false
}

// VisibleTo reports whether the message still renders in the user's view.
func (m *Message) VisibleTo(userID string) bool {
	return !m.Tombstoned && !m.HiddenFor(userID)
}

// MarkRead upserts the user's read receipt.
func (m *Message) MarkRead(userID string, at time.Time) {
	for i := range m.Reads {
		if m.Reads[i].UserID == userID {
			m.Reads[i].ReadAt = at.UTC()
			return
		}
	}
	m.Reads = append(m.Reads, ReadReceipt{UserID: userID, ReadAt: at.UTC()})
}

// Summary builds the last-message cache entry for the owning conversation.
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		MessageID: m.ID,
		SenderID:  m.SenderID,
		Preview:   m.Content.Preview(),
		SentAt:    m.SentAt,
	}
}
