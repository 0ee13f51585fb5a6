package guildchat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryStatus tracks an optimistic entry's lifecycle in the local timeline.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusConfirmed EntryStatus = "confirmed"
	StatusFailed    EntryStatus = "failed"
)

// contentMatchTolerance bounds how far apart in time two copies of the same
// message may sit and still be treated as duplicates when no id matches.
const contentMatchTolerance = 5 * time.Second

// Entry is one message in the local timeline. A pending entry holds a
// client-assigned TempID until the canonical copy replaces it in place.
type Entry struct {
	ID       string
	TempID   string
	SenderID string
	Body     string
	SentAt   time.Time
	Status   EntryStatus
	Hidden   bool
}

// Timeline is the client-side view of one conversation. It reconciles
// optimistic local sends against canonical server copies so each message
// renders exactly once, in order, without flicker.
type Timeline struct {
	mu             sync.Mutex
	conversationID string
	selfID         string
	deleteWindow   time.Duration
	entries        []Entry
	now            func() time.Time
}

func NewTimeline(conversationID, selfID string, deleteWindow time.Duration) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		selfID:         selfID,
		deleteWindow:   deleteWindow,
		now:            time.Now,
	}
}

// AppendLocal inserts an optimistic entry and returns its temp id. The entry
// renders immediately, before the server has seen the message.
func (t *Timeline) AppendLocal(body string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	tempID := "tmp-" + uuid.NewString()
	t.entries = append(t.entries, Entry{
		TempID:   tempID,
		SenderID: t.selfID,
		Body:     strings.TrimSpace(body),
		SentAt:   t.now().UTC(),
		Status:   StatusPending,
	})
	return tempID
}

// ConfirmLocal swaps the pending entry for the canonical copy in place,
// keeping its timeline position.
func (t *Timeline) ConfirmLocal(tempID string, msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].TempID != tempID {
			continue
		}
		t.entries[i].ID = msg.ID
		t.entries[i].Body = msg.Body
		t.entries[i].SentAt = msg.SentAt
		t.entries[i].Status = StatusConfirmed
		return true
	}
	return false
}

// FailLocal removes the pending entry and hands its content back so the
// caller can offer a retry.
func (t *Timeline) FailLocal(tempID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].TempID != tempID || t.entries[i].Status != StatusPending {
			continue
		}
		body := t.entries[i].Body
		t.entries = append(t.entries[:i], t.entries[i+1:]...)
		return body, true
	}
	return "", false
}

// ApplyRemote merges a pushed message. Three checks run in order before the
// message is treated as new: a canonical id already present, a pending entry
// it confirms, and finally an own-send content match within the tolerance,
// which absorbs the race where the push beats the request response.
func (t *Timeline) ApplyRemote(msg Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		if t.entries[i].ID == msg.ID && msg.ID != "" {
			return false
		}
	}
	if msg.SenderID == t.selfID {
		for i := range t.entries {
			e := &t.entries[i]
			if e.Status != StatusPending {
				continue
			}
			if e.Body != msg.Body {
				continue
			}
			delta := msg.SentAt.Sub(e.SentAt)
			if delta < 0 {
				delta = -delta
			}
			if delta > contentMatchTolerance {
				continue
			}
			e.ID = msg.ID
			e.SentAt = msg.SentAt
			e.Status = StatusConfirmed
			return false
		}
	}
	t.entries = append(t.entries, Entry{
		ID:       msg.ID,
		SenderID: msg.SenderID,
		Body:     msg.Body,
		SentAt:   msg.SentAt,
		Status:   StatusConfirmed,
	})
	return true
}

// ApplyDelete converges the timeline on a deletion push. Mode everyone
// removes the entry outright; mode self marks it hidden.
func (t *Timeline) ApplyDelete(messageID, mode string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].ID != messageID {
			continue
		}
		if mode == "self" {
			t.entries[i].Hidden = true
		} else {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
		}
		return true
	}
	return false
}

// Messages returns the visible entries in timeline order.
func (t *Timeline) Messages() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		if e.Hidden {
			continue
		}
		out = append(out, e)
	}
	return out
}

// CanDeleteForEveryone is the advisory UI check mirroring the server's
// window; the server remains authoritative.
func (t *Timeline) CanDeleteForEveryone(messageID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	window := t.deleteWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	for _, e := range t.entries {
		if e.ID != messageID {
			continue
		}
		return e.SenderID == t.selfID && t.now().Sub(e.SentAt) <= window
	}
	return false
}
