package realtime

import (
	"sync"
	"time"
)

// NotificationRouter decides whether an inbound message should interrupt the
// recipient or just append silently. A recipient focused on the message's
// conversation is never alerted; neither is the author of the message.
type NotificationRouter struct {
	mu    sync.RWMutex
	focus map[string]string
}

func NewNotificationRouter() *NotificationRouter {
	return &NotificationRouter{focus: make(map[string]string)}
}

// SetFocus records which conversation the user's view is on. Empty
// conversationID clears the focus.
func (n *NotificationRouter) SetFocus(userID, conversationID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if conversationID == "" {
		delete(n.focus, userID)
		return
	}
	n.focus[userID] = conversationID
}

// FocusedOn returns the conversation the user is looking at, if any.
func (n *NotificationRouter) FocusedOn(userID string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.focus[userID]
}

// ShouldAlert implements AlertPolicy. Only message:new events ever alert.
func (n *NotificationRouter) ShouldAlert(recipientID string, evt Event) bool {
	if evt.Type != EventMessageNew {
		return false
	}
	if evt.Message != nil && evt.Message.SenderID == recipientID {
		return false
	}
	return n.FocusedOn(recipientID) != evt.ConversationID
}

// UserConnected implements ConnectionObserver.
func (n *NotificationRouter) UserConnected(string, time.Time) {}

// UserDisconnected drops the stale focus so the next session starts clean.
func (n *NotificationRouter) UserDisconnected(userID string, _ time.Time) {
	n.SetFocus(userID, "")
}

var (
	_ AlertPolicy        = (*NotificationRouter)(nil)
	_ ConnectionObserver = (*NotificationRouter)(nil)
)
