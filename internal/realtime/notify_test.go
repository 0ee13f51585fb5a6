package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildchat/internal/app/dto"
)

func TestOnlyNewMessagesAlert(t *testing.T) {
	router := NewNotificationRouter()

	require.True(t, router.ShouldAlert("bob", Event{Type: EventMessageNew, ConversationID: "c1"}))
	require.False(t, router.ShouldAlert("bob", Event{Type: EventTypingStart, ConversationID: "c1"}))
	require.False(t, router.ShouldAlert("bob", Event{Type: EventMessageDeleted, ConversationID: "c1"}))
	require.False(t, router.ShouldAlert("bob", Event{Type: EventPresenceChanged}))
}

func TestFocusSuppressesAlert(t *testing.T) {
	router := NewNotificationRouter()
	evt := Event{Type: EventMessageNew, ConversationID: "c1"}

	router.SetFocus("bob", "c1")
	require.False(t, router.ShouldAlert("bob", evt))

	router.SetFocus("bob", "c2")
	require.True(t, router.ShouldAlert("bob", evt))

	router.SetFocus("bob", "")
	require.Empty(t, router.FocusedOn("bob"))
	require.True(t, router.ShouldAlert("bob", evt))
}

func TestAuthorNeverAlerted(t *testing.T) {
	router := NewNotificationRouter()
	evt := Event{
		Type:           EventMessageNew,
		ConversationID: "c1",
		Message:        &dto.ChatMessage{SenderID: "alice"},
	}
	require.False(t, router.ShouldAlert("alice", evt))
	require.True(t, router.ShouldAlert("bob", evt))
}

func TestDisconnectClearsFocus(t *testing.T) {
	router := NewNotificationRouter()
	router.SetFocus("bob", "c1")
	router.UserDisconnected("bob", time.Now())
	require.Empty(t, router.FocusedOn("bob"))
}
