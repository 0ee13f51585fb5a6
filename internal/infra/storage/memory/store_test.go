package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildchat/internal/app/pipeline"
	"guildchat/internal/domain/chat"
)

func newConversation(t *testing.T, typ chat.ConversationType, id string, users ...string) *chat.Conversation {
	t.Helper()
	conv, err := chat.NewConversation(chat.CreateConversationParams{
		ID:           id,
		Type:         typ,
		Participants: users,
		Now:          time.Now(),
	})
	require.NoError(t, err)
	return conv
}

func TestCreateDirectRejectsDuplicatePair(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newConversation(t, chat.TypeDirect, "c1", "alice", "bob")))
	err := store.Create(ctx, newConversation(t, chat.TypeDirect, "c2", "bob", "alice"))
	require.ErrorIs(t, err, pipeline.ErrDirectExists)

	found, err := store.FindDirectBetween(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, "c1", found.ID)
}

func TestListForUserOrdersByActivity(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()

	first := newConversation(t, chat.TypeDirect, "c1", "alice", "bob")
	second := newConversation(t, chat.TypeDirect, "c2", "alice", "carol")
	require.NoError(t, store.Create(ctx, first))
	require.NoError(t, store.Create(ctx, second))

	// activity in c1 puts it on top
	require.NoError(t, store.UpdateLastMessage(ctx, "c1", chat.MessageSummary{
		MessageID: "m1", SenderID: "bob", Preview: "hi", SentAt: time.Now().Add(time.Hour),
	}))

	list, err := store.ListForUser(ctx, "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "c1", list[0].ID)

	list, err = store.ListForUser(ctx, "alice", 2, 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestUpdateLastMessageIsMonotonic(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newConversation(t, chat.TypeDirect, "c1", "alice", "bob")))

	base := time.Now().UTC()
	newer := chat.MessageSummary{MessageID: "m2", Preview: "second", SentAt: base.Add(time.Minute)}
	older := chat.MessageSummary{MessageID: "m1", Preview: "first", SentAt: base}

	require.NoError(t, store.UpdateLastMessage(ctx, "c1", newer))
	require.NoError(t, store.UpdateLastMessage(ctx, "c1", older))

	conv, err := store.ByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "m2", conv.LastMessage.MessageID)
}

func TestReplaceLastMessageChecksVersion(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newConversation(t, chat.TypeDirect, "c1", "alice", "bob")))

	conv, err := store.ByID(ctx, "c1")
	require.NoError(t, err)

	err = store.ReplaceLastMessage(ctx, "c1", nil, conv.Version+5)
	require.ErrorIs(t, err, pipeline.ErrVersionConflict)

	require.NoError(t, store.ReplaceLastMessage(ctx, "c1", nil, conv.Version))
	after, err := store.ByID(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, after.LastMessage)
	require.Equal(t, conv.Version+1, after.Version)
}

func TestAppendAssignsID(t *testing.T) {
	store := NewMessageStore()
	ctx := context.Background()

	msg := &chat.Message{ConversationID: "c1", SenderID: "alice", Content: chat.TextContent("hi"), SentAt: time.Now()}
	require.NoError(t, store.Append(ctx, msg))
	require.NotEmpty(t, msg.ID)

	stored, err := store.ByID(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, "hi", stored.Content.Body)
}

func TestListWalksBackwardsFromCursor(t *testing.T) {
	store := NewMessageStore()
	ctx := context.Background()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		msg := &chat.Message{ConversationID: "c1", SenderID: "alice", Content: chat.TextContent("n"), SentAt: time.Now()}
		require.NoError(t, store.Append(ctx, msg))
		ids = append(ids, msg.ID)
	}

	page, err := store.List(ctx, "c1", 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[4], page[0].ID)
	require.Equal(t, ids[3], page[1].ID)

	page, err = store.List(ctx, "c1", 2, page[1].ID)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[2], page[0].ID)
	require.Equal(t, ids[1], page[1].ID)
}

func TestLatestVisibleSkipsDeleted(t *testing.T) {
	store := NewMessageStore()
	ctx := context.Background()

	first := &chat.Message{ConversationID: "c1", SenderID: "alice", Content: chat.TextContent("one"), SentAt: time.Now()}
	second := &chat.Message{ConversationID: "c1", SenderID: "alice", Content: chat.TextContent("two"), SentAt: time.Now()}
	require.NoError(t, store.Append(ctx, first))
	require.NoError(t, store.Append(ctx, second))

	require.NoError(t, second.Tombstone("alice", second.SentAt.Add(time.Minute), chat.DeleteEveryoneWindow))
	require.NoError(t, store.Update(ctx, second))

	latest, err := store.LatestVisible(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, first.ID, latest.ID)

	require.NoError(t, first.HideFor("alice"))
	require.NoError(t, store.Update(ctx, first))

	latest, err = store.LatestVisible(ctx, "c1")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestStoreReturnsClones(t *testing.T) {
	store := NewConversationStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, newConversation(t, chat.TypeDirect, "c1", "alice", "bob")))

	conv, err := store.ByID(ctx, "c1")
	require.NoError(t, err)
	conv.Participants[0].UserID = "mallory"

	again, err := store.ByID(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, "alice", again.Participants[0].UserID)
}
