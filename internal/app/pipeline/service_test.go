package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"guildchat/internal/app/pipeline"
	"guildchat/internal/domain/chat"
	"guildchat/internal/infra/storage/memory"
	"guildchat/internal/realtime"
)

type broadcastCall struct {
	conversationID string
	evt            realtime.Event
	skip           []string
}

type unicastCall struct {
	userID string
	evt    realtime.Event
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	broadcasts []broadcastCall
	unicasts   []unicastCall
}

func (b *fakeBroadcaster) BroadcastToConversation(_ context.Context, conversationID string, evt realtime.Event, skip ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, broadcastCall{conversationID, evt, skip})
	return nil
}

func (b *fakeBroadcaster) SendToUser(userID string, evt realtime.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unicasts = append(b.unicasts, unicastCall{userID, evt})
	return true
}

type fakeSink struct {
	events []chat.DomainEvent
}

func (s *fakeSink) Record(_ context.Context, events ...chat.DomainEvent) error {
	s.events = append(s.events, events...)
	return nil
}

type rejectingChecker struct{}

func (rejectingChecker) Check(context.Context, string) error {
	return chat.ErrInvalidAttachment
}

type fixture struct {
	svc           *pipeline.Service
	conversations *memory.ConversationStore
	messages      *memory.MessageStore
	broadcast     *fakeBroadcaster
	sink          *fakeSink
	clock         *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		conversations: memory.NewConversationStore(),
		messages:      memory.NewMessageStore(),
		broadcast:     &fakeBroadcaster{},
		sink:          &fakeSink{},
		clock:         &now,
	}
	f.svc = &pipeline.Service{
		Conversations: f.conversations,
		Messages:      f.messages,
		Broadcast:     f.broadcast,
		Events:        f.sink,
		Now:           func() time.Time { return *f.clock },
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	*f.clock = f.clock.Add(d)
}

func (f *fixture) directConversation(t *testing.T, a, b string) *chat.Conversation {
	t.Helper()
	conv, created, err := f.svc.CreateConversation(context.Background(), a, []string{b}, chat.TypeDirect, "")
	require.NoError(t, err)
	require.True(t, created)
	return conv
}

func TestSendReturnsCanonicalAndSkipsSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")

	msg, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("hello bob"))
	require.NoError(t, err)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, *f.clock, msg.SentAt)

	stored, err := f.conversations.ByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, stored.LastMessage.MessageID)
	require.Equal(t, "hello bob", stored.LastMessage.Preview)

	last := f.broadcast.broadcasts[len(f.broadcast.broadcasts)-1]
	require.Equal(t, realtime.EventMessageNew, last.evt.Type)
	require.Equal(t, []string{"alice"}, last.skip)
	require.Equal(t, msg.ID, last.evt.Message.ID)

	var sent chat.MessageSent
	for _, ev := range f.sink.events {
		if e, ok := ev.(chat.MessageSent); ok {
			sent = e
		}
	}
	require.Equal(t, msg.ID, sent.MessageID)
}

func TestSendRejectsOutsiderAndInvalidContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")

	_, err := f.svc.Send(ctx, conv.ID, "mallory", chat.TextContent("hi"))
	require.ErrorIs(t, err, chat.ErrNotParticipant)

	_, err = f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("  "))
	require.ErrorIs(t, err, chat.ErrEmptyContent)

	_, err = f.svc.Send(ctx, "nope", "alice", chat.TextContent("hi"))
	require.ErrorIs(t, err, chat.ErrConversationNotFound)
}

func TestSendVerifiesAttachments(t *testing.T) {
	f := newFixture(t)
	f.svc.Attachments = rejectingChecker{}
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")

	_, err := f.svc.Send(ctx, conv.ID, "alice", chat.FileContent("look", chat.Attachment{
		Name: "map.png", StoragePath: "uploads/map.png",
	}))
	require.ErrorIs(t, err, chat.ErrInvalidAttachment)
}

func TestDeleteForSelfIsUnicastAndAsymmetric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("oops"))
	require.NoError(t, err)

	broadcastsBefore := len(f.broadcast.broadcasts)
	require.NoError(t, f.svc.Delete(ctx, msg.ID, "bob", chat.DeleteForSelf))

	// only bob's own session converges, nothing fans out
	require.Len(t, f.broadcast.broadcasts, broadcastsBefore)
	require.Len(t, f.broadcast.unicasts, 1)
	require.Equal(t, "bob", f.broadcast.unicasts[0].userID)
	require.Equal(t, "self", f.broadcast.unicasts[0].evt.Mode)

	// alice still sees the message, bob does not
	aliceView, _, err := f.svc.ListMessages(ctx, conv.ID, "alice", 10, "")
	require.NoError(t, err)
	require.Len(t, aliceView, 1)

	bobView, _, err := f.svc.ListMessages(ctx, conv.ID, "bob", 10, "")
	require.NoError(t, err)
	require.Empty(t, bobView)
}

func TestDeleteForEveryoneWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")
	first, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("keep"))
	require.NoError(t, err)
	f.advance(time.Minute)
	second, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("remove"))
	require.NoError(t, err)

	f.advance(3 * time.Minute)
	require.NoError(t, f.svc.Delete(ctx, second.ID, "alice", chat.DeleteForEveryone))

	last := f.broadcast.broadcasts[len(f.broadcast.broadcasts)-1]
	require.Equal(t, realtime.EventMessageDeleted, last.evt.Type)
	require.Equal(t, "everyone", last.evt.Mode)
	require.Empty(t, last.skip)

	// the cached preview falls back to the previous visible message
	stored, err := f.conversations.ByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, stored.LastMessage.MessageID)

	for _, userID := range []string{"alice", "bob"} {
		view, _, err := f.svc.ListMessages(ctx, conv.ID, userID, 10, "")
		require.NoError(t, err)
		require.Len(t, view, 1)
		require.Equal(t, first.ID, view[0].ID)
	}
}

func TestDeleteForSelfBySenderRecomputesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")
	first, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("keep"))
	require.NoError(t, err)
	f.advance(time.Minute)
	second, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("hide me"))
	require.NoError(t, err)

	// the sender hiding the cached message invalidates the preview for
	// everyone, so the cache falls back to the previous visible message
	require.NoError(t, f.svc.Delete(ctx, second.ID, "alice", chat.DeleteForSelf))

	stored, err := f.conversations.ByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessage)
	require.Equal(t, first.ID, stored.LastMessage.MessageID)

	// a recipient hiding the same cached message leaves it visible to the
	// sender, so the preview stays put
	f.advance(time.Minute)
	third, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("latest"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Delete(ctx, third.ID, "bob", chat.DeleteForSelf))

	stored, err = f.conversations.ByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, third.ID, stored.LastMessage.MessageID)
}

func TestDeleteForEveryoneGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("hi"))
	require.NoError(t, err)

	err = f.svc.Delete(ctx, msg.ID, "bob", chat.DeleteForEveryone)
	require.ErrorIs(t, err, chat.ErrNotOriginalSender)

	f.advance(chat.DeleteEveryoneWindow + time.Second)
	err = f.svc.Delete(ctx, msg.ID, "alice", chat.DeleteForEveryone)
	require.ErrorIs(t, err, chat.ErrDeleteWindowExpired)

	err = f.svc.Delete(ctx, msg.ID, "alice", chat.DeletionMode("purge"))
	require.ErrorIs(t, err, chat.ErrUnknownDeletionMode)

	err = f.svc.Delete(ctx, msg.ID, "mallory", chat.DeleteForSelf)
	require.ErrorIs(t, err, chat.ErrNotParticipant)
}

func TestDeleteLastRemainingMessageClearsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("only one"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, msg.ID, "alice", chat.DeleteForEveryone))

	stored, err := f.conversations.ByID(ctx, conv.ID)
	require.NoError(t, err)
	require.Nil(t, stored.LastMessage)
}

func TestCreateDirectConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, created, err := f.svc.CreateConversation(ctx, "alice", []string{"bob"}, chat.TypeDirect, "")
	require.NoError(t, err)
	require.True(t, created)

	// same pair from the other side returns the existing thread
	second, created, err := f.svc.CreateConversation(ctx, "bob", []string{"alice"}, chat.TypeDirect, "")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestCreateConversationAnnouncesToOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, _, err := f.svc.CreateConversation(ctx, "alice", []string{"bob", "carol"}, chat.TypeGroup, "raid night")
	require.NoError(t, err)
	require.Equal(t, "raid night", conv.Title)

	last := f.broadcast.broadcasts[len(f.broadcast.broadcasts)-1]
	require.Equal(t, realtime.EventConversationNew, last.evt.Type)
	require.Equal(t, []string{"alice"}, last.skip)
}

func TestCreateDirectRequiresPair(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateConversation(context.Background(), "alice", []string{"bob", "carol"}, chat.TypeDirect, "")
	require.ErrorIs(t, err, chat.ErrDirectParticipants)
}

func TestMarkReadDefaultsToLatest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")
	msg, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("read me"))
	require.NoError(t, err)

	f.advance(time.Minute)
	readAt, err := f.svc.MarkRead(ctx, conv.ID, "bob", "")
	require.NoError(t, err)
	require.Equal(t, *f.clock, readAt)

	stored, err := f.messages.ByID(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, stored.Reads, 1)
	require.Equal(t, "bob", stored.Reads[0].UserID)
}

func TestListMessagesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		f.advance(time.Second)
		msg, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("msg"))
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, next, err := f.svc.ListMessages(ctx, conv.ID, "bob", 2, "")
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[4], page[0].ID)
	require.NotEmpty(t, next)

	page, _, err = f.svc.ListMessages(ctx, conv.ID, "bob", 2, next)
	require.NoError(t, err)
	require.Equal(t, ids[2], page[0].ID)

	_, _, err = f.svc.ListMessages(ctx, conv.ID, "mallory", 2, "")
	require.ErrorIs(t, err, chat.ErrNotParticipant)
}

func TestIsParticipant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")

	require.True(t, f.svc.IsParticipant(ctx, conv.ID, "alice"))
	require.False(t, f.svc.IsParticipant(ctx, conv.ID, "mallory"))
	require.False(t, f.svc.IsParticipant(ctx, "missing", "alice"))
}

func TestSendToInactiveConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")
	require.NoError(t, f.conversations.Deactivate(ctx, conv.ID))

	_, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("hi"))
	require.ErrorIs(t, err, chat.ErrConversationInactive)
}

var errBoom = errors.New("boom")

type failingSink struct{}

func (failingSink) Record(context.Context, ...chat.DomainEvent) error { return errBoom }

func TestEventSinkFailureDoesNotFailSend(t *testing.T) {
	f := newFixture(t)
	f.svc.Events = failingSink{}
	ctx := context.Background()
	conv := f.directConversation(t, "alice", "bob")

	_, err := f.svc.Send(ctx, conv.ID, "alice", chat.TextContent("hi"))
	require.NoError(t, err)
}
