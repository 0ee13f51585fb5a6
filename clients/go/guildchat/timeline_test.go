package guildchat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedTimeline(t *testing.T) (*Timeline, time.Time) {
	t.Helper()
	now := time.Date(2026, 6, 1, 15, 0, 0, 0, time.UTC)
	tl := NewTimeline("c1", "alice", 5*time.Minute)
	tl.now = func() time.Time { return now }
	return tl, now
}

func TestOptimisticConfirmKeepsPosition(t *testing.T) {
	tl, now := fixedTimeline(t)

	tempID := tl.AppendLocal("hello")
	entries := tl.Messages()
	require.Len(t, entries, 1)
	require.Equal(t, StatusPending, entries[0].Status)
	require.Empty(t, entries[0].ID)

	require.True(t, tl.ConfirmLocal(tempID, Message{
		ID: "m1", ConversationID: "c1", SenderID: "alice", Body: "hello", SentAt: now.Add(time.Second),
	}))

	entries = tl.Messages()
	require.Len(t, entries, 1)
	require.Equal(t, "m1", entries[0].ID)
	require.Equal(t, StatusConfirmed, entries[0].Status)
}

func TestFailedSendReturnsContentForRetry(t *testing.T) {
	tl, _ := fixedTimeline(t)

	tempID := tl.AppendLocal("try me")
	body, ok := tl.FailLocal(tempID)
	require.True(t, ok)
	require.Equal(t, "try me", body)
	require.Empty(t, tl.Messages())

	_, ok = tl.FailLocal(tempID)
	require.False(t, ok)
}

func TestApplyRemoteDeduplicatesByCanonicalID(t *testing.T) {
	tl, now := fixedTimeline(t)
	msg := Message{ID: "m1", SenderID: "bob", Body: "hi", SentAt: now}

	require.True(t, tl.ApplyRemote(msg))
	require.False(t, tl.ApplyRemote(msg))
	require.Len(t, tl.Messages(), 1)
}

func TestPushBeatingResponseDoesNotDuplicate(t *testing.T) {
	tl, now := fixedTimeline(t)

	// optimistic entry renders, then the server's push arrives before the
	// request response does
	tempID := tl.AppendLocal("race me")
	canonical := Message{ID: "m1", SenderID: "alice", Body: "race me", SentAt: now.Add(2 * time.Second)}

	require.False(t, tl.ApplyRemote(canonical))
	entries := tl.Messages()
	require.Len(t, entries, 1)
	require.Equal(t, "m1", entries[0].ID)
	require.Equal(t, StatusConfirmed, entries[0].Status)

	// the late response confirm finds the entry already swapped
	tl.ConfirmLocal(tempID, canonical)
	require.Len(t, tl.Messages(), 1)
}

func TestContentMatchRespectsTolerance(t *testing.T) {
	tl, now := fixedTimeline(t)

	tl.AppendLocal("same words")
	far := Message{ID: "m9", SenderID: "alice", Body: "same words", SentAt: now.Add(time.Minute)}

	// too far apart in time: treated as a genuinely new message
	require.True(t, tl.ApplyRemote(far))
	require.Len(t, tl.Messages(), 2)
}

func TestOtherSendersNeverContentMatch(t *testing.T) {
	tl, now := fixedTimeline(t)

	tl.AppendLocal("echo")
	require.True(t, tl.ApplyRemote(Message{ID: "m1", SenderID: "bob", Body: "echo", SentAt: now}))
	require.Len(t, tl.Messages(), 2)
}

func TestApplyDeleteModes(t *testing.T) {
	tl, now := fixedTimeline(t)
	require.True(t, tl.ApplyRemote(Message{ID: "m1", SenderID: "bob", Body: "one", SentAt: now}))
	require.True(t, tl.ApplyRemote(Message{ID: "m2", SenderID: "bob", Body: "two", SentAt: now}))

	require.True(t, tl.ApplyDelete("m1", "everyone"))
	require.True(t, tl.ApplyDelete("m2", "self"))
	require.False(t, tl.ApplyDelete("m3", "everyone"))

	require.Empty(t, tl.Messages())
}

func TestCanDeleteForEveryoneAdvisory(t *testing.T) {
	tl, now := fixedTimeline(t)

	require.True(t, tl.ApplyRemote(Message{ID: "mine", SenderID: "alice", Body: "x", SentAt: now.Add(-time.Minute)}))
	require.True(t, tl.ApplyRemote(Message{ID: "old", SenderID: "alice", Body: "y", SentAt: now.Add(-10 * time.Minute)}))
	require.True(t, tl.ApplyRemote(Message{ID: "theirs", SenderID: "bob", Body: "z", SentAt: now}))

	require.True(t, tl.CanDeleteForEveryone("mine"))
	require.False(t, tl.CanDeleteForEveryone("old"))
	require.False(t, tl.CanDeleteForEveryone("theirs"))
	require.False(t, tl.CanDeleteForEveryone("missing"))
}
