package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageStoreOrdersConfirmedBeforePending(t *testing.T) {
	store := NewMessageStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := store.AddPending("first", now)
	store.ReplaceConfirmed([]Message{
		{ID: "c2", Text: "later", Role: RoleAgent, Time: now.Add(time.Hour)},
		{ID: "c1", Text: "earlier", Role: RoleUser, Time: now.Add(-time.Hour)},
	})
	second := store.AddPending("second", now.Add(-2*time.Hour))

	got := store.Messages()
	require.Len(t, got, 4)
	// No timestamp sort: backend order, then local insertion order.
	require.Equal(t, []string{"c2", "c1", first.ID, second.ID}, []string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})
	require.Equal(t, StatusConfirmed, got[0].Status)
	require.Equal(t, StatusPending, got[2].Status)
	require.NotEqual(t, first.ID, second.ID)
}

func TestMessageStoreSettleDropsOnlyAcceptedMessages(t *testing.T) {
	store := NewMessageStore()
	failed := store.AddPending("hello", time.Now())
	store.MarkFailed(failed.ID)
	accepted := store.AddPending("another", time.Now())
	inFlight := store.AddPending("third", time.Now())

	store.Settle([]Message{{ID: "srv-1", Text: "something else entirely", Role: RoleUser}}, []string{accepted.ID})

	got := store.Messages()
	require.Len(t, got, 3)
	require.Equal(t, "srv-1", got[0].ID)
	require.Equal(t, failed.ID, got[1].ID)
	require.Equal(t, StatusFailed, got[1].Status)
	require.Equal(t, inFlight.ID, got[2].ID)
	require.Equal(t, StatusPending, got[2].Status)

	store.Settle(nil, []string{inFlight.ID, "unknown"})
	pending := store.Pending()
	require.Len(t, pending, 1)
	require.Equal(t, failed.ID, pending[0].ID)
}

func TestMessageStoreReplaceConfirmedKeepsPending(t *testing.T) {
	store := NewMessageStore()
	pending := store.AddPending("hello", time.Now())
	require.True(t, store.MarkFailed(pending.ID))

	store.ReplaceConfirmed([]Message{{ID: "srv-1", Role: RoleAgent}})

	got := store.Messages()
	require.Len(t, got, 2)
	require.Equal(t, StatusFailed, got[1].Status)

	require.True(t, store.MarkPending(pending.ID))
	msg, ok := store.Find(pending.ID)
	require.True(t, ok)
	require.Equal(t, StatusPending, msg.Status)

	require.True(t, store.Discard(pending.ID))
	require.False(t, store.Discard(pending.ID))
	require.False(t, store.MarkFailed("srv-1"))
}

func TestMessageStoreDropsDuplicateIDs(t *testing.T) {
	store := NewMessageStore()
	store.ReplaceConfirmed([]Message{
		{ID: "a", Text: "one"},
		{ID: "a", Text: "one again"},
		{ID: "b", Text: "two"},
	})
	got := store.Messages()
	require.Len(t, got, 2)
	require.Equal(t, "one", got[0].Text)
}

func TestMessageStoreReturnsCopies(t *testing.T) {
	store := NewMessageStore()
	liked := true
	store.ReplaceConfirmed([]Message{{ID: "a", Role: RoleAgent, Liked: &liked}})

	got := store.Messages()
	*got[0].Liked = false
	got[0].Text = "mutated"

	again := store.Messages()
	require.True(t, *again[0].Liked)
	require.Empty(t, again[0].Text)
}
