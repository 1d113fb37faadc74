package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustReceiveMessage(t *testing.T, ch <-chan []byte, timeout time.Duration) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for websocket payload")
		return nil
	}
}

func mustNotReceiveMessage(t *testing.T, ch <-chan []byte, timeout time.Duration) {
	t.Helper()
	select {
	case payload := <-ch:
		t.Fatalf("expected no payload, got %q", string(payload))
	case <-time.After(timeout):
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func TestHubPublishFiltersBySubscription(t *testing.T) {
	hub := startHub(t)

	topicA := SessionTopic("session-a")
	topicB := SessionTopic("session-b")

	clientA := NewClient(hub, nil)
	clientA.SubscribeTopic(topicA)

	clientB := NewClient(hub, nil)
	clientB.SubscribeTopic(topicB)

	hub.Register(clientA)
	hub.Register(clientB)

	hub.Publish(topicA, []byte("topic-a"))
	received := mustReceiveMessage(t, clientA.Send, 200*time.Millisecond)
	if string(received) != "topic-a" {
		t.Fatalf("expected topic-a payload, got %q", string(received))
	}
	mustNotReceiveMessage(t, clientB.Send, 80*time.Millisecond)

	hub.Broadcast([]byte("everyone"))
	received = mustReceiveMessage(t, clientA.Send, 200*time.Millisecond)
	require.Equal(t, "everyone", string(received))
	received = mustReceiveMessage(t, clientB.Send, 200*time.Millisecond)
	require.Equal(t, "everyone", string(received))
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := startHub(t)
	topic := SessionTopic("session-a")

	client := NewClient(hub, nil)
	client.SubscribeTopic(topic)
	hub.Register(client)

	client.UnsubscribeTopic(topic)
	require.False(t, client.IsSubscribedToTopic(topic))

	hub.Publish(topic, []byte("late"))
	mustNotReceiveMessage(t, client.Send, 80*time.Millisecond)
}

func TestHubUnregisterClosesSendChannel(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub, nil)
	hub.Register(client)
	hub.Unregister(client)

	select {
	case _, ok := <-client.Send:
		require.False(t, ok)
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("expected send channel to be closed")
	}
}

func TestHubStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := NewClient(hub, nil)
	hub.Register(client)
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}

	_, ok := <-client.Send
	require.False(t, ok)

	// Publishing after shutdown must not block.
	done := make(chan struct{})
	go func() {
		hub.Publish(SessionTopic("session-a"), []byte("ignored"))
		hub.Unregister(client)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked after hub stopped")
	}
}

func TestHubPublishEnvelope(t *testing.T) {
	hub := startHub(t)
	topic := SessionTopic("session-a")
	client := NewClient(hub, nil)
	client.SubscribeTopic(topic)
	hub.Register(client)

	require.NoError(t, hub.PublishEnvelope(Envelope{
		Type:      MessageSessionClosed,
		Topic:     topic,
		SessionID: "session-a",
	}))

	raw := mustReceiveMessage(t, client.Send, 200*time.Millisecond)
	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "ChatSessionClosed", got["type"])
	require.Equal(t, "chat:session-a", got["topic"])
	require.Equal(t, "session-a", got["session_id"])
	_, hasData := got["data"]
	require.False(t, hasData)
}
