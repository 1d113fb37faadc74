package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestIsAllowedSubscriptionTopic(t *testing.T) {
	if !isAllowedSubscriptionTopic("chat:550e8400-e29b-41d4-a716-446655440000") {
		t.Fatalf("expected chat topic to be allowed")
	}
	if !isAllowedSubscriptionTopic("chat:12345") {
		t.Fatalf("expected numeric session topic to be allowed")
	}
	if isAllowedSubscriptionTopic("") {
		t.Fatalf("expected empty topic to be rejected")
	}
	if isAllowedSubscriptionTopic("chat:bad topic") {
		t.Fatalf("expected topic with spaces to be rejected")
	}
	if isAllowedSubscriptionTopic("chat/<script>") {
		t.Fatalf("expected topic with disallowed chars to be rejected")
	}
	if isAllowedSubscriptionTopic("chat:" + strings.Repeat("a", 200)) {
		t.Fatalf("expected oversized topic to be rejected")
	}
}

func TestSessionIDFromTopic(t *testing.T) {
	id, ok := SessionIDFromTopic("chat:session-1")
	require.True(t, ok)
	require.Equal(t, "session-1", id)

	_, ok = SessionIDFromTopic("chat:")
	require.False(t, ok)
	_, ok = SessionIDFromTopic("project:session-1")
	require.False(t, ok)

	require.Equal(t, "chat:session-1", SessionTopic(" session-1 "))
}

type stubSessionAuthorizer struct {
	allowed     map[string]bool
	errBySessID map[string]error
	seenContext context.Context
}

func (s *stubSessionAuthorizer) CanSubscribeSession(ctx context.Context, sessionID string) (bool, error) {
	s.seenContext = ctx
	if err, ok := s.errBySessID[sessionID]; ok {
		return false, err
	}
	return s.allowed[sessionID], nil
}

func TestProcessClientMessageSubscribeSessionAuthorized(t *testing.T) {
	topic := SessionTopic("session-1")
	client := NewClient(nil, nil)

	processClientMessage(context.Background(), client, clientMessage{
		Type:  "subscribe",
		Topic: topic,
	}, &stubSessionAuthorizer{allowed: map[string]bool{"session-1": true}})

	if !client.IsSubscribedToTopic(topic) {
		t.Fatalf("expected client to be subscribed to %q", topic)
	}
}

func TestProcessClientMessageSubscribeSessionUnauthorized(t *testing.T) {
	topic := SessionTopic("session-2")
	client := NewClient(nil, nil)

	processClientMessage(context.Background(), client, clientMessage{
		Type:  "subscribe",
		Topic: topic,
	}, &stubSessionAuthorizer{allowed: map[string]bool{}})

	if client.IsSubscribedToTopic(topic) {
		t.Fatalf("expected session topic subscription to be rejected")
	}
}

func TestProcessClientMessageAcceptsChannelAlias(t *testing.T) {
	client := NewClient(nil, nil)
	processClientMessage(context.Background(), client, clientMessage{
		Type:    "SUBSCRIBE",
		Channel: "announcements",
	}, nil)
	require.True(t, client.IsSubscribedToTopic("announcements"))

	processClientMessage(context.Background(), client, clientMessage{
		Type:    "unsubscribe",
		Channel: "announcements",
	}, nil)
	require.False(t, client.IsSubscribedToTopic("announcements"))
}

func TestProcessClientMessageSubscribeSessionUsesClientContext(t *testing.T) {
	type contextKey string

	topic := SessionTopic("session-3")
	client := NewClient(nil, nil)
	ctx := context.WithValue(context.Background(), contextKey("trace_id"), "trace-123")
	authorizer := &stubSessionAuthorizer{allowed: map[string]bool{"session-3": true}}

	processClientMessage(ctx, client, clientMessage{Type: "subscribe", Topic: topic}, authorizer)

	require.NotNil(t, authorizer.seenContext)
	require.Equal(t, "trace-123", authorizer.seenContext.Value(contextKey("trace_id")))
	require.True(t, client.IsSubscribedToTopic(topic))
}

func TestProcessClientMessageSubscribeSessionAuthorizerErrorLogsWarningAndDenies(t *testing.T) {
	topic := SessionTopic("session-4")
	client := NewClient(nil, nil)
	authorizer := &stubSessionAuthorizer{
		allowed:     map[string]bool{},
		errBySessID: map[string]error{"session-4": context.DeadlineExceeded},
	}

	var logs bytes.Buffer
	originalOutput := log.Writer()
	log.SetOutput(&logs)
	t.Cleanup(func() {
		log.SetOutput(originalOutput)
	})

	processClientMessage(context.Background(), client, clientMessage{Type: "subscribe", Topic: topic}, authorizer)

	require.False(t, client.IsSubscribedToTopic(topic))
	require.Contains(t, logs.String(), "session subscription authorization error")
	require.Contains(t, logs.String(), "session-4")
}

func TestIsWebSocketOriginAllowed_NoOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://widgets.agentdesk.app/ws", nil)
	req.Host = "widgets.agentdesk.app"

	if !isWebSocketOriginAllowed(req, nil) {
		t.Fatalf("expected empty origin to be allowed")
	}
}

func TestIsWebSocketOriginAllowed_SameOrigin(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://widgets.agentdesk.app/ws", nil)
	req.Host = "widgets.agentdesk.app"
	req.Header.Set("Origin", "http://widgets.agentdesk.app")

	if !isWebSocketOriginAllowed(req, nil) {
		t.Fatalf("expected same-origin websocket to be allowed")
	}
}

func TestIsWebSocketOriginAllowed_CrossOriginDeniedByDefault(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://widgets.agentdesk.app/ws", nil)
	req.Host = "widgets.agentdesk.app"
	req.Header.Set("Origin", "https://evil.example")

	if isWebSocketOriginAllowed(req, nil) {
		t.Fatalf("expected cross-origin websocket to be denied by default")
	}
}

func TestIsWebSocketOriginAllowed_AllowList(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://widgets.agentdesk.app/ws", nil)
	req.Host = "widgets.agentdesk.app"

	req.Header.Set("Origin", "https://shop.example.com")
	require.True(t, isWebSocketOriginAllowed(req, []string{"https://shop.example.com"}))

	req.Header.Set("Origin", "https://eu.shop.example.com")
	require.True(t, isWebSocketOriginAllowed(req, []string{"https://*.example.com"}))

	req.Header.Set("Origin", "https://example.com")
	require.False(t, isWebSocketOriginAllowed(req, []string{"https://*.example.com"}))

	req.Header.Set("Origin", "http://shop.example.com")
	require.False(t, isWebSocketOriginAllowed(req, []string{"https://shop.example.com"}))
}

func TestIsWebSocketOriginAllowed_LoopbackAliasAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8080/ws", nil)
	req.Host = "127.0.0.1:8080"
	req.Header.Set("Origin", "http://localhost:8080")

	if !isWebSocketOriginAllowed(req, nil) {
		t.Fatalf("expected loopback alias origin to be allowed")
	}
}

func dialHandler(t *testing.T, handler http.Handler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestClientReadPumpSubscribeTopic(t *testing.T) {
	hub := startHub(t)
	conn := dialHandler(t, &Handler{Hub: hub})

	topic := SessionTopic("11111111-1111-1111-1111-111111111111")
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":  "subscribe",
		"topic": topic,
	}))
	time.Sleep(50 * time.Millisecond)

	raw, err := json.Marshal(map[string]string{"event": "topic-update"})
	require.NoError(t, err)
	hub.Publish(topic, raw)

	_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, string(raw), string(message))
}

func TestClientReadPumpUnsubscribeTopic(t *testing.T) {
	hub := startHub(t)
	conn := dialHandler(t, &Handler{Hub: hub})

	topic := SessionTopic("22222222-2222-2222-2222-222222222222")
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":  "subscribe",
		"topic": topic,
	}))
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, conn.WriteJSON(map[string]string{
		"type":  "unsubscribe",
		"topic": topic,
	}))
	time.Sleep(50 * time.Millisecond)

	hub.Publish(topic, []byte(`{"event":"should-not-arrive"}`))

	_ = conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestHandlerRejectsDisallowedOrigin(t *testing.T) {
	hub := startHub(t)
	server := httptest.NewServer(&Handler{Hub: hub, AllowedOrigins: []string{"https://shop.example.com"}})
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
