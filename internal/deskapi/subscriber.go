package deskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samhotchkiss/agentdesk/internal/chat"
	"github.com/samhotchkiss/agentdesk/internal/ws"
)

const (
	subscribeWriteWait = 10 * time.Second
	subscriberBuffer   = 16
)

var _ chat.Subscriber = (*Subscriber)(nil)

// Subscriber follows a session over the backend websocket. It subscribes to
// the chat:<session-id> topic and forwards message and close events.
type Subscriber struct {
	URL      string
	Token    string
	TenantID string
	Dialer   *websocket.Dialer
	Logf     func(format string, args ...any)
}

// NewSubscriber derives the websocket endpoint from the client's base URL.
func NewSubscriber(c *Client) (*Subscriber, error) {
	if c == nil {
		return nil, errors.New("client is required")
	}
	wsURL, err := websocketURL(c.BaseURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		URL:      wsURL,
		Token:    c.Token,
		TenantID: c.TenantID,
	}, nil
}

func websocketURL(baseURL string) (string, error) {
	parsed, err := url.Parse(normalizeAPIBaseURL(baseURL))
	if err != nil || parsed.Host == "" {
		return "", fmt.Errorf("invalid API base URL %q", baseURL)
	}
	switch parsed.Scheme {
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	return parsed.String(), nil
}

type subscribeMessage struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

type pushEnvelope struct {
	Type      string         `json:"type"`
	SessionID flexibleString `json:"session_id"`
	MessageID flexibleString `json:"message_id"`
	Data      *struct {
		SessionID flexibleString `json:"session_id"`
		MessageID flexibleString `json:"message_id"`
	} `json:"data"`
}

func (s *Subscriber) Subscribe(ctx context.Context, sessionID string) (<-chan chat.Event, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	dialer := s.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if token := strings.TrimSpace(s.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if tenant := strings.TrimSpace(s.TenantID); tenant != "" {
		header.Set("X-Tenant-ID", tenant)
	}

	conn, resp, err := dialer.DialContext(ctx, s.URL, header)
	if err != nil {
		if resp != nil {
			return nil, &RequestError{StatusCode: resp.StatusCode, Detail: "websocket handshake rejected"}
		}
		return nil, fmt.Errorf("dial %s: %w", s.URL, err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(subscribeWriteWait))
	if err := conn.WriteJSON(subscribeMessage{
		Type:  "subscribe",
		Topic: ws.SessionTopic(sessionID),
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", ws.SessionTopic(sessionID), err)
	}

	events := make(chan chat.Event, subscriberBuffer)
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	go func() {
		defer close(events)
		defer stop()
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logf("warning: session subscription ended: session_id=%s err=%v", sessionID, err)
				}
				return
			}
			event, ok := decodePush(raw)
			if !ok {
				continue
			}
			if event.SessionID == "" {
				event.SessionID = sessionID
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func decodePush(raw []byte) (chat.Event, bool) {
	var envelope pushEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return chat.Event{}, false
	}
	eventType := chat.EventType(strings.TrimSpace(envelope.Type))
	switch eventType {
	case chat.EventMessageCreated, chat.EventSessionClosed:
	default:
		return chat.Event{}, false
	}
	event := chat.Event{
		Type:      eventType,
		SessionID: strings.TrimSpace(string(envelope.SessionID)),
		MessageID: strings.TrimSpace(string(envelope.MessageID)),
	}
	if envelope.Data != nil {
		event.SessionID = firstNonEmpty(event.SessionID, string(envelope.Data.SessionID))
		event.MessageID = firstNonEmpty(event.MessageID, string(envelope.Data.MessageID))
	}
	return event, true
}

func (s *Subscriber) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}
