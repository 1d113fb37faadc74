package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// MessageType represents the type of a hub payload.
type MessageType string

const (
	MessageSessionView    MessageType = "ChatSessionView"
	MessageNotice         MessageType = "ChatNotice"
	MessageMessageCreated MessageType = "ChatMessageCreated"
	MessageSessionClosed  MessageType = "ChatSessionClosed"
)

// BroadcastMessage packages a payload for a topic broadcast. An empty topic
// reaches every client.
type BroadcastMessage struct {
	Topic   string
	Payload []byte
}

// Hub manages active clients and topic-scoped broadcasts.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan BroadcastMessage
	done       chan struct{}
}

// NewHub builds a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan BroadcastMessage),
		done:       make(chan struct{}),
	}
}

// Run starts the hub loop and blocks until ctx is cancelled. Remaining
// clients have their send channels closed on exit.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for client := range h.clients {
			delete(h.clients, client)
			close(client.Send)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if message.Topic != "" && !client.IsSubscribedToTopic(message.Topic) {
					continue
				}
				select {
				case client.Send <- message.Payload:
				default:
					delete(h.clients, client)
					close(client.Send)
				}
			}
		}
	}
}

// Broadcast sends a payload to every connected client.
func (h *Hub) Broadcast(payload []byte) {
	h.Publish("", payload)
}

// Publish sends a payload to clients subscribed to topic. It is a no-op once
// the hub has stopped.
func (h *Hub) Publish(topic string, payload []byte) {
	select {
	case h.broadcast <- BroadcastMessage{Topic: topic, Payload: payload}:
	case <-h.done:
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.Send)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Client represents a websocket connection.
type Client struct {
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan []byte
	mu     sync.RWMutex
	topics map[string]bool
}

// NewClient returns a client ready for registration.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
}

func (c *Client) SubscribeTopic(topic string) {
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
}

func (c *Client) UnsubscribeTopic(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

func (c *Client) IsSubscribedToTopic(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

// Envelope is the JSON frame pushed to widget clients.
type Envelope struct {
	Type      MessageType `json:"type"`
	Topic     string      `json:"topic,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	MessageID string      `json:"message_id,omitempty"`
	Data      any         `json:"data,omitempty"`
}

// PublishEnvelope encodes e and publishes it on e.Topic.
func (h *Hub) PublishEnvelope(e Envelope) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.Publish(e.Topic, payload)
	return nil
}
