// Package chat reconciles a chat session between the backend's confirmed
// history and messages the user has typed but the backend has not yet
// acknowledged. It is UI-agnostic: the CLI and the widget gateway both render
// the View it produces.
package chat

import (
	"context"
	"time"
)

// UnlimitedQuota marks an agent whose backend did not report a monthly limit.
const UnlimitedQuota int64 = -1

// WelcomeMessageID identifies the locally seeded greeting shown before the
// first exchange.
const WelcomeMessageID = "welcome"

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// MessageStatus tracks whether the backend has acknowledged a message.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusFailed    MessageStatus = "failed"
	StatusConfirmed MessageStatus = "confirmed"
)

// State is the client-observed lifecycle of a session.
type State string

const (
	StateNew    State = "new"
	StateActive State = "active"
	StateClosed State = "closed"
)

// Agent is the chat persona a session talks to. MonthlyLimit of zero means the
// tenant's token quota is exhausted.
type Agent struct {
	ID           string `json:"id"`
	Slug         string `json:"slug,omitempty"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsActive     bool   `json:"is_active"`
	MonthlyLimit int64  `json:"monthly_limit"`
	TenantID     string `json:"tenant_id,omitempty"`
	Greeting     string `json:"greeting,omitempty"`
}

// Message is the single canonical message shape. Liked is only meaningful on
// agent messages and is nil until the user rates the message.
type Message struct {
	ID     string        `json:"id"`
	Text   string        `json:"text"`
	Role   Role          `json:"role"`
	Time   time.Time     `json:"time"`
	Liked  *bool         `json:"liked,omitempty"`
	Status MessageStatus `json:"status"`
}

// Snapshot is the backend's authoritative view of a session.
type Snapshot struct {
	SessionID string
	Agent     Agent
	IsActive  bool
	Messages  []Message
}

// EventType names a server push for a subscribed session.
type EventType string

const (
	EventMessageCreated EventType = "ChatMessageCreated"
	EventSessionClosed  EventType = "ChatSessionClosed"
)

// Event is a server push received through a Subscriber.
type Event struct {
	Type      EventType
	SessionID string
	MessageID string
}

// Backend is the slice of the dashboard API a session needs. The agent
// reference passed to GetAgent is an id for the authenticated API and a slug
// for the public one.
type Backend interface {
	GetAgent(ctx context.Context, agentRef string) (Agent, error)
	GetSession(ctx context.Context, sessionID string) (Snapshot, error)
	// StartChat creates a session with its first message. A backend that mints
	// the session before failing to deliver the message returns both the id
	// and the error.
	StartChat(ctx context.Context, agentID, text string) (string, error)
	SendMessage(ctx context.Context, sessionID, text string) error
	SendFeedback(ctx context.Context, messageID string, liked bool) error
	ExportSession(ctx context.Context, sessionID, email string) error
	CloseSession(ctx context.Context, sessionID string) error
}

// Subscriber delivers server pushes for one session until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan Event, error)
}

// View is what a UI renders. It is a copy; mutating it has no effect on the
// session.
type View struct {
	SessionID    string    `json:"session_id,omitempty"`
	Agent        Agent     `json:"agent"`
	State        State     `json:"state"`
	IsActive     bool      `json:"is_active"`
	Messages     []Message `json:"messages"`
	CanSend      bool      `json:"can_send"`
	Sending      bool      `json:"sending"`
	UsageBlocked bool      `json:"usage_blocked"`
	Banner       string    `json:"banner,omitempty"`
}
