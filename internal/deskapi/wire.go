package deskapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/chat"
)

// The dashboard has shipped both snake_case and camelCase payloads, and
// message rows have used content/role/created_at as well as
// text/sender/time. Everything is coalesced here so the rest of the module
// only sees chat types.

type flexibleString string

func (s *flexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexibleString(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("expected string or number id: %w", err)
	}
	*s = flexibleString(number.String())
	return nil
}

// rawGreeting keeps the greeting as text. A JSON array is kept in its encoded
// form; chat.SanitizeGreeting turns either shape into prose.
type rawGreeting string

func (g *rawGreeting) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*g = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*g = rawGreeting(value)
		return nil
	}
	*g = rawGreeting(data)
	return nil
}

type wireTime struct {
	time.Time
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] != '"' {
		// Epoch milliseconds.
		ms, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s", data)
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	value = strings.TrimSpace(value)
	if value == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", value)
}

type wireAgent struct {
	ID                  flexibleString `json:"id"`
	AgentID             flexibleString `json:"agent_id"`
	Slug                string         `json:"slug"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	IsActive            *bool          `json:"is_active"`
	IsActiveCamel       *bool          `json:"isActive"`
	MonthlyLimit        *float64       `json:"monthly_limit"`
	MonthlyLimitCamel   *float64       `json:"monthlyLimit"`
	TenantID            flexibleString `json:"tenant_id"`
	TenantIDCamel       flexibleString `json:"tenantId"`
	Greeting            rawGreeting    `json:"greeting"`
	WelcomeMessage      rawGreeting    `json:"welcome_message"`
	WelcomeMessageCamel rawGreeting    `json:"welcomeMessage"`
}

func (a wireAgent) toChat() chat.Agent {
	limit := chat.UnlimitedQuota
	if value := firstFloat(a.MonthlyLimit, a.MonthlyLimitCamel); value != nil {
		limit = int64(math.Round(*value))
		if limit < 0 {
			limit = chat.UnlimitedQuota
		}
	}
	return chat.Agent{
		ID:           firstNonEmpty(string(a.ID), string(a.AgentID)),
		Slug:         strings.TrimSpace(a.Slug),
		Name:         strings.TrimSpace(a.Name),
		Description:  strings.TrimSpace(a.Description),
		IsActive:     boolOr(true, a.IsActive, a.IsActiveCamel),
		MonthlyLimit: limit,
		TenantID:     firstNonEmpty(string(a.TenantID), string(a.TenantIDCamel)),
		Greeting:     firstNonEmpty(string(a.Greeting), string(a.WelcomeMessage), string(a.WelcomeMessageCamel)),
	}
}

type wireMessage struct {
	ID             flexibleString `json:"id"`
	MessageID      flexibleString `json:"message_id"`
	Content        *string        `json:"content"`
	Text           *string        `json:"text"`
	Role           string         `json:"role"`
	Sender         string         `json:"sender"`
	CreatedAt      wireTime       `json:"created_at"`
	CreatedAtCamel wireTime       `json:"createdAt"`
	Time           wireTime       `json:"time"`
	Liked          *bool          `json:"liked"`
}

func (m wireMessage) toChat() chat.Message {
	text := ""
	switch {
	case m.Content != nil:
		text = *m.Content
	case m.Text != nil:
		text = *m.Text
	}
	at := m.CreatedAt.Time
	if at.IsZero() {
		at = m.CreatedAtCamel.Time
	}
	if at.IsZero() {
		at = m.Time.Time
	}
	role := normalizeRole(firstNonEmpty(m.Role, m.Sender))
	var liked *bool
	if m.Liked != nil && role == chat.RoleAgent {
		value := *m.Liked
		liked = &value
	}
	return chat.Message{
		ID:     firstNonEmpty(string(m.ID), string(m.MessageID)),
		Text:   text,
		Role:   role,
		Time:   at,
		Liked:  liked,
		Status: chat.StatusConfirmed,
	}
}

func normalizeRole(raw string) chat.Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human", "customer", "visitor":
		return chat.RoleUser
	default:
		return chat.RoleAgent
	}
}

type wireSessionHeader struct {
	ID             flexibleString `json:"id"`
	SessionID      flexibleString `json:"session_id"`
	SessionIDCamel flexibleString `json:"sessionId"`
	IsActive       *bool          `json:"is_active"`
	IsActiveCamel  *bool          `json:"isActive"`
	Agent          *wireAgent     `json:"agent"`
}

type wireSession struct {
	wireSessionHeader
	Session  *wireSessionHeader `json:"session"`
	Messages []wireMessage      `json:"messages"`
}

func (s wireSession) toChat(fallbackID string) chat.Snapshot {
	header := s.wireSessionHeader
	if s.Session != nil {
		header = *s.Session
	}
	snap := chat.Snapshot{
		SessionID: firstNonEmpty(string(header.ID), string(header.SessionID), string(header.SessionIDCamel), fallbackID),
		IsActive:  boolOr(true, header.IsActive, header.IsActiveCamel),
		Messages:  make([]chat.Message, 0, len(s.Messages)),
	}
	if header.Agent != nil {
		snap.Agent = header.Agent.toChat()
	}
	for _, msg := range s.Messages {
		snap.Messages = append(snap.Messages, msg.toChat())
	}
	return snap
}

type startChatResponse struct {
	ID             flexibleString `json:"id"`
	SessionID      flexibleString `json:"session_id"`
	SessionIDCamel flexibleString `json:"sessionId"`
	ChatSessionID  flexibleString `json:"chat_session_id"`
}

func (r startChatResponse) sessionID() string {
	return firstNonEmpty(string(r.SessionID), string(r.SessionIDCamel), string(r.ChatSessionID), string(r.ID))
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID            string    `json:"id"`
	AgentID       string    `json:"agent_id"`
	AgentName     string    `json:"agent_name,omitempty"`
	IsActive      bool      `json:"is_active"`
	MessageCount  int       `json:"message_count"`
	LastMessageAt time.Time `json:"last_message_at,omitempty"`
}

type wireSessionSummary struct {
	ID            flexibleString `json:"id"`
	AgentID       flexibleString `json:"agent_id"`
	AgentName     string         `json:"agent_name"`
	Agent         *wireAgent     `json:"agent"`
	IsActive      *bool          `json:"is_active"`
	MessageCount  int            `json:"message_count"`
	LastMessageAt wireTime       `json:"last_message_at"`
	UpdatedAt     wireTime       `json:"updated_at"`
}

func (s wireSessionSummary) toSummary() SessionSummary {
	summary := SessionSummary{
		ID:            string(s.ID),
		AgentID:       string(s.AgentID),
		AgentName:     strings.TrimSpace(s.AgentName),
		IsActive:      boolOr(true, s.IsActive),
		MessageCount:  s.MessageCount,
		LastMessageAt: s.LastMessageAt.Time,
	}
	if summary.LastMessageAt.IsZero() {
		summary.LastMessageAt = s.UpdatedAt.Time
	}
	if s.Agent != nil {
		agent := s.Agent.toChat()
		summary.AgentID = firstNonEmpty(summary.AgentID, agent.ID)
		summary.AgentName = firstNonEmpty(summary.AgentName, agent.Name)
	}
	return summary
}

// decodeList accepts either a bare array or an object wrapping the array
// under key.
func decodeList[T any](payload json.RawMessage, key string) ([]T, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, nil
	}
	if payload[0] == '[' {
		var items []T
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, err
	}
	raw, ok := wrapped[key]
	if !ok {
		raw, ok = wrapped["data"]
	}
	if !ok {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func firstFloat(values ...*float64) *float64 {
	for _, value := range values {
		if value != nil {
			return value
		}
	}
	return nil
}

func boolOr(fallback bool, values ...*bool) bool {
	for _, value := range values {
		if value != nil {
			return *value
		}
	}
	return fallback
}
