package widget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/chat"
)

type fakeSession struct {
	agentID  string
	active   bool
	messages []chat.Message
}

// fakeBackend is an in-memory public chat backend keyed by agent slug.
type fakeBackend struct {
	mu       sync.Mutex
	agents   map[string]chat.Agent
	sessions map[string]*fakeSession
	sendErr  error
	exported []string
	calls    []string
	nextID   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		agents: map[string]chat.Agent{
			"sales": {
				ID:           "agent-1",
				Slug:         "sales",
				Name:         "Sales Assistant",
				IsActive:     true,
				MonthlyLimit: 1000,
				Greeting:     `["Hi","How can I help?"]`,
			},
			"broke": {
				ID:           "agent-2",
				Slug:         "broke",
				Name:         "Out of tokens",
				IsActive:     true,
				MonthlyLimit: 0,
			},
			"retired": {
				ID:       "agent-3",
				Slug:     "retired",
				IsActive: false,
			},
		},
		sessions: make(map[string]*fakeSession),
	}
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) setSendErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeBackend) GetAgent(ctx context.Context, slug string) (chat.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetAgent:"+slug)
	agent, ok := f.agents[slug]
	if !ok {
		return chat.Agent{}, chat.ErrNotFound
	}
	return agent, nil
}

func (f *fakeBackend) agentByIDLocked(id string) chat.Agent {
	for _, agent := range f.agents {
		if agent.ID == id {
			return agent
		}
	}
	return chat.Agent{}
}

func (f *fakeBackend) GetSession(ctx context.Context, sessionID string) (chat.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "GetSession:"+sessionID)
	session, ok := f.sessions[sessionID]
	if !ok {
		return chat.Snapshot{}, chat.ErrNotFound
	}
	return chat.Snapshot{
		SessionID: sessionID,
		Agent:     f.agentByIDLocked(session.agentID),
		IsActive:  session.active,
		Messages:  append([]chat.Message(nil), session.messages...),
	}, nil
}

func (f *fakeBackend) StartChat(ctx context.Context, agentID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "StartChat:"+agentID)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	id := fmt.Sprintf("session-%d", f.nextID)
	f.sessions[id] = &fakeSession{agentID: agentID, active: true}
	f.appendExchangeLocked(f.sessions[id], text)
	return id, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "SendMessage:"+sessionID)
	if f.sendErr != nil {
		return f.sendErr
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return chat.ErrNotFound
	}
	f.appendExchangeLocked(session, text)
	return nil
}

func (f *fakeBackend) SendFeedback(ctx context.Context, messageID string, liked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, session := range f.sessions {
		for i := range session.messages {
			if session.messages[i].ID == messageID {
				value := liked
				session.messages[i].Liked = &value
				return nil
			}
		}
	}
	return chat.ErrNotFound
}

func (f *fakeBackend) ExportSession(ctx context.Context, sessionID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exported = append(f.exported, sessionID+":"+email)
	return nil
}

func (f *fakeBackend) CloseSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return chat.ErrNotFound
	}
	session.active = false
	return nil
}

func (f *fakeBackend) appendExchangeLocked(session *fakeSession, text string) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(len(session.messages)) * time.Second)
	n := len(session.messages)
	session.messages = append(session.messages,
		chat.Message{ID: fmt.Sprintf("m-%d", n+1), Text: text, Role: chat.RoleUser, Time: base, Status: chat.StatusConfirmed},
		chat.Message{ID: fmt.Sprintf("m-%d", n+2), Text: "reply to " + text, Role: chat.RoleAgent, Time: base.Add(time.Second), Status: chat.StatusConfirmed},
	)
}
