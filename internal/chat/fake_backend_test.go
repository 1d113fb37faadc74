package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type fakeBackend struct {
	mu sync.Mutex

	agent    Agent
	agentErr error

	sessionID  string
	isActive   bool
	messages   []Message
	sessionErr error

	startErr    error
	startMinted bool
	sendErr     error
	feedbackErr error
	exportErr   error
	closeErr    error

	// sendGate, when set, blocks SendMessage/StartChat until it is closed.
	sendGate chan struct{}
	// sessionGates holds one gate per upcoming GetSession call. The snapshot
	// is taken when the call starts and returned once its gate closes.
	sessionGates   []chan struct{}
	sessionStarted chan struct{}

	calls    []string
	exported []string
	nextID   int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		agent: Agent{
			ID:           "agent-1",
			Name:         "Sales Assistant",
			IsActive:     true,
			MonthlyLimit: 10000,
			Greeting:     `{"Hola","¿Cómo puedo ayudarte?"}`,
		},
		isActive: true,
	}
}

func (f *fakeBackend) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) GetAgent(ctx context.Context, agentRef string) (Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetAgent:" + agentRef)
	if f.agentErr != nil {
		return Agent{}, f.agentErr
	}
	return f.agent, nil
}

func (f *fakeBackend) GetSession(ctx context.Context, sessionID string) (Snapshot, error) {
	f.mu.Lock()
	f.record("GetSession:" + sessionID)
	snap, err := f.snapshotLocked(sessionID)
	var gate chan struct{}
	if len(f.sessionGates) > 0 {
		gate = f.sessionGates[0]
		f.sessionGates = f.sessionGates[1:]
	}
	started := f.sessionStarted
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	return snap, err
}

func (f *fakeBackend) snapshotLocked(sessionID string) (Snapshot, error) {
	if f.sessionErr != nil {
		return Snapshot{}, f.sessionErr
	}
	if sessionID != f.sessionID {
		return Snapshot{}, ErrNotFound
	}
	messages := cloneMessages(f.messages)
	return Snapshot{
		SessionID: f.sessionID,
		Agent:     f.agent,
		IsActive:  f.isActive,
		Messages:  messages,
	}, nil
}

func (f *fakeBackend) StartChat(ctx context.Context, agentID, text string) (string, error) {
	f.waitGate(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StartChat:" + agentID)
	if f.startErr != nil {
		if f.startMinted {
			f.sessionID = "session-1"
			return f.sessionID, f.startErr
		}
		return "", f.startErr
	}
	f.sessionID = "session-1"
	f.appendExchangeLocked(text)
	return f.sessionID, nil
}

func (f *fakeBackend) SendMessage(ctx context.Context, sessionID, text string) error {
	f.waitGate(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("SendMessage:" + sessionID)
	if f.sendErr != nil {
		return f.sendErr
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.appendExchangeLocked(text)
	return nil
}

func (f *fakeBackend) SendFeedback(ctx context.Context, messageID string, liked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("SendFeedback:%s:%t", messageID, liked))
	if f.feedbackErr != nil {
		return f.feedbackErr
	}
	for i := range f.messages {
		if f.messages[i].ID == messageID {
			value := liked
			f.messages[i].Liked = &value
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeBackend) ExportSession(ctx context.Context, sessionID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ExportSession:" + sessionID)
	if f.exportErr != nil {
		return f.exportErr
	}
	f.exported = append(f.exported, email)
	return nil
}

func (f *fakeBackend) CloseSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CloseSession:" + sessionID)
	if f.closeErr != nil {
		return f.closeErr
	}
	f.isActive = false
	return nil
}

func (f *fakeBackend) waitGate(ctx context.Context) {
	f.mu.Lock()
	gate := f.sendGate
	f.mu.Unlock()
	if gate == nil {
		return
	}
	select {
	case <-gate:
	case <-ctx.Done():
	}
}

func (f *fakeBackend) appendExchangeLocked(text string) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(len(f.messages)) * time.Second)
	f.nextID++
	f.messages = append(f.messages, Message{
		ID:   fmt.Sprintf("m-%d-user", f.nextID),
		Text: text,
		Role: RoleUser,
		Time: base,
	})
	f.messages = append(f.messages, Message{
		ID:   fmt.Sprintf("m-%d-agent", f.nextID),
		Text: "reply to " + text,
		Role: RoleAgent,
		Time: base.Add(time.Second),
	})
}

type detailError struct {
	detail string
}

func (e detailError) Error() string        { return "request failed (422): " + e.detail }
func (e detailError) ServerDetail() string { return e.detail }

var errBoom = errors.New("boom")

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}
