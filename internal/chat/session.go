package chat

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
)

// Target selects how a session is bootstrapped. SessionID resumes an existing
// conversation; otherwise AgentID starts a new one on the first Send.
type Target struct {
	AgentID   string
	SessionID string
}

type Option func(*Session)

func WithNotifier(n Notifier) Option {
	return func(s *Session) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithObserver registers a callback that receives a fresh View after every
// state change. Observers run outside the session lock.
func WithObserver(fn func(View)) Option {
	return func(s *Session) {
		if fn != nil {
			s.observers = append(s.observers, fn)
		}
	}
}

func WithSubscriber(sub Subscriber) Option {
	return func(s *Session) {
		s.subscriber = sub
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session owns one conversation's client-side state. All methods are safe for
// concurrent use, but only one send may be in flight at a time.
type Session struct {
	backend    Backend
	notifier   Notifier
	observers  []func(View)
	subscriber Subscriber
	now        func() time.Time

	// ctx lives as long as the session is attached to a UI. Responses that
	// arrive after Detach are dropped.
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	agentRef    string
	agent       Agent
	sessionID   string
	state       State
	store       *MessageStore
	sending     bool
	accepted    []string
	refreshSeq  uint64
	appliedSeq  uint64
	watchCancel context.CancelFunc
}

// Open bootstraps a session from an agent reference or an existing session
// id. Bootstrap failures are reported to the notifier and returned; callers
// are expected to navigate away.
func Open(ctx context.Context, backend Backend, target Target, opts ...Option) (*Session, error) {
	if backend == nil {
		return nil, errors.New("chat backend is required")
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		backend:  backend,
		notifier: discardNotifier{},
		now: func() time.Time {
			return time.Now().UTC()
		},
		ctx:    sessionCtx,
		cancel: cancel,
		store:  NewMessageStore(),
		state:  StateNew,
	}
	for _, opt := range opts {
		opt(s)
	}

	agentRef := strings.TrimSpace(target.AgentID)
	sessionID := strings.TrimSpace(target.SessionID)

	var err error
	switch {
	case sessionID != "":
		err = s.resume(ctx, sessionID)
	case agentRef != "":
		err = s.start(ctx, agentRef)
	default:
		err = ErrNoTarget
	}
	if err != nil {
		s.Detach()
		s.notifyErr(err)
		return nil, err
	}
	return s, nil
}

func (s *Session) start(ctx context.Context, agentRef string) error {
	agent, err := s.backend.GetAgent(ctx, agentRef)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}
	if !agent.IsActive {
		return fmt.Errorf("%w: agent %s is inactive", ErrAgentUnavailable, agentRef)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentRef = agentRef
	s.agent = agent
	s.state = StateNew
	if greeting := SanitizeGreeting(agent.Greeting); greeting != "" {
		s.store.ReplaceConfirmed([]Message{{
			ID:   WelcomeMessageID,
			Text: greeting,
			Role: RoleAgent,
			Time: s.now(),
		}})
	}
	return nil
}

func (s *Session) resume(ctx context.Context, sessionID string) error {
	snap, err := s.backend.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !snap.IsActive {
		return fmt.Errorf("session %s: %w", sessionID, ErrSessionInactive)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.agent = snap.Agent
	s.agentRef = snap.Agent.ID
	s.state = StateActive
	s.store.ReplaceConfirmed(snap.Messages)
	return nil
}

// View returns the current render model.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	usageOK := CanSend(s.agent)
	return View{
		SessionID:    s.sessionID,
		Agent:        s.agent,
		State:        s.state,
		IsActive:     s.state != StateClosed,
		Messages:     s.store.Messages(),
		CanSend:      usageOK && s.state != StateClosed && !s.sending,
		Sending:      s.sending,
		UsageBlocked: !usageOK,
		Banner:       UsageBanner(s.agent),
	}
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send appends an optimistic user message and delivers it. The first send of
// a new session creates the backend session. Whitespace-only text is a no-op
// that returns ErrEmptyMessage.
func (s *Session) Send(ctx context.Context, text string) (View, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return s.View(), ErrEmptyMessage
	}

	s.mu.Lock()
	if err := s.sendableLocked(); err != nil {
		s.mu.Unlock()
		s.notifyErr(err)
		return s.View(), err
	}
	pending := s.store.AddPending(text, s.now())
	s.sending = true
	s.mu.Unlock()
	s.publish()

	return s.dispatch(ctx, pending)
}

// Retry resends a message whose earlier send failed.
func (s *Session) Retry(ctx context.Context, messageID string) (View, error) {
	s.mu.Lock()
	msg, ok := s.store.Find(messageID)
	if !ok {
		s.mu.Unlock()
		return s.View(), ErrUnknownMessage
	}
	if msg.Status != StatusFailed {
		s.mu.Unlock()
		return s.View(), ErrMessageNotFailed
	}
	if err := s.sendableLocked(); err != nil {
		s.mu.Unlock()
		s.notifyErr(err)
		return s.View(), err
	}
	s.store.MarkPending(messageID)
	s.sending = true
	s.mu.Unlock()
	s.publish()

	return s.dispatch(ctx, msg)
}

// Discard removes a failed message from the view.
func (s *Session) Discard(messageID string) (View, error) {
	s.mu.Lock()
	msg, ok := s.store.Find(messageID)
	if !ok {
		s.mu.Unlock()
		return s.View(), ErrUnknownMessage
	}
	if msg.Status != StatusFailed {
		s.mu.Unlock()
		return s.View(), ErrMessageNotFailed
	}
	s.store.Discard(messageID)
	s.mu.Unlock()
	s.publish()
	return s.View(), nil
}

func (s *Session) sendableLocked() error {
	switch {
	case s.detachedLocked():
		return ErrDetached
	case s.state == StateClosed:
		return ErrSessionClosed
	case !CanSend(s.agent):
		return ErrUsageLimitReached
	case s.sending:
		return ErrSendInFlight
	}
	return nil
}

func (s *Session) dispatch(ctx context.Context, pending Message) (View, error) {
	s.mu.Lock()
	sessionID := s.sessionID
	agentID := s.agent.ID
	if agentID == "" {
		agentID = s.agentRef
	}
	s.mu.Unlock()

	reqCtx, cancel := s.bind(ctx)
	defer cancel()

	var err error
	if sessionID == "" {
		sessionID, err = s.backend.StartChat(reqCtx, agentID, pending.Text)
		sessionID = strings.TrimSpace(sessionID)
		if err == nil && sessionID == "" {
			err = errors.New("backend did not return a session id")
		}
	} else {
		err = s.backend.SendMessage(reqCtx, sessionID, pending.Text)
	}

	s.mu.Lock()
	if s.detachedLocked() {
		s.mu.Unlock()
		return View{}, ErrDetached
	}
	s.sending = false
	if s.sessionID == "" && sessionID != "" {
		s.sessionID = sessionID
		s.state = StateActive
	}
	if err != nil {
		s.store.MarkFailed(pending.ID)
		s.mu.Unlock()
		sendErr := &SendError{MessageID: pending.ID, Err: err}
		s.notifyErr(sendErr)
		s.publish()
		return s.View(), sendErr
	}
	s.accepted = append(s.accepted, pending.ID)
	s.mu.Unlock()

	if err := s.refresh(reqCtx); err != nil && !errors.Is(err, ErrDetached) {
		// The message was accepted; the next successful refresh settles it.
		s.notify(NoticeWarning, "Message sent, but the conversation could not be refreshed.")
		s.publish()
	}
	return s.View(), nil
}

// Refresh refetches the confirmed history and settles local messages whose
// sends were accepted before the refresh was issued.
func (s *Session) Refresh(ctx context.Context) (View, error) {
	reqCtx, cancel := s.bind(ctx)
	defer cancel()
	if err := s.refresh(reqCtx); err != nil {
		s.notifyErr(err)
		return s.View(), err
	}
	return s.View(), nil
}

func (s *Session) refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.detachedLocked() {
		s.mu.Unlock()
		return ErrDetached
	}
	sessionID := s.sessionID
	if sessionID == "" {
		s.mu.Unlock()
		return nil
	}
	s.refreshSeq++
	seq := s.refreshSeq
	settle := append([]string(nil), s.accepted...)
	s.mu.Unlock()

	snap, err := s.backend.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("refresh session %s: %w", sessionID, err)
	}

	s.mu.Lock()
	if s.detachedLocked() || s.sessionID != sessionID {
		s.mu.Unlock()
		return ErrDetached
	}
	if seq <= s.appliedSeq {
		// A refresh issued later has already been applied.
		s.mu.Unlock()
		return nil
	}
	s.appliedSeq = seq
	s.store.Settle(snap.Messages, settle)
	s.accepted = removeIDs(s.accepted, settle)
	if snap.Agent.ID != "" {
		s.agent = snap.Agent
	}
	if !snap.IsActive {
		s.markClosedLocked()
	}
	s.mu.Unlock()
	s.publish()
	return nil
}

// Feedback rates an agent message. The view reflects the backend's value
// after the follow-up refresh, never an optimistic flip.
func (s *Session) Feedback(ctx context.Context, messageID string, liked bool) (View, error) {
	s.mu.Lock()
	msg, ok := s.store.Find(messageID)
	s.mu.Unlock()
	if !ok {
		return s.View(), ErrUnknownMessage
	}
	if msg.Role != RoleAgent || msg.Status != StatusConfirmed || msg.ID == WelcomeMessageID {
		return s.View(), ErrFeedbackNotAllowed
	}

	reqCtx, cancel := s.bind(ctx)
	defer cancel()
	if err := s.backend.SendFeedback(reqCtx, messageID, liked); err != nil {
		err = fmt.Errorf("send feedback: %w", err)
		s.notifyErr(err)
		return s.View(), err
	}
	if err := s.refresh(reqCtx); err != nil {
		s.notifyErr(err)
		return s.View(), err
	}
	return s.View(), nil
}

// Export asks the backend to email the transcript. Delivery is not tracked.
func (s *Session) Export(ctx context.Context, email string) (View, error) {
	email = strings.TrimSpace(email)
	addr, parseErr := mail.ParseAddress(email)
	if email == "" || parseErr != nil || addr.Address != email {
		return s.View(), ErrInvalidEmail
	}
	sessionID := s.SessionID()
	if sessionID == "" {
		return s.View(), ErrNoSession
	}

	reqCtx, cancel := s.bind(ctx)
	defer cancel()
	if err := s.backend.ExportSession(reqCtx, sessionID, email); err != nil {
		err = fmt.Errorf("export session: %w", err)
		s.notifyErr(err)
		return s.View(), err
	}
	s.notify(NoticeInfo, "Transcript sent to "+email+".")
	return s.View(), nil
}

// Close ends the conversation. Closing is refused while a send is in flight
// and is a no-op on an already closed session.
func (s *Session) Close(ctx context.Context) (View, error) {
	s.mu.Lock()
	switch {
	case s.sessionID == "":
		s.mu.Unlock()
		return s.View(), ErrNoSession
	case s.state == StateClosed:
		s.mu.Unlock()
		return s.View(), nil
	case s.sending:
		s.mu.Unlock()
		s.notifyErr(ErrSendInFlight)
		return s.View(), ErrSendInFlight
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	reqCtx, cancel := s.bind(ctx)
	defer cancel()
	if err := s.backend.CloseSession(reqCtx, sessionID); err != nil {
		err = fmt.Errorf("close session: %w", err)
		s.notifyErr(err)
		return s.View(), err
	}

	s.mu.Lock()
	s.markClosedLocked()
	s.mu.Unlock()
	s.notify(NoticeInfo, "Conversation closed.")
	s.publish()
	return s.View(), nil
}

// Watch keeps the view current from server pushes until the session closes,
// is detached, or ctx ends. The session must already have an id.
func (s *Session) Watch(ctx context.Context) error {
	if s.subscriber == nil {
		return ErrNoSubscriber
	}

	watchCtx, cancel := s.bind(ctx)
	defer cancel()

	s.mu.Lock()
	sessionID := s.sessionID
	if sessionID == "" {
		s.mu.Unlock()
		return ErrNoSession
	}
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	if s.watchCancel != nil {
		s.watchCancel()
	}
	s.watchCancel = cancel
	s.mu.Unlock()

	events, err := s.subscriber.Subscribe(watchCtx, sessionID)
	if err != nil {
		return fmt.Errorf("subscribe to session %s: %w", sessionID, err)
	}

	for {
		select {
		case <-watchCtx.Done():
			return nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			if event.SessionID != "" && event.SessionID != sessionID {
				continue
			}
			if event.Type == EventSessionClosed {
				s.mu.Lock()
				s.markClosedLocked()
				s.mu.Unlock()
				s.publish()
				return nil
			}
			if err := s.refresh(watchCtx); err != nil && !errors.Is(err, ErrDetached) && watchCtx.Err() == nil {
				s.notifyErr(err)
			}
		}
	}
}

// Detach stops the session from applying any further responses. It is called
// when the UI showing the session goes away.
func (s *Session) Detach() {
	s.cancel()
}

func removeIDs(ids, remove []string) []string {
	if len(remove) == 0 {
		return ids
	}
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	kept := ids[:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			kept = append(kept, id)
		}
	}
	return kept
}

func (s *Session) markClosedLocked() {
	s.state = StateClosed
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
}

func (s *Session) detachedLocked() bool {
	return s.ctx.Err() != nil
}

// bind derives a request context that is also cancelled when the session is
// detached.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	bound, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return bound, func() {
		stop()
		cancel()
	}
}

func (s *Session) publish() {
	if len(s.observers) == 0 {
		return
	}
	view := s.View()
	for _, fn := range s.observers {
		fn(view)
	}
}

func (s *Session) notify(level NoticeLevel, text string) {
	s.notifier.Notify(Notice{Level: level, Text: text})
}

func (s *Session) notifyErr(err error) {
	if err == nil || errors.Is(err, ErrDetached) {
		return
	}
	s.notify(NoticeError, UserMessage(err))
}
