// Package widget serves the public chat contract to embedded website widgets.
// Each widget conversation is a chat.Session kept live in a Registry; view
// changes are pushed to widget clients over the websocket hub.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/samhotchkiss/agentdesk/internal/chat"
	"github.com/samhotchkiss/agentdesk/internal/metrics"
	"github.com/samhotchkiss/agentdesk/internal/ws"
)

const (
	defaultRequestTimeout = 45 * time.Second
	maxRequestBodyBytes   = 64 << 10
)

var startTime = time.Now()

// Server wires the widget routes to a chat backend.
type Server struct {
	Backend  chat.Backend
	Hub      *ws.Hub
	Registry *Registry
	// Upstream, when set, keeps live sessions subscribed to backend pushes.
	Upstream         chat.Subscriber
	AllowedOrigins   []string
	WSAllowedOrigins []string
	RequestTimeout   time.Duration
	Logf             func(string, ...any)
}

type HealthResponse struct {
	Status       string `json:"status"`
	Uptime       string `json:"uptime"`
	Version      string `json:"version"`
	Timestamp    string `json:"timestamp"`
	LiveSessions int    `json:"live_sessions"`
}

type widgetResponse struct {
	View  *chat.View `json:"view,omitempty"`
	Error string     `json:"error,omitempty"`
	Code  string     `json:"code,omitempty"`
}

type sendRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Liked     *bool  `json:"liked"`
}

type exportRequest struct {
	Email string `json:"email"`
}

type messageRequest struct {
	MessageID string `json:"message_id"`
}

var errInvalidBody = errors.New("invalid JSON body")

// Router builds the HTTP handler for the gateway.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/ws", &ws.Handler{
		Hub:               s.Hub,
		SessionAuthorizer: s.Registry,
		AllowedOrigins:    s.WSAllowedOrigins,
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Use(recordRouteMetrics)

		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/widget/{slug}", s.handleAgentConfig)
		r.Post("/widget/{slug}/messages", s.handleSend)
		r.Get("/widget/sessions/{id}", s.handleGetSession)
		r.Post("/widget/sessions/{id}/feedback", s.handleFeedback)
		r.Post("/widget/sessions/{id}/export", s.handleExport)
		r.Post("/widget/sessions/{id}/close", s.handleClose)
		r.Post("/widget/sessions/{id}/retry", s.handleRetry)
		r.Post("/widget/sessions/{id}/discard", s.handleDiscard)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		Uptime:       time.Since(startTime).Round(time.Second).String(),
		Version:      getVersion(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		LiveSessions: s.Registry.Len(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, metrics.SnapshotNow())
}

// recordRouteMetrics counts requests per route pattern.
func recordRouteMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordRequest(r.Method+" "+route, status, time.Since(start))
	})
}

// handleAgentConfig returns the pre-conversation view: the agent, its
// greeting, and whether sending is allowed.
func (s *Server) handleAgentConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	session, err := chat.Open(ctx, s.Backend, chat.Target{AgentID: chi.URLParam(r, "slug")})
	if err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	defer session.Detach()
	writeResult(w, session.View(), nil)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeResult(w, chat.View{}, chat.ErrEmptyMessage)
		return
	}

	ctx, cancel := s.opContext(r)
	defer cancel()

	var (
		session *chat.Session
		release func()
		err     error
	)
	fresh := strings.TrimSpace(req.SessionID) == ""
	if fresh {
		session, err = s.open(ctx, chat.Target{AgentID: chi.URLParam(r, "slug")})
		release = func() {}
	} else {
		session, release, err = s.lookup(ctx, req.SessionID)
	}
	if err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	defer release()

	view, sendErr := session.Send(ctx, req.Message)
	if fresh {
		if id := session.SessionID(); id != "" {
			s.register(id, session)
		} else {
			session.Detach()
		}
	}
	writeResult(w, view, sendErr)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	session, ok := s.Registry.Get(id)
	if !ok {
		resumed, release, err := s.lookup(ctx, id)
		if err != nil {
			writeResult(w, chat.View{}, err)
			return
		}
		defer release()
		writeResult(w, resumed.View(), nil)
		return
	}

	view, err := session.Refresh(ctx)
	if err == nil && view.State == chat.StateClosed {
		// Same answer as a cold resume: no messages from a closed session.
		s.Registry.Remove(id)
		writeResult(w, chat.View{}, chat.ErrSessionInactive)
		return
	}
	writeResult(w, view, err)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	if strings.TrimSpace(req.MessageID) == "" || req.Liked == nil {
		writeResult(w, chat.View{}, errInvalidBody)
		return
	}
	s.withSession(w, r, func(ctx context.Context, session *chat.Session) (chat.View, error) {
		return session.Feedback(ctx, strings.TrimSpace(req.MessageID), *req.Liked)
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	s.withSession(w, r, func(ctx context.Context, session *chat.Session) (chat.View, error) {
		return session.Export(ctx, req.Email)
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.withSession(w, r, func(ctx context.Context, session *chat.Session) (chat.View, error) {
		view, err := session.Close(ctx)
		if err == nil {
			s.Registry.Remove(id)
		}
		return view, err
	})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	s.withSession(w, r, func(ctx context.Context, session *chat.Session) (chat.View, error) {
		return session.Retry(ctx, strings.TrimSpace(req.MessageID))
	})
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	s.withSession(w, r, func(ctx context.Context, session *chat.Session) (chat.View, error) {
		return session.Discard(strings.TrimSpace(req.MessageID))
	})
}

func (s *Server) withSession(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, session *chat.Session) (chat.View, error),
) {
	ctx, cancel := s.opContext(r)
	defer cancel()

	session, release, err := s.lookup(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeResult(w, chat.View{}, err)
		return
	}
	defer release()

	view, err := fn(ctx, session)
	writeResult(w, view, err)
}

// lookup returns the live session for id, resuming it from the backend on a
// miss. release detaches a resumed session that could not be registered.
func (s *Server) lookup(ctx context.Context, id string) (*chat.Session, func(), error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, chat.ErrNoSession
	}
	if session, ok := s.Registry.Get(id); ok {
		return session, func() {}, nil
	}

	session, err := s.open(ctx, chat.Target{SessionID: id})
	if err != nil {
		return nil, nil, err
	}
	registered := s.register(id, session)
	if registered == nil {
		return session, session.Detach, nil
	}
	return registered, func() {}, nil
}

func (s *Server) open(ctx context.Context, target chat.Target) (*chat.Session, error) {
	feed := &sessionFeed{hub: s.Hub, sessionID: target.SessionID}
	opts := []chat.Option{
		chat.WithObserver(feed.publishView),
		chat.WithNotifier(feed),
	}
	if s.Upstream != nil {
		opts = append(opts, chat.WithSubscriber(s.Upstream))
	}
	return chat.Open(ctx, s.Backend, target, opts...)
}

// register stores a session under id and starts following upstream pushes
// for it. It returns nil when the registry is full.
func (s *Server) register(id string, session *chat.Session) *chat.Session {
	registered, err := s.Registry.Put(id, session)
	if err != nil {
		metrics.RecordSessionRejected()
		s.logf("warning: widget session not cached: session_id=%s err=%v", id, err)
		return nil
	}
	if registered != session {
		return registered
	}
	metrics.RecordSessionRegistered()
	if s.Upstream == nil {
		return registered
	}

	watchCtx, stop := context.WithCancel(context.Background())
	if !s.Registry.SetWatch(id, stop) {
		stop()
		return registered
	}
	metrics.RecordUpstreamWatch()
	go func() {
		defer stop()
		if err := session.Watch(watchCtx); err != nil {
			s.logf("warning: upstream watch ended: session_id=%s err=%v", id, err)
		}
	}()
	return registered
}

// opContext bounds backend work by RequestTimeout. It is detached from the
// client connection so a widget that navigates away mid-send does not fail
// the send.
func (s *Server) opContext(r *http.Request) (context.Context, context.CancelFunc) {
	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

func (s *Server) logf(format string, args ...any) {
	if s.Logf != nil {
		s.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// sessionFeed pushes a session's views and notices to its websocket topic.
type sessionFeed struct {
	hub       *ws.Hub
	mu        sync.Mutex
	sessionID string
}

func (f *sessionFeed) publishView(view chat.View) {
	if f.hub == nil || view.SessionID == "" {
		return
	}
	f.mu.Lock()
	f.sessionID = view.SessionID
	f.mu.Unlock()
	_ = f.hub.PublishEnvelope(ws.Envelope{
		Type:      ws.MessageSessionView,
		Topic:     ws.SessionTopic(view.SessionID),
		SessionID: view.SessionID,
		Data:      view,
	})
}

func (f *sessionFeed) Notify(n chat.Notice) {
	f.mu.Lock()
	id := f.sessionID
	f.mu.Unlock()
	if f.hub == nil || id == "" {
		return
	}
	_ = f.hub.PublishEnvelope(ws.Envelope{
		Type:      ws.MessageNotice,
		Topic:     ws.SessionTopic(id),
		SessionID: id,
		Data:      n,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return errInvalidBody
	}
	return nil
}

func writeResult(w http.ResponseWriter, view chat.View, err error) {
	if err == nil {
		sendJSON(w, http.StatusOK, widgetResponse{View: &view})
		return
	}
	resp := widgetResponse{Error: errorText(err), Code: errorCode(err)}
	// Failed sends still carry the view so the widget can offer retry.
	if view.Agent.ID != "" || view.SessionID != "" || len(view.Messages) > 0 {
		resp.View = &view
	}
	sendJSON(w, statusForError(err), resp)
}

func errorText(err error) string {
	if errors.Is(err, errInvalidBody) {
		return errInvalidBody.Error()
	}
	return chat.UserMessage(err)
}

func statusForError(err error) int {
	var sendErr *chat.SendError
	switch {
	case errors.Is(err, errInvalidBody),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrInvalidEmail),
		errors.Is(err, chat.ErrFeedbackNotAllowed),
		errors.Is(err, chat.ErrMessageNotFailed),
		errors.Is(err, chat.ErrNoSession),
		errors.Is(err, chat.ErrNoTarget):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrUsageLimitReached):
		return http.StatusTooManyRequests
	case errors.Is(err, chat.ErrSendInFlight):
		return http.StatusConflict
	case errors.Is(err, chat.ErrSessionInactive), errors.Is(err, chat.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, chat.ErrUnknownMessage),
		errors.Is(err, chat.ErrNotFound),
		errors.Is(err, chat.ErrAgentUnavailable):
		return http.StatusNotFound
	case errors.As(err, &sendErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errInvalidBody):
		return "invalid_body"
	case errors.Is(err, chat.ErrEmptyMessage):
		return "empty_message"
	case errors.Is(err, chat.ErrUsageLimitReached):
		return "usage_limit_reached"
	case errors.Is(err, chat.ErrSendInFlight):
		return "send_in_flight"
	case errors.Is(err, chat.ErrSessionInactive), errors.Is(err, chat.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, chat.ErrAgentUnavailable):
		return "agent_unavailable"
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, chat.ErrUnknownMessage):
		return "not_found"
	}
	var sendErr *chat.SendError
	if errors.As(err, &sendErr) {
		return "send_failed"
	}
	return ""
}

func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func getVersion() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
