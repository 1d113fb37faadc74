package chat

import (
	"errors"
	"strings"
)

var (
	ErrNoTarget           = errors.New("agent id or session id is required")
	ErrNotFound           = errors.New("not found")
	ErrAgentUnavailable   = errors.New("agent unavailable")
	ErrSessionInactive    = errors.New("session is no longer active")
	ErrSessionClosed      = errors.New("session is closed")
	ErrNoSession          = errors.New("session has not started yet")
	ErrEmptyMessage       = errors.New("message is empty")
	ErrUsageLimitReached  = errors.New("monthly token limit reached")
	ErrSendInFlight       = errors.New("a message is still being sent")
	ErrUnknownMessage     = errors.New("unknown message")
	ErrFeedbackNotAllowed = errors.New("feedback is only accepted on confirmed agent messages")
	ErrMessageNotFailed   = errors.New("message has not failed")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrDetached           = errors.New("session was detached")
	ErrNoSubscriber       = errors.New("no subscriber configured")
)

const (
	genericFailureText = "Something went wrong. Please try again."
	sendFailureText    = "Your message could not be sent. Please try again."
)

// SendError reports a send that the backend rejected. The local message stays
// in the view, marked failed.
type SendError struct {
	MessageID string
	Err       error
}

func (e *SendError) Error() string {
	if e == nil || e.Err == nil {
		return "send message failed"
	}
	return "send message: " + e.Err.Error()
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage converts an error into the text a user should see. Errors that
// carry a server-provided detail show that detail.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrEmptyMessage):
		return "Type a message before sending."
	case errors.Is(err, ErrUsageLimitReached):
		return usageLimitBanner
	case errors.Is(err, ErrSendInFlight):
		return "Wait for the current message to finish sending."
	case errors.Is(err, ErrSessionInactive), errors.Is(err, ErrSessionClosed):
		return "This conversation has been closed."
	case errors.Is(err, ErrInvalidEmail):
		return "Enter a valid email address."
	case errors.Is(err, ErrNoSession):
		return "Send a message to start the conversation first."
	case errors.Is(err, ErrFeedbackNotAllowed):
		return "Only agent replies can be rated."
	}

	var detailed interface{ ServerDetail() string }
	if errors.As(err, &detailed) {
		if detail := strings.TrimSpace(detailed.ServerDetail()); detail != "" {
			return detail
		}
	}

	var sendErr *SendError
	switch {
	case errors.As(err, &sendErr):
		return sendFailureText
	case errors.Is(err, ErrAgentUnavailable):
		return "This agent is not available right now."
	case errors.Is(err, ErrNotFound):
		return "We couldn't find that conversation."
	}
	return genericFailureText
}
