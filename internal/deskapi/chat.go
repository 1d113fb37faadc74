package deskapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/samhotchkiss/agentdesk/internal/chat"
)

var _ chat.Backend = (*Client)(nil)

type sendMessageRequest struct {
	Message string `json:"message"`
}

type feedbackRequest struct {
	Liked bool `json:"liked"`
}

type exportRequest struct {
	Email string `json:"email"`
}

func (c *Client) GetAgent(ctx context.Context, agentID string) (chat.Agent, error) {
	if err := c.requireAuth(); err != nil {
		return chat.Agent{}, err
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return chat.Agent{}, errors.New("agent id is required")
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/agents/"+url.PathEscape(agentID), nil)
	if err != nil {
		return chat.Agent{}, err
	}
	var resp struct {
		wireAgent
		Agent *wireAgent `json:"agent"`
	}
	if err := c.do(req, &resp); err != nil {
		return chat.Agent{}, mapNotFound(err)
	}
	if resp.Agent != nil {
		return resp.Agent.toChat(), nil
	}
	agent := resp.wireAgent.toChat()
	if agent.ID == "" {
		agent.ID = agentID
	}
	return agent, nil
}

func (c *Client) ListAgents(ctx context.Context) ([]chat.Agent, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/agents", nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList[wireAgent](raw, "agents")
	if err != nil {
		return nil, &ResponseDecodeError{StatusCode: http.StatusOK, Detail: fmt.Sprintf("invalid agent list: %v", err)}
	}
	agents := make([]chat.Agent, 0, len(items))
	for _, item := range items {
		agents = append(agents, item.toChat())
	}
	return agents, nil
}

// StartChat creates a session for agentID with its first message.
func (c *Client) StartChat(ctx context.Context, agentID, text string) (string, error) {
	if err := c.requireAuth(); err != nil {
		return "", err
	}
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", errors.New("agent id is required")
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/chat/"+url.PathEscape(agentID)+"/start", sendMessageRequest{Message: text})
	if err != nil {
		return "", err
	}
	var resp startChatResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	sessionID := resp.sessionID()
	if sessionID == "" {
		return "", &ResponseDecodeError{StatusCode: http.StatusOK, Detail: "start chat response missing session id"}
	}
	return sessionID, nil
}

func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	path, err := sessionPath("/chat/", sessionID, "/message")
	if err != nil {
		return err
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, path, sendMessageRequest{Message: text})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (chat.Snapshot, error) {
	if err := c.requireAuth(); err != nil {
		return chat.Snapshot{}, err
	}
	path, err := sessionPath("/chat-messages/", sessionID, "")
	if err != nil {
		return chat.Snapshot{}, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return chat.Snapshot{}, err
	}
	var resp wireSession
	if err := c.do(req, &resp); err != nil {
		return chat.Snapshot{}, mapNotFound(err)
	}
	return resp.toChat(strings.TrimSpace(sessionID)), nil
}

func (c *Client) SendFeedback(ctx context.Context, messageID string, liked bool) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return errors.New("message id is required")
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, "/chat-messages/"+url.PathEscape(messageID)+"/feedback", feedbackRequest{Liked: liked})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) ExportSession(ctx context.Context, sessionID, email string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	path, err := sessionPath("/chat/", sessionID, "/export")
	if err != nil {
		return err
	}
	req, err := c.newJSONRequest(ctx, http.MethodPost, path, exportRequest{Email: strings.TrimSpace(email)})
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	if err := c.requireAuth(); err != nil {
		return err
	}
	path, err := sessionPath("/chat/", sessionID, "/close")
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// ListSessions returns the tenant's chat sessions, optionally for one agent.
func (c *Client) ListSessions(ctx context.Context, agentID string) ([]SessionSummary, error) {
	if err := c.requireAuth(); err != nil {
		return nil, err
	}
	path := "/chat-sessions"
	if agentID = strings.TrimSpace(agentID); agentID != "" {
		q := url.Values{}
		q.Set("agent_id", agentID)
		path += "?" + q.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return nil, err
	}
	items, err := decodeList[wireSessionSummary](raw, "sessions")
	if err != nil {
		return nil, &ResponseDecodeError{StatusCode: http.StatusOK, Detail: fmt.Sprintf("invalid session list: %v", err)}
	}
	sessions := make([]SessionSummary, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, item.toSummary())
	}
	return sessions, nil
}

func sessionPath(prefix, sessionID, suffix string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", errors.New("session id is required")
	}
	return prefix + url.PathEscape(sessionID) + suffix, nil
}
