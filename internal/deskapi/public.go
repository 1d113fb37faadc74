package deskapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samhotchkiss/agentdesk/internal/chat"
)

var _ chat.Backend = (*PublicClient)(nil)

// PublicClient talks to the unauthenticated routes used by embedded widgets.
// Agents are addressed by slug.
type PublicClient struct {
	api *Client
}

func NewPublicClient(baseURL string, httpClient *http.Client) (*PublicClient, error) {
	baseURL = normalizeAPIBaseURL(baseURL)
	if baseURL == "" {
		return nil, errors.New("missing API base URL")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &PublicClient{api: &Client{BaseURL: baseURL, HTTP: httpClient}}, nil
}

type publicSessionRequest struct {
	AgentID string `json:"agent_id"`
}

type publicMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (p *PublicClient) GetAgent(ctx context.Context, slug string) (chat.Agent, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return chat.Agent{}, errors.New("agent slug is required")
	}
	req, err := p.api.newRequest(ctx, http.MethodGet, "/public-agent-config/slug/"+url.PathEscape(slug), nil)
	if err != nil {
		return chat.Agent{}, err
	}
	var resp struct {
		wireAgent
		Agent *wireAgent `json:"agent"`
	}
	if err := p.api.do(req, &resp); err != nil {
		return chat.Agent{}, mapNotFound(err)
	}
	agent := resp.wireAgent.toChat()
	if resp.Agent != nil {
		agent = resp.Agent.toChat()
	}
	if agent.Slug == "" {
		agent.Slug = slug
	}
	return agent, nil
}

// StartChat creates a public session and posts the first message. If the
// session is created but the message is rejected, the new session id is
// returned along with the error.
func (p *PublicClient) StartChat(ctx context.Context, agentID, text string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", errors.New("agent id is required")
	}
	req, err := p.api.newJSONRequest(ctx, http.MethodPost, "/public-chat/session", publicSessionRequest{AgentID: agentID})
	if err != nil {
		return "", err
	}
	var resp startChatResponse
	if err := p.api.do(req, &resp); err != nil {
		return "", err
	}
	sessionID := resp.sessionID()
	if sessionID == "" {
		return "", &ResponseDecodeError{StatusCode: http.StatusOK, Detail: "create session response missing session id"}
	}
	if err := p.SendMessage(ctx, sessionID, text); err != nil {
		return sessionID, fmt.Errorf("send first message: %w", err)
	}
	return sessionID, nil
}

func (p *PublicClient) SendMessage(ctx context.Context, sessionID, text string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("session id is required")
	}
	req, err := p.api.newJSONRequest(ctx, http.MethodPost, "/public-chat/message", publicMessageRequest{
		SessionID: sessionID,
		Message:   text,
	})
	if err != nil {
		return err
	}
	return p.api.do(req, nil)
}

func (p *PublicClient) GetSession(ctx context.Context, sessionID string) (chat.Snapshot, error) {
	path, err := sessionPath("/public-chat/session/", sessionID, "/messages")
	if err != nil {
		return chat.Snapshot{}, err
	}
	req, err := p.api.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return chat.Snapshot{}, err
	}
	var resp wireSession
	if err := p.api.do(req, &resp); err != nil {
		return chat.Snapshot{}, mapNotFound(err)
	}
	return resp.toChat(strings.TrimSpace(sessionID)), nil
}

func (p *PublicClient) SendFeedback(ctx context.Context, messageID string, liked bool) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return errors.New("message id is required")
	}
	req, err := p.api.newJSONRequest(ctx, http.MethodPost, "/public-chat/message/"+url.PathEscape(messageID)+"/feedback", feedbackRequest{Liked: liked})
	if err != nil {
		return err
	}
	return p.api.do(req, nil)
}

func (p *PublicClient) ExportSession(ctx context.Context, sessionID, email string) error {
	path, err := sessionPath("/public-chat/session/", sessionID, "/export")
	if err != nil {
		return err
	}
	req, err := p.api.newJSONRequest(ctx, http.MethodPost, path, exportRequest{Email: strings.TrimSpace(email)})
	if err != nil {
		return err
	}
	return p.api.do(req, nil)
}

func (p *PublicClient) CloseSession(ctx context.Context, sessionID string) error {
	path, err := sessionPath("/public-chat/session/", sessionID, "/close")
	if err != nil {
		return err
	}
	req, err := p.api.newRequest(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}
	return p.api.do(req, nil)
}
