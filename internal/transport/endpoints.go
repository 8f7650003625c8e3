package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"gwi.com/coach-client/internal/store"
)

// Auth

// Login exchanges credentials, sent as an HTTP Basic header, for an access
// token. The server also sets the refresh cookie.
func (c *Client) Login(ctx context.Context, email, password string) (*store.TokenResponse, error) {
	var tok store.TokenResponse
	opts := callOptions{basicCreds: true, basicUser: email, basicPass: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, &tok, opts); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("login response carried no access token")
	}
	return &tok, nil
}

func (c *Client) Register(ctx context.Context, req store.RegisterRequest) (*store.User, error) {
	var user store.User
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &user, public); err != nil {
		return nil, err
	}
	return &user, nil
}

// Refresh trades the cookie-held credential for a new access token.
func (c *Client) Refresh(ctx context.Context) (*store.TokenResponse, error) {
	var tok store.TokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", nil, &tok, public); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("refresh response carried no access token")
	}
	return &tok, nil
}

func (c *Client) Me(ctx context.Context) (*store.User, error) {
	var user store.User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &user, authenticated); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, authenticatedNoRetry)
}

func (c *Client) OnboardingStatus(ctx context.Context) (store.OnboardingStatus, error) {
	var resp store.OnboardingStatusResponse
	if err := c.do(ctx, http.MethodGet, "/onboarding/status", nil, &resp, authenticated); err != nil {
		return "", err
	}
	if !resp.Status.Valid() {
		return "", fmt.Errorf("unknown onboarding status %q", resp.Status)
	}
	return resp.Status, nil
}

// Chat

func (c *Client) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	var list []store.Conversation
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", nil, &list, authenticated); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) CreateConversation(ctx context.Context, req store.CreateConversationRequest) (*store.Conversation, error) {
	var conv store.Conversation
	if err := c.do(ctx, http.MethodPost, "/chat/conversations", req, &conv, authenticated); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) UpdateConversation(ctx context.Context, id string, req store.UpdateConversationRequest) (*store.Conversation, error) {
	var conv store.Conversation
	if err := c.do(ctx, http.MethodPatch, conversationPath(id), req, &conv, authenticated); err != nil {
		return nil, err
	}
	return &conv, nil
}

func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, conversationPath(id), nil, nil, authenticated)
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	var list []store.Message
	if err := c.do(ctx, http.MethodGet, conversationPath(conversationID)+"/messages", nil, &list, authenticated); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*store.SendMessageResponse, error) {
	var resp store.SendMessageResponse
	req := store.SendMessageRequest{Content: content}
	if err := c.do(ctx, http.MethodPost, conversationPath(conversationID)+"/messages", req, &resp, authenticated); err != nil {
		return nil, err
	}
	return &resp, nil
}

func conversationPath(id string) string {
	return "/chat/conversations/" + url.PathEscape(id)
}
