package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gwi.com/coach-client/internal/logger"
	"gwi.com/coach-client/internal/store"
)

func init() {
	logger.Discard()
}

type failingResponder struct{}

func (failingResponder) Respond(context.Context, store.Conversation, []store.Message, string) (string, int, error) {
	return "", 0, errors.New("quota exceeded")
}

func newTestRouter(opts Options) (*Backend, http.Handler) {
	if opts.Secret == nil {
		opts.Secret = []byte("test-secret")
	}
	b := NewBackend(opts)
	return b, NewRouter(NewAPIHandler(b), false)
}

func doRequest(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func detailOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Detail
}

// signUp registers email and returns a fresh access token plus the login
// response, which carries the refresh cookie.
func signUp(t *testing.T, h http.Handler, email string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	rr := doRequest(t, h, http.MethodPost, "/auth/register", "", store.RegisterRequest{Email: email, Password: "pw", FullName: "Test"})
	require.Equal(t, http.StatusCreated, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.SetBasicAuth(email, "pw")
	login := httptest.NewRecorder()
	h.ServeHTTP(login, req)
	require.Equal(t, http.StatusOK, login.Code)

	var tok store.TokenResponse
	require.NoError(t, json.Unmarshal(login.Body.Bytes(), &tok))
	assert.Equal(t, "bearer", tok.TokenType)
	return tok.AccessToken, login
}

func createConv(t *testing.T, h http.Handler, token, title string) store.Conversation {
	t.Helper()
	rr := doRequest(t, h, http.MethodPost, "/chat/conversations", token, store.CreateConversationRequest{
		Title: title, AIProvider: "openai", AIModel: "gpt-4",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var c store.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
	return c
}

func TestHealth(t *testing.T) {
	_, h := newTestRouter(Options{})
	rr := doRequest(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRegisterHandler(t *testing.T) {
	_, h := newTestRouter(Options{})

	rr := doRequest(t, h, http.MethodPost, "/auth/register", "", store.RegisterRequest{Email: "Ada@Example.com ", Password: "pw", FullName: "Ada"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var u store.User
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &u))
	assert.Equal(t, "ada@example.com", u.Email)
	assert.NotEmpty(t, u.ID)

	rr = doRequest(t, h, http.MethodPost, "/auth/register", "", store.RegisterRequest{Email: "ada@example.com", Password: "other"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Email already registered", detailOf(t, rr))

	rr = doRequest(t, h, http.MethodPost, "/auth/register", "", store.RegisterRequest{Email: "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLoginHandler(t *testing.T) {
	_, h := newTestRouter(Options{RefreshTTL: time.Hour})
	_, login := signUp(t, h, "ada@example.com")

	cookies := login.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, refreshCookieName, c.Name)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/auth", c.Path)
	assert.Equal(t, 3600, c.MaxAge)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.SetBasicAuth("ada@example.com", "wrong")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Incorrect email or password", detailOf(t, rr))

	rr = doRequest(t, h, http.MethodPost, "/auth/login", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRefreshHandler(t *testing.T) {
	_, h := newTestRouter(Options{})
	_, login := signUp(t, h, "ada@example.com")

	rr := doRequest(t, h, http.MethodPost, "/auth/refresh", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Refresh token missing", detailOf(t, rr))

	req := httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	for _, c := range login.Result().Cookies() {
		req.AddCookie(c)
	}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	var tok store.TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &tok))

	me := doRequest(t, h, http.MethodGet, "/auth/me", tok.AccessToken, nil)
	assert.Equal(t, http.StatusOK, me.Code)

	// An access token is not accepted as a refresh credential.
	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookieName, Value: tok.AccessToken})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid refresh token", detailOf(t, rr))
}

func TestJWTAuthMiddleware(t *testing.T) {
	b, h := newTestRouter(Options{})
	token, _ := signUp(t, h, "ada@example.com")

	rr := doRequest(t, h, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Not authenticated", detailOf(t, rr))

	rr = doRequest(t, h, http.MethodGet, "/auth/me", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = doRequest(t, h, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	b.RevokeAccessTokens()
	rr = doRequest(t, h, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Could not validate credentials", detailOf(t, rr))
}

func TestLogoutHandler(t *testing.T) {
	_, h := newTestRouter(Options{})
	token, _ := signUp(t, h, "ada@example.com")

	rr := doRequest(t, h, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, refreshCookieName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)

	rr = doRequest(t, h, http.MethodGet, "/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "the access token is revoked")
}

func TestOnboardingStatusHandler(t *testing.T) {
	b, h := newTestRouter(Options{})
	token, _ := signUp(t, h, "ada@example.com")

	rr := doRequest(t, h, http.MethodGet, "/onboarding/status", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"NOT_STARTED"}`, rr.Body.String())

	require.NoError(t, b.SetOnboardingStatus("ada@example.com", store.OnboardingInProgress))
	rr = doRequest(t, h, http.MethodGet, "/onboarding/status", token, nil)
	assert.JSONEq(t, `{"status":"IN_PROGRESS"}`, rr.Body.String())

	assert.Error(t, b.SetOnboardingStatus("nobody@example.com", store.OnboardingCompleted))
}

func TestConversationHandlers(t *testing.T) {
	_, h := newTestRouter(Options{})
	token, _ := signUp(t, h, "ada@example.com")

	first := createConv(t, h, token, "First")
	second := createConv(t, h, token, "Second")

	rr := doRequest(t, h, http.MethodGet, "/chat/conversations", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list []store.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "most recently updated first")

	prompt := "Be concise."
	rr = doRequest(t, h, http.MethodPatch, "/chat/conversations/"+first.ID, token, store.UpdateConversationRequest{SystemPrompt: &prompt})
	require.Equal(t, http.StatusOK, rr.Code)
	var updated store.Conversation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, "First", updated.Title)
	require.NotNil(t, updated.SystemPrompt)
	assert.Equal(t, "Be concise.", *updated.SystemPrompt)

	empty := "  "
	rr = doRequest(t, h, http.MethodPatch, "/chat/conversations/"+first.ID, token, store.UpdateConversationRequest{Title: &empty})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, h, http.MethodPost, "/chat/conversations", token, store.CreateConversationRequest{Title: "No model", AIProvider: "openai"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, h, http.MethodDelete, "/chat/conversations/"+first.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = doRequest(t, h, http.MethodDelete, "/chat/conversations/"+first.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConversationsAreScopedToOwner(t *testing.T) {
	_, h := newTestRouter(Options{})
	ada, _ := signUp(t, h, "ada@example.com")
	eve, _ := signUp(t, h, "eve@example.com")

	c := createConv(t, h, ada, "Private")

	rr := doRequest(t, h, http.MethodGet, "/chat/conversations", eve, nil)
	assert.JSONEq(t, `[]`, rr.Body.String())

	for _, tc := range []struct {
		method string
		path   string
		body   any
	}{
		{http.MethodGet, "/chat/conversations/" + c.ID + "/messages", nil},
		{http.MethodPost, "/chat/conversations/" + c.ID + "/messages", store.SendMessageRequest{Content: "hi"}},
		{http.MethodPatch, "/chat/conversations/" + c.ID, map[string]string{"title": "mine now"}},
		{http.MethodDelete, "/chat/conversations/" + c.ID, nil},
	} {
		rr := doRequest(t, h, tc.method, tc.path, eve, tc.body)
		assert.Equal(t, http.StatusNotFound, rr.Code, "%s %s", tc.method, tc.path)
	}
}

func TestPostMessageHandler(t *testing.T) {
	_, h := newTestRouter(Options{})
	token, _ := signUp(t, h, "ada@example.com")
	c := createConv(t, h, token, "Chat")
	path := "/chat/conversations/" + c.ID + "/messages"

	rr := doRequest(t, h, http.MethodPost, path, token, store.SendMessageRequest{Content: "one two three"})
	require.Equal(t, http.StatusCreated, rr.Code)
	var resp store.SendMessageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "one two three", resp.UserMessage.Content)
	assert.Equal(t, "[openai/gpt-4] one two three", resp.AssistantMessage.Content)
	require.NotNil(t, resp.AssistantMessage.TokensUsed)
	assert.Equal(t, 3, *resp.AssistantMessage.TokensUsed)
	assert.True(t, resp.AssistantMessage.CreatedAt.After(resp.UserMessage.CreatedAt))

	rr = doRequest(t, h, http.MethodPost, path, token, store.SendMessageRequest{Content: " "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doRequest(t, h, http.MethodGet, path, token, nil)
	var msgs []store.Message
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msgs))
	assert.Len(t, msgs, 2)
}

func TestPostMessageHandler_ResponderFailure(t *testing.T) {
	_, h := newTestRouter(Options{Responder: failingResponder{}})
	token, _ := signUp(t, h, "ada@example.com")
	c := createConv(t, h, token, "Chat")
	path := "/chat/conversations/" + c.ID + "/messages"

	rr := doRequest(t, h, http.MethodPost, path, token, store.SendMessageRequest{Content: "hi"})
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "The AI provider failed to respond", detailOf(t, rr))

	rr = doRequest(t, h, http.MethodGet, path, token, nil)
	assert.JSONEq(t, `[]`, rr.Body.String(), "a failed exchange stores nothing")
}

func TestFaultMiddleware(t *testing.T) {
	b, h := newTestRouter(Options{})

	b.FailNext(http.MethodGet, "/health", http.StatusTeapot, "short and stout")
	b.FailNext(http.MethodGet, "/health", http.StatusInternalServerError, "")

	rr := doRequest(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Equal(t, "short and stout", detailOf(t, rr))

	rr = doRequest(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, rr.Body.String())

	rr = doRequest(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestEchoResponder(t *testing.T) {
	reply, tokens, err := EchoResponder{}.Respond(context.Background(),
		store.Conversation{AIProvider: "anthropic", AIModel: "claude"}, nil, "hi there")
	require.NoError(t, err)
	assert.Equal(t, "[anthropic/claude] hi there", reply)
	assert.Equal(t, 2, tokens)
}
