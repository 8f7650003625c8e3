package core

import (
	"context"
	"errors"
	"sync"

	"gwi.com/coach-client/internal/store"
	"gwi.com/coach-client/internal/transport"
)

var errUnexpectedCall = errors.New("unexpected call")

// fakeAuth is a scriptable AuthTransport. Unset funcs fail the call.
type fakeAuth struct {
	mu sync.Mutex

	login            func(email, password string) (*store.TokenResponse, error)
	register         func(req store.RegisterRequest) (*store.User, error)
	refresh          func() (*store.TokenResponse, error)
	me               func(token string) (*store.User, error)
	logout           func() error
	onboardingStatus func() (store.OnboardingStatus, error)

	token          string
	refreshHandler transport.RefreshFunc
	cleared        int
	logoutCalls    int
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (*store.TokenResponse, error) {
	if f.login == nil {
		return nil, errUnexpectedCall
	}
	return f.login(email, password)
}

func (f *fakeAuth) Register(_ context.Context, req store.RegisterRequest) (*store.User, error) {
	if f.register == nil {
		return nil, errUnexpectedCall
	}
	return f.register(req)
}

func (f *fakeAuth) Refresh(context.Context) (*store.TokenResponse, error) {
	if f.refresh == nil {
		return nil, errUnexpectedCall
	}
	return f.refresh()
}

func (f *fakeAuth) Me(context.Context) (*store.User, error) {
	if f.me == nil {
		return nil, errUnexpectedCall
	}
	return f.me(f.currentToken())
}

func (f *fakeAuth) Logout(context.Context) error {
	f.mu.Lock()
	f.logoutCalls++
	f.mu.Unlock()
	if f.logout == nil {
		return nil
	}
	return f.logout()
}

func (f *fakeAuth) OnboardingStatus(context.Context) (store.OnboardingStatus, error) {
	if f.onboardingStatus == nil {
		return store.OnboardingNotStarted, nil
	}
	return f.onboardingStatus()
}

func (f *fakeAuth) SetAccessToken(token string) {
	f.mu.Lock()
	f.token = token
	f.mu.Unlock()
}

func (f *fakeAuth) currentToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token
}

func (f *fakeAuth) SetRefreshHandler(fn transport.RefreshFunc) {
	f.mu.Lock()
	f.refreshHandler = fn
	f.mu.Unlock()
}

func (f *fakeAuth) hasRefreshHandler() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshHandler != nil
}

func (f *fakeAuth) ClearCredentials() {
	f.mu.Lock()
	f.token = ""
	f.cleared++
	f.mu.Unlock()
}

// fakeChat is a scriptable ChatTransport.
type fakeChat struct {
	list   func() ([]store.Conversation, error)
	create func(req store.CreateConversationRequest) (*store.Conversation, error)
	update func(id string, req store.UpdateConversationRequest) (*store.Conversation, error)
	delete func(id string) error
	msgs   func(id string) ([]store.Message, error)
	send   func(id, content string) (*store.SendMessageResponse, error)
}

func (f *fakeChat) ListConversations(context.Context) ([]store.Conversation, error) {
	if f.list == nil {
		return nil, errUnexpectedCall
	}
	return f.list()
}

func (f *fakeChat) CreateConversation(_ context.Context, req store.CreateConversationRequest) (*store.Conversation, error) {
	if f.create == nil {
		return nil, errUnexpectedCall
	}
	return f.create(req)
}

func (f *fakeChat) UpdateConversation(_ context.Context, id string, req store.UpdateConversationRequest) (*store.Conversation, error) {
	if f.update == nil {
		return nil, errUnexpectedCall
	}
	return f.update(id, req)
}

func (f *fakeChat) DeleteConversation(_ context.Context, id string) error {
	if f.delete == nil {
		return errUnexpectedCall
	}
	return f.delete(id)
}

func (f *fakeChat) ListMessages(_ context.Context, id string) ([]store.Message, error) {
	if f.msgs == nil {
		return nil, errUnexpectedCall
	}
	return f.msgs(id)
}

func (f *fakeChat) SendMessage(_ context.Context, id, content string) (*store.SendMessageResponse, error) {
	if f.send == nil {
		return nil, errUnexpectedCall
	}
	return f.send(id, content)
}

// memoryPersister implements both persister interfaces in memory.
type memoryPersister struct {
	mu        sync.Mutex
	session   *store.PersistedSession
	currentID string
	saveErr   error
}

func (m *memoryPersister) SaveSession(_ context.Context, sess store.PersistedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.session = &sess
	return nil
}

func (m *memoryPersister) LoadSession(context.Context) (*store.PersistedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *memoryPersister) ClearSession(context.Context) error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}

func (m *memoryPersister) SaveCurrentConversationID(_ context.Context, id string) error {
	m.mu.Lock()
	m.currentID = id
	m.mu.Unlock()
	return nil
}

func (m *memoryPersister) LoadCurrentConversationID(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID, nil
}

func newConv(id, title string) store.Conversation {
	return store.Conversation{ID: id, Title: title, AIProvider: "openai", AIModel: "gpt-4"}
}
