// Package core holds the client-side state: who is signed in and which
// conversation, with which messages, is on screen.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gwi.com/coach-client/internal/auth"
	"gwi.com/coach-client/internal/logger"
	"gwi.com/coach-client/internal/store"
	"gwi.com/coach-client/internal/transport"
)

var ErrNotAuthenticated = errors.New("not authenticated")

const (
	loginFailed        = "Login failed"
	registrationFailed = "Registration failed"
)

// AuthTransport is the slice of the backend contract the session store uses.
type AuthTransport interface {
	Login(ctx context.Context, email, password string) (*store.TokenResponse, error)
	Register(ctx context.Context, req store.RegisterRequest) (*store.User, error)
	Refresh(ctx context.Context) (*store.TokenResponse, error)
	Me(ctx context.Context) (*store.User, error)
	Logout(ctx context.Context) error
	OnboardingStatus(ctx context.Context) (store.OnboardingStatus, error)

	SetAccessToken(token string)
	SetRefreshHandler(fn transport.RefreshFunc)
	ClearCredentials()
}

// SessionPersister stores the durable part of a session.
type SessionPersister interface {
	SaveSession(ctx context.Context, sess store.PersistedSession) error
	LoadSession(ctx context.Context) (*store.PersistedSession, error)
	ClearSession(ctx context.Context) error
}

// Session is an immutable snapshot of the session store.
type Session struct {
	User             *store.User
	AccessToken      string
	IsAuthenticated  bool
	OnboardingStatus store.OnboardingStatus // empty until loaded

	LastError             string
	OnboardingStatusError string
	IsLoading             bool
	IsInitialized         bool
}

func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

type SessionStore struct {
	transport AuthTransport
	persister SessionPersister // optional

	mu    sync.Mutex
	state Session

	subscribers listeners[Session]
}

// NewSessionStore builds an empty, logged-out store. persister may be nil.
func NewSessionStore(t AuthTransport, persister SessionPersister) *SessionStore {
	return &SessionStore{transport: t, persister: persister}
}

func (s *SessionStore) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe calls fn with a fresh snapshot after every state change.
func (s *SessionStore) Subscribe(fn func(Session)) (unsubscribe func()) {
	return s.subscribers.add(fn)
}

func (s *SessionStore) update(mutate func(st *Session)) Session {
	s.mu.Lock()
	mutate(&s.state)
	snap := s.state.clone()
	s.subscribers.publish(snap)
	s.mu.Unlock()

	s.subscribers.flush()
	return snap
}

// Login exchanges credentials for a token and then confirms the identity.
// The session only counts as authenticated once both steps succeed.
func (s *SessionStore) Login(ctx context.Context, email, password string) error {
	s.update(func(st *Session) {
		st.IsLoading = true
		st.LastError = ""
	})

	user, token, err := s.authenticate(ctx, email, password)
	if err != nil {
		// The attempt's token was never confirmed; put back whatever the
		// session still holds.
		s.transport.SetAccessToken(s.Snapshot().AccessToken)
		s.update(func(st *Session) {
			st.IsLoading = false
			st.LastError = transport.ServerMessage(err, loginFailed)
		})
		return fmt.Errorf("login: %w", err)
	}

	s.establish(ctx, user, token)
	if _, err := s.RefreshOnboardingStatus(ctx); err != nil {
		logger.Logger.Warn("onboarding status unavailable after login", "err", err)
	}
	return nil
}

func (s *SessionStore) authenticate(ctx context.Context, email, password string) (*store.User, string, error) {
	tok, err := s.transport.Login(ctx, email, password)
	if err != nil {
		return nil, "", err
	}
	s.transport.SetAccessToken(tok.AccessToken)

	user, err := s.transport.Me(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("fetch identity: %w", err)
	}
	return user, tok.AccessToken, nil
}

// establish installs a confirmed identity and token.
func (s *SessionStore) establish(ctx context.Context, user *store.User, token string) {
	s.transport.SetAccessToken(token)
	s.transport.SetRefreshHandler(s.RefreshAuth)

	snap := s.update(func(st *Session) {
		st.User = user
		st.AccessToken = token
		st.IsAuthenticated = true
		st.IsLoading = false
		st.LastError = ""
	})
	s.persist(ctx, snap)
	logTokenExpiry(token)
}

// Register creates the account and then logs in with the same credentials.
func (s *SessionStore) Register(ctx context.Context, email, password, fullName string) error {
	s.update(func(st *Session) {
		st.IsLoading = true
		st.LastError = ""
	})

	_, err := s.transport.Register(ctx, store.RegisterRequest{Email: email, Password: password, FullName: fullName})
	if err != nil {
		s.update(func(st *Session) {
			st.IsLoading = false
			st.LastError = transport.ServerMessage(err, registrationFailed)
		})
		return fmt.Errorf("register: %w", err)
	}
	return s.Login(ctx, email, password)
}

// Logout always ends in a clean logged-out state. The server call is best
// effort.
func (s *SessionStore) Logout(ctx context.Context) {
	if s.Snapshot().AccessToken != "" {
		if err := s.transport.Logout(ctx); err != nil {
			logger.Logger.Warn("server logout failed, clearing local session anyway", "err", err)
		}
	}

	s.transport.SetRefreshHandler(nil)
	s.transport.ClearCredentials()
	s.update(func(st *Session) {
		*st = Session{IsInitialized: st.IsInitialized}
	})

	if s.persister != nil {
		if err := s.persister.ClearSession(ctx); err != nil {
			logger.Logger.Warn("failed to clear persisted session", "err", err)
		}
	}
}

// RefreshAuth trades the long-lived credential for a new access token. A
// failure ends the session; it is never retried.
func (s *SessionStore) RefreshAuth(ctx context.Context) (string, error) {
	tok, err := s.transport.Refresh(ctx)
	if err != nil {
		logger.Logger.Info("session refresh failed, logging out", "err", err)
		s.Logout(ctx)
		return "", fmt.Errorf("refresh session: %w", err)
	}

	s.transport.SetAccessToken(tok.AccessToken)
	snap := s.update(func(st *Session) {
		st.AccessToken = tok.AccessToken
	})
	if snap.IsAuthenticated {
		s.persist(ctx, snap)
	}
	logger.Logger.Debug("access token refreshed")
	return tok.AccessToken, nil
}

// RefreshUser re-reads the identity, e.g. after onboarding completes.
func (s *SessionStore) RefreshUser(ctx context.Context) error {
	if !s.Snapshot().IsAuthenticated {
		s.update(func(st *Session) { st.LastError = ErrNotAuthenticated.Error() })
		return ErrNotAuthenticated
	}

	user, err := s.transport.Me(ctx)
	if err != nil {
		s.update(func(st *Session) { st.LastError = transport.Message(err) })
		return fmt.Errorf("refresh user: %w", err)
	}

	snap := s.update(func(st *Session) {
		if st.IsAuthenticated {
			st.User = user
		}
	})
	if snap.IsAuthenticated {
		s.persist(ctx, snap)
	}
	return nil
}

// Rehydrate restores the persisted session without talking to the server.
// Requests made afterwards recover from an expired token through refresh.
func (s *SessionStore) Rehydrate(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	saved, err := s.persister.LoadSession(ctx)
	if err != nil {
		return fmt.Errorf("load persisted session: %w", err)
	}
	if saved == nil {
		return nil
	}

	authed := saved.IsAuthenticated && saved.User != nil && saved.AccessToken != ""
	s.transport.SetAccessToken(saved.AccessToken)
	if authed {
		s.transport.SetRefreshHandler(s.RefreshAuth)
	}
	s.update(func(st *Session) {
		st.User = saved.User
		st.AccessToken = saved.AccessToken
		st.IsAuthenticated = authed
	})
	return nil
}

// InitializeSession runs once at start-up. It silently refreshes and confirms
// the identity; when that is not possible the client just starts logged out.
func (s *SessionStore) InitializeSession(ctx context.Context) {
	if err := s.Rehydrate(ctx); err != nil {
		logger.Logger.Warn("ignoring unreadable persisted session", "err", err)
	}
	s.update(func(st *Session) { st.IsLoading = true })

	user, token, err := s.restore(ctx)
	if err != nil {
		logger.Logger.Debug("no session to restore", "err", err)
		if s.Snapshot().AccessToken != "" || s.Snapshot().User != nil {
			s.Logout(ctx)
		}
		s.update(func(st *Session) {
			st.IsLoading = false
			st.LastError = ""
			st.IsInitialized = true
		})
		return
	}

	s.establish(ctx, user, token)
	s.update(func(st *Session) { st.IsInitialized = true })
	if _, err := s.RefreshOnboardingStatus(ctx); err != nil {
		logger.Logger.Warn("onboarding status unavailable", "err", err)
	}
}

func (s *SessionStore) restore(ctx context.Context) (*store.User, string, error) {
	token, err := s.RefreshAuth(ctx)
	if err != nil {
		return nil, "", err
	}
	user, err := s.transport.Me(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("fetch identity: %w", err)
	}
	return user, token, nil
}

// RefreshOnboardingStatus fetches the onboarding gate. Failure is recorded
// in OnboardingStatusError and never touches the session itself.
func (s *SessionStore) RefreshOnboardingStatus(ctx context.Context) (store.OnboardingStatus, error) {
	status, err := s.transport.OnboardingStatus(ctx)
	if err != nil {
		s.update(func(st *Session) { st.OnboardingStatusError = transport.Message(err) })
		return "", fmt.Errorf("onboarding status: %w", err)
	}
	s.update(func(st *Session) {
		st.OnboardingStatus = status
		st.OnboardingStatusError = ""
	})
	return status, nil
}

func (s *SessionStore) ClearError() {
	s.update(func(st *Session) { st.LastError = "" })
}

func (s *SessionStore) persist(ctx context.Context, snap Session) {
	if s.persister == nil {
		return
	}
	err := s.persister.SaveSession(ctx, store.PersistedSession{
		User:            snap.User,
		AccessToken:     snap.AccessToken,
		IsAuthenticated: snap.IsAuthenticated,
	})
	if err != nil {
		logger.Logger.Warn("failed to persist session", "err", err)
	}
}

func logTokenExpiry(token string) {
	exp, err := auth.ExpiresAt(token)
	if err != nil {
		return // opaque token
	}
	logger.Logger.Debug("session established", "token_expires_in", time.Until(exp).Round(time.Second))
}
