package store

import (
	"context"
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSQLiteStore_SessionRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "empty store should have no session")

	user := &User{ID: "u-1", Email: "ada@example.com", FullName: "Ada"}
	require.NoError(t, s.SaveSession(ctx, PersistedSession{User: user, AccessToken: "tok", IsAuthenticated: true}))

	got, err = s.LoadSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "tok", got.AccessToken)
	assert.True(t, got.IsAuthenticated)
	require.NotNil(t, got.User)
	assert.Equal(t, "ada@example.com", got.User.Email)

	require.NoError(t, s.SaveSession(ctx, PersistedSession{AccessToken: "tok-2"}))
	got, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.User)
	assert.Equal(t, "tok-2", got.AccessToken)
	assert.False(t, got.IsAuthenticated)

	require.NoError(t, s.ClearSession(ctx))
	got, err = s.LoadSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_CurrentConversationID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.LoadCurrentConversationID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, s.SaveCurrentConversationID(ctx, "conv-2"))
	require.NoError(t, s.SaveCurrentConversationID(ctx, "conv-3"))
	id, err = s.LoadCurrentConversationID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "conv-3", id)

	require.NoError(t, s.SaveCurrentConversationID(ctx, ""))
	id, err = s.LoadCurrentConversationID(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestPersistentJar_SurvivesReopen(t *testing.T) {
	s, path := newTestStore(t)
	u, err := url.Parse("http://api.example.com/auth/refresh")
	require.NoError(t, err)

	jar, err := NewPersistentJar(s)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{
		Name:     "refresh_token",
		Value:    "long-lived",
		Path:     "/auth",
		HttpOnly: true,
		MaxAge:   3600,
	}})
	require.Len(t, jar.Cookies(u), 1)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	jar2, err := NewPersistentJar(reopened)
	require.NoError(t, err)
	cookies := jar2.Cookies(u)
	require.Len(t, cookies, 1)
	assert.Equal(t, "long-lived", cookies[0].Value)

	other, _ := url.Parse("http://api.example.com/chat/conversations")
	assert.Empty(t, jar2.Cookies(other), "cookie path should still be scoped to /auth")
}

func TestPersistentJar_ExpiredCookieIsForgotten(t *testing.T) {
	s, _ := newTestStore(t)
	u, _ := url.Parse("http://api.example.com/auth/refresh")

	jar, err := NewPersistentJar(s)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "refresh_token", Value: "v", Path: "/auth", MaxAge: 60}})
	jar.SetCookies(u, []*http.Cookie{{Name: "refresh_token", Value: "", Path: "/auth", MaxAge: -1}})

	saved, err := s.loadCookies()
	require.NoError(t, err)
	assert.Empty(t, saved)

	jar.SetCookies(u, []*http.Cookie{{Name: "stale", Value: "v", Path: "/auth", Expires: time.Now().Add(-time.Hour)}})
	saved, err = s.loadCookies()
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestOnboardingStatus_Valid(t *testing.T) {
	assert.True(t, OnboardingNotStarted.Valid())
	assert.True(t, OnboardingInProgress.Valid())
	assert.True(t, OnboardingCompleted.Valid())
	assert.False(t, OnboardingStatus("").Valid())
	assert.False(t, OnboardingStatus("DONE").Valid())
}

func TestMessage_StatusTransitions(t *testing.T) {
	m := Message{Content: "hi"}
	m.MarkFailed("boom")
	assert.Equal(t, DeliveryFailed, m.Status)
	assert.Equal(t, "boom", m.ErrorMessage)

	m.MarkSending()
	assert.Equal(t, DeliverySending, m.Status)
	assert.Empty(t, m.ErrorMessage)

	m.MarkFailed("again")
	m.MarkSent()
	assert.Equal(t, DeliverySent, m.Status)
	assert.Empty(t, m.ErrorMessage, "a sent message never carries an error")
}

func TestPersistentJar_Clear(t *testing.T) {
	s, _ := newTestStore(t)
	u, _ := url.Parse("http://api.example.com/auth/refresh")

	jar, err := NewPersistentJar(s)
	require.NoError(t, err)
	jar.SetCookies(u, []*http.Cookie{{Name: "refresh_token", Value: "v", Path: "/auth", MaxAge: 60}})
	jar.Clear()

	assert.Empty(t, jar.Cookies(u))
	saved, err := s.loadCookies()
	require.NoError(t, err)
	assert.Empty(t, saved)
}
