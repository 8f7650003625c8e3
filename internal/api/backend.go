// Package api is an in-memory implementation of the coaching REST contract.
// It backs the transport and store integration tests and the local dev server.
package api

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gwi.com/coach-client/internal/auth"
	"gwi.com/coach-client/internal/store"
)

type Options struct {
	Secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Responder  Responder
}

type account struct {
	user         store.User
	passwordHash string
	onboarding   store.OnboardingStatus
}

type fault struct {
	status int
	detail string
}

// Backend holds all server-side state behind one mutex.
type Backend struct {
	opts Options

	mu            sync.Mutex
	accounts      map[string]*account // by email
	accessTokens  map[string]string   // live access token -> user id
	conversations map[string]*conversationRecord
	faults        map[string][]fault
}

type conversationRecord struct {
	ownerID  string
	conv     store.Conversation
	messages []store.Message
}

func NewBackend(opts Options) *Backend {
	if opts.AccessTTL == 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL == 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.Responder == nil {
		opts.Responder = EchoResponder{}
	}
	return &Backend{
		opts:          opts,
		accounts:      make(map[string]*account),
		accessTokens:  make(map[string]string),
		conversations: make(map[string]*conversationRecord),
		faults:        make(map[string][]fault),
	}
}

// FailNext makes the next request matching method and path fail with status.
// Faults queue up per route.
func (b *Backend) FailNext(method, path string, status int, detail string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := method + " " + path
	b.faults[key] = append(b.faults[key], fault{status: status, detail: detail})
}

func (b *Backend) takeFault(method, path string) (fault, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := method + " " + path
	q := b.faults[key]
	if len(q) == 0 {
		return fault{}, false
	}
	f := q[0]
	if len(q) == 1 {
		delete(b.faults, key)
	} else {
		b.faults[key] = q[1:]
	}
	return f, true
}

// RevokeAccessTokens invalidates every outstanding access token, as if they
// had all expired. Refresh cookies stay valid.
func (b *Backend) RevokeAccessTokens() {
	b.mu.Lock()
	b.accessTokens = make(map[string]string)
	b.mu.Unlock()
}

func (b *Backend) SetOnboardingStatus(email string, status store.OnboardingStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.accounts[normalizeEmail(email)]
	if !ok {
		return fmt.Errorf("no account for %s", email)
	}
	acc.onboarding = status
	acc.user.OnboardingCompleted = status == store.OnboardingCompleted
	return nil
}

func (b *Backend) createUser(email, password, fullName string) (*store.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	key := normalizeEmail(email)
	if _, exists := b.accounts[key]; exists {
		return nil, errEmailTaken
	}
	acc := &account{
		user: store.User{
			ID:        newID(),
			Email:     key,
			FullName:  fullName,
			CreatedAt: time.Now().UTC(),
		},
		passwordHash: hash,
		onboarding:   store.OnboardingNotStarted,
	}
	b.accounts[key] = acc
	u := acc.user
	return &u, nil
}

func (b *Backend) authenticate(email, password string) (*store.User, bool) {
	b.mu.Lock()
	acc, ok := b.accounts[normalizeEmail(email)]
	b.mu.Unlock()
	if !ok || !auth.CheckPasswordHash(password, acc.passwordHash) {
		return nil, false
	}
	u := acc.user
	return &u, true
}

func (b *Backend) userByID(id string) (*account, bool) {
	for _, acc := range b.accounts {
		if acc.user.ID == id {
			return acc, true
		}
	}
	return nil, false
}

func (b *Backend) issueAccessToken(userID string) (string, error) {
	tok, err := auth.GenerateJWT(b.opts.Secret, userID, auth.KindAccess, b.opts.AccessTTL)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.accessTokens[tok] = userID
	b.mu.Unlock()
	return tok, nil
}

func (b *Backend) issueRefreshToken(userID string) (string, error) {
	return auth.GenerateJWT(b.opts.Secret, userID, auth.KindRefresh, b.opts.RefreshTTL)
}

// lookupAccessToken returns the user id for a live, valid access token.
func (b *Backend) lookupAccessToken(tok string) (string, bool) {
	sub, err := auth.ValidateJWT(b.opts.Secret, tok, auth.KindAccess)
	if err != nil {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	owner, live := b.accessTokens[tok]
	if !live || owner != sub {
		return "", false
	}
	if _, ok := b.userByID(sub); !ok {
		return "", false
	}
	return sub, true
}

func (b *Backend) revokeAccessToken(tok string) {
	b.mu.Lock()
	delete(b.accessTokens, tok)
	b.mu.Unlock()
}

func (b *Backend) getUser(userID string) (*store.User, store.OnboardingStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	acc, ok := b.userByID(userID)
	if !ok {
		return nil, "", false
	}
	u := acc.user
	return &u, acc.onboarding, true
}

// Conversation methods
func (b *Backend) listConversations(userID string) []store.Conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := make([]store.Conversation, 0)
	for _, rec := range b.conversations {
		if rec.ownerID == userID {
			list = append(list, rec.conv)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return list
}

func (b *Backend) createConversation(userID string, req store.CreateConversationRequest) store.Conversation {
	now := time.Now().UTC()
	conv := store.Conversation{
		ID:           newID(),
		Title:        req.Title,
		AIProvider:   req.AIProvider,
		AIModel:      req.AIModel,
		SystemPrompt: req.SystemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.mu.Lock()
	b.conversations[conv.ID] = &conversationRecord{ownerID: userID, conv: conv}
	b.mu.Unlock()
	return conv
}

// ownedConversation must be called with b.mu held.
func (b *Backend) ownedConversation(userID, id string) (*conversationRecord, bool) {
	rec, ok := b.conversations[id]
	if !ok || rec.ownerID != userID {
		return nil, false
	}
	return rec, true
}

func (b *Backend) updateConversation(userID, id string, req store.UpdateConversationRequest) (store.Conversation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.ownedConversation(userID, id)
	if !ok {
		return store.Conversation{}, false
	}
	if req.Title != nil {
		rec.conv.Title = *req.Title
	}
	if req.SystemPrompt != nil {
		sp := *req.SystemPrompt
		rec.conv.SystemPrompt = &sp
	}
	rec.conv.UpdatedAt = time.Now().UTC()
	return rec.conv, true
}

func (b *Backend) deleteConversation(userID, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ownedConversation(userID, id); !ok {
		return false
	}
	delete(b.conversations, id)
	return true
}

func (b *Backend) listMessages(userID, id string) ([]store.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.ownedConversation(userID, id)
	if !ok {
		return nil, false
	}
	out := make([]store.Message, len(rec.messages))
	copy(out, rec.messages)
	return out, true
}

// conversationSnapshot returns a copy of the conversation and its history for
// the responder, which runs without the lock.
func (b *Backend) conversationSnapshot(userID, id string) (store.Conversation, []store.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.ownedConversation(userID, id)
	if !ok {
		return store.Conversation{}, nil, false
	}
	history := make([]store.Message, len(rec.messages))
	copy(history, rec.messages)
	return rec.conv, history, true
}

func (b *Backend) appendExchange(userID, id string, userMsg, assistantMsg store.Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.ownedConversation(userID, id)
	if !ok {
		return false
	}
	rec.messages = append(rec.messages, userMsg, assistantMsg)
	rec.conv.UpdatedAt = assistantMsg.CreatedAt
	return true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newID() string {
	return uuid.NewString()
}
