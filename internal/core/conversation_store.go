package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gwi.com/coach-client/internal/logger"
	"gwi.com/coach-client/internal/store"
	"gwi.com/coach-client/internal/transport"
)

var (
	ErrNoConversationSelected = errors.New("no conversation selected")
	ErrEmptyMessage           = errors.New("message content cannot be empty")
)

const tempIDPrefix = "temp-"

// ChatTransport is the slice of the backend contract the conversation store uses.
type ChatTransport interface {
	ListConversations(ctx context.Context) ([]store.Conversation, error)
	CreateConversation(ctx context.Context, req store.CreateConversationRequest) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, id string, req store.UpdateConversationRequest) (*store.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (*store.SendMessageResponse, error)
}

// SelectionPersister remembers the selected conversation across restarts.
type SelectionPersister interface {
	SaveCurrentConversationID(ctx context.Context, id string) error
	LoadCurrentConversationID(ctx context.Context) (string, error)
}

// ChatState is a snapshot of the conversation store. CurrentConversation is
// derived from Conversations and CurrentConversationID when the snapshot is
// taken; it is never stored on its own.
type ChatState struct {
	Conversations         []store.Conversation
	CurrentConversationID string
	CurrentConversation   *store.Conversation
	Messages              []store.Message

	IsLoadingConversations bool
	IsLoadingMessages      bool
	IsSending              bool
	Error                  string
}

type chatState struct {
	conversations []store.Conversation
	currentID     string
	messages      []store.Message

	loadingConversations bool
	loadingMessages      bool
	sending              int
	err                  string

	// Monotonic request tokens. A load response is applied only if no newer
	// load (or, for messages, selection change) happened in the meantime.
	conversationsSeq uint64
	messagesSeq      uint64
}

type ConversationStore struct {
	transport ChatTransport
	persister SelectionPersister // optional

	mu    sync.Mutex
	state chatState

	subscribers listeners[ChatState]
}

// NewConversationStore builds an empty store. persister may be nil.
func NewConversationStore(t ChatTransport, persister SelectionPersister) *ConversationStore {
	return &ConversationStore{transport: t, persister: persister}
}

func findConversation(list []store.Conversation, id string) *store.Conversation {
	if id == "" {
		return nil
	}
	for i := range list {
		if list[i].ID == id {
			c := list[i]
			return &c
		}
	}
	return nil
}

func indexOfMessage(list []store.Message, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// snapshot must be called with s.mu held.
func (s *ConversationStore) snapshot() ChatState {
	st := &s.state
	return ChatState{
		Conversations:          append([]store.Conversation(nil), st.conversations...),
		CurrentConversationID:  st.currentID,
		CurrentConversation:    findConversation(st.conversations, st.currentID),
		Messages:               append([]store.Message(nil), st.messages...),
		IsLoadingConversations: st.loadingConversations,
		IsLoadingMessages:      st.loadingMessages,
		IsSending:              st.sending > 0,
		Error:                  st.err,
	}
}

func (s *ConversationStore) Snapshot() ChatState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// CurrentConversation looks the selection up in the current collection.
func (s *ConversationStore) CurrentConversation() *store.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findConversation(s.state.conversations, s.state.currentID)
}

func (s *ConversationStore) Subscribe(fn func(ChatState)) (unsubscribe func()) {
	return s.subscribers.add(fn)
}

func (s *ConversationStore) update(mutate func(st *chatState)) ChatState {
	s.mu.Lock()
	mutate(&s.state)
	snap := s.snapshot()
	s.subscribers.publish(snap)
	s.mu.Unlock()

	s.subscribers.flush()
	return snap
}

// setSelection must be called with s.mu held. Messages always belong to
// exactly one conversation, so any selection change empties them and voids
// in-flight message loads.
func (st *chatState) setSelection(id string) {
	st.currentID = id
	st.messages = nil
	st.messagesSeq++
	st.loadingMessages = false
}

func (s *ConversationStore) saveSelection(ctx context.Context, id string) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveCurrentConversationID(ctx, id); err != nil {
		logger.Logger.Warn("failed to persist selected conversation", "id", id, "err", err)
	}
}

// RestoreSelection reloads the persisted selection id. The pointer resolves
// on the next LoadConversations.
func (s *ConversationStore) RestoreSelection(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	id, err := s.persister.LoadCurrentConversationID(ctx)
	if err != nil {
		return fmt.Errorf("load selected conversation: %w", err)
	}
	s.update(func(st *chatState) {
		if st.currentID != id {
			st.setSelection(id)
		}
	})
	return nil
}

func (s *ConversationStore) LoadConversations(ctx context.Context) error {
	var seq uint64
	s.update(func(st *chatState) {
		st.conversationsSeq++
		seq = st.conversationsSeq
		st.loadingConversations = true
		st.err = ""
	})

	list, err := s.transport.ListConversations(ctx)

	s.update(func(st *chatState) {
		if seq != st.conversationsSeq {
			return
		}
		st.loadingConversations = false
		if err != nil {
			st.err = transport.Message(err)
			return
		}
		st.conversations = list
	})
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	return nil
}

// CreateConversation puts the new conversation first and selects it.
func (s *ConversationStore) CreateConversation(ctx context.Context, req store.CreateConversationRequest) (*store.Conversation, error) {
	s.update(func(st *chatState) { st.err = "" })

	conv, err := s.transport.CreateConversation(ctx, req)
	if err != nil {
		s.update(func(st *chatState) { st.err = transport.Message(err) })
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	s.update(func(st *chatState) {
		st.conversations = append([]store.Conversation{*conv}, st.conversations...)
		st.setSelection(conv.ID)
	})
	s.saveSelection(ctx, conv.ID)
	return conv, nil
}

// UpdateConversation changes title and/or system prompt.
func (s *ConversationStore) UpdateConversation(ctx context.Context, id string, patch store.UpdateConversationRequest) (*store.Conversation, error) {
	s.update(func(st *chatState) { st.err = "" })

	conv, err := s.transport.UpdateConversation(ctx, id, patch)
	if err != nil {
		s.update(func(st *chatState) { st.err = transport.Message(err) })
		return nil, fmt.Errorf("update conversation %s: %w", id, err)
	}

	s.update(func(st *chatState) {
		for i := range st.conversations {
			if st.conversations[i].ID == id {
				st.conversations[i] = *conv
				break
			}
		}
	})
	return conv, nil
}

// DeleteConversation removes the conversation; deleting the selected one
// clears the selection and the messages together.
func (s *ConversationStore) DeleteConversation(ctx context.Context, id string) error {
	s.update(func(st *chatState) { st.err = "" })

	if err := s.transport.DeleteConversation(ctx, id); err != nil {
		s.update(func(st *chatState) { st.err = transport.Message(err) })
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}

	var wasCurrent bool
	s.update(func(st *chatState) {
		kept := st.conversations[:0:0]
		for _, c := range st.conversations {
			if c.ID != id {
				kept = append(kept, c)
			}
		}
		st.conversations = kept
		if st.currentID == id {
			wasCurrent = true
			st.setSelection("")
		}
	})
	if wasCurrent {
		s.saveSelection(ctx, "")
	}
	return nil
}

// SelectConversation is a local transition; an empty id clears the selection.
func (s *ConversationStore) SelectConversation(ctx context.Context, id string) {
	s.update(func(st *chatState) { st.setSelection(id) })
	s.saveSelection(ctx, id)
}

// LoadMessages replaces the message list with the conversation's history.
// A response that arrives after the selection moved elsewhere is dropped.
func (s *ConversationStore) LoadMessages(ctx context.Context, conversationID string) error {
	var seq uint64
	s.update(func(st *chatState) {
		st.messagesSeq++
		seq = st.messagesSeq
		st.loadingMessages = true
		st.err = ""
	})

	list, err := s.transport.ListMessages(ctx, conversationID)

	s.update(func(st *chatState) {
		if seq != st.messagesSeq {
			return
		}
		st.loadingMessages = false
		if err != nil {
			st.err = transport.Message(err)
			return
		}
		if st.currentID != conversationID {
			logger.Logger.Debug("dropping history for unselected conversation", "conversation", conversationID)
			return
		}
		st.messages = list
	})
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", conversationID, err)
	}
	return nil
}

// SendMessage appends an optimistic entry immediately and reconciles it with
// the server's answer.
func (s *ConversationStore) SendMessage(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		s.update(func(st *chatState) { st.err = ErrEmptyMessage.Error() })
		return ErrEmptyMessage
	}

	var (
		conversationID string
		tempID         string
	)
	s.update(func(st *chatState) {
		conv := findConversation(st.conversations, st.currentID)
		if conv == nil {
			st.err = ErrNoConversationSelected.Error()
			return
		}
		conversationID = conv.ID
		tempID = tempIDPrefix + uuid.NewString()

		msg := store.Message{
			ID:             tempID,
			ConversationID: conv.ID,
			Role:           store.RoleUser,
			Content:        content,
			CreatedAt:      time.Now().UTC(),
		}
		msg.MarkSending()
		st.messages = append(st.messages, msg)
		st.sending++
		st.err = ""
	})
	if conversationID == "" {
		return ErrNoConversationSelected
	}

	return s.deliver(ctx, conversationID, tempID, content)
}

// RetryMessage resends a failed message under its existing id. Unknown ids
// and messages that are not failed are ignored.
func (s *ConversationStore) RetryMessage(ctx context.Context, messageID string) error {
	var (
		conversationID string
		content        string
	)
	s.update(func(st *chatState) {
		i := indexOfMessage(st.messages, messageID)
		if i < 0 || st.messages[i].Status != store.DeliveryFailed {
			return
		}
		st.messages[i].MarkSending()
		conversationID = st.messages[i].ConversationID
		content = st.messages[i].Content
		st.sending++
		st.err = ""
	})
	if conversationID == "" {
		return nil
	}

	return s.deliver(ctx, conversationID, messageID, content)
}

// deliver posts content and resolves the pending entry pendingID: on success
// it is swapped for the persisted user and assistant messages, on failure it
// stays in place marked failed. A history load that landed meanwhile may have
// replaced the entry; as long as the conversation is still selected the
// outcome is applied to the reloaded list. Once the selection has moved on
// the outcome only touches flags.
func (s *ConversationStore) deliver(ctx context.Context, conversationID, pendingID, content string) error {
	resp, err := s.transport.SendMessage(ctx, conversationID, content)

	s.update(func(st *chatState) {
		st.sending--
		i := indexOfMessage(st.messages, pendingID)
		selected := st.currentID == conversationID

		if err != nil {
			reason := transport.Message(err)
			st.err = reason
			switch {
			case i >= 0:
				st.messages[i].MarkFailed(reason)
			case selected:
				msg := store.Message{
					ID:             pendingID,
					ConversationID: conversationID,
					Role:           store.RoleUser,
					Content:        content,
					CreatedAt:      time.Now().UTC(),
				}
				msg.MarkFailed(reason)
				st.messages = append(st.messages, msg)
			}
			return
		}

		switch {
		case i >= 0:
			st.messages = append(st.messages[:i:i], st.messages[i+1:]...)
		case !selected:
			logger.Logger.Debug("send resolved after its conversation was deselected", "message", pendingID)
			return
		}

		for _, m := range []store.Message{resp.UserMessage, resp.AssistantMessage} {
			if indexOfMessage(st.messages, m.ID) >= 0 {
				continue
			}
			m.MarkSent()
			st.messages = append(st.messages, m)
		}
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// RemoveMessage drops a message locally, typically a failed one the user
// gave up on.
func (s *ConversationStore) RemoveMessage(messageID string) {
	s.update(func(st *chatState) {
		if i := indexOfMessage(st.messages, messageID); i >= 0 {
			st.messages = append(st.messages[:i:i], st.messages[i+1:]...)
		}
	})
}

func (s *ConversationStore) ClearError() {
	s.update(func(st *chatState) { st.err = "" })
}

// Reset forgets everything, including the persisted selection. It runs when
// the session ends so the next user starts clean.
func (s *ConversationStore) Reset(ctx context.Context) {
	s.update(func(st *chatState) {
		st.conversations = nil
		st.setSelection("")
		st.conversationsSeq++
		st.loadingConversations = false
		st.err = ""
	})
	s.saveSelection(ctx, "")
}

// ResetOnLogout wires chats to session so that leaving an authenticated
// session resets the conversation state.
func ResetOnLogout(session *SessionStore, chats *ConversationStore) (unsubscribe func()) {
	var mu sync.Mutex
	wasAuthenticated := session.Snapshot().IsAuthenticated
	return session.Subscribe(func(snap Session) {
		mu.Lock()
		ended := wasAuthenticated && !snap.IsAuthenticated
		wasAuthenticated = snap.IsAuthenticated
		mu.Unlock()
		if ended {
			chats.Reset(context.Background())
		}
	})
}
