package store

import "time"

type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	FullName            string    `json:"full_name"`
	IsAdmin             bool      `json:"is_admin"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	CreatedAt           time.Time `json:"created_at"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type OnboardingStatus string

const (
	OnboardingNotStarted OnboardingStatus = "NOT_STARTED"
	OnboardingInProgress OnboardingStatus = "IN_PROGRESS"
	OnboardingCompleted  OnboardingStatus = "COMPLETED"
)

// Valid reports whether s is one of the three known gate states.
func (s OnboardingStatus) Valid() bool {
	switch s {
	case OnboardingNotStarted, OnboardingInProgress, OnboardingCompleted:
		return true
	}
	return false
}

type OnboardingStatusResponse struct {
	Status OnboardingStatus `json:"status"`
}

type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	AIProvider   string    `json:"ai_provider"`
	AIModel      string    `json:"ai_model"`
	SystemPrompt *string   `json:"system_prompt"` // Nullable
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CreateConversationRequest struct {
	Title        string  `json:"title"`
	AIProvider   string  `json:"ai_provider"`
	AIModel      string  `json:"ai_model"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

// UpdateConversationRequest has no provider/model fields: those are fixed at creation.
type UpdateConversationRequest struct {
	Title        *string `json:"title,omitempty"`
	SystemPrompt *string `json:"system_prompt,omitempty"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DeliveryStatus is client-only. Messages loaded from history carry DeliveryNone.
type DeliveryStatus string

const (
	DeliveryNone    DeliveryStatus = ""
	DeliverySending DeliveryStatus = "sending"
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
)

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	TokensUsed     *int      `json:"tokens_used,omitempty"` // Assistant only
	CreatedAt      time.Time `json:"created_at"`

	Status       DeliveryStatus `json:"-"`
	ErrorMessage string         `json:"-"` // Only set while Status is DeliveryFailed
}

func (m *Message) MarkSending() {
	m.Status = DeliverySending
	m.ErrorMessage = ""
}

func (m *Message) MarkSent() {
	m.Status = DeliverySent
	m.ErrorMessage = ""
}

func (m *Message) MarkFailed(reason string) {
	m.Status = DeliveryFailed
	m.ErrorMessage = reason
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type SendMessageResponse struct {
	UserMessage      Message `json:"user_message"`
	AssistantMessage Message `json:"assistant_message"`
}

// PersistedSession is the subset of session state that survives restarts.
type PersistedSession struct {
	User            *User
	AccessToken     string
	IsAuthenticated bool
}
