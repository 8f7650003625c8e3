package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"gwi.com/coach-client/internal/auth"
	"gwi.com/coach-client/internal/logger"
	"gwi.com/coach-client/internal/store"
)

const refreshCookieName = "refresh_token"

var errEmailTaken = errors.New("email already registered")

type ctxKey int

const userIDKey ctxKey = iota

type APIHandler struct {
	backend *Backend
}

func NewAPIHandler(b *Backend) *APIHandler {
	return &APIHandler{backend: b}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Warn("failed to write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func userIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// FaultMiddleware serves faults queued with Backend.FailNext.
func (h *APIHandler) FaultMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f, ok := h.backend.takeFault(r.Method, r.URL.Path); ok {
			if f.detail == "" {
				w.WriteHeader(f.status)
				return
			}
			writeError(w, f.status, f.detail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, ok := h.backend.lookupAccessToken(tokenString)
		if !ok {
			writeError(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req store.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := h.backend.createUser(req.Email, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, errEmailTaken) {
			writeError(w, http.StatusBadRequest, "Email already registered")
			return
		}
		logger.Logger.Error("Error creating user", "email", req.Email, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	email, password, ok := r.BasicAuth()
	if !ok || email == "" || password == "" {
		writeError(w, http.StatusUnauthorized, "Email and password are required")
		return
	}

	user, ok := h.backend.authenticate(email, password)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}
	h.issueTokens(w, user.ID)
}

func (h *APIHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "Refresh token missing")
		return
	}
	userID, err := auth.ValidateJWT(h.backend.opts.Secret, cookie.Value, auth.KindRefresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}
	if _, _, ok := h.backend.getUser(userID); !ok {
		writeError(w, http.StatusUnauthorized, "User not found")
		return
	}
	h.issueTokens(w, userID)
}

func (h *APIHandler) issueTokens(w http.ResponseWriter, userID string) {
	access, err := h.backend.issueAccessToken(userID)
	if err != nil {
		logger.Logger.Error("Error generating access token", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	refresh, err := h.backend.issueRefreshToken(userID)
	if err != nil {
		logger.Logger.Error("Error generating refresh token", "user", userID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    refresh,
		Path:     "/auth",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.backend.opts.RefreshTTL / time.Second),
	})
	writeJSON(w, http.StatusOK, store.TokenResponse{AccessToken: access, TokenType: "bearer"})
}

func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, _, ok := h.backend.getUser(userIDFrom(r))
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.backend.revokeAccessToken(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/auth",
		HttpOnly: true,
		MaxAge:   -1,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) OnboardingStatusHandler(w http.ResponseWriter, r *http.Request) {
	_, status, ok := h.backend.getUser(userIDFrom(r))
	if !ok {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, http.StatusOK, store.OnboardingStatusResponse{Status: status})
}

func (h *APIHandler) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.listConversations(userIDFrom(r)))
}

func (h *APIHandler) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req store.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title cannot be empty")
		return
	}
	if req.AIProvider == "" || req.AIModel == "" {
		writeError(w, http.StatusBadRequest, "AI provider and model are required")
		return
	}

	conv := h.backend.createConversation(userIDFrom(r), req)
	writeJSON(w, http.StatusCreated, conv)
}

func (h *APIHandler) UpdateConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")

	var req store.UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		writeError(w, http.StatusBadRequest, "Title cannot be empty")
		return
	}

	conv, ok := h.backend.updateConversation(userIDFrom(r), id, req)
	if !ok {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *APIHandler) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if !h.backend.deleteConversation(userIDFrom(r), id) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	messages, ok := h.backend.listMessages(userIDFrom(r), id)
	if !ok {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	id := chi.URLParam(r, "conversationID")

	var req store.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "Message content cannot be empty")
		return
	}

	conv, history, ok := h.backend.conversationSnapshot(userID, id)
	if !ok {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	reply, tokens, err := h.backend.opts.Responder.Respond(r.Context(), conv, history, req.Content)
	if err != nil {
		logger.Logger.Error("Error generating assistant reply", "conversation", id, "err", err)
		writeError(w, http.StatusBadGateway, "The AI provider failed to respond")
		return
	}

	now := time.Now().UTC()
	userMsg := store.Message{
		ID:             newID(),
		ConversationID: id,
		Role:           store.RoleUser,
		Content:        req.Content,
		CreatedAt:      now,
	}
	assistantMsg := store.Message{
		ID:             newID(),
		ConversationID: id,
		Role:           store.RoleAssistant,
		Content:        reply,
		TokensUsed:     &tokens,
		CreatedAt:      now.Add(time.Millisecond),
	}
	if !h.backend.appendExchange(userID, id, userMsg, assistantMsg) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	writeJSON(w, http.StatusCreated, store.SendMessageResponse{
		UserMessage:      userMsg,
		AssistantMessage: assistantMsg,
	})
}
