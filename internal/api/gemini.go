package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"gwi.com/coach-client/internal/logger"
	"gwi.com/coach-client/internal/store"
)

const (
	defaultGeminiModel = "gemini-1.5-flash-latest"

	defaultCoachInstruction = "You are a supportive coach. Keep answers concise and practical."
)

// GeminiResponder lets the dev server answer with a real model. It ignores the
// conversation's provider and always talks to Gemini.
type GeminiResponder struct {
	client *genai.Client
	model  string
}

func NewGeminiResponder(ctx context.Context, apiKey string) (*GeminiResponder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiResponder{client: client, model: defaultGeminiModel}, nil
}

func (g *GeminiResponder) Close() {
	if err := g.client.Close(); err != nil {
		logger.Logger.Warn("Error closing GenAI client", "err", err)
	}
}

func (g *GeminiResponder) Respond(ctx context.Context, conv store.Conversation, history []store.Message, content string) (string, int, error) {
	model := g.client.GenerativeModel(g.model)

	instruction := defaultCoachInstruction
	if conv.SystemPrompt != nil && *conv.SystemPrompt != "" {
		instruction = *conv.SystemPrompt
	}
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}

	chatSession := model.StartChat()
	for _, m := range history {
		role := "user"
		if m.Role == store.RoleAssistant {
			role = "model"
		} else if m.Role != store.RoleUser {
			continue
		}
		chatSession.History = append(chatSession.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := chatSession.SendMessage(ctx, genai.Text(content))
	if err != nil {
		return "", 0, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", 0, fmt.Errorf("gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		}
	}
	if text.Len() == 0 {
		return "", 0, fmt.Errorf("gemini returned an empty reply")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return text.String(), tokens, nil
}
