package api

import (
	"context"
	"strings"

	"gwi.com/coach-client/internal/store"
)

// Responder produces the assistant turn for a posted user message. history
// excludes the new message.
type Responder interface {
	Respond(ctx context.Context, conv store.Conversation, history []store.Message, content string) (reply string, tokensUsed int, err error)
}

// EchoResponder answers deterministically, which keeps tests stable.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, conv store.Conversation, _ []store.Message, content string) (string, int, error) {
	reply := "[" + conv.AIProvider + "/" + conv.AIModel + "] " + content
	return reply, len(strings.Fields(content)), nil
}
