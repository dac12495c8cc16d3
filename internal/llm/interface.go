package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatproxy/internal/conversation"
)

// Client produces the assistant reply for a conversation. An empty reply with
// a nil error means the upstream answered without any text.
type Client interface {
	Complete(ctx context.Context, entries []conversation.Entry) (string, error)
	Provider() string
}

// ChatCompleter is the subset of openai.Client used by ChatClient; it is easy to mock in tests.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ErrMalformedResponse is returned when the upstream payload cannot be decoded.
var ErrMalformedResponse = errors.New("llm: malformed response")

// StatusError reports a non-2xx answer from the completion API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("llm: upstream returned http %d", e.StatusCode)
	}
	return fmt.Sprintf("llm: upstream returned http %d: %s", e.StatusCode, e.Body)
}
