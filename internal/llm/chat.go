package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/chatproxy/internal/conversation"
)

// ChatClient adapts a Chat Completions endpoint to Client.
type ChatClient struct {
	api   ChatCompleter
	model string
}

// NewChatClient wraps api, usually an *openai.Client.
func NewChatClient(api ChatCompleter, model string) *ChatClient {
	return &ChatClient{api: api, model: model}
}

func (c *ChatClient) Provider() string { return ProviderChatCompletions }

// Complete sends the conversation as role/content messages and returns the
// first choice's content.
func (c *ChatClient) Complete(ctx context.Context, entries []conversation.Entry) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(entries))
	for _, e := range entries {
		role := openai.ChatMessageRoleUser
		if e.Role == conversation.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: e.Text()})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
