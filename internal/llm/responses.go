package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/responses"

	"github.com/comigor/chatproxy/internal/conversation"
)

// ResponsesCreator is the subset of the openai-go responses service used by
// ResponsesClient.
type ResponsesCreator interface {
	New(ctx context.Context, body responses.ResponseNewParams, opts ...option.RequestOption) (*responses.Response, error)
}

// ResponsesClient talks to an OpenAI-style /responses endpoint.
type ResponsesClient struct {
	api   ResponsesCreator
	model string
}

// NewResponsesClient creates a client for {baseURL}/responses. Retries are
// disabled; a failed call fails the turn.
func NewResponsesClient(baseURL, apiKey, model string, client *http.Client) *ResponsesClient {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if client != nil {
		opts = append(opts, option.WithHTTPClient(client))
	}
	api := openai.NewClient(opts...)
	return &ResponsesClient{api: &api.Responses, model: model}
}

func (c *ResponsesClient) Provider() string { return ProviderResponses }

// Complete sends the conversation and returns the text of the last
// output_text block found in the response.
func (c *ResponsesClient) Complete(ctx context.Context, entries []conversation.Entry) (string, error) {
	resp, err := c.api.New(ctx, responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{OfInputItemList: toInputItems(entries)},
	})
	if err != nil {
		return "", classify(err)
	}
	return lastOutputText(resp), nil
}

// toInputItems keeps user blocks as input_text parts. Assistant turns go back
// as plain text, which the API accepts for prior replies.
func toInputItems(entries []conversation.Entry) responses.ResponseInputParam {
	items := make(responses.ResponseInputParam, 0, len(entries))
	for _, e := range entries {
		msg := &responses.EasyInputMessageParam{}
		switch e.Role {
		case conversation.RoleAssistant:
			msg.Role = responses.EasyInputMessageRoleAssistant
			msg.Content.OfString = openai.String(e.Text())
		default:
			msg.Role = responses.EasyInputMessageRoleUser
			parts := make(responses.ResponseInputMessageContentListParam, 0, len(e.Content))
			for _, b := range e.Content {
				parts = append(parts, responses.ResponseInputContentUnionParam{
					OfInputText: &responses.ResponseInputTextParam{Text: b.Text},
				})
			}
			msg.Content.OfInputItemContentList = parts
		}
		items = append(items, responses.ResponseInputItemUnionParam{OfMessage: msg})
	}
	return items
}

// classify maps SDK errors onto StatusError and ErrMalformedResponse.
// Transport errors and context errors pass through unchanged.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.StatusCode, Body: apiErr.Message}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
}

func lastOutputText(resp *responses.Response) string {
	if resp == nil {
		return ""
	}
	var reply string
	for _, item := range resp.Output {
		for _, block := range item.Content {
			if block.Type == string(conversation.BlockOutputText) {
				reply = block.Text
			}
		}
	}
	return reply
}
