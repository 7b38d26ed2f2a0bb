// Package openai wraps the official OpenAI Go SDK behind the small
// chat-completion surface the batch engine needs.
package openai

import (
	"context"
	"errors"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"

	"github.com/sells-group/batchquery/internal/resilience"
)

// DefaultAzureAPIVersion is the Azure OpenAI REST version used when none is
// configured.
const DefaultAzureAPIVersion = "2023-05-15"

// Client defines the chat-completion operation used by the executor.
type Client interface {
	CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ChatRequest is our own request type for CreateChatCompletion.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
}

// Message represents a single conversational message.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// ChatResponse is our own response type from CreateChatCompletion.
type ChatResponse struct {
	ID           string
	Model        string
	Content      string
	FinishReason string
	Usage        TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int64
	CompletionTokens int64
}

// LocalConfig configures the direct (OpenAI-compatible) client.
type LocalConfig struct {
	APIKey  string
	BaseURL string
}

// AzureConfig configures the Azure OpenAI client.
type AzureConfig struct {
	APIKey     string
	Endpoint   string
	APIVersion string
}

// sdkClient implements Client using the official openai-go SDK.
type sdkClient struct {
	client sdk.Client
}

// NewLocalClient creates a client for api.openai.com or a compatible base URL.
func NewLocalClient(cfg LocalConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("openai: api key is required (OPENAI_API_KEY)")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &sdkClient{client: sdk.NewClient(opts...)}, nil
}

// NewAzureClient creates a client for an Azure OpenAI resource. Model names
// are used as deployment names.
func NewAzureClient(cfg AzureConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, eris.New("openai: azure api key is required (AZURE_OPENAI_KEY)")
	}
	if cfg.Endpoint == "" {
		return nil, eris.New("openai: azure endpoint is required (AZURE_OPENAI_ENDPOINT)")
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAzureAPIVersion
	}
	return &sdkClient{
		client: sdk.NewClient(
			azure.WithEndpoint(cfg.Endpoint, version),
			azure.WithAPIKey(cfg.APIKey),
			option.WithMaxRetries(0),
		),
	}, nil
}

func (c *sdkClient) CreateChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    sdk.ChatModel(req.Model),
		Messages: toSDKMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(classify(err), "openai: create chat completion")
	}
	return fromSDKCompletion(completion)
}

// classify marks API errors with retryable status codes as transient.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

// --- SDK type conversion helpers ---

func toSDKMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, len(msgs))
	for i, m := range msgs {
		switch m.Role {
		case "system":
			out[i] = sdk.SystemMessage(m.Content)
		case "assistant":
			out[i] = sdk.AssistantMessage(m.Content)
		default:
			out[i] = sdk.UserMessage(m.Content)
		}
	}
	return out
}

func fromSDKCompletion(c *sdk.ChatCompletion) (*ChatResponse, error) {
	if c == nil || len(c.Choices) == 0 {
		return nil, eris.New("openai: completion has no choices")
	}
	choice := c.Choices[0]
	return &ChatResponse{
		ID:           c.ID,
		Model:        c.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: TokenUsage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
		},
	}, nil
}
