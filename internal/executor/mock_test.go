package executor

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/batchquery/pkg/openai"
)

// --- OpenAI Mock ---

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateChatCompletion(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.ChatResponse), args.Error(1)
}

// countingClient fails the first failFirst calls and counts every call.
type countingClient struct {
	calls     atomic.Int32
	failFirst int32
}

func (c *countingClient) CreateChatCompletion(_ context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	n := c.calls.Add(1)
	if n <= c.failFirst {
		return nil, errTransient
	}
	return &openai.ChatResponse{
		Content: "answer: " + req.Messages[len(req.Messages)-1].Content,
		Usage:   openai.TokenUsage{PromptTokens: 10, CompletionTokens: 4},
	}, nil
}

// staticBreaker is a Breaker with a fixed state.
type staticBreaker bool

func (b staticBreaker) Open() bool { return bool(b) }

// wordEncoder yields one token per whitespace-separated word.
type wordEncoder struct{}

func (wordEncoder) Encode(text string) []int {
	return make([]int, len(strings.Fields(text)))
}
