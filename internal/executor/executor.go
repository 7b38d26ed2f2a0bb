// Package executor runs a single chat-completion request with bounded
// retries, honoring the run-wide failure breaker and estimation mode.
package executor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/batchquery/internal/model"
	"github.com/sells-group/batchquery/internal/resilience"
	"github.com/sells-group/batchquery/internal/tokens"
	"github.com/sells-group/batchquery/pkg/openai"
)

// Breaker is the read side of the run-wide failure breaker.
type Breaker interface {
	Open() bool
}

// Job identifies one record of a source batch.
type Job struct {
	Source  string
	Index   int
	Request model.Request
}

// Outcome is the result of executing one Job.
type Outcome struct {
	Response string
	Usage    model.Usage
	Success  bool
	Attempts int
	// ShortCircuited is set when the breaker was open and no call was made.
	ShortCircuited bool
}

// Options configures an Executor.
type Options struct {
	// Estimate computes prompt tokens locally instead of calling the API.
	Estimate bool
	// Encoder is required when Estimate is set.
	Encoder tokens.Encoder
	// Retry controls backoff between attempts. MaxAttempts is taken from
	// each request's retry limit.
	Retry resilience.RetryConfig
	// Limiter optionally throttles every remote attempt.
	Limiter *rate.Limiter
}

// Executor performs remote calls for jobs. It is safe for concurrent use and
// writes no shared state.
type Executor struct {
	client  openai.Client
	breaker Breaker
	opts    Options
}

// New creates an Executor. client may be nil in estimation mode.
func New(client openai.Client, breaker Breaker, opts Options) *Executor {
	return &Executor{client: client, breaker: breaker, opts: opts}
}

// Execute runs job and never returns an error: every failure degrades to a
// failure outcome carrying the sentinel response.
func (e *Executor) Execute(ctx context.Context, job Job) Outcome {
	if e.breaker != nil && e.breaker.Open() {
		return Outcome{Response: model.FailResponse, ShortCircuited: true}
	}

	if e.opts.Estimate {
		return e.estimate(job)
	}

	return e.query(ctx, job)
}

func (e *Executor) estimate(job Job) Outcome {
	n, err := tokens.Estimate(job.Request.Messages, e.opts.Encoder)
	if err != nil {
		zap.L().Warn("token estimation failed",
			zap.String("source", job.Source),
			zap.Int("index", job.Index),
			zap.Error(err),
		)
		return Outcome{Response: model.FailResponse}
	}
	return Outcome{
		Response: model.DebugResponse,
		Usage:    model.Usage{PromptTokens: int64(n)},
		Success:  true,
	}
}

func (e *Executor) query(ctx context.Context, job Job) Outcome {
	req := job.Request
	if e.client == nil {
		zap.L().Error("no client configured", zap.String("source", job.Source), zap.Int("index", job.Index))
		return Outcome{Response: model.FailResponse}
	}

	cfg := e.opts.Retry
	cfg.MaxAttempts = req.RetryLimit
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = model.DefaultRetryLimit
	}
	cfg.OnRetry = resilience.RetryLogger(job.Source, job.Index, req.Name)

	chat := openai.ChatRequest{
		Model:       req.Name,
		Messages:    toChatMessages(req.Messages),
		Temperature: req.Temperature,
	}

	// A call that has started runs to completion even if the run is
	// interrupted; only the breaker stops new work.
	callCtx := context.WithoutCancel(ctx)

	resp, attempts, err := resilience.DoVal(callCtx, cfg, func(ctx context.Context) (*openai.ChatResponse, error) {
		if e.opts.Limiter != nil {
			if err := e.opts.Limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		return e.client.CreateChatCompletion(ctx, chat)
	})
	if err != nil {
		zap.L().Warn("record failed after retries",
			zap.String("source", job.Source),
			zap.Int("index", job.Index),
			zap.String("model", req.Name),
			zap.Int("attempts", attempts),
			zap.String("error_type", resilience.ClassifyError(err)),
			zap.Error(err),
		)
		return Outcome{Response: model.FailResponse, Attempts: attempts}
	}

	return Outcome{
		Response: resp.Content,
		Usage: model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
		Success:  true,
		Attempts: attempts,
	}
}

func toChatMessages(msgs []model.Message) []openai.Message {
	out := make([]openai.Message, len(msgs))
	for i, m := range msgs {
		out[i] = openai.Message{Role: m.Role, Content: m.Content}
	}
	return out
}
