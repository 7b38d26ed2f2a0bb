// Package batch drives a whole run: it dispatches every unfinished record to
// the executor in passes, folds completions into the checkpoint store, and
// stops when everything succeeded, the failure breaker opened, or the run
// was interrupted.
package batch

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/batchquery/internal/checkpoint"
	"github.com/sells-group/batchquery/internal/executor"
	"github.com/sells-group/batchquery/internal/model"
)

// Defaults for Options fields left at zero.
const (
	DefaultChunkSize     = 20
	DefaultProgressEvery = 100
	maxDefaultWorkers    = 32
)

// DefaultConcurrency mirrors a thread pool sized min(32, cpus+4).
func DefaultConcurrency() int {
	return min(maxDefaultWorkers, runtime.NumCPU()+4)
}

// Runner executes one job. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, job executor.Job) executor.Outcome
}

// Breaker counts finished records and reports whether the run should stop
// calling the remote API. *resilience.FailureBreaker satisfies it.
type Breaker interface {
	Record(success bool) bool
	Open() bool
}

// Pricer prices the usage of one call. *cost.Calculator satisfies it.
type Pricer interface {
	Cost(modelName string, usage model.Usage) (float64, bool)
}

// Options configures a Coordinator.
type Options struct {
	// Model is used for records that do not name one.
	Model string
	// RetryLimit applies to records without their own retry_limit.
	RetryLimit int
	// ChunkSize is the number of completions journaled per chunk file.
	ChunkSize int
	// Concurrency bounds in-flight executions.
	Concurrency int
	// Estimate runs a single pass that only counts prompt tokens.
	Estimate bool
	// ProgressEvery logs a progress line after this many completions.
	ProgressEvery int
	// Pricer is nil when the client flavor reports no prices.
	Pricer Pricer
}

// Summary is the counter snapshot of a run.
type Summary struct {
	Total            int           `json:"total"`
	Finished         int           `json:"finished"`
	Estimated        int           `json:"estimated"`
	Failed           int           `json:"failed"`
	Saved            int           `json:"saved"`
	Passes           int           `json:"passes"`
	PromptTokens     int64         `json:"prompt_tokens"`
	CompletionTokens int64         `json:"completion_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	CostKnown        bool          `json:"cost_known"`
	CircuitOpen      bool          `json:"circuit_open"`
	Canceled         bool          `json:"canceled"`
	Running          bool          `json:"running"`
	Duration         time.Duration `json:"duration"`
}

// Remaining is the number of records not yet finished, estimated or failed.
func (s Summary) Remaining() int {
	return max(0, s.Total-s.Finished-s.Estimated-s.Failed)
}

type completion struct {
	job executor.Job
	out executor.Outcome
}

// Coordinator owns one run. Run must not be called concurrently; Stats may
// be read from any goroutine.
type Coordinator struct {
	store   *checkpoint.Store
	exec    Runner
	breaker Breaker
	opts    Options

	mu    sync.RWMutex
	stats Summary

	buffer   []model.ChunkEntry
	flushErr error
	started  time.Time
}

// New creates a Coordinator over a loaded store.
func New(store *checkpoint.Store, exec Runner, breaker Breaker, opts Options) *Coordinator {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if opts.Model == "" {
		opts.Model = model.DefaultModel
	}
	return &Coordinator{store: store, exec: exec, breaker: breaker, opts: opts}
}

// Stats returns a copy of the current counters.
func (c *Coordinator) Stats() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	if s.Running {
		s.Duration = time.Since(c.started)
	}
	return s
}

// Run dispatches passes until no record is pending, the breaker is open,
// estimation finished its single pass, or ctx is cancelled. Calls already in
// flight when ctx is cancelled are drained and journaled before Run returns.
// A returned error means some completions could not be journaled; they are
// still applied in memory, so a Recover on the same store persists them.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	c.reset()

	log := zap.L().With(zap.String("model", c.opts.Model), zap.Bool("estimate", c.opts.Estimate))
	stats := c.Stats()
	log.Info("batch starting",
		zap.Int("total", stats.Total),
		zap.Int("already_finished", stats.Finished),
		zap.Int("concurrency", c.opts.Concurrency),
		zap.Int("chunk_size", c.opts.ChunkSize),
	)

	for {
		if ctx.Err() != nil {
			break
		}
		jobs := c.pendingJobs()
		if len(jobs) == 0 {
			break
		}

		c.pass(ctx, jobs)

		c.mu.Lock()
		c.stats.Passes++
		c.mu.Unlock()

		if c.opts.Estimate || c.breaker.Open() {
			break
		}
	}

	c.flush()

	c.mu.Lock()
	c.stats.Running = false
	c.stats.Canceled = ctx.Err() != nil
	c.stats.CircuitOpen = c.breaker.Open()
	c.stats.Duration = time.Since(c.started)
	final := c.stats
	c.mu.Unlock()

	log.Info("batch finished",
		zap.Int("total", final.Total),
		zap.Int("finished", final.Finished),
		zap.Int("estimated", final.Estimated),
		zap.Int("failed", final.Failed),
		zap.Int("saved", final.Saved),
		zap.Int("passes", final.Passes),
		zap.Int64("prompt_tokens", final.PromptTokens),
		zap.Int64("completion_tokens", final.CompletionTokens),
		zap.Bool("circuit_open", final.CircuitOpen),
		zap.Bool("canceled", final.Canceled),
		zap.Duration("duration", final.Duration),
	)

	if c.flushErr != nil {
		return final, eris.Wrap(c.flushErr, "batch: journal completions")
	}
	return final, nil
}

func (c *Coordinator) reset() {
	c.buffer = make([]model.ChunkEntry, 0, c.opts.ChunkSize)
	c.flushErr = nil
	c.started = time.Now()

	total := c.store.Total()
	finished := total - c.store.Pending()

	c.mu.Lock()
	c.stats = Summary{
		Total:     total,
		Finished:  finished,
		CostKnown: c.opts.Pricer != nil,
		Running:   true,
	}
	c.mu.Unlock()
}

// pendingJobs lists every record that has not succeeded yet, so estimation
// prices only the work a real run would still issue.
func (c *Coordinator) pendingJobs() []executor.Job {
	var jobs []executor.Job
	for _, src := range c.store.Sources() {
		for i, req := range src.Requests {
			if src.Results[i].Success {
				continue
			}
			if req.RetryLimit <= 0 {
				req.RetryLimit = c.opts.RetryLimit
			}
			jobs = append(jobs, executor.Job{
				Source:  src.ID,
				Index:   i,
				Request: req.WithDefaults(c.opts.Model),
			})
		}
	}
	return jobs
}

// pass executes jobs on a bounded worker pool. The calling goroutine is the
// only one that touches the store, the buffer and the counters.
func (c *Coordinator) pass(ctx context.Context, jobs []executor.Job) {
	done := make(chan completion, len(jobs))

	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	go func() {
		defer close(done)
		for _, job := range jobs {
			if ctx.Err() != nil {
				zap.L().Info("run interrupted; draining in-flight requests")
				break
			}
			g.Go(func() error {
				done <- completion{job: job, out: c.exec.Execute(ctx, job)}
				return nil
			})
		}
		_ = g.Wait()
	}()

	for comp := range done {
		c.handle(comp)
	}
}

func (c *Coordinator) handle(comp completion) {
	job, out := comp.job, comp.out

	if !c.opts.Estimate {
		res := model.Result{Response: out.Response, Success: out.Success}
		if err := c.store.Apply(job.Source, job.Index, res); err != nil {
			zap.L().Error("apply result", zap.String("source", job.Source), zap.Int("index", job.Index), zap.Error(err))
		}
		c.buffer = append(c.buffer, model.NewChunkEntry(job.Source, job.Index, res))
		if len(c.buffer) >= c.opts.ChunkSize {
			c.flush()
		}
	}

	var price float64
	priced := false
	if c.opts.Pricer != nil {
		price, priced = c.opts.Pricer.Cost(job.Request.Name, out.Usage)
	}

	c.mu.Lock()
	c.stats.PromptTokens += out.Usage.PromptTokens
	c.stats.CompletionTokens += out.Usage.CompletionTokens
	if priced {
		c.stats.CostUSD += price
	} else if c.opts.Pricer != nil {
		c.stats.CostKnown = false
	}
	// An estimate persists nothing, so it never counts as finished.
	switch {
	case out.Success && c.opts.Estimate:
		c.stats.Estimated++
	case out.Success:
		c.stats.Finished++
	default:
		c.stats.Failed++
	}
	snap := c.stats
	c.mu.Unlock()

	if c.breaker.Record(out.Success) {
		zap.L().Warn("failure limit reached; remaining records will not be sent",
			zap.Int("failed", snap.Failed),
		)
	}

	if n := snap.Finished + snap.Estimated + snap.Failed; n%c.opts.ProgressEvery == 0 {
		zap.L().Info("batch progress",
			zap.Int("done", n),
			zap.Int("total", snap.Total),
			zap.Int("failed", snap.Failed),
			zap.Int("saved", snap.Saved),
		)
	}
}

// flush journals the buffer. On failure the entries stay buffered and the
// next flush retries them.
func (c *Coordinator) flush() {
	if len(c.buffer) == 0 {
		return
	}
	path, err := c.store.AppendChunk(c.buffer)
	if err != nil {
		zap.L().Error("chunk write failed", zap.Int("entries", len(c.buffer)), zap.Error(err))
		if c.flushErr == nil {
			c.flushErr = err
		}
		return
	}
	n := len(c.buffer)
	c.buffer = c.buffer[:0]
	c.flushErr = nil

	c.mu.Lock()
	c.stats.Saved += n
	c.mu.Unlock()

	zap.L().Debug("chunk written", zap.String("chunk", path), zap.Int("entries", n))
}
