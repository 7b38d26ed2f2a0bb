package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/batchquery/internal/checkpoint"
	"github.com/sells-group/batchquery/internal/config"
	"github.com/sells-group/batchquery/internal/cost"
	"github.com/sells-group/batchquery/internal/ledger"
	"github.com/sells-group/batchquery/internal/model"
	"github.com/sells-group/batchquery/internal/tokens"
	"github.com/sells-group/batchquery/pkg/openai"
)

type stubClient struct {
	calls atomic.Int32
	fail  bool
}

func (c *stubClient) CreateChatCompletion(_ context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	c.calls.Add(1)
	if c.fail {
		time.Sleep(2 * time.Millisecond)
		return nil, errors.New("boom")
	}
	return &openai.ChatResponse{
		Content: strings.ToUpper(req.Messages[len(req.Messages)-1].Content),
		Usage:   openai.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000},
	}, nil
}

type charEncoder struct{}

func (charEncoder) Encode(text string) []int { return make([]int, len(text)) }

func setTestConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Query: config.QueryConfig{
			Model:         "gpt-3.5-turbo-1106",
			Client:        "local",
			ChunkSize:     2,
			FailureLimit:  10,
			ProgressEvery: 100,
		},
		Retry:  config.RetryConfig{InitialBackoffMs: -1, Multiplier: 2},
		Ledger: config.LedgerConfig{Driver: "sqlite"},
	}
	t.Cleanup(func() { cfg = prev })
}

func stubFactories(t *testing.T, client openai.Client) *atomic.Int32 {
	t.Helper()
	var built atomic.Int32
	prevClient, prevEncoder := newChatClient, newEncoder
	newChatClient = func(cost.Flavor) (openai.Client, error) {
		built.Add(1)
		return client, nil
	}
	newEncoder = func() (tokens.Encoder, error) { return charEncoder{}, nil }
	t.Cleanup(func() {
		newChatClient, newEncoder = prevClient, prevEncoder
	})
	return &built
}

func writeInputs(t *testing.T, files map[string][]string) (string, string) {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(in, 0o755))
	for name, lines := range files {
		body := strings.Join(lines, "\n") + "\n"
		require.NoError(t, os.WriteFile(filepath.Join(in, name), []byte(body), 0o644))
	}
	return in, filepath.Join(root, "out")
}

func userRecord(content string) string {
	return `{"message_param":[{"role":"user","content":"` + content + `"}],"retry_limit":1}`
}

func readResults(t *testing.T, path string) []model.Result {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []model.Result
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var r model.Result
		require.NoError(t, jsonUnmarshal(line, &r))
		out = append(out, r)
	}
	return out
}

func lastRun(t *testing.T, outDir string) model.Run {
	t.Helper()
	st, err := ledger.NewSQLite(filepath.Join(outDir, "runs.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	runs, err := st.ListRuns(context.Background(), ledger.RunFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	return runs[0]
}

func TestRunQuery_EndToEnd(t *testing.T) {
	setTestConfig(t)
	client := &stubClient{}
	stubFactories(t, client)
	in, out := writeInputs(t, map[string][]string{
		"a.jsonl": {userRecord("one"), userRecord("two"), userRecord("three")},
		"b.jsonl": {userRecord("four")},
	})

	var buf bytes.Buffer
	require.NoError(t, runQuery(context.Background(), &buf, queryOptions{InputDir: in, OutputDir: out}))

	assert.Equal(t, int32(4), client.calls.Load())
	assert.Equal(t, []model.Result{
		{Response: "ONE", Success: true},
		{Response: "TWO", Success: true},
		{Response: "THREE", Success: true},
	}, readResults(t, filepath.Join(out, "result_a.jsonl")))
	assert.Len(t, readResults(t, filepath.Join(out, "result_b.jsonl")), 1)

	chunks, err := filepath.Glob(filepath.Join(out, "tmp_*.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	output := buf.String()
	assert.Contains(t, output, "complete")
	// 4 calls x (1k prompt at $0.001 + 1k completion at $0.002).
	assert.Contains(t, output, "$0.0120")

	run := lastRun(t, out)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 4, run.Summary.Finished)
	assert.True(t, run.Summary.CostKnown)

	// A second run has nothing left to send.
	require.NoError(t, runQuery(context.Background(), &buf, queryOptions{InputDir: in, OutputDir: out}))
	assert.Equal(t, int32(4), client.calls.Load())
}

func TestRunQuery_UnsupportedModel(t *testing.T) {
	setTestConfig(t)
	cfg.Query.Model = "gpt-35-turbo"
	stubFactories(t, &stubClient{})
	in, out := writeInputs(t, map[string][]string{"a.jsonl": {userRecord("x")}})

	err := runQuery(context.Background(), &bytes.Buffer{}, queryOptions{InputDir: in, OutputDir: out})
	require.Error(t, err)
	assert.True(t, eris.Is(err, cost.ErrUnsupportedModel))
}

func TestRunQuery_RecordModelValidated(t *testing.T) {
	setTestConfig(t)
	stubFactories(t, &stubClient{})
	in, out := writeInputs(t, map[string][]string{
		"a.jsonl": {`{"name":"not-a-model","message_param":[{"role":"user","content":"x"}]}`},
	})

	err := runQuery(context.Background(), &bytes.Buffer{}, queryOptions{InputDir: in, OutputDir: out})
	require.Error(t, err)
	assert.True(t, eris.Is(err, cost.ErrUnsupportedModel))
}

func TestRunQuery_InputMissing(t *testing.T) {
	setTestConfig(t)
	err := runQuery(context.Background(), &bytes.Buffer{}, queryOptions{
		InputDir:  filepath.Join(t.TempDir(), "absent"),
		OutputDir: t.TempDir(),
	})
	require.Error(t, err)
	assert.True(t, eris.Is(err, checkpoint.ErrInputMissing))
}

func TestRunQuery_RecoverOnly(t *testing.T) {
	setTestConfig(t)
	built := stubFactories(t, &stubClient{})
	in, out := writeInputs(t, map[string][]string{"a.jsonl": {userRecord("x"), userRecord("y")}})
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "tmp_left.jsonl"),
		[]byte(`{"source":"a","index":1,"response":"Y","success":true}`+"\n"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, runQuery(context.Background(), &buf, queryOptions{InputDir: in, OutputDir: out, RecoverOnly: true}))

	assert.Equal(t, int32(0), built.Load())
	assert.Contains(t, buf.String(), "Merged 1 chunk(s)")
	assert.Equal(t, []model.Result{
		model.DefaultResult(),
		{Response: "Y", Success: true},
	}, readResults(t, filepath.Join(out, "result_a.jsonl")))
}

func TestRunQuery_Estimate(t *testing.T) {
	setTestConfig(t)
	built := stubFactories(t, &stubClient{})
	in, out := writeInputs(t, map[string][]string{"a.jsonl": {userRecord("abcd")}})

	var buf bytes.Buffer
	require.NoError(t, runQuery(context.Background(), &buf, queryOptions{InputDir: in, OutputDir: out, Estimate: true}))

	assert.Equal(t, int32(0), built.Load())
	output := buf.String()
	assert.Contains(t, output, "unknown (estimate)")
	// "abcd" is 4 tokens with charEncoder, plus 7 for the user role.
	assert.Contains(t, output, "11")
	assert.Equal(t, []model.Result{model.DefaultResult()}, readResults(t, filepath.Join(out, "result_a.jsonl")))

	assert.Contains(t, output, "Estimated:")

	run := lastRun(t, out)
	assert.True(t, run.Estimate)
	require.NotNil(t, run.Summary)
	assert.Equal(t, 0, run.Summary.Finished)
	assert.Equal(t, 1, run.Summary.Estimated)
}

func TestRunQuery_HaltsAtFailureLimit(t *testing.T) {
	setTestConfig(t)
	cfg.Query.FailureLimit = 2
	cfg.Query.Concurrency = 1
	client := &stubClient{fail: true}
	stubFactories(t, client)
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = userRecord("x")
	}
	in, out := writeInputs(t, map[string][]string{"a.jsonl": lines})

	var buf bytes.Buffer
	require.NoError(t, runQuery(context.Background(), &buf, queryOptions{InputDir: in, OutputDir: out}))

	assert.Less(t, client.calls.Load(), int32(10))
	assert.Contains(t, buf.String(), "halted")
	assert.Equal(t, model.RunStatusHalted, lastRun(t, out).Status)
	for _, r := range readResults(t, filepath.Join(out, "result_a.jsonl")) {
		assert.Equal(t, model.DefaultResult(), r)
	}
}

func TestRunQuery_LedgerDisabled(t *testing.T) {
	setTestConfig(t)
	cfg.Ledger.Driver = "none"
	stubFactories(t, &stubClient{})
	in, out := writeInputs(t, map[string][]string{"a.jsonl": {userRecord("x")}})

	require.NoError(t, runQuery(context.Background(), &bytes.Buffer{}, queryOptions{InputDir: in, OutputDir: out}))
	_, err := os.Stat(filepath.Join(out, "runs.db"))
	assert.True(t, os.IsNotExist(err))
}

func TestRunStatusOf(t *testing.T) {
	assert.Equal(t, model.RunStatusFailed, runStatusOf(batchSummary(true, true), errors.New("x")))
	assert.Equal(t, model.RunStatusCanceled, runStatusOf(batchSummary(true, true), nil))
	assert.Equal(t, model.RunStatusHalted, runStatusOf(batchSummary(false, true), nil))
	assert.Equal(t, model.RunStatusComplete, runStatusOf(batchSummary(false, false), nil))
}

func TestFormatModels(t *testing.T) {
	var buf bytes.Buffer
	formatModels(&buf, cost.Flavors(), cost.NewCalculator(cost.DefaultRates()))

	output := buf.String()
	assert.Contains(t, output, "PRICED_AS")
	assert.Contains(t, output, "gpt-4-0613")
	assert.Contains(t, output, "$0.0300")
	assert.Contains(t, output, "gpt-35-turbo")
}
