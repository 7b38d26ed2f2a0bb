package model

// Sentinel responses recorded instead of a model answer.
const (
	FailResponse  = "Fail."
	DebugResponse = "debug."
)

// Result is one line of a result file, aligned by index with the input.
type Result struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

// DefaultResult is the value every record starts with before any attempt.
func DefaultResult() Result {
	return Result{Response: FailResponse, Success: false}
}

// ChunkEntry is one journaled completion inside a chunk file.
type ChunkEntry struct {
	Source   string `json:"source"`
	Index    int    `json:"index"`
	Response string `json:"response"`
	// Success is nil for chunks written before the flag was journaled;
	// those entries are treated as successes.
	Success *bool `json:"success,omitempty"`
}

// Result converts the entry into the record it overwrites.
func (e ChunkEntry) Result() Result {
	ok := true
	if e.Success != nil {
		ok = *e.Success
	}
	return Result{Response: e.Response, Success: ok}
}

// NewChunkEntry builds a journal entry for a completed record.
func NewChunkEntry(source string, index int, res Result) ChunkEntry {
	ok := res.Success
	return ChunkEntry{Source: source, Index: index, Response: res.Response, Success: &ok}
}

// Usage tracks token consumption of a single call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int64 {
	return u.PromptTokens + u.CompletionTokens
}
