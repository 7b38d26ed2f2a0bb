package model

import "time"

// RunStatus represents the terminal state of a batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusHalted   RunStatus = "halted"   // failure limit reached
	RunStatusCanceled RunStatus = "canceled" // interrupted by signal
	RunStatusFailed   RunStatus = "failed"   // checkpoint or recovery error
)

// Run is the ledger record of one batch run.
type Run struct {
	ID        string      `json:"id"`
	Model     string      `json:"model"`
	Flavor    string      `json:"flavor"`
	InputDir  string      `json:"input_dir"`
	OutputDir string      `json:"output_dir"`
	Estimate  bool        `json:"estimate"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary holds the aggregate counters at the end of a run.
type RunSummary struct {
	Total            int     `json:"total"`
	Finished         int     `json:"finished"`
	Estimated        int     `json:"estimated,omitempty"`
	Failed           int     `json:"failed"`
	Saved            int     `json:"saved"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	CostKnown        bool    `json:"cost_known"`
	CircuitOpen      bool    `json:"circuit_open"`
	DurationMs       int64   `json:"duration_ms"`
}
