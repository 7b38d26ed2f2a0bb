package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/sells-group/batchquery/internal/model"
)

// Nop discards every write. It backs the "none" driver.
type Nop struct{}

func (Nop) CreateRun(_ context.Context, run model.Run) (*model.Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	run.Status = model.RunStatusRunning
	return &run, nil
}

func (Nop) FinishRun(context.Context, string, model.RunStatus, *model.RunSummary) error {
	return nil
}

func (Nop) GetRun(context.Context, string) (*model.Run, error) {
	return nil, ErrRunNotFound
}

func (Nop) ListRuns(context.Context, RunFilter) ([]model.Run, error) {
	return nil, nil
}

func (Nop) Migrate(context.Context) error { return nil }

func (Nop) Close() error { return nil }
