// Package ledger records one summary row per batch run so past runs can be
// listed and inspected. Two backends exist: a local SQLite file (default) and
// Postgres for shared installations.
package ledger

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/batchquery/internal/model"
)

// ErrRunNotFound is returned when no run matches the requested id.
var ErrRunNotFound = eris.New("run not found")

// Driver names accepted by New.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Model  string          `json:"model,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store persists run records.
type Store interface {
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Path     string `yaml:"path" mapstructure:"path"`
	DSN      string `yaml:"dsn" mapstructure:"dsn"`
	MaxConns int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// Open creates the configured store and applies its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		if cfg.Path == "" {
			return nil, eris.New("ledger: sqlite path is empty")
		}
		st, err = NewSQLite(cfg.Path)
	case DriverPostgres:
		st, err = NewPostgres(ctx, cfg.DSN, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case DriverNone:
		return Nop{}, nil
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
