package store

import (
	"context"

	"github.com/yangwenmai/pagesmith/internal/model"
)

// RunReader provides read access to the run ledger.
type RunReader interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, f model.RunFilter) ([]model.Run, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// RunWriter records run state transitions.
type RunWriter interface {
	CreateRun(ctx context.Context, run model.Run) error
	MarkRunning(ctx context.Context, id string) error
	CompleteRun(ctx context.Context, id string, out model.RunOutcome) error
	FailRun(ctx context.Context, id, failedStep string, errorInfo *string) error
}

// RunRecovery closes runs left open by a previous process.
type RunRecovery interface {
	ResetStaleRuns(ctx context.Context) (int64, error)
}

// RunRepository combines all run ledger operations.
type RunRepository interface {
	RunReader
	RunWriter
	RunRecovery
}
