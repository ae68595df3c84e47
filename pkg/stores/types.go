package stores

import (
	"time"
)

// RunStatus represents the outcome of a benchmark run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the benchmark
type Run struct {
	ID         string
	Release    string
	Status     RunStatus
	StartedAt  time.Time
	FinishedAt *time.Time
	Error      *string
	ErrorCode  *string

	// Stats is the cache daemon report captured after the last phase.
	Stats string

	Phases []PhaseRecord
}

// PhaseRecord is a persisted phase result
type PhaseRecord struct {
	Phase      string
	Success    bool
	Elapsed    time.Duration
	Setup      time.Duration
	FailedStep string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// PhaseSummary aggregates successful results of one phase across runs
type PhaseSummary struct {
	Phase   string
	Count   int
	Average time.Duration
	Best    time.Duration
}
