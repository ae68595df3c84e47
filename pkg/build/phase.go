// Package build runs one timed OpenSSL build inside a working tree.
package build

import (
	"time"
)

// Phase names one of the three benchmark builds.
type Phase string

const (
	// PhaseNoCache builds with the plain compiler.
	PhaseNoCache Phase = "nocache"

	// PhaseColdCache builds through the cache wrapper with an empty cache.
	PhaseColdCache Phase = "cold"

	// PhaseWarmCache builds through the cache wrapper reusing the cold run's cache.
	PhaseWarmCache Phase = "warm"
)

// Phases lists all phases in the order they must run.
var Phases = []Phase{PhaseNoCache, PhaseColdCache, PhaseWarmCache}

// ParsePhase converts a phase name as given on the command line.
func ParsePhase(name string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == name {
			return p, true
		}
	}
	return "", false
}

// Step names a build step.
type Step string

const (
	StepConfigure Step = "configure"
	StepMakefiles Step = "makefiles"
	StepRewrite   Step = "rewrite"
	StepCompile   Step = "compile"
)

// PhaseResult is the immutable outcome of one phase.
type PhaseResult struct {
	Phase   Phase
	Success bool

	// Elapsed covers the compile step only.
	Elapsed time.Duration

	// Setup covers configure, makefile generation and rewriting.
	Setup time.Duration

	FailedStep Step
	ExitCode   int

	// Output holds the failing step's captured output.
	Output []byte

	StartedAt  time.Time
	FinishedAt time.Time
}
