// Package eval scores a finished run. Deterministic heuristic evaluators and
// the LLM judge all consume the same read-only artifacts and produce weighted
// results that the aggregator folds into one 0-10 total.
package eval

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/diff"
	"github.com/signalnine/gauntlet/internal/validation"
)

// RunInfo is the slice of run state evaluators may inspect.
type RunInfo struct {
	AgentFailed  bool
	WorkspaceDir string
	FixtureDir   string
}

// Input bundles the finalized artifacts of one run. Evaluators are read-only
// over it and have no inter-dependencies, so they run concurrently.
type Input struct {
	Run        RunInfo
	Validation []validation.Result
	Diff       *diff.Artifact
	Scenario   *config.Scenario
}

// Result is one evaluator's verdict.
type Result struct {
	ID            string  `json:"id"`
	Score         float64 `json:"score"`
	Weight        float64 `json:"weight"`
	Justification string  `json:"justification"`
	// OK is false when the evaluator errored or was not applicable; such
	// results are excluded from both aggregation sums.
	OK bool `json:"ok"`
}

// Evaluator scores one aspect of a run.
type Evaluator interface {
	ID() string
	DefaultWeight() float64
	Evaluate(ctx context.Context, in *Input) Result
}

// Registry holds the active evaluator set in registration order.
type Registry struct {
	evaluators []Evaluator
	logger     zerolog.Logger
}

func NewRegistry(logger zerolog.Logger, evaluators ...Evaluator) *Registry {
	return &Registry{evaluators: evaluators, logger: logger}
}

// DefaultRegistry wires the standard heuristic set plus the judge.
func DefaultRegistry(logger zerolog.Logger, judge *JudgeEvaluator) *Registry {
	evaluators := []Evaluator{
		&InstallEvaluator{},
		&TestEvaluator{},
		&DependencyTargetEvaluator{},
		&PackageManagerEvaluator{},
		&IntegrityEvaluator{},
	}
	if judge != nil {
		evaluators = append(evaluators, judge)
	}
	return NewRegistry(logger, evaluators...)
}

// IDs lists the registered evaluator ids in order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.evaluators))
	for i, e := range r.evaluators {
		ids[i] = e.ID()
	}
	return ids
}

// Run executes every evaluator concurrently and returns results in
// registration order. A panicking or errored evaluator is isolated: it
// yields a not-OK result and the others still complete. Scenario weight
// overrides apply only to evaluators present in the registry; an override
// naming an absent id is a no-op.
func (r *Registry) Run(ctx context.Context, in *Input, overrides map[string]float64) []Result {
	results := make([]Result, len(r.evaluators))
	var wg sync.WaitGroup
	for i, e := range r.evaluators {
		wg.Add(1)
		go func(i int, e Evaluator) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn().Str("evaluator", e.ID()).Any("panic", rec).Msg("evaluator panicked")
					results[i] = Result{ID: e.ID(), Justification: "evaluator panicked", OK: false}
				}
			}()
			results[i] = e.Evaluate(ctx, in)
		}(i, e)
	}
	wg.Wait()

	for i := range results {
		if results[i].OK {
			results[i].Weight = r.evaluators[i].DefaultWeight()
			if w, overridden := overrides[results[i].ID]; overridden {
				results[i].Weight = w
			}
		}
	}
	return results
}
