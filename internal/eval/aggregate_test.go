package eval_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/signalnine/gauntlet/internal/eval"
)

func TestAggregateWeightedExample(t *testing.T) {
	// Two evaluators, weights 6 and 4, raw scores 1.0 and 0.5:
	// (6×1.0 + 4×0.5) / 10 × 10 = 8.0
	results := []eval.Result{
		{ID: "tests", Score: 1.0, Weight: 6, OK: true},
		{ID: "judge", Score: 0.5, Weight: 4, OK: true},
	}
	report := eval.Aggregate(results)
	assert.InDelta(t, 8.0, report.Total, 1e-9)
	assert.Len(t, report.Breakdown, 2)
}

func TestAggregateExcludesFailedEvaluators(t *testing.T) {
	// The failed evaluator's weight contributes to neither sum: the total is
	// computed over the survivors only, not scored as zero.
	results := []eval.Result{
		{ID: "tests", Score: 1.0, Weight: 6, OK: true},
		{ID: "judge", Score: 0, Weight: 4, OK: false},
	}
	report := eval.Aggregate(results)
	assert.InDelta(t, 10.0, report.Total, 1e-9)
}

func TestAggregateAllFailedFallsBackToZero(t *testing.T) {
	results := []eval.Result{
		{ID: "tests", OK: false},
		{ID: "judge", OK: false},
	}
	report := eval.Aggregate(results)
	assert.Equal(t, 0.0, report.Total)
}

func TestAggregateEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, eval.Aggregate(nil).Total)
}

func TestAggregateBounds(t *testing.T) {
	cases := [][]eval.Result{
		{{ID: "a", Score: 0, Weight: 1, OK: true}},
		{{ID: "a", Score: 1, Weight: 100, OK: true}},
		{{ID: "a", Score: 1, Weight: 1, OK: true}, {ID: "b", Score: 0, Weight: 1, OK: true}},
		// Out-of-range raw score still clips into [0, 10].
		{{ID: "a", Score: 1.7, Weight: 1, OK: true}},
		{{ID: "a", Score: -0.3, Weight: 1, OK: true}},
	}
	for _, results := range cases {
		report := eval.Aggregate(results)
		assert.GreaterOrEqual(t, report.Total, 0.0)
		assert.LessOrEqual(t, report.Total, 10.0)
	}
}
