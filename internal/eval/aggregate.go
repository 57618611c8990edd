package eval

// ScoreReport is the final weighted total with its per-evaluator breakdown.
type ScoreReport struct {
	Total     float64  `json:"total"`
	Breakdown []Result `json:"breakdown"`
}

// Aggregate combines evaluator results into a 0-10 total:
//
//	total = Σ(score × weight) / Σ(weight of evaluators that produced a result) × 10
//
// An evaluator that errored or was not applicable contributes to neither
// sum; its weight does not drag the total down. When every evaluator failed
// the total falls back to 0. The result is clipped to [0, 10].
func Aggregate(results []Result) ScoreReport {
	var weightedSum, totalWeight float64
	for _, res := range results {
		if !res.OK {
			continue
		}
		weightedSum += res.Score * res.Weight
		totalWeight += res.Weight
	}

	report := ScoreReport{Breakdown: results}
	if totalWeight == 0 {
		return report
	}

	total := weightedSum / totalWeight * 10
	if total < 0 {
		total = 0
	}
	if total > 10 {
		total = 10
	}
	report.Total = total
	return report
}
