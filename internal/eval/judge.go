package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/diff"
)

// maxJudgeDiffChars truncates large change-sets so the rubric prompt stays
// inside the judge model's context window.
const maxJudgeDiffChars = 100_000

const defaultJudgeTimeout = 2 * time.Minute

// JudgeEvaluator scores the run against the scenario rubric using an
// external reasoning model. It is the only non-deterministic evaluator; its
// call is timeout-bounded and its failure is isolated so heuristic scoring
// is never blocked.
type JudgeEvaluator struct {
	cfg    config.Judge
	client *http.Client
	logger zerolog.Logger
}

func NewJudge(cfg config.Judge, client *http.Client, logger zerolog.Logger) *JudgeEvaluator {
	if client == nil {
		client = http.DefaultClient
	}
	return &JudgeEvaluator{cfg: cfg, client: client, logger: logger}
}

func (j *JudgeEvaluator) ID() string             { return "judge" }
func (j *JudgeEvaluator) DefaultWeight() float64 { return 2 }

func (j *JudgeEvaluator) Evaluate(ctx context.Context, in *Input) Result {
	rubric := in.Scenario.Rubric
	if len(rubric) == 0 {
		return Result{ID: j.ID(), Justification: "scenario declares no rubric", OK: false}
	}

	timeout := defaultJudgeTimeout
	if j.cfg.TimeoutS > 0 {
		timeout = time.Duration(j.cfg.TimeoutS) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := j.buildPrompt(in)

	// Three attempts, median per criterion, to tame judge variance.
	allScores := make(map[string][]float64)
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		scores, err := j.callJudge(ctx, prompt)
		if err != nil {
			lastErr = err
			j.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("judge call failed")
			if ctx.Err() != nil {
				break
			}
			continue
		}
		for criterion, score := range scores {
			allScores[criterion] = append(allScores[criterion], score)
		}
	}
	if len(allScores) == 0 {
		return Result{
			ID:            j.ID(),
			Justification: fmt.Sprintf("judge unavailable: %v", lastErr),
			OK:            false,
		}
	}

	var weightedSum, totalWeight float64
	var parts []string
	for _, criterion := range rubric {
		scores, judged := allScores[criterion.Criterion]
		if !judged {
			continue
		}
		score := median(scores)
		weightedSum += score * criterion.Weight
		totalWeight += criterion.Weight
		parts = append(parts, fmt.Sprintf("%s=%.2f", criterion.Criterion, score))
	}
	if totalWeight == 0 {
		return Result{ID: j.ID(), Justification: "judge scored no rubric criteria", OK: false}
	}

	return Result{
		ID:            j.ID(),
		Score:         weightedSum / totalWeight,
		Justification: "rubric: " + strings.Join(parts, ", "),
		OK:            true,
	}
}

func (j *JudgeEvaluator) buildPrompt(in *Input) string {
	var criteria strings.Builder
	for _, c := range in.Scenario.Rubric {
		fmt.Fprintf(&criteria, "- %s (weight: %.0f)\n", c.Criterion, c.Weight)
	}

	changeText := renderChanges(in)
	if len(changeText) > maxJudgeDiffChars {
		changeText = changeText[:maxJudgeDiffChars] + fmt.Sprintf("\n... [truncated to %d chars] ...", maxJudgeDiffChars)
	}

	var validations strings.Builder
	for _, res := range in.Validation {
		fmt.Fprintf(&validations, "- %q → exit %d (timed out: %v)\n", res.Command, res.ExitCode, res.TimedOut)
	}

	return fmt.Sprintf(`You are a code review judge for an agent benchmark. Score the change-set
against each criterion on a scale of 0.0 to 1.0.

Scenario: %s

Criteria:
%s
Validation outcomes:
%s
Changes:
%s

Respond with ONLY a JSON object mapping criterion name to score, e.g.:
{"Correct": 0.9, "Minimal": 0.7}`, in.Scenario.Name, criteria.String(), validations.String(), changeText)
}

// renderChanges summarizes the diff artifact: the change list, the
// dependency delta, and the content of added/modified files.
func renderChanges(in *Input) string {
	if in.Diff == nil {
		return "(no diff artifact)"
	}
	var b strings.Builder
	for _, change := range in.Diff.Changes {
		fmt.Fprintf(&b, "%s: %s\n", change.Kind, change.Path)
	}
	for pkg, delta := range in.Diff.Dependencies {
		fmt.Fprintf(&b, "dependency %s: %q -> %q\n", pkg, delta.Before, delta.After)
	}
	for _, change := range in.Diff.Changes {
		if change.Kind != diff.Added && change.Kind != diff.Modified {
			continue
		}
		data, err := os.ReadFile(filepath.Join(in.Run.WorkspaceDir, change.Path))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s (%s) ---\n%s\n", change.Path, change.Kind, data)
		if b.Len() > maxJudgeDiffChars {
			break
		}
	}
	return b.String()
}

func (j *JudgeEvaluator) callJudge(ctx context.Context, prompt string) (map[string]float64, error) {
	reqBody := map[string]any{
		"model":       j.cfg.Model,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("encoding judge request: %w", err)
	}

	baseURL := j.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("building judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if j.cfg.APIKeyEnv != "" {
		key := os.Getenv(j.cfg.APIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("judge api key env %s is not set", j.cfg.APIKeyEnv)
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := j.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling judge: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("judge returned %d", resp.StatusCode)
	}

	var chatResult struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResult); err != nil {
		return nil, fmt.Errorf("decoding judge response: %w", err)
	}
	if len(chatResult.Choices) == 0 {
		return nil, fmt.Errorf("no choices in judge response")
	}
	return parseJudgeResponse(chatResult.Choices[0].Message.Content)
}

func parseJudgeResponse(content string) (map[string]float64, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var scores map[string]float64
	if err := json.Unmarshal([]byte(content), &scores); err != nil {
		return nil, fmt.Errorf("parsing judge response: %w", err)
	}
	return scores, nil
}

func median(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
