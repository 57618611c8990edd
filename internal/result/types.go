package result

import (
	"time"

	"github.com/signalnine/gauntlet/internal/agent"
	"github.com/signalnine/gauntlet/internal/diff"
	"github.com/signalnine/gauntlet/internal/eval"
	"github.com/signalnine/gauntlet/internal/validation"
)

// Stage outcome markers. Skipped means a stage never ran because an earlier
// fatal failure or cancellation cut the pipeline short; it is not an error.
const (
	StagePending = "pending"
	StageOK      = "ok"
	StageFailed  = "failed"
	StageSkipped = "skipped"
)

// Stages tracks how far the pipeline got.
type Stages struct {
	Workspace  string `json:"workspace"`
	Agent      string `json:"agent"`
	Validation string `json:"validation"`
	Diff       string `json:"diff"`
	Evaluation string `json:"evaluation"`
}

func NewStages() Stages {
	return Stages{
		Workspace:  StagePending,
		Agent:      StagePending,
		Validation: StagePending,
		Diff:       StagePending,
		Evaluation: StagePending,
	}
}

// Run is the mutable state of one benchmark execution. Created once per
// execution, mutated only by the orchestrator as stages complete, never
// reused across concurrent executions.
type Run struct {
	ID        string    `json:"id"`
	Scenario  string    `json:"scenario"`
	Agent     string    `json:"agent"`
	Model     string    `json:"model,omitempty"`
	Tier      string    `json:"tier"`
	Iteration int       `json:"iteration"`
	Workspace string    `json:"workspace"`
	Stages    Stages    `json:"stages"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Record is the completed run artifact handed to the sink.
type Record struct {
	Run        Run                 `json:"run"`
	Agent      *agent.Result       `json:"agent,omitempty"`
	Validation []validation.Result `json:"validation"`
	Diff       *diff.Artifact      `json:"diff,omitempty"`
	Score      eval.ScoreReport    `json:"score"`
	// Synced reports whether the sink acknowledged storage; false means the
	// record is retained locally for resubmission.
	Synced bool   `json:"synced"`
	SinkID string `json:"sink_id,omitempty"`
}
