// Package runner drives one benchmark run through its stages: workspace,
// agent dispatch, validation, diff, evaluation, persistence. Each stage's
// output is pure input to the next; no stage reaches back into an earlier
// one.
package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalnine/gauntlet/internal/agent"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/diff"
	"github.com/signalnine/gauntlet/internal/eval"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/validation"
	"github.com/signalnine/gauntlet/internal/workspace"
)

// Opts configures one run. Scenario/tier/agent/iteration is the run's
// identity; two concurrent runs with the same identity are rejected at
// workspace claim time.
type Opts struct {
	Scenario   *config.Scenario
	AgentCfg   *config.Agent
	Tier       string
	Iteration  int
	Workspaces *workspace.Manager
	Backend    agent.Backend
	Registry   *eval.Registry
	Sink       result.Sink
	RunDir     string
	// AgentTimeout bounds the agent dispatch; zero means no extra bound
	// beyond the caller's context.
	AgentTimeout time.Duration
	// SinkTimeout bounds the sink submission; zero means DefaultSinkTimeout.
	SinkTimeout time.Duration
	Logger      zerolog.Logger
}

// DefaultSinkTimeout bounds the record submission. The sink runs detached
// from run-level cancellation so a finished run is never lost, but it must
// not hold a pool worker hostage either.
const DefaultSinkTimeout = 30 * time.Second

// Execute runs the full pipeline. A workspace failure is fatal and returns
// an error before any agent dispatch. Every later failure is recorded on the
// run and the pipeline continues, so a started run always yields a record
// with some ScoreReport. A sink failure is returned alongside the record;
// the record is already retained locally for resubmission.
func Execute(ctx context.Context, opts *Opts) (*result.Record, error) {
	logger := opts.Logger.With().
		Str("scenario", opts.Scenario.ID).
		Str("agent", opts.AgentCfg.Name).
		Str("tier", opts.Tier).
		Int("iteration", opts.Iteration).
		Logger()

	promptPath, ok := opts.Scenario.Prompts[opts.Tier]
	if !ok {
		return nil, fmt.Errorf("scenario %s has no %s tier prompt", opts.Scenario.ID, opts.Tier)
	}
	prompt, err := os.ReadFile(promptPath)
	if err != nil {
		return nil, fmt.Errorf("reading prompt: %w", err)
	}

	run := result.Run{
		ID:        uuid.NewString(),
		Scenario:  opts.Scenario.ID,
		Agent:     opts.AgentCfg.Name,
		Model:     opts.AgentCfg.Model,
		Tier:      opts.Tier,
		Iteration: opts.Iteration,
		Stages:    result.NewStages(),
		StartedAt: time.Now().UTC(),
	}

	identity := workspace.Identity{
		Scenario:  opts.Scenario.ID,
		Agent:     opts.AgentCfg.Name,
		Tier:      opts.Tier,
		Iteration: opts.Iteration,
	}
	ws, err := opts.Workspaces.Prepare(opts.Scenario, identity)
	if err != nil {
		run.Stages.Workspace = result.StageFailed
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}
	defer opts.Workspaces.Release(ws)
	run.Stages.Workspace = result.StageOK
	run.Workspace = ws.Dir

	rec := &result.Record{Run: run}

	// Agent stage. Backend failures are recorded, never fatal: validation
	// and diffing still run against whatever the agent left behind.
	agentCtx := ctx
	var cancelAgent context.CancelFunc
	if opts.AgentTimeout > 0 {
		agentCtx, cancelAgent = context.WithTimeout(ctx, opts.AgentTimeout)
	}
	agentRes := agent.Dispatch(agentCtx, opts.Backend, string(prompt), ws, opts.AgentCfg, logger)
	if cancelAgent != nil {
		cancelAgent()
	}
	rec.Agent = agentRes
	if agentRes.Failed {
		rec.Run.Stages.Agent = result.StageFailed
	} else {
		rec.Run.Stages.Agent = result.StageOK
	}

	// Validation stage.
	if ctx.Err() != nil {
		rec.Run.Stages.Validation = result.StageSkipped
	} else {
		timeout := validation.DefaultCommandTimeout
		if opts.Scenario.CommandTimeoutMin > 0 {
			timeout = time.Duration(opts.Scenario.CommandTimeoutMin) * time.Minute
		}
		rec.Validation = validation.Run(ctx, opts.Scenario.ValidationCommands, ws.Dir, timeout, logger)
		rec.Run.Stages.Validation = result.StageOK
	}

	// Diff stage. Runs even after cancellation: it is local and cheap, and
	// evaluators want whatever partial picture exists.
	artifact, err := diff.Build(ws.Dir, opts.Scenario.Fixture, diff.Rules(opts.Scenario.Ignore))
	if err != nil {
		logger.Warn().Err(err).Msg("diff failed")
		rec.Run.Stages.Diff = result.StageFailed
	} else {
		rec.Diff = artifact
		rec.Run.Stages.Diff = result.StageOK
	}

	// Evaluation stage runs over the finalized artifacts, concurrent and
	// read-only. Errored evaluators are excluded inside Aggregate.
	input := &eval.Input{
		Run: eval.RunInfo{
			AgentFailed:  agentRes.Failed,
			WorkspaceDir: ws.Dir,
			FixtureDir:   opts.Scenario.Fixture,
		},
		Validation: rec.Validation,
		Diff:       rec.Diff,
		Scenario:   opts.Scenario,
	}
	results := opts.Registry.Run(context.WithoutCancel(ctx), input, opts.Scenario.Weights)
	rec.Score = eval.Aggregate(results)
	rec.Run.Stages.Evaluation = result.StageOK
	rec.Run.EndedAt = time.Now().UTC()

	recordDir := result.RecordDir(opts.RunDir, opts.Scenario.ID, opts.AgentCfg.Name, opts.Tier, opts.Iteration)
	if err := result.WriteRecord(recordDir, rec); err != nil {
		return rec, fmt.Errorf("writing record: %w", err)
	}

	if opts.Sink != nil {
		sinkTimeout := opts.SinkTimeout
		if sinkTimeout <= 0 {
			sinkTimeout = DefaultSinkTimeout
		}
		// Detached from run-level cancellation but still timeout-bounded.
		sinkCtx, cancelSink := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		defer cancelSink()
		sinkID, err := opts.Sink.Store(sinkCtx, rec)
		if err != nil {
			// Record stays on disk unsynced; the caller decides on retry.
			rec.Synced = false
			if werr := result.WriteRecord(recordDir, rec); werr != nil {
				logger.Warn().Err(werr).Msg("rewriting record after sink failure")
			}
			return rec, fmt.Errorf("storing record: %w", err)
		}
		rec.Synced = true
		rec.SinkID = sinkID
		if err := result.WriteRecord(recordDir, rec); err != nil {
			return rec, fmt.Errorf("updating record: %w", err)
		}
	}

	logger.Info().Float64("score", rec.Score.Total).Str("run", rec.Run.ID).Msg("run complete")
	return rec, nil
}
