package runner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/gauntlet/internal/agent"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/eval"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/workspace"
)

type failingSink struct{}

func (f *failingSink) Store(ctx context.Context, rec *result.Record) (string, error) {
	return "", errors.New("sink unreachable")
}

// blockingSink hangs until its context expires, like an unreachable
// endpoint with no server-side timeout.
type blockingSink struct{}

func (b *blockingSink) Store(ctx context.Context, rec *result.Record) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type okSink struct{ stored *result.Record }

func (s *okSink) Store(ctx context.Context, rec *result.Record) (string, error) {
	s.stored = rec
	return "sink-1", nil
}

func setupScenario(t *testing.T, commands []string) (*config.Scenario, string) {
	t.Helper()
	base := t.TempDir()

	fixture := filepath.Join(base, "fixture")
	require.NoError(t, os.MkdirAll(fixture, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "app.js"), []byte("original"), 0o644))

	promptPath := filepath.Join(base, "prompt.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("upgrade the app"), 0o644))

	scenario := &config.Scenario{
		ID:                 "demo",
		Name:               "Demo scenario",
		Fixture:            fixture,
		Prompts:            map[string]string{"minimal": promptPath},
		ValidationCommands: commands,
	}
	return scenario, base
}

func baseOpts(t *testing.T, scenario *config.Scenario, base string) *runner.Opts {
	t.Helper()
	agentCfg := &config.Agent{Name: "echo", Backend: "echo"}
	backend, err := agent.New(agentCfg, agent.Options{})
	require.NoError(t, err)

	return &runner.Opts{
		Scenario:   scenario,
		AgentCfg:   agentCfg,
		Tier:       "minimal",
		Iteration:  1,
		Workspaces: workspace.NewManager(filepath.Join(base, "work")),
		Backend:    backend,
		Registry:   eval.DefaultRegistry(zerolog.Nop(), nil),
		RunDir:     filepath.Join(base, "run"),
		Logger:     zerolog.Nop(),
	}
}

func TestExecuteProducesRecord(t *testing.T) {
	scenario, base := setupScenario(t, []string{"echo install ok", "echo 1 passed, 0 failed"})
	opts := baseOpts(t, scenario, base)

	rec, err := runner.Execute(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, result.StageOK, rec.Run.Stages.Workspace)
	assert.Equal(t, result.StageOK, rec.Run.Stages.Agent)
	assert.Equal(t, result.StageOK, rec.Run.Stages.Validation)
	assert.Equal(t, result.StageOK, rec.Run.Stages.Diff)
	assert.Equal(t, result.StageOK, rec.Run.Stages.Evaluation)
	require.Len(t, rec.Validation, 2)
	assert.True(t, rec.Diff.Empty(), "echo backend mutates nothing")
	assert.NotEmpty(t, rec.Run.ID)

	// The record is persisted locally.
	path := filepath.Join(result.RecordDir(opts.RunDir, "demo", "echo", "minimal", 1), "record.json")
	loaded, err := result.ReadRecord(path)
	require.NoError(t, err)
	assert.Equal(t, rec.Run.ID, loaded.Run.ID)
}

// Scenario with install → exit 0 and test → exit 1 under run-all policy:
// both results present, install evaluator passes, test evaluator fails.
func TestExecuteEndToEndScoring(t *testing.T) {
	scenario, base := setupScenario(t, []string{
		"echo install ok",
		"sh run-tests.sh",
	})
	failingTests := "echo 0 passed, 2 failed\nexit 1\n"
	require.NoError(t, os.WriteFile(filepath.Join(scenario.Fixture, "run-tests.sh"), []byte(failingTests), 0o755))
	opts := baseOpts(t, scenario, base)

	rec, err := runner.Execute(context.Background(), opts)
	require.NoError(t, err)

	require.Len(t, rec.Validation, 2)
	assert.True(t, rec.Validation[0].Passed())
	assert.False(t, rec.Validation[1].Passed())

	byID := map[string]eval.Result{}
	for _, res := range rec.Score.Breakdown {
		byID[res.ID] = res
	}
	require.True(t, byID["install"].OK)
	assert.Equal(t, 1.0, byID["install"].Score)
	require.True(t, byID["tests"].OK)
	assert.Equal(t, 0.0, byID["tests"].Score)

	assert.GreaterOrEqual(t, rec.Score.Total, 0.0)
	assert.LessOrEqual(t, rec.Score.Total, 10.0)
}

func TestExecuteAgentFailureContinuesPipeline(t *testing.T) {
	scenario, base := setupScenario(t, []string{"echo still runs"})
	opts := baseOpts(t, scenario, base)

	agentCfg := &config.Agent{Name: "broken", Backend: "cli", Command: []string{"false"}}
	backend, err := agent.New(agentCfg, agent.Options{})
	require.NoError(t, err)
	opts.AgentCfg = agentCfg
	opts.Backend = backend

	rec, err := runner.Execute(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, result.StageFailed, rec.Run.Stages.Agent)
	assert.True(t, rec.Agent.Failed)
	// Validation and diff still ran against the untouched workspace.
	assert.Equal(t, result.StageOK, rec.Run.Stages.Validation)
	require.Len(t, rec.Validation, 1)
	assert.Equal(t, result.StageOK, rec.Run.Stages.Diff)
}

func TestExecuteWorkspaceFailureIsFatal(t *testing.T) {
	scenario, base := setupScenario(t, nil)
	scenario.Fixture = filepath.Join(base, "missing-fixture")
	opts := baseOpts(t, scenario, base)

	_, err := runner.Execute(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "preparing workspace")
}

func TestExecuteUnknownTierIsFatal(t *testing.T) {
	scenario, base := setupScenario(t, nil)
	opts := baseOpts(t, scenario, base)
	opts.Tier = "adversarial"

	_, err := runner.Execute(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no adversarial tier prompt")
}

func TestExecuteSinkFailureRetainsRecord(t *testing.T) {
	scenario, base := setupScenario(t, []string{"echo ok"})
	opts := baseOpts(t, scenario, base)
	opts.Sink = &failingSink{}

	rec, err := runner.Execute(context.Background(), opts)
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Synced)

	path := filepath.Join(result.RecordDir(opts.RunDir, "demo", "echo", "minimal", 1), "record.json")
	loaded, err := result.ReadRecord(path)
	require.NoError(t, err)
	assert.False(t, loaded.Synced)
	assert.Equal(t, rec.Run.ID, loaded.Run.ID)
}

func TestExecuteSinkAckMarksSynced(t *testing.T) {
	scenario, base := setupScenario(t, []string{"echo ok"})
	opts := baseOpts(t, scenario, base)
	sink := &okSink{}
	opts.Sink = sink

	rec, err := runner.Execute(context.Background(), opts)
	require.NoError(t, err)
	assert.True(t, rec.Synced)
	assert.Equal(t, "sink-1", rec.SinkID)
	require.NotNil(t, sink.stored)
}

// The sink runs detached from run-level cancellation so the record is never
// lost, but its submission must still be bounded: a hung sink may not hold
// the worker, even when the run context is already cancelled.
func TestExecuteSinkSubmissionIsTimeoutBounded(t *testing.T) {
	scenario, base := setupScenario(t, nil)
	opts := baseOpts(t, scenario, base)
	opts.Sink = &blockingSink{}
	opts.SinkTimeout = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	rec, err := runner.Execute(ctx, opts)
	elapsed := time.Since(start)

	require.Error(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.Synced)
	assert.Less(t, elapsed, 3*time.Second, "sink submission must obey its own timeout")

	// The unsynced record is still retained locally.
	path := filepath.Join(result.RecordDir(opts.RunDir, "demo", "echo", "minimal", 1), "record.json")
	loaded, err := result.ReadRecord(path)
	require.NoError(t, err)
	assert.False(t, loaded.Synced)
}

func TestExecuteCancelledSkipsValidation(t *testing.T) {
	scenario, base := setupScenario(t, []string{"echo should not run"})
	opts := baseOpts(t, scenario, base)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := runner.Execute(ctx, opts)
	require.NoError(t, err)

	assert.Equal(t, result.StageSkipped, rec.Run.Stages.Validation)
	assert.Empty(t, rec.Validation)
	// A score report still exists for the partial run.
	assert.Equal(t, result.StageOK, rec.Run.Stages.Evaluation)
	assert.GreaterOrEqual(t, rec.Score.Total, 0.0)
}
