package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/gauntlet/internal/agent"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/diff"
	"github.com/signalnine/gauntlet/internal/eval"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/workspace"
)

// Full pipeline against a real workspace: a shelled agent mutates the tree,
// validation runs, the diff picks up the change, evaluators score it, and
// the record lands in the sink.
func TestPipelineEndToEnd(t *testing.T) {
	base := t.TempDir()

	fixture := filepath.Join(base, "fixture")
	require.NoError(t, os.MkdirAll(fixture, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "package.json"),
		[]byte(`{"name":"app","dependencies":{"react":"^18.2.0"}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "app.js"),
		[]byte("module.exports = 18\n"), 0o644))

	promptPath := filepath.Join(base, "prompt.md")
	require.NoError(t, os.WriteFile(promptPath, []byte("upgrade react to 19"), 0o644))

	scenario := &config.Scenario{
		ID:      "react-upgrade",
		Name:    "React upgrade",
		Fixture: fixture,
		Prompts: map[string]string{"standard": promptPath},
		ValidationCommands: []string{
			"echo install ok",
			"grep -q 19 package.json # test the upgrade landed",
		},
		ManagersAllowed: []string{"npm"},
		Targets: config.Targets{
			Required: map[string]string{"react": "19"},
		},
		Weights: map[string]float64{"tests": 6, "deps": 4},
	}

	// The "agent" rewrites the manifest and source the way a real one would.
	agentCfg := &config.Agent{
		Name:    "scripted",
		Backend: "cli",
		Command: []string{"sh", "-c",
			`printf '{"name":"app","dependencies":{"react":"^19.0.0"}}' > package.json && printf 'module.exports = 19\n' > app.js`},
	}
	backend, err := agent.New(agentCfg, agent.Options{})
	require.NoError(t, err)

	sinkServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"stored-1"}`))
	}))
	defer sinkServer.Close()

	opts := &runner.Opts{
		Scenario:   scenario,
		AgentCfg:   agentCfg,
		Tier:       "standard",
		Iteration:  1,
		Workspaces: workspace.NewManager(filepath.Join(base, "work")),
		Backend:    backend,
		Registry:   eval.DefaultRegistry(zerolog.Nop(), nil),
		Sink:       result.NewHTTPSink(sinkServer.URL, "", sinkServer.Client()),
		RunDir:     filepath.Join(base, "run"),
		Logger:     zerolog.Nop(),
	}

	rec, err := runner.Execute(context.Background(), opts)
	require.NoError(t, err)

	// Workspace untouched fixture check: the fixture itself never changes.
	original, err := os.ReadFile(filepath.Join(fixture, "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 18\n", string(original))

	require.Len(t, rec.Validation, 2)
	assert.True(t, rec.Validation[0].Passed())
	assert.True(t, rec.Validation[1].Passed())

	require.NotNil(t, rec.Diff)
	assert.ElementsMatch(t, []string{"app.js", "package.json"}, rec.Diff.ByKind(diff.Modified))
	assert.Equal(t, diff.Delta{Before: "^18.2.0", After: "^19.0.0"}, rec.Diff.Dependencies["react"])

	byID := map[string]eval.Result{}
	for _, res := range rec.Score.Breakdown {
		byID[res.ID] = res
	}
	assert.Equal(t, 1.0, byID["install"].Score)
	assert.Equal(t, 1.0, byID["tests"].Score)
	assert.Equal(t, 6.0, byID["tests"].Weight, "scenario weight override applied")
	assert.Equal(t, 1.0, byID["deps"].Score)
	assert.Equal(t, 4.0, byID["deps"].Weight)
	assert.Equal(t, 1.0, byID["manager"].Score)

	assert.InDelta(t, 10.0, rec.Score.Total, 1e-9)
	assert.True(t, rec.Synced)
	assert.Equal(t, "stored-1", rec.SinkID)
}

// Prepare-then-diff immediately must be empty for any scenario.
func TestPrepareIsDiffIdempotent(t *testing.T) {
	base := t.TempDir()
	fixture := filepath.Join(base, "fixture")
	require.NoError(t, os.MkdirAll(filepath.Join(fixture, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "src", "a.js"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "package.json"), []byte(`{"name":"x"}`), 0o644))

	m := workspace.NewManager(base)
	scenario := &config.Scenario{ID: "s", Fixture: fixture}
	h, err := m.Prepare(scenario, workspace.Identity{Scenario: "s", Agent: "a", Tier: "minimal", Iteration: 1})
	require.NoError(t, err)

	artifact, err := diff.Build(h.Dir, fixture, diff.Rules(nil))
	require.NoError(t, err)
	assert.True(t, artifact.Empty())
}
