package diff_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/gauntlet/internal/diff"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
	return dir
}

func TestNoOpLaw(t *testing.T) {
	tree := writeTree(t, map[string]string{
		"a.txt":      "a",
		"src/b.js":   "b",
		"src/c/d.js": "d",
	})
	artifact, err := diff.Build(tree, tree, diff.Rules(nil))
	require.NoError(t, err)
	assert.True(t, artifact.Empty())
}

func TestIdenticalCopiesAreEmpty(t *testing.T) {
	files := map[string]string{"a.txt": "a", "src/b.js": "b"}
	artifact, err := diff.Build(writeTree(t, files), writeTree(t, files), diff.Rules(nil))
	require.NoError(t, err)
	assert.True(t, artifact.Empty())
}

func TestClassification(t *testing.T) {
	fixture := writeTree(t, map[string]string{
		"kept.txt":    "same",
		"changed.txt": "before",
		"gone.txt":    "bye",
	})
	workspace := writeTree(t, map[string]string{
		"kept.txt":    "same",
		"changed.txt": "after",
		"new.txt":     "hi",
	})

	artifact, err := diff.Build(workspace, fixture, diff.Rules(nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"new.txt"}, artifact.ByKind(diff.Added))
	assert.Equal(t, []string{"gone.txt"}, artifact.ByKind(diff.Removed))
	assert.Equal(t, []string{"changed.txt"}, artifact.ByKind(diff.Modified))
	assert.Empty(t, artifact.ByKind(diff.Unknown))
}

func TestIgnoreInvariance(t *testing.T) {
	fixture := writeTree(t, map[string]string{"app.js": "x"})
	workspace := writeTree(t, map[string]string{
		"app.js":                      "y",
		"package-lock.json":           "{}",
		"yarn.lock":                   "lock",
		"node_modules/react/index.js": "react",
		"dist/bundle.js":              "bundle",
		"coverage/lcov.info":          "cov",
		".git/HEAD":                   "ref",
		"src/nested/debug.log":        "noise",
	})

	artifact, err := diff.Build(workspace, fixture, diff.Rules(nil))
	require.NoError(t, err)

	require.Len(t, artifact.Changes, 1)
	assert.Equal(t, "app.js", artifact.Changes[0].Path)
}

func TestIgnoreRulesApplyAtAnyDepth(t *testing.T) {
	fixture := writeTree(t, map[string]string{"packages/a/app.js": "x"})
	workspace := writeTree(t, map[string]string{
		"packages/a/app.js":                      "y",
		"packages/a/node_modules/react/index.js": "react",
		"packages/a/dist/bundle.js":              "bundle",
		"packages/b/coverage/lcov.info":          "cov",
	})

	artifact, err := diff.Build(workspace, fixture, diff.Rules(nil))
	require.NoError(t, err)

	// Noise directories nested inside monorepo packages filter the same as
	// root-level ones.
	require.Len(t, artifact.Changes, 1)
	assert.Equal(t, "packages/a/app.js", artifact.Changes[0].Path)
}

func TestScenarioRulesAppend(t *testing.T) {
	fixture := writeTree(t, map[string]string{})
	workspace := writeTree(t, map[string]string{
		"generated/out.txt": "gen",
		"kept.txt":          "keep",
	})

	artifact, err := diff.Build(workspace, fixture, diff.Rules([]string{"generated/**"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"kept.txt"}, artifact.ByKind(diff.Added))
}

func TestMissingFixtureAllAdded(t *testing.T) {
	workspace := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	artifact, err := diff.Build(workspace, filepath.Join(t.TempDir(), "nope"), diff.Rules(nil))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, artifact.ByKind(diff.Added))
	assert.Empty(t, artifact.ByKind(diff.Removed))
}

func TestMissingWorkspaceAllRemoved(t *testing.T) {
	fixture := writeTree(t, map[string]string{"a.txt": "a"})

	artifact, err := diff.Build(filepath.Join(t.TempDir(), "nope"), fixture, diff.Rules(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, artifact.ByKind(diff.Removed))
}

func TestUnreadableFileDegradesToUnknown(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission bits are advisory for root")
	}
	fixture := writeTree(t, map[string]string{"locked.txt": "secret", "ok.txt": "same"})
	workspace := writeTree(t, map[string]string{"locked.txt": "secret", "ok.txt": "same"})
	require.NoError(t, os.Chmod(filepath.Join(workspace, "locked.txt"), 0o000))

	artifact, err := diff.Build(workspace, fixture, diff.Rules(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"locked.txt"}, artifact.ByKind(diff.Unknown))
}

func TestDependencyDelta(t *testing.T) {
	fixture := writeTree(t, map[string]string{
		"package.json": `{"dependencies":{"react":"^18.2.0","left-pad":"1.0.0"},"devDependencies":{"vitest":"^1.0.0"}}`,
	})
	workspace := writeTree(t, map[string]string{
		"package.json": `{"dependencies":{"react":"^19.0.0"},"devDependencies":{"vitest":"^1.0.0","typescript":"^5.4.0"}}`,
	})

	artifact, err := diff.Build(workspace, fixture, diff.Rules(nil))
	require.NoError(t, err)

	deps := artifact.Dependencies
	require.NotNil(t, deps)
	assert.Equal(t, diff.Delta{Before: "^18.2.0", After: "^19.0.0"}, deps["react"])
	assert.Equal(t, diff.Delta{Before: "1.0.0", After: ""}, deps["left-pad"])
	assert.Equal(t, diff.Delta{Before: "", After: "^5.4.0"}, deps["typescript"])
	// Unchanged packages do not appear in the delta.
	_, present := deps["vitest"]
	assert.False(t, present)
}

func TestDependencyDeltaIndependentOfIgnoredManifestNoise(t *testing.T) {
	// The manifest itself is diffed at the file level, but the structured
	// delta must work even when lockfiles are ignored.
	fixture := writeTree(t, map[string]string{
		"package.json":      `{"dependencies":{"react":"18.0.0"}}`,
		"package-lock.json": "old-lock",
	})
	workspace := writeTree(t, map[string]string{
		"package.json":      `{"dependencies":{"react":"19.0.0"}}`,
		"package-lock.json": "new-lock",
	})

	artifact, err := diff.Build(workspace, fixture, diff.Rules(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"package.json"}, artifact.ByKind(diff.Modified))
	assert.Equal(t, "19.0.0", artifact.Dependencies["react"].After)
}
