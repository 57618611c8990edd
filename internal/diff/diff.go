// Package diff computes the structural change-set between a mutated
// workspace and the scenario fixture it started from. Noise paths (lockfiles,
// dependency installs, build output) are filtered before classification so
// the artifact is deterministic regardless of walk order.
package diff

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Kind classifies one changed path.
type Kind string

const (
	Added    Kind = "added"
	Removed  Kind = "removed"
	Modified Kind = "modified"
	// Unknown marks a path that could not be read on one side. The rest of
	// the diff still completes.
	Unknown Kind = "unknown"
)

// Change is one per-path record.
type Change struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// Delta records a dependency version move. Empty string means absent.
type Delta struct {
	Before string `json:"before,omitempty"`
	After  string `json:"after,omitempty"`
}

// Artifact is the noise-filtered change-set plus the dependency delta.
type Artifact struct {
	Changes      []Change         `json:"changes"`
	Dependencies map[string]Delta `json:"dependencies,omitempty"`
}

// Empty reports whether no file-level changes were detected.
func (a *Artifact) Empty() bool {
	return a == nil || len(a.Changes) == 0
}

// ByKind returns the paths with the given classification, sorted.
func (a *Artifact) ByKind(kind Kind) []string {
	var paths []string
	for _, c := range a.Changes {
		if c.Kind == kind {
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// DefaultIgnoreRules is the fixed noise filter. Scenarios may append extra
// globs but never replace this set. Directory rules carry both the bare form
// (prunes the walk at the directory itself) and the /** form (matches its
// files), and every rule is **/-prefixed so nested workspace layouts filter
// the same as flat ones.
var DefaultIgnoreRules = []string{
	"**/.git",
	"**/.git/**",
	"**/node_modules",
	"**/node_modules/**",
	"**/dist",
	"**/dist/**",
	"**/build",
	"**/build/**",
	"**/coverage",
	"**/coverage/**",
	"**/.cache",
	"**/.cache/**",
	"**/*.lock",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/.DS_Store",
	"**/*.log",
}

// Rules combines the fixed defaults with scenario-specific extras.
func Rules(extra []string) []string {
	rules := make([]string, 0, len(DefaultIgnoreRules)+len(extra))
	rules = append(rules, DefaultIgnoreRules...)
	rules = append(rules, extra...)
	return rules
}

// Build walks both trees and classifies every non-ignored path. A missing
// fixture degrades to "everything added"; a missing workspace to "everything
// removed"; an unreadable file degrades only that path to Unknown.
func Build(workspaceDir, fixtureDir string, rules []string) (*Artifact, error) {
	workspacePaths, err := collectPaths(workspaceDir, rules)
	if err != nil {
		return nil, err
	}
	fixturePaths, err := collectPaths(fixtureDir, rules)
	if err != nil {
		return nil, err
	}

	var changes []Change
	for path := range workspacePaths {
		if _, inFixture := fixturePaths[path]; !inFixture {
			changes = append(changes, Change{Path: path, Kind: Added})
		}
	}
	for path := range fixturePaths {
		if _, inWorkspace := workspacePaths[path]; !inWorkspace {
			changes = append(changes, Change{Path: path, Kind: Removed})
		}
	}
	for path := range workspacePaths {
		if _, inFixture := fixturePaths[path]; !inFixture {
			continue
		}
		kind, changed := compareFile(filepath.Join(workspaceDir, path), filepath.Join(fixtureDir, path))
		if changed {
			changes = append(changes, Change{Path: path, Kind: kind})
		}
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	artifact := &Artifact{Changes: changes}
	artifact.Dependencies = dependencyDelta(workspaceDir, fixtureDir)
	return artifact, nil
}

// collectPaths gathers the relative file paths of a tree, dropping every
// path matching an ignore rule. A missing root yields an empty set.
func collectPaths(root string, rules []string) (map[string]struct{}, error) {
	paths := make(map[string]struct{})
	if root == "" {
		return paths, nil
	}
	if _, err := os.Stat(root); err != nil {
		return paths, nil
	}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable directory: skip its subtree, keep walking.
			return filepath.SkipDir
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if ignored(rel, rules) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			paths[rel] = struct{}{}
		}
		return nil
	})
	return paths, err
}

func ignored(rel string, rules []string) bool {
	for _, rule := range rules {
		if ok, err := doublestar.Match(rule, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// compareFile classifies a path present on both sides.
func compareFile(workspacePath, fixturePath string) (Kind, bool) {
	wsData, wsErr := os.ReadFile(workspacePath)
	fxData, fxErr := os.ReadFile(fixturePath)
	if wsErr != nil || fxErr != nil {
		return Unknown, true
	}
	if bytes.Equal(wsData, fxData) {
		return "", false
	}
	return Modified, true
}
