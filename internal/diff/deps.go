package diff

import (
	"encoding/json"
	"os"
	"path/filepath"
)

type manifest struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// dependencyDelta parses the package manifest on both sides and maps each
// package to its before/after version. Independent of the file-level diff;
// a missing or unparsable manifest contributes an empty side.
func dependencyDelta(workspaceDir, fixtureDir string) map[string]Delta {
	before := readManifest(fixtureDir)
	after := readManifest(workspaceDir)
	if len(before) == 0 && len(after) == 0 {
		return nil
	}

	delta := make(map[string]Delta)
	for pkg, version := range before {
		if after[pkg] != version {
			delta[pkg] = Delta{Before: version, After: after[pkg]}
		}
	}
	for pkg, version := range after {
		if _, seen := before[pkg]; !seen {
			delta[pkg] = Delta{After: version}
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

// ResolvedVersions returns the workspace-side versions for evaluator checks
// against required targets, including packages whose version did not move.
func ResolvedVersions(workspaceDir string) map[string]string {
	return readManifest(workspaceDir)
}

func readManifest(dir string) map[string]string {
	if dir == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	versions := make(map[string]string, len(m.Dependencies)+len(m.DevDependencies))
	for pkg, v := range m.Dependencies {
		versions[pkg] = v
	}
	for pkg, v := range m.DevDependencies {
		versions[pkg] = v
	}
	return versions
}
