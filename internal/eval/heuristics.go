package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalnine/gauntlet/internal/diff"
	"github.com/signalnine/gauntlet/internal/validation"
)

// InstallEvaluator checks that the scenario's dependency-install command
// completed cleanly.
type InstallEvaluator struct{}

func (e *InstallEvaluator) ID() string             { return "install" }
func (e *InstallEvaluator) DefaultWeight() float64 { return 1 }

func (e *InstallEvaluator) Evaluate(ctx context.Context, in *Input) Result {
	res, found := findCommand(in.Validation, isInstallCommand)
	if !found {
		return Result{ID: e.ID(), Justification: "scenario declares no install command", OK: false}
	}
	if res.Passed() {
		return Result{ID: e.ID(), Score: 1, Justification: fmt.Sprintf("%q exited 0", res.Command), OK: true}
	}
	return Result{
		ID:            e.ID(),
		Score:         0,
		Justification: fmt.Sprintf("%q exited %d (timed out: %v)", res.Command, res.ExitCode, res.TimedOut),
		OK:            true,
	}
}

// TestEvaluator scores the scenario's test command: full credit on exit 0,
// otherwise partial credit from the pass rate parsed out of its output.
type TestEvaluator struct{}

func (e *TestEvaluator) ID() string             { return "tests" }
func (e *TestEvaluator) DefaultWeight() float64 { return 3 }

func (e *TestEvaluator) Evaluate(ctx context.Context, in *Input) Result {
	res, found := findCommand(in.Validation, isTestCommand)
	if !found {
		return Result{ID: e.ID(), Justification: "scenario declares no test command", OK: false}
	}
	if res.Passed() {
		return Result{ID: e.ID(), Score: 1, Justification: fmt.Sprintf("%q exited 0", res.Command), OK: true}
	}
	score := ParsePassRate(res.Stdout + "\n" + res.Stderr)
	return Result{
		ID:            e.ID(),
		Score:         score,
		Justification: fmt.Sprintf("%q exited %d, parsed pass rate %.2f", res.Command, res.ExitCode, score),
		OK:            true,
	}
}

// DependencyTargetEvaluator checks the workspace manifest against the
// scenario's required dependency version targets.
type DependencyTargetEvaluator struct{}

func (e *DependencyTargetEvaluator) ID() string             { return "deps" }
func (e *DependencyTargetEvaluator) DefaultWeight() float64 { return 2 }

func (e *DependencyTargetEvaluator) Evaluate(ctx context.Context, in *Input) Result {
	required := in.Scenario.Targets.Required
	if len(required) == 0 {
		return Result{ID: e.ID(), Justification: "scenario declares no dependency targets", OK: false}
	}

	resolved := diff.ResolvedVersions(in.Run.WorkspaceDir)
	satisfied := 0
	var misses []string
	for pkg, target := range required {
		version, present := resolved[pkg]
		if present && versionSatisfies(version, target) {
			satisfied++
			continue
		}
		if !present {
			misses = append(misses, fmt.Sprintf("%s missing (want %s)", pkg, target))
		} else {
			misses = append(misses, fmt.Sprintf("%s at %s (want %s)", pkg, version, target))
		}
	}

	score := float64(satisfied) / float64(len(required))
	justification := fmt.Sprintf("%d/%d targets satisfied", satisfied, len(required))
	if len(misses) > 0 {
		justification += ": " + strings.Join(misses, "; ")
	}
	return Result{ID: e.ID(), Score: score, Justification: justification, OK: true}
}

// versionSatisfies checks a manifest version expression against a required
// prefix: "19" accepts "^19.2.0" but not "^191.0.0".
func versionSatisfies(version, target string) bool {
	v := strings.TrimLeft(version, "^~>=< v")
	t := strings.TrimPrefix(target, "v")
	if !strings.HasPrefix(v, t) {
		return false
	}
	rest := v[len(t):]
	return rest == "" || rest[0] == '.' || rest[0] == '-'
}

// PackageManagerEvaluator fails a run that introduced a lockfile belonging
// to a package manager the scenario disallows.
type PackageManagerEvaluator struct{}

func (e *PackageManagerEvaluator) ID() string             { return "manager" }
func (e *PackageManagerEvaluator) DefaultWeight() float64 { return 1 }

var lockfilesByManager = map[string]string{
	"npm":  "package-lock.json",
	"yarn": "yarn.lock",
	"pnpm": "pnpm-lock.yaml",
	"bun":  "bun.lockb",
}

func (e *PackageManagerEvaluator) Evaluate(ctx context.Context, in *Input) Result {
	allowed := in.Scenario.ManagersAllowed
	if len(allowed) == 0 {
		return Result{ID: e.ID(), Justification: "scenario allows any package manager", OK: false}
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, m := range allowed {
		allowedSet[m] = struct{}{}
	}

	var violations []string
	for manager, lockfile := range lockfilesByManager {
		if _, ok := allowedSet[manager]; ok {
			continue
		}
		if _, err := os.Stat(filepath.Join(in.Run.WorkspaceDir, lockfile)); err == nil {
			violations = append(violations, fmt.Sprintf("%s (%s)", lockfile, manager))
		}
	}
	if len(violations) > 0 {
		return Result{
			ID:            e.ID(),
			Score:         0,
			Justification: "disallowed package manager lockfiles: " + strings.Join(violations, ", "),
			OK:            true,
		}
	}
	return Result{ID: e.ID(), Score: 1, Justification: "only allowed package managers used", OK: true}
}

// IntegrityEvaluator guards against shortcuts that make the other signals
// lie: widened ignore files, disabled strict type checking, skipped tests.
// These are correctness-integrity checks, not style checks.
type IntegrityEvaluator struct{}

func (e *IntegrityEvaluator) ID() string             { return "integrity" }
func (e *IntegrityEvaluator) DefaultWeight() float64 { return 1 }

var skipMarkers = []string{".skip(", "xit(", "xdescribe(", "xtest(", "t.Skip"}

func (e *IntegrityEvaluator) Evaluate(ctx context.Context, in *Input) Result {
	if in.Diff == nil {
		return Result{ID: e.ID(), Justification: "no diff artifact available", OK: false}
	}

	var violations []string
	touched := append(in.Diff.ByKind(diff.Modified), in.Diff.ByKind(diff.Added)...)
	for _, rel := range touched {
		data, err := os.ReadFile(filepath.Join(in.Run.WorkspaceDir, rel))
		if err != nil {
			continue
		}
		content := string(data)
		base := filepath.Base(rel)

		switch {
		case base == ".gitignore" || base == ".npmignore":
			if ignoreFileWidened(in.Run.FixtureDir, rel, content) {
				violations = append(violations, rel+" widened")
			}
		case strings.HasPrefix(base, "tsconfig"):
			if strings.Contains(strings.ReplaceAll(content, " ", ""), `"strict":false`) {
				violations = append(violations, rel+" disables strict type checking")
			}
		case isTestFile(rel):
			for _, marker := range skipMarkers {
				if strings.Contains(content, marker) {
					violations = append(violations, rel+" skips tests ("+marker+")")
					break
				}
			}
		}
	}

	if len(violations) == 0 {
		return Result{ID: e.ID(), Score: 1, Justification: "no integrity violations", OK: true}
	}
	score := 1 - 0.5*float64(len(violations))
	if score < 0 {
		score = 0
	}
	return Result{
		ID:            e.ID(),
		Score:         score,
		Justification: "integrity violations: " + strings.Join(violations, "; "),
		OK:            true,
	}
}

func ignoreFileWidened(fixtureDir, rel, workspaceContent string) bool {
	original, err := os.ReadFile(filepath.Join(fixtureDir, rel))
	if err != nil {
		// Freshly added ignore file with content counts as widening.
		return strings.TrimSpace(workspaceContent) != ""
	}
	return countRules(workspaceContent) > countRules(string(original))
}

func countRules(content string) int {
	n := 0
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			n++
		}
	}
	return n
}

func isTestFile(rel string) bool {
	base := filepath.Base(rel)
	return strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.HasSuffix(base, "_test.go")
}

func findCommand(results []validation.Result, match func(string) bool) (validation.Result, bool) {
	for _, res := range results {
		// A canceled command says nothing about the workspace; treat it as
		// never having run.
		if res.Canceled {
			continue
		}
		if match(res.Command) {
			return res, true
		}
	}
	return validation.Result{}, false
}

func isInstallCommand(command string) bool {
	c := strings.ToLower(command)
	return strings.Contains(c, "install") ||
		strings.Contains(c, "npm ci") ||
		strings.Contains(c, "mod download")
}

// isTestCommand excludes install commands so "pip install pytest" never
// shadows the actual test invocation that follows it.
func isTestCommand(command string) bool {
	c := strings.ToLower(command)
	return strings.Contains(c, "test") && !isInstallCommand(c)
}

// ParsePassRate extracts a 0-1 pass rate from test-runner output. Recognizes
// "N passed, M failed" summaries and JUnit XML testsuite attributes; returns
// 0 when nothing parsable is found.
func ParsePassRate(output string) float64 {
	if strings.Contains(output, "<testsuite") {
		return parseJUnit(output)
	}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var passed, failed int
		if n, _ := fmt.Sscanf(line, "%d passed", &passed); n == 1 {
			fmt.Sscanf(line, "%d passed, %d failed", &passed, &failed)
			if total := passed + failed; total > 0 {
				return float64(passed) / float64(total)
			}
		}
	}
	return 0
}

func parseJUnit(output string) float64 {
	var tests, failures, errors int
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "<testsuite") {
			continue
		}
		fmt.Sscanf(xmlAttr(line, "tests"), "%d", &tests)
		fmt.Sscanf(xmlAttr(line, "failures"), "%d", &failures)
		fmt.Sscanf(xmlAttr(line, "errors"), "%d", &errors)
		if tests > 0 {
			passed := tests - failures - errors
			if passed < 0 {
				passed = 0
			}
			return float64(passed) / float64(tests)
		}
	}
	return 0
}

func xmlAttr(line, attr string) string {
	key := attr + `="`
	idx := strings.Index(line, key)
	if idx < 0 {
		return ""
	}
	start := idx + len(key)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return ""
	}
	return line[start : start+end]
}
