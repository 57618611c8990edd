package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CreateRunDir makes a timestamped directory for one benchmark invocation
// and repoints the "latest" symlink at it.
func CreateRunDir(baseDir string) (string, error) {
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir, err := filepath.Abs(filepath.Join(baseDir, "runs", stamp))
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// RecordDir is where one run's record and artifacts live.
func RecordDir(runDir, scenario, agentName, tier string, iteration int) string {
	return filepath.Join(runDir, "records", scenario, agentName, tier, fmt.Sprintf("iter-%d", iteration))
}

// WriteRecord persists the record locally. This always happens before sink
// submission so a sink failure never loses the run.
func WriteRecord(dir string, rec *Record) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating record dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "record.json"), data, 0o644)
}

// ReadRecord loads a previously written record.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record: %w", err)
	}
	return &rec, nil
}
