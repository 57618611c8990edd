// Package workspace materializes isolated, mutable copies of scenario
// fixtures. The workspace path is the sole isolation boundary between
// concurrent runs, so identity claims are checked before any copy happens.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/signalnine/gauntlet/internal/config"
)

// Identity names one workspace. Two concurrent runs resolving to the same
// identity is a configuration error.
type Identity struct {
	Scenario  string
	Agent     string
	Tier      string
	Iteration int
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%s/iter-%d", id.Scenario, id.Agent, id.Tier, id.Iteration)
}

// Handle is a prepared workspace. It stays on disk after the run; deletion
// policy belongs to the caller.
type Handle struct {
	Identity Identity
	Dir      string
}

// Manager prepares workspaces under a base directory and tracks live claims.
type Manager struct {
	baseDir string

	mu     sync.Mutex
	claims map[Identity]struct{}
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir: baseDir,
		claims:  make(map[Identity]struct{}),
	}
}

// Prepare copies the scenario fixture into a fresh workspace keyed by the
// identity. Any failure is fatal for the run: no partial workspace is handed
// downstream.
func (m *Manager) Prepare(scenario *config.Scenario, id Identity) (*Handle, error) {
	if err := m.claim(id); err != nil {
		return nil, err
	}

	dir := filepath.Join(m.baseDir, "workspaces", id.Scenario, id.Agent, id.Tier, fmt.Sprintf("iter-%d", id.Iteration))
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		m.release(id)
		return nil, fmt.Errorf("creating workspace parent: %w", err)
	}
	// Mkdir (not MkdirAll) so a leftover workspace from a previous process
	// also counts as a collision.
	if err := os.Mkdir(dir, 0o755); err != nil {
		m.release(id)
		return nil, fmt.Errorf("claiming workspace %s: %w", id, err)
	}

	if err := copyTree(scenario.Fixture, dir); err != nil {
		os.RemoveAll(dir)
		m.release(id)
		return nil, fmt.Errorf("materializing fixture for %s: %w", id, err)
	}

	return &Handle{Identity: id, Dir: dir}, nil
}

// Release frees the identity claim. The workspace directory is retained.
func (m *Manager) Release(h *Handle) {
	if h == nil {
		return
	}
	m.release(h.Identity)
}

func (m *Manager) claim(id Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.claims[id]; taken {
		return fmt.Errorf("workspace %s already claimed by a concurrent run", id)
	}
	m.claims[id] = struct{}{}
	return nil
}

func (m *Manager) release(id Identity) {
	m.mu.Lock()
	delete(m.claims, id)
	m.mu.Unlock()
}

// copyTree recursively copies src into dst, which must already exist.
// Symlinks are recreated as links; permissions are preserved.
func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat fixture %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("fixture %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %s: %w", path, err)
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.Mkdir(target, info.Mode().Perm())
		default:
			return copyFile(path, target, d)
		}
	})
}

func copyFile(src, dst string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
