package agent

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/workspace"
)

// cliBackend shells out to a locally installed agent binary. The prompt is
// written next to the workspace and handed over via environment variables,
// matching the adapter-script contract used by container agents.
type cliBackend struct{}

func (c *cliBackend) Name() string { return "cli" }

func (c *cliBackend) Run(ctx context.Context, prompt string, ws *workspace.Handle, cfg *config.Agent) (*Result, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("cli backend has no command configured")
	}

	promptPath := filepath.Join(filepath.Dir(ws.Dir), fmt.Sprintf("prompt-iter-%d.md", ws.Identity.Iteration))
	if err := os.WriteFile(promptPath, []byte(prompt), 0o644); err != nil {
		return nil, fmt.Errorf("writing prompt file: %w", err)
	}

	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = ws.Dir
	cmd.Env = append(os.Environ(),
		"GAUNTLET_WORKSPACE="+ws.Dir,
		"GAUNTLET_PROMPT_FILE="+promptPath,
	)
	if cfg.Model != "" {
		cmd.Env = append(cmd.Env, "GAUNTLET_MODEL="+cfg.Model)
	}
	if cfg.MaxTurns > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("GAUNTLET_MAX_TURNS=%d", cfg.MaxTurns))
	}
	if cfg.ToolBudget > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("GAUNTLET_TOOL_BUDGET=%d", cfg.ToolBudget))
	}
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	transcript := out.String()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("agent command aborted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("agent command failed: %s: %w", lastLine(transcript), err)
	}

	// A shelled agent reports nothing about its internal usage.
	return &Result{
		Transcript: transcript,
		Telemetry:  NewTelemetry(),
	}, nil
}

func lastLine(s string) string {
	lines := bytes.Split(bytes.TrimSpace([]byte(s)), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
