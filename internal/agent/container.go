package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
	"github.com/rs/zerolog"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/workspace"
)

// containerBackend runs an agent image with the workspace bind-mounted at
// /workspace and the prompt mounted read-only at /prompt.md. The image's
// entrypoint owns the agent loop; exit code 0 means it believes it finished.
type containerBackend struct {
	logger zerolog.Logger
}

func (b *containerBackend) Name() string { return "container" }

func (b *containerBackend) Run(ctx context.Context, prompt string, ws *workspace.Handle, cfg *config.Agent) (*Result, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	defer cli.Close()

	promptPath := filepath.Join(filepath.Dir(ws.Dir), fmt.Sprintf("prompt-iter-%d.md", ws.Identity.Iteration))
	if err := os.WriteFile(promptPath, []byte(prompt), 0o644); err != nil {
		return nil, fmt.Errorf("writing prompt file: %w", err)
	}
	promptAbs, err := filepath.Abs(promptPath)
	if err != nil {
		return nil, fmt.Errorf("resolving prompt path: %w", err)
	}
	workAbs, err := filepath.Abs(ws.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}

	env := []string{
		"GAUNTLET_WORKSPACE=/workspace",
		"GAUNTLET_PROMPT_FILE=/prompt.md",
	}
	if cfg.Model != "" {
		env = append(env, "GAUNTLET_MODEL="+cfg.Model)
	}
	if cfg.MaxTurns > 0 {
		env = append(env, fmt.Sprintf("GAUNTLET_MAX_TURNS=%d", cfg.MaxTurns))
	}
	if cfg.ToolBudget > 0 {
		env = append(env, fmt.Sprintf("GAUNTLET_TOOL_BUDGET=%d", cfg.ToolBudget))
	}
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: workAbs, Target: "/workspace"},
			{Type: mount.TypeBind, Source: promptAbs, Target: "/prompt.md", ReadOnly: true},
		},
		Init:        &initTrue,
		ExtraHosts:  []string{"host.docker.internal:host-gateway"},
		SecurityOpt: []string{"seccomp=unconfined", "apparmor=unconfined"},
	}
	containerCfg := &container.Config{
		Image:      cfg.Image,
		Env:        env,
		WorkingDir: "/workspace",
		Labels:     map[string]string{"gauntlet": "true"},
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true})
	}()

	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitResult := cli.ContainerWait(ctx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				// Cancelled or timed out: kill and surface as a backend
				// failure so the pipeline records it and moves on.
				cli.ContainerKill(context.Background(), containerID, client.ContainerKillOptions{Signal: "SIGKILL"})
				b.logger.Warn().Str("container", containerID).Msg("agent container killed")
				return nil, fmt.Errorf("waiting for agent container: %w", err)
			}
		case status := <-waitResult.Result:
			transcript := b.containerLogs(cli, containerID)
			if status.StatusCode != 0 {
				return nil, fmt.Errorf("agent container exited %d: %s", status.StatusCode, lastLine(transcript))
			}
			return &Result{
				Transcript: transcript,
				Telemetry:  NewTelemetry(),
			}, nil
		}
	}
}

func (b *containerBackend) containerLogs(cli *client.Client, containerID string) string {
	logReader, err := cli.ContainerLogs(context.Background(), containerID, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil || logReader == nil {
		return ""
	}
	defer logReader.Close()
	data, _ := io.ReadAll(logReader)
	return string(data)
}
