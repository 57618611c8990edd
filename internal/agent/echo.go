package agent

import (
	"context"
	"strings"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/workspace"
)

// echoBackend is the deterministic test backend. It touches nothing in the
// workspace and echoes the prompt back as its transcript.
type echoBackend struct{}

func (e *echoBackend) Name() string { return "echo" }

func (e *echoBackend) Run(ctx context.Context, prompt string, ws *workspace.Handle, cfg *config.Agent) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tel := NewTelemetry()
	// A local echo knows its exact usage: zero of everything except a
	// rough token count for the prompt it consumed.
	tel.TokensIn = len(strings.Fields(prompt))
	tel.TokensOut = 0
	tel.ToolCalls = 0
	tel.CostUSD = 0
	return &Result{
		Transcript: "echo: " + prompt,
		Telemetry:  tel,
	}, nil
}
