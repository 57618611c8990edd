// Package agent dispatches prompts to pluggable coding-agent backends and
// normalizes their heterogeneous responses into one Result shape.
package agent

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/workspace"
)

// TelemetryUnknown is the sentinel for any telemetry field a backend cannot
// supply. Fields are always present so downstream consumers never branch on
// which backend produced them.
const TelemetryUnknown = -1

// Telemetry captures usage metrics for one agent run.
type Telemetry struct {
	TokensIn  int     `json:"tokens_in"`
	TokensOut int     `json:"tokens_out"`
	ToolCalls int     `json:"tool_calls"`
	CostUSD   float64 `json:"cost_usd"`
}

// NewTelemetry returns a Telemetry with every field set to the sentinel.
// Backends overwrite only what they actually know.
func NewTelemetry() Telemetry {
	return Telemetry{
		TokensIn:  TelemetryUnknown,
		TokensOut: TelemetryUnknown,
		ToolCalls: TelemetryUnknown,
		CostUSD:   TelemetryUnknown,
	}
}

// ToolCall is one normalized tool invocation reported by a backend.
type ToolCall struct {
	Name   string `json:"name"`
	Detail string `json:"detail,omitempty"`
}

// Result is the normalized outcome of one agent dispatch.
type Result struct {
	Transcript string     `json:"transcript"`
	Telemetry  Telemetry  `json:"telemetry"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	Failed     bool       `json:"failed"`
	Failure    string     `json:"failure,omitempty"`
}

// Backend runs a prompt against a workspace. Implementations must honor
// context cancellation on every external call.
type Backend interface {
	Name() string
	Run(ctx context.Context, prompt string, ws *workspace.Handle, cfg *config.Agent) (*Result, error)
}

// Options carries shared collaborators into backend constructors.
type Options struct {
	Pricing    *pricing.Table
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// New constructs the backend variant named by the agent config. Selection is
// a configuration lookup; unknown backends fail at config time, not dispatch.
func New(cfg *config.Agent, opts Options) (Backend, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	switch cfg.Backend {
	case "echo":
		return &echoBackend{}, nil
	case "openai":
		return &openaiBackend{client: opts.HTTPClient, pricing: opts.Pricing}, nil
	case "cli":
		return &cliBackend{}, nil
	case "container":
		return &containerBackend{logger: opts.Logger}, nil
	default:
		return nil, fmt.Errorf("unknown agent backend %q", cfg.Backend)
	}
}

// Dispatch runs the backend and converts any error into a structured failure
// result. Backend failures never cross the pipeline boundary as errors: the
// run is flagged failed-at-agent-stage and the pipeline proceeds against
// whatever state the agent left behind.
func Dispatch(ctx context.Context, b Backend, prompt string, ws *workspace.Handle, cfg *config.Agent, logger zerolog.Logger) *Result {
	res, err := b.Run(ctx, prompt, ws, cfg)
	if err != nil {
		logger.Warn().Err(err).Str("backend", b.Name()).Msg("agent dispatch failed")
		return &Result{
			Telemetry: NewTelemetry(),
			Failed:    true,
			Failure:   err.Error(),
		}
	}
	return res
}
