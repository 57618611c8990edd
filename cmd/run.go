package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/gauntlet/internal/agent"
	"github.com/signalnine/gauntlet/internal/config"
	"github.com/signalnine/gauntlet/internal/eval"
	"github.com/signalnine/gauntlet/internal/logging"
	"github.com/signalnine/gauntlet/internal/pricing"
	"github.com/signalnine/gauntlet/internal/report"
	"github.com/signalnine/gauntlet/internal/result"
	"github.com/signalnine/gauntlet/internal/runner"
	"github.com/signalnine/gauntlet/internal/workspace"
)

var (
	flagScenario     string
	flagAgent        string
	flagTier         string
	flagIterations   int
	flagParallel     int
	flagAgentTimeout time.Duration
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a benchmark run",
		RunE:  runBenchmark,
	}
	cmd.Flags().StringVar(&flagScenario, "scenario", "", "filter to a single scenario")
	cmd.Flags().StringVar(&flagAgent, "agent", "", "filter to a single agent")
	cmd.Flags().StringVar(&flagTier, "tier", "minimal", "prompt tier")
	cmd.Flags().IntVar(&flagIterations, "iterations", 1, "iterations per scenario/agent pair")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max concurrent runs")
	cmd.Flags().DurationVar(&flagAgentTimeout, "agent-timeout", 30*time.Minute, "per-run agent dispatch timeout")
	return cmd
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(logging.Options{Level: logLevel, Console: true})
	if err != nil {
		return err
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	scenarios := filterScenarios(cfg.Scenarios, flagScenario)
	agents := filterAgents(cfg.Agents, flagAgent)
	if len(scenarios) == 0 || len(agents) == 0 {
		return fmt.Errorf("nothing to run after filtering")
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var table *pricing.Table
	if cfg.Pricing != "" {
		table, err = pricing.Load(cfg.Pricing)
		if err != nil {
			logger.Warn().Err(err).Msg("pricing table unavailable, costs stay unknown")
		}
	}

	var sink result.Sink
	if cfg.Sink.URL != "" {
		sink = result.NewHTTPSink(cfg.Sink.URL, cfg.Sink.TokenEnv, nil)
	}

	var judge *eval.JudgeEvaluator
	if cfg.Judge.Model != "" {
		judge = eval.NewJudge(cfg.Judge, http.DefaultClient, logger)
	}
	registry := eval.DefaultRegistry(logger, judge)
	workspaces := workspace.NewManager(runDir)

	var jobs []runner.Job
	for i := range scenarios {
		scenario := &scenarios[i]
		for j := range agents {
			agentCfg := &agents[j]
			backend, err := agent.New(agentCfg, agent.Options{
				Pricing: table,
				Logger:  logger,
			})
			if err != nil {
				return err
			}
			for iter := 1; iter <= flagIterations; iter++ {
				opts := &runner.Opts{
					Scenario:     scenario,
					AgentCfg:     agentCfg,
					Tier:         flagTier,
					Iteration:    iter,
					Workspaces:   workspaces,
					Backend:      backend,
					Registry:     registry,
					Sink:         sink,
					RunDir:       runDir,
					AgentTimeout: flagAgentTimeout,
					Logger:       logger,
				}
				jobs = append(jobs, func() error {
					fmt.Printf("Running %s × %s (%s, iteration %d)...\n",
						opts.Scenario.ID, opts.AgentCfg.Name, opts.Tier, opts.Iteration)
					rec, err := runner.Execute(ctx, opts)
					if err != nil {
						return fmt.Errorf("%s × %s iter %d: %w",
							opts.Scenario.ID, opts.AgentCfg.Name, opts.Iteration, err)
					}
					fmt.Printf("  %s scored %.2f\n", opts.AgentCfg.Name, rec.Score.Total)
					return nil
				})
			}
		}
	}

	errs := runner.RunPool(flagParallel, jobs)
	for _, err := range errs {
		fmt.Printf("  ERROR: %v\n", err)
	}

	fmt.Println("\n--- Results ---")
	if err := report.Generate(runDir, "table", os.Stdout); err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d runs failed", len(errs), len(jobs))
	}
	return nil
}

func filterScenarios(scenarios []config.Scenario, id string) []config.Scenario {
	if id == "" {
		return scenarios
	}
	var filtered []config.Scenario
	for _, s := range scenarios {
		if s.ID == id {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

func filterAgents(agents []config.Agent, name string) []config.Agent {
	if name == "" {
		return agents
	}
	var filtered []config.Agent
	for _, a := range agents {
		if a.Name == name {
			filtered = append(filtered, a)
		}
	}
	return filtered
}
