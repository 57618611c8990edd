// Package report aggregates stored run records into per-agent summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/gauntlet/internal/agent"
	"github.com/signalnine/gauntlet/internal/result"
)

type AgentSummary struct {
	Name        string  `json:"name"`
	Runs        int     `json:"runs"`
	MeanScore   float64 `json:"mean_score"`
	MeanTokens  float64 `json:"mean_tokens"`
	MeanCostUSD float64 `json:"mean_cost_usd"`
	SyncRate    float64 `json:"sync_rate"`
}

// Generate reads every record under runDir and writes a summary in the
// requested format (table, markdown, or json).
func Generate(runDir, format string, w io.Writer) error {
	records, err := collectRecords(runDir)
	if err != nil {
		return err
	}
	summaries := aggregate(records)

	switch format {
	case "markdown":
		return writeMarkdown(summaries, w)
	case "json":
		return writeJSON(summaries, w)
	default:
		return writeTable(summaries, w)
	}
}

func collectRecords(runDir string) ([]*result.Record, error) {
	var records []*result.Record
	err := filepath.Walk(runDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Name() == "record.json" {
			rec, err := result.ReadRecord(path)
			if err != nil {
				return nil
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func aggregate(records []*result.Record) []AgentSummary {
	type accum struct {
		runs   int
		score  float64
		tokens float64
		// counted separately: sentinel telemetry must not skew means
		tokenRuns int
		cost      float64
		costRuns  int
		synced    int
	}
	byAgent := map[string]*accum{}

	for _, rec := range records {
		a, ok := byAgent[rec.Run.Agent]
		if !ok {
			a = &accum{}
			byAgent[rec.Run.Agent] = a
		}
		a.runs++
		a.score += rec.Score.Total
		if rec.Synced {
			a.synced++
		}
		if rec.Agent == nil {
			continue
		}
		tel := rec.Agent.Telemetry
		if tel.TokensIn != agent.TelemetryUnknown && tel.TokensOut != agent.TelemetryUnknown {
			a.tokens += float64(tel.TokensIn + tel.TokensOut)
			a.tokenRuns++
		}
		if tel.CostUSD != agent.TelemetryUnknown {
			a.cost += tel.CostUSD
			a.costRuns++
		}
	}

	var summaries []AgentSummary
	for name, a := range byAgent {
		s := AgentSummary{
			Name:      name,
			Runs:      a.runs,
			MeanScore: a.score / float64(a.runs),
			SyncRate:  float64(a.synced) / float64(a.runs),
		}
		if a.tokenRuns > 0 {
			s.MeanTokens = a.tokens / float64(a.tokenRuns)
		}
		if a.costRuns > 0 {
			s.MeanCostUSD = a.cost / float64(a.costRuns)
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].Name < summaries[j].Name
	})
	return summaries
}

func writeTable(summaries []AgentSummary, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tRUNS\tMEAN SCORE\tMEAN TOKENS\tMEAN COST\tSYNCED")
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.0f\t$%.2f\t%.0f%%\n",
			s.Name, s.Runs, s.MeanScore, s.MeanTokens, s.MeanCostUSD, s.SyncRate*100)
	}
	return tw.Flush()
}

func writeMarkdown(summaries []AgentSummary, w io.Writer) error {
	fmt.Fprintln(w, "| Agent | Runs | Mean Score | Mean Tokens | Mean Cost | Synced |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|")
	for _, s := range summaries {
		fmt.Fprintf(w, "| %s | %d | %.2f | %.0f | $%.2f | %.0f%% |\n",
			s.Name, s.Runs, s.MeanScore, s.MeanTokens, s.MeanCostUSD, s.SyncRate*100)
	}
	return nil
}

func writeJSON(summaries []AgentSummary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}
