// Package pricing converts token counts into USD using a yaml price table.
package pricing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelPricing holds per-1K-token prices.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps provider → model → pricing.
type Table struct {
	Providers map[string]map[string]ModelPricing
}

func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing file: %w", err)
	}
	var providers map[string]map[string]ModelPricing
	if err := yaml.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parsing pricing file: %w", err)
	}
	return &Table{Providers: providers}, nil
}

// Cost calculates total cost for a single request against a known provider.
func (t *Table) Cost(provider, model string, inputTokens, outputTokens int) float64 {
	if t == nil || t.Providers == nil {
		return 0
	}
	p, ok := t.Providers[provider][model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1000.0)*p.Input + (float64(outputTokens)/1000.0)*p.Output
}

// CostForModel searches every provider for the model. Chat-completion
// backends only know the model identifier, not which provider serves it.
// Returns ok=false when the model is priced nowhere.
func (t *Table) CostForModel(model string, inputTokens, outputTokens int) (float64, bool) {
	if t == nil {
		return 0, false
	}
	for provider := range t.Providers {
		if _, found := t.Providers[provider][model]; found {
			return t.Cost(provider, model, inputTokens, outputTokens), true
		}
	}
	return 0, false
}
