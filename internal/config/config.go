package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level harness configuration.
type Config struct {
	Scenarios []Scenario `yaml:"scenarios" validate:"required,min=1,dive"`
	Agents    []Agent    `yaml:"agents" validate:"required,min=1,dive"`
	Judge     Judge      `yaml:"judge"`
	Results   Results    `yaml:"results"`
	Sink      Sink       `yaml:"sink"`
	Pricing   string     `yaml:"pricing"`
}

// Scenario is one benchmark task: a fixture tree, the prompts handed to the
// agent per tier, the validation commands run against the mutated workspace,
// and the scoring constraints. Immutable once loaded.
type Scenario struct {
	ID                 string             `yaml:"id" validate:"required"`
	Name               string             `yaml:"name"`
	Fixture            string             `yaml:"fixture" validate:"required"`
	Prompts            map[string]string  `yaml:"prompts" validate:"required,min=1"`
	ValidationCommands []string           `yaml:"validation_commands"`
	ManagersAllowed    []string           `yaml:"managers_allowed"`
	Targets            Targets            `yaml:"targets"`
	Weights            map[string]float64 `yaml:"weights"`
	Ignore             []string           `yaml:"ignore"`
	CommandTimeoutMin  int                `yaml:"command_timeout_minutes" validate:"gte=0"`
	Rubric             []RubricCriterion  `yaml:"rubric"`
}

// Targets declares required dependency outcomes for a scenario.
type Targets struct {
	// Required maps package name to the version prefix the workspace
	// manifest must end up on (e.g. "react": "19").
	Required map[string]string `yaml:"required"`
}

// RubricCriterion is one judged dimension with its weight.
type RubricCriterion struct {
	Criterion string  `yaml:"criterion" validate:"required"`
	Weight    float64 `yaml:"weight" validate:"gt=0"`
}

// Agent selects a backend variant and its settings.
type Agent struct {
	Name       string            `yaml:"name" validate:"required"`
	Backend    string            `yaml:"backend" validate:"required,oneof=echo openai cli container"`
	Model      string            `yaml:"model"`
	MaxTurns   int               `yaml:"max_turns" validate:"gte=0"`
	ToolBudget int               `yaml:"tool_budget" validate:"gte=0"`
	Command    []string          `yaml:"command"`
	Image      string            `yaml:"image"`
	BaseURL    string            `yaml:"base_url"`
	APIKeyEnv  string            `yaml:"api_key_env"`
	Env        map[string]string `yaml:"env"`
}

// Judge configures the external rubric judge.
type Judge struct {
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	TimeoutS  int    `yaml:"timeout_s" validate:"gte=0"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

// Sink points at the external results-storage service.
type Sink struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	TokenEnv string `yaml:"token_env"`
}

// Tiers enumerates the recognized prompt tiers, easiest first.
var Tiers = []string{"minimal", "standard", "detailed", "adversarial"}

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// Load reads and validates the harness config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate runs schema validation plus the cross-field checks the struct
// tags cannot express.
func Validate(cfg *Config) error {
	if err := validatorInstance().Struct(cfg); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(cfg.Scenarios))
	for i := range cfg.Scenarios {
		s := &cfg.Scenarios[i]
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("duplicate scenario id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		for tier := range s.Prompts {
			if !knownTier(tier) {
				return fmt.Errorf("scenario %q: unknown tier %q", s.ID, tier)
			}
		}
		for id, w := range s.Weights {
			if w < 0 {
				return fmt.Errorf("scenario %q: negative weight for evaluator %q", s.ID, id)
			}
		}
	}

	agents := make(map[string]struct{}, len(cfg.Agents))
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if _, dup := agents[a.Name]; dup {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		agents[a.Name] = struct{}{}
		switch a.Backend {
		case "cli":
			if len(a.Command) == 0 {
				return fmt.Errorf("agent %q: command is required for cli backend", a.Name)
			}
		case "container":
			if a.Image == "" {
				return fmt.Errorf("agent %q: image is required for container backend", a.Name)
			}
		case "openai":
			if a.Model == "" {
				return fmt.Errorf("agent %q: model is required for openai backend", a.Name)
			}
		}
	}

	if cfg.Results.Dir == "" {
		cfg.Results.Dir = "results"
	}
	return nil
}

func knownTier(tier string) bool {
	for _, t := range Tiers {
		if t == tier {
			return true
		}
	}
	return false
}

// ScenarioByID returns the named scenario or an error.
func (c *Config) ScenarioByID(id string) (*Scenario, error) {
	for i := range c.Scenarios {
		if c.Scenarios[i].ID == id {
			return &c.Scenarios[i], nil
		}
	}
	return nil, fmt.Errorf("unknown scenario %q", id)
}

// AgentByName returns the named agent or an error.
func (c *Config) AgentByName(name string) (*Agent, error) {
	for i := range c.Agents {
		if c.Agents[i].Name == name {
			return &c.Agents[i], nil
		}
	}
	return nil, fmt.Errorf("unknown agent %q", name)
}
