package models

import "strconv"

// JudgeLLMConfig overrides the LLM used by the judge stage.
type JudgeLLMConfig struct {
	Enabled         bool     `json:"enabled"`
	Provider        string   `json:"provider,omitempty"        validate:"required_if=Enabled true"`
	Model           string   `json:"model,omitempty"           validate:"required_if=Enabled true"`
	Temperature     *float64 `json:"temperature,omitempty"     validate:"omitempty,gte=0,lte=2"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty" validate:"omitempty,gte=1,lte=8192"`
	BaseURL         string   `json:"baseUrl,omitempty"         validate:"omitempty,http_url"`
	DryRun          *bool    `json:"dryRun,omitempty"`
}

// Args renders the evaluator command-line flags for this configuration.
// A nil or disabled configuration yields no flags.
func (c *JudgeLLMConfig) Args() []string {
	if c == nil || !c.Enabled {
		return []string{}
	}

	args := []string{"--judge-llm-enabled"}

	if c.Provider != "" {
		args = append(args, "--judge-llm-provider", c.Provider)
	}

	if c.Model != "" {
		args = append(args, "--judge-llm-model", c.Model)
	}

	if c.Temperature != nil {
		args = append(args, "--judge-llm-temperature", strconv.FormatFloat(*c.Temperature, 'f', -1, 64))
	}

	if c.MaxOutputTokens != nil {
		args = append(args, "--judge-llm-max-output", strconv.Itoa(*c.MaxOutputTokens))
	}

	if c.BaseURL != "" {
		args = append(args, "--judge-llm-base-url", c.BaseURL)
	}

	if c.DryRun != nil && *c.DryRun {
		args = append(args, "--judge-llm-dry-run")
	}

	return args
}
