package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"agentworks/internal/catalog"
)

// Config models agentworks.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"project" json:"project"`
	Pricing   Pricing            `yaml:"pricing" json:"pricing"`
	Providers []catalog.Provider `yaml:"providers" json:"providers,omitempty"`
	Webhooks  []WebhookConfig    `yaml:"webhooks" json:"webhooks,omitempty"`
}

// Pricing is the markup rule applied to provider cost when billing a
// customer. The meter owns the arithmetic; this is just the stored knobs.
type Pricing struct {
	Markup    float64 `yaml:"markup" json:"markup"`
	Increment float64 `yaml:"increment" json:"increment"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Catalog builds the effective provider catalog: defaults merged with any
// workspace overrides.
func (c *Config) Catalog() *catalog.Catalog {
	return catalog.Merge(c.Providers)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Pricing.Markup < 1 {
		return fmt.Errorf("config.pricing.markup must be >= 1 (got %v)", c.Pricing.Markup)
	}
	if c.Pricing.Increment <= 0 {
		return fmt.Errorf("config.pricing.increment must be > 0 (got %v)", c.Pricing.Increment)
	}
	for i, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("config.providers[%d].id is required", i)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s has no models", p.ID)
		}
		if p.CostPer1K.Input < 0 || p.CostPer1K.Output < 0 {
			return fmt.Errorf("provider %s has negative cost", p.ID)
		}
	}
	for i, h := range c.Webhooks {
		if h.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agentworks.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with aw project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	cfg.Project.ID = projectID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `project:
  id: %s
  name: ""

pricing:
  markup: 5
  increment: 0.25

# providers: overrides for the built-in catalog; same-id entries replace
# the default wholesale.
providers: []

webhooks: []
`
