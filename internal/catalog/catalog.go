package catalog

import "fmt"

// Provider describes one LLM vendor: its models, rate limits, and cost
// schedule. Entries are loaded at startup and immutable afterwards.
type Provider struct {
	ID                string    `json:"id" yaml:"id"`
	Name              string    `json:"name" yaml:"name"`
	API               string    `json:"api,omitempty" yaml:"api"`
	BaseURL           string    `json:"base_url,omitempty" yaml:"base_url"`
	Models            []string  `json:"models" yaml:"models"`
	RequestsPerMinute int       `json:"requests_per_minute" yaml:"requests_per_minute"`
	TokensPerMinute   int       `json:"tokens_per_minute" yaml:"tokens_per_minute"`
	CostPer1K         CostPer1K `json:"cost_per_1k" yaml:"cost_per_1k"`
	TimeoutSeconds    int       `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
	Enabled           bool      `json:"enabled" yaml:"enabled"`
}

// CostPer1K is the provider's USD cost per 1000 tokens.
type CostPer1K struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// HasModel reports whether the model id is in the provider's model list.
func (p Provider) HasModel(model string) bool {
	for _, m := range p.Models {
		if m == model {
			return true
		}
	}
	return false
}

type UnknownProviderError struct {
	ID string
}

func (e UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.ID)
}

type UnknownModelError struct {
	Provider string
	Model    string
}

func (e UnknownModelError) Error() string {
	return fmt.Sprintf("provider %q has no model %q", e.Provider, e.Model)
}

type DisabledProviderError struct {
	ID string
}

func (e DisabledProviderError) Error() string {
	return fmt.Sprintf("provider %q is disabled", e.ID)
}

// Catalog is a read-only provider registry. Construct one explicitly and
// inject it; there is no package-level instance.
type Catalog struct {
	providers map[string]Provider
	order     []string
}

func New(providers []Provider) *Catalog {
	c := &Catalog{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		if p.API == "" {
			p.API = p.ID
		}
		if p.TimeoutSeconds <= 0 {
			p.TimeoutSeconds = 60
		}
		if _, seen := c.providers[p.ID]; !seen {
			c.order = append(c.order, p.ID)
		}
		c.providers[p.ID] = p
	}
	return c
}

// Provider returns the provider by id or UnknownProviderError.
func (c *Catalog) Provider(id string) (Provider, error) {
	p, ok := c.providers[id]
	if !ok {
		return Provider{}, UnknownProviderError{ID: id}
	}
	return p, nil
}

// Resolve returns the provider after checking it is enabled and the
// model belongs to it. Lookup helpers like Provider and ModelsFor still
// return disabled providers so they can be listed and validated against.
func (c *Catalog) Resolve(providerID, model string) (Provider, error) {
	p, err := c.Provider(providerID)
	if err != nil {
		return Provider{}, err
	}
	if !p.Enabled {
		return Provider{}, DisabledProviderError{ID: providerID}
	}
	if !p.HasModel(model) {
		return Provider{}, UnknownModelError{Provider: providerID, Model: model}
	}
	return p, nil
}

// ModelsFor returns the model list for a provider.
func (c *Catalog) ModelsFor(providerID string) ([]string, error) {
	p, err := c.Provider(providerID)
	if err != nil {
		return nil, err
	}
	models := make([]string, len(p.Models))
	copy(models, p.Models)
	return models, nil
}

// List returns providers in registration order.
func (c *Catalog) List() []Provider {
	res := make([]Provider, 0, len(c.order))
	for _, id := range c.order {
		res = append(res, c.providers[id])
	}
	return res
}

// Default returns the built-in provider registry. Workspace config may
// override or extend these entries (see Merge).
func Default() *Catalog {
	return New(DefaultProviders())
}

func DefaultProviders() []Provider {
	return []Provider{
		{
			ID:      "openai",
			Name:    "OpenAI",
			BaseURL: "https://api.openai.com",
			Models: []string{
				"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "o3-mini",
			},
			RequestsPerMinute: 500,
			TokensPerMinute:   200000,
			CostPer1K:         CostPer1K{Input: 0.0025, Output: 0.01},
			TimeoutSeconds:    60,
			Enabled:           true,
		},
		{
			ID:      "anthropic",
			Name:    "Anthropic",
			BaseURL: "https://api.anthropic.com",
			Models: []string{
				"claude-3-5-sonnet", "claude-3-5-haiku", "claude-3-opus",
			},
			RequestsPerMinute: 300,
			TokensPerMinute:   160000,
			CostPer1K:         CostPer1K{Input: 0.003, Output: 0.015},
			TimeoutSeconds:    60,
			Enabled:           true,
		},
		{
			ID:      "google",
			Name:    "Google",
			BaseURL: "https://generativelanguage.googleapis.com",
			Models: []string{
				"gemini-1.5-pro", "gemini-1.5-flash", "gemini-2.0-flash",
			},
			RequestsPerMinute: 360,
			TokensPerMinute:   240000,
			CostPer1K:         CostPer1K{Input: 0.00125, Output: 0.005},
			TimeoutSeconds:    60,
			Enabled:           true,
		},
	}
}

// Merge builds a catalog from the defaults plus workspace overrides.
// Overrides replace a default entry with the same id wholesale.
func Merge(overrides []Provider) *Catalog {
	merged := DefaultProviders()
	for _, o := range overrides {
		replaced := false
		for i, d := range merged {
			if d.ID == o.ID {
				merged[i] = o
				replaced = true
				break
			}
		}
		if !replaced {
			merged = append(merged, o)
		}
	}
	return New(merged)
}
