package catalog_test

import (
	"errors"
	"testing"

	"agentworks/internal/catalog"
)

func TestResolveChecksModelOwnership(t *testing.T) {
	cat := catalog.Default()
	if _, err := cat.Resolve("anthropic", "claude-3-5-sonnet"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	var unknownModel catalog.UnknownModelError
	_, err := cat.Resolve("anthropic", "gpt-4o")
	if !errors.As(err, &unknownModel) {
		t.Fatalf("want UnknownModelError, got %v", err)
	}

	var unknownProvider catalog.UnknownProviderError
	_, err = cat.Resolve("mistral", "mistral-large")
	if !errors.As(err, &unknownProvider) {
		t.Fatalf("want UnknownProviderError, got %v", err)
	}
}

func TestResolveRejectsDisabledProvider(t *testing.T) {
	providers := catalog.DefaultProviders()
	for i := range providers {
		if providers[i].ID == "openai" {
			providers[i].Enabled = false
		}
	}
	cat := catalog.New(providers)

	var disabled catalog.DisabledProviderError
	_, err := cat.Resolve("openai", "gpt-4o")
	if !errors.As(err, &disabled) || disabled.ID != "openai" {
		t.Fatalf("want DisabledProviderError, got %v", err)
	}

	// lookups still see the provider so it can be listed and validated
	if _, err := cat.Provider("openai"); err != nil {
		t.Fatalf("provider lookup: %v", err)
	}
	if _, err := cat.ModelsFor("openai"); err != nil {
		t.Fatalf("models lookup: %v", err)
	}
}

func TestMergeReplacesSameIDWholesale(t *testing.T) {
	cat := catalog.Merge([]catalog.Provider{{
		ID: "anthropic", Name: "Anthropic", Models: []string{"claude-3-5-sonnet"}, Enabled: true,
	}})
	p, err := cat.Provider("anthropic")
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if len(p.Models) != 1 {
		t.Fatalf("override not applied: %+v", p.Models)
	}
	if len(cat.List()) != 3 {
		t.Fatalf("providers %d", len(cat.List()))
	}
}
