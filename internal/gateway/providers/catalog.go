package providers

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

// ModelInfo describes one model a provider serves
type ModelInfo struct {
	Name            string  `yaml:"name" json:"name"`
	ContextLength   int     `yaml:"context_length" json:"context_length"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k" json:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k" json:"output_cost_per_1k"`
}

// Features lists optional provider capabilities
type Features struct {
	CodeGeneration  bool `yaml:"code_generation" json:"code_generation"`
	FunctionCalling bool `yaml:"function_calling" json:"function_calling"`
	JSONMode        bool `yaml:"json_mode" json:"json_mode"`
	Vision          bool `yaml:"vision" json:"vision"`
	Streaming       bool `yaml:"streaming" json:"streaming"`
}

// RateLimits are the vendor's published default limits
type RateLimits struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	TokensPerMinute   int `yaml:"tokens_per_minute" json:"tokens_per_minute"`
}

// Capabilities is static metadata used for discovery, not for dispatch
type Capabilities struct {
	Provider          Identity    `yaml:"provider" json:"provider"`
	DisplayName       string      `yaml:"display_name" json:"display_name"`
	Description       string      `yaml:"description" json:"description"`
	DefaultModel      string      `yaml:"default_model" json:"default_model"`
	Models            []ModelInfo `yaml:"models" json:"models"`
	Features          Features    `yaml:"features" json:"features"`
	PricingTier       string      `yaml:"pricing_tier" json:"pricing_tier"`
	RateLimits        RateLimits  `yaml:"rate_limits" json:"rate_limits"`
	SetupInstructions []string    `yaml:"setup_instructions" json:"setup_instructions"`
	WebsiteURL        string      `yaml:"website_url" json:"website_url"`
}

// Model looks up a model by name
func (c Capabilities) Model(name string) (ModelInfo, bool) {
	for _, m := range c.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// EstimateCost prices a usage against the model's per-1k rates
func (c Capabilities) EstimateCost(model string, usage TokenUsage) (float64, bool) {
	m, ok := c.Model(model)
	if !ok {
		return 0, false
	}
	inputCost := float64(usage.Input) / 1000.0 * m.InputCostPer1K
	outputCost := float64(usage.Output) / 1000.0 * m.OutputCostPer1K
	return inputCost + outputCost, true
}

var (
	catalogOnce sync.Once
	catalog     map[Identity]Capabilities
	catalogErr  error
)

// LoadCatalog parses the embedded capability catalog
func LoadCatalog() (map[Identity]Capabilities, error) {
	catalogOnce.Do(func() {
		catalog, catalogErr = parseCatalog(catalogYAML)
	})
	return catalog, catalogErr
}

func parseCatalog(data []byte) (map[Identity]Capabilities, error) {
	var doc struct {
		Providers []Capabilities `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse capability catalog: %w", err)
	}

	out := make(map[Identity]Capabilities, len(doc.Providers))
	for _, p := range doc.Providers {
		if p.Provider == "" {
			return nil, fmt.Errorf("capability catalog entry %q has no provider", p.DisplayName)
		}
		out[p.Provider] = p
	}
	return out, nil
}

// capabilitiesFor returns the catalog entry for id, or a bare descriptor
// when the catalog has none
func capabilitiesFor(id Identity) Capabilities {
	cat, err := LoadCatalog()
	if err != nil {
		return Capabilities{Provider: id, DisplayName: string(id)}
	}
	if c, ok := cat[id]; ok {
		return c
	}
	return Capabilities{Provider: id, DisplayName: string(id)}
}

// attachCost adds the estimated cost to resp metadata when the model is priced
func attachCost(resp *Response, caps Capabilities) {
	if cost, ok := caps.EstimateCost(resp.Model, resp.TokensUsed); ok {
		resp.Metadata[MetaCostUSD] = cost
	}
}
