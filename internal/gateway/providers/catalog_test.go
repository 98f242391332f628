package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalog_CoversEveryProvider(t *testing.T) {
	cat, err := LoadCatalog()
	require.NoError(t, err)

	for _, id := range AllIdentities {
		caps, ok := cat[id]
		require.True(t, ok, "catalog entry missing for %s", id)
		assert.NotEmpty(t, caps.DisplayName)
		assert.NotEmpty(t, caps.DefaultModel)
		assert.NotEmpty(t, caps.SetupInstructions)
		assert.NotEmpty(t, caps.PricingTier)

		if id == Custom {
			continue
		}
		assert.NotEmpty(t, caps.WebsiteURL)
		_, ok = caps.Model(caps.DefaultModel)
		assert.True(t, ok, "default model of %s must be listed", id)
		for _, m := range caps.Models {
			assert.Positive(t, m.ContextLength, m.Name)
		}
	}
}

func TestAdapterDefaultsMatchCatalog(t *testing.T) {
	reg := NewDefaultRegistry(Options{})
	for _, id := range []Identity{OpenAI, DeepSeek, Mistral} {
		p, _ := reg.Get(id)
		oc := p.(*OpenAICompatibleProvider)
		assert.Equal(t, p.GetCapabilities().DefaultModel, oc.defaultModel, id)
	}
}

func TestCapabilities_EstimateCost(t *testing.T) {
	caps := Capabilities{Models: []ModelInfo{{Name: "m", InputCostPer1K: 0.002, OutputCostPer1K: 0.004}}}

	cost, ok := caps.EstimateCost("m", NewTokenUsage(1000, 500))
	require.True(t, ok)
	assert.InDelta(t, 0.004, cost, 1e-9)

	_, ok = caps.EstimateCost("unknown", NewTokenUsage(1, 1))
	assert.False(t, ok)
}

func TestParseCatalog_Errors(t *testing.T) {
	_, err := parseCatalog([]byte("providers: [::"))
	assert.Error(t, err)

	_, err = parseCatalog([]byte("providers:\n  - display_name: nameless\n"))
	assert.Error(t, err)
}
