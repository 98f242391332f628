package providers

import "sort"

// Registry maps provider identities to adapters. It is built once at
// startup and read concurrently afterwards.
type Registry struct {
	providers map[Identity]Provider
}

// NewRegistry creates a registry holding the given adapters
func NewRegistry(adapters ...Provider) *Registry {
	r := &Registry{providers: make(map[Identity]Provider, len(adapters))}
	for _, a := range adapters {
		r.providers[a.Identity()] = a
	}
	return r
}

// NewDefaultRegistry registers all six adapters sharing one transport
func NewDefaultRegistry(opts Options) *Registry {
	shared := Options{HTTPClient: opts.client()}
	return NewRegistry(
		NewOpenAIProvider(shared),
		NewGeminiProvider(shared),
		NewClaudeProvider(shared),
		NewDeepSeekProvider(shared),
		NewMistralProvider(shared),
		NewCustomProvider(shared),
	)
}

// Get returns the adapter for id
func (r *Registry) Get(id Identity) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// Capabilities lists descriptors for every registered adapter in display order
func (r *Registry) Capabilities() []Capabilities {
	out := make([]Capabilities, 0, len(r.providers))
	for _, id := range AllIdentities {
		if p, ok := r.providers[id]; ok {
			out = append(out, p.GetCapabilities())
		}
	}

	var extra []Identity
	for id := range r.providers {
		if !isKnown(id) {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, id := range extra {
		out = append(out, r.providers[id].GetCapabilities())
	}
	return out
}

func isKnown(id Identity) bool {
	for _, k := range AllIdentities {
		if k == id {
			return true
		}
	}
	return false
}
