// Package provider knows the LLM chat destinations that collected pages can
// be pasted into.
package provider

import (
	"net/url"
	"strings"

	"github.com/samber/lo"
)

const (
	ChatGPT    = "chatgpt"
	Gemini     = "gemini"
	Perplexity = "perplexity"
	Claude     = "claude"
)

type Provider struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

var builtin = []Provider{
	{ID: ChatGPT, Name: "ChatGPT", URL: "https://chatgpt.com"},
	{ID: Gemini, Name: "Gemini", URL: "https://gemini.google.com"},
	{ID: Perplexity, Name: "Perplexity", URL: "https://www.perplexity.ai"},
	{ID: Claude, Name: "Claude", URL: "https://claude.ai"},
}

// Registry resolves provider ids. Disabled providers behave as unknown.
type Registry struct {
	providers []Provider
	def       string
}

// NewRegistry builds the registry. An unknown or disabled defaultID falls
// back to ChatGPT.
func NewRegistry(defaultID string, disabled []string) *Registry {
	off := lo.SliceToMap(disabled, func(id string) (string, bool) {
		return strings.ToLower(strings.TrimSpace(id)), true
	})
	providers := lo.Map(builtin, func(p Provider, _ int) Provider {
		p.Enabled = !off[p.ID]
		return p
	})

	r := &Registry{providers: providers, def: ChatGPT}
	if _, ok := r.Lookup(strings.ToLower(defaultID)); ok {
		r.def = strings.ToLower(defaultID)
	}
	return r
}

// Default returns the provider used when a request names none.
func (r *Registry) Default() string { return r.def }

// Lookup finds an enabled provider. The empty id resolves to the default.
func (r *Registry) Lookup(id string) (Provider, bool) {
	if id == "" {
		id = r.def
	}
	return lo.Find(r.providers, func(p Provider) bool {
		return p.Enabled && p.ID == id
	})
}

// List returns every known provider, enabled or not.
func (r *Registry) List() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// MatchURL reports which enabled provider, if any, a tab URL already belongs to.
func (r *Registry) MatchURL(raw string) (Provider, bool) {
	return lo.Find(r.providers, func(p Provider) bool {
		return p.Enabled && strings.HasPrefix(raw, p.URL)
	})
}

// DestinationURL is the URL a new destination tab is opened at.
func DestinationURL(p Provider) string {
	if p.ID != ChatGPT {
		return p.URL
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return p.URL + "?hints=search"
	}
	q := u.Query()
	q.Set("hints", "search")
	u.RawQuery = q.Encode()
	return u.String()
}
