package adapters

import (
	"net/http"
	"sort"
	"time"
)

// Endpoints holds the outbound base URLs, overridable for sandboxes and tests
type Endpoints struct {
	GA4       string
	Meta      string
	Pinterest string
	Snapchat  string
	TikTok    string
}

// DefaultEndpoints returns the production platform endpoints
func DefaultEndpoints() Endpoints {
	return Endpoints{
		GA4:       DefaultGA4URL,
		Meta:      DefaultMetaBaseURL,
		Pinterest: DefaultPinterestBaseURL,
		Snapchat:  DefaultSnapchatURL,
		TikTok:    DefaultTikTokURL,
	}
}

// Deps are the shared dependencies handed to every adapter constructor
type Deps struct {
	Client    *http.Client
	Endpoints Endpoints
	Now       func() time.Time
}

type constructor func(deps Deps, relay *SgtmAdapter) Adapter

var constructors = map[string]constructor{
	CodeGA4: func(d Deps, relay *SgtmAdapter) Adapter {
		return NewGA4Adapter(d.Client, d.Endpoints.GA4, relay, d.Now)
	},
	CodeMeta: func(d Deps, relay *SgtmAdapter) Adapter {
		return NewMetaAdapter(d.Client, d.Endpoints.Meta, relay, d.Now)
	},
	CodePinterest: func(d Deps, relay *SgtmAdapter) Adapter {
		return NewPinterestAdapter(d.Client, d.Endpoints.Pinterest, relay, d.Now)
	},
	CodeSnapchat: func(d Deps, relay *SgtmAdapter) Adapter {
		return NewSnapchatAdapter(d.Client, d.Endpoints.Snapchat, relay, d.Now)
	},
	CodeTikTok: func(d Deps, relay *SgtmAdapter) Adapter {
		return NewTikTokAdapter(d.Client, d.Endpoints.TikTok, relay, d.Now)
	},
	CodeSgtm: func(_ Deps, relay *SgtmAdapter) Adapter {
		return relay
	},
}

// Registry resolves a platform code to its adapter
type Registry struct {
	adapters map[string]Adapter
	fallback *SgtmAdapter
}

// NewRegistry builds every adapter once
func NewRegistry(deps Deps) *Registry {
	if deps.Client == nil {
		deps.Client = http.DefaultClient
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	relay := NewSgtmAdapter(deps.Client)
	adapters := make(map[string]Adapter, len(constructors))
	for code, build := range constructors {
		adapters[code] = build(deps, relay)
	}

	return &Registry{adapters: adapters, fallback: relay}
}

// Get returns the adapter for a platform code. Unknown platforms are delivered through the relay.
func (r *Registry) Get(platformCode string) Adapter {
	if a, ok := r.adapters[platformCode]; ok {
		return a
	}
	return r.fallback
}

// Codes lists the platform codes with a dedicated adapter
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
