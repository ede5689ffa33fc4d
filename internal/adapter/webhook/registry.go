package webhook

import (
	"sort"

	"github.com/iho/gosettle/internal/domain"
)

// Registry selects a verifier by the provider named in the route.
type Registry struct {
	verifiers map[domain.Provider]SignatureVerifier
}

// NewRegistry creates a registry. A later verifier replaces an earlier one for the same provider.
func NewRegistry(verifiers ...SignatureVerifier) *Registry {
	r := &Registry{verifiers: make(map[domain.Provider]SignatureVerifier, len(verifiers))}
	for _, v := range verifiers {
		r.Register(v)
	}
	return r
}

// NewRegistryFromSecrets builds HMAC verifiers from provider=secret pairs.
func NewRegistryFromSecrets(secrets map[string]string) *Registry {
	r := NewRegistry()
	for provider, secret := range secrets {
		r.Register(NewHMACVerifier(domain.Provider(provider), secret, ""))
	}
	return r
}

// Register adds v.
func (r *Registry) Register(v SignatureVerifier) {
	r.verifiers[normalizeProvider(v.Provider())] = v
}

// Get returns the verifier for provider or domain.ErrUnknownProvider.
func (r *Registry) Get(provider domain.Provider) (SignatureVerifier, error) {
	v, ok := r.verifiers[normalizeProvider(provider)]
	if !ok {
		return nil, domain.ErrUnknownProvider
	}
	return v, nil
}

// Providers lists registered providers in sorted order.
func (r *Registry) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(r.verifiers))
	for p := range r.verifiers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
