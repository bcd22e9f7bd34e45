package embedding

import (
	"context"
	"hash/fnv"
	"sync"
)

// StaticProvider is a deterministic in-process provider for tests and local
// development without an embedding backend. Fixed vectors can be registered
// per text; unregistered texts hash to a stable pseudo-vector so that
// identical inputs always embed identically.
type StaticProvider struct {
	mu    sync.RWMutex
	fixed map[string][]float32
	dims  int
	err   error
}

// NewStaticProvider creates a static provider with the given dimensionality.
func NewStaticProvider(dims int) *StaticProvider {
	if dims <= 0 {
		dims = 8
	}
	return &StaticProvider{
		fixed: make(map[string][]float32),
		dims:  dims,
	}
}

// Register pins a fixed vector for a text.
func (p *StaticProvider) Register(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixed[text] = vec
}

// SetError makes all subsequent Embed calls fail with err. Pass nil to clear.
func (p *StaticProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Embed returns the registered vector or a stable hash-derived one.
func (p *StaticProvider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.err != nil {
		return nil, p.err
	}
	if vec, ok := p.fixed[text]; ok {
		return vec, nil
	}

	vec := make([]float32, p.dims)
	h := fnv.New32a()
	for i := range vec {
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		vec[i] = float32(h.Sum32()%1000)/1000.0 - 0.5
	}
	return vec, nil
}

// Dimensions returns the configured dimensionality.
func (p *StaticProvider) Dimensions() int { return p.dims }

// Name returns the provider name.
func (p *StaticProvider) Name() string { return "static" }
