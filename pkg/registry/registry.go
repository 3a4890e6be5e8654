// Package registry provides ordered registries for extractors and transfer engines.
package registry

import (
	"sync"

	"media-fetch-go/pkg/interfaces"
	"media-fetch-go/pkg/types"
)

// ExtractorRegistry manages site extractors. Registration order is the
// dispatch priority: the first extractor whose CanExtract matches wins.
type ExtractorRegistry struct {
	mu         sync.RWMutex
	extractors []interfaces.Extractor
	byName     map[string]interfaces.Extractor
}

// NewExtractorRegistry creates a new extractor registry.
func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{
		extractors: make([]interfaces.Extractor, 0),
		byName:     make(map[string]interfaces.Extractor),
	}
}

// Register adds an extractor after the ones already registered.
func (r *ExtractorRegistry) Register(extractor interfaces.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, extractor)
	r.byName[extractor.Name()] = extractor
}

// Match returns the first extractor that claims url. The boolean is false
// when the URL belongs to the generic resolver.
func (r *ExtractorRegistry) Match(url string) (interfaces.Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.extractors {
		if e.CanExtract(url) {
			return e, true
		}
	}
	return nil, false
}

// GetByName returns an extractor by its name.
func (r *ExtractorRegistry) GetByName(name string) (interfaces.Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byName[name]
	return e, ok
}

// All returns all registered extractors in priority order.
func (r *ExtractorRegistry) All() []interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.Extractor, len(r.extractors))
	copy(result, r.extractors)
	return result
}

// Names returns the registered extractor names in priority order.
func (r *ExtractorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.extractors))
	for i, e := range r.extractors {
		names[i] = e.Name()
	}
	return names
}

// Close closes all registered extractors.
func (r *ExtractorRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.extractors {
		_ = e.Close()
	}
	return nil
}

// TransferRegistry manages transfer engines.
type TransferRegistry struct {
	mu       sync.RWMutex
	engines  []interfaces.TransferEngine
	fallback interfaces.TransferEngine
}

// NewTransferRegistry creates a new transfer engine registry.
func NewTransferRegistry() *TransferRegistry {
	return &TransferRegistry{
		engines: make([]interfaces.TransferEngine, 0),
	}
}

// Register adds a transfer engine to the registry.
func (r *TransferRegistry) Register(engine interfaces.TransferEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines = append(r.engines, engine)
}

// SetFallback sets the engine used when no engine claims a format.
func (r *TransferRegistry) SetFallback(engine interfaces.TransferEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = engine
}

// Get returns the engine for f, or the fallback (possibly nil).
func (r *TransferRegistry) Get(f types.Format) interfaces.TransferEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.engines {
		if e.CanTransfer(f) {
			return e
		}
	}
	return r.fallback
}

// All returns all registered engines.
func (r *TransferRegistry) All() []interfaces.TransferEngine {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]interfaces.TransferEngine, len(r.engines))
	copy(result, r.engines)
	return result
}
