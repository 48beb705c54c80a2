package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/dictum/pkg/audio"
	"github.com/MrWong99/dictum/pkg/provider/llm"
	"github.com/MrWong99/dictum/pkg/provider/stt"
	"github.com/MrWong99/dictum/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name → constructor table for one provider kind.
type factories[C, T any] struct {
	kind string
	m    map[string]func(C) (T, error)
}

func newFactories[C, T any](kind string) factories[C, T] {
	return factories[C, T]{kind: kind, m: make(map[string]func(C) (T, error))}
}

func (f factories[C, T]) create(name string, cfg C) (T, error) {
	factory, ok := f.m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return factory(cfg)
}

func (f factories[C, T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	recognizers factories[ProviderEntry, stt.Recognizer]
	llms        factories[ProviderEntry, llm.Provider]
	vads        factories[VADConfig, vad.Engine]
	sources     factories[audio.SourceConfig, audio.Source]
	listers     map[string]audio.DeviceLister
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		recognizers: newFactories[ProviderEntry, stt.Recognizer]("recognition"),
		llms:        newFactories[ProviderEntry, llm.Provider]("llm"),
		vads:        newFactories[VADConfig, vad.Engine]("vad"),
		sources:     newFactories[audio.SourceConfig, audio.Source]("audio"),
		listers:     make(map[string]audio.DeviceLister),
	}
}

// RegisterRecognizer registers a speech recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRecognizer(name string, factory func(ProviderEntry) (stt.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recognizers.m[name] = factory
}

// RegisterLLM registers a language model factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llms.m[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vads.m[name] = factory
}

// RegisterSource registers a capture backend under name. lister may be nil
// when the backend cannot enumerate devices.
func (r *Registry) RegisterSource(name string, factory func(audio.SourceConfig) (audio.Source, error), lister audio.DeviceLister) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources.m[name] = factory
	if lister != nil {
		r.listers[name] = lister
	}
}

// CreateRecognizer instantiates a recognizer using the factory registered
// under entry.Name. Returns [ErrProviderNotRegistered] if there is none.
func (r *Registry) CreateRecognizer(entry ProviderEntry) (stt.Recognizer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recognizers.create(entry.Name, entry)
}

// CreateLLM instantiates a language model using the factory registered under
// entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llms.create(entry.Name, entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under
// cfg.Provider.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.vads.create(cfg.Provider, cfg)
}

// CreateSource opens a capture source with the backend registered under name.
func (r *Registry) CreateSource(name string, cfg audio.SourceConfig) (audio.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources.create(name, cfg)
}

// DeviceLister returns the device lister registered with backend name.
func (r *Registry) DeviceLister(name string) (audio.DeviceLister, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.listers[name]
	if !ok {
		return nil, fmt.Errorf("%w: audio/%q device listing", ErrProviderNotRegistered, name)
	}
	return l, nil
}

// Recognizers lists the registered recognizer names in sorted order.
func (r *Registry) Recognizers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recognizers.names()
}

// LLMs lists the registered language model names in sorted order.
func (r *Registry) LLMs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llms.names()
}
