package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/speechio/pkg/audio"
	"github.com/MrWong99/speechio/pkg/provider/stt"
	"github.com/MrWong99/speechio/pkg/provider/tts"
	"github.com/MrWong99/speechio/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of type T from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name → constructor table.
type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(mu *sync.RWMutex, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := f.m[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := factory(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names(mu *sync.RWMutex) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(f.m))
	for n := range f.m {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Registry maps provider names to their constructor functions for each
// provider kind: text-to-speech, speech-to-text, voice activity detection
// and the audio device driver. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tts   factories[tts.Provider]
	stt   factories[stt.Provider]
	vad   factories[vad.Engine]
	audio factories[audio.Driver]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		tts:   newFactories[tts.Provider]("tts"),
		stt:   newFactories[stt.Provider]("stt"),
		vad:   newFactories[vad.Engine]("vad"),
		audio: newFactories[audio.Driver]("audio"),
	}
}

// RegisterTTS registers a TTS provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTTS(name string, factory Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.m[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.m[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory Factory[vad.Engine]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.m[name] = factory
}

// RegisterAudio registers an audio driver factory under name.
func (r *Registry) RegisterAudio(name string, factory Factory[audio.Driver]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.m[name] = factory
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(&r.mu, entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(&r.mu, entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return r.vad.create(&r.mu, entry)
}

// CreateAudio instantiates an audio driver using the factory registered under entry.Name.
func (r *Registry) CreateAudio(entry ProviderEntry) (audio.Driver, error) {
	return r.audio.create(&r.mu, entry)
}

// Names returns the sorted registered names for kind ("tts", "stt", "vad"
// or "audio"). Unknown kinds return nil.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "tts":
		return r.tts.names(&r.mu)
	case "stt":
		return r.stt.names(&r.mu)
	case "vad":
		return r.vad.names(&r.mu)
	case "audio":
		return r.audio.names(&r.mu)
	}
	return nil
}

// ---- option helpers ----

// OptString returns Options[key] as a string, or def when unset or not a
// string.
func (e ProviderEntry) OptString(key, def string) string {
	if v, ok := e.Options[key].(string); ok {
		return v
	}
	return def
}

// OptInt returns Options[key] as an int, or def. YAML integers and floats
// with no fractional part are accepted.
func (e ProviderEntry) OptInt(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return def
}

// OptFloat returns Options[key] as a float64, or def.
func (e ProviderEntry) OptFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// OptBool returns Options[key] as a bool, or def.
func (e ProviderEntry) OptBool(key string, def bool) bool {
	if v, ok := e.Options[key].(bool); ok {
		return v
	}
	return def
}
