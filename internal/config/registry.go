package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voxrelay/pkg/audio"
	"github.com/MrWong99/voxrelay/pkg/provider/stt"
	"github.com/MrWong99/voxrelay/pkg/provider/tts"
	"github.com/MrWong99/voxrelay/pkg/provider/vad"
)

// ErrProviderNotRegistered is wrapped by the Create methods when no factory
// exists for the configured name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is one kind's name-to-constructor table.
type factories[K comparable, C, P any] struct {
	kind string
	byID map[K]func(C) (P, error)
}

func newFactories[K comparable, C, P any](kind string) factories[K, C, P] {
	return factories[K, C, P]{kind: kind, byID: make(map[K]func(C) (P, error))}
}

func (f factories[K, C, P]) lookup(id K) (func(C) (P, error), error) {
	if fn, ok := f.byID[id]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, fmt.Sprint(id))
}

// Registry holds the constructors the config can name. Registering a name
// twice keeps the later factory. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	stt   factories[string, STTConfig, stt.Provider]
	tts   factories[string, TTSConfig, tts.Provider]
	vad   factories[string, VADConfig, vad.Engine]
	audio factories[Platform, *Config, audio.Platform]
}

// NewRegistry returns a registry with no factories.
func NewRegistry() *Registry {
	return &Registry{
		stt:   newFactories[string, STTConfig, stt.Provider]("stt"),
		tts:   newFactories[string, TTSConfig, tts.Provider]("tts"),
		vad:   newFactories[string, VADConfig, vad.Engine]("vad"),
		audio: newFactories[Platform, *Config, audio.Platform]("audio"),
	}
}

func (r *Registry) RegisterSTT(name string, factory func(STTConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byID[name] = factory
}

func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts.byID[name] = factory
}

func (r *Registry) RegisterVAD(name string, factory func(VADConfig) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.byID[name] = factory
}

// RegisterAudio registers a platform. Its factory gets the whole config since
// platforms read both the audio and discord sections.
func (r *Registry) RegisterAudio(name Platform, factory func(*Config) (audio.Platform, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio.byID[name] = factory
}

// CreateSTT builds the provider named by cfg.Name.
func (r *Registry) CreateSTT(cfg STTConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, err := r.stt.lookup(cfg.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}

// CreateTTS builds the provider named by cfg.Name.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, err := r.tts.lookup(cfg.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}

// CreateVAD builds the engine named by cfg.Name.
func (r *Registry) CreateVAD(cfg VADConfig) (vad.Engine, error) {
	r.mu.RLock()
	factory, err := r.vad.lookup(cfg.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}

// CreateAudio builds the platform named by cfg.Audio.Platform.
func (r *Registry) CreateAudio(cfg *Config) (audio.Platform, error) {
	r.mu.RLock()
	factory, err := r.audio.lookup(cfg.Audio.Platform)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return factory(cfg)
}
