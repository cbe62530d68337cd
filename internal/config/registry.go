package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/sonichess/internal/output"
	"github.com/MrWong99/sonichess/internal/sonify"
	"github.com/MrWong99/sonichess/pkg/audio/envelope"
	"github.com/MrWong99/sonichess/pkg/audio/voice"
)

// ErrNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrNotRegistered = errors.New("config: component not registered")

// SonifierFactory builds a sonifier scheduling voices on m.
type SonifierFactory func(m sonify.Mixer, p sonify.Params, opts ...sonify.Option) (sonify.Sonifier, error)

// BackendFactory builds an output backend playing src.
type BackendFactory func(src output.Source, f output.Format) (output.Backend, error)

// Registry maps component names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	sonifiers map[string]SonifierFactory
	backends  map[string]BackendFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sonifiers: make(map[string]SonifierFactory),
		backends:  make(map[string]BackendFactory),
	}
}

// RegisterSonifier registers a sonifier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSonifier(name string, factory SonifierFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sonifiers[name] = factory
}

// RegisterBackend registers an output backend factory under name.
func (r *Registry) RegisterBackend(name string, factory BackendFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = factory
}

// CreateSonifier instantiates the sonifier registered under name.
// Returns [ErrNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSonifier(name string, m sonify.Mixer, p sonify.Params, opts ...sonify.Option) (sonify.Sonifier, error) {
	r.mu.RLock()
	factory, ok := r.sonifiers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: sonifier/%q", ErrNotRegistered, name)
	}
	return factory(m, p, opts...)
}

// CreateBackend instantiates the output backend registered under name.
func (r *Registry) CreateBackend(name string, src output.Source, f output.Format) (output.Backend, error) {
	r.mu.RLock()
	factory, ok := r.backends[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: backend/%q", ErrNotRegistered, name)
	}
	return factory(src, f)
}

// SonifierNames returns the registered sonifier names, sorted.
func (r *Registry) SonifierNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sonifiers))
	for n := range r.sonifiers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// SonifierParams converts s into sonifier parameters for a stream at
// sampleRate.
func SonifierParams(s SonifierConfig, sampleRate float64) (sonify.Params, error) {
	wf, err := voice.ParseWaveform(s.Waveform)
	if err != nil {
		return sonify.Params{}, fmt.Errorf("config: sonifier.waveform: %w", err)
	}
	return sonify.Params{
		SampleRate: sampleRate,
		Waveform:   wf,
		Envelope: envelope.Params{
			Attack:  s.Envelope.Attack,
			Decay:   s.Envelope.Decay,
			Sustain: s.Envelope.Sustain,
			Release: s.Envelope.Release,
		},
		NoteLength: s.NoteLength,
		Gain:       s.Gain,
	}, nil
}

// OutputFormat returns the stream format described by a.
func OutputFormat(a AudioConfig) output.Format {
	return output.Format{
		SampleRate: float64(a.SampleRate),
		BlockSize:  a.BlockSize,
		Channels:   a.Channels,
	}
}
