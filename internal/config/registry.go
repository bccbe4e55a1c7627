package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/eikq/arcanum/pkg/speech"
)

// ErrRecognizerNotRegistered is returned by [Registry.Create] when no factory
// has been registered under the requested backend name.
var ErrRecognizerNotRegistered = errors.New("config: recognizer not registered")

// Registry maps recognizer backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]func(SpeechConfig) (speech.Recognizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]func(SpeechConfig) (speech.Recognizer, error)),
	}
}

// Register registers a recognizer factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) Register(name string, factory func(SpeechConfig) (speech.Recognizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create instantiates a recognizer using the factory registered under
// entry.Name. Returns [ErrRecognizerNotRegistered] if no factory has been
// registered for that name.
func (r *Registry) Create(entry SpeechConfig) (speech.Recognizer, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRecognizerNotRegistered, entry.Name)
	}
	return factory(entry)
}
