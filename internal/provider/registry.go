package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrDuplicateProvider is returned when an ID is registered twice
	ErrDuplicateProvider = errors.New("provider already registered")

	// ErrInvalidDescriptor is returned for descriptors without an ID or provider
	ErrInvalidDescriptor = errors.New("invalid provider descriptor")
)

// Registry holds the providers the fallback chain may use.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor // Registration order
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a provider. IDs are case-insensitive and must be unique.
func (r *Registry) Register(d Descriptor) error {
	d.ID = strings.ToLower(strings.TrimSpace(d.ID))
	if d.ID == "" || d.Provider == nil {
		return fmt.Errorf("%w: id and provider are required", ErrInvalidDescriptor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.descriptors {
		if existing.ID == d.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, d.ID)
		}
	}
	r.descriptors = append(r.descriptors, d.clone())
	return nil
}

// Ordered returns the providers by ascending priority. Equal priorities keep
// registration order.
func (r *Registry) Ordered() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d.clone())
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// ByID looks up a provider by ID.
func (r *Registry) ByID(id string) (Descriptor, bool) {
	id = strings.ToLower(strings.TrimSpace(id))

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, d := range r.descriptors {
		if d.ID == id {
			return d.clone(), true
		}
	}
	return Descriptor{}, false
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}
