package command

import (
	"encoding/json"
	"fmt"
	"sync"
)

// SystemConfig describes one automation system in the controller
// configuration document.
type SystemConfig struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Devices lists the resources the system exposes.
	Devices []DeviceConfig `json:"devices"`

	// Settings is the system-type-specific configuration blob, decoded by
	// the constructor.
	Settings json.RawMessage `json:"settings,omitempty"`
}

// DeviceConfig describes one resource under a configured system.
type DeviceConfig struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

// Constructor builds a System from its configuration.
type Constructor func(cfg SystemConfig) (System, error)

// Registry maps system type tags to constructors.
//
// It is populated statically at startup; looking up an unregistered tag is
// a configuration error, not a trigger for any dynamic loading.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty system registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register binds a type tag to a constructor. A repeated tag overwrites the
// previous binding.
func (r *Registry) Register(typeTag string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typeTag] = ctor
}

// Build constructs a System from its configuration.
//
// Returns a ControllerError when the type tag is not registered.
func (r *Registry) Build(cfg SystemConfig) (System, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, &ControllerError{
			Reason: fmt.Sprintf("unrecognised system type %q for system %q", cfg.Type, cfg.ID),
		}
	}
	return ctor(cfg)
}
