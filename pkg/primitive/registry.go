package primitive

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Decoder rebuilds a typed primitive from its wire record.
type Decoder func(Message) (Primitive, error)

// Registry maps primitive names to their decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register adds a decoder under name. A name can be registered once; later
// attempts fail and leave the first decoder in place.
func (r *Registry) Register(name string, dec Decoder) error {
	if name == "" {
		return fmt.Errorf("register primitive: empty name")
	}
	if dec == nil {
		return fmt.Errorf("register primitive %q: nil decoder", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[name]; ok {
		return fmt.Errorf("register primitive %q: %w", name, ErrDuplicateRegistration)
	}
	r.decoders[name] = dec
	return nil
}

// MustRegister is Register for package init. It panics on error.
func (r *Registry) MustRegister(name string, dec Decoder) {
	if err := r.Register(name, dec); err != nil {
		panic(err)
	}
}

// Decode dispatches msg to the decoder registered under msg.Name.
func (r *Registry) Decode(msg Message) (Primitive, error) {
	r.mu.RLock()
	dec, ok := r.decoders[msg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownPrimitiveError{Name: msg.Name}
	}
	return dec(msg)
}

// Unmarshal decodes a JSON wire record and dispatches it.
func (r *Registry) Unmarshal(data []byte) (Primitive, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal primitive message: %w", err)
	}
	return r.Decode(msg)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[name]
	return ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.decoders))
	for name := range r.decoders {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that built-in variants register
// with from init.
func Default() *Registry { return defaultRegistry }

// Register adds a decoder to the default registry.
func Register(name string, dec Decoder) error { return defaultRegistry.Register(name, dec) }

// Decode decodes msg with the default registry.
func Decode(msg Message) (Primitive, error) { return defaultRegistry.Decode(msg) }

// Unmarshal decodes a JSON wire record with the default registry.
func Unmarshal(data []byte) (Primitive, error) { return defaultRegistry.Unmarshal(data) }

// Names lists the default registry's primitive names.
func Names() []string { return defaultRegistry.Names() }

// Marshal encodes p and renders the wire record as JSON.
func Marshal(p Primitive) ([]byte, error) {
	return json.Marshal(Encode(p))
}
