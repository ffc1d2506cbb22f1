package encoder

import (
	"fmt"
	"strings"
)

// Registry holds all available encoders keyed by format name.
type Registry struct {
	encoders map[string]Encoder
}

// NewRegistry creates a registry, probing all encoders for availability.
func NewRegistry() *Registry {
	return NewRegistryWith(&JPEGEncoder{}, &PNGEncoder{}, &WebPEncoder{})
}

// NewRegistryWith registers the given encoders. Unavailable ones are skipped.
func NewRegistryWith(all ...Encoder) *Registry {
	r := &Registry{encoders: make(map[string]Encoder)}
	for _, enc := range all {
		if enc.Available() {
			r.encoders[enc.Format()] = enc
		}
	}
	return r
}

// Get returns an encoder for the given format, or nil if unavailable.
// "jpg" is accepted as an alias for "jpeg".
func (r *Registry) Get(format string) Encoder {
	return r.encoders[Canonical(format)]
}

// Lookup is Get with an error for unknown or unavailable formats.
func (r *Registry) Lookup(format string) (Encoder, error) {
	enc := r.Get(format)
	if enc == nil {
		return nil, fmt.Errorf("no encoder for format %q (%s)", format, r)
	}
	return enc, nil
}

// Available returns all available format names in preference order.
func (r *Registry) Available() []string {
	var result []string
	for _, f := range []string{"jpeg", "webp", "png"} {
		if _, ok := r.encoders[f]; ok {
			result = append(result, f)
		}
	}
	return result
}

// String returns a summary of available encoders.
func (r *Registry) String() string {
	avail := r.Available()
	if len(avail) == 0 {
		return "no encoders available"
	}
	return fmt.Sprintf("encoders: %s", strings.Join(avail, ", "))
}

// Canonical lower-cases a format name and folds aliases.
func Canonical(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	switch f {
	case "jpg", "":
		return "jpeg"
	}
	return f
}
