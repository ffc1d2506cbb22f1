// Package blob keeps transient byte buffers behind revocable "blob:" URLs.
//
// A Registry is owned by one editor session. Buffers registered in it are
// reference counted: the registering owner holds the first reference, readers
// take extra references with Retain, and the buffer is revoked (URL removed,
// bytes dropped) when the last reference is released or when the registry
// is torn down with RevokeAll.
package blob

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/AnyUserName/imgedit/internal/hasher"
	"github.com/AnyUserName/imgedit/internal/logging"
)

// Scheme is the URL prefix of every handle.
const Scheme = "blob:"

// ErrRevoked is returned when reading a handle that has been revoked.
var ErrRevoked = errors.New("blob: handle revoked")

// Handle is a reference-counted buffer with a revocable URL.
type Handle struct {
	reg  *Registry
	url  string
	mime string

	mu      sync.RWMutex
	data    []byte
	refs    int32
	revoked atomic.Bool
}

// URL returns the handle's blob: URL. It stays stable after revocation but
// no longer resolves.
func (h *Handle) URL() string { return h.url }

// MIME returns the content type the buffer was registered with.
func (h *Handle) MIME() string { return h.mime }

// Revoked reports whether the buffer has been released.
func (h *Handle) Revoked() bool { return h.revoked.Load() }

// Bytes returns the buffer. The slice must not be modified.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.revoked.Load() {
		return nil, ErrRevoked
	}
	return h.data, nil
}

// Len returns the buffer size, or 0 once revoked.
func (h *Handle) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.data)
}

// DataURL encodes the buffer as a data: URL for immediate display.
func (h *Handle) DataURL() (string, error) {
	data, err := h.Bytes()
	if err != nil {
		return "", err
	}
	return DataURL(h.mime, data), nil
}

// Retain adds a reference. It fails if the handle is already revoked, so a
// caller that obtains a handle through Retain never observes released bytes.
func (h *Handle) Retain() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked.Load() {
		return ErrRevoked
	}
	h.refs++
	return nil
}

// Release drops a reference and revokes the handle when none remain.
// Releasing a revoked handle is a no-op.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.revoked.Load() {
		h.mu.Unlock()
		return
	}
	h.refs--
	last := h.refs <= 0
	h.mu.Unlock()
	if last {
		h.reg.revoke(h)
	}
}

func (h *Handle) drop() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.revoked.Swap(true) {
		return false
	}
	h.data = nil
	h.refs = 0
	return true
}

// Registry maps blob: URLs to live handles.
type Registry struct {
	name string
	log  *slog.Logger

	mu      sync.Mutex
	seq     uint64
	handles map[string]*Handle
}

// NewRegistry creates an empty registry. name becomes the URL authority,
// e.g. "blob:imgedit/3f2a...".
func NewRegistry(name string, log *slog.Logger) *Registry {
	return &Registry{
		name:    name,
		log:     logging.Or(log),
		handles: make(map[string]*Handle),
	}
}

// Create registers data (not copied) and returns its handle holding one
// reference owned by the caller.
func (r *Registry) Create(data []byte, mime string) *Handle {
	r.mu.Lock()
	r.seq++
	id := hasher.HandleID(data, r.seq)
	h := &Handle{
		reg:  r,
		url:  fmt.Sprintf("%s%s/%s", Scheme, r.name, id),
		mime: mime,
		data: data,
		refs: 1,
	}
	r.handles[h.url] = h
	n := len(r.handles)
	r.mu.Unlock()

	r.log.Debug("blob created", "url", h.url, "bytes", len(data), "live", n)
	return h
}

// Lookup resolves a blob: URL to a retained handle. The caller must
// Release it.
func (r *Registry) Lookup(url string) (*Handle, error) {
	r.mu.Lock()
	h, ok := r.handles[url]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("blob: unknown or revoked url %q", url)
	}
	if err := h.Retain(); err != nil {
		return nil, err
	}
	return h, nil
}

// Revoke forces a handle's URL out of the registry regardless of its
// reference count.
func (r *Registry) Revoke(url string) {
	r.mu.Lock()
	h, ok := r.handles[url]
	r.mu.Unlock()
	if ok {
		r.revoke(h)
	}
}

// RevokeAll revokes every live handle and returns how many were revoked.
func (r *Registry) RevokeAll() int {
	r.mu.Lock()
	live := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		live = append(live, h)
	}
	r.mu.Unlock()

	n := 0
	for _, h := range live {
		if r.revoke(h) {
			n++
		}
	}
	if n > 0 {
		r.log.Debug("blob registry cleared", "revoked", n)
	}
	return n
}

// Live returns the number of handles not yet revoked.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) revoke(h *Handle) bool {
	if !h.drop() {
		return false
	}
	r.mu.Lock()
	delete(r.handles, h.url)
	r.mu.Unlock()
	r.log.Debug("blob revoked", "url", h.url)
	return true
}

// IsURL reports whether ref uses the blob: scheme.
func IsURL(ref string) bool { return strings.HasPrefix(ref, Scheme) }

// DataURL builds a base64 data: URL.
func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
