package procfile

import (
	"sort"
	"sync"
)

// Registry maps file names to providers. The whole set is swapped at once
// on config reload, so readers never see a half-updated table.
type Registry struct {
	mu    sync.RWMutex
	files map[string]File
}

// NewRegistry returns a registry holding files.
func NewRegistry(files ...File) *Registry {
	r := &Registry{}
	r.Replace(files...)
	return r
}

// Replace swaps in a new set of files. A later file with a duplicate name
// wins.
func (r *Registry) Replace(files ...File) {
	m := make(map[string]File, len(files))
	for _, f := range files {
		m[f.Name()] = f
	}
	r.mu.Lock()
	r.files = m
	r.mu.Unlock()
}

// Lookup returns the file registered under name.
func (r *Registry) Lookup(name string) (File, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.files[name]
	return f, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
