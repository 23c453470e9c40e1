package schema

import "sort"

// Registry holds every configured source keyed by name. It is built once by
// Load and never mutated afterwards, so lookups need no locking.
type Registry struct {
	sources map[string]*Source
	enums   map[string][]string
}

// Lookup returns the named source. Unknown names are an error; callers are
// expected to fail fast rather than treat a typo as an empty source.
func (r *Registry) Lookup(name string) (*Source, error) {
	src, ok := r.sources[name]
	if !ok {
		return nil, NewSchemaError(name, "", ErrSourceNotFound)
	}
	return src, nil
}

// Has reports whether a source with the given name exists.
func (r *Registry) Has(name string) bool {
	_, ok := r.sources[name]
	return ok
}

// All returns every source sorted by name.
func (r *Registry) All() []*Source {
	out := make([]*Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Enum returns the declared values of an enum and whether it exists.
func (r *Registry) Enum(name string) ([]string, bool) {
	vals, ok := r.enums[name]
	return vals, ok
}

// Len returns the number of configured sources.
func (r *Registry) Len() int {
	return len(r.sources)
}
