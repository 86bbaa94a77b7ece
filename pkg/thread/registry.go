package thread

// Registry is the set of thread ids already materialized during one run.
// It is touched only from the scheduler's handling step and needs no lock.
type Registry struct {
	ids map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]struct{})}
}

// Has reports whether id was registered
func (r *Registry) Has(id string) bool {
	_, ok := r.ids[id]
	return ok
}

// Add registers id and reports whether it was new
func (r *Registry) Add(id string) bool {
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func (r *Registry) Len() int {
	return len(r.ids)
}
