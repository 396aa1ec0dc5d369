package devices

import (
	"slices"
	"sync"
)

// Registry is the ordered, address-unique list of devices shown to the user.
//
// Exactly one goroutine (the event router) mutates a Registry; any number of
// readers may call Snapshot, Get and Len concurrently.
type Registry struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Reset drops every record. Used when a new discovery scan starts.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
	r.index = make(map[string]int)
}

// UpsertIfNamed appends rec unless its address is already present or it has no name.
// An existing entry is never overwritten. It reports whether the registry changed.
func (r *Registry) UpsertIfNamed(rec Record) bool {
	if !rec.Named() {
		return false
	}

	key := NormalizeAddress(rec.Address)
	if key == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[key]; exists {
		return false
	}

	rec.Address = key
	r.index[key] = len(r.records)
	r.records = append(r.records, rec)

	return true
}

// MergeBonded upserts every bonded record in the given order and returns how many were added.
func (r *Registry) MergeBonded(bonded []Record) int {
	added := 0

	for _, rec := range bonded {
		if r.UpsertIfNamed(rec) {
			added++
		}
	}

	return added
}

// RemoveByAddress removes the matching record. Absent addresses are a no-op.
func (r *Registry) RemoveByAddress(address string) bool {
	key := NormalizeAddress(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	i, exists := r.index[key]
	if !exists {
		return false
	}

	r.records = slices.Delete(r.records, i, i+1)

	delete(r.index, key)

	for j := i; j < len(r.records); j++ {
		r.index[r.records[j].Address] = j
	}

	return true
}

// Snapshot returns a copy of the current ordered records.
func (r *Registry) Snapshot() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)

	return out
}

// Get returns the record stored for address.
func (r *Registry) Get(address string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[NormalizeAddress(address)]
	if !ok {
		return Record{}, false
	}

	return r.records[i], true
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.records)
}
