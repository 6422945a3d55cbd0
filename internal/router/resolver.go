package router

import (
	"sync/atomic"
)

// Resolver publishes the current route table. Readers take a snapshot once
// per request and keep using it even if a reload swaps the table meanwhile.
type Resolver struct {
	table atomic.Pointer[Table]
}

func NewResolver(initial *Table) *Resolver {
	r := &Resolver{}
	if initial == nil {
		initial = &Table{byMethod: map[string][]*Route{}}
	}
	r.table.Store(initial)
	return r
}

// Snapshot returns the table in effect right now.
func (r *Resolver) Snapshot() *Table {
	return r.table.Load()
}

// Resolve looks up a route in the current snapshot.
func (r *Resolver) Resolve(method, path string) (*Route, error) {
	return r.Snapshot().Resolve(method, path)
}

// Swap installs next and returns the table it replaced.
func (r *Resolver) Swap(next *Table) *Table {
	return r.table.Swap(next)
}
