// Package exclusivity implements the process-wide guarantee that, for any
// single username, at most one read-write session may be active at a time
// while any number of read-only sessions may coexist.
package exclusivity

import "sync"

// entry is one registered session.
type entry struct {
	connectionID uint64
	username     string
	readOnly     bool
}

// Registry is a process-wide set of authenticated sessions keyed by
// connection id. It is safe for concurrent use. A zero Registry is not
// usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	entries []entry
}

// New returns an empty Registry. One instance should be shared by every
// listener and worker in the process; tests construct their own.
func New() *Registry {
	return &Registry{}
}

// TryInsert atomically registers connectionID as holding username with the
// given read-only flag. It returns false, inserting nothing, if the
// insertion would leave more than one read-write entry for username, or a
// read-write entry alongside an existing entry (read-only or not) for the
// same username.
//
// Put differently: for any username, the registry holds either zero
// entries, any number of read-only entries, or exactly one read-write
// entry - never a mix of read-write with anything else.
func (r *Registry) TryInsert(connectionID uint64, username string, readOnly bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.username != username {
			continue
		}
		if !(readOnly && e.readOnly) {
			return false
		}
	}

	r.entries = append(r.entries, entry{connectionID: connectionID, username: username, readOnly: readOnly})
	return true
}

// Remove deregisters connectionID, if present. Idempotent: removing an
// unregistered or already-removed connection id is a no-op.
func (r *Registry) Remove(connectionID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.connectionID != connectionID {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}
