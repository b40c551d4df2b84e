package sealstore

import (
	"sync"
	"sync/atomic"
)

// profile is one logical keyspace: an independent encryption domain within
// the physical store.
type profile struct {
	id     string
	name   string
	cipher *profileCipher
	// master is the unwrapped profile key, kept so the store can re-wrap
	// it during store-key rotation without a decrypt round trip.
	master []byte
}

// profileMap is an immutable snapshot of the registry contents.
type profileMap map[string]*profile

// profileRegistry caches unwrapped profile key material, exposed to
// concurrent readers through an atomically swapped snapshot. Readers in
// flight keep the snapshot they loaded, so a concurrent rekey or removal
// never exposes a torn or partial key. Writers serialize on mu and install
// a fresh copy.
type profileRegistry struct {
	mu   sync.Mutex
	snap atomic.Pointer[profileMap]
}

func newProfileRegistry() *profileRegistry {
	r := &profileRegistry{}
	empty := make(profileMap)
	r.snap.Store(&empty)
	return r
}

// get returns the named profile, or nil.
func (r *profileRegistry) get(name string) *profile {
	return (*r.snap.Load())[name]
}

// put installs or replaces a profile.
func (r *profileRegistry) put(p *profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.copyLocked()
	next[p.name] = p
	r.snap.Store(&next)
}

// remove drops a profile from the cache. The removed cipher is not zeroed
// here: readers holding an older snapshot may still be decrypting with it.
func (r *profileRegistry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.copyLocked()
	delete(next, name)
	r.snap.Store(&next)
}

// replaceAll atomically installs a whole new set of profiles, used when the
// store key is rotated.
func (r *profileRegistry) replaceAll(profiles []*profile) {
	next := make(profileMap, len(profiles))
	for _, p := range profiles {
		next[p.name] = p
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snap.Store(&next)
}

// all returns the current snapshot's profiles.
func (r *profileRegistry) all() []*profile {
	snap := *r.snap.Load()
	out := make([]*profile, 0, len(snap))
	for _, p := range snap {
		out = append(out, p)
	}
	return out
}

func (r *profileRegistry) copyLocked() profileMap {
	cur := *r.snap.Load()
	next := make(profileMap, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	return next
}
