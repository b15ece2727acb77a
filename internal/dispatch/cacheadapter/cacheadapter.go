// Package cacheadapter is the default stand-in for the content-addressed
// compile cache's storage backend, which spec.md §1 places out of scope
// ("the content-addressed compile cache's key derivation and storage
// backend"). It wraps internal/cache's generalized LRU
// (lib/cache/cache.go in the teacher) keyed by the caller-supplied
// content hash, bounded to a configurable byte budget, so
// internal/dispatch has something real to commit to and retrieve from
// without owning cache policy itself.
package cacheadapter

import (
	"github.com/InSimo/fastbuild/internal/cache"
)

// Adapter satisfies dispatch.CompileCache over an in-memory size-bounded
// store. A production deployment would replace this with a networked or
// disk-backed cache sharing the same key space.
type Adapter struct {
	store *cache.LRUSizeCache[string, []byte]
}

// New builds an Adapter bounded to sizeBoundBytes of cached output.
func New(sizeBoundBytes uint64) *Adapter {
	return &Adapter{
		store: cache.New[string, []byte](sizeBoundBytes, missErr, nil),
	}
}

func missErr(key string) (*[]byte, error, uint64) {
	return nil, errMiss{key}, 0
}

type errMiss struct{ key string }

func (e errMiss) Error() string { return "cacheadapter: no entry for key " + e.key }

// Get returns the cached bytes for key, if present.
func (a *Adapter) Get(key string) ([]byte, bool) {
	val, err := a.store.Get(key)
	if err != nil {
		return nil, false
	}
	return *val, true
}

// Put commits data under key, replacing any prior entry — including a
// cached miss left behind by an earlier Get, since Get's underlying
// loader always remembers its result, whether a hit or a miss.
func (a *Adapter) Put(key string, data []byte) {
	_ = a.store.Remove(key)
	_ = a.store.Put(key, &data, uint64(len(data)))
}
