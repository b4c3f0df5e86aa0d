// Package cache holds marshaled voice responses for parameterized
// requests the precomputer did not cover. Keys embed the window version,
// so a publish makes every stale entry unreachable; eviction is LRU.
package cache

import (
	"hash/fnv"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

const DefaultCapacity = 100

type Responses struct {
	lru *lru.Cache[uint64, []byte]
}

func NewResponses(capacity int) (*Responses, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := lru.New[uint64, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &Responses{lru: l}, nil
}

// Key hashes (handler, window version, params) with FNV-1a. Params are
// folded in sorted order so two equal maps always collide.
func Key(handler string, version uint64, params map[string]string) uint64 {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New64a()
	_, _ = h.Write([]byte(handler))
	_, _ = h.Write([]byte{0})
	var v [8]byte
	for i := 0; i < 8; i++ {
		v[i] = byte(version >> (8 * i))
	}
	_, _ = h.Write(v[:])
	for _, name := range names {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(params[name]))
	}
	return h.Sum64()
}

func (r *Responses) Get(key uint64) ([]byte, bool) {
	return r.lru.Get(key)
}

func (r *Responses) Put(key uint64, body []byte) {
	r.lru.Add(key, body)
}

// InvalidateAll empties the cache. Versioned keys already isolate
// publishes; this reclaims the memory too.
func (r *Responses) InvalidateAll() {
	r.lru.Purge()
}

func (r *Responses) Len() int { return r.lru.Len() }
