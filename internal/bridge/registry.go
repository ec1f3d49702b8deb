// Package bridge owns vendor sessions behind opaque handles, relays outbound
// requests to the vendor API and relays vendor callbacks to Go sinks.
package bridge

import (
	"sort"
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Handle identifies one live session. The zero Handle means "no session".
type Handle int64

// Registry maps handles to session values. Handles come from a counter and are
// never reused within a Registry, so a stale handle can never address a newer
// session.
type Registry[T any] struct {
	entries cmap.ConcurrentMap[Handle, T]
	last    atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		entries: cmap.NewWithCustomShardingFunction[Handle, T](shardHandle),
	}
}

// shardHandle spreads sequential handles over shards (Fibonacci hashing).
func shardHandle(h Handle) uint32 {
	return uint32((uint64(h) * 0x9E3779B97F4A7C15) >> 32)
}

// Insert stores v under a fresh handle.
func (r *Registry[T]) Insert(v T) Handle {
	h := Handle(r.last.Add(1))
	r.entries.Set(h, v)
	return h
}

// Find returns the value stored under h.
func (r *Registry[T]) Find(h Handle) (T, bool) {
	if h == 0 {
		var zero T
		return zero, false
	}
	return r.entries.Get(h)
}

// Remove deletes h and returns its value. Only one of several concurrent
// callers removing the same handle gets ok == true.
func (r *Registry[T]) Remove(h Handle) (T, bool) {
	return r.entries.Pop(h)
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	return r.entries.Count()
}

// Handles returns the live handles in ascending order.
func (r *Registry[T]) Handles() []Handle {
	keys := r.entries.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
