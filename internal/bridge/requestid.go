package bridge

import "sync/atomic"

// RequestIDs issues request identifiers shared by every session that uses the
// same instance. The counter starts at 1 and is incremented before use, so the
// first id issued is 2. The zero value is ready to use.
type RequestIDs struct {
	n atomic.Int64
}

// NewRequestIDs returns a fresh counter.
func NewRequestIDs() *RequestIDs {
	return &RequestIDs{}
}

// Next returns the next id. Safe for concurrent use.
func (r *RequestIDs) Next() int {
	return int(r.n.Add(1) + 1)
}

// Last returns the most recently issued id, or 1 if none was issued.
func (r *RequestIDs) Last() int {
	return int(r.n.Load() + 1)
}
