// Package mailbox provides a single-slot, overwrite-on-put handoff between a
// producer and consumers that only care about the latest value.
package mailbox

import "sync"

// Mailbox holds at most one value. Put replaces any value not yet read; a
// consumer that falls behind simply sees a gap in sequence numbers.
type Mailbox[T any] struct {
	mu      sync.Mutex
	val     T
	seq     uint64
	has     bool
	release func(T)
}

// New creates an empty mailbox. release, if non-nil, is called on values that
// are overwritten or cleared without being handed out.
func New[T any](release func(T)) *Mailbox[T] {
	return &Mailbox[T]{release: release}
}

// Put stores v and returns its sequence number.
func (m *Mailbox[T]) Put(v T) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.has && m.release != nil {
		m.release(m.val)
	}
	m.val = v
	m.has = true
	m.seq++
	return m.seq
}

// Peek returns a copy of the current value made by clone, with its sequence
// number. The stored value is left in place. ok is false when empty.
func (m *Mailbox[T]) Peek(clone func(T) T) (v T, seq uint64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return v, m.seq, false
	}
	if clone != nil {
		return clone(m.val), m.seq, true
	}
	return m.val, m.seq, true
}

// Seq returns the sequence number of the last Put.
func (m *Mailbox[T]) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

// Clear empties the mailbox, keeping the sequence counter.
func (m *Mailbox[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.has && m.release != nil {
		m.release(m.val)
	}
	var zero T
	m.val = zero
	m.has = false
}
