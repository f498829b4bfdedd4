// Package arena implements the append-only, offset-addressed object store
// that backs the relation collector. It realizes the contract sketched in
// spec.md §6: append, commit/rollback the last append, iterate, and
// compact (purge_removed) while notifying a listener of any survivor that
// moved, before the move is finalized.
package arena

import "unsafe"

// Offset addresses a single stored value. Offsets are stable until the
// buffer is compacted with PurgeRemoved, at which point surviving values may
// move and the Listener is notified.
type Offset uint64

// NoOffset is the sentinel meaning "nothing stored here yet".
const NoOffset Offset = ^Offset(0)

// Listener is notified when PurgeRemoved relocates a surviving entry.
type Listener interface {
	MovingInBuffer(oldOffset, newOffset Offset)
}

type entry[T any] struct {
	value   T
	removed bool
}

// Buffer is a generic append-only store of T values. It does not serialize
// to bytes the way the C++ original does (osmium::memory::Buffer packs
// heterogeneous OSM objects into a byte-addressed arena); Go generics let us
// keep the values typed, which is simpler and exactly as fast, while keeping
// the same append/commit/rollback/purge contract.
type Buffer[T any] struct {
	entries []entry[T]
	pending bool // true if the last append has not been committed or rolled back
}

// NewBuffer creates an empty buffer. initialCapacity is a hint only.
func NewBuffer[T any](initialCapacity int) *Buffer[T] {
	return &Buffer[T]{entries: make([]entry[T], 0, initialCapacity)}
}

// Add appends v and returns the offset it was stored at. The append is
// provisional until Commit or Rollback is called; only one append may be
// outstanding at a time.
func (b *Buffer[T]) Add(v T) Offset {
	if b.pending {
		panic("arena: Add called with a previous append not yet committed or rolled back")
	}
	b.entries = append(b.entries, entry[T]{value: v})
	b.pending = true
	return Offset(len(b.entries) - 1)
}

// Commit finalizes the most recent append.
func (b *Buffer[T]) Commit() Offset {
	if !b.pending {
		panic("arena: Commit called with no pending append")
	}
	b.pending = false
	return Offset(len(b.entries))
}

// Rollback discards the most recent append.
func (b *Buffer[T]) Rollback() {
	if !b.pending {
		panic("arena: Rollback called with no pending append")
	}
	b.entries = b.entries[:len(b.entries)-1]
	b.pending = false
}

// Committed returns the number of committed entries (matches
// osmium::memory::Buffer::committed(), used as a bounds assertion).
func (b *Buffer[T]) Committed() int {
	n := len(b.entries)
	if b.pending {
		n--
	}
	return n
}

// Get returns a pointer to the value at offset. The pointer is invalidated
// by the next PurgeRemoved.
func (b *Buffer[T]) Get(offset Offset) *T {
	return &b.entries[offset].value
}

// MarkRemoved flags the entry at offset for the next compaction.
func (b *Buffer[T]) MarkRemoved(offset Offset) {
	b.entries[offset].removed = true
}

// IsRemoved reports whether the entry at offset has been marked removed.
func (b *Buffer[T]) IsRemoved(offset Offset) bool {
	return b.entries[offset].removed
}

// PurgeRemoved compacts away every entry marked removed, preserving the
// relative order of survivors. For every survivor whose offset changes,
// listener.MovingInBuffer(old, new) is called while the value still sits at
// its old offset, before it is copied into its new slot.
func (b *Buffer[T]) PurgeRemoved(listener Listener) {
	write := 0
	for read := 0; read < len(b.entries); read++ {
		if b.entries[read].removed {
			continue
		}
		if read != write {
			listener.MovingInBuffer(Offset(read), Offset(write))
			b.entries[write] = b.entries[read]
		}
		write++
	}
	var zero entry[T]
	for i := write; i < len(b.entries); i++ {
		b.entries[i] = zero // release references held by purged tail entries
	}
	b.entries = b.entries[:write]
}

// Capacity returns the underlying slice capacity, for UsedMemory reporting.
func (b *Buffer[T]) Capacity() int {
	return cap(b.entries)
}

// ApproxBytes estimates the bytes backing the buffer's capacity, for
// UsedMemory reporting only.
func (b *Buffer[T]) ApproxBytes() uint64 {
	if cap(b.entries) == 0 {
		return 0
	}
	full := make([]entry[T], cap(b.entries))
	return uint64(len(full)) * uint64(unsafe.Sizeof(full[0]))
}

// Len returns the number of entries currently stored, removed or not.
func (b *Buffer[T]) Len() int {
	return len(b.entries)
}
