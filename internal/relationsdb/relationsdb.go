// Package relationsdb implements the handle-based alternative to the
// Collector (spec.md §4.4): a single-pass-friendly store of relations
// keyed by opaque stash handles, meant to be paired with membersdb.Database
// for callers that want to drive matching themselves instead of letting a
// Collector own the whole two-pass loop. Grounded on
// original_source/test/t/relations/test_members_database.cpp's use of
// osmium::relations::RelationsDatabase.
package relationsdb

import (
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmrelate/internal/stash"
)

// Handle identifies one relation stored in a Database. It is opaque and
// stays valid across Remove calls for other relations, exactly like
// stash.Handle.
type Handle = stash.Handle

// Meta is the per-relation bookkeeping a Database keeps alongside the
// relation itself: how many of its members are still outstanding.
type Meta struct {
	Relation    osm.Relation
	NeedMembers int
}

// HasAllMembers reports whether every member this relation is waiting on
// has already been supplied.
func (m *Meta) HasAllMembers() bool { return m.NeedMembers == 0 }

// Database stores relations by handle, the way osmium's RelationsDatabase
// pairs with a stash-backed ItemStash to let members be tracked
// independently (see membersdb.Database).
type Database struct {
	items *stash.Stash[Meta]
}

// New creates an empty Database.
func New() *Database {
	return &Database{items: stash.New[Meta]()}
}

// Add stores r with no outstanding members yet and returns its handle.
// Call TrackMember once per member a membersdb.Database tracks against this
// relation to raise NeedMembers, matching osmium's add()/track() split: add
// only registers the relation, track_member is what makes it wait on
// anything.
func (d *Database) Add(r *osm.Relation) Handle {
	rc := *r
	rc.Members = append([]osm.Member(nil), r.Members...)
	return d.items.Add(Meta{Relation: rc})
}

// TrackMember records that one more member is being tracked against the
// relation at h, incrementing its NeedMembers. Called by
// membersdb.Database.Track so the two databases never disagree about how
// many members a relation is waiting on.
func (d *Database) TrackMember(h Handle) {
	d.items.Get(h).NeedMembers++
}

// Get returns the Meta stored for h. It panics if h is stale or was
// removed, matching stash.Stash's handle-safety contract.
func (d *Database) Get(h Handle) *Meta {
	return d.items.Get(h)
}

// GetIncomplete returns every stored relation still missing at least one
// tracked member, e.g. to report at end of stream.
func (d *Database) GetIncomplete() []*osm.Relation {
	var out []*osm.Relation
	d.items.Each(func(_ Handle, m *Meta) {
		if !m.HasAllMembers() {
			out = append(out, &m.Relation)
		}
	})
	return out
}

// Remove releases the relation stored at h.
func (d *Database) Remove(h Handle) {
	d.items.Remove(h)
}

// Size returns the number of relations currently stored.
func (d *Database) Size() int {
	return d.items.Len()
}

// Each visits every relation currently stored, in unspecified order.
func (d *Database) Each(fn func(h Handle, m *Meta)) {
	d.items.Each(fn)
}

// UsedMemory approximates the bytes held by the database, for metrics.
func (d *Database) UsedMemory() uint64 {
	return d.items.UsedMemory()
}
