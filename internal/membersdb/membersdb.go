// Package membersdb implements the per-kind member index that pairs with
// relationsdb.Database to form spec.md §4.4's single-pass-friendly
// alternative to the Collector: the caller owns the loop, calling Track/
// Prepare once up front and Add for every object in the stream. Grounded
// on original_source/test/t/relations/test_members_database.cpp's
// MembersDatabase<T> usage, including its on_complete callback and its
// count()/size() tombstone accounting.
package membersdb

import (
	"sort"

	"github.com/wegman-software/osmrelate/internal/relationsdb"
)

// trackedMember is one MemberMeta-equivalent slot: "member with this id, at
// this position in this relation's member list, is being waited on". It
// moves tracked -> matched once its object has arrived, then -> removed
// once the caller is done with it (see Counts).
type trackedMember struct {
	id        int64
	relation  relationsdb.Handle
	memberPos int
	matched   bool
	removed   bool
}

// Counts is the aggregate status of every tracked-member slot in a
// Database, mirroring osmium::relations::MembersDatabase::count(): tracked
// slots are still waiting for their object, available slots have their
// object stored, and removed slots have been explicitly released by the
// caller after handling completion.
type Counts struct {
	Tracked   int
	Available int
	Removed   int
}

// Database indexes members of one OSM kind (nodes, ways or relations) by
// id. Each Database is paired with one relationsdb.Database, whose
// per-relation Meta.NeedMembers it raises via Track and lowers via Add.
type Database[T any] struct {
	rdb    *relationsdb.Database
	idFunc func(*T) int64

	tracked []trackedMember
	sorted  bool

	stored map[int64]T
}

// New creates a Database that tracks members of kind T against rdb.
// idFunc extracts a member's id from a *T: paulmach/osm's Node, Way and
// Relation have no shared id-accessor method, so the extractor is
// supplied explicitly rather than forcing a generic constraint on them.
func New[T any](rdb *relationsdb.Database, idFunc func(*T) int64) *Database[T] {
	return &Database[T]{
		rdb:    rdb,
		idFunc: idFunc,
		stored: make(map[int64]T),
	}
}

// Track registers that the relation at rh needs the member with the given
// id, at position memberPos in that relation's member list, and raises
// rh's NeedMembers by one in the paired relationsdb.Database (osmium's
// rdb.add() starts a relation at zero outstanding members; track() is what
// makes it wait on anything). Call it for every wanted member of every
// relation before calling Add.
func (d *Database[T]) Track(rh relationsdb.Handle, id int64, memberPos int) {
	d.tracked = append(d.tracked, trackedMember{id: id, relation: rh, memberPos: memberPos})
	d.sorted = false
	d.rdb.TrackMember(rh)
}

// Prepare sorts the tracked-member index by id so Add can binary-search
// it. Add calls it automatically if it hasn't run yet, but calling it
// once up front after all Track calls avoids resorting on first use.
func (d *Database[T]) Prepare() {
	sort.Slice(d.tracked, func(i, j int) bool { return d.tracked[i].id < d.tracked[j].id })
	d.sorted = true
}

func (d *Database[T]) findRange(id int64) (lo, hi int) {
	lo = sort.Search(len(d.tracked), func(i int) bool { return d.tracked[i].id >= id })
	hi = lo
	for hi < len(d.tracked) && d.tracked[hi].id == id {
		hi++
	}
	return lo, hi
}

// Add offers obj to the database. If its id is tracked by at least one
// relation, obj is stored — the first copy wins on a duplicate arrival of
// the same id, per spec.md §7 — and every not-yet-matched tracked slot for
// that id transitions to available, decrementing its relation's
// NeedMembers once per slot (so a relation listing the same id twice needs
// only one arrival to satisfy both slots). onComplete, if non-nil, is
// called exactly once for each relation whose NeedMembers reaches zero as
// a result of this call, mirroring test_members_database.cpp's
// on_complete_callback. Add reports whether obj matched anything at all.
func (d *Database[T]) Add(obj T, onComplete func(relationsdb.Handle)) bool {
	if !d.sorted {
		d.Prepare()
	}
	id := d.idFunc(&obj)
	lo, hi := d.findRange(id)
	if lo == hi {
		return false
	}
	if _, ok := d.stored[id]; !ok {
		d.stored[id] = obj
	}

	for i := lo; i < hi; i++ {
		e := &d.tracked[i]
		if e.removed || e.matched {
			continue
		}
		e.matched = true

		rel := d.rdb.Get(e.relation)
		rel.NeedMembers--
		if rel.HasAllMembers() && onComplete != nil {
			onComplete(e.relation)
		}
	}
	return true
}

// Get returns the stored member for id, if any has arrived.
func (d *Database[T]) Get(id int64) (T, bool) {
	v, ok := d.stored[id]
	return v, ok
}

// Remove releases the single tracked slot matching (id, relation) —
// typically called once per member of a relation's member list right
// after CompleteRelation-equivalent handling, the way
// test_members_database.cpp's duplicate-member case calls mdb.remove once
// per (possibly repeated) member entry. The stored copy of id is only
// deleted once no tracked slot for it remains un-removed, so a shared
// member another relation is still waiting on survives.
func (d *Database[T]) Remove(id int64, relation relationsdb.Handle) {
	if !d.sorted {
		d.Prepare()
	}
	lo, hi := d.findRange(id)
	for i := lo; i < hi; i++ {
		e := &d.tracked[i]
		if !e.removed && e.relation == relation {
			e.removed = true
			break
		}
	}

	live := false
	for i := lo; i < hi; i++ {
		if !d.tracked[i].removed {
			live = true
			break
		}
	}
	if !live {
		delete(d.stored, id)
	}
}

// Count returns the aggregate tracked/available/removed status across
// every slot in the database.
func (d *Database[T]) Count() Counts {
	var c Counts
	for i := range d.tracked {
		switch e := &d.tracked[i]; {
		case e.removed:
			c.Removed++
		case e.matched:
			c.Available++
		default:
			c.Tracked++
		}
	}
	return c
}

// Size returns the total number of tracked-member slots ever registered
// via Track — not the number of distinct ids stored, and not reduced by
// Remove (which only tombstones slots; see Count for live status).
func (d *Database[T]) Size() int {
	return len(d.tracked)
}
