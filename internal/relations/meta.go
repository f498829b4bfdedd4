// Package relations implements the two-pass relation collector: pass one
// selects relations of interest and records what they need, pass two
// matches incoming nodes/ways/relations against that index and fires a
// completion callback once every wanted member of a relation has arrived.
// Grounded on original_source/include/osmium/relations/collector.hpp.
package relations

import (
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmrelate/internal/arena"
)

// RelationMeta tracks one relation of interest: where its (frozen) copy
// lives in the relations arena, and how many of its wanted members are
// still outstanding. Once needMembers reaches zero the relation is
// complete; the collector then clears it in place (see Collector.complete).
type RelationMeta struct {
	offset      arena.Offset
	needMembers int
}

// HasAllMembers reports whether every wanted member of the relation has
// already arrived.
func (m *RelationMeta) HasAllMembers() bool {
	return m.needMembers == 0
}

// NeedMembers returns the number of wanted members still outstanding.
func (m *RelationMeta) NeedMembers() int {
	return m.needMembers
}

// memberMeta is one entry in a per-kind sorted index: "member with this id
// belongs to the relation at relationPos, in member slot memberPos". Once
// the owning relation completes it is marked removed; the stored member
// object it points at becomes a PurgeRemoved candidate once no other live
// entry refers to it.
type memberMeta struct {
	memberID     int64
	relationPos  int
	memberPos    int
	bufferOffset arena.Offset
	removed      bool
}

// kindIndex maps an osm.Type to the [0,3) slot used to pick a per-kind
// slice: node, way, relation, matching spec.md's three TNodes/TWays/
// TRelations parameters.
func kindIndex(t osm.Type) int {
	switch t {
	case osm.TypeNode:
		return 0
	case osm.TypeWay:
		return 1
	case osm.TypeRelation:
		return 2
	default:
		panic("relations: unknown member type " + string(t))
	}
}

func objectKindAndID(o osm.Object) (int, int64) {
	switch v := o.(type) {
	case *osm.Node:
		return 0, int64(v.ID)
	case *osm.Way:
		return 1, int64(v.ID)
	case *osm.Relation:
		return 2, int64(v.ID)
	default:
		panic("relations: unsupported object type in members arena")
	}
}

func countNotRemoved(mm []memberMeta) int {
	n := 0
	for i := range mm {
		if !mm[i].removed {
			n++
		}
	}
	return n
}

// Hooks is how a caller customizes the collector, replacing the CRTP
// (TCollector template parameter) dispatch osmium::relations::Collector
// uses: inject an interface value instead of subclassing. Embed BaseHooks
// to pick up no-op defaults for everything except CompleteRelation, which
// every real use case must supply.
type Hooks interface {
	// KeepRelation decides, during pass one, whether a relation is of
	// interest at all. Returning false drops it silently.
	KeepRelation(r *osm.Relation) bool

	// KeepMember decides whether a specific member of a kept relation
	// should be tracked. Returning false excludes just that member; the
	// relation may still complete once its remaining members arrive.
	KeepMember(rm *RelationMeta, m *osm.Member) bool

	// CompleteRelation is called exactly once per kept relation, as soon
	// as its last wanted member has arrived. Use Collector.GetRelation and
	// Collector.GetMember to inspect the assembled relation.
	CompleteRelation(rm *RelationMeta)

	// NodeNotInAnyRelation, WayNotInAnyRelation and RelationNotInAnyRelation
	// fire for every object passed to AddNode/AddWay/AddRelation that did
	// not match any outstanding member slot. Objects of a kind the
	// Collector was not told to want are ignored and fire nothing.
	NodeNotInAnyRelation(n *osm.Node)
	WayNotInAnyRelation(w *osm.Way)
	RelationNotInAnyRelation(r *osm.Relation)

	// Flush is called when the caller is done feeding pass two.
	Flush()
}

// BaseHooks supplies no-op defaults for every Hooks method except
// CompleteRelation. Embed it and override what you need.
type BaseHooks struct{}

func (BaseHooks) KeepRelation(*osm.Relation) bool            { return true }
func (BaseHooks) KeepMember(*RelationMeta, *osm.Member) bool { return true }
func (BaseHooks) NodeNotInAnyRelation(*osm.Node)             {}
func (BaseHooks) WayNotInAnyRelation(*osm.Way)               {}
func (BaseHooks) RelationNotInAnyRelation(*osm.Relation)     {}
func (BaseHooks) Flush()                                     {}

// ObjectSource is the pass-one input: anything shaped like
// github.com/paulmach/osm/osmpbf.Scanner. ReadRelations scans the whole
// source once, looking only at the *osm.Relation objects it yields.
type ObjectSource interface {
	Scan() bool
	Object() osm.Object
	Err() error
}
