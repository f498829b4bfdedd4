package relations

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/paulmach/osm"

	"github.com/wegman-software/osmrelate/internal/arena"
)

// defaultPurgeThreshold mirrors osmium's compile-time default of 10000
// completed relations between compactions of the members arena; spec.md
// §9 leaves the exact number an open question and makes it a tunable
// instead of a constant.
const defaultPurgeThreshold = 10000

// Collector runs the two-pass relation assembly described in spec.md §4.
// Pass one (ReadRelations) decides which relations to keep and what they
// need; pass two (AddNode/AddWay/AddRelation) matches the stream against
// that index and fires Hooks.CompleteRelation as relations finish. A
// Collector is single-threaded and holds no internal locks (spec.md §5);
// shard across multiple Collectors if you need concurrency.
type Collector struct {
	hooks                              Hooks
	wantNodes, wantWays, wantRelations bool

	relationsArena *arena.Buffer[osm.Relation]
	membersArena   *arena.Buffer[osm.Object]

	relations  []RelationMeta
	memberMeta [3][]memberMeta
	sorted     bool

	// seen deduplicates arrivals by (kind, id): spec.md §7 resolves a
	// duplicate id in the input stream by keeping only the first copy
	// seen and matching every relation against it, rather than storing
	// and matching each copy independently.
	seen [3]*roaring64.Bitmap

	// PurgeThreshold is the number of completed relations allowed to
	// accumulate as removed-but-not-yet-purged entries in the members
	// arena before a compaction runs. Zero means defaultPurgeThreshold.
	PurgeThreshold int
	countComplete  int
}

// NewCollector creates a Collector. wantNodes/wantWays/wantRelations say
// which kinds of members this collector tracks at all (spec.md's
// TNodes/TWays/TRelations template booleans); a kind the caller never
// wants is never looked up, matching S6.
func NewCollector(hooks Hooks, wantNodes, wantWays, wantRelations bool) *Collector {
	c := &Collector{
		hooks:          hooks,
		wantNodes:      wantNodes,
		wantWays:       wantWays,
		wantRelations:  wantRelations,
		relationsArena: arena.NewBuffer[osm.Relation](64),
		membersArena:   arena.NewBuffer[osm.Object](1024),
	}
	for k := range c.seen {
		c.seen[k] = roaring64.New()
	}
	return c
}

func cloneRelation(r *osm.Relation) osm.Relation {
	rc := *r
	rc.Members = append([]osm.Member(nil), r.Members...)
	return rc
}

// ReadRelations is pass one: it scans src once end to end, asking
// Hooks.KeepRelation about every relation it sees, and recording the
// members of the ones it keeps. Call it once, before feeding pass two.
func (c *Collector) ReadRelations(src ObjectSource) error {
	for src.Scan() {
		r, ok := src.Object().(*osm.Relation)
		if !ok {
			continue
		}
		if c.hooks.KeepRelation(r) {
			c.addKeptRelation(r)
		}
	}
	if err := src.Err(); err != nil {
		return fmt.Errorf("relations: reading pass one: %w", err)
	}
	c.sortMemberMeta()
	return nil
}

// addKeptRelation stores a frozen copy of r in the relations arena and
// registers one memberMeta per wanted member, exactly as
// osmium::relations::Collector::add_relation does. A relation that ends
// up needing nothing (every member filtered out, or it has none) is
// rolled back rather than kept: it can never complete a second time, so
// there is nothing pass two needs to match against it.
func (c *Collector) addKeptRelation(r *osm.Relation) {
	relPos := len(c.relations)

	offset := c.relationsArena.Add(cloneRelation(r))
	stored := c.relationsArena.Get(offset)

	meta := RelationMeta{offset: offset}
	for i := range stored.Members {
		m := &stored.Members[i]
		if c.hooks.KeepMember(&meta, m) {
			kind := kindIndex(m.Type)
			c.memberMeta[kind] = append(c.memberMeta[kind], memberMeta{
				memberID:     m.Ref,
				relationPos:  relPos,
				memberPos:    i,
				bufferOffset: arena.NoOffset,
			})
			meta.needMembers++
		} else {
			m.Ref = 0
		}
	}

	if meta.HasAllMembers() {
		c.relationsArena.Rollback()
		return
	}
	c.relationsArena.Commit()
	c.relations = append(c.relations, meta)
}

func (c *Collector) sortMemberMeta() {
	for k := range c.memberMeta {
		mm := c.memberMeta[k]
		sort.Slice(mm, func(i, j int) bool { return mm[i].memberID < mm[j].memberID })
	}
	c.sorted = true
}

// findRange returns the [lo, hi) equal-range of memberMeta entries for id
// within kind, via binary search over the sorted slice (spec.md §4.2).
func (c *Collector) findRange(kind int, id int64) (lo, hi int) {
	mm := c.memberMeta[kind]
	lo = sort.Search(len(mm), func(i int) bool { return mm[i].memberID >= id })
	hi = lo
	for hi < len(mm) && mm[hi].memberID == id {
		hi++
	}
	return lo, hi
}

// AddNode feeds one node into pass two. It returns true if the node
// matched an outstanding relation member, false otherwise. When nodes are
// wanted and the node matched nothing, Hooks.NodeNotInAnyRelation fires;
// when nodes are not wanted it returns false without any lookup or hook.
func (c *Collector) AddNode(n *osm.Node) bool {
	if !c.wantNodes {
		return false
	}
	nc := *n
	if c.findAndAddObject(0, int64(n.ID), &nc) {
		return true
	}
	c.hooks.NodeNotInAnyRelation(n)
	return false
}

// AddWay feeds one way into pass two, the Way analogue of AddNode.
func (c *Collector) AddWay(w *osm.Way) bool {
	if !c.wantWays {
		return false
	}
	wc := *w
	wc.Nodes = append([]osm.WayNode(nil), w.Nodes...)
	if c.findAndAddObject(1, int64(w.ID), &wc) {
		return true
	}
	c.hooks.WayNotInAnyRelation(w)
	return false
}

// AddRelation feeds one relation into pass two: this is for relations
// that are themselves members of other relations (e.g. route relations
// containing sub-routes), distinct from ReadRelations' pass-one role.
func (c *Collector) AddRelation(r *osm.Relation) bool {
	if !c.wantRelations {
		return false
	}
	rc := cloneRelation(r)
	if c.findAndAddObject(2, int64(r.ID), &rc) {
		return true
	}
	c.hooks.RelationNotInAnyRelation(r)
	return false
}

// findAndAddObject is the shared pass-two matcher behind AddNode/AddWay/
// AddRelation: osmium's find_and_add_object. If id has no outstanding
// member slots at all, it returns false immediately without storing
// anything. Otherwise the object is stored once (deduplicated by id, see
// the seen bitmap), every matching memberMeta is pointed at it, and any
// relation that just became complete is finalized.
func (c *Collector) findAndAddObject(kind int, id int64, obj osm.Object) bool {
	lo, hi := c.findRange(kind, id)
	if countNotRemoved(c.memberMeta[kind][lo:hi]) == 0 {
		return false
	}

	if c.seen[kind].Contains(uint64(id)) {
		// Already matched once; the first copy wins and further copies of
		// the same id are not re-matched against relations they've
		// already satisfied (spec.md §7).
		return true
	}
	c.seen[kind].Add(uint64(id))

	offset := c.membersArena.Add(obj)
	c.membersArena.Commit()

	var completed []int
	for i := lo; i < hi; i++ {
		mm := &c.memberMeta[kind][i]
		if mm.removed {
			continue
		}
		mm.bufferOffset = offset

		rel := &c.relations[mm.relationPos]
		rel.needMembers--
		if rel.HasAllMembers() {
			completed = append(completed, mm.relationPos)
		}
	}

	for _, relPos := range completed {
		c.complete(relPos)
	}

	return true
}

// complete finalizes one relation: fires CompleteRelation, releases its
// memberMeta bookkeeping (and any members no longer referenced by
// anything else), then clears the slot so it can never fire twice.
func (c *Collector) complete(relPos int) {
	rel := &c.relations[relPos]
	c.hooks.CompleteRelation(rel)
	c.clearMemberMetas(relPos)
	c.relations[relPos] = RelationMeta{}
	c.possiblyPurgeRemovedMembers()
}

// clearMemberMetas releases the bookkeeping a just-completed relation
// held: every memberMeta entry it owns is marked removed, and any member
// object no longer referenced by any other live memberMeta is marked
// removed in the members arena too, making it eligible for the next
// PurgeRemoved. Mirrors clear_member_metas in collector.hpp.
func (c *Collector) clearMemberMetas(relPos int) {
	rel := &c.relations[relPos]
	relation := c.relationsArena.Get(rel.offset)

	for _, m := range relation.Members {
		if m.Ref == 0 {
			// filtered out by KeepMember during pass one; never tracked
			continue
		}
		kind := kindIndex(m.Type)
		lo, hi := c.findRange(kind, m.Ref)
		mm := c.memberMeta[kind][lo:hi]

		if countNotRemoved(mm) == 1 {
			for i := range mm {
				if !mm[i].removed && mm[i].bufferOffset != arena.NoOffset {
					c.membersArena.MarkRemoved(mm[i].bufferOffset)
					break
				}
			}
		}

		for i := range mm {
			if !mm[i].removed && mm[i].relationPos == relPos {
				mm[i].removed = true
				break
			}
		}
	}
}

func (c *Collector) possiblyPurgeRemovedMembers() {
	c.countComplete++
	threshold := c.PurgeThreshold
	if threshold <= 0 {
		threshold = defaultPurgeThreshold
	}
	if c.countComplete < threshold {
		return
	}
	c.membersArena.PurgeRemoved(c)
	c.countComplete = 0
}

// MovingInBuffer implements arena.Listener: when PurgeRemoved relocates a
// surviving member, every memberMeta entry pointing at its old offset is
// repointed at the new one before the move is finalized.
func (c *Collector) MovingInBuffer(oldOffset, newOffset arena.Offset) {
	obj := *c.membersArena.Get(oldOffset)
	kind, id := objectKindAndID(obj)
	lo, hi := c.findRange(kind, id)
	for i := lo; i < hi; i++ {
		if c.memberMeta[kind][i].bufferOffset == oldOffset {
			c.memberMeta[kind][i].bufferOffset = newOffset
		}
	}
}

// GetRelation returns the frozen copy of the relation rm describes.
func (c *Collector) GetRelation(rm *RelationMeta) *osm.Relation {
	return c.relationsArena.Get(rm.offset)
}

// GetMember returns the member object that completed a relation, given
// the member's position within it (memberPos indexes
// GetRelation(rm).Members). It returns nil if that member was filtered out
// or hasn't arrived yet.
func (c *Collector) GetMember(rm *RelationMeta, memberPos int) osm.Object {
	relation := c.GetRelation(rm)
	if memberPos < 0 || memberPos >= len(relation.Members) {
		return nil
	}
	m := &relation.Members[memberPos]
	if m.Ref == 0 {
		return nil
	}
	kind := kindIndex(m.Type)
	lo, hi := c.findRange(kind, m.Ref)
	for i := lo; i < hi; i++ {
		mm := c.memberMeta[kind][i]
		if mm.relationPos == c.relationPos(rm) && mm.memberPos == memberPos && mm.bufferOffset != arena.NoOffset {
			return *c.membersArena.Get(mm.bufferOffset)
		}
	}
	return nil
}

func (c *Collector) relationPos(rm *RelationMeta) int {
	for i := range c.relations {
		if &c.relations[i] == rm {
			return i
		}
	}
	return -1
}

// GetIncompleteRelations returns every kept relation that is still
// missing at least one wanted member, e.g. to report at end of stream.
func (c *Collector) GetIncompleteRelations() []*osm.Relation {
	var out []*osm.Relation
	for i := range c.relations {
		if !c.relations[i].HasAllMembers() {
			out = append(out, c.relationsArena.Get(c.relations[i].offset))
		}
	}
	return out
}

// Flush signals end of pass two input.
func (c *Collector) Flush() {
	c.hooks.Flush()
}

// UsedMemory approximates the bytes held by the collector's arenas and
// indexes, for periodic logging alongside the rest of the pipeline's
// resource metrics. It is an estimate, not an exact accounting.
func (c *Collector) UsedMemory() uint64 {
	var total uint64
	total += c.relationsArena.ApproxBytes()
	total += c.membersArena.ApproxBytes()
	for k := range c.memberMeta {
		total += uint64(cap(c.memberMeta[k])) * memberMetaSize
	}
	total += uint64(cap(c.relations)) * relationMetaSize
	return total
}

const (
	memberMetaSize   = 40 // int64 + 2*int + Offset + bool, rounded
	relationMetaSize = 16 // Offset + int
)
