package relations

import (
	"testing"

	"github.com/paulmach/osm"
)

// fakeSource replays a fixed slice of objects as an ObjectSource, standing
// in for osmpbf.Scanner in pass one.
type fakeSource struct {
	objects []osm.Object
	pos     int
}

func (s *fakeSource) Scan() bool {
	if s.pos >= len(s.objects) {
		return false
	}
	s.pos++
	return true
}

func (s *fakeSource) Object() osm.Object { return s.objects[s.pos-1] }
func (s *fakeSource) Err() error         { return nil }

func way(id int64) *osm.Way {
	return &osm.Way{ID: osm.WayID(id)}
}

type roleRef struct {
	Ref  int64
	Role string
}

func member(ref int64, role string) roleRef { return roleRef{ref, role} }

func relationWithWays(id int64, members ...roleRef) *osm.Relation {
	r := &osm.Relation{ID: osm.RelationID(id), Tags: osm.Tags{{Key: "type", Value: "multipolygon"}}}
	for _, m := range members {
		r.Members = append(r.Members, osm.Member{Type: osm.TypeWay, Ref: m.Ref, Role: m.Role})
	}
	return r
}

// completionHooks is a Hooks implementation driven by closures, so each
// test can assert on exactly the callback it cares about without a
// bespoke struct per scenario. collector is set right after construction
// since CompleteRelation only gets a RelationMeta and needs the owning
// Collector to resolve it into an *osm.Relation.
type completionHooks struct {
	BaseHooks
	collector          *Collector
	onComplete         func(c *Collector, rm *RelationMeta)
	onWayNotInAny      func(id int64)
	onRelationNotInAny func()
	keepMember         func(rm *RelationMeta, m *osm.Member) bool
}

func newCollectorWithHooks(h *completionHooks, wantNodes, wantWays, wantRelations bool) *Collector {
	c := NewCollector(h, wantNodes, wantWays, wantRelations)
	h.collector = c
	return c
}

func (h *completionHooks) KeepMember(rm *RelationMeta, m *osm.Member) bool {
	if h.keepMember != nil {
		return h.keepMember(rm, m)
	}
	return true
}

func (h *completionHooks) WayNotInAnyRelation(w *osm.Way) {
	if h.onWayNotInAny != nil {
		h.onWayNotInAny(int64(w.ID))
	}
}

func (h *completionHooks) RelationNotInAnyRelation(r *osm.Relation) {
	if h.onRelationNotInAny != nil {
		h.onRelationNotInAny()
	}
}

func (h *completionHooks) CompleteRelation(rm *RelationMeta) {
	if h.onComplete != nil {
		h.onComplete(h.collector, rm)
	}
}

func TestSimpleCompletion(t *testing.T) {
	// S1: a relation with two way members completes exactly once, only
	// after both members have arrived.
	var fired []int64
	c := newCollectorWithHooks(&completionHooks{
		onComplete: func(c *Collector, rm *RelationMeta) {
			fired = append(fired, int64(c.GetRelation(rm).ID))
		},
	}, false, true, false)

	r := relationWithWays(20, member(10, "outer"), member(11, "inner"))
	if err := c.ReadRelations(&fakeSource{objects: []osm.Object{r}}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}

	if ok := c.AddWay(way(10)); !ok {
		t.Error("way 10 should match relation 20")
	}
	if len(fired) != 0 {
		t.Fatalf("relation completed too early: %v", fired)
	}
	if ok := c.AddWay(way(11)); !ok {
		t.Error("way 11 should match relation 20")
	}
	if len(fired) != 1 || fired[0] != 20 {
		t.Fatalf("expected relation 20 to complete exactly once, got %v", fired)
	}
}

func TestWayNotInAnyRelation(t *testing.T) {
	notifiedID := int64(-1)
	c := newCollectorWithHooks(&completionHooks{
		onWayNotInAny: func(id int64) { notifiedID = id },
	}, false, true, false)

	r := relationWithWays(21, member(10, "outer"))
	if err := c.ReadRelations(&fakeSource{objects: []osm.Object{r}}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}
	if c.AddWay(way(99)) {
		t.Error("way 99 should not match anything")
	}
	if notifiedID != 99 {
		t.Errorf("expected WayNotInAnyRelation(99), got id=%d", notifiedID)
	}
}

func TestDuplicateMemberInRelation(t *testing.T) {
	// S2: a relation listing the same way twice needs one arrival to
	// satisfy both member slots.
	var fired []int64
	c := newCollectorWithHooks(&completionHooks{
		onComplete: func(c *Collector, rm *RelationMeta) {
			fired = append(fired, int64(c.GetRelation(rm).ID))
		},
	}, false, true, false)

	r := relationWithWays(22, member(10, "outer"), member(10, "outer"))
	if err := c.ReadRelations(&fakeSource{objects: []osm.Object{r}}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}
	c.AddWay(way(10))
	if len(fired) != 1 || fired[0] != 22 {
		t.Fatalf("expected relation 22 to complete from a single arrival, got %v", fired)
	}
}

func TestSharedMemberAcrossRelations(t *testing.T) {
	// a way used by two different relations satisfies both on a single
	// arrival, and the shared object is stored once in the members arena.
	var fired []int64
	c := newCollectorWithHooks(&completionHooks{
		onComplete: func(c *Collector, rm *RelationMeta) {
			fired = append(fired, int64(c.GetRelation(rm).ID))
		},
	}, false, true, false)

	r1 := relationWithWays(20, member(10, "outer"), member(11, "inner"))
	r2 := relationWithWays(21, member(10, "outer"), member(12, "inner"))
	if err := c.ReadRelations(&fakeSource{objects: []osm.Object{r1, r2}}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}
	c.AddWay(way(10))
	c.AddWay(way(11))
	c.AddWay(way(12))

	if len(fired) != 2 {
		t.Fatalf("expected both relations to complete, got %v", fired)
	}
}

func TestMissingMember(t *testing.T) {
	// S3: if a wanted member never arrives, the relation stays incomplete
	// and is reported by GetIncompleteRelations, not CompleteRelation.
	var fired []int64
	c := newCollectorWithHooks(&completionHooks{
		onComplete: func(c *Collector, rm *RelationMeta) {
			fired = append(fired, int64(c.GetRelation(rm).ID))
		},
	}, false, true, false)

	r := relationWithWays(23, member(10, "outer"), member(11, "inner"))
	if err := c.ReadRelations(&fakeSource{objects: []osm.Object{r}}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}
	c.AddWay(way(10))
	c.Flush()

	if len(fired) != 0 {
		t.Fatalf("relation should not have completed, got %v", fired)
	}
	incomplete := c.GetIncompleteRelations()
	if len(incomplete) != 1 || incomplete[0].ID != 23 {
		t.Fatalf("expected relation 23 reported incomplete, got %v", incomplete)
	}
}

func TestKeepMemberFilter(t *testing.T) {
	// KeepMember excludes a member from tracking; the relation
	// completes once the remaining wanted members arrive, without ever
	// seeing the excluded one.
	var fired []int64
	c := newCollectorWithHooks(&completionHooks{
		onComplete: func(c *Collector, rm *RelationMeta) {
			fired = append(fired, int64(c.GetRelation(rm).ID))
		},
		keepMember: func(rm *RelationMeta, m *osm.Member) bool {
			return m.Role != "inner"
		},
	}, false, true, false)

	r := relationWithWays(24, member(10, "outer"), member(11, "inner"))
	if err := c.ReadRelations(&fakeSource{objects: []osm.Object{r}}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}
	c.AddWay(way(10))
	if len(fired) != 1 || fired[0] != 24 {
		t.Fatalf("expected relation 24 to complete without its inner member, got %v", fired)
	}
}

func TestCompactionCorrectness(t *testing.T) {
	// S5: force a members-arena compaction to relocate a still-outstanding
	// member (way 20) ahead of two already-removed ones, and check that
	// the relation relying on it still resolves the right object via
	// MovingInBuffer's offset fixup, not just that it still completes.
	var fired []int64
	var resolvedWay20 *osm.Way
	c := newCollectorWithHooks(&completionHooks{
		onComplete: func(c *Collector, rm *RelationMeta) {
			rel := c.GetRelation(rm)
			fired = append(fired, int64(rel.ID))
			if rel.ID == 101 {
				if w, ok := c.GetMember(rm, 0).(*osm.Way); ok {
					resolvedWay20 = w
				}
			}
		},
	}, false, true, false)
	c.PurgeThreshold = 2

	rels := []osm.Object{
		relationWithWays(102, member(99, "outer")),
		relationWithWays(101, member(20, "outer"), member(21, "outer")),
		relationWithWays(100, member(10, "outer")),
	}
	if err := c.ReadRelations(&fakeSource{objects: rels}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}

	c.AddWay(way(99)) // completes 102 at arena offset 0, marked removed
	c.AddWay(way(20)) // rel101's first member, arena offset 1, stays live
	c.AddWay(way(10)) // completes 100 at arena offset 2; purge threshold hit,
	// compacting offset-0 and offset-2 away and relocating way20 from 1 to 0
	c.AddWay(way(21)) // completes rel101; must resolve way20 post-move

	if len(fired) != 3 {
		t.Fatalf("expected all three relations to complete despite compaction, got %v", fired)
	}
	if resolvedWay20 == nil || resolvedWay20.ID != 20 {
		t.Fatalf("expected relation 101's outer member to resolve to way 20 after compaction, got %v", resolvedWay20)
	}
}

func TestUninterestingKindNeverLooksUp(t *testing.T) {
	// S6: a collector configured not to want relations as members never
	// looks one up and never fires a not-in-any-relation callback for it.
	notified := false
	c := newCollectorWithHooks(&completionHooks{
		onRelationNotInAny: func() { notified = true },
	}, true, true, false)

	r := relationWithWays(1, member(10, "outer"))
	if err := c.ReadRelations(&fakeSource{objects: []osm.Object{r}}); err != nil {
		t.Fatalf("ReadRelations: %v", err)
	}
	if c.AddRelation(&osm.Relation{ID: 99}) {
		t.Fatal("AddRelation should return false when relations are not wanted")
	}
	if notified {
		t.Error("RelationNotInAnyRelation should not fire when relations are not tracked at all")
	}
}
