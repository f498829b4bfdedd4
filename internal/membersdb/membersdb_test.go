package membersdb

import (
	"testing"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osmrelate/internal/relationsdb"
)

func wayID(w *osm.Way) int64 { return int64(w.ID) }

// TestFillMemberDatabase translates
// original_source/test/t/relations/test_members_database.cpp's "Fill
// member database" case: three relations (r20, r21, r22) tracking five
// ways between them (10-14), each satisfied one arrival at a time; way 15
// is tracked by none of them.
func TestFillMemberDatabase(t *testing.T) {
	rdb := relationsdb.New()
	mdb := New[osm.Way](rdb, wayID)

	r20 := rdb.Add(&osm.Relation{ID: 20})
	mdb.Track(r20, 10, 0)

	r21 := rdb.Add(&osm.Relation{ID: 21})
	mdb.Track(r21, 11, 0)
	mdb.Track(r21, 12, 1)

	r22 := rdb.Add(&osm.Relation{ID: 22})
	mdb.Track(r22, 13, 0)
	mdb.Track(r22, 10, 1)
	mdb.Track(r22, 14, 2)

	mdb.Prepare()

	var matched int
	note := func(h relationsdb.Handle) { matched++ }

	if rdb.Get(r20).HasAllMembers() {
		t.Fatal("r20 should not be complete before way 10 arrives")
	}

	if !mdb.Add(osm.Way{ID: 10}, note) {
		t.Error("way 10 should be tracked")
	}
	// way 10 is shared between r20 and r22: r20 completes, r22 still needs 13/14
	if !rdb.Get(r20).HasAllMembers() {
		t.Error("r20 should be complete once way 10 arrives")
	}
	if rdb.Get(r22).HasAllMembers() {
		t.Fatal("r22 still needs ways 13 and 14")
	}

	if !mdb.Add(osm.Way{ID: 11}, note) {
		t.Error("way 11 should be tracked")
	}
	if rdb.Get(r21).HasAllMembers() {
		t.Fatal("r21 still needs way 12")
	}

	if mdb.Add(osm.Way{ID: 15}, note) {
		t.Error("way 15 is not tracked by anything")
	}

	if !mdb.Add(osm.Way{ID: 12}, note) {
		t.Error("way 12 should be tracked")
	}
	if !rdb.Get(r21).HasAllMembers() {
		t.Error("r21 should be complete once way 12 arrives")
	}

	if !mdb.Add(osm.Way{ID: 13}, note) {
		t.Error("way 13 should be tracked")
	}
	if rdb.Get(r22).HasAllMembers() {
		t.Fatal("r22 still needs way 14")
	}

	if !mdb.Add(osm.Way{ID: 14}, note) {
		t.Error("way 14 should be tracked")
	}
	if !rdb.Get(r22).HasAllMembers() {
		t.Error("r22 should be complete once way 14 arrives")
	}

	if got, want := matched, 3; got != want {
		t.Errorf("completion callback fired %d times, want %d", got, want)
	}

	if w, ok := mdb.Get(11); !ok || w.ID != 11 {
		t.Errorf("expected way 11 retrievable from the database, got %+v, %v", w, ok)
	}
}

// TestMemberDatabaseWithDuplicateMember translates the same file's
// "Member database with duplicate member in relation" case: a single
// relation listing way 11 twice, whose completion callback removes every
// tracked slot and whose Counts progress tracked -> available -> removed.
func TestMemberDatabaseWithDuplicateMember(t *testing.T) {
	rdb := relationsdb.New()
	mdb := New[osm.Way](rdb, wayID)

	r20 := rdb.Add(&osm.Relation{ID: 20})
	mdb.Track(r20, 10, 0)
	mdb.Track(r20, 11, 1)
	mdb.Track(r20, 12, 2)
	mdb.Track(r20, 11, 3)
	mdb.Prepare()

	if got, want := mdb.Size(), 4; got != want {
		t.Fatalf("mdb.Size() = %d, want %d", got, want)
	}
	if c := mdb.Count(); c != (Counts{Tracked: 4, Available: 0, Removed: 0}) {
		t.Fatalf("initial Count() = %+v, want {4 0 0}", c)
	}

	var completions int
	members := []struct {
		id  int64
		pos int
	}{{10, 0}, {11, 1}, {12, 2}, {11, 3}}

	for _, w := range []osm.Way{{ID: 10}, {ID: 11}, {ID: 12}} {
		mdb.Add(w, func(h relationsdb.Handle) {
			completions++
			if rel := rdb.Get(h); rel.Relation.ID != 20 {
				t.Errorf("completed relation id = %d, want 20", rel.Relation.ID)
			}
			if c := mdb.Count(); c != (Counts{Tracked: 0, Available: 4, Removed: 0}) {
				t.Errorf("Count() inside completion callback = %+v, want {0 4 0}", c)
			}

			// relation is complete here; normal code would handle it here
			for _, m := range members {
				mdb.Remove(m.id, h)
			}
			rdb.Remove(h)
		})
	}

	if got, want := completions, 1; got != want {
		t.Fatalf("completion callback fired %d times, want %d", got, want)
	}

	if got, want := rdb.Size(), 0; got != want {
		t.Fatalf("rdb.Size() = %d, want %d", got, want)
	}

	if got, want := mdb.Size(), 4; got != want {
		t.Errorf("mdb.Size() = %d, want %d (Size never shrinks)", got, want)
	}
	if c := mdb.Count(); c != (Counts{Tracked: 0, Available: 0, Removed: 4}) {
		t.Errorf("final Count() = %+v, want {0 0 4}", c)
	}
}
