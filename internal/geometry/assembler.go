// Package geometry turns a completed relation's members into a sketch
// geometry. It is deliberately minimal: spec.md §1 scopes the "full
// geometry assembler" (ring gluing, multipolygon winding, hole nesting)
// out as an external collaborator, so this package only ever assembles the
// simple, single-outer-ring case and reports anything more complex as
// unassembled rather than guessing at it.
package geometry

import (
	"fmt"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osmrelate/internal/diskcoords"
	"github.com/wegman-software/osmrelate/internal/wkb"
)

// Sketch is the best-effort geometry for a completed relation.
type Sketch struct {
	RelationID osm.RelationID
	WKB        []byte
	// Unassembled is set when the relation's members don't form the
	// single-ring case this package handles (e.g. outer ways that form
	// more than one ring, or a gap between consecutive ways).
	Unassembled bool
	Reason      string
}

// Assembler builds Sketches from a relation's resolved way members,
// looking up node coordinates in a coords cache.
type Assembler struct {
	coords *diskcoords.Cache
	enc    *wkb.Encoder
}

// NewAssembler creates an Assembler backed by coords for node lookups.
func NewAssembler(coords *diskcoords.Cache) *Assembler {
	return &Assembler{
		coords: coords,
		enc:    wkb.NewEncoder(256),
	}
}

// Assemble builds a Sketch for rel given its resolved way members, each
// paired with the ordered list of node IDs that make up that way (the
// caller resolves ways to node-id lists; this package only glues rings
// and looks up coordinates).
func (a *Assembler) Assemble(rel *osm.Relation, ways []WayNodes) Sketch {
	outer := outerRingNodeIDs(ways)
	if outer == nil {
		return Sketch{
			RelationID:  rel.ID,
			Unassembled: true,
			Reason:      "members do not form one closed outer ring",
		}
	}

	coords := make([]float64, 0, len(outer)*2)
	for _, id := range outer {
		lat, lon, ok := a.coords.Get(int64(id))
		if !ok {
			return Sketch{
				RelationID:  rel.ID,
				Unassembled: true,
				Reason:      fmt.Sprintf("node %d has no known coordinates", id),
			}
		}
		coords = append(coords, lon, lat)
	}

	buf := a.enc.EncodePolygon(coords)
	out := make([]byte, len(buf))
	copy(out, buf)
	return Sketch{RelationID: rel.ID, WKB: out}
}

// WayNodes pairs a member way's role with its ordered node IDs.
type WayNodes struct {
	Role  string
	Nodes []osm.NodeID
}

// outerRingNodeIDs glues ways tagged (or assumed, if untagged) "outer"
// into a single closed ring by chaining matching endpoints. It returns
// nil if the ways don't close into exactly one ring.
func outerRingNodeIDs(ways []WayNodes) []osm.NodeID {
	var outer []WayNodes
	for _, w := range ways {
		if w.Role == "" || w.Role == "outer" {
			outer = append(outer, w)
		}
	}
	if len(outer) == 0 {
		return nil
	}

	remaining := make([]WayNodes, len(outer))
	copy(remaining, outer)

	ring := append([]osm.NodeID(nil), remaining[0].Nodes...)
	remaining = remaining[1:]

	for len(remaining) > 0 {
		tail := ring[len(ring)-1]
		found := -1
		reversed := false
		for i, w := range remaining {
			if len(w.Nodes) == 0 {
				continue
			}
			if w.Nodes[0] == tail {
				found, reversed = i, false
				break
			}
			if w.Nodes[len(w.Nodes)-1] == tail {
				found, reversed = i, true
				break
			}
		}
		if found == -1 {
			return nil
		}
		next := remaining[found].Nodes
		if reversed {
			next = reverseNodeIDs(next)
		}
		ring = append(ring, next[1:]...)
		remaining = append(remaining[:found], remaining[found+1:]...)
	}

	if len(ring) < 4 || ring[0] != ring[len(ring)-1] {
		return nil
	}
	return ring
}

func reverseNodeIDs(ids []osm.NodeID) []osm.NodeID {
	out := make([]osm.NodeID, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out
}
