// Package metaroom implements the equivalence classes of rooms believed to
// depict the same in-game location at different visits, the cost-bounded
// search for the best alignment of a newly finalized room against every
// existing metaroom, and the resulting exit graph between metarooms.
package metaroom

import (
	"sort"

	"github.com/bdwalton/mappy/geom"
	"github.com/bdwalton/mappy/room"
	"github.com/bdwalton/mappy/tiledb"
)

// ID identifies a Metaroom for the lifetime of the process.
type ID int

// RoomMergeThreshold is the starting (and maximum acceptable) aggregate
// alignment cost a merge candidate offset must beat.
const RoomMergeThreshold = 16.0

// Registration places a room's own tile coordinates into a metaroom's
// shared canonical frame: world coordinate (x,y) in the room corresponds to
// canonical coordinate (x+OffsetX, y+OffsetY).
type Registration struct {
	RoomID          room.ID
	OffsetX, OffsetY int32
}

// Metaroom is a set of room registrations believed to depict the same
// location. A non-empty MergedInto marks it as superseded by later merges;
// it remains queryable but is no longer a live top-level metaroom.
type Metaroom struct {
	ID           ID
	Registrations []Registration
	MergedInto   []ID
}

// Region returns the union of every registered room's own region,
// translated into the metaroom's canonical frame.
func (m *Metaroom) Region(rooms map[room.ID]*room.Room) geom.Rect {
	var out geom.Rect
	for _, r := range m.Registrations {
		rm, ok := rooms[r.RoomID]
		if !ok {
			continue
		}
		reg := rm.Region()
		translated := geom.NewRect(reg.X+r.OffsetX, reg.Y+r.OffsetY, reg.W, reg.H)
		out = out.Union(translated)
	}
	return out
}

// Merges is the append-only, order-significant list of every metaroom ever
// created, kept sorted so metarooms not yet superseded (empty MergedInto)
// precede those that have been.
type Merges struct {
	metarooms []*Metaroom
	nextID    ID
}

// NewMerges returns an empty Merges list.
func NewMerges() *Merges {
	return &Merges{}
}

// Len returns the total number of metarooms ever created, live or
// superseded.
func (m *Merges) Len() int { return len(m.metarooms) }

// Metaroom returns the metaroom with the given id.
func (m *Merges) Metaroom(id ID) (*Metaroom, bool) {
	for _, mr := range m.metarooms {
		if mr.ID == id {
			return mr, true
		}
	}
	return nil, false
}

// All returns every metaroom, live ones first.
func (m *Merges) All() []*Metaroom { return m.metarooms }

// Live returns the metarooms not yet superseded (empty MergedInto). Callers
// should prefer this over scanning All, since it documents the reliance on
// sort order rather than re-deriving it.
func (m *Merges) Live() []*Metaroom {
	out := make([]*Metaroom, 0, len(m.metarooms))
	for _, mr := range m.metarooms {
		if len(mr.MergedInto) == 0 {
			out = append(out, mr)
		} else {
			break
		}
	}
	return out
}

func (m *Merges) resort() {
	sort.SliceStable(m.metarooms, func(i, j int) bool {
		return len(m.metarooms[i].MergedInto) < len(m.metarooms[j].MergedInto)
	})
}

// Winner is one metaroom's best-fit alignment against a newly finalized
// room, as found by MergeCost.
type Winner struct {
	MetaroomID      ID
	OffsetX, OffsetY int32
}

// MergeNewRoom applies the result of a merge search: with no winners, the
// new room becomes its own single-room metaroom. With winners, a fresh
// metaroom aggregates every constituent's registrations (translated so the
// new room sits at its own (0,0)), and each constituent is marked
// superseded.
func (m *Merges) MergeNewRoom(newRoomID room.ID, winners []Winner) *Metaroom {
	id := m.nextID
	m.nextID++

	if len(winners) == 0 {
		mr := &Metaroom{ID: id, Registrations: []Registration{{RoomID: newRoomID, OffsetX: 0, OffsetY: 0}}}
		m.metarooms = append(m.metarooms, mr)
		m.resort()
		return mr
	}

	regs := []Registration{{RoomID: newRoomID, OffsetX: 0, OffsetY: 0}}
	for _, w := range winners {
		mr, ok := m.Metaroom(w.MetaroomID)
		if !ok {
			continue
		}
		for _, r := range mr.Registrations {
			regs = append(regs, Registration{RoomID: r.RoomID, OffsetX: r.OffsetX - w.OffsetX, OffsetY: r.OffsetY - w.OffsetY})
		}
		mr.MergedInto = append(mr.MergedInto, id)
	}

	newMR := &Metaroom{ID: id, Registrations: regs}
	m.metarooms = append(m.metarooms, newMR)
	m.resort()
	return newMR
}

// evalOffset sums, over every observed cell of newRoom, the minimum
// change-cost against whichever constituent room of mr covers the
// corresponding canonical cell, abandoning early once the running sum
// reaches bound. It returns the sum and the count of cells where both sides
// contributed a non-initial change ("valid comparisons").
func evalOffset(newRoom *room.Room, mr *Metaroom, rooms map[room.ID]*room.Room, db *tiledb.DB, xo, yo int32, bound float32) (cost float32, valid int) {
	reg := newRoom.Region()

	for ry := int32(0); ry < int32(reg.H); ry++ {
		for rx := int32(0); rx < int32(reg.W); rx++ {
			roomChange, ok := newRoom.Get(reg.X+rx, reg.Y+ry)
			if !ok || roomChange == db.InitialChange() {
				continue
			}

			found := false
			var minCost float32
			for _, r := range mr.Registrations {
				rb, ok := rooms[r.RoomID]
				if !ok {
					continue
				}
				bChange, ok := rb.Get(r.OffsetX+rx+xo, r.OffsetY+ry+yo)
				if !ok || bChange == db.InitialChange() {
					continue
				}
				c := db.ChangeCost(roomChange, bChange)
				if !found || c < minCost {
					minCost = c
					found = true
				}
			}

			if found {
				cost += minCost
				valid++
				if cost >= bound {
					return cost, valid
				}
			}
		}
	}

	return cost, valid
}

// MergeCost searches every tile-coordinate offset placing newRoom's region
// over mr's region for the minimum-cost alignment, subject to the "valid
// comparisons" floor min(300, roomArea/2, metaArea/2). It returns the
// winning offset and cost, or ok=false if no offset qualifies.
func MergeCost(newRoom *room.Room, mr *Metaroom, rooms map[room.ID]*room.Room, db *tiledb.DB, threshold float32) (xo, yo int32, cost float32, ok bool) {
	roomRegion := newRoom.Region()
	metaRegion := mr.Region(rooms)

	overlapReq := minInt(300, minInt(int(roomRegion.Area())/2, int(metaRegion.Area())/2))

	xoMin := metaRegion.X - roomRegion.Right() + 1
	xoMax := metaRegion.Right() - roomRegion.X - 1
	yoMin := metaRegion.Y - roomRegion.Bottom() + 1
	yoMax := metaRegion.Bottom() - roomRegion.Y - 1

	bestCost := threshold
	found := false
	var bestXo, bestYo int32

	type offset struct{ x, y int32 }
	var offsets []offset
	for cyo := yoMin; cyo <= yoMax; cyo++ {
		for cxo := xoMin; cxo <= xoMax; cxo++ {
			offsets = append(offsets, offset{cxo, cyo})
		}
	}
	// Offsets nearest the unshifted placement are tried first: evalOffset
	// abandons any later offset whose cost only ties the current best, so
	// equal-cost alignments resolve toward (0,0).
	dist := func(o offset) int32 { return max(o.x, -o.x) + max(o.y, -o.y) }
	sort.SliceStable(offsets, func(i, j int) bool { return dist(offsets[i]) < dist(offsets[j]) })

	for _, o := range offsets {
		c, v := evalOffset(newRoom, mr, rooms, db, o.x, o.y, bestCost)
		if v < overlapReq {
			continue
		}
		if c < bestCost {
			bestCost = c
			bestXo, bestYo = o.x, o.y
			found = true
		}
	}

	return bestXo, bestYo, bestCost, found
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ExitGraph computes, for each pair of live metarooms, whether a room
// belonging to one directly finalized into a room belonging to the other
// within maxGap frames of each other — an approximation of "the player
// walked from a room of A into a room of B" — skipping any room recorded in
// resets (a reset invalidates the temporal adjacency of rooms around it).
func ExitGraph(m *Merges, order []room.ID, finalizedAt map[room.ID]geom.Time, owner map[room.ID]ID, resets map[room.ID]bool, maxGap geom.Time) map[ID]map[ID]bool {
	out := map[ID]map[ID]bool{}
	ensure := func(id ID) {
		if out[id] == nil {
			out[id] = map[ID]bool{}
		}
	}

	for i := 0; i+1 < len(order); i++ {
		a, b := order[i], order[i+1]
		if resets[a] || resets[b] {
			continue
		}
		ta, okA := finalizedAt[a]
		tb, okB := finalizedAt[b]
		if !okA || !okB {
			continue
		}
		if tb-ta > maxGap {
			continue
		}

		ma, okMA := owner[a]
		mb, okMB := owner[b]
		if !okMA || !okMB || ma == mb {
			continue
		}

		ensure(ma)
		ensure(mb)
		out[ma][mb] = true
		out[mb][ma] = true
	}

	return out
}
