// Package room implements the growing rectangular tile-change grid a player
// traverses without a major context change: a Room accumulates Screens of
// TileChange as new observed screens of TileGfxID are registered against
// it, then finalizes into an immutable region ready for metaroom merging.
package room

import (
	"github.com/bdwalton/mappy/geom"
	"github.com/bdwalton/mappy/screen"
	"github.com/bdwalton/mappy/tiledb"
)

// ID identifies a Room for the lifetime of the process.
type ID int

// Room is a set of same-sized Screen[TileChange] tiling a grid anchored at
// Screens[0].
type Room struct {
	ID       ID
	Screens  []*screen.Screen[tiledb.ChangeID]
	finalized bool
}

// New returns an empty Room.
func New(id ID) *Room {
	return &Room{ID: id}
}

// Finalized reports whether Finalize has been called.
func (r *Room) Finalized() bool { return r.finalized }

// Region returns the union of every screen's region.
func (r *Room) Region() geom.Rect {
	var out geom.Rect
	for _, s := range r.Screens {
		out = out.Union(s.Region)
	}
	return out
}

// Get returns the TileChange stored at world tile coordinate (x,y), if any
// screen of the room covers it.
func (r *Room) Get(x, y int32) (tiledb.ChangeID, bool) {
	for _, s := range r.Screens {
		if v, ok := s.Get(x, y); ok {
			return v, true
		}
	}
	return 0, false
}

func floorDiv(a, b int32) int32 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// screenForOrAdd returns the grid-aligned screen covering (x,y), creating it
// (filled with the initial change) if absent. gw,gh is the fixed grid cell
// size, anchored at (0,0).
func (r *Room) screenForOrAdd(db *tiledb.DB, x, y int32, gw, gh uint32) *screen.Screen[tiledb.ChangeID] {
	ox := floorDiv(x, int32(gw)) * int32(gw)
	oy := floorDiv(y, int32(gh)) * int32(gh)

	for _, s := range r.Screens {
		if s.Region.X == ox && s.Region.Y == oy {
			return s
		}
	}

	s := screen.New[tiledb.ChangeID](geom.NewRect(ox, oy, gw, gh), db.InitialChange())
	r.Screens = append(r.Screens, s)
	return s
}

// RegisterScreen grows the room with a freshly observed screen of tile-gfx
// ids: it ensures the room has a screen covering each of the four corners
// of observed's region (tiling the plane on the anchor grid of Screens[0]),
// partitions observed's region into the (up to four) quadrants those corner
// screens define, and for every cell advances the stored TileChange via
// db.Advance.
func (r *Room) RegisterScreen(db *tiledb.DB, observed *screen.Screen[tiledb.TileGfxID]) error {
	gw, gh := observed.Region.W, observed.Region.H
	if len(r.Screens) > 0 {
		gw, gh = r.Screens[0].Region.W, r.Screens[0].Region.H
	}

	reg := observed.Region
	ul := r.screenForOrAdd(db, reg.X, reg.Y, gw, gh)
	ur := r.screenForOrAdd(db, reg.Right()-1, reg.Y, gw, gh)
	ll := r.screenForOrAdd(db, reg.X, reg.Bottom()-1, gw, gh)
	lr := r.screenForOrAdd(db, reg.Right()-1, reg.Bottom()-1, gw, gh)

	lrSplitX := min32(reg.Right(), ul.Region.Right())
	udSplitY := min32(reg.Bottom(), ul.Region.Bottom())

	for y := reg.Y; y < reg.Bottom(); y++ {
		for x := reg.X; x < reg.Right(); x++ {
			var target *screen.Screen[tiledb.ChangeID]
			switch {
			case x < lrSplitX && y < udSplitY:
				target = ul
			case x >= lrSplitX && y < udSplitY:
				target = ur
			case x < lrSplitX && y >= udSplitY:
				target = ll
			default:
				target = lr
			}

			gfx, ok := observed.Get(x, y)
			if !ok {
				continue
			}
			cur, _ := target.Get(x, y)
			next, err := db.Advance(cur, gfx)
			if err != nil {
				return err
			}
			target.Set(x, y, next)
		}
	}

	return nil
}

// Finalize marks the room immutable. Cells that never received an
// observation keep holding the reserved initial change id, which also
// serves as the "unobserved" sentinel — there being only the one reserved
// id, finalization performs no further rewrite of those cells beyond
// marking the room itself finalized.
func (r *Room) Finalize() {
	r.finalized = true
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
