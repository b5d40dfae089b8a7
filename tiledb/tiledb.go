// Package tiledb implements the append-only interned stores of tile
// graphics and tile changes that back the room and metaroom pipelines.
// Handles (TileGfxID, ChangeID) are stable for the lifetime of the process:
// once issued they are never reused or invalidated, even though the
// underlying arenas are plain growable slices rather than reference-counted
// objects.
package tiledb

import (
	"fmt"
	"math"
)

// TileGfx is a raw 8x8 paletted tile bitmap captured from the background
// layer. Equality is byte-wise.
type TileGfx [64]uint8

// TileGfxID is a stable 16-bit handle into the tile-graphics arena. ID 0 is
// reserved for the initial/empty tile.
type TileGfxID uint16

// ChangeID is a stable 32-bit handle into the tile-change arena. ID 0 is
// reserved for the initial change (0,0).
type ChangeID uint32

type successor struct {
	to    TileGfxID
	count int
}

type change struct {
	from, to   TileGfxID
	successors []successor
	count      int
}

// DB owns the tile-graphics and tile-change arenas and the indices used to
// intern both by content.
type DB struct {
	gfxArena []TileGfx
	gfxIdx   map[TileGfx]TileGfxID

	changeArena []change
	changeIdx   map[[2]TileGfxID]ChangeID
}

// New returns a DB with the reserved initial tile and initial change already
// present.
func New() *DB {
	db := &DB{
		gfxIdx:    make(map[TileGfx]TileGfxID),
		changeIdx: make(map[[2]TileGfxID]ChangeID),
	}

	var empty TileGfx
	db.gfxArena = append(db.gfxArena, empty)
	db.gfxIdx[empty] = 0

	db.changeArena = append(db.changeArena, change{from: 0, to: 0})
	db.changeIdx[[2]TileGfxID{0, 0}] = 0

	return db
}

// InitialTile returns the reserved "empty" tile id.
func (db *DB) InitialTile() TileGfxID { return 0 }

// InitialChange returns the reserved "no change yet" change id.
func (db *DB) InitialChange() ChangeID { return 0 }

// Intern interns tg by content, returning its existing id if already known
// or allocating a new one. Idempotent.
func (db *DB) Intern(tg TileGfx) (TileGfxID, error) {
	if id, ok := db.gfxIdx[tg]; ok {
		return id, nil
	}

	if len(db.gfxArena) >= math.MaxUint16 {
		return 0, fmt.Errorf("tiledb: tile graphics arena exhausted (%d entries)", len(db.gfxArena))
	}

	id := TileGfxID(len(db.gfxArena))
	db.gfxArena = append(db.gfxArena, tg)
	db.gfxIdx[tg] = id
	return id, nil
}

// Tile returns the TileGfx for id.
func (db *DB) Tile(id TileGfxID) (TileGfx, bool) {
	if int(id) >= len(db.gfxArena) {
		return TileGfx{}, false
	}
	return db.gfxArena[id], true
}

// GfxCount returns the number of interned tile graphics, including the
// reserved initial tile.
func (db *DB) GfxCount() int { return len(db.gfxArena) }

func (db *DB) changeFromTo(from, to TileGfxID) (ChangeID, error) {
	key := [2]TileGfxID{from, to}
	if id, ok := db.changeIdx[key]; ok {
		return id, nil
	}

	if len(db.changeArena) >= math.MaxUint32 {
		return 0, fmt.Errorf("tiledb: tile change arena exhausted (%d entries)", len(db.changeArena))
	}

	id := ChangeID(len(db.changeArena))
	db.changeArena = append(db.changeArena, change{from: from, to: to})
	db.changeIdx[key] = id
	return id, nil
}

// Change returns the (from, to) pair for id.
func (db *DB) Change(id ChangeID) (from, to TileGfxID, ok bool) {
	if int(id) >= len(db.changeArena) {
		return 0, 0, false
	}
	c := db.changeArena[id]
	return c.from, c.to, true
}

// Advance moves a per-cell change forward given a freshly-observed tile
// gfx. If gfx already equals the change's `to`, or gfx is the initial
// (empty) tile, the change is returned unmodified — a cell regressing to
// "empty" is not treated as a new transition. Otherwise the pair
// (change.to, gfx) is interned (or retrieved) as the new change, refcounts
// are updated, and the new change id is returned.
func (db *DB) Advance(c ChangeID, gfx TileGfxID) (ChangeID, error) {
	if int(c) >= len(db.changeArena) {
		return 0, fmt.Errorf("tiledb: unknown change id %d", c)
	}

	cur := db.changeArena[c]
	if gfx == cur.to || gfx == db.InitialTile() {
		return c, nil
	}

	next, err := db.changeFromTo(cur.to, gfx)
	if err != nil {
		return 0, err
	}

	if c != db.InitialChange() {
		db.changeArena[c].count--
		db.addSuccessor(c, next)
	}
	db.changeArena[next].count++

	return next, nil
}

func (db *DB) addSuccessor(from, to ChangeID) {
	succs := db.changeArena[from].successors
	for i := range succs {
		if succs[i].to == db.changeArena[to].to {
			succs[i].count++
			db.changeArena[from].successors = succs
			return
		}
	}
	db.changeArena[from].successors = append(succs, successor{to: db.changeArena[to].to, count: 1})
}

// Snapshot returns a DB whose changeArena is an independent copy of db's,
// safe for a background goroutine to read via ChangeCost/Change while db
// keeps growing on the caller's goroutine. The snapshot is read-only: it
// carries no interning indices, so Intern/Advance must never be called on
// it. Only the change arena is copied because that is all merge-cost
// computation ever consults.
func (db *DB) Snapshot() *DB {
	cp := make([]change, len(db.changeArena))
	copy(cp, db.changeArena)
	return &DB{changeArena: cp}
}

// ChangeCost is the semi-metric used by room registration and metaroom
// merging: 0 if either change is initial or the two are equal; 0.25 if
// adjacent (one's `to` equals the other's `from`, or vice-versa); 0.10 if
// they share a `to`; 1.0 otherwise.
func (db *DB) ChangeCost(a, b ChangeID) float32 {
	if a == db.InitialChange() || b == db.InitialChange() || a == b {
		return 0
	}

	ca, ba := db.changeArena[a], db.changeArena[b]

	if ca.to == ba.from || ba.to == ca.from {
		return 0.25
	}
	if ca.to == ba.to {
		return 0.10
	}
	return 1.0
}
