package mappy

import (
	"github.com/bdwalton/mappy/geom"
	"github.com/bdwalton/mappy/host"
	"github.com/bdwalton/mappy/mergepool"
	"github.com/bdwalton/mappy/metaroom"
	"github.com/bdwalton/mappy/room"
	"github.com/bdwalton/mappy/screen"
	"github.com/bdwalton/mappy/scroll"
	"github.com/bdwalton/mappy/sprite"
	"github.com/bdwalton/mappy/tiledb"
)

// Advance runs the per-frame pipeline: step the emulator, reconstruct
// scroll/splits, extract the current screen of tiles, run the periodic
// control check, grow or finalize the current room, drain ready
// metaroom-merge results, and reassign/re-blob sprite tracks.
func (s *State) Advance(input [2]host.Buttons) error {
	s.host.Run(input)

	fb := s.host.Framebuffer()
	s.framebuffer = fb

	changes := s.host.ScrollChangeLog()
	lo, hi := scroll.GetMainSplit(changes, &s.latch, fb)
	s.splitLo, s.splitHi = lo, hi

	dx := scroll.FindOffset(uint8(s.gridAlignX&0xFF), lo.ScrollX, 256)
	dy := scroll.FindOffset(uint8(s.gridAlignY&0xFF), lo.ScrollY, 240)
	s.scrollX += int32(dx)
	s.scrollY += int32(dy)
	s.gridAlignX, s.gridAlignY = int32(lo.ScrollX), int32(lo.ScrollY)

	region := scroll.SplitRegionFor(lo, hi, s.gridAlignX, s.gridAlignY, FrameWidth, FrameHeight)

	if s.now > 0 {
		if err := s.readCurrentScreen(region); err != nil {
			return err
		}
	}

	s.buttons.Push(input[0])

	s.framesSinceControlCheck++
	if s.framesSinceControlCheck >= controlCheckInterval {
		s.framesSinceControlCheck = 0
		s.checkControl()
	}

	if s.hasControl {
		s.controlDuration++
	} else {
		s.controlDuration = 0
	}

	s.maybeFinalizeRoom(region, dx, dy)

	if s.controlDuration > controlRoomEnterDuration && s.currentScreen != nil {
		if err := s.currentRoom.RegisterScreen(s.db, s.currentScreen); err != nil {
			return err
		}
	}

	s.drainMergeResults()

	s.processSprites()

	s.now++

	return nil
}

// readCurrentScreen rebuilds s.currentScreen from the background layer view
// over the observable playfield region, interning each 8x8 block into
// TileDB. If more than 10 new tile graphics appear this frame, the optional
// debug-dump hook is invoked (spec: informational only).
func (s *State) readCurrentScreen(region geom.Rect) error {
	bg := s.host.LayerView(host.LayerBG)
	if bg == nil {
		return nil
	}

	tw := region.W / geom.TileSize
	th := region.H / geom.TileSize
	tileX0 := (s.scrollX + region.X) / geom.TileSize
	tileY0 := (s.scrollY + region.Y) / geom.TileSize

	next := screen.New[tiledb.TileGfxID](geom.NewRect(tileX0, tileY0, tw, th), s.db.InitialTile())

	var newIDs []tiledb.TileGfxID
	before := s.db.GfxCount()

	for ty := uint32(0); ty < th; ty++ {
		for tx := uint32(0); tx < tw; tx++ {
			px := region.X + int32(tx)*geom.TileSize
			py := region.Y + int32(ty)*geom.TileSize

			var tg tiledb.TileGfx
			for row := int32(0); row < geom.TileSize; row++ {
				srcY := py + row
				if srcY < 0 || srcY >= FrameHeight {
					continue
				}
				for col := int32(0); col < geom.TileSize; col++ {
					srcX := px + col
					if srcX < 0 || srcX >= FrameWidth {
						continue
					}
					tg[row*geom.TileSize+col] = bg[srcY*FrameWidth+srcX]
				}
			}

			id, err := s.db.Intern(tg)
			if err != nil {
				return err
			}
			if s.db.GfxCount() > before {
				newIDs = append(newIDs, id)
				before = s.db.GfxCount()
			}
			next.Set(tileX0+int32(tx), tileY0+int32(ty), id)
		}
	}

	s.currentScreen = next

	if len(newIDs) > 10 && s.tileDumpFn != nil {
		s.tileDumpFn(s.db, newIDs)
	}

	return nil
}

var controlTrial1 = []host.Buttons{{Down: true, Left: true, B: true}, {Down: true, Left: true, A: true}}
var controlTrial2 = []host.Buttons{{Up: true, Right: true, A: true}, {Up: true, Right: true, B: true}}

// checkControl runs the speculative two-trial re-simulation: save state,
// replay controlCheckK frames of one input pattern, reload, replay the
// opposing pattern, reload again, and compare the resulting splits and
// sprite arrays.
func (s *State) checkControl() {
	size := s.host.SaveSize()
	if size == 0 {
		return
	}

	buf := make([]byte, size)
	if !s.host.SaveState(buf) {
		s.log.Warn("mappy: save_state failed, skipping control check")
		return
	}

	splits1, p1 := s.runControlTrial(controlTrial1)
	if !s.host.LoadState(buf) {
		s.log.Warn("mappy: load_state failed after trial 1, skipping control check")
		return
	}

	splits2, p2 := s.runControlTrial(controlTrial2)
	if !s.host.LoadState(buf) {
		s.log.Warn("mappy: load_state failed after trial 2, skipping control check")
		return
	}

	differs := splits1 != splits2 || !spritesEqual(p1, p2)

	if differs && !s.maybeControl {
		s.maybeControlChangeTime = s.now
	}
	s.maybeControl = differs
	s.hasControl = s.maybeControl && (s.hasControl || s.now-s.maybeControlChangeTime > controlCheckK)
}

type splitPair struct{ lo, hi scroll.Split }

func (s *State) runControlTrial(seq []host.Buttons) (splitPair, []sprite.Data) {
	var changes []scroll.Change
	for i := 0; i < controlCheckK; i++ {
		in := seq[i%len(seq)]
		s.host.Run([2]host.Buttons{in, {}})
		changes = s.host.ScrollChangeLog()
	}

	var latch scroll.Latch
	lo, hi := scroll.GetMainSplit(changes, &latch, s.host.Framebuffer())

	oam := s.host.SystemRAM(0x0200, 0x0200+256)
	ctrl := s.host.PPUReg(0x2000)
	sprites := sprite.ReadSprites(oam, ctrl, nil, nil)

	return splitPair{lo, hi}, sprites
}

func spritesEqual(a, b []sprite.Data) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// maybeFinalizeRoom implements the room-finalization triggers: control
// regained after a long loss, a large scroll jump, or a big tile diff
// against the last control-granted screen.
func (s *State) maybeFinalizeRoom(region geom.Rect, dx, dy int16) {
	largeJump := abs16(dx) >= int16(region.W)*3/4 || abs16(dy) >= int16(region.H)*3/4

	diff := 0
	if s.lastControlScreen != nil && s.currentScreen != nil {
		diff = screen.Difference(s.currentScreen, s.lastControlScreen)
	}
	bigDiff := diff > screenRoomChangeDiffBig
	moderateDiffNoJump := diff > screenRoomChangeDiffModerate && !largeJump

	controlRegained := s.hasControl && !s.prevHasControl && s.now-s.lastControlTime > controlRoomChangeThreshold

	if controlRegained || largeJump || bigDiff || moderateDiffNoJump {
		s.finalizeCurrentRoom()
	}

	if s.hasControl {
		s.lastControlTime = s.now
	}
	s.prevHasControl = s.hasControl
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

// finalizeCurrentRoom marks the current room immutable, dispatches its
// merge-cost job against every live metaroom, and starts a fresh current
// room.
func (s *State) finalizeCurrentRoom() {
	r := s.currentRoom
	r.Finalize()
	s.finalizedAt[r.ID] = s.now
	s.finalizedOrder = append(s.finalizedOrder, r.ID)

	if s.pendingReset {
		s.resets[r.ID] = true
		s.pendingReset = false
	}

	live := s.merges.Live()
	candidates := make([]*metaroom.Metaroom, len(live))
	copy(candidates, live)

	// The worker runs concurrently with the main loop, which keeps mutating
	// s.rooms (inserting the next room below) and s.db (Intern/Advance every
	// frame). Hand it its own snapshot of each rather than the live
	// references, so its reads can never race with those writes. Every Room
	// reachable from rooms is already Finalize()'d and never mutated again,
	// so a shallow copy of the map is enough; the DB needs its own
	// independent change arena since that one keeps growing.
	roomsSnapshot := make(map[room.ID]*room.Room, len(s.rooms))
	for id, rm := range s.rooms {
		roomsSnapshot[id] = rm
	}
	s.pool.Submit(mergepool.PhaseFinalize, r, candidates, roomsSnapshot, s.db.Snapshot(), metaroom.RoomMergeThreshold)

	next := room.New(s.nextRoomID)
	s.nextRoomID++
	s.rooms[next.ID] = next
	s.currentRoom = next
	s.lastControlScreen = s.currentScreen
}

// MarkReset records that an emulator reset was observed during the current
// room; it is folded into the resets list at the next finalization.
func (s *State) MarkReset() { s.pendingReset = true }

func (s *State) drainMergeResults() {
	for {
		r, ok := s.pool.TryRecv()
		if !ok {
			return
		}
		s.applyMergeResult(r)
	}
}

func (s *State) applyMergeResult(r mergepool.Result) {
	if r.Phase != mergepool.PhaseFinalize {
		return
	}
	mr := s.merges.MergeNewRoom(r.RoomID, r.Winners)
	for _, reg := range mr.Registrations {
		s.owner[reg.RoomID] = mr.ID
	}
}
