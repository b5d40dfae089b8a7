// Package scroll reconstructs the scroll position and per-scanline "splits"
// of a frame from a log of PPU scroll-register writes, and derives the
// tile-aligned playfield rectangle the room/tile pipeline observes.
package scroll

import "github.com/bdwalton/mappy/geom"

// ChangeReason identifies which register write produced a ScrollChange.
type ChangeReason int

const (
	Write2005 ChangeReason = iota
	Write2006
	Read2002
)

// Change is a single mid-frame scroll-register write or status read.
type Change struct {
	Reason   ChangeReason
	Scanline uint8
	Value    uint8
}

// Latch is the one-bit toggle selecting which coordinate (H or V) the next
// PPUSCROLL/PPUADDR write affects. Reset to H by a PPUSTATUS read.
type Latch int

const (
	LatchH Latch = iota
	LatchV
)

// Clear resets the latch to H, as a PPUSTATUS read does.
func (l *Latch) Clear() { *l = LatchH }

// Flip toggles the latch between H and V.
func (l *Latch) Flip() {
	if *l == LatchH {
		*l = LatchV
	} else {
		*l = LatchH
	}
}

// Split records the scroll position in effect from Scanline onward.
type Split struct {
	Scanline          uint8
	ScrollX, ScrollY uint8
}

const (
	frameWidth     = 256
	frameHeight    = 240
	tileSize       = geom.TileSize
	screenSafeInset = 8
)

func registerSplit(splits []Split, scanline uint8) []Split {
	last := splits[len(splits)-1]
	if scanline > last.Scanline {
		splits = append(splits, Split{Scanline: scanline, ScrollX: last.ScrollX, ScrollY: last.ScrollY})
	}
	return splits
}

// GetSplits replays changes against latch (mutated in place) and returns the
// non-decreasing list of splits covering the full frame, always beginning at
// scanline 0 and ending at scanline 240.
func GetSplits(changes []Change, latch *Latch) []Split {
	splits := []Split{{Scanline: 0, ScrollX: 0, ScrollY: 0}}

	for _, c := range changes {
		switch c.Reason {
		case Read2002:
			latch.Clear()

		case Write2005:
			splits = registerSplit(splits, c.Scanline)
			last := &splits[len(splits)-1]
			if *latch == LatchH {
				last.ScrollX = c.Value
			} else {
				last.ScrollY = c.Value
			}
			latch.Flip()

		case Write2006:
			scanline := c.Scanline
			if scanline > 3 {
				scanline -= 3
			}
			splits = registerSplit(splits, scanline)
			last := &splits[len(splits)-1]

			if *latch == LatchH {
				// First byte: yyNNYY
				yFine := (c.Value & 0x30) >> 4
				yCoarseHi := (c.Value & 0x03) << 6
				last.ScrollY = (yFine | yCoarseHi) | (last.ScrollY & 0b00111000)
			} else {
				// Second byte: YYYXXXXX
				yCoarseLo := (c.Value & 0xE0) >> 2
				xCoarse := (c.Value & 0x1F) << 3
				last.ScrollY = (last.ScrollY & 0xC7) | yCoarseLo
				last.ScrollX = (last.ScrollX & 0x07) | xCoarse
			}
			latch.Flip()
		}
	}

	if last := splits[len(splits)-1]; last.Scanline != frameHeight {
		splits = append(splits, Split{Scanline: frameHeight, ScrollX: last.ScrollX, ScrollY: last.ScrollY})
	}

	return splits
}

// skimRect counts uniformly-colored rows starting at `start` and moving in
// `dir` (+1 or -1), stopping at the first row whose left/right border pixels
// differ or that is not a uniform color. fb is the 256x240 paletted
// framebuffer.
func skimRect(fb []uint8, start int, dir int) int {
	count := 0
	row := start

	for row >= 0 && row < frameHeight {
		off := row * frameWidth
		first := fb[off]
		uniform := true
		for x := 1; x < frameWidth; x++ {
			if fb[off+x] != first {
				uniform = false
				break
			}
		}
		if !uniform {
			break
		}
		count++
		row += dir
	}

	return count
}

// bestEffortSplits derives split boundaries from uniformly-colored letterbox
// rows when the hardware split log gives no usable span (span >= 239,
// meaning no mid-frame splitting was observed).
func bestEffortSplits(fb []uint8, lo, hi Split) (Split, Split) {
	top := skimRect(fb, 0, 1)
	bottom := skimRect(fb, frameHeight-1, -1)

	newLo, newHi := lo, hi
	if top >= 24 && top < 120 {
		newLo.Scanline = uint8(top)
	}
	if bottom >= 24 && bottom < 120 {
		newHi.Scanline = uint8(frameHeight - bottom)
	}
	return newLo, newHi
}

// GetMainSplit returns the (lo, hi) split pair with the greatest scanline
// span. If that span is >= 239 (i.e. no hardware split was observed), it
// falls back to best-effort splits derived from the framebuffer's
// letterboxing.
func GetMainSplit(changes []Change, latch *Latch, fb []uint8) (Split, Split) {
	splits := GetSplits(changes, latch)

	lo, hi := splits[0], splits[len(splits)-1]
	bestSpan := int(hi.Scanline) - int(lo.Scanline)

	for i := 0; i+1 < len(splits); i++ {
		span := int(splits[i+1].Scanline) - int(splits[i].Scanline)
		if span > bestSpan {
			bestSpan = span
			lo, hi = splits[i], splits[i+1]
		}
	}

	if bestSpan >= 239 && fb != nil {
		lo, hi = bestEffortSplits(fb, lo, hi)
	}

	return lo, hi
}

// FindOffset returns the signed, minimum-magnitude delta that moves `old` to
// `new` modulo `limit`, considering both wrap-around directions.
func FindOffset(old, new uint8, limit int16) int16 {
	o, n, l := int16(old), int16(new), limit

	increase := n - o
	if increase < 0 {
		increase += l
	}
	decrease := increase - l

	if abs16(increase) <= abs16(decrease) {
		return increase
	}
	return decrease
}

func abs16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

// SplitRegionFor computes the tile-aligned pixel rectangle of the
// observable playfield: the main split's [lo,hi] scanline span clipped to
// the 8px-inset screen-safe area gives the vertical bounds, and the grid
// offsets (xo,yo) shift the origin by TileSize-xo/yo modulo TileSize, with
// width/height rounded down to a multiple of TileSize. This is what keeps a
// HUD/status-bar strip outside [lo,hi] from being read as playfield tiles.
func SplitRegionFor(lo, hi Split, xo, yo int32, w, h uint32) geom.Rect {
	ly := int32(lo.Scanline)
	if ly < screenSafeInset {
		ly = screenSafeInset
	}
	hy := int32(hi.Scanline)
	if lim := int32(h) - screenSafeInset; hy > lim {
		hy = lim
	}

	dx := mod32(tileSize-mod32(xo, tileSize), tileSize)
	dy := mod32(tileSize-mod32(yo, tileSize), tileSize)

	rh := hy - (ly + dy)
	rh -= rh % tileSize

	rw := (int32(w) - screenSafeInset) - (dx + screenSafeInset)
	rw -= rw % tileSize

	return geom.NewRect(screenSafeInset+dx, ly+dy, uint32(rw), uint32(rh))
}

func mod32(v, m int32) int32 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}
