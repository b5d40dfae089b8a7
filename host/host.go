// Package host defines the narrow contract the analysis pipeline depends on
// to drive and observe an emulator. The emulator is otherwise a black box:
// the pipeline never reaches past this interface into emulator internals.
package host

import "github.com/bdwalton/mappy/scroll"

// Buttons is one controller's button state for a single frame.
type Buttons struct {
	Up, Down, Left, Right bool
	Select, Start         bool
	B, A                  bool
}

// LayerKind selects which paletted layer plane LayerView returns.
type LayerKind int

const (
	LayerBGSprite LayerKind = iota // background pixels masked by sprite priority ("bg_sp")
	LayerBG                        // raw background layer
	LayerFGSprite                  // foreground pixels masked by sprite priority ("fg_sp")
)

// Host is the emulator contract: the core depends on exactly this surface,
// once per frame.
type Host interface {
	// Run steps the emulator by one frame, applying the given input for
	// up to two controllers.
	Run(input [2]Buttons)

	// Framebuffer returns the paletted (3-3-2 RGB quantised) output of
	// the most recently run frame. Valid only until the next Run.
	Framebuffer() []uint8

	// FramebufferSize returns the expected framebuffer dimensions,
	// (256, 240) for this module.
	FramebufferSize() (w, h int)

	// SystemRAM returns the emulator's RAM in [lo,hi). Used to read OAM
	// at offset 0x0200, 64*4 bytes.
	SystemRAM(lo, hi uint16) []uint8

	// PPUReg returns the current value of a PPU register (e.g. 0x2000
	// for PPUCTRL).
	PPUReg(addr uint16) uint8

	// ScrollChangeLog returns the ordered list of scroll-register writes
	// that occurred during the most recent Run.
	ScrollChangeLog() []scroll.Change

	// LayerView returns a 256x240 paletted plane for the requested
	// layer. Valid only until the next Run.
	LayerView(kind LayerKind) []uint8

	// SaveState writes a full emulator snapshot into out, which must be
	// at least SaveSize() bytes. Returns false on failure (transient).
	SaveState(out []byte) bool

	// LoadState restores a snapshot previously produced by SaveState.
	// Returns false on failure (transient).
	LoadState(buf []byte) bool

	// SaveSize returns the number of bytes SaveState requires.
	SaveSize() int
}
