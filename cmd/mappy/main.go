// Command mappy runs a headless NES emulator and builds a persistent map
// of the rooms, metarooms and sprite tracks it observes, while also
// presenting a window onto the emulated screen for the operator driving
// it.
package main

import (
	"flag"
	"image"
	"image/color"
	"log/slog"
	"os"

	"github.com/hajimehoshi/ebiten/v2"

	"github.com/bdwalton/mappy/host"
	"github.com/bdwalton/mappy/internal/tiledump"
	"github.com/bdwalton/mappy/mappy"
	"github.com/bdwalton/mappy/nesbus"
	"github.com/bdwalton/mappy/nesppu"
)

var (
	romFile      = flag.String("nes_rom", "", "Path to NES ROM to run.")
	dumpTilesDir = flag.String("dump_tiles_dir", "", "If set, write a WebP atlas of newly-interned tiles to this directory as they're discovered.")
	mergeWorkers = flag.Int("merge_workers", 0, "Number of worker goroutines used to score candidate room/metaroom merges (0 means runtime.GOMAXPROCS(0)).")
)

// keys maps host.Buttons fields to the keyboard, matching the bit order
// the console's shift-register controller hardware uses: A, B, Select,
// Start, Up, Down, Left, Right.
var keys = []struct {
	key ebiten.Key
	set func(*host.Buttons)
}{
	{ebiten.KeyA, func(b *host.Buttons) { b.A = true }},
	{ebiten.KeyB, func(b *host.Buttons) { b.B = true }},
	{ebiten.KeySpace, func(b *host.Buttons) { b.Select = true }},
	{ebiten.KeyEnter, func(b *host.Buttons) { b.Start = true }},
	{ebiten.KeyUp, func(b *host.Buttons) { b.Up = true }},
	{ebiten.KeyDown, func(b *host.Buttons) { b.Down = true }},
	{ebiten.KeyLeft, func(b *host.Buttons) { b.Left = true }},
	{ebiten.KeyRight, func(b *host.Buttons) { b.Right = true }},
}

func pollInput() [2]host.Buttons {
	var in [2]host.Buttons
	for _, k := range keys {
		if ebiten.IsKeyPressed(k.key) {
			k.set(&in[0])
		}
	}
	return in
}

// game adapts a mappy.State driving an nesbus.Bus into an ebiten.Game,
// advancing the analysis pipeline one frame per Update and presenting the
// emulator's framebuffer, palette-resolved, in Draw.
type game struct {
	bus   *nesbus.Bus
	state *mappy.State
	log   *slog.Logger
	img   *image.RGBA
}

func (g *game) Update() error {
	input := pollInput()
	if err := g.state.Advance(input); err != nil {
		return err
	}
	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	w, _ := g.bus.FramebufferSize()
	fb := g.bus.Framebuffer()
	for i, idx := range fb {
		c := nesppu.Palette[idx&0x3F]
		g.img.Set(i%w, i/w, color.RGBA{c[0], c[1], c[2], 0xff})
	}
	screen.WritePixels(g.img.Pix)
}

func (g *game) Layout(outsideWidth, outsideHeight int) (int, int) {
	w, h := g.bus.FramebufferSize()
	return w, h
}

func main() {
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *romFile == "" {
		log.Error("nes_rom is required")
		os.Exit(1)
	}

	bus, err := nesbus.New(*romFile)
	if err != nil {
		log.Error("couldn't load ROM", "err", err)
		os.Exit(1)
	}

	opts := []mappy.Option{
		mappy.WithLogger(log),
		mappy.WithMergeWorkers(*mergeWorkers),
	}
	if *dumpTilesDir != "" {
		if err := os.MkdirAll(*dumpTilesDir, 0o755); err != nil {
			log.Error("couldn't create dump_tiles_dir", "err", err)
			os.Exit(1)
		}
		opts = append(opts, mappy.WithTileDumpFunc(tiledump.New(*dumpTilesDir, log)))
	}

	state, err := mappy.New(bus, opts...)
	if err != nil {
		log.Error("couldn't initialize mappy state", "err", err)
		os.Exit(1)
	}

	w, h := bus.FramebufferSize()
	g := &game{
		bus:   bus,
		state: state,
		log:   log,
		img:   image.NewRGBA(image.Rect(0, 0, w, h)),
	}

	ebiten.SetWindowTitle("mappy")
	ebiten.SetWindowSize(w*3, h*3)
	if err := ebiten.RunGame(g); err != nil {
		log.Error("ebiten exited", "err", err)
	}

	state.Finish()
}
