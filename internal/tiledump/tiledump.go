// Package tiledump optionally renders newly-interned tile graphics to a
// WebP atlas image on disk, purely as a debugging aid: nothing in the
// analysis pipeline depends on its output.
package tiledump

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bdwalton/mappy/tiledb"
	"github.com/gen2brain/webp"
)

const (
	tileSize   = 8
	cols       = 16
	grayLevels = 4
)

// New returns a tiledb.DB new-tile hook that writes an atlas of the
// newly-interned tile graphics under dir, named by the frame's tile
// count. Intended for use with mappy.WithTileDumpFunc.
func New(dir string, log *slog.Logger) func(db *tiledb.DB, newIDs []tiledb.TileGfxID) {
	return func(db *tiledb.DB, newIDs []tiledb.TileGfxID) {
		if len(newIDs) == 0 {
			return
		}

		rows := (len(newIDs) + cols - 1) / cols
		img := image.NewGray(image.Rect(0, 0, cols*tileSize, rows*tileSize))

		for i, id := range newIDs {
			tg, ok := db.Tile(id)
			if !ok {
				continue
			}
			ox := (i % cols) * tileSize
			oy := (i / cols) * tileSize
			for y := 0; y < tileSize; y++ {
				for x := 0; x < tileSize; x++ {
					v := tg[y*tileSize+x] % grayLevels
					img.SetGray(ox+x, oy+y, color.Gray{Y: v * (255 / (grayLevels - 1))})
				}
			}
		}

		name := filepath.Join(dir, fmt.Sprintf("tiles-%d.webp", db.GfxCount()))
		f, err := os.Create(name)
		if err != nil {
			log.Warn("tiledump: couldn't create atlas file", "path", name, "err", err)
			return
		}
		defer f.Close()

		if err := webp.Encode(f, img, nil); err != nil {
			log.Warn("tiledump: webp encode failed", "path", name, "err", err)
		}
	}
}
