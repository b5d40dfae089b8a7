package nesppu

// renderScanline composites one visible scanline of background and sprite
// pixels into the frame, bg, bgSprite and fgSprite planes. It is a
// per-scanline bulk simplification of the hardware's per-dot fetch
// pipeline: scroll position is sampled once at the scanline's first dot,
// which is faithful to how games actually split scroll (via mid-frame
// register writes) since within a split region the scroll value is
// constant for the whole span.
func (p *PPU) renderScanline(y int) {
	ntBaseX := uint16((p.v>>10)&1) * 256
	ntBaseY := uint16((p.v>>11)&1) * 240
	coarseX := p.v & 0x001F
	coarseY := (p.v >> 5) & 0x001F
	fineX := uint16(p.x)
	fineY := (p.v >> 12) & 0x0007

	scrollAbsX := ntBaseX + coarseX*8 + fineX
	scrollAbsY := ntBaseY + coarseY*8 + fineY

	bgPatternBase := uint16(0)
	if p.ctrl&0x10 != 0 {
		bgPatternBase = 0x1000
	}

	row := y * width
	for x := 0; x < width; x++ {
		absX := (int(scrollAbsX) + x) % 512
		absY := int(scrollAbsY) % 480

		ntX, px := absX/256, absX%256
		ntY, py := absY/240, absY%240
		ntIndex := uint16(ntY*2 + ntX)

		tileX, tileY := px/8, py/8
		fx, fy := px%8, py%8

		ntAddr := 0x2000 + ntIndex*0x400 + uint16(tileY*32+tileX)
		tileID := p.vram[p.mirrorAddr(ntAddr)]

		attrAddr := 0x2000 + ntIndex*0x400 + 0x3C0 + uint16((tileY/4)*8+(tileX/4))
		attrByte := p.vram[p.mirrorAddr(attrAddr)]
		quadrant := uint((tileY%4)/2*2 + (tileX%4)/2)
		palSel := (attrByte >> (quadrant * 2)) & 0x03

		lo := p.mapper.ChrRead(bgPatternBase + uint16(tileID)*16 + uint16(fy))
		hi := p.mapper.ChrRead(bgPatternBase + uint16(tileID)*16 + uint16(fy) + 8)
		bit := uint(7 - fx)
		colorIdx := ((hi>>bit)&1)<<1 | (lo>>bit)&1

		var paletteColor uint8
		opaque := colorIdx != 0
		if opaque {
			paletteColor = p.paletteRAM[palSel*4+colorIdx]
		} else {
			paletteColor = p.paletteRAM[0]
		}

		p.bg[row+x] = paletteColor
		p.bgOpaque[row+x] = opaque
		p.frame[row+x] = paletteColor
		p.bgSprite[row+x] = emptySentinel
		p.fgSprite[row+x] = emptySentinel
	}

	p.renderSpritesOnScanline(y)
}

func (p *PPU) renderSpritesOnScanline(y int) {
	height := 8
	if p.ctrl&0x20 != 0 {
		height = 16
	}

	spritePatternBase := uint16(0)
	if p.ctrl&0x08 != 0 {
		spritePatternBase = 0x1000
	}

	row := y * width

	for i := 0; i < 64; i++ {
		o := p.oam[i*4 : i*4+4]
		spriteY := int(o[0]) + 1
		r := y - spriteY
		if r < 0 || r >= height {
			continue
		}

		tile := o[1]
		attrs := o[2]
		spriteX := int(o[3])

		table := spritePatternBase
		patternID := uint16(tile)
		rowInTile := r
		if height == 16 {
			table = uint16(tile&1) * 0x1000
			patternID = uint16(tile &^ 1)
			if attrs&0x80 != 0 { // vertical flip across both tiles
				rowInTile = 15 - r
			}
			if rowInTile >= 8 {
				patternID++
				rowInTile -= 8
			}
		} else if attrs&0x80 != 0 {
			rowInTile = 7 - r
		}

		lo := p.mapper.ChrRead(table + patternID*16 + uint16(rowInTile))
		hi := p.mapper.ChrRead(table + patternID*16 + uint16(rowInTile) + 8)

		behind := attrs&0x20 != 0
		palSel := attrs & 0x03

		for col := 0; col < 8; col++ {
			px := spriteX + col
			if px < 0 || px >= width {
				continue
			}

			bit := uint(col)
			if attrs&0x40 == 0 { // not flipped: leftmost column is bit 7
				bit = uint(7 - col)
			}
			colorIdx := ((hi>>bit)&1)<<1 | (lo>>bit)&1
			if colorIdx == 0 {
				continue
			}

			color := p.paletteRAM[0x10+uint16(palSel)*4+uint16(colorIdx)]

			if behind {
				p.bgSprite[row+px] = color
				if !p.bgOpaque[row+px] {
					p.frame[row+px] = color
				}
			} else {
				p.fgSprite[row+px] = color
				p.frame[row+px] = color
			}
		}
	}
}
