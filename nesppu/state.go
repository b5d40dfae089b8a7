package nesppu

// SaveSize returns the number of bytes SaveState requires.
func (p *PPU) SaveSize() int {
	return len(p.vram) + len(p.paletteRAM) + len(p.oam) + 8 + 7
}

// SaveState serializes register and memory state (but not the rendered
// planes, which the next Run call overwrites anyway) into out.
func (p *PPU) SaveState(out []byte) bool {
	if len(out) < p.SaveSize() {
		return false
	}

	i := 0
	i += copy(out[i:], p.vram[:])
	i += copy(out[i:], p.paletteRAM[:])
	i += copy(out[i:], p.oam[:])

	out[i] = p.ctrl
	out[i+1] = p.mask
	out[i+2] = p.status
	out[i+3] = p.oamAddr
	out[i+4] = uint8(p.v)
	out[i+5] = uint8(p.v >> 8)
	out[i+6] = uint8(p.t)
	out[i+7] = uint8(p.t >> 8)
	i += 8

	out[i] = p.x
	if p.w {
		out[i+1] = 1
	}
	out[i+2] = p.bufferedData
	out[i+3] = uint8(int16(p.scanline))
	out[i+4] = uint8(int16(p.scanline) >> 8)
	out[i+5] = uint8(p.dot)
	out[i+6] = uint8(p.dot >> 8)
	i += 7

	return true
}

// LoadState restores state previously produced by SaveState.
func (p *PPU) LoadState(buf []byte) bool {
	if len(buf) < p.SaveSize() {
		return false
	}

	i := 0
	i += copy(p.vram[:], buf[i:])
	i += copy(p.paletteRAM[:], buf[i:])
	i += copy(p.oam[:], buf[i:])

	p.ctrl = buf[i]
	p.mask = buf[i+1]
	p.status = buf[i+2]
	p.oamAddr = buf[i+3]
	p.v = uint16(buf[i+4]) | uint16(buf[i+5])<<8
	p.t = uint16(buf[i+6]) | uint16(buf[i+7])<<8
	i += 8

	p.x = buf[i]
	p.w = buf[i+1] != 0
	p.bufferedData = buf[i+2]
	p.scanline = int(int16(uint16(buf[i+3]) | uint16(buf[i+4])<<8))
	p.dot = int(uint16(buf[i+5]) | uint16(buf[i+6])<<8)

	return true
}
