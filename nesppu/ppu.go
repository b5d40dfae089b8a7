// Package nesppu adapts the 2C02 picture processing unit into the
// host.Host contract: it renders a 256x240 paletted framebuffer plus the
// masked sprite-priority layer planes the sprite pipeline needs, and it
// logs every PPUSCROLL/PPUADDR write (and PPUSTATUS read) as a
// scroll.Change for the scroll-reconstruction algorithm to replay.
package nesppu

import (
	"github.com/bdwalton/mappy/nesrom"
	"github.com/bdwalton/mappy/scroll"
)

const (
	width, height = 256, 240

	// emptySentinel must match sprite.emptySentinel: a palette value
	// that can never be a real NES color, used to mark "no pixel here"
	// in the masked layer planes.
	emptySentinel = 191
)

// Mapper is the subset of mappers.Mapper the PPU needs: CHR access and the
// cartridge's nametable mirroring mode.
type Mapper interface {
	ChrRead(uint16) uint8
	ChrWrite(uint16, uint8)
	MirroringMode() uint8
}

// CPU is the subset of the CPU the PPU needs to raise interrupts.
type CPU interface {
	TriggerNMI()
}

// PPU renders one scanline at a time and exposes the planes and register
// log the analysis pipeline depends on.
type PPU struct {
	mapper Mapper
	cpu    CPU

	vram       [2048]uint8
	paletteRAM [32]uint8
	oam        [256]uint8

	ctrl, mask, status, oamAddr uint8

	v, t uint16
	x    uint8
	w    bool

	bufferedData uint8

	scanline int
	dot      int

	frame      []uint8
	bg         []uint8
	bgSprite   []uint8
	fgSprite   []uint8
	bgOpaque   []bool

	changes []scroll.Change

	suppressVBlank bool
}

// New returns a PPU driving CHR/nametable access through m and raising
// NMIs on cpu.
func New(m Mapper, cpu CPU) *PPU {
	p := &PPU{
		mapper:   m,
		cpu:      cpu,
		scanline: -1,
		frame:    make([]uint8, width*height),
		bg:       make([]uint8, width*height),
		bgSprite: make([]uint8, width*height),
		fgSprite: make([]uint8, width*height),
		bgOpaque: make([]bool, width*height),
	}
	return p
}

// Framebuffer returns the composited background+sprite frame.
func (p *PPU) Framebuffer() []uint8 { return p.frame }

// BGLayer returns the raw background-only plane.
func (p *PPU) BGLayer() []uint8 { return p.bg }

// BGSpriteLayer returns the behind-background sprite plane, masked to
// pixels where the background was transparent.
func (p *PPU) BGSpriteLayer() []uint8 { return p.bgSprite }

// FGSpriteLayer returns the in-front-of-background sprite plane.
func (p *PPU) FGSpriteLayer() []uint8 { return p.fgSprite }

// OAM returns the 256-byte sprite attribute memory.
func (p *PPU) OAM() []uint8 { return p.oam[:] }

// ChangeLog returns the scroll-register writes and status reads observed
// since the last call to ResetChangeLog.
func (p *PPU) ChangeLog() []scroll.Change { return p.changes }

// ResetChangeLog clears the change log, called once per frame by the bus
// before stepping.
func (p *PPU) ResetChangeLog() { p.changes = p.changes[:0] }

func (p *PPU) logChange(reason scroll.ChangeReason, val uint8) {
	sl := p.scanline
	if sl < 0 {
		sl = 0
	}
	if sl > 255 {
		sl = 255
	}
	p.changes = append(p.changes, scroll.Change{Reason: reason, Scanline: uint8(sl), Value: val})
}

// Register addresses, mirrored every 8 bytes between 0x2000 and 0x3FFF.
const (
	PPUCTRL   = 0x2000
	PPUMASK   = 0x2001
	PPUSTATUS = 0x2002
	OAMADDR   = 0x2003
	OAMDATA   = 0x2004
	PPUSCROLL = 0x2005
	PPUADDR   = 0x2006
	PPUDATA   = 0x2007
)

// ReadReg returns the current value of PPU register r (already reduced to
// 0x2000-0x2007 by the caller).
func (p *PPU) ReadReg(r uint16) uint8 {
	switch r {
	case PPUSTATUS:
		v := p.status
		p.status &^= 0x80
		p.w = false
		p.logChange(scroll.Read2002, v)
		return v
	case OAMDATA:
		return p.oam[p.oamAddr]
	case PPUDATA:
		val := p.readData()
		return val
	}
	return 0
}

// WriteReg writes val to PPU register r.
func (p *PPU) WriteReg(r uint16, val uint8) {
	switch r {
	case PPUCTRL:
		p.ctrl = val
		p.t = (p.t & 0xF3FF) | (uint16(val&0x03) << 10)
	case PPUMASK:
		p.mask = val
	case OAMADDR:
		p.oamAddr = val
	case OAMDATA:
		p.oam[p.oamAddr] = val
		p.oamAddr++
	case PPUSCROLL:
		if !p.w {
			p.t = (p.t & 0xFFE0) | uint16(val>>3)
			p.x = val & 0x07
		} else {
			p.t = (p.t & 0x8FFF) | (uint16(val&0x07) << 12)
			p.t = (p.t & 0xFC1F) | (uint16(val&0xF8) << 2)
		}
		p.logChange(scroll.Write2005, val)
		p.w = !p.w
	case PPUADDR:
		if !p.w {
			p.t = (p.t & 0x00FF) | (uint16(val&0x3F) << 8)
		} else {
			p.t = (p.t & 0xFF00) | uint16(val)
			p.v = p.t
		}
		p.logChange(scroll.Write2006, val)
		p.w = !p.w
	case PPUDATA:
		p.writeData(val)
	}
}

// WriteOAMByte is used by OAM DMA to load one byte without touching
// OAMADDR's auto-increment semantics (DMA always starts at OAMADDR and
// wraps through all 256 bytes).
func (p *PPU) WriteOAMByte(off uint8, val uint8) {
	p.oam[p.oamAddr+off] = val
}

func (p *PPU) vramAddrIncrement() uint16 {
	if p.ctrl&0x04 != 0 {
		return 32
	}
	return 1
}

func (p *PPU) readData() uint8 {
	addr := p.v & 0x3FFF
	var val uint8
	switch {
	case addr < 0x2000:
		val = p.bufferedData
		p.bufferedData = p.mapper.ChrRead(addr)
	case addr < 0x3F00:
		val = p.bufferedData
		p.bufferedData = p.vram[p.mirrorAddr(addr)]
	default:
		val = p.paletteRAM[p.paletteAddr(addr)]
		p.bufferedData = p.vram[p.mirrorAddr(addr-0x1000)]
	}
	p.v += p.vramAddrIncrement()
	return val
}

func (p *PPU) writeData(val uint8) {
	addr := p.v & 0x3FFF
	switch {
	case addr < 0x2000:
		p.mapper.ChrWrite(addr, val)
	case addr < 0x3F00:
		p.vram[p.mirrorAddr(addr)] = val
	default:
		p.paletteRAM[p.paletteAddr(addr)] = val
	}
	p.v += p.vramAddrIncrement()
}

func (p *PPU) paletteAddr(addr uint16) uint16 {
	a := (addr - 0x3F00) % 32
	if a >= 16 && a%4 == 0 {
		a -= 16
	}
	return a
}

func (p *PPU) mirrorAddr(addr uint16) uint16 {
	a := (addr - 0x2000) % 0x1000
	table := a / 0x400
	offset := a % 0x400

	switch p.mapper.MirroringMode() {
	case nesrom.MIRROR_VERTICAL:
		return (table%2)*0x400 + offset
	case nesrom.MIRROR_HORIZONTAL:
		return (table/2)*0x400 + offset
	default: // four-screen: no VRAM mirroring support, fold onto 2K
		return a % 0x800
	}
}

// Tick advances the PPU by one PPU clock (one "dot"). Background and
// sprite compositing for a visible scanline happens in bulk at its first
// dot, a simplification of the hardware's per-dot fetch pipeline that
// still yields per-scanline-accurate scroll values for the splits the
// pipeline reconstructs from register writes.
func (p *PPU) Tick() {
	if p.scanline >= 0 && p.scanline < height && p.dot == 1 {
		p.renderScanline(p.scanline)
	}
	if p.scanline == -1 && p.dot == 1 {
		p.status &^= 0xE0
	}
	if p.scanline == 241 && p.dot == 1 {
		if !p.suppressVBlank {
			p.status |= 0x80
			if p.ctrl&0x80 != 0 {
				p.cpu.TriggerNMI()
			}
		}
	}

	p.dot++
	if p.dot > 340 {
		p.dot = 0
		p.scanline++
		if p.scanline > 260 {
			p.scanline = -1
		}
	}
}

// PeekReg returns a register's current value without the read-triggered
// side effects (vblank-clear, write-latch reset, buffered-data advance) a
// CPU access through ReadReg would cause.
func (p *PPU) PeekReg(r uint16) uint8 {
	switch r {
	case PPUCTRL:
		return p.ctrl
	case PPUMASK:
		return p.mask
	case PPUSTATUS:
		return p.status
	case OAMADDR:
		return p.oamAddr
	case OAMDATA:
		return p.oam[p.oamAddr]
	default:
		return p.bufferedData
	}
}
