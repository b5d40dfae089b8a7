// Package nesbus wires the CPU, PPU, cartridge mapper and controller ports
// into a host.Host: it owns the CPU address space decode (including OAM
// DMA and the controller shift registers) and drives one video frame at a
// time.
package nesbus

import (
	"fmt"

	"github.com/bdwalton/mappy/host"
	"github.com/bdwalton/mappy/mappers"
	"github.com/bdwalton/mappy/mos6502"
	"github.com/bdwalton/mappy/nesppu"
	"github.com/bdwalton/mappy/nesrom"
	"github.com/bdwalton/mappy/scroll"
)

// cpu6502 is the subset of mos6502.CPU this package drives. It exists
// because mos6502.New returns a value of an unexported type; declaring
// the interface structurally lets nesbus hold and call it without naming
// that type.
type cpu6502 interface {
	Tick()
	TriggerNMI()
	Reset()
	ReadRange(low, high uint16) []uint8
	SaveState(out []byte) bool
	LoadState(buf []byte) bool
	SaveSize() int
}

const (
	cpuRAMMirrorEnd = 0x1FFF
	ppuRegMirrorEnd = 0x3FFF
	oamDMA          = 0x4014
	controller1     = 0x4016
	controller2     = 0x4017
)

// Bus is a host.Host backed by a real cartridge ROM, CPU and PPU.
type Bus struct {
	cpu    cpu6502
	ppu    *nesppu.PPU
	mapper mappers.Mapper
	adapter *cpuMapper

	controllerStrobe bool
	controllerShift  [2]uint8
	controllerIdx    [2]uint8
}

// New loads romPath and wires a CPU+PPU+mapper Bus for it.
func New(romPath string) (*Bus, error) {
	rom, err := nesrom.New(romPath)
	if err != nil {
		return nil, fmt.Errorf("nesbus: %w", err)
	}

	m, err := mappers.Get(rom)
	if err != nil {
		return nil, fmt.Errorf("nesbus: %w", err)
	}

	b := &Bus{mapper: m}
	b.adapter = &cpuMapper{bus: b}
	b.cpu = mos6502.New(b.adapter)
	b.ppu = nesppu.New(m, b.cpu)

	return b, nil
}

// cpuMapper satisfies mappers.Mapper so mos6502's internal memory model
// (RAM below 0x0800, mapper for everything else) can route CPU accesses
// above RAM into PPU registers, controller ports and OAM DMA, falling
// through to the real cartridge mapper for PRG space.
type cpuMapper struct {
	bus *Bus
}

func (c *cpuMapper) ID() uint16                      { return c.bus.mapper.ID() }
func (c *cpuMapper) Init(r *nesrom.ROM)               {}
func (c *cpuMapper) Name() string                    { return c.bus.mapper.Name() }
func (c *cpuMapper) ReadBaseRAM(addr uint16) uint8    { return c.bus.mapper.ReadBaseRAM(addr) }
func (c *cpuMapper) WriteBaseRAM(addr uint16, v uint8) { c.bus.mapper.WriteBaseRAM(addr, v) }
func (c *cpuMapper) MirroringMode() uint8             { return c.bus.mapper.MirroringMode() }
func (c *cpuMapper) HasSaveRAM() bool                 { return c.bus.mapper.HasSaveRAM() }
func (c *cpuMapper) ChrRead(addr uint16) uint8        { return c.bus.mapper.ChrRead(addr) }
func (c *cpuMapper) ChrWrite(addr uint16, v uint8)    { c.bus.mapper.ChrWrite(addr, v) }

// PrgRead is called for every CPU address >= 0x0800 (mos6502's internal
// 2KB RAM covers everything below that); it decodes the rest of the NES
// CPU memory map.
func (c *cpuMapper) PrgRead(addr uint16) uint8 {
	switch {
	case addr <= cpuRAMMirrorEnd:
		// System RAM mirrors aren't reachable from outside the CPU's
		// own private RAM; games that rely on this mirror (rare)
		// won't see consistent values.
		return 0
	case addr <= ppuRegMirrorEnd:
		return c.bus.ppu.ReadReg(0x2000 + (addr & 0x0007))
	case addr == controller1, addr == controller2:
		return c.bus.readController(addr - controller1)
	case addr < 0x6000:
		return 0
	default:
		return c.bus.mapper.PrgRead(addr)
	}
}

func (c *cpuMapper) PrgWrite(addr uint16, val uint8) {
	switch {
	case addr <= cpuRAMMirrorEnd:
		return
	case addr <= ppuRegMirrorEnd:
		c.bus.ppu.WriteReg(0x2000+(addr&0x0007), val)
	case addr == oamDMA:
		c.bus.runOAMDMA(val)
	case addr == controller1:
		c.bus.writeControllerStrobe(val)
	case addr == controller2:
		// Read-only from the CPU's perspective on real hardware.
	case addr < 0x6000:
		return
	default:
		c.bus.mapper.PrgWrite(addr, val)
	}
}

// runOAMDMA copies 256 bytes starting at val<<8 from CPU address space
// into PPU OAM, mirroring the real hardware's $4014 DMA.
func (b *Bus) runOAMDMA(val uint8) {
	base := uint16(val) << 8
	data := b.cpu.ReadRange(base, base+256)
	for i, v := range data {
		b.ppu.WriteOAMByte(uint8(i), v)
	}
}

// Controller bit order, matching the shift-register hardware: A, B,
// Select, Start, Up, Down, Left, Right.
func packButtons(bt host.Buttons) uint8 {
	var v uint8
	if bt.A {
		v |= 1 << 0
	}
	if bt.B {
		v |= 1 << 1
	}
	if bt.Select {
		v |= 1 << 2
	}
	if bt.Start {
		v |= 1 << 3
	}
	if bt.Up {
		v |= 1 << 4
	}
	if bt.Down {
		v |= 1 << 5
	}
	if bt.Left {
		v |= 1 << 6
	}
	if bt.Right {
		v |= 1 << 7
	}
	return v
}

func (b *Bus) writeControllerStrobe(val uint8) {
	strobe := val&0x01 != 0
	if strobe {
		b.controllerIdx[0], b.controllerIdx[1] = 0, 0
	}
	b.controllerStrobe = strobe
}

func (b *Bus) readController(port uint16) uint8 {
	if b.controllerStrobe {
		return b.controllerShift[port] & 0x01
	}
	idx := b.controllerIdx[port]
	if idx > 7 {
		return 1
	}
	ret := (b.controllerShift[port] >> idx) & 0x01
	b.controllerIdx[port] = idx + 1
	return ret
}

const (
	dotsPerScanline      = 341
	scanlinesPerFrame    = 262
	dotsPerFrame         = dotsPerScanline * scanlinesPerFrame
)

// Run latches input, then steps the PPU and CPU (at their native 3:1
// dot:cycle ratio) through exactly one full NES frame (262 scanlines of
// 341 PPU dots each).
func (b *Bus) Run(input [2]host.Buttons) {
	b.controllerShift[0] = packButtons(input[0])
	b.controllerShift[1] = packButtons(input[1])

	b.ppu.ResetChangeLog()

	for i := 0; i < dotsPerFrame; i++ {
		b.ppu.Tick()
		if i%3 == 0 {
			b.cpu.Tick()
		}
	}
}

// Framebuffer returns the most recently rendered frame.
func (b *Bus) Framebuffer() []uint8 { return b.ppu.Framebuffer() }

// FramebufferSize is always the NES's fixed 256x240 resolution.
func (b *Bus) FramebufferSize() (int, int) { return 256, 240 }

// SystemRAM returns a copy of CPU address space in [lo,hi), used to read
// the OAM shadow page.
func (b *Bus) SystemRAM(lo, hi uint16) []uint8 { return b.cpu.ReadRange(lo, hi) }

// PPUReg returns the current value of PPU register addr without the
// read-triggered side effects a CPU access would cause, by reading the
// backing OAM/register state directly where possible.
func (b *Bus) PPUReg(addr uint16) uint8 {
	return b.ppu.PeekReg(0x2000 + (addr & 0x0007))
}

// ScrollChangeLog returns the scroll-register writes observed during the
// most recent Run.
func (b *Bus) ScrollChangeLog() []scroll.Change { return b.ppu.ChangeLog() }

// LayerView returns the requested 256x240 paletted layer plane.
func (b *Bus) LayerView(kind host.LayerKind) []uint8 {
	switch kind {
	case host.LayerBG:
		return b.ppu.BGLayer()
	case host.LayerFGSprite:
		return b.ppu.FGSpriteLayer()
	default:
		return b.ppu.BGSpriteLayer()
	}
}

// SaveSize returns the number of bytes SaveState requires.
func (b *Bus) SaveSize() int { return b.cpu.SaveSize() + b.ppu.SaveSize() }

// SaveState snapshots CPU and PPU state into out.
func (b *Bus) SaveState(out []byte) bool {
	if len(out) < b.SaveSize() {
		return false
	}
	n := b.cpu.SaveSize()
	if !b.cpu.SaveState(out[:n]) {
		return false
	}
	return b.ppu.SaveState(out[n:])
}

// LoadState restores a snapshot previously produced by SaveState.
func (b *Bus) LoadState(buf []byte) bool {
	if len(buf) < b.SaveSize() {
		return false
	}
	n := b.cpu.SaveSize()
	if !b.cpu.LoadState(buf[:n]) {
		return false
	}
	return b.ppu.LoadState(buf[n:])
}
