// Package ppu implements the DMG picture processing unit: VRAM/OAM storage
// with CPU lockout, the LCDC/STAT/scroll/palette register file, the
// mode-2/3/0/1 dot-scheduling state machine, and a per-line compositor that
// writes shade indices (0-3, after BGP/OBP0/OBP1 mapping) into a persistent
// framebuffer.
package ppu

import "github.com/coregb/gbcore/internal/irq"

// InterruptRequester lets the PPU raise VBlank and STAT interrupts without
// depending on the bus directly; *irq.Controller satisfies it.
type InterruptRequester interface {
	Request(k irq.Kind)
}

// LineRegs is a snapshot of per-line derived state, captured once mode 3 is
// entered for that line, for callers (tests, renderers) that need the exact
// window-line counter a given LY rendered with.
type LineRegs struct {
	WinLine byte
}

// PPU models VRAM/OAM, LCDC/STAT regs, LY/LYC, mode timing, and a persistent
// framebuffer of post-composite shade indices.
type PPU struct {
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	lcdc byte
	stat byte
	scy  byte
	scx  byte
	ly   byte
	lyc  byte
	bgp  byte
	obp0 byte
	obp1 byte
	wy   byte
	wx   byte

	dot int

	statLine bool // previous-tick level of the combined STAT interrupt line, for edge detection

	winLine   byte // internal window line counter, increments only on lines the window draws
	winActive bool
	lineRegs  [144]LineRegs
	captured  [144]bool

	fb [144][160]byte // shade indices 0-3, one full frame

	req InterruptRequester
}

// New returns a PPU that raises VBlank/STAT interrupts through req (nil is
// accepted for tests that don't care about interrupt delivery).
func New(req InterruptRequester) *PPU { return &PPU{req: req} }

func (p *PPU) request(k irq.Kind) {
	if p.req != nil {
		p.req.Request(k)
	}
}

// CPURead implements the as-cpu (lockout-enforcing) read path.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return 0xFF
		}
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.stat & 0x03; m == 2 || m == 3 {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	case addr == 0xFF40:
		return p.lcdc
	case addr == 0xFF41:
		return 0x80 | (p.stat & 0x7F)
	case addr == 0xFF42:
		return p.scy
	case addr == 0xFF43:
		return p.scx
	case addr == 0xFF44:
		return p.ly
	case addr == 0xFF45:
		return p.lyc
	case addr == 0xFF47:
		return p.bgp
	case addr == 0xFF48:
		return p.obp0
	case addr == 0xFF49:
		return p.obp1
	case addr == 0xFF4A:
		return p.wy
	case addr == 0xFF4B:
		return p.wx
	default:
		return 0xFF
	}
}

// RawRead serves the PPU's own renderer (scanline/fetcher/sprite code): it
// bypasses the mode lockout CPURead enforces, matching the raw-access path
// real VRAM/OAM hardware gives the pixel pipeline.
func (p *PPU) RawRead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		return p.vram[addr-0x8000]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		return p.oam[addr-0xFE00]
	default:
		return 0xFF
	}
}

// Read implements VRAMReader for the scanline/fetcher helpers.
func (p *PPU) Read(addr uint16) byte { return p.RawRead(addr) }

// CPUWrite implements the as-cpu (lockout-enforcing) write path.
func (p *PPU) CPUWrite(addr uint16, value byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.stat&0x03 == 3 {
			return
		}
		p.vram[addr-0x8000] = value
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.stat & 0x03; m == 2 || m == 3 {
			return
		}
		p.oam[addr-0xFE00] = value
	case addr == 0xFF40:
		prev := p.lcdc
		p.lcdc = value
		if prev&0x80 != 0 && value&0x80 == 0 {
			p.ly, p.dot = 0, 0
			p.winLine, p.winActive = 0, false
			p.captured = [144]bool{}
			p.fb = [144][160]byte{}
			p.setMode(0)
			p.updateLYC()
		} else if prev&0x80 == 0 && value&0x80 != 0 {
			p.ly, p.dot = 0, 0
			p.winLine, p.winActive = 0, false
			p.setMode(2)
			p.updateLYC()
		}
	case addr == 0xFF41:
		p.stat = (p.stat & 0x07) | (value & 0x78)
	case addr == 0xFF42:
		p.scy = value
	case addr == 0xFF43:
		p.scx = value
	case addr == 0xFF44:
		p.ly, p.dot = 0, 0
		p.updateLYC()
		if p.lcdc&0x80 != 0 {
			p.setMode(2)
		}
	case addr == 0xFF45:
		p.lyc = value
		p.updateLYC()
	case addr == 0xFF47:
		p.bgp = value
	case addr == 0xFF48:
		p.obp0 = value
	case addr == 0xFF49:
		p.obp1 = value
	case addr == 0xFF4A:
		p.wy = value
	case addr == 0xFF4B:
		p.wx = value
	}
}

// WriteOAMByte is the DMA destination path: it writes OAM unconditionally,
// bypassing the mode-2/3 lockout CPUWrite enforces, matching how OAM DMA
// reaches OAM directly regardless of current PPU mode.
func (p *PPU) WriteOAMByte(offset byte, value byte) { p.oam[offset] = value }

const mode3Dots = 172 // fixed length; real hardware varies with sprite count per line

// Tick advances PPU state by cycles T-cycles (dots), scheduling modes,
// firing VBlank/rising-edge STAT interrupts, and compositing each scanline
// once mode 3 for that line begins.
func (p *PPU) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		p.tickOne()
	}
}

func (p *PPU) tickOne() {
	if p.lcdc&0x80 == 0 {
		p.evalSTATLine()
		return
	}
	p.dot++

	var mode byte
	switch {
	case p.ly >= 144:
		mode = 1
	case p.dot < 80:
		mode = 2
	case p.dot < 80+mode3Dots:
		mode = 3
	default:
		mode = 0
	}
	if mode != p.stat&0x03 {
		p.setMode(mode)
		if mode == 3 && !p.captured[p.ly] {
			p.renderLine()
		}
	}

	if p.dot >= 456 {
		p.dot = 0
		p.ly++
		if p.ly == 144 {
			p.request(irq.VBlank)
		} else if p.ly > 153 {
			p.ly = 0
			p.winLine, p.winActive = 0, false
			p.captured = [144]bool{} // new frame: every line renders again
		}
		p.updateLYC()
		if p.ly >= 144 {
			p.setMode(1)
		} else {
			p.setMode(2)
		}
	}
	p.evalSTATLine()
}

func (p *PPU) setMode(mode byte) {
	p.stat = (p.stat &^ 0x03) | (mode & 0x03)
}

// evalSTATLine recomputes the combined STAT interrupt line (OR of every
// enabled source whose condition currently holds) and requests an interrupt
// only on a 0->1 transition, per hardware's STAT-blocking/glitch behavior.
func (p *PPU) evalSTATLine() {
	mode := p.stat & 0x03
	level := (mode == 0 && p.stat&(1<<3) != 0) ||
		(mode == 2 && p.stat&(1<<5) != 0) ||
		(mode == 1 && p.stat&(1<<4) != 0) ||
		(p.stat&(1<<2) != 0 && p.stat&(1<<6) != 0)
	if level && !p.statLine {
		p.request(irq.LCDStat)
	}
	p.statLine = level
}

func (p *PPU) updateLYC() {
	if p.ly == p.lyc {
		p.stat |= 1 << 2
	} else {
		p.stat &^= 1 << 2
	}
}

// renderLine composites BG, window, and sprites for the current LY into the
// framebuffer, and records the LineRegs snapshot (window-line counter) for
// LineRegs.
func (p *PPU) renderLine() {
	ly := p.ly
	p.captured[ly] = true

	var bg [160]byte
	if p.lcdc&0x01 != 0 {
		mapBase := uint16(0x9800)
		if p.lcdc&0x08 != 0 {
			mapBase = 0x9C00
		}
		bg = RenderBGScanlineUsingFetcher(p, mapBase, p.lcdc&0x10 != 0, p.scx, p.scy, ly)
	}

	windowVisible := p.lcdc&0x01 != 0 && p.lcdc&0x20 != 0 && p.wy <= ly && p.wx < 167
	winLineUsed := p.winLine
	if windowVisible {
		mapBase := uint16(0x9800)
		if p.lcdc&0x40 != 0 {
			mapBase = 0x9C00
		}
		wxStart := int(p.wx) - 7
		win := RenderWindowScanlineUsingFetcher(p, mapBase, p.lcdc&0x10 != 0, wxStart, p.winLine)
		start := wxStart
		if start < 0 {
			start = 0
		}
		for x := start; x < 160; x++ {
			bg[x] = win[x]
		}
		p.winLine++
		p.winActive = true
	}
	p.lineRegs[ly] = LineRegs{WinLine: winLineUsed}

	var spriteLine [160]byte
	if p.lcdc&0x02 != 0 {
		sprites := p.scanOAM(ly)
		spriteLine = ComposeSpriteLine(p, sprites, ly, bg, false)
	}

	for x := 0; x < 160; x++ {
		bgShade := byte(0)
		if p.lcdc&0x01 != 0 {
			ci := bg[x]
			bgShade = (p.bgp >> (ci * 2)) & 0x03
		}
		if p.lcdc&0x02 != 0 && spriteLine[x] != 0 {
			p.fb[ly][x] = spriteLine[x]
		} else {
			p.fb[ly][x] = bgShade
		}
	}
}

// LineRegs returns the per-line register snapshot captured when line ly was
// most recently rendered (the zero value if that line has not been rendered
// since the PPU was created).
func (p *PPU) LineRegs(ly int) LineRegs {
	if ly < 0 || ly >= 144 {
		return LineRegs{}
	}
	return p.lineRegs[ly]
}

// Framebuffer returns the current frame's shade indices (0-3), valid to read
// once VBlank for that frame has been observed.
func (p *PPU) Framebuffer() *[144][160]byte { return &p.fb }

func (p *PPU) BGP() byte  { return p.bgp }
func (p *PPU) OBP0() byte { return p.obp0 }
func (p *PPU) OBP1() byte { return p.obp1 }
func (p *PPU) LCDC() byte { return p.lcdc }
func (p *PPU) STAT() byte { return p.stat }
func (p *PPU) SCY() byte  { return p.scy }
func (p *PPU) SCX() byte  { return p.scx }
func (p *PPU) LY() byte   { return p.ly }
func (p *PPU) WY() byte   { return p.wy }
func (p *PPU) WX() byte   { return p.wx }
