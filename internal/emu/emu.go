// Package emu wires cartridge, bus, CPU, and scheduler into a single
// steppable machine and exposes the pieces a host (headless runner or
// windowed viewer) needs: a framebuffer, joypad input, serial output, and
// battery RAM persistence.
package emu

import (
	"errors"
	"log"
	"os"

	"github.com/coregb/gbcore/internal/bus"
	"github.com/coregb/gbcore/internal/cart"
	"github.com/coregb/gbcore/internal/clock"
	"github.com/coregb/gbcore/internal/cpu"
)

// Buttons is the host-facing joypad state, translated to Bus joypad bitmasks
// by SetButtons.
type Buttons struct {
	A, B, Start, Select   bool
	Up, Down, Left, Right bool
}

// dmgShades maps the PPU's 0-3 shade indices to classic DMG greenish-gray
// RGBA, lightest to darkest.
var dmgShades = [4][4]byte{
	{0xE0, 0xF8, 0xD0, 0xFF},
	{0x88, 0xC0, 0x70, 0xFF},
	{0x34, 0x68, 0x56, 0xFF},
	{0x08, 0x18, 0x20, 0xFF},
}

// Machine owns one cartridge/bus/CPU instance and the scheduler driving it.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU
	clk *clock.Scheduler

	fb []byte // RGBA 160x144*4, repainted once per StepFrame

	bootROM []byte
	romPath string
}

// New returns a Machine with no cartridge loaded; call LoadCartridge or
// LoadROMFromFile before stepping it.
func New(cfg Config) *Machine {
	return &Machine{cfg: cfg, fb: make([]byte, 160*144*4)}
}

// SetBootROM stages a DMG boot ROM image to be mapped over the next
// LoadCartridge/LoadROMFromFile call.
func (m *Machine) SetBootROM(data []byte) { m.bootROM = data }

// LoadCartridge builds a fresh Bus/CPU/Scheduler around rom, replacing any
// previously loaded cartridge. boot, if non-nil, overrides SetBootROM's value
// for this load only.
func (m *Machine) LoadCartridge(rom []byte, boot []byte) error {
	if len(rom) == 0 {
		return errors.New("emu: empty ROM")
	}
	if boot == nil {
		boot = m.bootROM
	}

	b := bus.New(rom)
	c := cpu.New(b)
	if len(boot) >= 0x100 {
		b.SetBootROM(boot)
		c.SetPC(0x0000)
	} else {
		c.ResetNoBoot()
		c.SetPC(0x0100) // cartridge entry point, where the boot ROM hands off
		initPostBootIO(b)
	}
	m.bus, m.cpu = b, c
	m.clk = clock.New(c, b)
	return nil
}

// LoadROMFromFile reads path and loads it as the current cartridge,
// recording path so battery-RAM save files can be derived from it.
func (m *Machine) LoadROMFromFile(path string) error {
	rom, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := m.LoadCartridge(rom, nil); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the path most recently passed to LoadROMFromFile, or "".
func (m *Machine) ROMPath() string { return m.romPath }

// initPostBootIO seeds the IO registers the way the real DMG boot ROM leaves
// them, for the no-boot-ROM fast path.
func initPostBootIO(b *bus.Bus) {
	b.Write(0xFF00, 0xCF)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF06, 0x00)
	b.Write(0xFF07, 0x00)
	b.Write(0xFF40, 0x91)
	b.Write(0xFF42, 0x00)
	b.Write(0xFF43, 0x00)
	b.Write(0xFF45, 0x00)
	b.Write(0xFF47, 0xFC)
	b.Write(0xFF48, 0xFF)
	b.Write(0xFF49, 0xFF)
	b.Write(0xFF4A, 0x00)
	b.Write(0xFF4B, 0x00)
	b.Write(0xFFFF, 0x00)
}

// StepFrame advances the machine by one full frame and repaints the
// framebuffer from the PPU's shade-index output.
func (m *Machine) StepFrame() {
	m.StepFrameNoRender()
	m.render()
}

// StepFrameNoRender advances the machine by one full frame without paying
// for the shade-index-to-RGBA conversion, for headless/test-ROM runners that
// only care about serial output or CPU state.
func (m *Machine) StepFrameNoRender() {
	if m.clk == nil {
		return
	}
	if m.cfg.Trace {
		log.Printf("frame start PC=%04X SP=%04X IME=%t", m.cpu.PC, m.cpu.SP, m.cpu.IME)
	}
	m.clk.RunFrame()
}

func (m *Machine) render() {
	if m.bus == nil {
		return
	}
	fb := m.bus.PPU().Framebuffer()
	for y := 0; y < 144; y++ {
		for x := 0; x < 160; x++ {
			shade := fb[y][x] & 0x03
			copy(m.fb[(y*160+x)*4:], dmgShades[shade][:])
		}
	}
}

// Framebuffer returns the current frame's RGBA pixels (160x144*4), valid
// after at least one StepFrame call.
func (m *Machine) Framebuffer() []byte { return m.fb }

// SetButtons translates host button state into Bus joypad bits.
func (m *Machine) SetButtons(btn Buttons) {
	if m.bus == nil {
		return
	}
	var mask byte
	if btn.Right {
		mask |= bus.JoypRight
	}
	if btn.Left {
		mask |= bus.JoypLeft
	}
	if btn.Up {
		mask |= bus.JoypUp
	}
	if btn.Down {
		mask |= bus.JoypDown
	}
	if btn.A {
		mask |= bus.JoypA
	}
	if btn.B {
		mask |= bus.JoypB
	}
	if btn.Select {
		mask |= bus.JoypSelectBtn
	}
	if btn.Start {
		mask |= bus.JoypStart
	}
	m.bus.SetJoypadState(mask)
}

// SetSerialWriter routes the cartridge's serial output (used heavily by
// conformance test ROMs) to w.
func (m *Machine) SetSerialWriter(w interface {
	Write(p []byte) (int, error)
}) {
	if m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

// LoadBattery restores battery-backed external RAM from a prior SaveBattery
// dump, if the loaded cartridge supports it. Returns false if there is
// nothing to load into (no cartridge, or not battery-backed).
func (m *Machine) LoadBattery(data []byte) bool {
	if m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// SaveBattery returns a copy of the loaded cartridge's battery-backed RAM.
// Returns false if the cartridge has none.
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	return bb.SaveRAM(), true
}

// CPU exposes the underlying CPU for debuggers and tracers.
func (m *Machine) CPU() *cpu.CPU { return m.cpu }

// Bus exposes the underlying Bus for debuggers and tracers.
func (m *Machine) Bus() *bus.Bus { return m.bus }
