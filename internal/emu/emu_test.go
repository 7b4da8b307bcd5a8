package emu

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// makeROM returns a minimal cartridge image running a tight infinite loop at
// 0x0150 (the header occupies 0x0100-0x014F), long enough for StepFrame to
// exercise the full CPU/bus/PPU pipeline without crashing on illegal opcodes.
func makeROM() []byte {
	rom := make([]byte, 0x8000)
	// JP 0x0150 at the entry point
	rom[0x0100] = 0xC3
	rom[0x0101] = 0x50
	rom[0x0102] = 0x01
	// 0x0150: JP 0x0150 (spin forever)
	rom[0x0150] = 0xC3
	rom[0x0151] = 0x50
	rom[0x0152] = 0x01
	return rom
}

func TestLoadCartridgeAndStepFrameProducesFramebuffer(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(makeROM(), nil))
	m.StepFrame()
	fb := m.Framebuffer()
	require.Len(t, fb, 160*144*4)
}

func TestSetButtonsReachesBusJoypadRegister(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(makeROM(), nil))
	m.Bus().Write(0xFF00, 0x20) // select D-Pad
	m.SetButtons(Buttons{Right: true, Up: true})
	got := m.Bus().Read(0xFF00) & 0x0F
	require.Equal(t, byte(0x0A), got) // Right and Up cleared (active-low)
}

func TestSerialWriterReceivesBytes(t *testing.T) {
	m := New(Config{})
	require.NoError(t, m.LoadCartridge(makeROM(), nil))
	var out bytes.Buffer
	m.SetSerialWriter(&out)
	m.Bus().Write(0xFF01, 'X')
	m.Bus().Write(0xFF02, 0x81)
	require.Equal(t, "X", out.String())
}

func TestBatterySaveLoadRoundTripsThroughMBC3(t *testing.T) {
	// CartType 0x13 (MBC3+RAM+BATTERY), RAM size code 0x03 -> 32 KiB.
	rom := make([]byte, 0x8000)
	rom[0x0147] = 0x13
	rom[0x0149] = 0x03
	copy(rom[0x0134:0x0144], []byte("BATTERYGAME"))

	m := New(Config{})
	require.NoError(t, m.LoadCartridge(rom, nil))

	m.Bus().Write(0x0000, 0x0A) // enable external RAM
	m.Bus().Write(0xA000, 0x42)
	saved, ok := m.SaveBattery()
	require.True(t, ok)
	require.NotEmpty(t, saved)

	require.NoError(t, m.LoadCartridge(rom, nil))
	m.Bus().Write(0x0000, 0x0A)
	require.True(t, m.LoadBattery(saved))
	require.Equal(t, byte(0x42), m.Bus().Read(0xA000))
}

func TestLoadCartridgeRejectsEmptyROM(t *testing.T) {
	m := New(Config{})
	require.Error(t, m.LoadCartridge(nil, nil))
}
