package timer

import (
	"testing"

	"github.com/coregb/gbcore/internal/irq"
	"github.com/stretchr/testify/require"
)

func TestDIVReadIsUpperByteOfDivider(t *testing.T) {
	tm := New(irq.New())
	tm.div = 0x1234
	require.Equal(t, byte(0x12), tm.DIV())
}

func TestWriteDIVResetsAndCanFallingEdgeIncrement(t *testing.T) {
	tm := New(irq.New())
	tm.tac = 0x05 // enable + select bit3
	tm.tima = 0x10
	tm.div = 0x0008 // bit3=1 -> input true
	require.True(t, tm.input())

	tm.WriteDIV(0x00)
	require.Equal(t, byte(0x11), tm.tima)
	require.Equal(t, uint16(0), tm.div)
}

func TestWriteTACFallingEdgeIncrement(t *testing.T) {
	tm := New(irq.New())
	tm.tima = 0x20
	tm.div = 0x0008 // bit3=1
	tm.tac = 0x05   // enable + 01 (bit3)
	require.True(t, tm.input())

	tm.WriteTAC(0x06) // enable + 10 (bit5), currently 0 -> falling edge
	require.Equal(t, byte(0x21), tm.tima)
}

func TestEdgesIgnoredDuringPendingReload(t *testing.T) {
	tm := New(irq.New())
	tm.WriteTAC(0x05)
	tm.tma = 0x33
	tm.tima = 0xFF
	tm.div = 0x000F // bit3=1
	tm.Tick()       // overflow, TIMA=00, pending reload
	require.Equal(t, byte(0x00), tm.tima)

	tm.div = 0x0008
	require.True(t, tm.input())
	tm.WriteDIV(0x00)
	require.Equal(t, byte(0x00), tm.tima, "falling edge during pending reload must not increment TIMA")

	for i := 0; i < 4; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(0x33), tm.tima, "reload from TMA should have occurred")
}

func TestOverflowReloadTimingAndCancellation(t *testing.T) {
	irqc := irq.New()
	tm := New(irqc)
	tm.tac = 0x05
	tm.tma = 0xAB
	tm.tima = 0xFF
	tm.div = 0x000F // next tick -> bit3 falls

	tm.Tick()
	require.Equal(t, byte(0x00), tm.tima)

	for i := 0; i < 3; i++ {
		tm.Tick()
		require.Equal(t, byte(0x00), tm.tima, "TIMA must stay 0 during the reload delay")
		require.False(t, irqc.IF()&(1<<2) != 0, "timer IF must not be set before the delay expires")
	}

	tm.Tick()
	require.Equal(t, byte(0xAB), tm.tima)
	require.True(t, irqc.IF()&(1<<2) != 0, "timer IF must be set on reload")

	// Cancellation: writing TIMA during the pending delay prevents the reload.
	irqc.SetIF(0)
	tm.tac = 0x05
	tm.tma = 0x55
	tm.tima = 0xFF
	tm.div = 0x000F
	tm.Tick() // overflow -> TIMA=00, pending reload
	tm.WriteTIMA(0x77)
	for i := 0; i < 8; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(0x77), tm.tima)
	require.False(t, irqc.IF()&(1<<2) != 0, "cancelled reload must not request an interrupt")

	// A TMA write during the pending delay changes what gets reloaded.
	irqc.SetIF(0)
	tm.tac = 0x05
	tm.tima = 0xFF
	tm.tma = 0x11
	tm.div = 0x000F
	tm.Tick()
	tm.WriteTMA(0x22)
	for i := 0; i < 4; i++ {
		tm.Tick()
	}
	require.Equal(t, byte(0x22), tm.tima)
}

func TestTACUnusedBitsReadAsOne(t *testing.T) {
	tm := New(irq.New())
	tm.WriteTAC(0xFD)
	require.Equal(t, byte(0xF8|(0xFD&0x07)), tm.TAC())
}
