package cpu

import (
	"testing"

	"github.com/coregb/gbcore/internal/bus"
	"github.com/stretchr/testify/require"
)

func newCPUWithROM(code []byte) *CPU {
	rom := make([]byte, 0x8000)
	copy(rom, code)
	b := bus.New(rom)
	c := New(b)
	return c
}

func TestCPU_NopAndPC(t *testing.T) {
	c := newCPUWithROM([]byte{0x00}) // NOP
	if cycles := c.Step(); cycles != 4 {
		t.Fatalf("NOP cycles got %d want 4", cycles)
	}
	if c.PC != 1 {
		t.Fatalf("PC after NOP got %#04x want 0x0001", c.PC)
	}
}

func TestCPU_LD_A_d8_And_XOR_A(t *testing.T) {
	c := newCPUWithROM([]byte{0x3E, 0x12, 0xAF}) // LD A,0x12; XOR A
	c.Step()                                     // LD
	if c.A != 0x12 {
		t.Fatalf("A after LD got %02x want 12", c.A)
	}
	c.Step() // XOR A
	if c.A != 0x00 {
		t.Fatalf("A after XOR got %02x want 00", c.A)
	}
	if (c.F & 0x80) == 0 { // Z flag
		t.Fatalf("Z flag not set after XOR A")
	}
}

func TestCPU_LD_a16_A_and_LD_A_a16(t *testing.T) {
	// Program: LD A,0x77; LD (0xC000),A; LD A,0x00; LD A,(0xC000)
	prog := []byte{0x3E, 0x77, 0xEA, 0x00, 0xC0, 0x3E, 0x00, 0xFA, 0x00, 0xC0}
	c := newCPUWithROM(prog)
	c.Step() // LD A,77
	c.Step() // LD (C000),A
	if a := c.bus.Read(0xC000); a != 0x77 {
		t.Fatalf("WRAM at C000 got %02x want 77", a)
	}
	c.Step() // LD A,00
	c.Step() // LD A,(C000)
	if c.A != 0x77 {
		t.Fatalf("A after LD A,(C000) got %02x want 77", c.A)
	}
}

func TestCPU_JP_and_JR(t *testing.T) {
	// JP to 0x0010 then JR -2 to loop
	prog := []byte{0xC3, 0x10, 0x00} // at 0x0000: JP 0x0010
	// Fill until 0x0010 with NOPs
	rom := make([]byte, 0x8000)
	copy(rom, prog)
	for i := 0x0003; i < 0x0010; i++ {
		rom[i] = 0x00
	}
	// at 0x0010: JR -2 (0xFE), which will hop back to 0x0010 itself (infinite)
	rom[0x0010] = 0x18
	rom[0x0011] = 0xFE
	b := bus.New(rom)
	c := New(b)
	cycles := c.Step() // JP
	if cycles != 16 || c.PC != 0x0010 {
		t.Fatalf("JP cycles=%d PC=%#04x want cycles=16 PC=0x0010", cycles, c.PC)
	}
	pcBefore := c.PC
	c.Step()              // JR -2
	if c.PC != pcBefore { // stays at 0x0010
		t.Fatalf("JR -2 PC got %#04x want %#04x", c.PC, pcBefore)
	}
}

func TestCPU_INC_B_Flags(t *testing.T) {
	c := newCPUWithROM([]byte{0x04, 0x04}) // INC B twice
	c.B = 0x0F
	c.F = 0x10 // carry set initially
	c.Step()
	if c.B != 0x10 {
		t.Fatalf("INC B result got %02x want 10", c.B)
	}
	if (c.F & 0x20) == 0 { // H set
		t.Fatalf("INC B should set H flag")
	}
	if (c.F & 0x10) == 0 { // C preserved
		t.Fatalf("INC B should preserve C flag")
	}
	c.B = 0xFF
	c.Step()
	if c.B != 0x00 || (c.F&0x80) == 0 { // Z set
		t.Fatalf("INC B to 0 should set Z flag, B=%02x, F=%02x", c.B, c.F)
	}
}

func TestCPU_LD_16bit_and_LDH(t *testing.T) {
	// Program:
	// LD HL,0xC000; LD (HL),0x5A; LD A,0x00; LD A,(0xFF00+0x00); LD (0xFF00+1),A
	prog := []byte{
		0x21, 0x00, 0xC0, // LD HL, C000
		0x36, 0x5A,       // LD (HL), 5A
		0x3E, 0x00,       // LD A, 00
		0xF0, 0x00,       // LD A, (FF00+0)
		0xE0, 0x01,       // LD (FF00+1), A
	}
	c := newCPUWithROM(prog)
	// Set JOYP (FF00) to a fixed selection and preload HRAM (FF80) with 0xA7 via bus
	c.Bus().Write(0xFF00, 0x20) // select dpad so read is deterministic
	c.Bus().Write(0xFF00, 0x30) // select none to keep 0x0F
	c.Bus().Write(0xFF80, 0xA7) // HRAM base

	c.Step(); c.Step(); c.Step(); c.Step(); c.Step()
	if v := c.Bus().Read(0xC000); v != 0x5A {
		t.Fatalf("WRAM C000 got %02x want 5A", v)
	}
	if v := c.Bus().Read(0xFF01); v != c.A {
		t.Fatalf("LDH (FF00+1),A expected write to FF01 with A=%02x got %02x", c.A, v)
	}
}

func TestCPU_CALL_RET(t *testing.T) {
	// 0000: CALL 0005; NOP; NOP; RET
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xCD
	rom[0x0001] = 0x05
	rom[0x0002] = 0x00
	for i := 0x0003; i < 0x0005; i++ { rom[i] = 0x00 }
	rom[0x0005] = 0xC9 // RET
	b := bus.New(rom)
	c := New(b)
	c.Step() // CALL
	if c.PC != 0x0005 {
		t.Fatalf("PC after CALL got %04x want 0005", c.PC)
	}
	retCycles := c.Step()
	if c.PC != 0x0003 || retCycles != 16 {
		t.Fatalf("RET did not return to 0003; PC=%04x cyc=%d", c.PC, retCycles)
	}
}

// Scenario 2 (spec.md §8): ADD A,A with A=0x88, C=0 -> A=0x10, Z=0,N=0,H=1,C=1, 4 T-cycles.
func TestCPU_Scenario_ADD_A_A_Overflow(t *testing.T) {
	c := newCPUWithROM([]byte{0x87}) // ADD A,A
	c.A = 0x88
	c.F = 0

	cycles := c.Step()

	require.Equal(t, 4, cycles)
	require.Equal(t, byte(0x10), c.A)
	require.Zero(t, c.F&flagZ, "Z should be clear")
	require.Zero(t, c.F&flagN, "N should be clear")
	require.NotZero(t, c.F&flagH, "H should be set")
	require.NotZero(t, c.F&flagC, "C should be set")
	require.Zero(t, c.F&0x0F, "low nibble of F must always read zero")
}

// Scenario 3 (spec.md §8): DAA after ADD A,A with A=0x15+0x27=0x3C yields A=0x42, Z=0, C=0.
func TestCPU_Scenario_DAA_AfterAdd(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0] = 0x80 // ADD A,B
	rom[1] = 0x27 // DAA
	c := newCPUWithROM(rom)
	c.A = 0x15
	c.B = 0x27

	c.Step() // ADD A,B
	require.Equal(t, byte(0x3C), c.A)
	require.Zero(t, c.F&flagN)
	require.Zero(t, c.F&flagH)
	require.Zero(t, c.F&flagC)

	c.Step() // DAA

	require.Equal(t, byte(0x42), c.A)
	require.Zero(t, c.F&flagZ)
	require.Zero(t, c.F&flagC)
	require.Zero(t, c.F&0x0F)
}

// Scenario 4 (spec.md §8): conditional CALL NZ,0x1234 with Z=1 does not branch;
// PC+=3, SP unchanged, 12 T-cycles (the secondary/not-taken cost).
func TestCPU_Scenario_ConditionalCallNotTaken(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0] = 0xC4 // CALL NZ,0x1234
	rom[1] = 0x34
	rom[2] = 0x12
	c := newCPUWithROM(rom)
	c.F = flagZ // Z set -> NZ condition false
	spBefore := c.SP

	cycles := c.Step()

	require.Equal(t, 12, cycles)
	require.Equal(t, uint16(3), c.PC)
	require.Equal(t, spBefore, c.SP)
}

// Scenario 5 (spec.md §8): interrupt dispatch. IE=0x01, IF=0x01, IME=1,
// PC=0x100, SP=0xFFFE -> IME=0, IF=0x00, SP=0xFFFC, (SP),(SP+1)=0x00,0x01,
// PC=0x0040, 20 T-cycles.
func TestCPU_Scenario_InterruptDispatch(t *testing.T) {
	rom := make([]byte, 0x8000)
	b := bus.New(rom)
	c := New(b)
	c.PC = 0x0100
	c.SP = 0xFFFE
	c.IME = true
	c.Bus().Write(0xFFFF, 0x01) // IE: VBlank enabled
	c.Bus().Write(0xFF0F, 0x01) // IF: VBlank requested

	cycles := c.Step()

	require.Equal(t, 20, cycles)
	require.False(t, c.IME)
	require.Equal(t, byte(0xE0), c.Bus().Read(0xFF0F)) // IF cleared (upper 3 bits read as 1)
	require.Equal(t, uint16(0xFFFC), c.SP)
	require.Equal(t, byte(0x00), c.Bus().Read(0xFFFC)) // low byte of return PC
	require.Equal(t, byte(0x01), c.Bus().Read(0xFFFD)) // high byte of return PC
	require.Equal(t, uint16(0x0040), c.PC)
}

// EI's IME-enable is delayed by one full instruction: the instruction
// immediately following EI must still run non-preemptable, and only the
// instruction after that observes IME=true.
func TestCPU_EIDelay(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0] = 0xFB // EI
	rom[1] = 0x00 // NOP (must run with interrupts still masked)
	rom[2] = 0x00 // NOP (not reached: IME is true before this fetch, so the pending interrupt is taken)
	b := bus.New(rom)
	c := New(b)
	c.Bus().Write(0xFFFF, 0x01)
	c.Bus().Write(0xFF0F, 0x01) // interrupt pending throughout

	c.Step() // EI
	require.False(t, c.IME, "IME must not flip on the same Step as EI")

	c.Step() // NOP immediately after EI
	require.False(t, c.IME, "IME must still be false for the instruction right after EI")
	require.Equal(t, uint16(2), c.PC, "the post-EI instruction must not have been preempted")

	c.Step() // first Step where IME is true: the pending VBlank is dispatched (which clears IME again)
	require.Equal(t, uint16(0x0040), c.PC, "with IME now set, the pending VBlank interrupt must be dispatched")
}

// F's low nibble is hardwired to zero; every flag-setting instruction must
// preserve that regardless of which ALU path it goes through.
func TestCPU_Invariant_FlagLowNibbleAlwaysZero(t *testing.T) {
	ops := [][]byte{
		{0x87},       // ADD A,A
		{0x3C},       // INC A
		{0x3D},       // DEC A
		{0xA8},       // XOR B
		{0x27},       // DAA
		{0xCB, 0x37}, // SWAP A
	}
	for _, prog := range ops {
		c := newCPUWithROM(prog)
		c.A, c.B = 0x12, 0x34
		c.Step()
		require.Zero(t, c.F&0x0F, "opcode %v left garbage in F's low nibble: %02x", prog, c.F)
	}
}

// Round-trip law: PUSH r16; POP r16 restores r16 (AF's low nibble always
// reads back zero, which PUSH AF/POP AF must itself enforce).
func TestCPU_RoundTrip_PushPop(t *testing.T) {
	c := newCPUWithROM([]byte{0xC5, 0xC1}) // PUSH BC; POP BC
	c.B, c.C = 0xBE, 0xEF
	c.Step() // PUSH BC
	c.B, c.C = 0x00, 0x00
	c.Step() // POP BC
	require.Equal(t, byte(0xBE), c.B)
	require.Equal(t, byte(0xEF), c.C)
}

// Round-trip law: XOR x; XOR x yields identity with A=0 after the pair.
func TestCPU_RoundTrip_XorXor(t *testing.T) {
	c := newCPUWithROM([]byte{0xAB, 0xAB}) // XOR E; XOR E
	c.A, c.E = 0x5A, 0x5A
	c.Step()
	c.Step()
	require.Equal(t, byte(0x00), c.A)
}

// Round-trip law: SWAP r; SWAP r is identity.
func TestCPU_RoundTrip_SwapSwap(t *testing.T) {
	c := newCPUWithROM([]byte{0xCB, 0x37, 0xCB, 0x37}) // SWAP A; SWAP A
	c.A = 0xA5
	c.Step()
	require.Equal(t, byte(0x5A), c.A)
	c.Step()
	require.Equal(t, byte(0xA5), c.A)
}

// Round-trip law: two consecutive CPL are identity.
func TestCPU_RoundTrip_CplCpl(t *testing.T) {
	c := newCPUWithROM([]byte{0x2F, 0x2F}) // CPL; CPL
	c.A = 0x3C
	c.Step()
	require.Equal(t, byte(0xC3), c.A)
	c.Step()
	require.Equal(t, byte(0x3C), c.A)
}

// Round-trip law: CALL addr; RET returns control to the instruction after
// CALL with SP restored.
func TestCPU_RoundTrip_CallRetRestoresSP(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xCD // CALL 0x0010
	rom[0x0001] = 0x10
	rom[0x0002] = 0x00
	rom[0x0010] = 0xC9 // RET
	b := bus.New(rom)
	c := New(b)
	spBefore := c.SP

	c.Step() // CALL
	require.Equal(t, uint16(0x0010), c.PC)
	require.NotEqual(t, spBefore, c.SP)

	c.Step() // RET
	require.Equal(t, uint16(0x0003), c.PC, "RET must resume at the instruction after CALL")
	require.Equal(t, spBefore, c.SP, "RET must restore SP exactly")
}

