// Package timer implements the DMG DIV/TIMA/TMA/TAC block: a 16-bit free
// running divider, and a TIMA counter that increments on a falling edge of a
// TAC-selected divider bit, reloading from TMA (with a four-cycle delay) on
// overflow.
package timer

import "github.com/coregb/gbcore/internal/irq"

// selectBit maps TAC's low two bits to the divider bit TIMA's increment is
// derived from: 4096, 262144, 65536, 16384 Hz respectively.
var selectBit = [4]uint{9, 3, 5, 7}

// Timer owns the internal divider and TIMA/TMA/TAC registers.
type Timer struct {
	div uint16 // internal 16-bit divider; DIV (0xFF04) is its high byte
	tima byte
	tma  byte
	tac  byte // low 3 bits meaningful: bit2 enable, bits0-1 select

	// reloadDelay counts down from 4 after a TIMA overflow; while positive,
	// TIMA reads as 0x00 and writes to TIMA cancel the pending reload.
	reloadDelay int

	irqc *irq.Controller
}

// New returns a Timer that raises Timer interrupts through irqc.
func New(irqc *irq.Controller) *Timer { return &Timer{irqc: irqc} }

// DIV returns the upper 8 bits of the internal divider.
func (t *Timer) DIV() byte { return byte(t.div >> 8) }

// WriteDIV resets the entire internal divider to 0, regardless of the value
// written. A falling edge on the TAC-selected bit caused by the reset still
// increments TIMA, as on real hardware.
func (t *Timer) WriteDIV(byte) {
	before := t.input()
	t.div = 0
	if before && !t.input() {
		t.incrementTIMA()
	}
}

// TIMA returns the current TIMA value; during the 4-cycle post-overflow
// reload delay this reads as 0x00.
func (t *Timer) TIMA() byte { return t.tima }

// WriteTIMA writes TIMA directly. A write occurring during the pending
// reload delay cancels that reload.
func (t *Timer) WriteTIMA(v byte) {
	t.tima = v
	t.reloadDelay = 0
}

// TMA returns the reload value.
func (t *Timer) TMA() byte { return t.tma }

// WriteTMA sets the reload value. If written during the pending reload
// delay, the new value is what gets loaded into TIMA when the delay expires.
func (t *Timer) WriteTMA(v byte) { t.tma = v }

// TAC returns TAC with its unused upper 5 bits read as 1.
func (t *Timer) TAC() byte { return 0xF8 | (t.tac & 0x07) }

// WriteTAC updates TAC. Changing the enable bit or the selected input bit
// can itself cause a falling edge on the new input, which increments TIMA
// immediately, per hardware quirk.
func (t *Timer) WriteTAC(v byte) {
	before := t.input()
	t.tac = v & 0x07
	if before && !t.input() {
		t.incrementTIMA()
	}
}

// input computes the current timer clock input after TAC gating: the
// TAC-selected divider bit, ANDed with the TAC enable bit.
func (t *Timer) input() bool {
	if t.tac&0x04 == 0 {
		return false
	}
	bit := selectBit[t.tac&0x03]
	return (t.div>>bit)&1 != 0
}

func (t *Timer) incrementTIMA() {
	if t.reloadDelay > 0 {
		return
	}
	if t.tima == 0xFF {
		t.tima = 0x00
		t.reloadDelay = 4
		return
	}
	t.tima++
}

// Tick advances the divider (and TIMA, on falling edges) by one T-cycle.
func (t *Timer) Tick() {
	before := t.input()
	t.div++
	falling := before && !t.input()

	if t.reloadDelay > 0 {
		t.reloadDelay--
		if t.reloadDelay == 0 {
			t.tima = t.tma
			t.irqc.Request(irq.Timer)
		}
	}

	if falling {
		t.incrementTIMA()
	}
}
